package smali

import (
	"strconv"
	"strings"

	"github.com/thanm/go-edit-a-dex/key"
	"github.com/thanm/go-edit-a-dex/opcode"
)

// ParseClass reads one class from r.
func ParseClass(r *Reader) (*Class, error) {
	c := &Class{}
	if err := c.Parse(r); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseClassString is ParseClass over a string, for snippets and tests.
func ParseClassString(name, text string) (*Class, error) {
	r := NewStringReader(text)
	r.SetName(name)
	return ParseClass(r)
}

// errorAt rewinds to pos so the error points at the start of the bad
// token.
func errorAt(r *Reader, pos int, format string, args ...any) *ParseError {
	r.SetPosition(pos)
	return r.Errorf(format, args...)
}

func readType(r *Reader) (key.TypeKey, error) {
	r.SkipSpaces()
	pos := r.Position()
	tok := r.ReadToken()
	t, err := key.ParseTypeKey(tok)
	if err != nil {
		return key.TypeKey{}, errorAt(r, pos, "invalid type '%s'", tok)
	}
	return t, nil
}

func readInt(r *Reader) (int, error) {
	r.SkipSpaces()
	pos := r.Position()
	tok := r.ReadToken()
	n, err := key.ParseNumber(tok)
	if err != nil || n.PrimitiveKind() != key.PrimInt {
		return 0, errorAt(r, pos, "invalid integer '%s'", tok)
	}
	return int(n.Int()), nil
}

func readLabel(r *Reader) (string, error) {
	r.SkipSpaces()
	pos := r.Position()
	tok := r.ReadToken()
	if len(tok) < 2 || tok[0] != ':' {
		return "", errorAt(r, pos, "invalid label '%s'", tok)
	}
	return tok[1:], nil
}

func expectComma(r *Reader) error {
	r.SkipSpaces()
	if !r.Accept(",") {
		return r.Errorf("expecting ',', found '%s'", r.PeekToken())
	}
	r.SkipSpaces()
	return nil
}

func expectLineEnd(r *Reader) error {
	if !r.AtLineEnd() {
		return r.Errorf("unexpected '%s'", r.PeekToken())
	}
	return nil
}

func (c *Class) Parse(r *Reader) error {
	r.SkipWhitespacesOrComment()
	c.Origin = r.Origin()
	if err := DirClass.expect(r); err != nil {
		return err
	}
	c.Access = parseAccess(r, TargetClass)
	t, err := readType(r)
	if err != nil {
		return err
	}
	c.Type = t
	for {
		r.SkipWhitespacesOrComment()
		if r.Finished() {
			return nil
		}
		switch {
		case DirSuper.Is(r):
			r.Skip(len(DirSuper))
			if c.Super, err = readType(r); err != nil {
				return err
			}
		case DirSource.Is(r):
			r.Skip(len(DirSource))
			r.SkipSpaces()
			pos := r.Position()
			q, err := r.ReadQuoted()
			if err != nil {
				return err
			}
			if c.Source, err = key.Unquote(q); err != nil {
				return errorAt(r, pos, "invalid source name %s", q)
			}
		case DirImplements.Is(r):
			r.Skip(len(DirImplements))
			t, err := readType(r)
			if err != nil {
				return err
			}
			c.Interfaces = append(c.Interfaces, t)
		case DirField.Is(r):
			f := &Field{Key: key.FieldKey{Declaring: c.Type}}
			if err := f.Parse(r); err != nil {
				return err
			}
			c.Fields = append(c.Fields, f)
		case DirMethod.Is(r):
			m := &Method{Key: key.MethodKey{Declaring: c.Type}}
			if err := m.Parse(r); err != nil {
				return err
			}
			c.Methods = append(c.Methods, m)
		case DirAnnotation.Is(r):
			if err := skipAnnotation(r); err != nil {
				return err
			}
		default:
			return r.Errorf("unexpected '%s'", r.PeekToken())
		}
		if err := expectLineEnd(r); err != nil {
			return err
		}
	}
}

// Parse reads a .field line; Key.Declaring must already be set.
func (f *Field) Parse(r *Reader) error {
	r.SkipWhitespacesOrComment()
	f.Origin = r.Origin()
	if err := DirField.expect(r); err != nil {
		return err
	}
	f.Access = parseAccess(r, TargetField)
	r.SkipSpaces()
	pos := r.Position()
	tok := r.ReadToken()
	name, typ, ok := strings.Cut(tok, ":")
	if !ok || name == "" {
		return errorAt(r, pos, "invalid field '%s'", tok)
	}
	t, err := key.ParseTypeKey(typ)
	if err != nil {
		return errorAt(r, pos, "invalid field type '%s'", typ)
	}
	f.Key.Name, f.Key.Type = name, t

	r.SkipSpaces()
	if r.Accept("=") {
		r.SkipSpaces()
		v, err := parseValue(r, t)
		if err != nil {
			return err
		}
		f.Initial = v
	}
	if err := expectLineEnd(r); err != nil {
		return err
	}

	// an optional annotation block closed by .end field
	pos = r.Position()
	r.SkipWhitespacesOrComment()
	annotated := false
	for DirAnnotation.Is(r) {
		annotated = true
		if err := skipAnnotation(r); err != nil {
			return err
		}
		r.SkipWhitespacesOrComment()
	}
	if DirField.IsEnd(r) {
		r.Skip(len(DirField.End()))
		return nil
	}
	if annotated {
		return r.Errorf("expecting '%s', found '%s'", DirField.End(), r.PeekToken())
	}
	r.SetPosition(pos)
	return nil
}

// parseValue reads an encoded value literal for a field of type t.
func parseValue(r *Reader, t key.TypeKey) (key.Key, error) {
	pos := r.Position()
	if r.Accept(".enum") {
		r.SkipSpaces()
		tok := r.ReadToken()
		fk, err := key.ParseFieldKey(tok)
		if err != nil {
			return nil, errorAt(r, pos, "invalid enum value '%s'", tok)
		}
		return fk, nil
	}
	text, err := r.ReadLiteral()
	if err != nil {
		return nil, err
	}
	var v key.Key
	switch {
	case text == "null":
		if t.IsPrimitive() {
			return nil, errorAt(r, pos, "null value for %s", t.SourceName())
		}
		v = key.NullKey{}
	case text[0] == '"':
		v, err = key.ParseStringKey(text)
	case strings.Contains(text, "->") && strings.Contains(text, "("):
		v, err = key.ParseMethodKey(text)
	case strings.Contains(text, "->"):
		v, err = key.ParseFieldKey(text)
	case t.IsPrimitive():
		var p key.PrimitiveKey
		if p, err = key.ParsePrimitive(text); err == nil {
			v, err = Coerce(p, t)
		}
	case text[0] == 'L' || text[0] == '[':
		v, err = key.ParseTypeKey(text)
	case t.IsReference() && text != "true" && text != "false" && !isNumberStart(text[0]) && text[0] != '\'':
		return nil, errorAt(r, pos, "invalid value '%s'", text)
	default:
		v, err = key.ParsePrimitive(text)
	}
	if err != nil {
		return nil, errorAt(r, pos, "invalid value '%s' for %s", text, t.SourceName())
	}
	return v, nil
}

func isNumberStart(c byte) bool {
	return c == '-' || c == '+' || (c >= '0' && c <= '9') || c == 'I' || c == 'N'
}

// Coerce converts a parsed literal to the primitive type t.
func Coerce(p key.PrimitiveKey, t key.TypeKey) (key.PrimitiveKey, error) {
	kind := p.PrimitiveKind()
	integral := kind != key.PrimFloat && kind != key.PrimDouble && kind != key.PrimBoolean
	switch {
	case t == key.TypeZ && kind == key.PrimBoolean:
		return p, nil
	case t == key.TypeF && kind == key.PrimFloat, t == key.TypeD && kind == key.PrimDouble:
		return p, nil
	case t == key.TypeF && kind == key.PrimDouble:
		return key.Float(float32(p.Double())), nil
	case t == key.TypeD && kind == key.PrimFloat:
		return key.Double(float64(p.Float())), nil
	case !integral:
		return key.PrimitiveKey{}, key.ErrSyntax
	}
	switch t {
	case key.TypeI:
		return key.Int(int32(p.Long())), nil
	case key.TypeJ:
		return key.Long(p.Long()), nil
	case key.TypeB:
		return key.Byte(int8(p.Long())), nil
	case key.TypeS:
		return key.Short(int16(p.Long())), nil
	case key.TypeC:
		return key.Char(uint16(p.Long())), nil
	}
	return key.PrimitiveKey{}, key.ErrSyntax
}

// Parse reads a method up to and including .end method; Key.Declaring
// must already be set.
func (m *Method) Parse(r *Reader) error {
	r.SkipWhitespacesOrComment()
	m.Origin = r.Origin()
	if err := DirMethod.expect(r); err != nil {
		return err
	}
	m.Access = parseAccess(r, TargetMethod)
	r.SkipSpaces()
	pos := r.Position()
	tok := r.ReadToken()
	paren := strings.IndexByte(tok, '(')
	if paren <= 0 {
		return errorAt(r, pos, "invalid method '%s'", tok)
	}
	proto, err := key.ParseProtoKey(tok[paren:])
	if err != nil {
		return errorAt(r, pos, "invalid method prototype '%s'", tok[paren:])
	}
	m.Key.Name, m.Key.Proto = tok[:paren], proto
	if err := expectLineEnd(r); err != nil {
		return err
	}

	code := &Code{ParamRegisters: m.ParamRegisters()}
	hasCode, err := code.Parse(r)
	if err != nil {
		return err
	}
	if hasCode {
		m.Code = code
	}
	return DirMethod.expectEnd(r)
}

// Parse reads body elements until .end method, which it leaves in place.
// It reports whether any code (a register directive or an element) was
// seen.
func (c *Code) Parse(r *Reader) (bool, error) {
	seen := false
	for {
		r.SkipWhitespacesOrComment()
		if r.Finished() {
			return seen, r.Errorf("missing '%s'", DirMethod.End())
		}
		var e Element
		var err error
		switch {
		case DirMethod.IsEnd(r):
			return seen, nil
		case DirRegisters.Is(r):
			r.Skip(len(DirRegisters))
			c.Registers, err = readInt(r)
			c.UseLocals = false
		case DirLocals.Is(r):
			r.Skip(len(DirLocals))
			var n int
			n, err = readInt(r)
			c.Registers, c.UseLocals = n+c.ParamRegisters, true
		case DirCatch.Is(r), DirCatchAll.Is(r):
			ct := &Catch{}
			err, e = ct.Parse(r), ct
		case DirPackedSwitch.Is(r):
			p := &PackedSwitch{}
			err, e = p.Parse(r), p
		case DirSparseSwitch.Is(r):
			s := &SparseSwitch{}
			err, e = s.Parse(r), s
		case DirArrayData.Is(r):
			a := &ArrayData{}
			err, e = a.Parse(r), a
		case DirAnnotation.Is(r):
			err = skipAnnotation(r)
		case atLineDirective(r):
			r.SkipLine()
			continue
		case r.Peek() == ':':
			l := &Label{}
			err, e = l.Parse(r), l
		case r.Peek() == '.':
			return seen, r.Errorf("unknown directive '%s'", r.PeekToken())
		default:
			in := &Instruction{}
			err, e = in.Parse(r), in
		}
		if err != nil {
			return seen, err
		}
		if err := expectLineEnd(r); err != nil {
			return seen, err
		}
		seen = true
		if e != nil {
			c.Add(e)
		}
	}
}

func (l *Label) Parse(r *Reader) error {
	l.Origin = r.Origin()
	name, err := readLabel(r)
	l.Name = name
	return err
}

func readRegister(r *Reader) (Register, error) {
	r.SkipSpaces()
	pos := r.Position()
	tok := r.ReadToken()
	return parseRegister(r, pos, tok)
}

func parseRegister(r *Reader, pos int, tok string) (Register, error) {
	if len(tok) < 2 || (tok[0] != 'v' && tok[0] != 'p') {
		return Register{}, errorAt(r, pos, "invalid register '%s'", tok)
	}
	n, err := strconv.ParseUint(tok[1:], 10, 16)
	if err != nil {
		return Register{}, errorAt(r, pos, "invalid register '%s'", tok)
	}
	return Register{Num: int(n), Param: tok[0] == 'p'}, nil
}

// readRegisterList reads {v0, v1} or, for ranges, {v0 .. v3}.
func readRegisterList(r *Reader, isRange bool) ([]Register, error) {
	if !r.Accept("{") {
		return nil, r.Errorf("expecting '{', found '%s'", r.PeekToken())
	}
	r.SkipSpaces()
	if r.Accept("}") {
		return nil, nil
	}
	var regs []Register
	if isRange {
		pos := r.Position()
		tok := r.ReadToken()
		firstTok, lastTok, joined := strings.Cut(tok, "..")
		if !joined {
			r.SkipSpaces()
			if err := r.Expect(".."); err != nil {
				return nil, err
			}
			r.SkipSpaces()
			lastTok = r.ReadToken()
		}
		first, err := parseRegister(r, pos, firstTok)
		if err != nil {
			return nil, err
		}
		last, err := parseRegister(r, pos, lastTok)
		if err != nil {
			return nil, err
		}
		if first.Param != last.Param || last.Num < first.Num {
			return nil, errorAt(r, pos, "invalid register range")
		}
		for n := first.Num; n <= last.Num; n++ {
			regs = append(regs, Register{Num: n, Param: first.Param})
		}
		r.SkipSpaces()
		if !r.Accept("}") {
			return nil, r.Errorf("expecting '}', found '%s'", r.PeekToken())
		}
		return regs, nil
	}
	for {
		reg, err := readRegister(r)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
		r.SkipSpaces()
		if r.Accept("}") {
			return regs, nil
		}
		if !r.Accept(",") {
			return nil, r.Errorf("expecting ',' or '}', found '%s'", r.PeekToken())
		}
		r.SkipSpaces()
	}
}

func readRef(r *Reader, kind key.Kind) (key.Key, error) {
	r.SkipSpaces()
	pos := r.Position()
	var text string
	var err error
	if kind == key.KindString && r.Peek() == '"' {
		text, err = r.ReadQuoted()
		if err != nil {
			return nil, err
		}
	} else {
		text = r.ReadToken()
	}
	k, err := key.ParseRef(kind, text)
	if err != nil {
		return nil, errorAt(r, pos, "invalid %s '%s'", kind, text)
	}
	return k, nil
}

func readLiteral(r *Reader) (key.PrimitiveKey, error) {
	r.SkipSpaces()
	pos := r.Position()
	text, err := r.ReadLiteral()
	if err != nil {
		return key.PrimitiveKey{}, err
	}
	p, err := key.ParsePrimitive(text)
	if err != nil {
		return key.PrimitiveKey{}, errorAt(r, pos, "invalid literal '%s'", text)
	}
	return p, nil
}

func (in *Instruction) Parse(r *Reader) error {
	in.Origin = r.Origin()
	pos := r.Position()
	name := r.ReadToken()
	op, ok := opcode.ByName(name)
	if !ok || op.IsPayload() {
		return errorAt(r, pos, "unknown instruction '%s'", name)
	}
	in.Opcode = op
	f := op.Format
	r.SkipSpaces()

	if f.IsVariadic() {
		regs, err := readRegisterList(r, f.IsRange())
		if err != nil {
			return err
		}
		in.Registers = regs
		if err := expectComma(r); err != nil {
			return err
		}
		kind, _ := op.Section()
		if in.Ref, err = readRef(r, kind); err != nil {
			return err
		}
		if kind2, ok := op.Section2(); ok {
			if err := expectComma(r); err != nil {
				return err
			}
			if in.Ref2, err = readRef(r, kind2); err != nil {
				return err
			}
		}
		return nil
	}

	n := f.MaxRegisters()
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := expectComma(r); err != nil {
				return err
			}
		}
		reg, err := readRegister(r)
		if err != nil {
			return err
		}
		in.Registers = append(in.Registers, reg)
	}
	var err error
	switch f {
	case opcode.Format10t, opcode.Format20t, opcode.Format30t,
		opcode.Format21t, opcode.Format22t, opcode.Format31t:
		if n > 0 {
			if err := expectComma(r); err != nil {
				return err
			}
		}
		in.Label, err = readLabel(r)
	case opcode.Format11n, opcode.Format21s, opcode.Format21h,
		opcode.Format31i, opcode.Format51l, opcode.Format22b, opcode.Format22s:
		if err := expectComma(r); err != nil {
			return err
		}
		in.Literal, err = readLiteral(r)
	case opcode.Format21c, opcode.Format22c, opcode.Format31c:
		if err := expectComma(r); err != nil {
			return err
		}
		kind, _ := op.Section()
		in.Ref, err = readRef(r, kind)
	}
	return err
}

func (p *PackedSwitch) Parse(r *Reader) error {
	p.Origin = r.Origin()
	if err := DirPackedSwitch.expect(r); err != nil {
		return err
	}
	first, err := readLiteral(r)
	if err != nil {
		return err
	}
	p.FirstKey = first.Int()
	for {
		r.SkipWhitespacesOrComment()
		if DirPackedSwitch.IsEnd(r) || r.Finished() || r.Peek() != ':' {
			break
		}
		l, err := readLabel(r)
		if err != nil {
			return err
		}
		p.Targets = append(p.Targets, l)
	}
	return DirPackedSwitch.expectEnd(r)
}

func (s *SparseSwitch) Parse(r *Reader) error {
	s.Origin = r.Origin()
	if err := DirSparseSwitch.expect(r); err != nil {
		return err
	}
	for {
		r.SkipWhitespacesOrComment()
		if DirSparseSwitch.IsEnd(r) || r.Finished() {
			break
		}
		k, err := readLiteral(r)
		if err != nil {
			return err
		}
		r.SkipSpaces()
		if err := r.Expect("->"); err != nil {
			return err
		}
		l, err := readLabel(r)
		if err != nil {
			return err
		}
		s.Keys = append(s.Keys, k.Int())
		s.Targets = append(s.Targets, l)
	}
	return DirSparseSwitch.expectEnd(r)
}

func (a *ArrayData) Parse(r *Reader) error {
	a.Origin = r.Origin()
	if err := DirArrayData.expect(r); err != nil {
		return err
	}
	r.SkipSpaces()
	pos := r.Position()
	width, err := readInt(r)
	if err != nil {
		return err
	}
	switch width {
	case 1, 2, 4, 8:
	default:
		return errorAt(r, pos, "invalid array element width %d", width)
	}
	a.Width = width
	for {
		r.SkipWhitespacesOrComment()
		if DirArrayData.IsEnd(r) || r.Finished() {
			break
		}
		v, err := readLiteral(r)
		if err != nil {
			return err
		}
		a.Values = append(a.Values, v.Long())
	}
	return DirArrayData.expectEnd(r)
}

func (c *Catch) Parse(r *Reader) error {
	c.Origin = r.Origin()
	if DirCatchAll.Is(r) {
		r.Skip(len(DirCatchAll))
		c.Type = key.TypeKey{}
	} else {
		if err := DirCatch.expect(r); err != nil {
			return err
		}
		t, err := readType(r)
		if err != nil {
			return err
		}
		c.Type = t
	}
	r.SkipSpaces()
	if !r.Accept("{") {
		return r.Errorf("expecting '{', found '%s'", r.PeekToken())
	}
	var err error
	if c.Start, err = readLabel(r); err != nil {
		return err
	}
	r.SkipSpaces()
	if err := r.Expect(".."); err != nil {
		return err
	}
	if c.End, err = readLabel(r); err != nil {
		return err
	}
	r.SkipSpaces()
	if !r.Accept("}") {
		return r.Errorf("expecting '}', found '%s'", r.PeekToken())
	}
	c.Handler, err = readLabel(r)
	return err
}
