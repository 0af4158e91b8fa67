package ins

import (
	"fmt"
	"math"
	"strings"

	"github.com/thanm/go-edit-a-dex/key"
	"github.com/thanm/go-edit-a-dex/opcode"
	"github.com/thanm/go-edit-a-dex/smali"
)

// ToSmali appends the list to code. Labels are generated from the branch
// and switch references; extra adds more by address, such as try block
// bounds, ahead of the generated ones.
func (l *List) ToSmali(code *smali.Code, extra map[int][]string) error {
	for _, it := range l.items {
		for _, lb := range l.labelsAt(it.Address(), l.handles[it], extra) {
			code.Add(lb)
		}
		if in, ok := it.(*Ins); ok && in.isPadding() {
			continue
		}
		e, err := l.element(it, code)
		if err != nil {
			return err
		}
		code.Add(e)
	}
	for _, lb := range l.labelsAt(l.units, EndHandle, extra) {
		code.Add(lb)
	}
	return nil
}

func (l *List) labelsAt(addr int, h Handle, extra map[int][]string) []*smali.Label {
	var out []*smali.Label
	byName := make(map[string]*smali.Label)
	add := func(name string) *smali.Label {
		if lb, ok := byName[name]; ok {
			return lb
		}
		lb := &smali.Label{Name: name}
		byName[name] = lb
		out = append(out, lb)
		return lb
	}
	for _, name := range extra[addr] {
		add(name)
	}
	if h == EndHandle {
		return out
	}
	for _, e := range l.extras[h] {
		lb := add(e.Kind.Name(addr))
		if e.isCase() {
			if lb.Comment == "" {
				lb.Comment = "case " + key.Int(e.Key).String()
			} else {
				lb.Comment += ", " + key.Int(e.Key).String()
			}
		}
	}
	return out
}

func (l *List) targetLabel(kind LabelKind, h Handle) (string, error) {
	to, ok := l.AddressOf(h)
	if !ok || h == EndHandle {
		return "", ErrNoTarget
	}
	return kind.Name(to), nil
}

func (l *List) element(it Instruction, code *smali.Code) (smali.Element, error) {
	if p, ok := it.(switchPayload); ok && p.owner() < 0 {
		return nil, fmt.Errorf("%s at 0x%x: no switch refers to it: %w", p.Opcode(), p.Address(), ErrNoTarget)
	}
	switch it := it.(type) {
	case *Ins:
		return l.instruction(it, code)
	case *PackedSwitchData:
		e := &smali.PackedSwitch{FirstKey: it.FirstKey()}
		for i, t := range it.targetList() {
			name, err := l.targetLabel(LabelPackedSwitch, t.handle)
			if err != nil {
				return nil, fmt.Errorf("packed-switch case %d: %w", i, err)
			}
			e.Targets = append(e.Targets, name)
		}
		return e, nil
	case *SparseSwitchData:
		e := &smali.SparseSwitch{Keys: it.Keys()}
		for i, t := range it.targetList() {
			name, err := l.targetLabel(LabelSparseSwitch, t.handle)
			if err != nil {
				return nil, fmt.Errorf("sparse-switch case %d: %w", i, err)
			}
			e.Targets = append(e.Targets, name)
		}
		return e, nil
	case *FillArrayData:
		return &smali.ArrayData{Width: it.Width(), Values: it.Values()}, nil
	}
	return nil, fmt.Errorf("ins: unexpected %T", it)
}

func (l *List) instruction(in *Ins, code *smali.Code) (*smali.Instruction, error) {
	e := &smali.Instruction{Opcode: in.op}
	for _, v := range in.Registers() {
		e.Registers = append(e.Registers, code.RegisterFor(v))
	}
	switch {
	case in.op.Is(opcode.Branch | opcode.PayloadRef):
		name, err := l.targetLabel(branchLabel(in), in.target)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", in, err)
		}
		e.Label = name
	case in.HasData():
		e.Literal = key.Literal(in.Data(), in.op.IsWideRegister(0))
	}
	e.Ref = in.Key(l.pool)
	e.Ref2 = in.Key2(l.pool)
	return e, nil
}

// literalValue converts a text literal to the bits a const stores.
func literalValue(p key.PrimitiveKey, wide bool) int64 {
	switch p.PrimitiveKind() {
	case key.PrimFloat:
		if wide {
			return int64(math.Float64bits(float64(p.Float())))
		}
		return int64(int32(p.Bits()))
	case key.PrimDouble:
		if !wide {
			return int64(int32(math.Float32bits(float32(p.Double()))))
		}
	}
	return p.Long()
}

func errorAt(o smali.Origin, err error) error {
	return fmt.Errorf("%v: %w", o, err)
}

func (l *List) fromInstruction(e *smali.Instruction, code *smali.Code) (*Ins, error) {
	in := New(e.Opcode)
	f := e.Opcode.Format
	if f.IsVariadic() {
		if err := in.SetRegistersCount(len(e.Registers)); err != nil {
			return nil, errorAt(e.Origin, err)
		}
	}
	for i, r := range e.Registers {
		v := code.Resolve(r)
		if f.IsRange() && i > 0 {
			if v != in.Register(0)+i {
				return nil, &smali.ParseError{Origin: e.Origin, Msg: fmt.Sprintf("register %s breaks the range", r)}
			}
			continue
		}
		if err := in.SetRegister(i, v); err != nil {
			return nil, errorAt(e.Origin, err)
		}
	}
	if in.HasData() && !in.op.Is(opcode.Branch|opcode.PayloadRef) {
		if err := in.SetData(literalValue(e.Literal, in.op.IsWideRegister(0))); err != nil {
			return nil, errorAt(e.Origin, err)
		}
	}
	if in.HasIndex() {
		if err := in.SetKey(l.pool, e.Ref); err != nil {
			return nil, errorAt(e.Origin, err)
		}
	}
	if _, ok := in.op.Section2(); ok {
		if err := in.SetKey2(l.pool, e.Ref2); err != nil {
			return nil, errorAt(e.Origin, err)
		}
	}
	return in, nil
}

// FromSmali appends the instructions and payloads of code and resolves
// their label references, in whatever order labels and uses appear.
// Other elements, .catch lines in particular, are left to the caller,
// who gets the label handles back. A label with no instruction after it
// maps to EndHandle.
func (l *List) FromSmali(code *smali.Code) (map[string]Handle, error) {
	l.Link()
	defer l.Unlink()

	type pendingRef struct {
		in Instruction
		e  smali.Element
	}
	labels := make(map[string]Handle)
	declared := make(map[string]bool)
	var pending []string
	var refs []pendingRef
	for _, e := range code.Elements {
		var it Instruction
		switch e := e.(type) {
		case *smali.Label:
			if declared[e.Name] {
				return nil, &smali.ParseError{Origin: e.Origin, Msg: fmt.Sprintf("duplicate label ':%s'", e.Name)}
			}
			declared[e.Name] = true
			pending = append(pending, e.Name)
			continue
		case *smali.Instruction:
			in, err := l.fromInstruction(e, code)
			if err != nil {
				return nil, err
			}
			it = in
		case *smali.PackedSwitch:
			p := NewPackedSwitchData()
			p.SetFirstKey(e.FirstKey)
			p.SetSize(len(e.Targets))
			it = p
		case *smali.SparseSwitch:
			s := NewSparseSwitchData()
			for _, k := range e.Keys {
				s.Add(k, NoHandle)
			}
			it = s
		case *smali.ArrayData:
			a := NewFillArrayData()
			if err := a.SetValues(e.Width, e.Values); err != nil {
				return nil, errorAt(e.Origin, err)
			}
			it = a
		default:
			continue
		}
		h := l.Add(it)
		for _, name := range pending {
			labels[name] = h
		}
		pending = pending[:0]
		refs = append(refs, pendingRef{it, e})
	}
	for _, name := range pending {
		labels[name] = EndHandle
	}

	lookup := func(o smali.Origin, name string) (Handle, error) {
		h, ok := labels[name]
		if !ok {
			return NoHandle, &smali.ParseError{
				Origin: o,
				Msg:    fmt.Sprintf("unknown label ':%s'", name),
				Err:    &key.UnresolvedError{What: "label", Ref: ":" + name},
			}
		}
		return h, nil
	}
	for _, ref := range refs {
		var err error
		switch e := ref.e.(type) {
		case *smali.Instruction:
			if e.Label != "" {
				ref.in.(*Ins).target, err = lookup(e.Origin, e.Label)
			}
		case *smali.PackedSwitch:
			err = resolveCases(ref.in.(*PackedSwitchData).targetList(), e.Targets, e.Origin, lookup)
		case *smali.SparseSwitch:
			err = resolveCases(ref.in.(*SparseSwitchData).targetList(), e.Targets, e.Origin, lookup)
		}
		if err != nil {
			return nil, err
		}
	}
	return labels, nil
}

func resolveCases(targets []*Target, names []string, o smali.Origin, lookup func(smali.Origin, string) (Handle, error)) error {
	for i, name := range names {
		h, err := lookup(o, name)
		if err != nil {
			return err
		}
		targets[i].handle = h
	}
	return nil
}

// ToSparse swaps a packed table for the equivalent sparse one and turns
// its packed-switch into a sparse-switch.
func (l *List) ToSparse(p *PackedSwitchData) (*SparseSwitchData, error) {
	s := p.ToSparse()
	if err := l.swapSwitch(p, s, "sparse-switch"); err != nil {
		return nil, err
	}
	return s, nil
}

// ToPacked is the inverse of ToSparse. It fails with ErrNotSequential
// unless the keys are consecutive.
func (l *List) ToPacked(s *SparseSwitchData) (*PackedSwitchData, error) {
	p, err := s.ToPacked()
	if err != nil {
		return nil, err
	}
	if err := l.swapSwitch(s, p, "packed-switch"); err != nil {
		return nil, err
	}
	return p, nil
}

func (l *List) swapSwitch(old, repl switchPayload, name string) error {
	l.Link()
	defer l.Unlink()
	if err := l.Replace(old, repl); err != nil {
		return err
	}
	if sw, ok := l.Get(repl.owner()).(*Ins); ok {
		op, _ := opcode.ByName(name)
		return sw.SetOpcode(op)
	}
	return nil
}

// String renders the list as smali for diagnostics. Registers print as
// v-numbers.
func (l *List) String() string {
	code := &smali.Code{}
	if err := l.ToSmali(code, nil); err != nil {
		return "<" + err.Error() + ">"
	}
	var b strings.Builder
	w := smali.NewWriter(&b)
	w.SetIndentStep(0)
	for _, e := range code.Elements {
		e.Append(w)
	}
	w.Flush()
	return b.String()
}
