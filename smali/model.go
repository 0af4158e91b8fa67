package smali

import (
	"fmt"
	"strings"

	"github.com/thanm/go-edit-a-dex/key"
	"github.com/thanm/go-edit-a-dex/opcode"
)

// Class is one .class file.
type Class struct {
	Origin     Origin
	Access     Access
	Type       key.TypeKey
	Super      key.TypeKey
	Source     string
	Interfaces []key.TypeKey
	Fields     []*Field
	Methods    []*Method
}

type Field struct {
	Origin Origin
	Access Access
	Key    key.FieldKey
	// Initial is the static initial value, or nil.
	Initial key.Key
}

func (f *Field) IsStatic() bool { return f.Access.Has(0x8) }

type Method struct {
	Origin Origin
	Access Access
	Key    key.MethodKey
	// Code is nil for abstract and native methods.
	Code *Code
}

func (m *Method) IsStatic() bool { return m.Access.Has(0x8) }

// ParamRegisters counts the registers holding incoming arguments,
// including the implicit "this" of instance methods.
func (m *Method) ParamRegisters() int {
	n := m.Key.Proto.ParameterRegisters()
	if !m.IsStatic() {
		n++
	}
	return n
}

// Code is a method body. Registers always holds the total register count;
// UseLocals selects whether it is written as .locals (total minus the
// parameter registers) or .registers.
type Code struct {
	Registers      int
	ParamRegisters int
	UseLocals      bool
	Elements       []Element
}

// Locals is the register count not taken by parameters.
func (c *Code) Locals() int { return c.Registers - c.ParamRegisters }

// Resolve maps a register operand to its absolute v-number.
func (c *Code) Resolve(r Register) int {
	if r.Param {
		return c.Locals() + r.Num
	}
	return r.Num
}

// RegisterFor is the inverse of Resolve, preferring p-names for
// parameter registers.
func (c *Code) RegisterFor(v int) Register {
	if c.ParamRegisters > 0 && v >= c.Locals() {
		return Register{Num: v - c.Locals(), Param: true}
	}
	return Register{Num: v}
}

func (c *Code) Add(e Element) { c.Elements = append(c.Elements, e) }

// Element is one line-level item of a method body.
type Element interface {
	Pos() Origin
	Append(w *Writer)
}

type Register struct {
	Num   int
	Param bool
}

func (r Register) String() string {
	if r.Param {
		return fmt.Sprintf("p%d", r.Num)
	}
	return fmt.Sprintf("v%d", r.Num)
}

type Label struct {
	Origin  Origin
	Name    string
	Comment string
}

func (l *Label) Pos() Origin { return l.Origin }

func (l *Label) Append(w *Writer) {
	w.Append(":" + l.Name)
	w.AppendComment(l.Comment)
	w.Newline()
}

// Instruction is one opcode line. Which operand fields are meaningful
// depends on Opcode.Format.
type Instruction struct {
	Origin    Origin
	Opcode    *opcode.Opcode
	Registers []Register
	// Label is the branch or payload target name, without the colon.
	Label   string
	Literal key.PrimitiveKey
	Ref     key.Key
	Ref2    key.Key
	Comment string
}

func (in *Instruction) Pos() Origin { return in.Origin }

func (in *Instruction) Append(w *Writer) {
	w.Append(in.Opcode.Name)
	ops := in.operands()
	if len(ops) > 0 {
		w.AppendSpaced(strings.Join(ops, ", "))
	}
	w.AppendComment(in.Comment)
	w.Newline()
}

func (in *Instruction) registerList() string {
	if len(in.Registers) == 0 {
		return "{}"
	}
	if in.Opcode.Format.IsRange() {
		return fmt.Sprintf("{%s .. %s}", in.Registers[0], in.Registers[len(in.Registers)-1])
	}
	regs := make([]string, len(in.Registers))
	for i, r := range in.Registers {
		regs[i] = r.String()
	}
	return "{" + strings.Join(regs, ", ") + "}"
}

func refString(k key.Key) string {
	if k == nil {
		return "null"
	}
	return k.String()
}

func (in *Instruction) operands() []string {
	var ops []string
	f := in.Opcode.Format
	if f.IsVariadic() {
		ops = append(ops, in.registerList(), refString(in.Ref))
		if f == opcode.Format45cc || f == opcode.Format4rcc {
			ops = append(ops, refString(in.Ref2))
		}
		return ops
	}
	for _, r := range in.Registers {
		ops = append(ops, r.String())
	}
	switch f {
	case opcode.Format10t, opcode.Format20t, opcode.Format30t,
		opcode.Format21t, opcode.Format22t, opcode.Format31t:
		ops = append(ops, ":"+in.Label)
	case opcode.Format11n, opcode.Format21s, opcode.Format21h,
		opcode.Format31i, opcode.Format51l, opcode.Format22b, opcode.Format22s:
		ops = append(ops, in.Literal.String())
	case opcode.Format21c, opcode.Format22c, opcode.Format31c:
		ops = append(ops, refString(in.Ref))
	}
	return ops
}

type PackedSwitch struct {
	Origin   Origin
	FirstKey int32
	Targets  []string
}

func (p *PackedSwitch) Pos() Origin { return p.Origin }

func (p *PackedSwitch) Append(w *Writer) {
	w.Directive(DirPackedSwitch, key.Int(p.FirstKey).String())
	w.Newline()
	w.IndentPlus()
	for _, t := range p.Targets {
		w.Line(":" + t)
	}
	w.IndentMinus()
	w.End(DirPackedSwitch)
}

type SparseSwitch struct {
	Origin  Origin
	Keys    []int32
	Targets []string
}

func (s *SparseSwitch) Pos() Origin { return s.Origin }

func (s *SparseSwitch) Append(w *Writer) {
	w.Append(string(DirSparseSwitch))
	w.Newline()
	w.IndentPlus()
	for i, k := range s.Keys {
		w.Line(key.Int(k).String() + " -> :" + s.Targets[i])
	}
	w.IndentMinus()
	w.End(DirSparseSwitch)
}

// ArrayData is a fill-array-data payload. Values hold the raw element
// bits, sign extended.
type ArrayData struct {
	Origin Origin
	Width  int
	Values []int64
}

func (a *ArrayData) Pos() Origin { return a.Origin }

func (a *ArrayData) element(v int64) string {
	switch a.Width {
	case 1:
		return key.Byte(int8(v)).String()
	case 2:
		return key.Short(int16(v)).String()
	case 8:
		return key.Long(v).String()
	}
	return key.Int(int32(v)).String()
}

func (a *ArrayData) Append(w *Writer) {
	w.Directive(DirArrayData, fmt.Sprint(a.Width))
	w.Newline()
	w.IndentPlus()
	for _, v := range a.Values {
		w.Line(a.element(v))
	}
	w.IndentMinus()
	w.End(DirArrayData)
}

// Catch is a .catch or, with a zero Type, a .catchall line.
type Catch struct {
	Origin  Origin
	Type    key.TypeKey
	Start   string
	End     string
	Handler string
}

func (c *Catch) Pos() Origin      { return c.Origin }
func (c *Catch) IsCatchAll() bool { return c.Type.IsZero() }

func (c *Catch) Append(w *Writer) {
	span := fmt.Sprintf("{:%s .. :%s}", c.Start, c.End)
	if c.IsCatchAll() {
		w.Directive(DirCatchAll, span, ":"+c.Handler)
	} else {
		w.Directive(DirCatch, c.Type.TypeName(), span, ":"+c.Handler)
	}
	w.Newline()
}

func (c *Code) Append(w *Writer) {
	if c.UseLocals {
		w.Directive(DirLocals, fmt.Sprint(c.Locals()))
	} else {
		w.Directive(DirRegisters, fmt.Sprint(c.Registers))
	}
	w.Newline()
	for _, e := range c.Elements {
		if _, ok := e.(*Label); ok {
			w.Newline()
		}
		e.Append(w)
	}
}

func (f *Field) Append(w *Writer) {
	w.Directive(DirField, f.Access.Format(TargetField), f.Key.Name+":"+f.Key.Type.TypeName())
	if f.Initial != nil {
		w.Append(" = " + f.Initial.String())
	}
	w.Newline()
}

func (m *Method) Append(w *Writer) {
	w.Directive(DirMethod, m.Access.Format(TargetMethod), m.Key.Name+m.Key.Proto.String())
	w.Newline()
	if m.Code != nil {
		w.IndentPlus()
		m.Code.Append(w)
		w.IndentMinus()
	}
	w.End(DirMethod)
}

func (c *Class) Append(w *Writer) {
	w.Directive(DirClass, c.Access.Format(TargetClass), c.Type.TypeName())
	w.Newline()
	if !c.Super.IsZero() {
		w.Directive(DirSuper, c.Super.TypeName())
		w.Newline()
	}
	if c.Source != "" {
		w.Directive(DirSource, key.Quote(c.Source))
		w.Newline()
	}
	if len(c.Interfaces) > 0 {
		w.Newline()
		w.AppendComment("interfaces")
		w.Newline()
		for _, t := range c.Interfaces {
			w.Directive(DirImplements, t.TypeName())
			w.Newline()
		}
	}
	c.appendFields(w, true, "static fields")
	c.appendFields(w, false, "instance fields")
	c.appendMethods(w, true, "direct methods")
	c.appendMethods(w, false, "virtual methods")
}

func (c *Class) appendFields(w *Writer, static bool, title string) {
	first := true
	for _, f := range c.Fields {
		if f.IsStatic() != static {
			continue
		}
		if first {
			w.Newline()
			w.AppendComment(title)
			w.Newline()
			first = false
		}
		f.Append(w)
		w.Newline()
	}
}

// IsDirect reports static, private and constructor methods, the ones
// stored in the direct_methods list.
func (m *Method) IsDirect() bool {
	return m.Access&(0x8|0x2|0x10000) != 0
}

func (c *Class) appendMethods(w *Writer, direct bool, title string) {
	first := true
	for _, m := range c.Methods {
		if m.IsDirect() != direct {
			continue
		}
		if first {
			w.Newline()
			w.AppendComment(title)
			w.Newline()
			first = false
		}
		m.Append(w)
		w.Newline()
	}
}

// Text renders any node to a string, mostly for tests and diagnostics.
func Text(node interface{ Append(w *Writer) }) string {
	var b strings.Builder
	w := NewWriter(&b)
	node.Append(w)
	w.Flush()
	return b.String()
}
