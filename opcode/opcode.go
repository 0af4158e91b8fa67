package opcode

//
// Table of Dalvik opcodes. See
//
//   https://source.android.com/devices/tech/dalvik/dalvik-bytecode
//
// Payload pseudo-instructions live at 0x0100, 0x0200 and 0x0300: a code
// unit equal to one of those is the start of a payload, any other unit
// carries the opcode in its low byte.
//

import (
	"github.com/thanm/go-edit-a-dex/key"
)

type Flags uint16

const (
	// Branch marks goto and if-* instructions; their data is a relative
	// target address.
	Branch Flags = 1 << iota
	// PayloadRef marks the 31t instructions that point at a payload.
	PayloadRef
	Switch
	Invoke
	Return
	Throw
	// SetsResult marks instructions that may be followed by move-result.
	SetsResult
	Const
	// Unconditional control transfer, no fall through.
	Jump
)

const (
	PackedSwitchPayload uint16 = 0x0100
	SparseSwitchPayload uint16 = 0x0200
	ArrayPayload        uint16 = 0x0300
)

type Opcode struct {
	Value  uint16
	Name   string
	Format Format
	Flags  Flags
	// wide is a bit mask over register slots holding a long or double.
	wide uint8
	// ref is the section of the constant-pool index, when hasRef is set;
	// ref2 for the second index of 45cc/4rcc.
	ref, ref2 key.Kind
	hasRef    bool
}

func (o *Opcode) String() string { return o.Name }

// Section returns the kind of the instruction's index operand.
func (o *Opcode) Section() (key.Kind, bool) { return o.ref, o.hasRef }

// Section2 returns the kind of the second index operand (45cc, 4rcc).
func (o *Opcode) Section2() (key.Kind, bool) {
	return o.ref2, o.Format == Format45cc || o.Format == Format4rcc
}

func (o *Opcode) Is(f Flags) bool { return o.Flags&f != 0 }

// IsWideRegister reports whether register slot i holds a wide value and so
// occupies two registers.
func (o *Opcode) IsWideRegister(i int) bool {
	return i < 8 && o.wide&(1<<uint(i)) != 0
}

func (o *Opcode) IsPayload() bool { return o.Format.IsPayload() }

// CanContinue reports whether execution may fall through to the next
// instruction.
func (o *Opcode) CanContinue() bool {
	return !o.Is(Jump | Return | Throw) && !o.IsPayload()
}

var (
	table  [256]*Opcode
	byName = make(map[string]*Opcode)

	PackedSwitchData = &Opcode{Value: PackedSwitchPayload, Name: "packed-switch-payload", Format: FormatPackedSwitchPayload}
	SparseSwitchData = &Opcode{Value: SparseSwitchPayload, Name: "sparse-switch-payload", Format: FormatSparseSwitchPayload}
	ArrayData        = &Opcode{Value: ArrayPayload, Name: "array-payload", Format: FormatArrayPayload}
)

// Get returns the opcode for a value in 0x00..0xff or one of the payload
// pseudo-opcodes.
func Get(v uint16) (*Opcode, bool) {
	switch v {
	case PackedSwitchPayload:
		return PackedSwitchData, true
	case SparseSwitchPayload:
		return SparseSwitchData, true
	case ArrayPayload:
		return ArrayData, true
	}
	if v > 0xff {
		return nil, false
	}
	o := table[v]
	return o, o != nil
}

// FromUnit decodes the opcode at the start of an instruction.
func FromUnit(unit uint16) (*Opcode, bool) {
	switch unit {
	case PackedSwitchPayload, SparseSwitchPayload, ArrayPayload:
		return Get(unit)
	}
	return Get(unit & 0xff)
}

// ByName looks up an opcode by its smali mnemonic.
func ByName(name string) (*Opcode, bool) {
	o, ok := byName[name]
	return o, ok
}

// All returns the defined opcodes in value order, payloads last.
func All() []*Opcode {
	out := make([]*Opcode, 0, 232)
	for _, o := range table {
		if o != nil {
			out = append(out, o)
		}
	}
	return append(out, PackedSwitchData, SparseSwitchData, ArrayData)
}

func def(v uint16, name string, f Format, flags Flags, wide uint8) *Opcode {
	o := &Opcode{Value: v, Name: name, Format: f, Flags: flags, wide: wide}
	table[v] = o
	byName[name] = o
	return o
}

func defRef(v uint16, name string, f Format, flags Flags, wide uint8, ref key.Kind) *Opcode {
	o := def(v, name, f, flags, wide)
	o.ref, o.hasRef = ref, true
	return o
}

// wide register masks for the common shapes
const (
	w0   uint8 = 1 << 0
	w1   uint8 = 1 << 1
	w2   uint8 = 1 << 2
	w01        = w0 | w1
	w12        = w1 | w2
	w012       = w0 | w1 | w2
)

// arithOp is a binary operation; wide is the 23x register mask, wide2 the
// mask of its /2addr form.
type arithOp struct {
	name        string
	wide, wide2 uint8
}

func init() {
	def(0x00, "nop", Format10x, 0, 0)
	def(0x01, "move", Format12x, 0, 0)
	def(0x02, "move/from16", Format22x, 0, 0)
	def(0x03, "move/16", Format32x, 0, 0)
	def(0x04, "move-wide", Format12x, 0, w01)
	def(0x05, "move-wide/from16", Format22x, 0, w01)
	def(0x06, "move-wide/16", Format32x, 0, w01)
	def(0x07, "move-object", Format12x, 0, 0)
	def(0x08, "move-object/from16", Format22x, 0, 0)
	def(0x09, "move-object/16", Format32x, 0, 0)
	def(0x0a, "move-result", Format11x, 0, 0)
	def(0x0b, "move-result-wide", Format11x, 0, w0)
	def(0x0c, "move-result-object", Format11x, 0, 0)
	def(0x0d, "move-exception", Format11x, 0, 0)
	def(0x0e, "return-void", Format10x, Return, 0)
	def(0x0f, "return", Format11x, Return, 0)
	def(0x10, "return-wide", Format11x, Return, w0)
	def(0x11, "return-object", Format11x, Return, 0)
	def(0x12, "const/4", Format11n, Const, 0)
	def(0x13, "const/16", Format21s, Const, 0)
	def(0x14, "const", Format31i, Const, 0)
	def(0x15, "const/high16", Format21h, Const, 0)
	def(0x16, "const-wide/16", Format21s, Const, w0)
	def(0x17, "const-wide/32", Format31i, Const, w0)
	def(0x18, "const-wide", Format51l, Const, w0)
	def(0x19, "const-wide/high16", Format21h, Const, w0)
	defRef(0x1a, "const-string", Format21c, Const, 0, key.KindString)
	defRef(0x1b, "const-string/jumbo", Format31c, Const, 0, key.KindString)
	defRef(0x1c, "const-class", Format21c, Const, 0, key.KindType)
	def(0x1d, "monitor-enter", Format11x, 0, 0)
	def(0x1e, "monitor-exit", Format11x, 0, 0)
	defRef(0x1f, "check-cast", Format21c, 0, 0, key.KindType)
	defRef(0x20, "instance-of", Format22c, 0, 0, key.KindType)
	def(0x21, "array-length", Format12x, 0, 0)
	defRef(0x22, "new-instance", Format21c, 0, 0, key.KindType)
	defRef(0x23, "new-array", Format22c, 0, 0, key.KindType)
	defRef(0x24, "filled-new-array", Format35c, SetsResult, 0, key.KindType)
	defRef(0x25, "filled-new-array/range", Format3rc, SetsResult, 0, key.KindType)
	def(0x26, "fill-array-data", Format31t, PayloadRef, 0)
	def(0x27, "throw", Format11x, Throw, 0)
	def(0x28, "goto", Format10t, Branch|Jump, 0)
	def(0x29, "goto/16", Format20t, Branch|Jump, 0)
	def(0x2a, "goto/32", Format30t, Branch|Jump, 0)
	def(0x2b, "packed-switch", Format31t, PayloadRef|Switch, 0)
	def(0x2c, "sparse-switch", Format31t, PayloadRef|Switch, 0)

	def(0x2d, "cmpl-float", Format23x, 0, 0)
	def(0x2e, "cmpg-float", Format23x, 0, 0)
	def(0x2f, "cmpl-double", Format23x, 0, w12)
	def(0x30, "cmpg-double", Format23x, 0, w12)
	def(0x31, "cmp-long", Format23x, 0, w12)

	for i, name := range []string{"if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le"} {
		def(0x32+uint16(i), name, Format22t, Branch, 0)
	}
	for i, name := range []string{"if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez"} {
		def(0x38+uint16(i), name, Format21t, Branch, 0)
	}

	suffixes := []string{"", "-wide", "-object", "-boolean", "-byte", "-char", "-short"}
	for i, s := range suffixes {
		var wide uint8
		if s == "-wide" {
			wide = w0
		}
		def(0x44+uint16(i), "aget"+s, Format23x, 0, wide)
		def(0x4b+uint16(i), "aput"+s, Format23x, 0, wide)
		defRef(0x52+uint16(i), "iget"+s, Format22c, 0, wide, key.KindField)
		defRef(0x59+uint16(i), "iput"+s, Format22c, 0, wide, key.KindField)
		defRef(0x60+uint16(i), "sget"+s, Format21c, 0, wide, key.KindField)
		defRef(0x67+uint16(i), "sput"+s, Format21c, 0, wide, key.KindField)
	}

	for i, kind := range []string{"virtual", "super", "direct", "static", "interface"} {
		defRef(0x6e+uint16(i), "invoke-"+kind, Format35c, Invoke|SetsResult, 0, key.KindMethod)
		defRef(0x74+uint16(i), "invoke-"+kind+"/range", Format3rc, Invoke|SetsResult, 0, key.KindMethod)
	}

	unops := []struct {
		name string
		wide uint8
	}{
		{"neg-int", 0}, {"not-int", 0}, {"neg-long", w01}, {"not-long", w01},
		{"neg-float", 0}, {"neg-double", w01}, {"int-to-long", w0}, {"int-to-float", 0},
		{"int-to-double", w0}, {"long-to-int", w1}, {"long-to-float", w1}, {"long-to-double", w01},
		{"float-to-int", 0}, {"float-to-long", w0}, {"float-to-double", w0}, {"double-to-int", w1},
		{"double-to-long", w01}, {"double-to-float", w1}, {"int-to-byte", 0}, {"int-to-char", 0},
		{"int-to-short", 0},
	}
	for i, u := range unops {
		def(0x7b+uint16(i), u.name, Format12x, 0, u.wide)
	}

	binops := []string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "ushr"}
	floatops := []string{"add", "sub", "mul", "div", "rem"}
	var arith []arithOp
	add := func(name string, wide, wide2 uint8) {
		arith = append(arith, arithOp{name, wide, wide2})
	}
	for _, op := range binops {
		add(op+"-int", 0, 0)
	}
	for _, op := range binops {
		switch op {
		case "shl", "shr", "ushr":
			add(op+"-long", w01, w0)
		default:
			add(op+"-long", w012, w01)
		}
	}
	for _, op := range floatops {
		add(op+"-float", 0, 0)
	}
	for _, op := range floatops {
		add(op+"-double", w012, w01)
	}
	for i, a := range arith {
		def(0x90+uint16(i), a.name, Format23x, 0, a.wide)
		def(0xb0+uint16(i), a.name+"/2addr", Format12x, 0, a.wide2)
	}

	lit16 := []string{"add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16",
		"rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16"}
	for i, name := range lit16 {
		def(0xd0+uint16(i), name, Format22s, 0, 0)
	}
	lit8 := []string{"add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8",
		"rem-int/lit8", "and-int/lit8", "or-int/lit8", "xor-int/lit8", "shl-int/lit8",
		"shr-int/lit8", "ushr-int/lit8"}
	for i, name := range lit8 {
		def(0xd8+uint16(i), name, Format22b, 0, 0)
	}

	o := defRef(0xfa, "invoke-polymorphic", Format45cc, Invoke|SetsResult, 0, key.KindMethod)
	o.ref2 = key.KindProto
	o = defRef(0xfb, "invoke-polymorphic/range", Format4rcc, Invoke|SetsResult, 0, key.KindMethod)
	o.ref2 = key.KindProto
	defRef(0xfc, "invoke-custom", Format35c, Invoke|SetsResult, 0, key.KindCallSite)
	defRef(0xfd, "invoke-custom/range", Format3rc, Invoke|SetsResult, 0, key.KindCallSite)
	defRef(0xfe, "const-method-handle", Format21c, Const, 0, key.KindMethodHandle)
	defRef(0xff, "const-method-type", Format21c, Const, 0, key.KindProto)

	byName[PackedSwitchData.Name] = PackedSwitchData
	byName[SparseSwitchData.Name] = SparseSwitchData
	byName[ArrayData.Name] = ArrayData
}
