package ins

//
// Package ins models a method's instruction stream. Instructions keep the
// raw code units they were read as; operand accessors decode and encode
// them in place according to the opcode's format. Branch and payload
// targets are held as handles into the owning List and only turned into
// relative offsets when the list is refreshed.
//

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/thanm/go-edit-a-dex/block"
	"github.com/thanm/go-edit-a-dex/dexio"
	"github.com/thanm/go-edit-a-dex/key"
	"github.com/thanm/go-edit-a-dex/opcode"
)

// Handle names an instruction within its List. It stays valid across
// inserts and removals of other instructions.
type Handle int

const (
	NoHandle Handle = -1
	// EndHandle stands for the address just past the last instruction,
	// where a try range may end.
	EndHandle Handle = -2
)

// Instruction is an element of a List: an *Ins or one of the payloads.
type Instruction interface {
	block.Block
	Opcode() *opcode.Opcode
	CodeUnits() int
	// Address is the offset in code units from the start of the list,
	// as of the last layout.
	Address() int
	setAddress(a int)
}

type addr struct {
	address int
}

func (a *addr) Address() int       { return a.address }
func (a *addr) setAddress(off int) { a.address = off }

// Ins is a fixed-format instruction.
type Ins struct {
	block.Node
	addr
	op     *opcode.Opcode
	units  []uint16
	target Handle
	// alignment marks a nop that only pads the following payload
	alignment bool
}

// New returns op with all operands zero. op must not be a payload.
func New(op *opcode.Opcode) *Ins {
	if op.IsPayload() {
		panic("ins: New with payload opcode " + op.Name)
	}
	in := &Ins{op: op, units: make([]uint16, op.Format.Units()), target: NoHandle}
	in.units[0] = op.Value
	return in
}

func newDecoded() *Ins { return &Ins{target: NoHandle} }

func (in *Ins) Opcode() *opcode.Opcode { return in.op }
func (in *Ins) CodeUnits() int         { return len(in.units) }
func (in *Ins) CountBytes() int        { return 2 * len(in.units) }

// Units exposes the encoded code units; callers must not modify them.
func (in *Ins) Units() []uint16 { return in.units }

// Target is the handle of the branch or payload target, NoHandle when
// the instruction has none or it is not linked yet.
func (in *Ins) Target() Handle { return in.target }

func (in *Ins) String() string {
	return fmt.Sprintf("%04x: %s", in.address, in.op.Name)
}

func (in *Ins) Decode(r *dexio.Reader) error {
	off := r.Position()
	u, err := r.ReadU16()
	if err != nil {
		return err
	}
	op, ok := opcode.FromUnit(u)
	if !ok || op.IsPayload() {
		return dexio.Formatf("instruction", off, "unknown opcode 0x%04x", u)
	}
	in.op = op
	in.units = append(in.units[:0], u)
	for i := 1; i < op.Format.Units(); i++ {
		v, err := r.ReadU16()
		if err != nil {
			return err
		}
		in.units = append(in.units, v)
	}
	return nil
}

func (in *Ins) WriteTo(w io.Writer) (int64, error) {
	b := make([]byte, 2*len(in.units))
	for i, u := range in.units {
		binary.LittleEndian.PutUint16(b[2*i:], u)
	}
	n, err := w.Write(b)
	return int64(n), err
}

// SetOpcode changes the opcode. Operands carry over when the new format
// can hold them.
func (in *Ins) SetOpcode(op *opcode.Opcode) error {
	if op.IsPayload() {
		return fmt.Errorf("ins: cannot turn %s into a payload", in.op.Name)
	}
	if op.Format == in.op.Format {
		in.units[0] = in.units[0]&0xff00 | op.Value
		in.op = op
		return nil
	}
	old := *in
	old.units = append([]uint16(nil), in.units...)
	in.op = op
	in.units = make([]uint16, op.Format.Units())
	in.units[0] = op.Value
	if err := in.copyOperands(&old); err != nil {
		in.op, in.units = old.op, old.units
		return err
	}
	return nil
}

func (in *Ins) copyOperands(from *Ins) error {
	n := min(from.RegistersCount(), in.op.Format.MaxRegisters())
	if in.op.Format.IsVariadic() {
		n = from.RegistersCount()
		if err := in.SetRegistersCount(n); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		if err := in.SetRegister(i, from.Register(i)); err != nil {
			return err
		}
	}
	if in.HasData() && from.HasData() {
		if err := in.SetData(from.Data()); err != nil {
			return err
		}
	}
	if in.HasIndex() && from.HasIndex() {
		return in.SetIndex(from.Index())
	}
	return nil
}

// RegistersCount is the number of register operands in use.
func (in *Ins) RegistersCount() int {
	switch in.op.Format {
	case opcode.Format35c, opcode.Format45cc:
		return int(in.units[0] >> 12)
	case opcode.Format3rc, opcode.Format4rcc:
		return int(in.units[0] >> 8)
	}
	return in.op.Format.MaxRegisters()
}

// SetRegistersCount sets the argument count of the invoke style formats.
// Other formats have a fixed count and only accept it.
func (in *Ins) SetRegistersCount(n int) error {
	switch in.op.Format {
	case opcode.Format35c, opcode.Format45cc:
		if n < 0 || n > 5 {
			return fmt.Errorf("%v: %d registers: %w", in.op, n, ErrRegisterLimit)
		}
		in.units[0] = in.units[0]&0x0fff | uint16(n)<<12
		return nil
	case opcode.Format3rc, opcode.Format4rcc:
		if n < 0 || n > 0xff {
			return fmt.Errorf("%v: %d registers: %w", in.op, n, ErrRegisterLimit)
		}
		in.units[0] = in.units[0]&0x00ff | uint16(n)<<8
		return nil
	}
	if n != in.op.Format.MaxRegisters() {
		return fmt.Errorf("%v: %d registers: %w", in.op, n, ErrRegisterLimit)
	}
	return nil
}

// Register returns register operand i, in text order. For the range
// formats operand i is the first register plus i.
func (in *Ins) Register(i int) int {
	u := in.units
	switch in.op.Format {
	case opcode.Format12x, opcode.Format22t, opcode.Format22s, opcode.Format22c:
		if i == 0 {
			return int(u[0] >> 8 & 0xf)
		}
		return int(u[0] >> 12)
	case opcode.Format11n:
		return int(u[0] >> 8 & 0xf)
	case opcode.Format11x, opcode.Format21t, opcode.Format21s, opcode.Format21h,
		opcode.Format21c, opcode.Format31i, opcode.Format31t, opcode.Format31c, opcode.Format51l:
		return int(u[0] >> 8)
	case opcode.Format22x:
		if i == 0 {
			return int(u[0] >> 8)
		}
		return int(u[1])
	case opcode.Format23x:
		switch i {
		case 0:
			return int(u[0] >> 8)
		case 1:
			return int(u[1] & 0xff)
		}
		return int(u[1] >> 8)
	case opcode.Format22b:
		if i == 0 {
			return int(u[0] >> 8)
		}
		return int(u[1] & 0xff)
	case opcode.Format32x:
		return int(u[1+i])
	case opcode.Format35c, opcode.Format45cc:
		if i == 4 {
			return int(u[0] >> 8 & 0xf)
		}
		return int(u[2] >> (4 * uint(i)) & 0xf)
	case opcode.Format3rc, opcode.Format4rcc:
		return int(u[2]) + i
	}
	panic(fmt.Sprintf("ins: %s has no register %d", in.op.Name, i))
}

// Registers returns all register operands in use.
func (in *Ins) Registers() []int {
	regs := make([]int, in.RegistersCount())
	for i := range regs {
		regs[i] = in.Register(i)
	}
	return regs
}

// RegisterLimit is the largest value register slot i can hold.
func (in *Ins) RegisterLimit(i int) int {
	f := in.op.Format
	if f.IsRange() {
		return 0xffff
	}
	return 1<<f.RegisterBits(i) - 1
}

// IsWideRegisterAt reports whether operand i names a register pair.
func (in *Ins) IsWideRegisterAt(i int) bool { return in.op.IsWideRegister(i) }

func setNibble(u *uint16, shift uint, v int) {
	*u = *u&^(0xf<<shift) | uint16(v)<<shift
}

func setHigh(u *uint16, v int) { *u = *u&0x00ff | uint16(v)<<8 }
func setLow(u *uint16, v int)  { *u = *u&0xff00 | uint16(v) }

// SetRegister sets operand i; it fails with ErrRegisterLimit when v does
// not fit the slot.
func (in *Ins) SetRegister(i, v int) error {
	f := in.op.Format
	if f.IsRange() {
		if v-i < 0 || v-i > 0xffff {
			return registerLimit(in.op, i, v, 16)
		}
		in.units[2] = uint16(v - i)
		return nil
	}
	if i < 0 || i >= f.MaxRegisters() {
		return fmt.Errorf("%v: no register slot %d: %w", in.op, i, ErrRegisterLimit)
	}
	if bits := f.RegisterBits(i); v < 0 || v >= 1<<bits {
		return registerLimit(in.op, i, v, bits)
	}
	u := in.units
	switch f {
	case opcode.Format12x, opcode.Format22t, opcode.Format22s, opcode.Format22c:
		setNibble(&u[0], 8+4*uint(i), v)
	case opcode.Format11n:
		setNibble(&u[0], 8, v)
	case opcode.Format22x:
		if i == 0 {
			setHigh(&u[0], v)
		} else {
			u[1] = uint16(v)
		}
	case opcode.Format23x:
		switch i {
		case 0:
			setHigh(&u[0], v)
		case 1:
			setLow(&u[1], v)
		default:
			setHigh(&u[1], v)
		}
	case opcode.Format22b:
		if i == 0 {
			setHigh(&u[0], v)
		} else {
			setLow(&u[1], v)
		}
	case opcode.Format32x:
		u[1+i] = uint16(v)
	case opcode.Format35c, opcode.Format45cc:
		if i == 4 {
			setNibble(&u[0], 8, v)
		} else {
			setNibble(&u[2], 4*uint(i), v)
		}
	default:
		setHigh(&u[0], v)
	}
	return nil
}

// HasData reports whether the format carries a literal or branch offset.
func (in *Ins) HasData() bool {
	switch in.op.Format {
	case opcode.Format11n, opcode.Format10t, opcode.Format20t, opcode.Format21t,
		opcode.Format21s, opcode.Format22t, opcode.Format22s, opcode.Format22b,
		opcode.Format21h, opcode.Format30t, opcode.Format31i, opcode.Format31t, opcode.Format51l:
		return true
	}
	return false
}

func (in *Ins) isWideHigh16() bool {
	return in.op.Format == opcode.Format21h && in.op.IsWideRegister(0)
}

// Data returns the literal, sign extended, or the branch offset in code
// units. For the high16 forms it is the full shifted constant.
func (in *Ins) Data() int64 {
	u := in.units
	switch in.op.Format {
	case opcode.Format11n:
		return int64(int16(u[0]) >> 12)
	case opcode.Format10t:
		return int64(int8(u[0] >> 8))
	case opcode.Format20t, opcode.Format21t, opcode.Format21s, opcode.Format22t, opcode.Format22s:
		return int64(int16(u[1]))
	case opcode.Format22b:
		return int64(int8(u[1] >> 8))
	case opcode.Format21h:
		if in.isWideHigh16() {
			return int64(uint64(u[1]) << 48)
		}
		return int64(int32(uint32(u[1]) << 16))
	case opcode.Format30t, opcode.Format31i, opcode.Format31t:
		return int64(int32(uint32(u[1]) | uint32(u[2])<<16))
	case opcode.Format51l:
		return int64(uint64(u[1]) | uint64(u[2])<<16 | uint64(u[3])<<32 | uint64(u[4])<<48)
	}
	return 0
}

// Long is Data for the wide constants, kept for readability at call
// sites dealing with const-wide.
func (in *Ins) Long() int64 { return in.Data() }

func fits(v int64, bits uint) bool {
	lim := int64(1) << (bits - 1)
	return v >= -lim && v < lim
}

// SetData stores a literal or branch offset. It fails with
// ErrLiteralRange when v does not fit the format.
func (in *Ins) SetData(v int64) error {
	u := in.units
	switch in.op.Format {
	case opcode.Format11n:
		if !fits(v, 4) {
			return literalRange(in.op, v)
		}
		setNibble(&u[0], 12, int(v)&0xf)
	case opcode.Format10t:
		if !fits(v, 8) {
			return literalRange(in.op, v)
		}
		setHigh(&u[0], int(v)&0xff)
	case opcode.Format20t, opcode.Format21t, opcode.Format21s, opcode.Format22t, opcode.Format22s:
		if !fits(v, 16) {
			return literalRange(in.op, v)
		}
		u[1] = uint16(v)
	case opcode.Format22b:
		if !fits(v, 8) {
			return literalRange(in.op, v)
		}
		setHigh(&u[1], int(v)&0xff)
	case opcode.Format21h:
		if in.isWideHigh16() {
			if v&(1<<48-1) != 0 {
				return literalRange(in.op, v)
			}
			u[1] = uint16(uint64(v) >> 48)
			return nil
		}
		if v&0xffff != 0 || !fits(v, 32) {
			return literalRange(in.op, v)
		}
		u[1] = uint16(uint32(v) >> 16)
	case opcode.Format30t, opcode.Format31i, opcode.Format31t:
		if !fits(v, 32) {
			return literalRange(in.op, v)
		}
		u[1], u[2] = uint16(v), uint16(uint32(v)>>16)
	case opcode.Format51l:
		for i := 1; i < 5; i++ {
			u[i] = uint16(uint64(v) >> (16 * uint(i-1)))
		}
	default:
		return fmt.Errorf("ins: %s has no literal", in.op.Name)
	}
	return nil
}

// HasIndex reports whether the format carries a constant-pool index.
func (in *Ins) HasIndex() bool {
	_, ok := in.op.Section()
	return ok
}

// Index returns the constant-pool index operand.
func (in *Ins) Index() int {
	switch in.op.Format {
	case opcode.Format21c, opcode.Format22c, opcode.Format35c,
		opcode.Format3rc, opcode.Format45cc, opcode.Format4rcc:
		return int(in.units[1])
	case opcode.Format31c:
		return int(uint32(in.units[1]) | uint32(in.units[2])<<16)
	}
	return -1
}

func (in *Ins) SetIndex(idx int) error {
	switch in.op.Format {
	case opcode.Format21c, opcode.Format22c, opcode.Format35c,
		opcode.Format3rc, opcode.Format45cc, opcode.Format4rcc:
		if idx < 0 || idx > 0xffff {
			return literalRange(in.op, int64(idx))
		}
		in.units[1] = uint16(idx)
	case opcode.Format31c:
		if idx < 0 || int64(idx) > 0xffffffff {
			return literalRange(in.op, int64(idx))
		}
		in.units[1], in.units[2] = uint16(idx), uint16(uint32(idx)>>16)
	default:
		return fmt.Errorf("ins: %s has no index", in.op.Name)
	}
	return nil
}

// Index2 returns the proto index of invoke-polymorphic and
// invoke-custom style formats.
func (in *Ins) Index2() int {
	if _, ok := in.op.Section2(); ok {
		return int(in.units[3])
	}
	return -1
}

func (in *Ins) SetIndex2(idx int) error {
	if _, ok := in.op.Section2(); !ok {
		return fmt.Errorf("ins: %s has no second index", in.op.Name)
	}
	if idx < 0 || idx > 0xffff {
		return literalRange(in.op, int64(idx))
	}
	in.units[3] = uint16(idx)
	return nil
}

func resolve(pool *key.Pool, kind key.Kind, idx int) key.Key {
	if pool != nil {
		if k, err := pool.Lookup(kind, idx); err == nil {
			return k
		}
	}
	return key.RawKey{Of: kind, Index: idx}
}

// Key resolves the index operand against pool. Indices the pool cannot
// resolve, or any index with a nil pool, come back as a key.RawKey.
func (in *Ins) Key(pool *key.Pool) key.Key {
	kind, ok := in.op.Section()
	if !ok {
		return nil
	}
	return resolve(pool, kind, in.Index())
}

func (in *Ins) Key2(pool *key.Pool) key.Key {
	kind, ok := in.op.Section2()
	if !ok {
		return nil
	}
	return resolve(pool, kind, in.Index2())
}

func indexFor(pool *key.Pool, want key.Kind, k key.Key) (int, error) {
	if k == nil || k.Kind() != want {
		return 0, fmt.Errorf("ins: want a %s reference, got %v", want, k)
	}
	if raw, ok := k.(key.RawKey); ok {
		return raw.Index, nil
	}
	if pool == nil {
		return 0, &key.UnresolvedError{What: want.String(), Ref: k.String()}
	}
	return pool.Intern(k), nil
}

// SetKey interns k into pool and stores its index.
func (in *Ins) SetKey(pool *key.Pool, k key.Key) error {
	kind, ok := in.op.Section()
	if !ok {
		return fmt.Errorf("ins: %s has no index", in.op.Name)
	}
	idx, err := indexFor(pool, kind, k)
	if err != nil {
		return err
	}
	return in.SetIndex(idx)
}

func (in *Ins) SetKey2(pool *key.Pool, k key.Key) error {
	kind, ok := in.op.Section2()
	if !ok {
		return fmt.Errorf("ins: %s has no second index", in.op.Name)
	}
	idx, err := indexFor(pool, kind, k)
	if err != nil {
		return err
	}
	return in.SetIndex2(idx)
}

// isPadding reports a nop that pads the payload that follows it.
func (in *Ins) isPadding() bool { return in.alignment }

func isNop(in *Ins) bool { return in.units[0] == 0 }
