package ins

import (
	"cmp"
	"fmt"

	"github.com/thanm/go-edit-a-dex/block"
	"github.com/thanm/go-edit-a-dex/dexio"
	"github.com/thanm/go-edit-a-dex/opcode"
)

// Target is one switch case. The stored value is the branch offset
// relative to the switch instruction; the handle is the instruction it
// lands on once linked.
type Target struct {
	block.IntegerItem
	handle Handle
}

func newTarget() *Target { return &Target{handle: NoHandle} }

func (t *Target) Handle() Handle     { return t.handle }
func (t *Target) SetHandle(h Handle) { t.handle = h }

// switchPayload is what the list needs from both switch tables.
type switchPayload interface {
	Instruction
	targetList() []*Target
	caseKey(i int) int32
	labelKinds() (data, entry LabelKind)
	setOwner(h Handle)
	owner() Handle
}

func checkIdent(what string, off int, got int, want uint16) error {
	if got != int(want) {
		return dexio.Formatf(what, off, "ident 0x%04x, want 0x%04x", got, want)
	}
	return nil
}

// PackedSwitchData is the payload of packed-switch: consecutive keys
// starting at FirstKey, one target each.
type PackedSwitchData struct {
	block.Composite
	addr
	ident     *block.ShortItem
	size      *block.ShortItem
	firstKey  *block.IntegerItem
	targets   *block.Array[*Target]
	switchIns Handle
}

func NewPackedSwitchData() *PackedSwitchData {
	p := &PackedSwitchData{
		ident:     block.NewShortItem(),
		size:      block.NewShortItem(),
		firstKey:  block.NewIntegerItem(),
		switchIns: NoHandle,
	}
	p.ident.Set(int(opcode.PackedSwitchPayload))
	p.targets = block.NewArray(newTarget, p.size)
	p.Init(p, p.ident, p.size, p.firstKey, p.targets)
	p.targets.SetOwner(p)
	return p
}

func (p *PackedSwitchData) Opcode() *opcode.Opcode { return opcode.PackedSwitchData }
func (p *PackedSwitchData) CodeUnits() int         { return p.CountBytes() / 2 }

func (p *PackedSwitchData) Decode(r *dexio.Reader) error {
	off := r.Position()
	if err := p.Composite.Decode(r); err != nil {
		return err
	}
	return checkIdent("packed-switch payload", off, p.ident.Get(), opcode.PackedSwitchPayload)
}

func (p *PackedSwitchData) FirstKey() int32        { return int32(p.firstKey.Get()) }
func (p *PackedSwitchData) SetFirstKey(k int32)    { p.firstKey.Set(int(k)) }
func (p *PackedSwitchData) Len() int               { return p.targets.Len() }
func (p *PackedSwitchData) TargetAt(i int) *Target { return p.targets.At(i) }

// Key returns the case value of entry i.
func (p *PackedSwitchData) Key(i int) int32 { return p.FirstKey() + int32(i) }

// Add appends a case for the next key.
func (p *PackedSwitchData) Add(h Handle) *Target {
	t := p.targets.CreateNext()
	t.handle = h
	return t
}

// SetSize grows or truncates the table; new cases have no target.
func (p *PackedSwitchData) SetSize(n int) { p.targets.SetSize(n) }

func (p *PackedSwitchData) RemoveAt(i int) { p.targets.RemoveAt(i) }

func (p *PackedSwitchData) targetList() []*Target { return p.targets.Items() }
func (p *PackedSwitchData) caseKey(i int) int32   { return p.Key(i) }
func (p *PackedSwitchData) setOwner(h Handle)     { p.switchIns = h }
func (p *PackedSwitchData) owner() Handle         { return p.switchIns }

func (p *PackedSwitchData) labelKinds() (LabelKind, LabelKind) {
	return LabelPackedSwitchData, LabelPackedSwitch
}

// ToSparse returns an equivalent sparse table.
func (p *PackedSwitchData) ToSparse() *SparseSwitchData {
	s := NewSparseSwitchData()
	for i, t := range p.targets.Items() {
		n := s.Add(p.Key(i), t.handle)
		n.Set(t.Get())
	}
	s.switchIns = p.switchIns
	return s
}

// SparseSwitchData is the payload of sparse-switch: sorted keys, each
// paired with a target. The key and target arrays share one count and
// are always sorted together.
type SparseSwitchData struct {
	block.Composite
	addr
	ident     *block.ShortItem
	size      *block.ShortItem
	keys      *block.Array[*block.IntegerItem]
	targets   *block.Array[*Target]
	switchIns Handle
	// sortRequired is set by mutations that may break key order
	sortRequired bool
}

func NewSparseSwitchData() *SparseSwitchData {
	s := &SparseSwitchData{
		ident:     block.NewShortItem(),
		size:      block.NewShortItem(),
		switchIns: NoHandle,
	}
	s.ident.Set(int(opcode.SparseSwitchPayload))
	s.keys = block.NewArray(block.NewIntegerItem, s.size)
	s.targets = block.NewArray(newTarget, s.size)
	s.Init(s, s.ident, s.size, s.keys, s.targets)
	s.keys.SetOwner(s)
	s.targets.SetOwner(s)
	return s
}

func (s *SparseSwitchData) Opcode() *opcode.Opcode { return opcode.SparseSwitchData }
func (s *SparseSwitchData) CodeUnits() int         { return s.CountBytes() / 2 }

func (s *SparseSwitchData) Decode(r *dexio.Reader) error {
	off := r.Position()
	if err := s.Composite.Decode(r); err != nil {
		return err
	}
	return checkIdent("sparse-switch payload", off, s.ident.Get(), opcode.SparseSwitchPayload)
}

func (s *SparseSwitchData) Len() int               { return s.keys.Len() }
func (s *SparseSwitchData) Key(i int) int32        { return int32(s.keys.At(i).Get()) }
func (s *SparseSwitchData) TargetAt(i int) *Target { return s.targets.At(i) }

func (s *SparseSwitchData) Keys() []int32 {
	out := make([]int32, s.Len())
	for i := range out {
		out[i] = s.Key(i)
	}
	return out
}

// Add appends a case. Order is restored on the next refresh.
func (s *SparseSwitchData) Add(k int32, h Handle) *Target {
	s.keys.CreateNext().Set(int(k))
	t := s.targets.CreateNext()
	t.handle = h
	s.sortRequired = true
	return t
}

// SetKey changes the value of case i.
func (s *SparseSwitchData) SetKey(i int, k int32) {
	s.keys.At(i).Set(int(k))
	s.sortRequired = true
}

func (s *SparseSwitchData) RemoveAt(i int) {
	s.keys.RemoveAt(i)
	s.targets.RemoveAt(i)
}

func compareKeys(x, y *block.IntegerItem) int { return cmp.Compare(x.Get(), y.Get()) }

// Sort orders the cases by key, moving targets with their keys.
func (s *SparseSwitchData) Sort() bool {
	s.sortRequired = false
	return s.keys.SortWith(compareKeys, s.targets)
}

func (s *SparseSwitchData) BeforeRefresh() error {
	if s.sortRequired || s.keys.NeedsSort(compareKeys) {
		s.Sort()
	}
	for i := 1; i < s.Len(); i++ {
		if s.Key(i) == s.Key(i-1) {
			return fmt.Errorf("sparse-switch payload: key 0x%x repeated", s.Key(i))
		}
	}
	return nil
}

func (s *SparseSwitchData) targetList() []*Target { return s.targets.Items() }
func (s *SparseSwitchData) caseKey(i int) int32   { return s.Key(i) }
func (s *SparseSwitchData) setOwner(h Handle)     { s.switchIns = h }
func (s *SparseSwitchData) owner() Handle         { return s.switchIns }

func (s *SparseSwitchData) labelKinds() (LabelKind, LabelKind) {
	return LabelSparseSwitchData, LabelSparseSwitch
}

// ToPacked returns an equivalent packed table. The keys, once sorted,
// must be consecutive.
func (s *SparseSwitchData) ToPacked() (*PackedSwitchData, error) {
	s.Sort()
	p := NewPackedSwitchData()
	p.switchIns = s.switchIns
	for i := 0; i < s.Len(); i++ {
		if i == 0 {
			p.SetFirstKey(s.Key(0))
		} else if int64(s.Key(i)) != int64(s.Key(i-1))+1 {
			return nil, fmt.Errorf("key 0x%x follows 0x%x: %w", s.Key(i), s.Key(i-1), ErrNotSequential)
		}
		t := p.Add(s.TargetAt(i).handle)
		t.Set(s.TargetAt(i).Get())
	}
	return p, nil
}

// FillArrayData is the payload of fill-array-data.
type FillArrayData struct {
	block.Composite
	addr
	ident *block.ShortItem
	width *block.ShortItem
	count *block.IntegerItem
	data  *block.ByteArray
	// pad keeps the payload a whole number of code units
	pad *block.ByteArray
}

func NewFillArrayData() *FillArrayData {
	a := &FillArrayData{
		ident: block.NewShortItem(),
		width: block.NewShortItem(),
		count: block.NewIntegerItem(),
		data:  block.NewByteArray(0),
		pad:   block.NewByteArray(0),
	}
	a.ident.Set(int(opcode.ArrayPayload))
	a.width.Set(1)
	a.Init(a, a.ident, a.width, a.count, a.data, a.pad)
	return a
}

func (a *FillArrayData) Opcode() *opcode.Opcode { return opcode.ArrayData }
func (a *FillArrayData) CodeUnits() int         { return a.CountBytes() / 2 }

func validWidth(w int) bool { return w == 1 || w == 2 || w == 4 || w == 8 }

func (a *FillArrayData) Decode(r *dexio.Reader) error {
	off := r.Position()
	for _, b := range []block.Block{a.ident, a.width, a.count} {
		if err := b.Decode(r); err != nil {
			return err
		}
	}
	if err := checkIdent("array payload", off, a.ident.Get(), opcode.ArrayPayload); err != nil {
		return err
	}
	if !validWidth(a.width.Get()) {
		return dexio.Formatf("array payload", off, "element width %d", a.width.Get())
	}
	n := a.width.Get() * int(a.count.U32())
	if n > r.Available() {
		return dexio.Formatf("array payload", off, "%d elements of %d bytes overrun input", a.count.U32(), a.width.Get())
	}
	a.data.SetSize(n)
	a.pad.SetSize(n & 1)
	if err := a.data.Decode(r); err != nil {
		return err
	}
	return a.pad.Decode(r)
}

func (a *FillArrayData) Width() int { return a.width.Get() }
func (a *FillArrayData) Len() int   { return int(a.count.U32()) }

// Values returns the elements sign extended to 64 bits.
func (a *FillArrayData) Values() []int64 {
	w := a.Width()
	b := a.data.Get()
	out := make([]int64, a.Len())
	for i := range out {
		var v uint64
		for j := w - 1; j >= 0; j-- {
			v = v<<8 | uint64(b[i*w+j])
		}
		shift := uint(64 - 8*w)
		out[i] = int64(v<<shift) >> shift
	}
	return out
}

// SetValues replaces the elements, stored little endian in width bytes
// each.
func (a *FillArrayData) SetValues(width int, values []int64) error {
	if !validWidth(width) {
		return fmt.Errorf("ins: invalid array element width %d", width)
	}
	b := make([]byte, 0, width*len(values))
	for _, v := range values {
		for j := 0; j < width; j++ {
			b = append(b, byte(uint64(v)>>(8*uint(j))))
		}
	}
	a.width.Set(width)
	a.count.SetU32(uint32(len(values)))
	a.data.Set(b)
	a.pad.SetSize(len(b) & 1)
	return nil
}
