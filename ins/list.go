package ins

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/thanm/go-edit-a-dex/block"
	"github.com/thanm/go-edit-a-dex/dexio"
	"github.com/thanm/go-edit-a-dex/key"
	"github.com/thanm/go-edit-a-dex/opcode"
)

// List is the instruction stream of one code item. Instructions live in
// an arena indexed by Handle; branches and switch cases refer to their
// targets by handle, so edits never leave a stale pointer behind.
//
// Every mutation re-lays the list out (addresses, payload alignment) and
// re-derives the label bookkeeping, unless it happens inside a
// Link/Unlink bracket, in which case that work runs once at the
// outermost Unlink.
type List struct {
	block.Node
	items   []Instruction
	arena   []Instruction
	handles map[Instruction]Handle
	extras  map[Handle][]Extra
	// size is the insns_size cell of the enclosing code item
	size  block.IntegerReference
	pool  *key.Pool
	depth int
	units int
	// relinks counts consolidated layout passes
	relinks  int
	watchers []func(from, to Handle)
}

// NewList returns an empty list. size, when not nil, is kept equal to
// the code unit count on refresh and sizes Decode. pool resolves
// constant-pool indices for text conversion and may be nil.
func NewList(size block.IntegerReference, pool *key.Pool) *List {
	return &List{
		size:    size,
		pool:    pool,
		handles: make(map[Instruction]Handle),
		extras:  make(map[Handle][]Extra),
	}
}

func (l *List) Pool() *key.Pool               { return l.pool }
func (l *List) SetPool(p *key.Pool)           { l.pool = p }
func (l *List) Len() int                      { return len(l.items) }
func (l *List) At(i int) Instruction          { return l.items[i] }
func (l *List) Items() []Instruction          { return l.items }
func (l *List) Count() block.IntegerReference { return l.size }

// Units is the length in code units as of the last layout.
func (l *List) Units() int { return l.units }

// Handle returns the handle of in, or NoHandle if in is not in l.
func (l *List) Handle(in Instruction) Handle {
	if h, ok := l.handles[in]; ok {
		return h
	}
	return NoHandle
}

// Get returns the instruction for h, or nil.
func (l *List) Get(h Handle) Instruction {
	if h < 0 || int(h) >= len(l.arena) {
		return nil
	}
	return l.arena[h]
}

// AddressOf returns the address of h. EndHandle is the list length.
func (l *List) AddressOf(h Handle) (int, bool) {
	if h == EndHandle {
		return l.units, true
	}
	in := l.Get(h)
	if in == nil {
		return 0, false
	}
	return in.Address(), true
}

// HandleAt returns the instruction starting at addr, or EndHandle when
// addr is the list length.
func (l *List) HandleAt(addr int) (Handle, bool) {
	if addr == l.units {
		return EndHandle, true
	}
	i, found := slices.BinarySearchFunc(l.items, addr, func(in Instruction, a int) int {
		return in.Address() - a
	})
	if !found {
		return NoHandle, false
	}
	return l.handles[l.items[i]], true
}

func (l *List) IndexOf(in Instruction) int {
	for i, x := range l.items {
		if x == in {
			return i
		}
	}
	return -1
}

// Extras lists the reasons h is a branch target, in list order of the
// referring instructions.
func (l *List) Extras(h Handle) []Extra { return l.extras[h] }

func (l *List) register(in Instruction) Handle {
	if h, ok := l.handles[in]; ok {
		return h
	}
	h := Handle(len(l.arena))
	l.arena = append(l.arena, in)
	l.handles[in] = h
	in.SetParent(l)
	return h
}

func (l *List) Add(in Instruction) Handle { return l.Insert(len(l.items), in) }

// Insert places in at index i and returns its handle.
func (l *List) Insert(i int, in Instruction) Handle {
	if _, ok := l.handles[in]; ok {
		panic("ins: instruction inserted twice")
	}
	h := l.register(in)
	l.items = slices.Insert(l.items, i, in)
	l.changed()
	return h
}

// Remove deletes in. Branches and cases that pointed at it move on to
// the instruction that followed it.
func (l *List) Remove(in Instruction) bool {
	i := l.IndexOf(in)
	if i < 0 {
		return false
	}
	l.RemoveAt(i)
	return true
}

func (l *List) RemoveAt(i int) Instruction {
	in := l.items[i]
	l.items = slices.Delete(l.items, i, i+1)
	next := EndHandle
	if i < len(l.items) {
		next = l.handles[l.items[i]]
	}
	l.forget(in, next)
	l.changed()
	return in
}

// Replace puts repl where old was. repl takes over old's handle, so
// every reference to old now reaches repl.
func (l *List) Replace(old, repl Instruction) error {
	h, ok := l.handles[old]
	if !ok {
		return fmt.Errorf("ins: %v is not in the list", old)
	}
	l.items[l.IndexOf(old)] = repl
	delete(l.handles, old)
	old.SetParent(nil)
	l.arena[h] = repl
	l.handles[repl] = h
	repl.SetParent(l)
	l.changed()
	return nil
}

func (l *List) forget(in Instruction, next Handle) {
	h := l.handles[in]
	delete(l.handles, in)
	l.arena[h] = nil
	in.SetParent(nil)
	l.retarget(h, next)
}

// OnRetarget registers f to be told when a handle stops naming an
// instruction. Holders of handles outside the list, such as try ranges,
// should move them from from to to.
func (l *List) OnRetarget(f func(from, to Handle)) { l.watchers = append(l.watchers, f) }

func (l *List) retarget(from, to Handle) {
	for _, f := range l.watchers {
		f(from, to)
	}
	for _, it := range l.arena {
		switch it := it.(type) {
		case *Ins:
			if it.target == from {
				it.target = to
			}
		case switchPayload:
			for _, t := range it.targetList() {
				if t.handle == from {
					t.handle = to
				}
			}
		}
	}
}

// SetTarget points a branch or payload reference at h.
func (l *List) SetTarget(in *Ins, h Handle) error {
	if !in.op.Is(opcode.Branch | opcode.PayloadRef) {
		return fmt.Errorf("ins: %s has no target", in.op.Name)
	}
	if h != EndHandle && l.Get(h) == nil {
		return fmt.Errorf("ins: handle %d: %w", h, ErrNoTarget)
	}
	in.target = h
	l.changed()
	return nil
}

// Link opens a bracket of bulk edits. Brackets nest.
func (l *List) Link() { l.depth++ }

// Unlink closes a bracket; the outermost one lays the list out again.
func (l *List) Unlink() {
	if l.depth == 0 {
		panic("ins: Unlink without Link")
	}
	l.depth--
	if l.depth == 0 {
		l.relink()
	}
}

func (l *List) changed() {
	if l.depth == 0 {
		l.relink()
	}
}

func (l *List) relink() {
	l.relinks++
	l.claimPayloads()
	l.layout()
	l.rebuildExtras()
}

// claimPayloads gives every switch table the switch instruction that
// refers to it. A table whose switch went away, by removal or by being
// pointed elsewhere, goes too. Tables that never had a switch, freshly
// added or decoded unreferenced, stay.
func (l *List) claimPayloads() {
	had := make(map[switchPayload]bool)
	for _, it := range l.items {
		if p, ok := it.(switchPayload); ok {
			had[p] = p.owner() >= 0
			p.setOwner(NoHandle)
		}
	}
	for _, it := range l.items {
		in, ok := it.(*Ins)
		if !ok || !in.op.Is(opcode.Switch) {
			continue
		}
		if p, ok := l.Get(in.target).(switchPayload); ok {
			p.setOwner(l.handles[in])
		}
	}
	for i := 0; i < len(l.items); {
		p, ok := l.items[i].(switchPayload)
		if !ok || p.owner() >= 0 || !had[p] {
			i++
			continue
		}
		l.items = slices.Delete(l.items, i, i+1)
		next := EndHandle
		if i < len(l.items) {
			next = l.handles[l.items[i]]
		}
		l.forget(p, next)
	}
}

func newPadding() *Ins {
	nop, _ := opcode.Get(0)
	in := New(nop)
	in.alignment = true
	return in
}

// layout assigns addresses and keeps every payload on an even address,
// adding or dropping padding nops as needed.
func (l *List) layout() {
	out := make([]Instruction, 0, len(l.items)+1)
	var pad *Ins
	a := 0
	for _, it := range l.items {
		if in, ok := it.(*Ins); ok && in.isPadding() {
			if pad != nil {
				l.forget(pad, l.handles[in])
			}
			pad = in
			continue
		}
		if it.Opcode().IsPayload() && a%2 == 1 {
			if pad == nil {
				pad = newPadding()
				l.register(pad)
			}
			pad.setAddress(a)
			out = append(out, pad)
			a++
			pad = nil
		}
		if pad != nil {
			l.forget(pad, l.handles[it])
			pad = nil
		}
		it.setAddress(a)
		out = append(out, it)
		a += it.CodeUnits()
	}
	if pad != nil {
		l.forget(pad, EndHandle)
	}
	l.items = out
	l.units = a
}

func (l *List) rebuildExtras() {
	clear(l.extras)
	for _, it := range l.items {
		in, ok := it.(*Ins)
		if !ok || in.target < 0 {
			continue
		}
		l.extras[in.target] = append(l.extras[in.target], Extra{Kind: branchLabel(in), From: l.handles[in]})
	}
	for _, it := range l.items {
		p, ok := it.(switchPayload)
		if !ok || p.owner() < 0 {
			continue
		}
		_, entry := p.labelKinds()
		for i, t := range p.targetList() {
			if t.handle >= 0 {
				l.extras[t.handle] = append(l.extras[t.handle], Extra{Kind: entry, Key: p.caseKey(i), From: p.owner()})
			}
		}
	}
}

func (l *List) reset() {
	for _, it := range l.items {
		it.SetParent(nil)
	}
	l.items, l.arena = nil, nil
	clear(l.handles)
	clear(l.extras)
	l.units = 0
}

func newFor(ident uint16) Instruction {
	switch ident {
	case opcode.PackedSwitchPayload:
		return NewPackedSwitchData()
	case opcode.SparseSwitchPayload:
		return NewSparseSwitchData()
	case opcode.ArrayPayload:
		return NewFillArrayData()
	}
	return newDecoded()
}

// Decode reads instructions until the size cell's code units are
// consumed, then links branch offsets to handles.
func (l *List) Decode(r *dexio.Reader) error {
	if l.size == nil {
		return errors.New("ins: decoding a list without a size")
	}
	n := l.size.Get()
	l.reset()
	for used := 0; used < n; {
		off := r.Position()
		b, err := r.Peek(2)
		if err != nil {
			return err
		}
		it := newFor(binary.LittleEndian.Uint16(b))
		if err := it.Decode(r); err != nil {
			return fmt.Errorf("instruction at 0x%x: %w", used, err)
		}
		it.setAddress(used)
		l.register(it)
		l.items = append(l.items, it)
		used += it.CodeUnits()
		if used > n {
			return dexio.Formatf("code", off, "instruction at 0x%x overruns %d code units", it.Address(), n)
		}
	}
	l.units = n
	return l.linkOffsets()
}

func payloadFor(op *opcode.Opcode) *opcode.Opcode {
	switch op.Name {
	case "packed-switch":
		return opcode.PackedSwitchData
	case "sparse-switch":
		return opcode.SparseSwitchData
	}
	return opcode.ArrayData
}

// linkOffsets turns the decoded relative offsets into handles.
func (l *List) linkOffsets() error {
	byAddr := make(map[int]Handle, len(l.items))
	for _, it := range l.items {
		byAddr[it.Address()] = l.handles[it]
	}
	targeted := make(map[Handle]bool)
	for _, it := range l.items {
		in, ok := it.(*Ins)
		if !ok || !in.op.Is(opcode.Branch|opcode.PayloadRef) {
			continue
		}
		to := in.Address() + int(in.Data())
		h, ok := byAddr[to]
		if !ok {
			return fmt.Errorf("%v: target 0x%x is not an instruction: %w", in, to, ErrNoTarget)
		}
		if in.op.Is(opcode.PayloadRef) && l.arena[h].Opcode() != payloadFor(in.op) {
			return fmt.Errorf("%v: target 0x%x is %s: %w", in, to, l.arena[h].Opcode(), ErrNoTarget)
		}
		in.target = h
		targeted[h] = true
		if p, ok := l.arena[h].(switchPayload); ok {
			p.setOwner(l.handles[in])
		}
	}
	for _, it := range l.items {
		p, ok := it.(switchPayload)
		if !ok || p.owner() < 0 {
			continue
		}
		base := l.arena[p.owner()].Address()
		for i, t := range p.targetList() {
			h, ok := byAddr[base+t.Get()]
			if !ok {
				return fmt.Errorf("%v case %d: target 0x%x is not an instruction: %w",
					l.arena[p.owner()], i, base+t.Get(), ErrNoTarget)
			}
			t.handle = h
			targeted[h] = true
		}
	}
	// a nop something branches to is code, even where it could be padding
	for i, it := range l.items {
		in, ok := it.(*Ins)
		if ok && isNop(in) && in.Address()%2 == 1 && !targeted[l.handles[in]] &&
			i+1 < len(l.items) && l.items[i+1].Opcode().IsPayload() {
			in.alignment = true
		}
	}
	l.relink()
	return nil
}

var widerGoto = map[string]string{
	"goto":    "goto/16",
	"goto/16": "goto/32",
}

// encodeOffsets writes every target back as a relative offset. It widens
// a goto whose offset no longer fits and reports that the layout grew.
func (l *List) encodeOffsets() (bool, error) {
	grown := false
	for _, it := range l.items {
		switch it := it.(type) {
		case *Ins:
			if !it.op.Is(opcode.Branch | opcode.PayloadRef) {
				continue
			}
			to, ok := l.AddressOf(it.target)
			if !ok || it.target == EndHandle {
				return false, fmt.Errorf("%v: %w", it, ErrNoTarget)
			}
			err := it.SetData(int64(to - it.Address()))
			if err == nil {
				continue
			}
			name, ok := widerGoto[it.op.Name]
			if !ok || !errors.Is(err, ErrLiteralRange) {
				return false, err
			}
			wider, _ := opcode.ByName(name)
			if err := it.SetOpcode(wider); err != nil {
				return false, err
			}
			grown = true
		case switchPayload:
			base, ok := l.AddressOf(it.owner())
			if !ok {
				// a table no switch has ever claimed keeps the offsets it
				// was read with
				continue
			}
			for i, t := range it.targetList() {
				to, ok := l.AddressOf(t.handle)
				if !ok || t.handle == EndHandle {
					return false, fmt.Errorf("%s case %d: %w", it.Opcode(), i, ErrNoTarget)
				}
				t.Set(to - base)
			}
		}
	}
	return grown, nil
}

func (l *List) BeforeRefresh() error {
	if l.depth > 0 {
		return errors.New("ins: refresh inside a Link bracket")
	}
	l.relink()
	for {
		grown, err := l.encodeOffsets()
		if err != nil {
			return err
		}
		if !grown {
			return nil
		}
		l.layout()
	}
}

func (l *List) AfterRefresh() error {
	if l.size != nil {
		l.size.Set(l.units)
	}
	return nil
}

func (l *List) Children() []block.Block {
	out := make([]block.Block, len(l.items))
	for i, it := range l.items {
		out[i] = it
	}
	return out
}

func (l *List) CountBytes() int {
	n := 0
	for _, it := range l.items {
		n += it.CountBytes()
	}
	return n
}

func (l *List) WriteTo(w io.Writer) (int64, error) {
	return block.WriteAll(w, l.Children()...)
}
