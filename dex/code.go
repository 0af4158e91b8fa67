package dex

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/thanm/go-edit-a-dex/block"
	"github.com/thanm/go-edit-a-dex/dexio"
	"github.com/thanm/go-edit-a-dex/ins"
	"github.com/thanm/go-edit-a-dex/key"
	"github.com/thanm/go-edit-a-dex/opcode"
	"github.com/thanm/go-edit-a-dex/smali"
)

// CatchPair is one typed handler of an encoded_catch_handler.
type CatchPair struct {
	block.Composite
	TypeIdx *block.Ule128Item
	addr    *block.Ule128Item
	Handler ins.Handle
}

func NewCatchPair() *CatchPair {
	p := &CatchPair{TypeIdx: block.NewUle128Item(), addr: block.NewUle128Item(), Handler: ins.NoHandle}
	p.Init(p, p.TypeIdx, p.addr)
	return p
}

// pairCount presents the signed size of a catch handler as a plain
// count; the sign says whether a catch-all follows the pairs.
type pairCount struct{ h *CatchHandler }

func (c pairCount) Get() int {
	if n := c.h.size.Get(); n < 0 {
		return -n
	}
	return c.h.size.Get()
}

func (c pairCount) Set(n int) {
	if c.h.hasCatchAll {
		n = -n
	}
	c.h.size.Set(n)
}

// CatchHandler is an encoded_catch_handler.
type CatchHandler struct {
	block.Node
	size        *block.Sle128Item
	pairs       *block.Array[*CatchPair]
	catchAll    *block.Ule128Item
	hasCatchAll bool
	CatchAll    ins.Handle
	// offset within the handler list, as of the last decode or refresh
	offset int
}

func NewCatchHandler() *CatchHandler {
	h := &CatchHandler{size: block.NewSle128Item(), catchAll: block.NewUle128Item(), CatchAll: ins.NoHandle}
	h.pairs = block.NewArray(NewCatchPair, pairCount{h})
	h.pairs.SetOwner(h)
	h.size.SetParent(h)
	h.catchAll.SetParent(h)
	return h
}

func (h *CatchHandler) Pairs() []*CatchPair { return h.pairs.Items() }
func (h *CatchHandler) HasCatchAll() bool   { return h.hasCatchAll }

// AddPair appends a handler for the exception type at typeIdx.
func (h *CatchHandler) AddPair(typeIdx int, handler ins.Handle) *CatchPair {
	p := NewCatchPair()
	p.TypeIdx.Set(typeIdx)
	p.Handler = handler
	h.pairs.Add(p)
	return p
}

func (h *CatchHandler) SetCatchAll(handler ins.Handle) {
	h.hasCatchAll = handler != ins.NoHandle
	h.CatchAll = handler
	h.pairs.UpdateCount()
}

func (h *CatchHandler) Children() []block.Block {
	out := []block.Block{h.size, h.pairs}
	if h.hasCatchAll {
		out = append(out, h.catchAll)
	}
	return out
}

func (h *CatchHandler) CountBytes() int {
	n := h.size.CountBytes() + h.pairs.CountBytes()
	if h.hasCatchAll {
		n += h.catchAll.CountBytes()
	}
	return n
}

func (h *CatchHandler) Decode(r *dexio.Reader) error {
	if err := h.size.Decode(r); err != nil {
		return err
	}
	h.hasCatchAll = h.size.Get() <= 0
	if err := h.pairs.Decode(r); err != nil {
		return err
	}
	if h.hasCatchAll {
		return h.catchAll.Decode(r)
	}
	return nil
}

func (h *CatchHandler) WriteTo(w io.Writer) (int64, error) {
	return block.WriteAll(w, h.Children()...)
}

// HandlerList is the encoded_catch_handler_list that follows the tries.
type HandlerList struct {
	block.Composite
	size     *block.Ule128Item
	handlers *block.Array[*CatchHandler]
}

func NewHandlerList() *HandlerList {
	l := &HandlerList{size: block.NewUle128Item()}
	l.handlers = block.NewArray(NewCatchHandler, l.size)
	l.Init(l, l.size, l.handlers)
	l.handlers.SetOwner(l)
	return l
}

func (l *HandlerList) Handlers() []*CatchHandler { return l.handlers.Items() }

// layout records each handler's byte offset from the start of the list.
func (l *HandlerList) layout() {
	off := l.size.CountBytes()
	for _, h := range l.handlers.Items() {
		h.offset = off
		off += h.CountBytes()
	}
}

func (l *HandlerList) at(off int) (*CatchHandler, bool) {
	for _, h := range l.handlers.Items() {
		if h.offset == off {
			return h, true
		}
	}
	return nil, false
}

// TryItem is a try_item. Start and End bound the covered instructions;
// End is the first one past the range, or ins.EndHandle.
type TryItem struct {
	block.Composite
	start      *block.IntegerItem
	count      *block.ShortItem
	handlerOff *block.ShortItem
	Start      ins.Handle
	End        ins.Handle
	Handler    *CatchHandler
}

func NewTryItem() *TryItem {
	t := &TryItem{
		start:      block.NewIntegerItem(),
		count:      block.NewShortItem(),
		handlerOff: block.NewShortItem(),
		Start:      ins.NoHandle,
		End:        ins.NoHandle,
	}
	t.Init(t, t.start, t.count, t.handlerOff)
	return t
}

// StartAddress and Count are the encoded range, as of the last decode or
// refresh.
func (t *TryItem) StartAddress() int { return int(t.start.U32()) }
func (t *TryItem) Count() int        { return t.count.Get() }

// CodeItem is a code_item: the register counts, the instructions and the
// try/catch tables.
type CodeItem struct {
	block.Node
	Registers *block.ShortItem
	Ins       *block.ShortItem
	Outs      *block.ShortItem
	triesSize *block.ShortItem
	DebugInfo *block.IntegerItem
	insnsSize *block.IntegerItem
	Insns     *ins.List
	padding   *block.ShortItem
	tries     *block.Array[*TryItem]
	handlers  *HandlerList
}

// NewCodeItem returns an empty code item; pool resolves the references
// of its instructions and catch types.
func NewCodeItem(pool *key.Pool) *CodeItem {
	c := &CodeItem{
		Registers: block.NewShortItem(),
		Ins:       block.NewShortItem(),
		Outs:      block.NewShortItem(),
		triesSize: block.NewShortItem(),
		DebugInfo: block.NewIntegerItem(),
		insnsSize: block.NewIntegerItem(),
		padding:   block.NewShortItem(),
		handlers:  NewHandlerList(),
	}
	c.Insns = ins.NewList(c.insnsSize, pool)
	c.tries = block.NewArray(NewTryItem, c.triesSize)
	c.tries.SetOwner(c)
	for _, b := range c.fixed() {
		b.SetParent(c)
	}
	c.Insns.OnRetarget(c.retarget)
	return c
}

func (c *CodeItem) fixed() []block.Block {
	return []block.Block{c.Registers, c.Ins, c.Outs, c.triesSize, c.DebugInfo, c.insnsSize,
		c.Insns, c.padding, c.tries, c.handlers}
}

func (c *CodeItem) Pool() *key.Pool        { return c.Insns.Pool() }
func (c *CodeItem) Tries() []*TryItem      { return c.tries.Items() }
func (c *CodeItem) Handlers() *HandlerList { return c.handlers }

func (c *CodeItem) hasPadding() bool { return c.tries.Len() > 0 && c.Insns.Units()%2 == 1 }

func (c *CodeItem) Children() []block.Block {
	out := []block.Block{c.Registers, c.Ins, c.Outs, c.triesSize, c.DebugInfo, c.insnsSize, c.Insns}
	if c.tries.Len() == 0 {
		return out
	}
	if c.hasPadding() {
		out = append(out, c.padding)
	}
	return append(out, c.tries, c.handlers)
}

func (c *CodeItem) CountBytes() int {
	n := 0
	for _, b := range c.Children() {
		n += b.CountBytes()
	}
	return n
}

func (c *CodeItem) WriteTo(w io.Writer) (int64, error) {
	return block.WriteAll(w, c.Children()...)
}

func (c *CodeItem) Decode(r *dexio.Reader) error {
	off := r.Position()
	for _, b := range []block.Block{c.Registers, c.Ins, c.Outs, c.triesSize, c.DebugInfo, c.insnsSize, c.Insns} {
		if err := b.Decode(r); err != nil {
			return err
		}
	}
	if c.triesSize.Get() == 0 {
		c.tries.Clear()
		c.handlers.handlers.Clear()
		return nil
	}
	if c.Insns.Units()%2 == 1 {
		if err := c.padding.Decode(r); err != nil {
			return err
		}
	}
	if err := c.tries.Decode(r); err != nil {
		return err
	}
	if err := c.handlers.Decode(r); err != nil {
		return err
	}
	return c.link(off)
}

func (c *CodeItem) handleAt(off, addr int, what string) (ins.Handle, error) {
	h, ok := c.Insns.HandleAt(addr)
	if !ok {
		return ins.NoHandle, dexio.Formatf("code item", off, "%s address 0x%x is not an instruction", what, addr)
	}
	return h, nil
}

// link resolves try ranges and handler addresses to handles.
func (c *CodeItem) link(off int) error {
	c.handlers.layout()
	for _, h := range c.handlers.Handlers() {
		for _, p := range h.Pairs() {
			var err error
			if p.Handler, err = c.handleAt(off, p.addr.Get(), "catch"); err != nil {
				return err
			}
		}
		if h.hasCatchAll {
			var err error
			if h.CatchAll, err = c.handleAt(off, h.catchAll.Get(), "catch-all"); err != nil {
				return err
			}
		}
	}
	for i, t := range c.tries.Items() {
		var err error
		if t.Start, err = c.handleAt(off, t.StartAddress(), "try start"); err != nil {
			return err
		}
		if t.End, err = c.handleAt(off, t.StartAddress()+t.Count(), "try end"); err != nil {
			return err
		}
		var ok bool
		if t.Handler, ok = c.handlers.at(t.handlerOff.Get()); !ok {
			return dexio.Formatf("code item", off, "try %d: no handler at offset %d", i, t.handlerOff.Get())
		}
	}
	return nil
}

func (c *CodeItem) retarget(from, to ins.Handle) {
	move := func(h *ins.Handle) {
		if *h == from {
			*h = to
		}
	}
	for _, t := range c.tries.Items() {
		move(&t.Start)
		move(&t.End)
	}
	for _, h := range c.handlers.Handlers() {
		for _, p := range h.Pairs() {
			move(&p.Handler)
		}
		move(&h.CatchAll)
	}
}

// AddTry covers [start, end) with handler, adding the handler to the
// list if it is new.
func (c *CodeItem) AddTry(start, end ins.Handle, handler *CatchHandler) *TryItem {
	if c.handlers.handlers.IndexOf(handler) < 0 {
		c.handlers.handlers.Add(handler)
	}
	t := c.tries.CreateNext()
	t.Start, t.End, t.Handler = start, end, handler
	return t
}

func (c *CodeItem) address(h ins.Handle, what string) (int, error) {
	a, ok := c.Insns.AddressOf(h)
	if !ok {
		return 0, fmt.Errorf("%s: %w", what, ins.ErrNoTarget)
	}
	return a, nil
}

// AfterRefresh re-encodes the try table from the handles: empty ranges
// go, the rest are sorted by address, then handler addresses and offsets
// are recomputed.
func (c *CodeItem) AfterRefresh() error {
	type span struct {
		t          *TryItem
		start, end int
	}
	var spans []span
	for _, t := range c.tries.Items() {
		start, err := c.address(t.Start, "try start")
		if err != nil {
			return err
		}
		end, err := c.address(t.End, "try end")
		if err != nil {
			return err
		}
		spans = append(spans, span{t, start, end})
	}
	c.tries.RemoveIf(func(t *TryItem) bool {
		for _, s := range spans {
			if s.t == t {
				return s.end <= s.start
			}
		}
		return false
	})
	c.tries.Sort(func(x, y *TryItem) int {
		return cmp.Compare(c.Insns.IndexOf(c.Insns.Get(x.Start)), c.Insns.IndexOf(c.Insns.Get(y.Start)))
	})
	for _, s := range spans {
		if s.end-s.start > 0xffff {
			return fmt.Errorf("try at 0x%x covers %d code units", s.start, s.end-s.start)
		}
		s.t.start.Set(s.start)
		s.t.count.Set(s.end - s.start)
	}
	for _, h := range c.handlers.Handlers() {
		for _, p := range h.Pairs() {
			a, err := c.address(p.Handler, "catch")
			if err != nil {
				return err
			}
			p.addr.Set(a)
		}
		if h.hasCatchAll {
			a, err := c.address(h.CatchAll, "catch-all")
			if err != nil {
				return err
			}
			h.catchAll.Set(a)
		}
		h.pairs.UpdateCount()
	}
	c.handlers.layout()
	for _, t := range c.tries.Items() {
		t.handlerOff.Set(t.Handler.offset)
	}
	c.triesSize.Set(c.tries.Len())
	c.padding.Set(0)
	if c.tries.Len() == 0 {
		c.handlers.handlers.Clear()
	}
	return nil
}

// outsFor is the widest argument list any invoke passes.
func outsFor(l *ins.List) int {
	n := 0
	for _, it := range l.Items() {
		if in, ok := it.(*ins.Ins); ok && in.Opcode().Is(opcode.Invoke) {
			n = max(n, in.RegistersCount())
		}
	}
	return n
}

// ToSmali fills in code from the item. Try bounds and handlers are
// labelled by address, and the .catch lines follow the instructions.
// code.ParamRegisters must already be set from the method prototype.
func (c *CodeItem) ToSmali(code *smali.Code) error {
	code.Registers = c.Registers.Get()
	extra := make(map[int][]string)
	addLabel := func(kind ins.LabelKind, h ins.Handle) (string, error) {
		a, err := c.address(h, kind.String())
		if err != nil {
			return "", err
		}
		name := kind.Name(a)
		if !slices.Contains(extra[a], name) {
			extra[a] = append(extra[a], name)
		}
		return name, nil
	}
	var catches []*smali.Catch
	for _, t := range c.tries.Items() {
		start, err := addLabel(ins.LabelTryStart, t.Start)
		if err != nil {
			return err
		}
		end, err := addLabel(ins.LabelTryEnd, t.End)
		if err != nil {
			return err
		}
		for _, p := range t.Handler.Pairs() {
			handler, err := addLabel(ins.LabelCatch, p.Handler)
			if err != nil {
				return err
			}
			tk, err := c.catchType(p.TypeIdx.Get())
			if err != nil {
				return err
			}
			catches = append(catches, &smali.Catch{Type: tk, Start: start, End: end, Handler: handler})
		}
		if t.Handler.hasCatchAll {
			handler, err := addLabel(ins.LabelCatchAll, t.Handler.CatchAll)
			if err != nil {
				return err
			}
			catches = append(catches, &smali.Catch{Start: start, End: end, Handler: handler})
		}
	}
	if err := c.Insns.ToSmali(code, extra); err != nil {
		return err
	}
	for _, ct := range catches {
		code.Add(ct)
	}
	return nil
}

func (c *CodeItem) catchType(idx int) (key.TypeKey, error) {
	if c.Pool() == nil {
		return key.TypeKey{}, &key.UnresolvedError{What: "type", Ref: key.RawRef(key.KindType, idx)}
	}
	return c.Pool().Type(idx)
}

// FromSmali replaces the item's contents with code. The ins size is
// code.ParamRegisters and outs is derived from the invokes.
func (c *CodeItem) FromSmali(code *smali.Code) error {
	pool := c.Pool()
	c.Insns = ins.NewList(c.insnsSize, pool)
	c.Insns.SetParent(c)
	c.Insns.OnRetarget(c.retarget)
	c.tries.Clear()
	c.handlers.handlers.Clear()

	labels, err := c.Insns.FromSmali(code)
	if err != nil {
		return err
	}
	c.Registers.Set(code.Registers)
	c.Ins.Set(code.ParamRegisters)
	c.Outs.Set(outsFor(c.Insns))

	lookup := func(ct *smali.Catch, name string) (ins.Handle, error) {
		h, ok := labels[name]
		if !ok {
			return ins.NoHandle, &smali.ParseError{
				Origin: ct.Origin,
				Msg:    fmt.Sprintf("unknown label ':%s'", name),
				Err:    &key.UnresolvedError{What: "label", Ref: ":" + name},
			}
		}
		return h, nil
	}
	type rng struct{ start, end ins.Handle }
	byRange := make(map[rng]*CatchHandler)
	for _, e := range code.Elements {
		ct, ok := e.(*smali.Catch)
		if !ok {
			continue
		}
		var r rng
		if r.start, err = lookup(ct, ct.Start); err != nil {
			return err
		}
		if r.end, err = lookup(ct, ct.End); err != nil {
			return err
		}
		handler, err := lookup(ct, ct.Handler)
		if err != nil {
			return err
		}
		h, ok := byRange[r]
		if !ok {
			h = NewCatchHandler()
			byRange[r] = h
			c.AddTry(r.start, r.end, h)
		}
		if ct.IsCatchAll() {
			h.SetCatchAll(handler)
			continue
		}
		if pool == nil {
			return &key.UnresolvedError{What: "type", Ref: ct.Type.String()}
		}
		h.AddPair(pool.Intern(ct.Type), handler)
	}
	return block.Refresh(c)
}
