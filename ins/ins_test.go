package ins

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanm/go-edit-a-dex/block"
	"github.com/thanm/go-edit-a-dex/dexio"
	"github.com/thanm/go-edit-a-dex/key"
	"github.com/thanm/go-edit-a-dex/opcode"
	"github.com/thanm/go-edit-a-dex/smali"
)

func op(t *testing.T, name string) *opcode.Opcode {
	t.Helper()
	o, ok := opcode.ByName(name)
	require.True(t, ok, name)
	return o
}

func unitBytes(units ...uint16) []byte {
	b := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[2*i:], u)
	}
	return b
}

// switchCode is
//
//	0: packed-switch v0, +6
//	3: const/4 v0, 0x1
//	4: return v0
//	5: goto -2
//	6: packed-switch-payload first 0x1, case -> 4
var switchCode = []uint16{
	0x002b, 0x0006, 0x0000,
	0x1012,
	0x000f,
	0xfe28,
	0x0100, 0x0001, 0x0001, 0x0000, 0x0004, 0x0000,
}

func decodeList(t *testing.T, units []uint16) (*List, *block.IntegerItem) {
	t.Helper()
	size := block.NewIntegerItem()
	size.Set(len(units))
	l := NewList(size, nil)
	require.NoError(t, block.Read(l, unitBytes(units...)))
	return l, size
}

func TestOperands(t *testing.T) {
	in := New(op(t, "const/4"))
	require.NoError(t, in.SetRegister(0, 15))
	require.NoError(t, in.SetData(-8))
	assert.Equal(t, uint16(0x8f12), in.Units()[0])
	assert.Equal(t, int64(-8), in.Data())
	assert.ErrorIs(t, in.SetRegister(0, 16), ErrRegisterLimit)
	assert.ErrorIs(t, in.SetData(8), ErrLiteralRange)

	mv := New(op(t, "move/from16"))
	require.NoError(t, mv.SetRegister(0, 0xff))
	require.NoError(t, mv.SetRegister(1, 0xffff))
	assert.Equal(t, []int{0xff, 0xffff}, mv.Registers())
	assert.ErrorIs(t, mv.SetRegister(0, 0x100), ErrRegisterLimit)

	add := New(op(t, "add-int/lit8"))
	require.NoError(t, add.SetRegister(1, 0xab))
	require.NoError(t, add.SetData(-1))
	assert.Equal(t, 0xab, add.Register(1))
	assert.Equal(t, int64(-1), add.Data())
}

func TestInvokeRegisters(t *testing.T) {
	inv := New(op(t, "invoke-virtual"))
	require.NoError(t, inv.SetRegistersCount(3))
	for i, r := range []int{1, 2, 3} {
		require.NoError(t, inv.SetRegister(i, r))
	}
	require.NoError(t, inv.SetIndex(7))
	assert.Equal(t, []uint16{0x306e, 0x0007, 0x0321}, inv.Units())
	assert.ErrorIs(t, inv.SetRegistersCount(6), ErrRegisterLimit)

	require.NoError(t, inv.SetRegistersCount(5))
	require.NoError(t, inv.SetRegister(4, 9))
	assert.Equal(t, 9, inv.Register(4))
	assert.Equal(t, key.RawKey{Of: key.KindMethod, Index: 7}, inv.Key(nil))

	rng := New(op(t, "invoke-virtual/range"))
	require.NoError(t, rng.SetRegistersCount(3))
	require.NoError(t, rng.SetRegister(0, 4))
	assert.Equal(t, []int{4, 5, 6}, rng.Registers())
}

func TestHigh16(t *testing.T) {
	c := New(op(t, "const/high16"))
	require.NoError(t, c.SetData(0x7f010000))
	assert.Equal(t, uint16(0x7f01), c.Units()[1])
	assert.Equal(t, int64(0x7f010000), c.Data())
	assert.ErrorIs(t, c.SetData(0x7f010001), ErrLiteralRange)

	w := New(op(t, "const-wide/high16"))
	require.NoError(t, w.SetData(0x4000000000000000))
	assert.Equal(t, uint16(0x4000), w.Units()[1])
	assert.Equal(t, int64(0x4000000000000000), w.Data())
}

func TestSetOpcode(t *testing.T) {
	g := New(op(t, "goto"))
	require.NoError(t, g.SetData(-3))
	require.NoError(t, g.SetOpcode(op(t, "goto/32")))
	assert.Equal(t, 3, g.CodeUnits())
	assert.Equal(t, int64(-3), g.Data())
}

func TestDecodeLinks(t *testing.T) {
	l, _ := decodeList(t, switchCode)
	require.Equal(t, 5, l.Len())
	sw := l.At(0).(*Ins)
	p := l.At(4).(*PackedSwitchData)
	assert.Equal(t, l.Handle(p), sw.Target())
	assert.Equal(t, l.Handle(l.At(2)), p.TargetAt(0).Handle())
	assert.Equal(t, l.Handle(l.At(1)), l.At(3).(*Ins).Target())
	assert.Equal(t, int32(1), p.Key(0))

	extras := l.Extras(l.Handle(l.At(2)))
	require.Len(t, extras, 1)
	assert.Equal(t, Extra{Kind: LabelPackedSwitch, Key: 1, From: l.Handle(sw)}, extras[0])
}

func TestBinaryRoundTrip(t *testing.T) {
	l, size := decodeList(t, switchCode)
	require.NoError(t, block.Refresh(l))
	b, err := block.Bytes(l)
	require.NoError(t, err)
	assert.Equal(t, unitBytes(switchCode...), b)
	assert.Equal(t, len(switchCode), size.Get())
}

func TestInsertRealigns(t *testing.T) {
	l, size := decodeList(t, switchCode)
	c := New(op(t, "const/4"))
	require.NoError(t, c.SetRegister(0, 1))
	l.Insert(1, c)

	// the payload moved to 7 and needs a padding nop
	require.Equal(t, 7, l.Len())
	assert.Equal(t, "nop", l.At(5).Opcode().Name)
	p := l.At(6).(*PackedSwitchData)
	assert.Equal(t, 8, p.Address())

	require.NoError(t, block.Refresh(l))
	assert.Equal(t, 14, size.Get())
	assert.Equal(t, int64(8), l.At(0).(*Ins).Data())
	assert.Equal(t, 5, p.TargetAt(0).Get())
	assert.Equal(t, int64(-2), l.At(4).(*Ins).Data())

	require.True(t, l.Remove(c))
	require.NoError(t, block.Refresh(l))
	b, err := block.Bytes(l)
	require.NoError(t, err)
	assert.Equal(t, unitBytes(switchCode...), b)
}

func TestRemoveMovesReferences(t *testing.T) {
	l := NewList(nil, nil)
	g := New(op(t, "goto"))
	l.Add(g)
	mid := New(op(t, "nop"))
	h := l.Add(mid)
	ret := l.Add(New(op(t, "return-void")))
	require.NoError(t, l.SetTarget(g, h))

	l.Remove(mid)
	assert.Equal(t, ret, g.Target())
	assert.Nil(t, l.Get(h))
}

func TestSparseSwitchSort(t *testing.T) {
	l := NewList(block.NewIntegerItem(), nil)
	sw := New(op(t, "sparse-switch"))
	l.Add(sw)
	var nops []Handle
	for i := 0; i < 21; i++ {
		nops = append(nops, l.Add(New(op(t, "nop"))))
	}
	s := NewSparseSwitchData()
	require.NoError(t, l.SetTarget(sw, l.Add(s)))

	// nop i sits at address 3+i
	s.Add(1, nops[7])
	s.Add(5, nops[17])
	s.Add(3, nops[12])
	require.NoError(t, block.Refresh(l))

	assert.Equal(t, []int32{1, 3, 5}, s.Keys())
	for i, want := range []int{10, 15, 20} {
		a, ok := l.AddressOf(s.TargetAt(i).Handle())
		require.True(t, ok)
		assert.Equal(t, want, a)
		assert.Equal(t, want, s.TargetAt(i).Get())
	}
}

// sparseList is a sparse-switch at 0, n nops from 3 and the table
// after them.
func sparseList(t *testing.T, n int) (*List, *SparseSwitchData, []Handle) {
	t.Helper()
	l := NewList(block.NewIntegerItem(), nil)
	sw := New(op(t, "sparse-switch"))
	l.Add(sw)
	var nops []Handle
	for i := 0; i < n; i++ {
		nops = append(nops, l.Add(New(op(t, "nop"))))
	}
	s := NewSparseSwitchData()
	require.NoError(t, l.SetTarget(sw, l.Add(s)))
	return l, s, nops
}

func TestSparseSwitchSetKeyKeepsPairs(t *testing.T) {
	l, s, nops := sparseList(t, 4)
	s.Add(1, nops[0])
	s.Add(2, nops[1])
	s.Add(3, nops[2])
	require.NoError(t, block.Refresh(l))

	s.SetKey(0, 9)
	require.NoError(t, block.Refresh(l))
	assert.Equal(t, []int32{2, 3, 9}, s.Keys())
	for i, want := range []Handle{nops[1], nops[2], nops[0]} {
		assert.Equal(t, want, s.TargetAt(i).Handle(), "case %d", i)
		a, _ := l.AddressOf(want)
		assert.Equal(t, a, s.TargetAt(i).Get(), "case %d", i)
	}
}

func TestSparseSwitchRepeatedKey(t *testing.T) {
	l, s, nops := sparseList(t, 1)
	s.Add(1, nops[0])
	s.Add(1, nops[0])
	assert.ErrorContains(t, block.Refresh(l), "key 0x1 repeated")
}

// reparse prints code as the body of a method and parses it back.
func reparse(t *testing.T, code *smali.Code) *smali.Code {
	t.Helper()
	text := ".class LA;\n.method static f(I)I\n" + smali.Text(code) + ".end method\n"
	c, err := smali.ParseClassString("A.smali", text)
	require.NoError(t, err, text)
	require.Len(t, c.Methods, 1)
	return c.Methods[0].Code
}

func sparseIn(t *testing.T, l *List) *SparseSwitchData {
	t.Helper()
	for _, it := range l.Items() {
		if s, ok := it.(*SparseSwitchData); ok {
			return s
		}
	}
	require.Fail(t, "no sparse-switch payload")
	return nil
}

func TestSparseSwitchTextRoundTrip(t *testing.T) {
	// six nops put the table on an odd address, so it gets padding
	l, s, nops := sparseList(t, 6)
	s.Add(10, nops[4])
	s.Add(-3, nops[0])
	s.Add(7, nops[2])
	require.NoError(t, block.Refresh(l))
	assert.Equal(t, 10, s.Address())
	want, err := block.Bytes(l)
	require.NoError(t, err)

	code := &smali.Code{Registers: 1}
	require.NoError(t, l.ToSmali(code, nil))
	back := NewList(block.NewIntegerItem(), nil)
	_, err = back.FromSmali(reparse(t, code))
	require.NoError(t, err)
	require.NoError(t, block.Refresh(back))

	bs := sparseIn(t, back)
	assert.Equal(t, []int32{-3, 7, 10}, bs.Keys())
	for i, addr := range []int{3, 5, 7} {
		a, ok := back.AddressOf(bs.TargetAt(i).Handle())
		require.True(t, ok)
		assert.Equal(t, addr, a, "case %d", i)
	}
	got, err := block.Bytes(back)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDanglingBranch(t *testing.T) {
	l := NewList(block.NewIntegerItem(), nil)
	g := New(op(t, "goto"))
	l.Add(g)
	ret := New(op(t, "return-void"))
	require.NoError(t, l.SetTarget(g, l.Add(ret)))
	l.Remove(ret)

	err := block.Refresh(l)
	assert.ErrorIs(t, err, ErrNoTarget)
	assert.ErrorIs(t, err, key.ErrUnresolved)
}

func TestLinkNesting(t *testing.T) {
	l := NewList(nil, nil)
	l.Add(New(op(t, "nop")))
	ret := New(op(t, "return-void"))
	l.Add(ret)
	passes := l.relinks

	l.Link()
	l.Link()
	l.Insert(0, New(op(t, "const/16")))
	l.Unlink()
	assert.Equal(t, 1, ret.Address(), "inner Unlink defers layout")
	assert.Equal(t, passes, l.relinks)
	assert.Error(t, block.Refresh(l))
	l.Unlink()
	assert.Equal(t, 3, ret.Address())
	assert.Equal(t, passes+1, l.relinks)

	assert.Panics(t, func() { l.Unlink() })
}

func TestGotoWidening(t *testing.T) {
	l := NewList(block.NewIntegerItem(), nil)
	g := New(op(t, "goto"))
	l.Add(g)
	for i := 0; i < 200; i++ {
		l.Add(New(op(t, "nop")))
	}
	require.NoError(t, l.SetTarget(g, l.Add(New(op(t, "return-void")))))
	require.NoError(t, block.Refresh(l))
	assert.Equal(t, "goto/16", g.Opcode().Name)
	assert.Equal(t, int64(202), g.Data())
	assert.Equal(t, 203, l.Units())
}

func TestFillArrayData(t *testing.T) {
	a := NewFillArrayData()
	require.NoError(t, a.SetValues(1, []int64{1, -1, 3}))
	assert.Equal(t, 6, a.CodeUnits())
	b, err := block.Bytes(a)
	require.NoError(t, err)

	back := NewFillArrayData()
	require.NoError(t, block.Read(back, b))
	assert.Equal(t, []int64{1, -1, 3}, back.Values())
	assert.Error(t, a.SetValues(3, nil))
}

func TestDecodeErrors(t *testing.T) {
	size := block.NewIntegerItem()
	size.Set(1)
	err := block.Read(NewList(size, nil), unitBytes(0x003e))
	assert.ErrorIs(t, err, dexio.ErrFormat)

	// goto +5 lands past the end
	size.Set(2)
	err = block.Read(NewList(size, nil), unitBytes(0x0528, 0x0000))
	assert.ErrorIs(t, err, ErrNoTarget)
	assert.ErrorIs(t, err, key.ErrUnresolved)
}

func TestSwitchConversion(t *testing.T) {
	l, _ := decodeList(t, switchCode)
	p := l.At(4).(*PackedSwitchData)
	h := l.Handle(p)

	s, err := l.ToSparse(p)
	require.NoError(t, err)
	assert.Equal(t, h, l.Handle(s))
	assert.Equal(t, "sparse-switch", l.At(0).Opcode().Name)
	assert.Equal(t, []int32{1}, s.Keys())
	require.NoError(t, block.Refresh(l))
	assert.Equal(t, 4, s.TargetAt(0).Get())

	back, err := l.ToPacked(s)
	require.NoError(t, err)
	assert.Equal(t, "packed-switch", l.At(0).Opcode().Name)
	require.NoError(t, block.Refresh(l))
	b, err := block.Bytes(l)
	require.NoError(t, err)
	assert.Equal(t, unitBytes(switchCode...), b)
	assert.Equal(t, int32(1), back.FirstKey())

	gap := NewSparseSwitchData()
	gap.Add(1, NoHandle)
	gap.Add(3, NoHandle)
	_, err = gap.ToPacked()
	assert.ErrorIs(t, err, ErrNotSequential)
}

func TestToSmali(t *testing.T) {
	l, _ := decodeList(t, switchCode)
	code := &smali.Code{Registers: 1}
	require.NoError(t, l.ToSmali(code, nil))
	want := ".registers 1\n" +
		"packed-switch v0, :pswitch_data_6\n" +
		"\n" +
		":goto_3\n" +
		"const/4 v0, 0x1\n" +
		"\n" +
		":pswitch_4    # case 0x1\n" +
		"return v0\n" +
		"goto :goto_3\n" +
		"\n" +
		":pswitch_data_6\n" +
		".packed-switch 0x1\n" +
		"    :pswitch_4\n" +
		".end packed-switch\n"
	assert.Equal(t, want, smali.Text(code))
}

func TestRemovedSwitchDropsItsTable(t *testing.T) {
	l, _ := decodeList(t, switchCode)
	l.Remove(l.At(0))
	require.NoError(t, block.Refresh(l))
	require.Equal(t, 3, l.Len())
	for _, it := range l.Items() {
		assert.False(t, it.Opcode().IsPayload(), "%v", it)
	}

	code := &smali.Code{Registers: 1}
	require.NoError(t, l.ToSmali(code, nil))
	assert.NotContains(t, smali.Text(code), "pswitch")
	back := NewList(block.NewIntegerItem(), nil)
	_, err := back.FromSmali(reparse(t, code))
	require.NoError(t, err)
	require.NoError(t, block.Refresh(back))
	want, err := block.Bytes(l)
	require.NoError(t, err)
	got, err := block.Bytes(back)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUnclaimedTableStays(t *testing.T) {
	l := NewList(block.NewIntegerItem(), nil)
	s := NewSparseSwitchData()
	h := l.Add(s)
	l.Add(New(op(t, "nop")))
	assert.Equal(t, h, l.Handle(s))

	code := &smali.Code{Registers: 1}
	assert.ErrorIs(t, l.ToSmali(code, nil), ErrNoTarget)
}

// caseOnNop is
//
//	0: packed-switch v0, +4
//	3: nop, the only case
//	4: packed-switch-payload first 0x1, case -> 3
var caseOnNop = []uint16{
	0x002b, 0x0004, 0x0000,
	0x0000,
	0x0100, 0x0001, 0x0001, 0x0000, 0x0003, 0x0000,
}

func TestTargetedNopIsNotPadding(t *testing.T) {
	l, _ := decodeList(t, caseOnNop)
	require.Equal(t, 3, l.Len())
	assert.False(t, l.At(1).(*Ins).isPadding())

	code := &smali.Code{Registers: 1}
	require.NoError(t, l.ToSmali(code, nil))
	assert.Contains(t, smali.Text(code), ":pswitch_3    # case 0x1\nnop\n")

	back := NewList(block.NewIntegerItem(), nil)
	_, err := back.FromSmali(reparse(t, code))
	require.NoError(t, err)
	require.NoError(t, block.Refresh(back))
	b, err := block.Bytes(back)
	require.NoError(t, err)
	assert.Equal(t, unitBytes(caseOnNop...), b)
}

const loopSmali = `
.class LA;
.method static f(I)I
    .registers 2
    if-eqz p0, :done
    :again
    add-int/lit8 p0, p0, -0x1
    if-nez p0, :again
    :done
    return p0
.end method
`

func TestFromSmali(t *testing.T) {
	c, err := smali.ParseClassString("A.smali", loopSmali)
	require.NoError(t, err)
	code := c.Methods[0].Code

	l := NewList(block.NewIntegerItem(), nil)
	labels, err := l.FromSmali(code)
	require.NoError(t, err)

	// forward and backward references resolve alike
	done, ok := l.AddressOf(labels["done"])
	require.True(t, ok)
	assert.Equal(t, 6, done)
	again, _ := l.AddressOf(labels["again"])
	assert.Equal(t, 2, again)
	assert.Equal(t, labels["done"], l.At(0).(*Ins).Target())

	require.NoError(t, block.Refresh(l))
	assert.Equal(t, int64(6), l.At(0).(*Ins).Data())
	assert.Equal(t, int64(-2), l.At(2).(*Ins).Data())
	assert.Equal(t, 1, l.At(1).(*Ins).Register(0))

	out := &smali.Code{Registers: 2, ParamRegisters: 1}
	require.NoError(t, l.ToSmali(out, nil))
	want := ".registers 2\n" +
		"if-eqz p0, :cond_6\n" +
		"\n" +
		":cond_2\n" +
		"add-int/lit8 p0, p0, -0x1\n" +
		"if-nez p0, :cond_2\n" +
		"\n" +
		":cond_6\n" +
		"return p0\n"
	assert.Equal(t, want, smali.Text(out))
}

func TestFromSmaliErrors(t *testing.T) {
	bad := &smali.Code{Registers: 1}
	in := &smali.Instruction{Opcode: op(t, "goto"), Label: "nowhere"}
	bad.Add(in)
	_, err := NewList(nil, nil).FromSmali(bad)
	assert.ErrorIs(t, err, smali.ErrParse)
	assert.ErrorIs(t, err, key.ErrUnresolved)
	assert.Contains(t, err.Error(), "unknown label ':nowhere'")

	wide := &smali.Code{Registers: 300}
	wide.Add(&smali.Instruction{Opcode: op(t, "const/4"), Registers: []smali.Register{{Num: 20}}, Literal: key.Int(1)})
	_, err = NewList(nil, nil).FromSmali(wide)
	assert.ErrorIs(t, err, ErrRegisterLimit)
}

func TestRefsThroughPool(t *testing.T) {
	pool := key.NewPool()
	s := key.NewStringKey("hi")
	code := &smali.Code{Registers: 1}
	code.Add(&smali.Instruction{Opcode: op(t, "const-string"), Registers: []smali.Register{{Num: 0}}, Ref: s})
	l := NewList(nil, pool)
	_, err := l.FromSmali(code)
	require.NoError(t, err)
	in := l.At(0).(*Ins)
	idx, ok := pool.IndexOf(s)
	require.True(t, ok)
	assert.Equal(t, idx, in.Index())
	assert.Equal(t, s, in.Key(pool))

	_, err = NewList(nil, nil).FromSmali(code)
	var unresolved *key.UnresolvedError
	assert.ErrorAs(t, err, &unresolved)
}
