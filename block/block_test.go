package block

import (
	"cmp"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanm/go-edit-a-dex/dexio"
)

// countedList is a u16 count followed by that many u32 values, the shape
// of most DEX tables.
type countedList struct {
	Composite
	count  *ShortItem
	values *Array[*IntegerItem]
}

func newCountedList() *countedList {
	c := &countedList{count: NewShortItem()}
	c.values = NewArray(NewIntegerItem, c.count)
	c.Init(c, c.count, c.values)
	return c
}

func TestCountMirrorsLength(t *testing.T) {
	c := newCountedList()
	for i := 0; i < 5; i++ {
		c.values.CreateNext().Set(i * 10)
		assert.Equal(t, c.values.Len(), c.count.Get())
	}
	require.True(t, c.values.Remove(c.values.At(2)))
	assert.Equal(t, 4, c.count.Get())
	assert.False(t, c.values.Remove(NewIntegerItem()))

	c.values.RemoveAt(0)
	assert.Equal(t, 3, c.count.Get())

	c.values.SetSize(7)
	assert.Equal(t, 7, c.count.Get())
	assert.Equal(t, Block(c.values), c.values.At(6).Parent())

	n := c.values.RemoveIf(func(i *IntegerItem) bool { return i.Get() == 0 })
	assert.Equal(t, 4, n)
	assert.Equal(t, 3, c.count.Get())
}

func TestCompositeRoundTrip(t *testing.T) {
	raw := []byte{
		0x03, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0xff, 0xff, 0xff, 0xff,
		0x78, 0x56, 0x34, 0x12,
	}
	c := newCountedList()
	require.NoError(t, Read(c, raw))
	assert.Equal(t, 3, c.values.Len())
	assert.Equal(t, -1, c.values.At(1).Get())
	assert.Equal(t, uint32(0x12345678), c.values.At(2).U32())
	assert.Equal(t, len(raw), c.CountBytes())

	out, err := Bytes(c)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestRefreshRestoresCount(t *testing.T) {
	c := newCountedList()
	c.values.SetSize(2)
	c.count.Set(99)
	require.NoError(t, Refresh(c))
	assert.Equal(t, 2, c.count.Get())
}

func TestDecodeShort(t *testing.T) {
	c := newCountedList()
	err := Read(c, []byte{0x02, 0x00, 0x01, 0x00, 0x00, 0x00})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dexio.ErrShortRead))
}

func TestSortWithParallel(t *testing.T) {
	keys := NewArray(NewIntegerItem, nil)
	labels := NewArray(NewIntegerItem, nil)
	for _, kv := range [][2]int{{5, 50}, {1, 10}, {3, 30}, {1, 11}} {
		keys.CreateNext().Set(kv[0])
		labels.CreateNext().Set(kv[1])
	}
	byValue := func(x, y *IntegerItem) int { return cmp.Compare(x.Get(), y.Get()) }

	require.True(t, keys.NeedsSort(byValue))
	require.True(t, keys.SortWith(byValue, labels))
	var got [][2]int
	for i := 0; i < keys.Len(); i++ {
		got = append(got, [2]int{keys.At(i).Get(), labels.At(i).Get()})
	}
	// stable: the two 1-keys keep their relative order
	assert.Equal(t, [][2]int{{1, 10}, {1, 11}, {3, 30}, {5, 50}}, got)
	assert.False(t, keys.Sort(byValue))
}

func TestUle128KeepsEncoding(t *testing.T) {
	// 1 encoded in two bytes
	u := NewUle128Item()
	require.NoError(t, Read(u, []byte{0x81, 0x00}))
	assert.Equal(t, 1, u.Get())
	out, err := Bytes(u)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0x00}, out)

	u.Set(1)
	assert.Equal(t, 2, u.CountBytes())
	u.Set(300)
	out, err = Bytes(u)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xac, 0x02}, out)

	s := NewSle128Item()
	require.NoError(t, Read(s, []byte{0x7e}))
	assert.Equal(t, -2, s.Get())
}

func TestSignature(t *testing.T) {
	s := NewSignature("test magic", []byte("abcd"))
	err := Read(s, []byte("abce"))
	var fe *dexio.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []byte("abce"), fe.Got)
	assert.False(t, s.IsValid())

	s.DisableVerification(true)
	require.NoError(t, Read(s, []byte("abce")))
	assert.False(t, s.IsValid())
	s.ResetToDefault()
	assert.True(t, s.IsValid())
}

func TestAncestor(t *testing.T) {
	c := newCountedList()
	item := c.values.CreateNext()
	found, ok := Ancestor[*countedList](item)
	require.True(t, ok)
	assert.Same(t, c, found)
	_, ok = Ancestor[*Signature](item)
	assert.False(t, ok)
}
