package opcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanm/go-edit-a-dex/key"
)

func TestLookup(t *testing.T) {
	var values = []uint16{0x00, 0x12, 0x18, 0x2b, 0x6e, 0xb0, 0xe2, 0xfa, 0xff}
	var expected = []string{"nop", "const/4", "const-wide", "packed-switch",
		"invoke-virtual", "add-int/2addr", "ushr-int/lit8", "invoke-polymorphic",
		"const-method-type"}
	for i, v := range values {
		o, ok := Get(v)
		require.True(t, ok, "0x%x", v)
		assert.Equal(t, expected[i], o.Name)
		byname, ok := ByName(o.Name)
		require.True(t, ok)
		assert.Same(t, o, byname)
	}

	for _, v := range []uint16{0x3e, 0x43, 0x73, 0x79, 0xe3, 0xf9, 0x0400} {
		_, ok := Get(v)
		assert.False(t, ok, "0x%x", v)
	}
}

func TestFromUnit(t *testing.T) {
	o, ok := FromUnit(0x0100)
	require.True(t, ok)
	assert.Same(t, PackedSwitchData, o)

	// nop with a non-zero high byte is still nop
	o, ok = FromUnit(0x0400)
	require.True(t, ok)
	assert.Equal(t, "nop", o.Name)

	o, ok = FromUnit(0x2301)
	require.True(t, ok)
	assert.Equal(t, "move", o.Name)
}

func TestTableShapes(t *testing.T) {
	count := 0
	for _, o := range All() {
		if !o.IsPayload() {
			count++
			assert.NotZero(t, o.Format.Units(), o.Name)
		}
	}
	assert.Equal(t, 224, count)

	add, _ := ByName("add-double")
	assert.Equal(t, uint16(0xab), add.Value)
	assert.True(t, add.IsWideRegister(0))
	assert.True(t, add.IsWideRegister(2))

	shl, _ := ByName("shl-long/2addr")
	assert.True(t, shl.IsWideRegister(0))
	assert.False(t, shl.IsWideRegister(1))

	sget, _ := ByName("sget-wide")
	kind, ok := sget.Section()
	assert.True(t, ok)
	assert.Equal(t, key.KindField, kind)
	assert.True(t, sget.IsWideRegister(0))

	poly, _ := ByName("invoke-polymorphic/range")
	kind, ok = poly.Section2()
	assert.True(t, ok)
	assert.Equal(t, key.KindProto, kind)

	gt, _ := ByName("goto")
	assert.False(t, gt.CanContinue())
	ifz, _ := ByName("if-eqz")
	assert.True(t, ifz.CanContinue())
	assert.True(t, ifz.Is(Branch))
}

func TestFormats(t *testing.T) {
	assert.Equal(t, 5, Format51l.Units())
	assert.Equal(t, "22c", Format22c.String())
	assert.Equal(t, 4, Format22c.RegisterBits(1))
	assert.Equal(t, 16, Format3rc.RegisterBits(0))
	assert.True(t, Format45cc.IsVariadic())
	assert.True(t, FormatArrayPayload.IsPayload())
	assert.Equal(t, 0, FormatSparseSwitchPayload.Units())
}
