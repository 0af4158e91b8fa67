package smali

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanm/go-edit-a-dex/key"
)

const barSmali = `
.class public final Lfoo/Bar;
.super Ljava/lang/Object;
.source "Bar.java"

.implements Ljava/lang/Runnable;

# static fields
.field public static final MAX:I = 0xa

.field static NAME:Ljava/lang/String; = "bar\n"

.field private count:J

# direct methods
.method public static pick(I)I
    .locals 1

    packed-switch p0, :pswitch_data_0
    const/4 v0, -0x1
    return v0

    :pswitch_0
    const/4 v0, 0x1   # one
    return v0

    :pswitch_data_0
    .packed-switch 0x1
        :pswitch_0
    .end packed-switch
.end method

.method public run()V
    .registers 4
    .line 12

    :try_start_0
    invoke-virtual {p0}, Lfoo/Bar;->run()V
    invoke-static/range {v0 .. v2}, Lfoo/Bar;->sum(III)I
    :try_end_0
    .catch Ljava/lang/Exception; {:try_start_0 .. :try_end_0} :catch_0
    return-void

    :catch_0
    move-exception v0
    sparse-switch v0, :sswitch_data_0
    return-void

    :sswitch_data_0
    .sparse-switch
        0x1 -> :catch_0
        0x5 -> :try_start_0
    .end sparse-switch
.end method

.method public abstract size()I
.end method
`

func squeeze(s string) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if i := strings.Index(l, "#"); i >= 0 && !strings.Contains(l, `"`) {
			l = l[:i]
		}
		if f := strings.Fields(l); len(f) > 0 {
			lines = append(lines, strings.Join(f, " "))
		}
	}
	return strings.Join(lines, "\n")
}

func TestParseClass(t *testing.T) {
	c, err := ParseClassString("Bar.smali", barSmali)
	require.NoError(t, err)

	assert.Equal(t, "Lfoo/Bar;", c.Type.TypeName())
	assert.Equal(t, "public final", c.Access.Format(TargetClass))
	assert.Equal(t, key.TypeObject, c.Super)
	assert.Equal(t, "Bar.java", c.Source)
	require.Len(t, c.Interfaces, 1)

	require.Len(t, c.Fields, 3)
	assert.Equal(t, key.Int(10), c.Fields[0].Initial)
	assert.Equal(t, key.NewStringKey("bar\n"), c.Fields[1].Initial)
	assert.Nil(t, c.Fields[2].Initial)
	assert.Equal(t, "Lfoo/Bar;->count:J", c.Fields[2].Key.String())

	require.Len(t, c.Methods, 3)
	pick := c.Methods[0]
	require.NotNil(t, pick.Code)
	assert.Equal(t, 1, pick.Code.ParamRegisters)
	assert.Equal(t, 2, pick.Code.Registers)
	assert.True(t, pick.Code.UseLocals)
	sw := pick.Code.Elements[0].(*Instruction)
	assert.Equal(t, "packed-switch", sw.Opcode.Name)
	assert.Equal(t, "pswitch_data_0", sw.Label)
	assert.Equal(t, 1, pick.Code.Resolve(sw.Registers[0]))
	assert.Equal(t, Register{Num: 0, Param: true}, pick.Code.RegisterFor(1))

	run := c.Methods[1]
	assert.Equal(t, 4, run.Code.Registers)
	var rng *Instruction
	var catch *Catch
	for _, e := range run.Code.Elements {
		switch e := e.(type) {
		case *Instruction:
			if e.Opcode.Name == "invoke-static/range" {
				rng = e
			}
		case *Catch:
			catch = e
		}
	}
	require.NotNil(t, rng)
	assert.Len(t, rng.Registers, 3)
	require.NotNil(t, catch)
	assert.Equal(t, "try_start_0", catch.Start)
	assert.Equal(t, "catch_0", catch.Handler)
	assert.False(t, catch.IsCatchAll())

	assert.Nil(t, c.Methods[2].Code)
	assert.Equal(t, 2, c.Origin.Line, "class directive follows the leading newline")
}

func TestTextRoundTrip(t *testing.T) {
	c, err := ParseClassString("Bar.smali", barSmali)
	require.NoError(t, err)
	out := Text(c)

	again, err := ParseClassString("out.smali", out)
	require.NoError(t, err)
	assert.Equal(t, squeeze(out), squeeze(Text(again)))

	// everything but comments and the skipped .line survives
	want := strings.ReplaceAll(squeeze(barSmali), "\n.line 12", "")
	assert.Equal(t, want, squeeze(out))
}

func TestParseErrors(t *testing.T) {
	var inputs = []string{
		".class public Lfoo/A;\n.mehtod public x()V\n",
		".class public Lfoo/A;\n.method public x()V\n    .registers 1\n    bogus-op v0\n.end method\n",
		".class public Lfoo/A;\n.field public x:Ljava/lang/Object; = nul\n",
		".class public Lfoo/A;\n.method public x()V\n    .registers 1\n    .packed-switch 0x0\n        :a\n.end method\n",
		".clas public Lfoo/A;\n",
		".class public Lfoo/A;\n.method public x()V\n    .registers 1\n    const/4 v0 0x1\n.end method\n",
		".class public Lfoo/A;\n.method public x()V\n    .registers 1\n    return-void\n",
	}
	var expected = []string{
		"A.smali:2:1: unexpected '.mehtod'",
		"A.smali:4:5: unknown instruction 'bogus-op'",
		"A.smali:2:38: invalid value 'nul'",
		"A.smali:6:1: expecting '.end packed-switch', found '.end'",
		"A.smali:1:1: expecting '.class', found '.clas'",
		"A.smali:4:16: expecting ',', found '0x1'",
		"A.smali:5:1: missing '.end method'",
	}
	for i, in := range inputs {
		_, err := ParseClassString("A.smali", in)
		require.Error(t, err, in)
		var pe *ParseError
		require.True(t, errors.As(err, &pe), "%T", err)
		assert.True(t, errors.Is(err, ErrParse))
		assert.Equal(t, expected[i], err.Error())
	}
}

func TestReaderFrom(t *testing.T) {
	r, err := NewReaderFrom(strings.NewReader(".class LA;\n"))
	require.NoError(t, err)
	c, err := ParseClass(r)
	require.NoError(t, err)
	assert.Equal(t, "LA;", c.Type.TypeName())
	assert.Zero(t, c.Access)
}

func TestArrayDataText(t *testing.T) {
	a := &ArrayData{Width: 2, Values: []int64{1, -1}}
	text := Text(a)
	assert.Equal(t, ".array-data 2\n    0x1s\n    -0x1s\n.end array-data\n", text)

	var back ArrayData
	require.NoError(t, back.Parse(NewStringReader(text)))
	assert.Equal(t, a.Values, back.Values)
	assert.Equal(t, 2, back.Width)

	err := (&ArrayData{}).Parse(NewStringReader(".array-data 3\n.end array-data\n"))
	assert.EqualError(t, err, "1:13: invalid array element width 3")
}

func TestSparseSwitchText(t *testing.T) {
	s := &SparseSwitch{Keys: []int32{1, 3, 5}, Targets: []string{"a", "b", "c"}}
	text := Text(s)
	assert.Equal(t, ".sparse-switch\n    0x1 -> :a\n    0x3 -> :b\n    0x5 -> :c\n.end sparse-switch\n", text)
	var back SparseSwitch
	require.NoError(t, back.Parse(NewStringReader(text)))
	assert.Equal(t, s.Keys, back.Keys)
	assert.Equal(t, s.Targets, back.Targets)
}

func TestWriterComments(t *testing.T) {
	var b strings.Builder
	w := NewWriter(&b)
	w.EnableComments(false)
	(&Label{Name: "goto_0", Comment: "0x4"}).Append(w)
	require.NoError(t, w.Flush())
	assert.Equal(t, ":goto_0\n", b.String())
	assert.Equal(t, ":goto_0    # 0x4\n", Text(&Label{Name: "goto_0", Comment: "0x4"}))
}
