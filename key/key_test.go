package key

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeKeyCanonical(t *testing.T) {
	var inputs = []string{"Ljava/lang/String;", "java.lang.String", "int", "I",
		"[[I", "int[][]", "byte[]", "Lfoo/Bar$Baz;", "LRoot;", "V"}
	var expected = []string{"Ljava/lang/String;", "Ljava/lang/String;", "I", "I",
		"[[I", "[[I", "[B", "Lfoo/Bar$Baz;", "LRoot;", "V"}

	for i, in := range inputs {
		k, err := ParseTypeKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected[i], k.TypeName(), in)

		again, err := ParseTypeKey(k.TypeName())
		require.NoError(t, err)
		assert.Equal(t, k, again, "canonical form of %q is not a fixed point", in)
	}
}

func TestTypeKeyBadSyntax(t *testing.T) {
	for _, in := range []string{"", "L;", "[V", "Lfoo/Bar", "[", "I(", "int[]x"} {
		_, err := ParseTypeKey(in)
		assert.True(t, errors.Is(err, ErrSyntax), "%q: %v", in, err)
	}
}

func TestSourceName(t *testing.T) {
	var inputs = []string{"Z", "[[J", "Ljava/lang/Object;", "[Lcom/x/Y$Z;", "Q",
		"Lfrob/blar/blix;", "[Ljava/lang/Object;", "[[B", "[C", "D", "<illegal>"}
	var expected = []string{"boolean", "long[][]", "java.lang.Object", "com.x.Y$Z[]", "Q",
		"frob.blar.blix", "java.lang.Object[]", "byte[][]", "char[]", "double", "<illegal>"}
	for i, in := range inputs {
		assert.Equal(t, expected[i], NewTypeKey(in).SourceName())
	}
}

func TestArrayDimension(t *testing.T) {
	k := NewTypeKey("[[Lfoo/Bar;")
	assert.Equal(t, 2, k.ArrayDimension())
	assert.True(t, k.IsArray())
	assert.False(t, k.IsDefinition())
	assert.Equal(t, NewTypeKey("Lfoo/Bar;"), k.Declaring())
	assert.Equal(t, NewTypeKey("[Lfoo/Bar;"), k.SetArrayDimension(1))
	assert.Equal(t, NewTypeKey("Lfoo/Bar;"), k.SetArrayDimension(0))
	assert.True(t, k.IsReference())
	assert.Equal(t, byte('L'), k.Shorty())
}

func TestClassify(t *testing.T) {
	assert.True(t, TypeJ.IsWide())
	assert.True(t, TypeD.IsWide())
	assert.False(t, TypeI.IsWide())
	assert.True(t, TypeV.IsVoid())
	assert.True(t, TypeZ.IsPrimitive())
	assert.False(t, TypeString.IsPrimitive())
	assert.False(t, NewTypeKey("[I").IsPrimitive())
	assert.Equal(t, 2, TypeJ.RegisterCount())
	assert.Equal(t, 0, TypeV.RegisterCount())
}

func TestPackageNames(t *testing.T) {
	k := NewTypeKey("Lcom/foo/bar/Baz;")
	assert.Equal(t, "Lcom/foo/bar/", k.PackageName())
	assert.Equal(t, "com.foo.bar", k.PackageSourceName())
	assert.Equal(t, []string{"Lcom/foo/bar/", "Lcom/foo/", "Lcom/"}, k.PackageNames())
	assert.Equal(t, "Baz", k.SimpleName())
	assert.Equal(t, "L", NewTypeKey("LRoot;").PackageName())
	assert.Equal(t, "", TypeI.PackageName())

	assert.True(t, k.IsPackage("com.foo.bar", false))
	assert.True(t, k.IsPackage("Lcom/foo/", true))
	assert.False(t, k.IsPackage("Lcom/foo/", false))
}

func TestRenamePackage(t *testing.T) {
	var inputs = []string{"Lcom/foo/A;", "Lcom/foo/sub/B;", "Lcom/foobar/C;", "[Lcom/foo/D;", "I"}
	var expected = []string{"Lorg/x/A;", "Lorg/x/sub/B;", "Lcom/foobar/C;", "[Lorg/x/D;", "I"}
	for i, in := range inputs {
		got := NewTypeKey(in).RenamePackage("Lcom/foo", "org.x")
		assert.Equal(t, expected[i], got.TypeName(), in)
	}
	assert.Equal(t, "Lnew/Root;", NewTypeKey("LRoot;").SetPackage("new").TypeName())
}

func TestInnerClasses(t *testing.T) {
	outer := NewTypeKey("Lfoo/A;")
	inner := outer.CreateInnerClass("B")
	assert.Equal(t, "Lfoo/A$B;", inner.TypeName())
	deeper := inner.CreateInnerClass("C")

	assert.True(t, outer.IsOuterOf(inner, true))
	assert.True(t, outer.IsOuterOf(deeper, false))
	assert.False(t, outer.IsOuterOf(deeper, true))
	assert.False(t, outer.IsOuterOf(NewTypeKey("Lfoo/AB;"), false))
	assert.False(t, inner.IsOuterOf(outer, false))

	assert.Equal(t, inner, deeper.EnclosingClass())
	assert.Equal(t, outer, inner.EnclosingClass())
	assert.Equal(t, outer, outer.EnclosingClass())

	name, ok := deeper.SimpleInnerName()
	assert.True(t, ok)
	assert.Equal(t, "C", name)
	assert.True(t, inner.IsInner())
	assert.False(t, outer.IsInner())
}

func TestCompareInnerFirst(t *testing.T) {
	types := []TypeKey{
		NewTypeKey("Lfoo/A;"),
		NewTypeKey("Lfoo/B;"),
		NewTypeKey("Lfoo/A$1;"),
	}
	slices.SortFunc(types, TypeKey.CompareInnerFirst)
	assert.Equal(t, "Lfoo/A$1;", types[0].TypeName())

	slices.SortFunc(types, func(a, b TypeKey) int { return a.Compare(b) })
	assert.Equal(t, "Lfoo/A$1;", types[0].TypeName())
	assert.Equal(t, "Lfoo/A;", types[1].TypeName())
}

func TestEqualsPackage(t *testing.T) {
	assert.True(t, NewTypeKey("La/b/C;").EqualsPackage(NewTypeKey("La/b/D;")))
	assert.True(t, NewTypeKey("[La/b/C;").EqualsPackage(NewTypeKey("La/b/D;")))
	assert.False(t, NewTypeKey("La/b/C;").EqualsPackage(NewTypeKey("La/bc/D;")))
	assert.False(t, NewTypeKey("La/b/C;").EqualsPackage(NewTypeKey("La/b/c/D;")))
	assert.False(t, TypeI.EqualsPackage(TypeString))
}

func TestMemberKeys(t *testing.T) {
	m, err := ParseMethodKey("Lfoo/Bar;->run(IJLjava/lang/String;[Z)V")
	require.NoError(t, err)
	assert.Equal(t, "run", m.Name)
	assert.Equal(t, "VIJLL", m.Proto.Shorty())
	assert.Equal(t, 5, m.Proto.ParameterRegisters())
	assert.Equal(t, 4, m.Proto.ParameterCount())
	assert.Equal(t, "Lfoo/Bar;->run(IJLjava/lang/String;[Z)V", m.String())

	same, err := ParseMethodKey(m.String())
	require.NoError(t, err)
	assert.Equal(t, m, same)

	f, err := ParseFieldKey("Lfoo/Bar;->count:I")
	require.NoError(t, err)
	assert.Equal(t, FieldKey{Declaring: NewTypeKey("Lfoo/Bar;"), Name: "count", Type: TypeI}, f)

	for _, bad := range []string{"Lfoo/Bar;run()V", "Lfoo/Bar;->()V", "Lfoo/Bar;->x(I", "Lfoo/Bar;->x(Q)V"} {
		_, err := ParseMethodKey(bad)
		assert.Error(t, err, bad)
	}

	// keys are usable as map keys across independent parses
	seen := map[Key]int{m: 1, f: 2}
	again, _ := ParseFieldKey("Lfoo/Bar;->count:I")
	assert.Equal(t, 2, seen[again])
}

func TestStringQuote(t *testing.T) {
	var inputs = []string{"plain", "tab\there", `q"uote`, "back\\slash", "é", "\U0001F600", "\x01"}
	var expected = []string{`"plain"`, `"tab\there"`, `"q\"uote"`, `"back\\slash"`,
		`"\u00e9"`, `"\ud83d\ude00"`, `"\u0001"`}
	for i, in := range inputs {
		k := NewStringKey(in)
		assert.Equal(t, expected[i], k.String())
		back, err := ParseStringKey(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, back)
	}
	_, err := ParseStringKey(`"bad\q"`)
	assert.True(t, errors.Is(err, ErrSyntax))
}

func TestStringOrder(t *testing.T) {
	// U+FFFF sorts after a surrogate pair in UTF-16 order
	a := NewStringKey("\U00010000")
	b := NewStringKey("\uffff")
	assert.Equal(t, -1, a.Compare(b))
}

func TestParseNumber(t *testing.T) {
	var inputs = []string{"0x10", "-0x1", "42", "0xffffffff", "0x7ft", "-0x80t", "0xffs",
		"0x1L", "-0x8000000000000000L", "1.5f", "2.0", "-Infinity", "NaNf", "'a'", "true", "1e3"}
	var expected = []PrimitiveKey{Int(16), Int(-1), Int(42), Int(-1), Byte(127), Byte(-128), Short(255),
		Long(1), Long(math.MinInt64), Float(1.5), Double(2), Double(math.Inf(-1)), Float(float32(math.NaN())),
		Char('a'), Bool(true), Double(1000)}
	for i, in := range inputs {
		got, err := ParsePrimitive(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected[i].PrimitiveKind(), got.PrimitiveKind(), in)
		assert.Equal(t, expected[i].Bits(), got.Bits(), in)
	}
	for _, bad := range []string{"", "0x", "2147483648", "0x100t", "abc", "--1"} {
		_, err := ParseNumber(bad)
		assert.Error(t, err, bad)
	}
}

func TestPrimitiveString(t *testing.T) {
	var keys = []PrimitiveKey{Int(-5), Long(255), Byte(1), Short(-2), Char('\n'),
		Float(1.5), Double(3), Bool(false)}
	var expected = []string{"-0x5", "0xffL", "0x1t", "-0x2s", `'\n'`, "1.5f", "3.0", "false"}
	for i, k := range keys {
		assert.Equal(t, expected[i], k.String())
		back, err := ParsePrimitive(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, back)
	}
}

func TestPool(t *testing.T) {
	p := NewPool()
	m, err := ParseMethodKey("Lfoo/Bar;->get(J)Ljava/lang/String;")
	require.NoError(t, err)
	mi := p.Intern(m)
	assert.Equal(t, 0, mi)
	assert.Equal(t, mi, p.Intern(m))

	// class, J, String types; name, shorty, three descriptors
	assert.Equal(t, 3, p.Len(KindType))
	assert.Equal(t, 5, p.Len(KindString))
	_, ok := p.IndexOf(NewStringKey("LJ"))
	assert.True(t, ok)

	got, err := p.Method(mi)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = p.Lookup(KindField, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolved))
	assert.Equal(t, "unresolved field: field@0x3", err.Error())

	kind, idx, err := ParseRawRef("type@0x1f")
	require.NoError(t, err)
	assert.Equal(t, KindType, kind)
	assert.Equal(t, 31, idx)
	assert.Equal(t, -1, p.Intern(Int(3)))
}

func TestCompareAcrossKinds(t *testing.T) {
	keys := []Key{Int(1), NewStringKey("s"), TypeI, NullKey{}}
	slices.SortFunc(keys, Compare)
	assert.Equal(t, []Key{NewStringKey("s"), TypeI, Int(1), NullKey{}}, keys)

	k, err := Parse(KindNull, "null")
	require.NoError(t, err)
	assert.Equal(t, NullKey{}, k)
	_, err = Parse(KindNull, "nil")
	assert.Error(t, err)
}
