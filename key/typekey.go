package key

import (
	"strings"
)

//
// For the rules on how type descriptors are encoded, see
// https://source.android.com/devices/tech/dalvik/dex-format.html#typedescriptor
//
// A TypeKey always holds the binary descriptor (Lpkg/Name;, [I, V ...);
// source-style names are converted on the way in.
//

type TypeKey struct {
	name string
}

var (
	TypeB = TypeKey{"B"}
	TypeC = TypeKey{"C"}
	TypeD = TypeKey{"D"}
	TypeF = TypeKey{"F"}
	TypeI = TypeKey{"I"}
	TypeJ = TypeKey{"J"}
	TypeS = TypeKey{"S"}
	TypeV = TypeKey{"V"}
	TypeZ = TypeKey{"Z"}

	TypeClass     = TypeKey{"Ljava/lang/Class;"}
	TypeObject    = TypeKey{"Ljava/lang/Object;"}
	TypeString    = TypeKey{"Ljava/lang/String;"}
	TypeException = TypeKey{"Ljava/lang/Exception;"}
)

var primitiveSourceNames = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'V': "void",
	'Z': "boolean",
}

// NewTypeKey wraps a binary descriptor as is.
func NewTypeKey(descriptor string) TypeKey {
	return TypeKey{descriptor}
}

// PrimitiveType returns the key for a single-letter primitive code.
func PrimitiveType(c byte) (TypeKey, bool) {
	if _, ok := primitiveSourceNames[c]; !ok {
		return TypeKey{}, false
	}
	return TypeKey{string(c)}, true
}

func primitiveFromSource(name string) (TypeKey, bool) {
	for c, src := range primitiveSourceNames {
		if src == name {
			return TypeKey{string(c)}, true
		}
	}
	return TypeKey{}, false
}

// ParseTypeKey accepts a binary descriptor ("Ljava/lang/String;", "[I",
// "I") or a source name ("java.lang.String", "int[]") and returns the
// canonical key.
func ParseTypeKey(name string) (TypeKey, error) {
	if name == "" {
		return TypeKey{}, syntaxError("type", name)
	}
	if strings.IndexAny(name[1:], ">(@") >= 0 {
		return TypeKey{}, syntaxError("type", name)
	}
	if len(name) == 1 {
		if k, ok := PrimitiveType(name[0]); ok {
			return k, nil
		}
	}
	if strings.IndexByte(name, '/') > 0 || strings.IndexByte(name, ';') > 0 || name[0] == '[' {
		k := TypeKey{strings.ReplaceAll(name, ".", "/")}
		if !ValidDescriptor(k.name) {
			return TypeKey{}, syntaxError("type", name)
		}
		return k, nil
	}
	return parseSourceName(name)
}

func parseSourceName(name string) (TypeKey, error) {
	dims := 0
	base := name
	for strings.HasSuffix(base, "[]") {
		dims++
		base = base[:len(base)-2]
	}
	if base == "" || strings.ContainsAny(base, "[]") {
		return TypeKey{}, syntaxError("type", name)
	}
	k, ok := primitiveFromSource(base)
	if !ok {
		k = TypeKey{"L" + strings.ReplaceAll(base, ".", "/") + ";"}
	}
	return k.SetArrayDimension(dims), nil
}

// ValidDescriptor checks the shape of a binary type descriptor.
func ValidDescriptor(d string) bool {
	i := 0
	for i < len(d) && d[i] == '[' {
		i++
	}
	rest := d[i:]
	switch {
	case len(rest) == 1:
		_, ok := primitiveSourceNames[rest[0]]
		return ok && (i == 0 || rest[0] != 'V')
	case len(rest) > 2:
		return rest[0] == 'L' && rest[len(rest)-1] == ';' &&
			strings.IndexByte(rest[1:len(rest)-1], ';') < 0
	}
	return false
}

func (k TypeKey) Kind() Kind       { return KindType }
func (k TypeKey) String() string   { return k.name }
func (k TypeKey) TypeName() string { return k.name }
func (k TypeKey) IsZero() bool     { return k.name == "" }

func (k TypeKey) Compare(other Key) int {
	if o, ok := other.(TypeKey); ok {
		return strings.Compare(k.name, o.name)
	}
	return compareForeign(k, other)
}

// Shorty is the type's character in a method shorty descriptor.
func (k TypeKey) Shorty() byte {
	if len(k.name) == 1 {
		return k.name[0]
	}
	return 'L'
}

func (k TypeKey) ArrayDimension() int {
	n := 0
	for n < len(k.name) && k.name[n] == '[' {
		n++
	}
	return n
}

// Declaring returns the element type with every array dimension removed.
func (k TypeKey) Declaring() TypeKey {
	return TypeKey{k.name[k.ArrayDimension():]}
}

func (k TypeKey) SetArrayDimension(dims int) TypeKey {
	if dims == k.ArrayDimension() {
		return k
	}
	return TypeKey{strings.Repeat("[", dims) + k.Declaring().name}
}

func (k TypeKey) IsArray() bool {
	return len(k.name) > 1 && k.name[0] == '['
}

// IsDefinition reports a plain class descriptor, not an array.
func (k TypeKey) IsDefinition() bool {
	i := len(k.name) - 1
	return i > 1 && k.name[0] == 'L' && k.name[i] == ';'
}

// IsReference reports a class or array type.
func (k TypeKey) IsReference() bool {
	return k.IsArray() || k.IsDefinition()
}

func (k TypeKey) IsPrimitive() bool {
	if len(k.name) != 1 {
		return false
	}
	_, ok := primitiveSourceNames[k.name[0]]
	return ok
}

func (k TypeKey) IsVoid() bool { return k.name == "V" }

// IsWide reports long and double, which take two registers.
func (k TypeKey) IsWide() bool { return k.name == "J" || k.name == "D" }

// RegisterCount is the number of registers a value of this type needs.
func (k TypeKey) RegisterCount() int {
	switch {
	case k.IsVoid():
		return 0
	case k.IsWide():
		return 2
	}
	return 1
}

// SourceName renders the type the way Java source spells it.
func (k TypeKey) SourceName() string {
	dims := k.ArrayDimension()
	base := k.name[dims:]
	var src string
	switch {
	case len(base) == 1:
		if s, ok := primitiveSourceNames[base[0]]; ok {
			src = s
		} else {
			return k.name
		}
	case len(base) > 1 && base[0] == 'L':
		src = strings.ReplaceAll(strings.TrimSuffix(base[1:], ";"), "/", ".")
	default:
		// something went wrong, punt...
		return k.name
	}
	return src + strings.Repeat("[]", dims)
}

// SimpleName is the class name without package, 'L' and ';'.
func (k TypeKey) SimpleName() string {
	base := k.name[k.ArrayDimension():]
	if len(base) < 2 || base[0] != 'L' {
		return base
	}
	base = strings.TrimSuffix(base[1:], ";")
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		return base[i+1:]
	}
	return base
}

// SimpleInnerName returns the part after the last '$' of the simple name.
func (k TypeKey) SimpleInnerName() (string, bool) {
	simple := k.SimpleName()
	i := strings.LastIndexByte(simple, '$')
	if i > 0 && i < len(simple)-1 {
		return simple[i+1:], true
	}
	return "", false
}

func (k TypeKey) IsInner() bool {
	if k.IsPrimitive() {
		return false
	}
	_, ok := k.SimpleInnerName()
	return ok
}

// PackageName returns the binary package prefix including the leading
// 'L' and trailing '/', e.g. "Ljava/lang/". Classes in the root package
// return "L"; primitives return "".
func (k TypeKey) PackageName() string {
	base := k.name[k.ArrayDimension():]
	if len(base) < 2 || base[0] != 'L' {
		return ""
	}
	if i := strings.LastIndexByte(base, '/'); i > 0 {
		return base[:i+1]
	}
	return "L"
}

// PackageSourceName returns the package in dotted form.
func (k TypeKey) PackageSourceName() string {
	pkg := k.PackageName()
	if len(pkg) < 3 {
		return ""
	}
	return strings.ReplaceAll(pkg[1:len(pkg)-1], "/", ".")
}

// PackageNames lists the package and each of its parents, innermost
// first: "La/b/c/", "La/b/", "La/".
func (k TypeKey) PackageNames() []string {
	pkg := k.PackageName()
	var out []string
	for len(pkg) > 1 && pkg[len(pkg)-1] == '/' {
		out = append(out, pkg)
		trimmed := pkg[:len(pkg)-1]
		i := strings.LastIndexByte(trimmed, '/')
		if i < 0 {
			break
		}
		pkg = trimmed[:i+1]
	}
	return out
}

func normalizePackage(pkg string) string {
	if pkg == "" || pkg == "L" {
		return "L"
	}
	if pkg[0] != 'L' {
		pkg = "L" + strings.ReplaceAll(pkg, ".", "/")
	}
	if !strings.HasSuffix(pkg, "/") {
		pkg += "/"
	}
	return pkg
}

// SetPackage moves the type into pkg, keeping its simple name and array
// dimension. pkg may be binary ("Lcom/x/") or dotted ("com.x").
func (k TypeKey) SetPackage(pkg string) TypeKey {
	if !k.Declaring().IsDefinition() {
		return k
	}
	pkg = normalizePackage(pkg)
	if pkg == k.PackageName() {
		return k
	}
	var b strings.Builder
	b.WriteString(strings.Repeat("[", k.ArrayDimension()))
	b.WriteString(pkg)
	b.WriteString(k.SimpleName())
	b.WriteByte(';')
	return TypeKey{b.String()}
}

// RenamePackage rewrites the package prefix from into to. Only whole
// path segments match: renaming "Lcom/foo/" leaves "Lcom/foobar/Baz;"
// alone.
func (k TypeKey) RenamePackage(from, to string) TypeKey {
	pkg := k.PackageName()
	if pkg == "" {
		return k
	}
	from = normalizePackage(from)
	to = normalizePackage(to)
	if pkg == from {
		return k.SetPackage(to)
	}
	if from == "L" || len(pkg) < len(from) || !strings.HasPrefix(pkg, from) {
		return k
	}
	return k.SetPackage(to + pkg[len(from):])
}

// IsPackage reports whether the type lives in pkg, or below it when sub
// is set.
func (k TypeKey) IsPackage(pkg string, sub bool) bool {
	if k.IsPrimitive() {
		return false
	}
	pkg = normalizePackage(pkg)
	name := k.PackageName()
	if sub {
		return strings.HasPrefix(name, pkg)
	}
	return name == pkg
}

// IsOuterOf reports whether inner is nested in k ("La/B;" is outer of
// "La/B$C;"). With immediate set, only direct nesting counts.
func (k TypeKey) IsOuterOf(inner TypeKey, immediate bool) bool {
	if k.IsPrimitive() || inner.IsZero() {
		return false
	}
	name1, name2 := k.name, inner.name
	if len(name1) >= len(name2) {
		return false
	}
	diff := diffStart(name1, name2)
	if diff < 0 || diff >= len(name1) || name1[diff] != ';' || name2[diff] != '$' {
		return false
	}
	i := diff + 1
	if strings.IndexByte(name2[i:], '/') >= 0 {
		return false
	}
	if immediate {
		for i < len(name2) && name2[i] == '$' {
			i++
		}
		return i != len(name2) && strings.IndexByte(name2[i:], '$') < 0
	}
	return true
}

// EnclosingClass strips the last inner-class segment.
func (k TypeKey) EnclosingClass() TypeKey {
	if !k.IsDefinition() {
		return k
	}
	simple := k.SimpleName()
	i := strings.LastIndexByte(simple, '$')
	if i <= 0 {
		return k
	}
	pkg := k.PackageName()
	return TypeKey{pkg + simple[:i] + ";"}
}

func (k TypeKey) CreateInnerClass(simple string) TypeKey {
	if !k.IsDefinition() || simple == "" {
		return k
	}
	return TypeKey{k.name[:len(k.name)-1] + "$" + simple + ";"}
}

// CompareInnerFirst orders like Compare, except that an inner class sorts
// before the outer class whose simple name it extends ("A$B" < "A").
func (k TypeKey) CompareInnerFirst(other TypeKey) int {
	if k == other {
		return 0
	}
	name1, name2 := k.SimpleName(), other.SimpleName()
	diff := diffStart(name1, name2)
	if diff > 0 && diff < len(name1) && name1[diff] == '$' {
		return strings.Compare(name2, name1)
	}
	return strings.Compare(k.name, other.name)
}

// EqualsPackage compares the packages of two class (or class array) types.
func (k TypeKey) EqualsPackage(other TypeKey) bool {
	if k == other {
		return true
	}
	name1 := strings.TrimLeft(k.name, "[")
	name2 := strings.TrimLeft(other.name, "[")
	if name1 == "" || name2 == "" || name1[0] != 'L' || name2[0] != 'L' {
		return false
	}
	if name1 == name2 {
		return true
	}
	start := diffStart(name1, name2)
	if start < 0 {
		return false
	}
	return strings.IndexByte(name1[start:], '/') < 0 && strings.IndexByte(name2[start:], '/') < 0
}

// diffStart returns the first index at which a and b differ, the shorter
// length when one is a prefix of the other, or -1 when they are equal.
func diffStart(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) == len(b) {
		return -1
	}
	return n
}
