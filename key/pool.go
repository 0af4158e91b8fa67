package key

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

type table[K comparable] struct {
	items []K
	index map[K]int
}

func (t *table[K]) intern(k K) int {
	if i, ok := t.index[k]; ok {
		return i
	}
	if t.index == nil {
		t.index = make(map[K]int)
	}
	t.index[k] = len(t.items)
	t.items = append(t.items, k)
	return len(t.items) - 1
}

func (t *table[K]) lookup(i int) (K, bool) {
	if i < 0 || i >= len(t.items) {
		var zero K
		return zero, false
	}
	return t.items[i], true
}

// Pool interns keys per kind and maps them to section indices. Interning
// a compound key also interns the keys it is built from, so the pool is
// closed under references: a method's proto, its types and their
// descriptor strings are all present.
type Pool struct {
	strings table[StringKey]
	types   table[TypeKey]
	protos  table[ProtoKey]
	fields  table[FieldKey]
	methods table[MethodKey]
}

func NewPool() *Pool { return &Pool{} }

// Intern adds k (and its dependencies) if missing and returns its index.
// Kinds that have no section (primitives, null) return -1.
func (p *Pool) Intern(k Key) int {
	switch k := k.(type) {
	case StringKey:
		return p.strings.intern(k)
	case TypeKey:
		p.strings.intern(StringKey{k.name})
		return p.types.intern(k)
	case ProtoKey:
		p.strings.intern(StringKey{k.Shorty()})
		for _, t := range k.Types() {
			p.Intern(t)
		}
		return p.protos.intern(k)
	case FieldKey:
		p.Intern(k.Declaring)
		p.strings.intern(StringKey{k.Name})
		p.Intern(k.Type)
		return p.fields.intern(k)
	case MethodKey:
		p.Intern(k.Declaring)
		p.strings.intern(StringKey{k.Name})
		p.Intern(k.Proto)
		return p.methods.intern(k)
	}
	return -1
}

// IndexOf returns the index of an already interned key.
func (p *Pool) IndexOf(k Key) (int, bool) {
	var i int
	var ok bool
	switch k := k.(type) {
	case StringKey:
		i, ok = p.strings.index[k]
	case TypeKey:
		i, ok = p.types.index[k]
	case ProtoKey:
		i, ok = p.protos.index[k]
	case FieldKey:
		i, ok = p.fields.index[k]
	case MethodKey:
		i, ok = p.methods.index[k]
	case RawKey:
		i, ok = k.Index, true
	}
	return i, ok
}

func (p *Pool) Len(kind Kind) int {
	switch kind {
	case KindString:
		return len(p.strings.items)
	case KindType:
		return len(p.types.items)
	case KindProto:
		return len(p.protos.items)
	case KindField:
		return len(p.fields.items)
	case KindMethod:
		return len(p.methods.items)
	}
	return 0
}

// Lookup returns the key at idx in the kind's section. A missing entry is
// an *UnresolvedError naming the raw reference.
func (p *Pool) Lookup(kind Kind, idx int) (Key, error) {
	var k Key
	var ok bool
	switch kind {
	case KindString:
		k, ok = p.strings.lookup(idx)
	case KindType:
		k, ok = p.types.lookup(idx)
	case KindProto:
		k, ok = p.protos.lookup(idx)
	case KindField:
		k, ok = p.fields.lookup(idx)
	case KindMethod:
		k, ok = p.methods.lookup(idx)
	}
	if !ok {
		return nil, &UnresolvedError{What: kind.String(), Ref: RawRef(kind, idx)}
	}
	return k, nil
}

func (p *Pool) String(idx int) (StringKey, error) {
	k, err := p.Lookup(KindString, idx)
	if err != nil {
		return StringKey{}, err
	}
	return k.(StringKey), nil
}

func (p *Pool) Type(idx int) (TypeKey, error) {
	k, err := p.Lookup(KindType, idx)
	if err != nil {
		return TypeKey{}, err
	}
	return k.(TypeKey), nil
}

func (p *Pool) Proto(idx int) (ProtoKey, error) {
	k, err := p.Lookup(KindProto, idx)
	if err != nil {
		return ProtoKey{}, err
	}
	return k.(ProtoKey), nil
}

func (p *Pool) Field(idx int) (FieldKey, error) {
	k, err := p.Lookup(KindField, idx)
	if err != nil {
		return FieldKey{}, err
	}
	return k.(FieldKey), nil
}

func (p *Pool) Method(idx int) (MethodKey, error) {
	k, err := p.Lookup(KindMethod, idx)
	if err != nil {
		return MethodKey{}, err
	}
	return k.(MethodKey), nil
}

// RawRef is the text form of an index that has no key yet, e.g.
// "type@0x1f".
func RawRef(kind Kind, idx int) string {
	return fmt.Sprintf("%s@0x%x", kind, idx)
}

// ParseRawRef reads a RawRef string back.
func ParseRawRef(text string) (Kind, int, error) {
	name, num, ok := strings.Cut(text, "@")
	if !ok || !strings.HasPrefix(num, "0x") {
		return 0, 0, syntaxError("reference", text)
	}
	idx, err := strconv.ParseUint(num[2:], 16, 32)
	if err != nil {
		return 0, 0, syntaxError("reference", text)
	}
	for k := KindString; k <= KindMethodHandle; k++ {
		if k.String() == name {
			return k, int(idx), nil
		}
	}
	return 0, 0, syntaxError("reference", text)
}

// Parse reads the text form of a key of the given kind.
func Parse(kind Kind, text string) (Key, error) {
	switch kind {
	case KindString:
		return ParseStringKey(text)
	case KindType:
		return ParseTypeKey(text)
	case KindProto:
		return ParseProtoKey(text)
	case KindField:
		return ParseFieldKey(text)
	case KindMethod:
		return ParseMethodKey(text)
	case KindPrimitive:
		return ParsePrimitive(text)
	case KindNull:
		if text != "null" {
			return nil, syntaxError("null", text)
		}
		return NullKey{}, nil
	}
	return nil, syntaxError(kind.String(), text)
}

// RawKey stands in for a section index that could not be, or need not
// be, resolved to a real key. It prints as its RawRef.
type RawKey struct {
	Of    Kind
	Index int
}

func (k RawKey) Kind() Kind     { return k.Of }
func (k RawKey) String() string { return RawRef(k.Of, k.Index) }

func (k RawKey) Compare(other Key) int {
	if o, ok := other.(RawKey); ok && o.Of == k.Of {
		return cmp.Compare(k.Index, o.Index)
	}
	return compareForeign(k, other)
}

// ParseRef reads the text of a reference operand of the given kind,
// accepting either the key's own syntax or the kind@0xN raw form.
func ParseRef(kind Kind, text string) (Key, error) {
	if i := strings.IndexByte(text, '@'); i > 0 && !strings.ContainsAny(text[:i], "\";") {
		k, idx, err := ParseRawRef(text)
		if err != nil {
			return nil, err
		}
		if k != kind {
			return nil, syntaxError(kind.String(), text)
		}
		return RawKey{Of: k, Index: idx}, nil
	}
	return Parse(kind, text)
}
