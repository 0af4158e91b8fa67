package key

import (
	"cmp"
	"strings"
)

// ProtoKey is a method prototype: return type and parameter types. The
// parameters are kept as one concatenated descriptor string so the key
// stays comparable.
type ProtoKey struct {
	Return TypeKey
	params string
}

func NewProtoKey(ret TypeKey, params ...TypeKey) ProtoKey {
	var b strings.Builder
	for _, p := range params {
		b.WriteString(p.name)
	}
	return ProtoKey{Return: ret, params: b.String()}
}

// ParseProtoKey reads "(II)V" style prototypes.
func ParseProtoKey(text string) (ProtoKey, error) {
	if len(text) < 3 || text[0] != '(' {
		return ProtoKey{}, syntaxError("proto", text)
	}
	end := strings.IndexByte(text, ')')
	if end < 0 {
		return ProtoKey{}, syntaxError("proto", text)
	}
	params, err := splitDescriptors(text[1:end])
	if err != nil {
		return ProtoKey{}, syntaxError("proto", text)
	}
	ret := text[end+1:]
	if !ValidDescriptor(ret) {
		return ProtoKey{}, syntaxError("proto", text)
	}
	return NewProtoKey(TypeKey{ret}, params...), nil
}

// splitDescriptors breaks a run of concatenated type descriptors apart.
func splitDescriptors(s string) ([]TypeKey, error) {
	var out []TypeKey
	for i := 0; i < len(s); {
		start := i
		for i < len(s) && s[i] == '[' {
			i++
		}
		if i == len(s) {
			return nil, syntaxError("type", s[start:])
		}
		if s[i] == 'L' {
			semi := strings.IndexByte(s[i:], ';')
			if semi < 0 {
				return nil, syntaxError("type", s[start:])
			}
			i += semi + 1
		} else {
			i++
		}
		d := s[start:i]
		if !ValidDescriptor(d) {
			return nil, syntaxError("type", d)
		}
		out = append(out, TypeKey{d})
	}
	return out, nil
}

func (p ProtoKey) Kind() Kind { return KindProto }

func (p ProtoKey) String() string {
	return "(" + p.params + ")" + p.Return.name
}

func (p ProtoKey) Compare(other Key) int {
	o, ok := other.(ProtoKey)
	if !ok {
		return compareForeign(p, other)
	}
	if c := p.Return.Compare(o.Return); c != 0 {
		return c
	}
	return strings.Compare(p.params, o.params)
}

func (p ProtoKey) Parameters() []TypeKey {
	out, err := splitDescriptors(p.params)
	if err != nil {
		// params are only ever built from valid descriptors
		panic(err)
	}
	return out
}

func (p ProtoKey) ParameterCount() int { return len(p.Parameters()) }

// ParameterRegisters counts the registers taken by the parameters; wide
// types take two.
func (p ProtoKey) ParameterRegisters() int {
	n := 0
	for _, t := range p.Parameters() {
		n += t.RegisterCount()
	}
	return n
}

// Shorty returns the short-form descriptor: return type first, every
// reference type collapsed to 'L'.
func (p ProtoKey) Shorty() string {
	params := p.Parameters()
	b := make([]byte, 0, len(params)+1)
	b = append(b, p.Return.Shorty())
	for _, t := range params {
		b = append(b, t.Shorty())
	}
	return string(b)
}

// Types lists every type the prototype references, return type first.
func (p ProtoKey) Types() []TypeKey {
	return append([]TypeKey{p.Return}, p.Parameters()...)
}

// FieldKey names a field: Lpkg/Owner;->name:Type
type FieldKey struct {
	Declaring TypeKey
	Name      string
	Type      TypeKey
}

func ParseFieldKey(text string) (FieldKey, error) {
	owner, rest, ok := strings.Cut(text, "->")
	if !ok {
		return FieldKey{}, syntaxError("field", text)
	}
	name, typ, ok := strings.Cut(rest, ":")
	if !ok || name == "" {
		return FieldKey{}, syntaxError("field", text)
	}
	if !ValidDescriptor(owner) || !ValidDescriptor(typ) {
		return FieldKey{}, syntaxError("field", text)
	}
	return FieldKey{Declaring: TypeKey{owner}, Name: name, Type: TypeKey{typ}}, nil
}

func (f FieldKey) Kind() Kind { return KindField }

func (f FieldKey) String() string {
	return f.Declaring.name + "->" + f.Name + ":" + f.Type.name
}

func (f FieldKey) Compare(other Key) int {
	o, ok := other.(FieldKey)
	if !ok {
		return compareForeign(f, other)
	}
	if c := f.Declaring.Compare(o.Declaring); c != 0 {
		return c
	}
	if c := cmp.Compare(f.Name, o.Name); c != 0 {
		return c
	}
	return f.Type.Compare(o.Type)
}

// MethodKey names a method: Lpkg/Owner;->name(Params)Ret
type MethodKey struct {
	Declaring TypeKey
	Name      string
	Proto     ProtoKey
}

func ParseMethodKey(text string) (MethodKey, error) {
	owner, rest, ok := strings.Cut(text, "->")
	if !ok || !ValidDescriptor(owner) {
		return MethodKey{}, syntaxError("method", text)
	}
	paren := strings.IndexByte(rest, '(')
	if paren <= 0 {
		return MethodKey{}, syntaxError("method", text)
	}
	proto, err := ParseProtoKey(rest[paren:])
	if err != nil {
		return MethodKey{}, syntaxError("method", text)
	}
	return MethodKey{Declaring: TypeKey{owner}, Name: rest[:paren], Proto: proto}, nil
}

func (m MethodKey) Kind() Kind { return KindMethod }

func (m MethodKey) String() string {
	return m.Declaring.name + "->" + m.Name + m.Proto.String()
}

func (m MethodKey) Compare(other Key) int {
	o, ok := other.(MethodKey)
	if !ok {
		return compareForeign(m, other)
	}
	if c := m.Declaring.Compare(o.Declaring); c != 0 {
		return c
	}
	if c := cmp.Compare(m.Name, o.Name); c != 0 {
		return c
	}
	return m.Proto.Compare(o.Proto)
}

func (m MethodKey) IsConstructor() bool {
	return m.Name == "<init>" || m.Name == "<clinit>"
}

// RenamePackage moves every type a member key references.
func (f FieldKey) RenamePackage(from, to string) FieldKey {
	f.Declaring = f.Declaring.RenamePackage(from, to)
	f.Type = f.Type.RenamePackage(from, to)
	return f
}

func (m MethodKey) RenamePackage(from, to string) MethodKey {
	m.Declaring = m.Declaring.RenamePackage(from, to)
	params := m.Proto.Parameters()
	for i := range params {
		params[i] = params[i].RenamePackage(from, to)
	}
	m.Proto = NewProtoKey(m.Proto.Return.RenamePackage(from, to), params...)
	return m
}
