package dex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/thanm/go-edit-a-dex/block"
	"github.com/thanm/go-edit-a-dex/dexio"
	"github.com/thanm/go-edit-a-dex/key"
)

// ValueKind is the value_type of an encoded_value.
type ValueKind uint8

const (
	ValueByte         ValueKind = 0x00
	ValueShort        ValueKind = 0x02
	ValueChar         ValueKind = 0x03
	ValueInt          ValueKind = 0x04
	ValueLong         ValueKind = 0x06
	ValueFloat        ValueKind = 0x10
	ValueDouble       ValueKind = 0x11
	ValueMethodType   ValueKind = 0x15
	ValueMethodHandle ValueKind = 0x16
	ValueString       ValueKind = 0x17
	ValueType         ValueKind = 0x18
	ValueField        ValueKind = 0x19
	ValueMethod       ValueKind = 0x1a
	ValueEnum         ValueKind = 0x1b
	ValueArray        ValueKind = 0x1c
	ValueAnnotation   ValueKind = 0x1d
	ValueNull         ValueKind = 0x1e
	ValueBoolean      ValueKind = 0x1f
)

var valueNames = map[ValueKind]string{
	ValueByte: "byte", ValueShort: "short", ValueChar: "char", ValueInt: "int",
	ValueLong: "long", ValueFloat: "float", ValueDouble: "double",
	ValueMethodType: "method_type", ValueMethodHandle: "method_handle",
	ValueString: "string", ValueType: "type", ValueField: "field",
	ValueMethod: "method", ValueEnum: "enum", ValueArray: "array",
	ValueAnnotation: "annotation", ValueNull: "null", ValueBoolean: "boolean",
}

func (k ValueKind) String() string {
	if s, ok := valueNames[k]; ok {
		return s
	}
	return fmt.Sprintf("value(0x%02x)", uint8(k))
}

// maxSize is the widest payload a kind may carry; 0 for kinds whose value
// lives in the header byte or in nested items.
func (k ValueKind) maxSize() int {
	switch k {
	case ValueByte:
		return 1
	case ValueShort, ValueChar:
		return 2
	case ValueInt, ValueFloat, ValueMethodType, ValueMethodHandle,
		ValueString, ValueType, ValueField, ValueMethod, ValueEnum:
		return 4
	case ValueLong, ValueDouble:
		return 8
	}
	return 0
}

var sectionOf = map[ValueKind]key.Kind{
	ValueMethodType:   key.KindProto,
	ValueMethodHandle: key.KindMethodHandle,
	ValueString:       key.KindString,
	ValueType:         key.KindType,
	ValueField:        key.KindField,
	ValueMethod:       key.KindMethod,
	ValueEnum:         key.KindField,
}

var ErrNoKey = errors.New("value has no key form")

// EncodedValue is one encoded_value: a header byte holding the kind and
// a size argument, then the payload bytes, a nested array or a nested
// annotation.
type EncodedValue struct {
	block.Node
	kind       ValueKind
	arg        uint8
	data       []byte
	array      *EncodedArray
	annotation *EncodedAnnotation
}

func NewEncodedValue() *EncodedValue { return &EncodedValue{kind: ValueNull} }

func (v *EncodedValue) Kind() ValueKind { return v.kind }

func (v *EncodedValue) CountBytes() int {
	switch v.kind {
	case ValueArray:
		return 1 + v.array.CountBytes()
	case ValueAnnotation:
		return 1 + v.annotation.CountBytes()
	}
	return 1 + len(v.data)
}

func (v *EncodedValue) Children() []block.Block {
	switch v.kind {
	case ValueArray:
		return []block.Block{v.array}
	case ValueAnnotation:
		return []block.Block{v.annotation}
	}
	return nil
}

func (v *EncodedValue) Decode(r *dexio.Reader) error {
	off := r.Position()
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	v.kind, v.arg, v.data, v.array, v.annotation = ValueKind(b&0x1f), b>>5, nil, nil, nil
	if _, ok := valueNames[v.kind]; !ok {
		return dexio.Formatf("encoded value", off, "unknown value type 0x%02x", uint8(v.kind))
	}
	switch v.kind {
	case ValueArray:
		v.array = NewEncodedArray()
		v.array.SetParent(v)
		return v.array.Decode(r)
	case ValueAnnotation:
		v.annotation = NewEncodedAnnotation()
		v.annotation.SetParent(v)
		return v.annotation.Decode(r)
	case ValueNull:
		return nil
	case ValueBoolean:
		if v.arg > 1 {
			return dexio.Formatf("encoded value", off, "boolean argument %d", v.arg)
		}
		return nil
	}
	n := int(v.arg) + 1
	if n > v.kind.maxSize() {
		return dexio.Formatf("encoded value", off, "%d bytes for a %s", n, v.kind)
	}
	v.data, err = r.ReadBytes(n)
	return err
}

func (v *EncodedValue) WriteTo(w io.Writer) (int64, error) {
	m, err := w.Write([]byte{v.arg<<5 | uint8(v.kind)})
	n := int64(m)
	if err != nil {
		return n, err
	}
	var k int64
	switch v.kind {
	case ValueArray:
		k, err = v.array.WriteTo(w)
	case ValueAnnotation:
		k, err = v.annotation.WriteTo(w)
	default:
		m, err = w.Write(v.data)
		k = int64(m)
	}
	return n + k, err
}

func (v *EncodedValue) unsigned() uint64 {
	var b [8]byte
	copy(b[:], v.data)
	return binary.LittleEndian.Uint64(b[:])
}

func (v *EncodedValue) signed() int64 {
	shift := 64 - 8*uint(len(v.data))
	return int64(v.unsigned()<<shift) >> shift
}

// Array returns the nested array of a ValueArray.
func (v *EncodedValue) Array() (*EncodedArray, bool) { return v.array, v.kind == ValueArray }

// Annotation returns the nested annotation of a ValueAnnotation.
func (v *EncodedValue) Annotation() (*EncodedAnnotation, bool) {
	return v.annotation, v.kind == ValueAnnotation
}

// Key maps the value to a key. Section references the pool cannot
// resolve come back as key.RawKey; enum values become their field key.
// Arrays and annotations have no key form and return ErrNoKey.
func (v *EncodedValue) Key(pool *key.Pool) (key.Key, error) {
	switch v.kind {
	case ValueByte:
		return key.Byte(int8(v.signed())), nil
	case ValueShort:
		return key.Short(int16(v.signed())), nil
	case ValueChar:
		return key.Char(uint16(v.unsigned())), nil
	case ValueInt:
		return key.Int(int32(v.signed())), nil
	case ValueLong:
		return key.Long(v.signed()), nil
	case ValueFloat:
		bits := uint32(v.unsigned()) << (8 * (4 - uint(len(v.data))))
		return key.Float(math.Float32frombits(bits)), nil
	case ValueDouble:
		bits := v.unsigned() << (8 * (8 - uint(len(v.data))))
		return key.Double(math.Float64frombits(bits)), nil
	case ValueNull:
		return key.NullKey{}, nil
	case ValueBoolean:
		return key.Bool(v.arg != 0), nil
	case ValueArray, ValueAnnotation:
		return nil, fmt.Errorf("%w: %s", ErrNoKey, v.kind)
	}
	kind := sectionOf[v.kind]
	idx := int(v.unsigned())
	if pool != nil {
		if k, err := pool.Lookup(kind, idx); err == nil {
			return k, nil
		}
	}
	return key.RawKey{Of: kind, Index: idx}, nil
}

func (v *EncodedValue) setPayload(kind ValueKind, data []byte) {
	v.kind, v.arg, v.data, v.array, v.annotation = kind, uint8(len(data)-1), data, nil, nil
}

func (v *EncodedValue) setHeaderOnly(kind ValueKind, arg uint8) {
	v.kind, v.arg, v.data, v.array, v.annotation = kind, arg, nil, nil, nil
}

// signedBytes is the shortest little-endian form of x that sign-extends
// back to x.
func signedBytes(x int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(x))
	n := 8
	for n > 1 {
		top, next := b[n-1], b[n-2]
		if (top == 0 && next&0x80 == 0) || (top == 0xff && next&0x80 != 0) {
			n--
			continue
		}
		break
	}
	return append([]byte(nil), b[:n]...)
}

// unsignedBytes is the shortest little-endian form of x that zero-extends
// back to x.
func unsignedBytes(x uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	n := 8
	for n > 1 && b[n-1] == 0 {
		n--
	}
	return append([]byte(nil), b[:n]...)
}

// rightZeroBytes drops low-order zero bytes, which the reader fills back
// in from the right.
func rightZeroBytes(x uint64, size int) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	i := 0
	for i < size-1 && b[i] == 0 {
		i++
	}
	return append([]byte(nil), b[i:size]...)
}

// SetKey stores k in the shortest encoding. Section keys are interned
// into pool; a field key whose type is its declaring class is written as
// an enum.
func (v *EncodedValue) SetKey(pool *key.Pool, k key.Key) error {
	switch k := k.(type) {
	case key.PrimitiveKey:
		switch k.PrimitiveKind() {
		case key.PrimBoolean:
			var arg uint8
			if k.Bool() {
				arg = 1
			}
			v.setHeaderOnly(ValueBoolean, arg)
		case key.PrimByte:
			v.setPayload(ValueByte, []byte{byte(k.Long())})
		case key.PrimShort:
			v.setPayload(ValueShort, signedBytes(k.Long()))
		case key.PrimChar:
			v.setPayload(ValueChar, unsignedBytes(uint64(uint16(k.Long()))))
		case key.PrimInt:
			v.setPayload(ValueInt, signedBytes(int64(k.Int())))
		case key.PrimLong:
			v.setPayload(ValueLong, signedBytes(k.Long()))
		case key.PrimFloat:
			v.setPayload(ValueFloat, rightZeroBytes(uint64(math.Float32bits(k.Float())), 4))
		case key.PrimDouble:
			v.setPayload(ValueDouble, rightZeroBytes(math.Float64bits(k.Double()), 8))
		default:
			return fmt.Errorf("dex: cannot encode %v", k)
		}
		return nil
	case key.NullKey:
		v.setHeaderOnly(ValueNull, 0)
		return nil
	}
	kind, err := valueKindFor(k)
	if err != nil {
		return err
	}
	idx, err := indexFor(pool, k)
	if err != nil {
		return err
	}
	v.setPayload(kind, unsignedBytes(uint64(uint32(idx))))
	return nil
}

func valueKindFor(k key.Key) (ValueKind, error) {
	switch k := k.(type) {
	case key.StringKey:
		return ValueString, nil
	case key.TypeKey:
		return ValueType, nil
	case key.FieldKey:
		if k.Type == k.Declaring {
			return ValueEnum, nil
		}
		return ValueField, nil
	case key.MethodKey:
		return ValueMethod, nil
	case key.ProtoKey:
		return ValueMethodType, nil
	case key.RawKey:
		for vk, kind := range sectionOf {
			if kind == k.Of && vk != ValueEnum {
				return vk, nil
			}
		}
	}
	return 0, fmt.Errorf("dex: cannot encode %v as a value", k)
}

func indexFor(pool *key.Pool, k key.Key) (int, error) {
	if raw, ok := k.(key.RawKey); ok {
		return raw.Index, nil
	}
	if pool == nil {
		return 0, &key.UnresolvedError{What: k.Kind().String(), Ref: k.String()}
	}
	return pool.Intern(k), nil
}

// EncodedArray is an encoded_array: a uleb128 count then the values.
type EncodedArray struct {
	block.Composite
	size   *block.Ule128Item
	values *block.Array[*EncodedValue]
}

func NewEncodedArray() *EncodedArray {
	a := &EncodedArray{size: block.NewUle128Item()}
	a.values = block.NewArray(NewEncodedValue, a.size)
	a.Init(a, a.size, a.values)
	a.values.SetOwner(a)
	return a
}

func (a *EncodedArray) Len() int                     { return a.values.Len() }
func (a *EncodedArray) At(i int) *EncodedValue       { return a.values.At(i) }
func (a *EncodedArray) Values() []*EncodedValue      { return a.values.Items() }
func (a *EncodedArray) Add(v *EncodedValue)          { a.values.Add(v) }
func (a *EncodedArray) SetSize(n int)                { a.values.SetSize(n) }
func (a *EncodedArray) RemoveAt(i int) *EncodedValue { return a.values.RemoveAt(i) }

// Keys maps every element through EncodedValue.Key.
func (a *EncodedArray) Keys(pool *key.Pool) ([]key.Key, error) {
	out := make([]key.Key, a.Len())
	for i, v := range a.values.Items() {
		k, err := v.Key(pool)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = k
	}
	return out, nil
}

// SetKeys replaces the contents with keys.
func (a *EncodedArray) SetKeys(pool *key.Pool, keys []key.Key) error {
	a.SetSize(len(keys))
	for i, k := range keys {
		if err := a.At(i).SetKey(pool, k); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// AnnotationElement is a name/value pair of an encoded_annotation.
type AnnotationElement struct {
	block.Composite
	Name  *block.Ule128Item
	Value *EncodedValue
}

func NewAnnotationElement() *AnnotationElement {
	e := &AnnotationElement{Name: block.NewUle128Item(), Value: NewEncodedValue()}
	e.Init(e, e.Name, e.Value)
	return e
}

// EncodedAnnotation keeps the type and elements of an annotation value
// so that it round trips; nothing interprets it further.
type EncodedAnnotation struct {
	block.Composite
	Type     *block.Ule128Item
	size     *block.Ule128Item
	elements *block.Array[*AnnotationElement]
}

func NewEncodedAnnotation() *EncodedAnnotation {
	a := &EncodedAnnotation{Type: block.NewUle128Item(), size: block.NewUle128Item()}
	a.elements = block.NewArray(NewAnnotationElement, a.size)
	a.Init(a, a.Type, a.size, a.elements)
	a.elements.SetOwner(a)
	return a
}

func (a *EncodedAnnotation) Elements() []*AnnotationElement { return a.elements.Items() }
