package block

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/thanm/go-edit-a-dex/dexio"
)

// IntegerReference is a settable integer cell. A count stored in one
// block is handed as an IntegerReference to the array it counts, which
// keeps it equal to its length.
type IntegerReference interface {
	Get() int
	Set(v int)
}

// ByteItem is an unsigned 8-bit field.
type ByteItem struct {
	Node
	v uint8
}

func NewByteItem() *ByteItem        { return &ByteItem{} }
func (b *ByteItem) Get() int        { return int(b.v) }
func (b *ByteItem) Set(v int)       { b.v = uint8(v) }
func (b *ByteItem) CountBytes() int { return 1 }

func (b *ByteItem) Decode(r *dexio.Reader) error {
	v, err := r.ReadByte()
	b.v = v
	return err
}

func (b *ByteItem) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write([]byte{b.v})
	return int64(n), err
}

// ShortItem is an unsigned 16-bit little-endian field.
type ShortItem struct {
	Node
	v uint16
}

func NewShortItem() *ShortItem       { return &ShortItem{} }
func (s *ShortItem) Get() int        { return int(s.v) }
func (s *ShortItem) Set(v int)       { s.v = uint16(v) }
func (s *ShortItem) CountBytes() int { return 2 }

func (s *ShortItem) Decode(r *dexio.Reader) error {
	v, err := r.ReadU16()
	s.v = v
	return err
}

func (s *ShortItem) WriteTo(w io.Writer) (int64, error) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], s.v)
	n, err := w.Write(b[:])
	return int64(n), err
}

// IntegerItem is a 32-bit little-endian field. Get interprets it as
// signed; U32 as unsigned.
type IntegerItem struct {
	Node
	v uint32
}

func NewIntegerItem() *IntegerItem     { return &IntegerItem{} }
func (i *IntegerItem) Get() int        { return int(int32(i.v)) }
func (i *IntegerItem) Set(v int)       { i.v = uint32(v) }
func (i *IntegerItem) U32() uint32     { return i.v }
func (i *IntegerItem) SetU32(v uint32) { i.v = v }
func (i *IntegerItem) CountBytes() int { return 4 }
func (i *IntegerItem) String() string  { return fmt.Sprintf("0x%08x", i.v) }

func (i *IntegerItem) Decode(r *dexio.Reader) error {
	v, err := r.ReadU32()
	i.v = v
	return err
}

func (i *IntegerItem) WriteTo(w io.Writer) (int64, error) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], i.v)
	n, err := w.Write(b[:])
	return int64(n), err
}

// Ule128Item is an unsigned LEB128 field. The encoding read from input is
// kept and written back as long as the value is unchanged, so overlong
// encodings found in the wild survive a round trip.
type Ule128Item struct {
	Node
	v   uint32
	raw []byte
}

func NewUle128Item() *Ule128Item  { return &Ule128Item{} }
func (u *Ule128Item) Get() int    { return int(u.v) }
func (u *Ule128Item) U32() uint32 { return u.v }
func (u *Ule128Item) Set(v int)   { u.SetU32(uint32(v)) }

func (u *Ule128Item) SetU32(v uint32) {
	if v != u.v {
		u.v = v
		u.raw = nil
	}
}

func (u *Ule128Item) CountBytes() int {
	if u.raw != nil {
		return len(u.raw)
	}
	return dexio.Uleb128Size(u.v)
}

func (u *Ule128Item) Decode(r *dexio.Reader) error {
	start := r.Position()
	v, n, err := r.ReadUleb128()
	if err != nil {
		return err
	}
	u.v = v
	u.raw = append([]byte(nil), r.Bytes()[start:start+n]...)
	return nil
}

func (u *Ule128Item) WriteTo(w io.Writer) (int64, error) {
	b := u.raw
	if b == nil {
		b = dexio.AppendUleb128(nil, u.v)
	}
	n, err := w.Write(b)
	return int64(n), err
}

// Sle128Item is a signed LEB128 field; see Ule128Item for encoding reuse.
type Sle128Item struct {
	Node
	v   int32
	raw []byte
}

func NewSle128Item() *Sle128Item { return &Sle128Item{} }
func (s *Sle128Item) Get() int   { return int(s.v) }

func (s *Sle128Item) Set(v int) {
	if int32(v) != s.v {
		s.v = int32(v)
		s.raw = nil
	}
}

func (s *Sle128Item) CountBytes() int {
	if s.raw != nil {
		return len(s.raw)
	}
	return dexio.Sleb128Size(s.v)
}

func (s *Sle128Item) Decode(r *dexio.Reader) error {
	start := r.Position()
	v, n, err := r.ReadSleb128()
	if err != nil {
		return err
	}
	s.v = v
	s.raw = append([]byte(nil), r.Bytes()[start:start+n]...)
	return nil
}

func (s *Sle128Item) WriteTo(w io.Writer) (int64, error) {
	b := s.raw
	if b == nil {
		b = dexio.AppendSleb128(nil, s.v)
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ByteArray is a run of raw bytes. Its length is whatever was last set or
// decoded; Decode reads Size() bytes, so set the size first.
type ByteArray struct {
	Node
	b []byte
}

func NewByteArray(size int) *ByteArray {
	return &ByteArray{b: make([]byte, size)}
}

func (a *ByteArray) Get() []byte          { return a.b }
func (a *ByteArray) Set(b []byte)         { a.b = append(a.b[:0], b...) }
func (a *ByteArray) Size() int            { return len(a.b) }
func (a *ByteArray) CountBytes() int      { return len(a.b) }
func (a *ByteArray) Equals(b []byte) bool { return bytes.Equal(a.b, b) }

func (a *ByteArray) SetSize(n int) {
	if n <= cap(a.b) {
		old := len(a.b)
		a.b = a.b[:n]
		for i := old; i < n; i++ {
			a.b[i] = 0
		}
		return
	}
	grown := make([]byte, n)
	copy(grown, a.b)
	a.b = grown
}

func (a *ByteArray) Decode(r *dexio.Reader) error {
	b, err := r.ReadBytes(len(a.b))
	if err != nil {
		return err
	}
	a.b = b
	return nil
}

func (a *ByteArray) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(a.b)
	return int64(n), err
}

// Signature is a fixed byte string validated on read. With verification
// disabled a mismatch is tolerated and only reported by IsValid.
type Signature struct {
	ByteArray
	what          string
	expected      []byte
	skipVerifying bool
}

func NewSignature(what string, expected []byte) *Signature {
	s := &Signature{what: what, expected: append([]byte(nil), expected...)}
	s.b = append([]byte(nil), expected...)
	return s
}

func (s *Signature) Expected() []byte { return s.expected }
func (s *Signature) IsValid() bool    { return bytes.Equal(s.b, s.expected) }

// ResetToDefault restores the expected bytes.
func (s *Signature) ResetToDefault() { s.Set(s.expected) }

func (s *Signature) DisableVerification(disable bool) { s.skipVerifying = disable }
func (s *Signature) IsVerificationDisabled() bool     { return s.skipVerifying }

func (s *Signature) Decode(r *dexio.Reader) error {
	off := r.Position()
	b, err := r.ReadBytes(len(s.expected))
	if err != nil {
		return err
	}
	s.b = b
	if !s.skipVerifying && !s.IsValid() {
		return &dexio.FormatError{What: s.what, Offset: off, Got: b, Want: s.expected}
	}
	return nil
}
