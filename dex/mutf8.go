package dex

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"

	"github.com/thanm/go-edit-a-dex/block"
	"github.com/thanm/go-edit-a-dex/dexio"
)

//
// DEX file strings use a somewhat peculiar "Modified" UTF-8 encoding,
// details in
//
//   https://source.android.com/devices/tech/dalvik/dex-format.html#mutf-8
//
// NUL is stored as 0xc0 0x80, and code points past U+FFFF as a surrogate
// pair with each half encoded on its own in three bytes.
//

var ErrMUTF8 = errors.New("malformed MUTF-8")

func continuation(b []byte, i int) (uint16, error) {
	if i >= len(b) || b[i]&0xc0 != 0x80 {
		return 0, fmt.Errorf("%w: truncated sequence at byte %d", ErrMUTF8, i)
	}
	return uint16(b[i] & 0x3f), nil
}

// DecodeMUTF8 decodes b, which must not contain the terminating NUL.
func DecodeMUTF8(b []byte) (string, error) {
	u := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0:
			return "", fmt.Errorf("%w: NUL byte at %d", ErrMUTF8, i)
		case c < 0x80:
			u = append(u, uint16(c))
			i++
		case c&0xe0 == 0xc0:
			c2, err := continuation(b, i+1)
			if err != nil {
				return "", err
			}
			u = append(u, uint16(c&0x1f)<<6|c2)
			i += 2
		case c&0xf0 == 0xe0:
			c2, err := continuation(b, i+1)
			if err != nil {
				return "", err
			}
			c3, err := continuation(b, i+2)
			if err != nil {
				return "", err
			}
			u = append(u, uint16(c&0x0f)<<12|c2<<6|c3)
			i += 3
		default:
			return "", fmt.Errorf("%w: byte 0x%02x at %d", ErrMUTF8, c, i)
		}
	}
	return string(utf16.Decode(u)), nil
}

// EncodeMUTF8 encodes s without a terminator.
func EncodeMUTF8(s string) []byte {
	var out []byte
	for _, u := range utf16.Encode([]rune(s)) {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, 0xc0|byte(u>>6), 0x80|byte(u&0x3f))
		default:
			out = append(out, 0xe0|byte(u>>12), 0x80|byte(u>>6&0x3f), 0x80|byte(u&0x3f))
		}
	}
	return out
}

// UTF16Len is the length in UTF-16 code units, which is what
// string_data_item records.
func UTF16Len(s string) int { return len(utf16.Encode([]rune(s))) }

// StringData is a string_data_item: the UTF-16 length and the MUTF-8
// bytes up to and including a NUL.
type StringData struct {
	block.Node
	length *block.Ule128Item
	data   []byte
}

func NewStringData() *StringData { return &StringData{length: block.NewUle128Item()} }

func (s *StringData) CountBytes() int { return s.length.CountBytes() + len(s.data) + 1 }

func (s *StringData) Decode(r *dexio.Reader) error {
	if err := s.length.Decode(r); err != nil {
		return err
	}
	off := r.Position()
	n := bytes.IndexByte(r.Bytes()[off:], 0)
	if n < 0 {
		return dexio.Formatf("string data", off, "missing NUL terminator")
	}
	b, err := r.ReadBytes(n)
	if err != nil {
		return err
	}
	s.data = b
	_, err = r.ReadByte()
	return err
}

func (s *StringData) WriteTo(w io.Writer) (int64, error) {
	n, err := s.length.WriteTo(w)
	if err != nil {
		return n, err
	}
	m, err := w.Write(s.data)
	n += int64(m)
	if err != nil {
		return n, err
	}
	m, err = w.Write([]byte{0})
	return n + int64(m), err
}

// Value decodes the string.
func (s *StringData) Value() (string, error) {
	v, err := DecodeMUTF8(s.data)
	if err != nil {
		return "", err
	}
	if got := UTF16Len(v); got != s.length.Get() {
		return v, fmt.Errorf("%w: length %d, decoded %d", ErrMUTF8, s.length.Get(), got)
	}
	return v, nil
}

func (s *StringData) SetValue(v string) {
	s.data = EncodeMUTF8(v)
	s.length.Set(UTF16Len(v))
}
