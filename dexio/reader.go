package dexio

//
// Positioned, bounds-checked reader over an in-memory DEX image. Blocks
// read themselves from a Reader; the mark stack lets a block jump to an
// offset (e.g. class data referenced from a class def) and come back.
//

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrShortRead   = errors.New("read past end of data")
	ErrBadPosition = errors.New("position out of range")
	ErrNoMark      = errors.New("reset without matching mark")
	ErrLeb128      = errors.New("malformed LEB128 value")
)

type Reader struct {
	data  []byte
	pos   int
	marks []int
}

// NewReader returns a Reader positioned at the start of data. The slice
// is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// NewReaderFrom drains src into memory and returns a Reader over the
// result.
func NewReaderFrom(src io.Reader) (*Reader, error) {
	var b bytes.Buffer
	if _, err := io.Copy(&b, src); err != nil {
		return nil, err
	}
	return NewReader(b.Bytes()), nil
}

func (r *Reader) Position() int  { return r.pos }
func (r *Reader) Len() int       { return len(r.data) }
func (r *Reader) Available() int { return len(r.data) - r.pos }
func (r *Reader) Finished() bool { return r.pos >= len(r.data) }

// Bytes returns the whole underlying buffer.
func (r *Reader) Bytes() []byte { return r.data }

// SetPosition moves the cursor to an absolute offset.
func (r *Reader) SetPosition(off int) error {
	if off < 0 || off > len(r.data) {
		return fmt.Errorf("%w: %d (size %d)", ErrBadPosition, off, len(r.data))
	}
	r.pos = off
	return nil
}

// Seek implements io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(r.pos) + offset
	case io.SeekEnd:
		abs = int64(len(r.data)) + offset
	default:
		return int64(r.pos), fmt.Errorf("dexio: bad whence %d", whence)
	}
	if err := r.SetPosition(int(abs)); err != nil {
		return int64(r.pos), err
	}
	return abs, nil
}

// Offset moves the cursor relative to its current position.
func (r *Reader) Offset(delta int) error {
	return r.SetPosition(r.pos + delta)
}

// Mark pushes the current position on the mark stack.
func (r *Reader) Mark() {
	r.marks = append(r.marks, r.pos)
}

// Reset pops the most recent mark and restores the cursor to it.
func (r *Reader) Reset() error {
	n := len(r.marks)
	if n == 0 {
		return ErrNoMark
	}
	r.pos = r.marks[n-1]
	r.marks = r.marks[:n-1]
	return nil
}

// Depth reports how many marks are outstanding.
func (r *Reader) Depth() int { return len(r.marks) }

func (r *Reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrShortRead, n, r.pos, len(r.data)-r.pos)
	}
	return nil
}

// Peek returns the next n bytes without advancing.
func (r *Reader) Peek(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	return r.data[r.pos : r.pos+n], nil
}

// ReadByte implements io.ByteReader.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.Finished() {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// ReadBytes returns a copy of the next n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

func (r *Reader) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// Expect reads len(want) bytes and fails with a FormatError when they
// differ. The bytes are consumed either way.
func (r *Reader) Expect(what string, want []byte) error {
	off := r.pos
	got, err := r.ReadBytes(len(want))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return &FormatError{What: what, Offset: off, Got: got, Want: want}
	}
	return nil
}

// ReadUleb128 decodes an unsigned LEB128 value and also returns the
// number of bytes it occupied.
func (r *Reader) ReadUleb128() (uint32, int, error) {
	v, n := DecodeUleb128(r.data[r.pos:])
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w at offset %d", ErrLeb128, r.pos)
	}
	r.pos += n
	return v, n, nil
}

// ReadSleb128 decodes a signed LEB128 value.
func (r *Reader) ReadSleb128() (int32, int, error) {
	v, n := DecodeSleb128(r.data[r.pos:])
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w at offset %d", ErrLeb128, r.pos)
	}
	r.pos += n
	return v, n, nil
}
