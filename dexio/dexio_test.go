package dexio

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderFixedWidth(t *testing.T) {
	r := NewReader([]byte{0x01, 0x34, 0x12, 0x78, 0x56, 0x34, 0x12, 0xff})
	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), b)

	u16, err := r.ReadU16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), u32)

	assert.Equal(t, 1, r.Available())
	_, err = r.ReadU16()
	assert.ErrorIs(t, err, ErrShortRead)
	// failed reads leave the cursor alone
	assert.Equal(t, 7, r.Position())
}

func TestReaderMarkReset(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5, 6})
	r.Mark()
	require.NoError(t, r.SetPosition(4))
	r.Mark()
	require.NoError(t, r.SetPosition(1))
	assert.Equal(t, 2, r.Depth())

	require.NoError(t, r.Reset())
	assert.Equal(t, 4, r.Position())
	require.NoError(t, r.Reset())
	assert.Equal(t, 0, r.Position())
	assert.ErrorIs(t, r.Reset(), ErrNoMark)

	assert.ErrorIs(t, r.SetPosition(7), ErrBadPosition)
	pos, err := r.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)
}

func TestReaderExpect(t *testing.T) {
	r := NewReader([]byte("dey\n035\x00"))
	err := r.Expect("dex magic", []byte("dex\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFormat))
	assert.Equal(t, "dex magic: '6465790a', expecting '6465780a'", err.Error())
	assert.Equal(t, 4, r.Position())
}

func TestLeb128(t *testing.T) {
	type lebTest struct {
		raw      []byte
		unsigned uint32
		signed   int32
	}
	tests := []lebTest{
		{[]byte{0x00}, 0, 0},
		{[]byte{0x01}, 1, 1},
		{[]byte{0x7f}, 127, -1},
		{[]byte{0x80, 0x7f}, 16256, -128},
		{[]byte{0xb4, 0x07}, 0x3b4, 0x3b4},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xffffffff, -1},
	}
	for _, tc := range tests {
		u, n := DecodeUleb128(tc.raw)
		assert.Equal(t, len(tc.raw), n, "uleb %x", tc.raw)
		assert.Equal(t, tc.unsigned, u, "uleb %x", tc.raw)
		assert.Equal(t, tc.raw, AppendUleb128(nil, u))
		assert.Equal(t, len(tc.raw), Uleb128Size(u))

		s, n := DecodeSleb128(tc.raw)
		assert.Equal(t, len(tc.raw), n, "sleb %x", tc.raw)
		assert.Equal(t, tc.signed, s, "sleb %x", tc.raw)
	}
	assert.Equal(t, []byte{0x7f}, AppendSleb128(nil, -1))
	assert.Equal(t, []byte{0x80, 0x7f}, AppendSleb128(nil, -128))
	assert.Equal(t, []byte{0xc0, 0x00}, AppendSleb128(nil, 64))
	assert.Equal(t, 2, Sleb128Size(64))

	_, n := DecodeUleb128([]byte{0x80, 0x80})
	assert.LessOrEqual(t, n, 0)
	r := NewReader([]byte{0x80})
	_, _, err := r.ReadUleb128()
	assert.ErrorIs(t, err, ErrLeb128)
}

func TestCountingWriter(t *testing.T) {
	var sink bytes.Buffer
	cw := NewCountingWriter(&sink)

	n, err := cw.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(3), cw.Size())
	assert.Equal(t, crc32.ChecksumIEEE([]byte{0x01, 0x02, 0x03}), cw.CRC32())

	before := cw.CRC32()
	n, err = cw.Write(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(3), cw.Size())
	assert.Equal(t, before, cw.CRC32())

	cw.Reset()
	assert.Equal(t, int64(0), cw.Size())
	assert.Equal(t, uint32(0), cw.CRC32())
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, sink.Bytes())

	cw.DisableCRC(true)
	_, _ = cw.Write([]byte("abc"))
	assert.Equal(t, uint32(0), cw.CRC32())
	assert.Equal(t, int64(3), cw.Size())
}

func TestCountingWriterReadFrom(t *testing.T) {
	payload := strings.Repeat("dalvik", 50000)
	var sink bytes.Buffer
	cw := NewCountingWriter(&sink)
	n, err := io.Copy(cw, strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, int64(len(payload)), cw.Size())
	assert.Equal(t, crc32.ChecksumIEEE([]byte(payload)), cw.CRC32())
	assert.Equal(t, payload, sink.String())
}
