package dexio

import "encoding/binary"

//
// LEB128 helpers. DEX limits encoded values to 32 bits, so at most five
// bytes are consumed. See
//
//   https://source.android.com/devices/tech/dalvik/dex-format.html#leb128
//

const maxLeb128Bytes = 5

// DecodeUleb128 returns the value and the number of bytes consumed; a
// count <= 0 means the data is truncated or overlong.
func DecodeUleb128(data []byte) (uint32, int) {
	if len(data) > maxLeb128Bytes {
		data = data[:maxLeb128Bytes]
	}
	v, n := binary.Uvarint(data)
	if n <= 0 || v > 0xffffffff {
		return 0, -1
	}
	return uint32(v), n
}

// DecodeSleb128 returns the sign-extended value and bytes consumed.
func DecodeSleb128(data []byte) (int32, int) {
	var result int64
	var shift uint
	for i := 0; i < len(data) && i < maxLeb128Bytes; i++ {
		b := data[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return int32(result), i + 1
		}
	}
	return 0, -1
}

// AppendUleb128 appends the canonical encoding of v.
func AppendUleb128(dst []byte, v uint32) []byte {
	return binary.AppendUvarint(dst, uint64(v))
}

// AppendSleb128 appends the canonical encoding of v.
func AppendSleb128(dst []byte, v int32) []byte {
	x := int64(v)
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if (x == 0 && b&0x40 == 0) || (x == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

func Uleb128Size(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func Sleb128Size(v int32) int {
	return len(AppendSleb128(make([]byte, 0, maxLeb128Bytes), v))
}
