package key

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type PrimitiveKind uint8

const (
	PrimInt PrimitiveKind = iota
	PrimLong
	PrimByte
	PrimShort
	PrimChar
	PrimFloat
	PrimDouble
	PrimBoolean
)

var primitiveTypes = [...]TypeKey{
	PrimInt:     TypeI,
	PrimLong:    TypeJ,
	PrimByte:    TypeB,
	PrimShort:   TypeS,
	PrimChar:    TypeC,
	PrimFloat:   TypeF,
	PrimDouble:  TypeD,
	PrimBoolean: TypeZ,
}

// PrimitiveKey is a literal number, char or boolean. The value is stored
// as raw bits: sign-extended for integer kinds, IEEE bits for floats.
type PrimitiveKey struct {
	kind PrimitiveKind
	bits uint64
}

func Int(v int32) PrimitiveKey     { return PrimitiveKey{PrimInt, uint64(int64(v))} }
func Long(v int64) PrimitiveKey    { return PrimitiveKey{PrimLong, uint64(v)} }
func Byte(v int8) PrimitiveKey     { return PrimitiveKey{PrimByte, uint64(int64(v))} }
func Short(v int16) PrimitiveKey   { return PrimitiveKey{PrimShort, uint64(int64(v))} }
func Char(v uint16) PrimitiveKey   { return PrimitiveKey{PrimChar, uint64(v)} }
func Float(v float32) PrimitiveKey { return PrimitiveKey{PrimFloat, uint64(math.Float32bits(v))} }
func Double(v float64) PrimitiveKey {
	return PrimitiveKey{PrimDouble, math.Float64bits(v)}
}

func Bool(v bool) PrimitiveKey {
	if v {
		return PrimitiveKey{PrimBoolean, 1}
	}
	return PrimitiveKey{PrimBoolean, 0}
}

func (p PrimitiveKey) Kind() Kind                   { return KindPrimitive }
func (p PrimitiveKey) PrimitiveKind() PrimitiveKind { return p.kind }
func (p PrimitiveKey) Type() TypeKey                { return primitiveTypes[p.kind] }

// Long returns the value widened to 64 bits; float kinds return raw bits.
func (p PrimitiveKey) Long() int64     { return int64(p.bits) }
func (p PrimitiveKey) Int() int32      { return int32(p.bits) }
func (p PrimitiveKey) Bool() bool      { return p.bits != 0 }
func (p PrimitiveKey) Float() float32  { return math.Float32frombits(uint32(p.bits)) }
func (p PrimitiveKey) Double() float64 { return math.Float64frombits(p.bits) }

// Bits returns the raw storage bits truncated to the kind's width.
func (p PrimitiveKey) Bits() uint64 {
	switch p.kind {
	case PrimByte:
		return p.bits & 0xff
	case PrimShort, PrimChar:
		return p.bits & 0xffff
	case PrimInt, PrimFloat:
		return p.bits & 0xffffffff
	case PrimBoolean:
		return p.bits & 1
	}
	return p.bits
}

func hexLiteral(v int64) string {
	if v < 0 {
		if v == math.MinInt64 {
			return "-0x8000000000000000"
		}
		return "-0x" + strconv.FormatInt(-v, 16)
	}
	return "0x" + strconv.FormatInt(v, 16)
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

func (p PrimitiveKey) String() string {
	switch p.kind {
	case PrimLong:
		return hexLiteral(p.Long()) + "L"
	case PrimByte:
		return hexLiteral(p.Long()) + "t"
	case PrimShort:
		return hexLiteral(p.Long()) + "s"
	case PrimChar:
		return QuoteChar(uint16(p.bits))
	case PrimFloat:
		return formatFloat(float64(p.Float()), 32) + "f"
	case PrimDouble:
		return formatFloat(p.Double(), 64)
	case PrimBoolean:
		return strconv.FormatBool(p.Bool())
	}
	return hexLiteral(p.Long())
}

func (p PrimitiveKey) Compare(other Key) int {
	o, ok := other.(PrimitiveKey)
	if !ok {
		return compareForeign(p, other)
	}
	if c := cmp.Compare(p.kind, o.kind); c != 0 {
		return c
	}
	switch p.kind {
	case PrimFloat:
		return cmp.Compare(p.Float(), o.Float())
	case PrimDouble:
		return cmp.Compare(p.Double(), o.Double())
	}
	return cmp.Compare(p.Long(), o.Long())
}

// ParsePrimitive reads a smali literal: numbers in decimal or 0x hex with
// an optional t/s/L/f/d suffix, 'c' chars, true and false.
func ParsePrimitive(text string) (PrimitiveKey, error) {
	switch text {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}
	if strings.HasPrefix(text, "'") {
		c, err := UnquoteChar(text)
		if err != nil {
			return PrimitiveKey{}, err
		}
		return Char(c), nil
	}
	return ParseNumber(text)
}

func ParseNumber(text string) (PrimitiveKey, error) {
	if text == "" {
		return PrimitiveKey{}, syntaxError("number", text)
	}
	body := text
	neg := false
	if body[0] == '-' || body[0] == '+' {
		neg = body[0] == '-'
		body = body[1:]
	}
	hex := len(body) > 2 && body[0] == '0' && (body[1] == 'x' || body[1] == 'X')

	suffix := byte(0)
	if n := len(body); n > 0 {
		switch c := body[n-1]; c {
		case 't', 'T', 's', 'S', 'l', 'L':
			suffix = lower(c)
		case 'f', 'F', 'd', 'D':
			if !hex {
				suffix = lower(c)
			}
		}
		if suffix != 0 {
			body = body[:n-1]
		}
	}
	if body == "" {
		return PrimitiveKey{}, syntaxError("number", text)
	}

	if suffix == 'f' || suffix == 'd' || (!hex && suffix == 0 && isFloatBody(body)) {
		return parseFloatLiteral(text, body, neg, suffix == 'f')
	}

	var mag uint64
	var err error
	if hex {
		mag, err = strconv.ParseUint(body[2:], 16, 64)
	} else {
		mag, err = strconv.ParseUint(body, 10, 64)
	}
	if err != nil {
		return PrimitiveKey{}, syntaxError("number", text)
	}

	// hex literals may spell the full unsigned range of the kind
	limit := func(signedMax uint64, width uint) (int64, error) {
		if hex && !neg && mag <= (signedMax<<1|1) {
			return signExtend(mag, width), nil
		}
		if neg && mag <= signedMax+1 {
			return -int64(mag), nil
		}
		if !neg && mag <= signedMax {
			return int64(mag), nil
		}
		return 0, syntaxError("number", text)
	}
	switch suffix {
	case 't':
		v, err := limit(math.MaxInt8, 8)
		return Byte(int8(v)), err
	case 's':
		v, err := limit(math.MaxInt16, 16)
		return Short(int16(v)), err
	case 'l':
		if neg {
			if mag > 1<<63 {
				return PrimitiveKey{}, syntaxError("number", text)
			}
			return Long(-int64(mag)), nil
		}
		if !hex && mag > math.MaxInt64 {
			return PrimitiveKey{}, syntaxError("number", text)
		}
		return Long(int64(mag)), nil
	}
	v, err := limit(math.MaxInt32, 32)
	return Int(int32(v)), err
}

func signExtend(v uint64, width uint) int64 {
	shift := 64 - width
	return int64(v<<shift) >> shift
}

func isFloatBody(body string) bool {
	return strings.ContainsAny(body, ".eE") || body == "Infinity" || body == "NaN"
}

func parseFloatLiteral(text, body string, neg, single bool) (PrimitiveKey, error) {
	var f float64
	switch body {
	case "Infinity":
		f = math.Inf(1)
	case "NaN":
		f = math.NaN()
	default:
		bits := 64
		if single {
			bits = 32
		}
		v, err := strconv.ParseFloat(body, bits)
		if err != nil {
			return PrimitiveKey{}, syntaxError("number", text)
		}
		f = v
	}
	if neg {
		f = -f
	}
	if single {
		return Float(float32(f)), nil
	}
	return Double(f), nil
}

// Literal returns an integer literal key sized to fit v, the form const
// instructions print their operand in.
func Literal(v int64, wide bool) PrimitiveKey {
	if wide {
		return Long(v)
	}
	return Int(int32(v))
}

func (k PrimitiveKind) String() string {
	if int(k) < len(primitiveTypes) {
		return primitiveTypes[k].SourceName()
	}
	return fmt.Sprintf("primitive(%d)", uint8(k))
}
