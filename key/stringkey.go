package key

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// StringKey is a string constant. String() returns it quoted and escaped
// the way smali writes it.
type StringKey struct {
	Value string
}

func NewStringKey(s string) StringKey { return StringKey{s} }

// ParseStringKey reads a quoted smali string literal.
func ParseStringKey(text string) (StringKey, error) {
	s, err := Unquote(text)
	if err != nil {
		return StringKey{}, err
	}
	return StringKey{s}, nil
}

func (s StringKey) Kind() Kind     { return KindString }
func (s StringKey) String() string { return Quote(s.Value) }

func (s StringKey) Compare(other Key) int {
	if o, ok := other.(StringKey); ok {
		return compareUTF16(s.Value, o.Value)
	}
	return compareForeign(s, other)
}

// compareUTF16 orders by UTF-16 code units, the order of the string_ids
// section.
func compareUTF16(a, b string) int {
	ua, ub := utf16.Encode([]rune(a)), utf16.Encode([]rune(b))
	n := min(len(ua), len(ub))
	for i := 0; i < n; i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	}
	return 0
}

// Quote wraps s in double quotes, escaping control characters, quotes,
// backslashes and anything outside printable ASCII.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	appendEscaped(&b, s, '"')
	b.WriteByte('"')
	return b.String()
}

// QuoteChar renders a char literal, e.g. 'a' or '\n'.
func QuoteChar(c uint16) string {
	var b strings.Builder
	b.WriteByte('\'')
	if utf16.IsSurrogate(rune(c)) {
		writeUnicodeEscape(&b, c)
	} else {
		appendEscaped(&b, string(rune(c)), '\'')
	}
	b.WriteByte('\'')
	return b.String()
}

const hexDigits = "0123456789abcdef"

func writeUnicodeEscape(b *strings.Builder, u uint16) {
	b.WriteString(`\u`)
	b.WriteByte(hexDigits[u>>12&0xf])
	b.WriteByte(hexDigits[u>>8&0xf])
	b.WriteByte(hexDigits[u>>4&0xf])
	b.WriteByte(hexDigits[u&0xf])
}

func appendEscaped(b *strings.Builder, s string, quote byte) {
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\\':
			b.WriteString(`\\`)
		case rune(quote):
			b.WriteByte('\\')
			b.WriteByte(quote)
		default:
			if r >= 0x20 && r < 0x7f {
				b.WriteRune(r)
				continue
			}
			if r > 0xffff {
				r1, r2 := utf16.EncodeRune(r)
				writeUnicodeEscape(b, uint16(r1))
				writeUnicodeEscape(b, uint16(r2))
				continue
			}
			writeUnicodeEscape(b, uint16(r))
		}
	}
}

// Unquote is the inverse of Quote. It accepts single or double quotes.
func Unquote(text string) (string, error) {
	if len(text) < 2 || (text[0] != '"' && text[0] != '\'') || text[len(text)-1] != text[0] {
		return "", syntaxError("string", text)
	}
	units, err := unescape(text[1 : len(text)-1])
	if err != nil {
		return "", syntaxError("string", text)
	}
	return string(utf16.Decode(units)), nil
}

// UnquoteChar reads a char literal such as 'a' or 'A'.
func UnquoteChar(text string) (uint16, error) {
	if len(text) < 3 || text[0] != '\'' || text[len(text)-1] != '\'' {
		return 0, syntaxError("char", text)
	}
	units, err := unescape(text[1 : len(text)-1])
	if err != nil || len(units) != 1 {
		return 0, syntaxError("char", text)
	}
	return units[0], nil
}

func unescape(s string) ([]uint16, error) {
	var out []uint16
	for i := 0; i < len(s); {
		c := s[i]
		if c != '\\' {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				return nil, ErrSyntax
			}
			out = utf16.AppendRune(out, r)
			i += size
			continue
		}
		if i+1 >= len(s) {
			return nil, ErrSyntax
		}
		i++
		switch s[i] {
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'r':
			out = append(out, '\r')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case '\\', '"', '\'':
			out = append(out, uint16(s[i]))
		case 'u':
			if i+5 > len(s) {
				return nil, ErrSyntax
			}
			var u uint16
			for _, h := range []byte(s[i+1 : i+5]) {
				d := strings.IndexByte(hexDigits, lower(h))
				if d < 0 {
					return nil, ErrSyntax
				}
				u = u<<4 | uint16(d)
			}
			out = append(out, u)
			i += 4
		default:
			return nil, ErrSyntax
		}
		i++
	}
	return out, nil
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}
