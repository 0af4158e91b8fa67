package smali

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Reader is a cursor over smali source. It works on bytes; a text source
// is converted once by NewStringReader and a stream is read up front by
// NewReaderFrom.
type Reader struct {
	name string
	data []byte
	pos  int

	// cached line position, advanced lazily by Origin
	linePos   int
	line      int
	lineStart int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data, line: 1}
}

func NewStringReader(s string) *Reader {
	return NewReader([]byte(s))
}

func NewReaderFrom(r io.Reader) (*Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewReader(data), nil
}

// SetName sets the origin name used in diagnostics, typically a file name.
func (r *Reader) SetName(name string) { r.name = name }

func (r *Reader) Position() int  { return r.pos }
func (r *Reader) Finished() bool { return r.pos >= len(r.data) }

func (r *Reader) SetPosition(pos int) {
	r.pos = max(0, min(pos, len(r.data)))
}

// Origin returns the current line and column.
func (r *Reader) Origin() Origin {
	if r.pos < r.linePos {
		r.linePos, r.line, r.lineStart = 0, 1, 0
	}
	for i := r.linePos; i < r.pos; i++ {
		if r.data[i] == '\n' {
			r.line++
			r.lineStart = i + 1
		}
	}
	r.linePos = r.pos
	return Origin{Name: r.name, Line: r.line, Column: r.pos - r.lineStart + 1}
}

// Errorf builds a ParseError at the current position.
func (r *Reader) Errorf(format string, args ...any) *ParseError {
	return &ParseError{Origin: r.Origin(), Msg: fmt.Sprintf(format, args...)}
}

// Peek returns the current byte, or 0 at end of input.
func (r *Reader) Peek() byte {
	if r.pos < len(r.data) {
		return r.data[r.pos]
	}
	return 0
}

func (r *Reader) Skip(n int) { r.SetPosition(r.pos + n) }

func (r *Reader) StartsWith(s string) bool {
	return bytes.HasPrefix(r.data[r.pos:], []byte(s))
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\r' }

func isWhite(c byte) bool { return isSpace(c) || c == '\n' }

// isDelimiter ends a bare token.
func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', ',', '{', '}', '#':
		return true
	}
	return false
}

// SkipSpaces skips blanks on the current line.
func (r *Reader) SkipSpaces() {
	for r.pos < len(r.data) && isSpace(r.data[r.pos]) {
		r.pos++
	}
}

// SkipWhitespacesOrComment skips blanks, newlines and # comments.
func (r *Reader) SkipWhitespacesOrComment() {
	for r.pos < len(r.data) {
		c := r.data[r.pos]
		switch {
		case isWhite(c):
			r.pos++
		case c == '#':
			r.SkipLine()
		default:
			return
		}
	}
}

// SkipLine moves past the next newline.
func (r *Reader) SkipLine() {
	i := bytes.IndexByte(r.data[r.pos:], '\n')
	if i < 0 {
		r.pos = len(r.data)
		return
	}
	r.pos += i + 1
}

// AtLineEnd reports whether only blanks or a comment remain on the line.
func (r *Reader) AtLineEnd() bool {
	r.SkipSpaces()
	c := r.Peek()
	return r.Finished() || c == '\n' || c == '#'
}

// ReadToken reads up to the next blank, comma, brace or comment.
func (r *Reader) ReadToken() string {
	start := r.pos
	for r.pos < len(r.data) && !isDelimiter(r.data[r.pos]) {
		r.pos++
	}
	return string(r.data[start:r.pos])
}

// PeekToken returns the next token without consuming it.
func (r *Reader) PeekToken() string {
	pos := r.pos
	tok := r.ReadToken()
	r.pos = pos
	return tok
}

// ReadQuoted reads a quoted literal, either "..." or '...', and returns it
// with its quotes and escapes intact.
func (r *Reader) ReadQuoted() (string, error) {
	q := r.Peek()
	if q != '"' && q != '\'' {
		return "", r.Errorf("expecting quoted literal")
	}
	start := r.pos
	for i := r.pos + 1; i < len(r.data); i++ {
		switch r.data[i] {
		case '\\':
			i++
		case '\n':
			r.pos = i
			return "", r.Errorf("unterminated literal")
		case q:
			r.pos = i + 1
			return string(r.data[start:r.pos]), nil
		}
	}
	r.pos = len(r.data)
	return "", r.Errorf("unterminated literal")
}

// ReadLiteral reads a token, treating quoted text as one token even when
// it contains blanks or commas.
func (r *Reader) ReadLiteral() (string, error) {
	if c := r.Peek(); c == '"' || c == '\'' {
		return r.ReadQuoted()
	}
	tok := r.ReadToken()
	if tok == "" {
		return "", r.Errorf("expecting literal")
	}
	return tok, nil
}

// Expect consumes s, which must be followed by a delimiter unless it ends
// in punctuation.
func (r *Reader) Expect(s string) error {
	if !r.StartsWith(s) {
		return r.Errorf("expecting '%s', found '%s'", s, r.PeekToken())
	}
	end := r.pos + len(s)
	last := s[len(s)-1]
	if strings.IndexByte(",{}:>.", last) < 0 && end < len(r.data) && !isDelimiter(r.data[end]) {
		return r.Errorf("expecting '%s', found '%s'", s, r.PeekToken())
	}
	r.pos = end
	return nil
}

// Accept consumes s when it is next and reports whether it did.
func (r *Reader) Accept(s string) bool {
	if r.StartsWith(s) {
		r.pos += len(s)
		return true
	}
	return false
}
