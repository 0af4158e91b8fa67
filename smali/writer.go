package smali

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Writer emits indented smali text. The first write error sticks and
// every later call is a no-op; check Err or Flush at the end.
type Writer struct {
	w        *bufio.Writer
	indent   int
	step     int
	comments bool
	newLine  bool
	err      error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w), step: 4, newLine: true, comments: true}
}

// SetIndentStep sets how many spaces one indent level is.
func (w *Writer) SetIndentStep(n int) { w.step = n }

// EnableComments controls whether AppendComment writes anything.
func (w *Writer) EnableComments(on bool) { w.comments = on }
func (w *Writer) CommentsEnabled() bool  { return w.comments }

func (w *Writer) IndentPlus()  { w.indent++ }
func (w *Writer) IndentMinus() { w.indent = max(0, w.indent-1) }

func (w *Writer) Err() error { return w.err }

func (w *Writer) Flush() error {
	if w.err == nil {
		w.err = w.w.Flush()
	}
	return w.err
}

func (w *Writer) write(s string) {
	if w.err != nil || s == "" {
		return
	}
	if w.newLine {
		w.newLine = false
		if pad := w.indent * w.step; pad > 0 {
			if _, w.err = w.w.WriteString(strings.Repeat(" ", pad)); w.err != nil {
				return
			}
		}
	}
	_, w.err = w.w.WriteString(s)
}

// Append writes s. Text must not contain newlines; use Newline.
func (w *Writer) Append(s string) { w.write(s) }

func (w *Writer) Appendf(format string, args ...any) {
	w.write(fmt.Sprintf(format, args...))
}

// AppendSpaced writes a blank and s.
func (w *Writer) AppendSpaced(s string) {
	w.write(" ")
	w.write(s)
}

func (w *Writer) Newline() {
	if w.err != nil {
		return
	}
	w.err = w.w.WriteByte('\n')
	w.newLine = true
}

// AppendComment writes "# text" after whatever is on the line.
func (w *Writer) AppendComment(text string) {
	if !w.comments || text == "" {
		return
	}
	if !w.newLine {
		w.write("    ")
	}
	w.write("# " + text)
}

// Line writes s on a line of its own.
func (w *Writer) Line(s string) {
	w.write(s)
	w.Newline()
}

// Directive writes a directive keyword followed by its operands.
func (w *Writer) Directive(d Directive, operands ...string) {
	w.write(string(d))
	for _, op := range operands {
		if op != "" {
			w.AppendSpaced(op)
		}
	}
}

func (w *Writer) End(d Directive) {
	w.write(d.End())
	w.Newline()
}
