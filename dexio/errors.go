package dexio

import (
	"errors"
	"fmt"
)

// ErrFormat is matched by every *FormatError via errors.Is.
var ErrFormat = errors.New("format error")

// FormatError reports a fixed signature or structural expectation that
// did not hold while reading.
type FormatError struct {
	What   string
	Offset int
	Got    []byte
	Want   []byte
	Msg    string
}

func (e *FormatError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s at offset %d: %s", e.What, e.Offset, e.Msg)
	}
	return fmt.Sprintf("%s: '%x', expecting '%x'", e.What, e.Got, e.Want)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Formatf builds a FormatError that carries a message instead of a byte
// comparison.
func Formatf(what string, offset int, format string, a ...interface{}) *FormatError {
	return &FormatError{What: what, Offset: offset, Msg: fmt.Sprintf(format, a...)}
}
