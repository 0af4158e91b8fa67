package smali

import (
	"errors"
	"fmt"
)

var ErrParse = errors.New("smali parse error")

// Origin is a position in smali source.
type Origin struct {
	Name   string
	Line   int
	Column int
}

func (o Origin) String() string {
	if o.Name == "" {
		return fmt.Sprintf("%d:%d", o.Line, o.Column)
	}
	return fmt.Sprintf("%s:%d:%d", o.Name, o.Line, o.Column)
}

// ParseError reports malformed smali text. Lines and columns are 1-based.
// Err, when set, is the cause, such as a key.ErrUnresolved for a label
// nothing defines.
type ParseError struct {
	Origin
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	return e.Origin.String() + ": " + e.Msg
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }
func (e *ParseError) Unwrap() error        { return e.Err }
