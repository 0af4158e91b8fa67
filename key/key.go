package key

//
// Package key holds the immutable value objects that name things in a
// DEX file: types, strings, fields, methods, prototypes and literal
// values. Keys are comparable structs, so two keys with the same
// descriptor are == and work as map keys; they are the identity shared
// across the whole block graph.
//

import (
	"cmp"
	"errors"
	"fmt"
)

type Kind int

const (
	KindString Kind = iota
	KindType
	KindProto
	KindField
	KindMethod
	KindPrimitive
	KindNull
	KindCallSite
	KindMethodHandle
)

var kindNames = [...]string{
	KindString:       "string",
	KindType:         "type",
	KindProto:        "proto",
	KindField:        "field",
	KindMethod:       "method",
	KindPrimitive:    "primitive",
	KindNull:         "null",
	KindCallSite:     "call_site",
	KindMethodHandle: "method_handle",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Key interface {
	Kind() Kind
	// String returns the smali text form.
	String() string
	Compare(other Key) int
}

// Compare orders keys first by kind, then by the kind's own order.
func Compare(a, b Key) int {
	if a.Kind() != b.Kind() {
		return cmp.Compare(a.Kind(), b.Kind())
	}
	return a.Compare(b)
}

func compareForeign(k Key, other Key) int {
	if c := cmp.Compare(k.Kind(), other.Kind()); c != 0 {
		return c
	}
	return cmp.Compare(k.String(), other.String())
}

var (
	ErrUnresolved = errors.New("unresolved reference")
	ErrSyntax     = errors.New("invalid key syntax")
)

// UnresolvedError reports a reference that a full resolution pass could
// not find, as opposed to one that is absent by design.
type UnresolvedError struct {
	What string
	Ref  string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved %s: %s", e.What, e.Ref)
}

func (e *UnresolvedError) Is(target error) bool {
	return target == ErrUnresolved
}

func syntaxError(what, text string) error {
	return fmt.Errorf("%w: %s %q", ErrSyntax, what, text)
}

// NullKey is the literal null.
type NullKey struct{}

func (NullKey) Kind() Kind     { return KindNull }
func (NullKey) String() string { return "null" }

func (n NullKey) Compare(other Key) int {
	if _, ok := other.(NullKey); ok {
		return 0
	}
	return compareForeign(n, other)
}
