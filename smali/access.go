package smali

import "strings"

// Access is a set of access_flags bits as stored in DEX.
type Access uint32

// Target selects which meaning overloaded bits (0x40, 0x80) have.
type Target int

const (
	TargetClass Target = iota
	TargetField
	TargetMethod
)

type accessFlag struct {
	bit     Access
	name    string
	targets []Target
}

var all = []Target{TargetClass, TargetField, TargetMethod}

var accessFlags = []accessFlag{
	{0x1, "public", all},
	{0x2, "private", all},
	{0x4, "protected", all},
	{0x8, "static", all},
	{0x10, "final", all},
	{0x20, "synchronized", []Target{TargetMethod}},
	{0x40, "volatile", []Target{TargetField}},
	{0x40, "bridge", []Target{TargetMethod}},
	{0x80, "transient", []Target{TargetField}},
	{0x80, "varargs", []Target{TargetMethod}},
	{0x100, "native", []Target{TargetMethod}},
	{0x200, "interface", []Target{TargetClass}},
	{0x400, "abstract", []Target{TargetClass, TargetMethod}},
	{0x800, "strict", []Target{TargetMethod}},
	{0x1000, "synthetic", all},
	{0x2000, "annotation", []Target{TargetClass}},
	{0x4000, "enum", []Target{TargetClass, TargetField}},
	{0x10000, "constructor", []Target{TargetMethod}},
	{0x20000, "declared-synchronized", []Target{TargetMethod}},
}

func (f accessFlag) appliesTo(t Target) bool {
	for _, x := range f.targets {
		if x == t {
			return true
		}
	}
	return false
}

// Format lists the set flags in smali order, space separated.
func (a Access) Format(t Target) string {
	var names []string
	for _, f := range accessFlags {
		if a&f.bit != 0 && f.appliesTo(t) {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, " ")
}

func (a Access) Has(bits Access) bool { return a&bits == bits }

// ParseAccessWord returns the bit for one flag name.
func ParseAccessWord(word string, t Target) (Access, bool) {
	for _, f := range accessFlags {
		if f.name == word && f.appliesTo(t) {
			return f.bit, true
		}
	}
	return 0, false
}

// parseAccess consumes flag words until a token that is not one.
func parseAccess(r *Reader, t Target) Access {
	var a Access
	for {
		r.SkipSpaces()
		pos := r.Position()
		bit, ok := ParseAccessWord(r.ReadToken(), t)
		if !ok {
			r.SetPosition(pos)
			return a
		}
		a |= bit
	}
}
