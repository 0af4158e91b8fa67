package smali

type Directive string

const (
	DirClass        Directive = ".class"
	DirSuper        Directive = ".super"
	DirSource       Directive = ".source"
	DirImplements   Directive = ".implements"
	DirField        Directive = ".field"
	DirMethod       Directive = ".method"
	DirRegisters    Directive = ".registers"
	DirLocals       Directive = ".locals"
	DirCatch        Directive = ".catch"
	DirCatchAll     Directive = ".catchall"
	DirPackedSwitch Directive = ".packed-switch"
	DirSparseSwitch Directive = ".sparse-switch"
	DirArrayData    Directive = ".array-data"
	DirAnnotation   Directive = ".annotation"
	DirParam        Directive = ".param"
)

// debug directives are accepted in code and skipped
var lineDirectives = []string{".line", ".prologue", ".epilogue", ".local", ".end local",
	".restart local", ".source", ".end param", ".param"}

func (d Directive) End() string { return ".end " + string(d[1:]) }

// Is reports whether r is positioned at the directive keyword.
func (d Directive) Is(r *Reader) bool {
	if !r.StartsWith(string(d)) {
		return false
	}
	end := r.pos + len(d)
	return end >= len(r.data) || isDelimiter(r.data[end])
}

// IsEnd reports whether r is positioned at the matching .end keyword.
func (d Directive) IsEnd(r *Reader) bool {
	end := d.End()
	if !r.StartsWith(end) {
		return false
	}
	i := r.pos + len(end)
	return i >= len(r.data) || isDelimiter(r.data[i])
}

func (d Directive) expect(r *Reader) error {
	if !d.Is(r) {
		return r.Errorf("expecting '%s', found '%s'", d, r.PeekToken())
	}
	r.Skip(len(d))
	return nil
}

func (d Directive) expectEnd(r *Reader) error {
	r.SkipWhitespacesOrComment()
	if !d.IsEnd(r) {
		return r.Errorf("expecting '%s', found '%s'", d.End(), r.PeekToken())
	}
	r.Skip(len(d.End()))
	return nil
}

// skipAnnotation skips an .annotation block up to its .end annotation.
func skipAnnotation(r *Reader) error {
	start := r.Origin()
	for !r.Finished() {
		r.SkipLine()
		r.SkipWhitespacesOrComment()
		if DirAnnotation.IsEnd(r) {
			r.Skip(len(DirAnnotation.End()))
			return nil
		}
	}
	return &ParseError{Origin: start, Msg: "missing '.end annotation'"}
}

func atLineDirective(r *Reader) bool {
	for _, d := range lineDirectives {
		if r.StartsWith(d) {
			end := r.pos + len(d)
			if end >= len(r.data) || isDelimiter(r.data[end]) {
				return true
			}
		}
	}
	return false
}
