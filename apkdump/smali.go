package apkdump

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/thanm/go-edit-a-dex/dexread"
	"github.com/thanm/go-edit-a-dex/key"
	"github.com/thanm/go-edit-a-dex/smali"
)

// SmaliWriter is a dumper that also writes every class it is handed to
// OutDir, one .smali file per class laid out by package. Failures do not
// stop the walk; they collect in Err.
type SmaliWriter struct {
	DexApkDumper
	OutDir     string
	IndentStep int
	Comments   bool
	Written    []string
	Err        error
}

// SmaliPath is where a class's text goes under dir, e.g. foo/Bar.smali
// for Lfoo/Bar;.
func SmaliPath(dir string, t key.TypeKey) string {
	name := t.TypeName()
	if len(name) > 2 && name[0] == 'L' {
		name = name[1 : len(name)-1]
	}
	return filepath.Join(dir, filepath.FromSlash(name)+".smali")
}

func (s *SmaliWriter) VisitClassDef(c *dexread.Class) {
	if err := s.write(c); err != nil {
		s.Err = errors.Join(s.Err, fmt.Errorf("class %s: %w", c.Type, err))
	}
}

func (s *SmaliWriter) write(c *dexread.Class) error {
	sc, err := c.ToSmali()
	if err != nil {
		return err
	}
	path := SmaliPath(s.OutDir, c.Type)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := smali.NewWriter(f)
	if s.IndentStep > 0 {
		w.SetIndentStep(s.IndentStep)
	}
	w.EnableComments(s.Comments)
	sc.Append(w)
	err = errors.Join(w.Flush(), f.Close())
	if err != nil {
		return err
	}
	s.Verbose(1, "wrote %s", path)
	s.Written = append(s.Written, path)
	return nil
}
