package dexread

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/thanm/go-edit-a-dex/block"
	"github.com/thanm/go-edit-a-dex/dex"
	"github.com/thanm/go-edit-a-dex/key"
	"github.com/thanm/go-edit-a-dex/smali"
)

// Class is a loaded class_def_item. Data, Annotations and StaticValues
// are nil when the class has none.
type Class struct {
	file       *File
	Type       key.TypeKey
	Access     uint32
	Super      key.TypeKey
	Interfaces []key.TypeKey
	Source     string

	Data         *dex.ClassData
	Annotations  *dex.AnnotationsDirectory
	StaticValues *dex.EncodedArray

	ClassDataOff    int
	AnnotationsOff  int
	StaticValuesOff int
}

// Methods lists direct then virtual methods.
func (c *Class) Methods() []*dex.MethodDef {
	if c.Data == nil {
		return nil
	}
	return c.Data.Methods()
}

// ToSmali converts the class to its text model. Static values become the
// initial values of the static fields they line up with; values that
// have no smali literal form are left out.
func (c *Class) ToSmali() (*smali.Class, error) {
	pool := c.file.Pool
	sc := &smali.Class{
		Access:     smali.Access(c.Access),
		Type:       c.Type,
		Super:      c.Super,
		Source:     c.Source,
		Interfaces: c.Interfaces,
	}
	if c.Data == nil {
		return sc, nil
	}
	var initial []*dex.EncodedValue
	if c.StaticValues != nil {
		initial = c.StaticValues.Values()
	}
	for i, f := range c.Data.Fields() {
		fk, err := f.Key(pool)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", c.Type, err)
		}
		sf := &smali.Field{Access: smali.Access(f.Access()), Key: fk}
		if i < c.Data.StaticFields.Len() && i < len(initial) {
			k, err := initial[i].Key(pool)
			switch {
			case errors.Is(err, dex.ErrNoKey):
			case err != nil:
				return nil, fmt.Errorf("field %s: %w", fk, err)
			default:
				sf.Initial = k
			}
		}
		sc.Fields = append(sc.Fields, sf)
	}
	for _, m := range c.Data.Methods() {
		mk, err := m.Key(pool)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", c.Type, err)
		}
		sm := &smali.Method{Access: smali.Access(m.Access()), Key: mk}
		if m.Code != nil {
			sm.Code = &smali.Code{ParamRegisters: sm.ParamRegisters(), UseLocals: true}
			if err := m.Code.ToSmali(sm.Code); err != nil {
				return nil, fmt.Errorf("method %s: %w", mk, err)
			}
		}
		sc.Methods = append(sc.Methods, sm)
	}
	return sc, nil
}

// Verify checks the checksum and signature stored in the header.
func (f *File) Verify() error {
	if err := dex.Verify(f.Data); err != nil {
		return fmt.Errorf("dex %s: %w", f.Name, err)
	}
	return nil
}

// RoundTrip re-encodes the class data and code items of every class,
// once as decoded and once more after a refresh, and compares each
// encoding with the bytes of the file. All mismatches are reported.
func (f *File) RoundTrip() error {
	var errs []error
	check := func(what string, off int, b block.Block) {
		for _, stage := range []string{"decode", "refresh"} {
			if stage == "refresh" {
				if err := block.Refresh(b); err != nil {
					errs = append(errs, fmt.Errorf("%s at 0x%x: refresh: %w", what, off, err))
					return
				}
			}
			got, err := block.Bytes(b)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s at 0x%x: %w", what, off, err))
				return
			}
			end := off + len(got)
			if end > len(f.Data) || !bytes.Equal(got, f.Data[off:end]) {
				errs = append(errs, fmt.Errorf("%s at 0x%x differs after %s", what, off, stage))
				return
			}
		}
	}
	for _, c := range f.Classes {
		if c.Data == nil {
			continue
		}
		for _, m := range c.Data.Methods() {
			if m.Code != nil {
				mk, _ := m.Key(f.Pool)
				check("code of "+mk.String(), m.CodeOff.Get(), m.Code)
			}
		}
		check("class data of "+c.Type.String(), c.ClassDataOff, c.Data)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dex %s: %w", f.Name, errors.Join(errs...))
	}
	return nil
}
