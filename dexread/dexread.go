package dexread

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/thanm/go-edit-a-dex/dex"
	"github.com/thanm/go-edit-a-dex/dexapkvisit"
	"github.com/thanm/go-edit-a-dex/dexio"
	"github.com/thanm/go-edit-a-dex/key"
)

// Options tune how forgiving the reader is.
type Options struct {
	// SkipMagicCheck accepts files whose magic, version or endian tag
	// are not recognized.
	SkipMagicCheck bool
}

// File is a loaded DEX file. Pool holds the id sections in file order,
// so pool indices are the file's own indices.
type File struct {
	Name    string
	Data    []byte
	Header  *dex.Header
	Pool    *key.Pool
	Classes []*Class
}

// ClassDefVisitor is an optional extension of DexApkVisitor: visitors
// that implement it receive every class once it is fully loaded.
type ClassDefVisitor interface {
	VisitClassDef(c *Class)
}

type dexState struct {
	apk     *string
	dexName string
	rdr     *dexio.Reader
	file    *File
	visitor dexapkvisit.DexApkVisitor
	opts    Options
}

func (s *dexState) errorf(format string, a ...interface{}) error {
	apkPre := ""
	if s.apk != nil {
		apkPre = fmt.Sprintf("apk %s ", *s.apk)
	}
	return fmt.Errorf("reading %sdex %s: %w", apkPre, s.dexName, fmt.Errorf(format, a...))
}

func (s *dexState) wrap(err error) error {
	return s.errorf("%w", err)
}

// ReadDEXFile loads the DEX file at path, reporting its contents to
// visitor as it goes.
func ReadDEXFile(path string, visitor dexapkvisit.DexApkVisitor, opts Options) (*File, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading dex %s: os.Stat failed(): %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading dex %s: os.Open failed(): %w", path, err)
	}
	defer f.Close()
	return ReadDEX(nil, path, f, uint64(fi.Size()), visitor, opts)
}

// ReadDEX loads a DEX file of expectedSize bytes from reader. apk, when
// not nil, names the archive the file came from in errors.
func ReadDEX(apk *string, dexName string, reader io.Reader, expectedSize uint64, visitor dexapkvisit.DexApkVisitor, opts Options) (*File, error) {
	state := dexState{apk: apk, dexName: dexName, visitor: visitor, opts: opts}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, state.errorf("read failed: %w", err)
	}
	if uint64(len(data)) != expectedSize {
		return nil, state.errorf("expected %d bytes, read %d", expectedSize, len(data))
	}
	state.rdr = dexio.NewReader(data)
	state.file = &File{Name: dexName, Data: data, Header: dex.NewHeader(), Pool: key.NewPool()}

	steps := []func() error{
		state.unpackDexHeader,
		state.unpackStrings,
		state.unpackTypes,
		state.unpackProtos,
		state.unpackFields,
		state.unpackMethods,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	var sig [20]byte
	copy(sig[:], state.file.Header.Signature.Get())
	visitor.VisitDEX(dexName, sig)

	classes := state.file.Header.ClassDefs
	visitor.Verbose(1, "there are %d classes", classes.Count())
	for i := 0; i < classes.Count(); i++ {
		c, err := state.unpackClass(i, classes.Off()+i*dex.ClassDefSize)
		if err != nil {
			return nil, err
		}
		state.file.Classes = append(state.file.Classes, c)
		state.visit(c)
	}
	return state.file, nil
}

func (s *dexState) unpackDexHeader() error {
	data := s.rdr.Bytes()
	if !s.opts.SkipMagicCheck && (len(data) < dex.HeaderSize || !bytes.HasPrefix(data, dex.MagicBytes)) {
		return s.errorf("not a DEX file")
	}
	h := s.file.Header
	h.DisableVerification(s.opts.SkipMagicCheck)
	if err := h.Decode(s.rdr); err != nil {
		return s.wrap(err)
	}
	if int(h.FileSize.U32()) != len(data) {
		return s.errorf("header file size %d, actual size %d", h.FileSize.U32(), len(data))
	}
	s.visitor.Verbose(1, "DEX file header version %d, %d bytes", h.VersionNumber(), h.FileSize.U32())
	return nil
}

func (s *dexState) seek(off int) error {
	if err := s.rdr.SetPosition(off); err != nil {
		return s.errorf("unable to seek to offset %d: %w", off, err)
	}
	return nil
}

func (s *dexState) readStruct(off int, v interface{}) error {
	if err := s.seek(off); err != nil {
		return err
	}
	if err := binary.Read(s.rdr, binary.LittleEndian, v); err != nil {
		return s.errorf("unable to read %T at offset %d: %w", v, off, err)
	}
	return nil
}

func (s *dexState) readU32(off int) (uint32, error) {
	var v uint32
	err := s.readStruct(off, &v)
	return v, err
}

// intern adds k and insists it lands at index want, which it does
// exactly when the file's own ids are unique and already define every
// dependency.
func (s *dexState) intern(k key.Key, want int) error {
	if got := s.file.Pool.Intern(k); got != want {
		return s.errorf("%s %d (%s) duplicates or precedes its dependencies, interned at %d", k.Kind(), want, k, got)
	}
	return nil
}

func (s *dexState) unpackStrings() error {
	sec := s.file.Header.StringIDs
	for i := 0; i < sec.Count(); i++ {
		off, err := s.readU32(sec.Off() + 4*i)
		if err != nil {
			return err
		}
		if err := s.seek(int(off)); err != nil {
			return err
		}
		sd := dex.NewStringData()
		if err := sd.Decode(s.rdr); err != nil {
			return s.wrap(err)
		}
		v, err := sd.Value()
		if err != nil {
			return s.errorf("string %d: %w", i, err)
		}
		if err := s.intern(key.NewStringKey(v), i); err != nil {
			return err
		}
	}
	s.visitor.Verbose(2, "read %d strings", sec.Count())
	return nil
}

func (s *dexState) unpackTypes() error {
	sec := s.file.Header.TypeIDs
	for i := 0; i < sec.Count(); i++ {
		idx, err := s.readU32(sec.Off() + 4*i)
		if err != nil {
			return err
		}
		name, err := s.file.Pool.String(int(idx))
		if err != nil {
			return s.errorf("type %d: %w", i, err)
		}
		if err := s.intern(key.NewTypeKey(name.Value), i); err != nil {
			return err
		}
	}
	s.visitor.Verbose(2, "read %d types", sec.Count())
	return nil
}

// typeList reads a type_list; off 0 is the empty list.
func (s *dexState) typeList(off uint32) ([]key.TypeKey, error) {
	if off == 0 {
		return nil, nil
	}
	n, err := s.readU32(int(off))
	if err != nil {
		return nil, err
	}
	if int64(n)*2 > int64(s.rdr.Available()) {
		return nil, s.errorf("type list at offset %d: %d entries overrun the file", off, n)
	}
	idxs := make([]uint16, n)
	if err := binary.Read(s.rdr, binary.LittleEndian, idxs); err != nil {
		return nil, s.errorf("type list at offset %d: %w", off, err)
	}
	out := make([]key.TypeKey, n)
	for i, idx := range idxs {
		if out[i], err = s.file.Pool.Type(int(idx)); err != nil {
			return nil, s.errorf("type list at offset %d: %w", off, err)
		}
	}
	return out, nil
}

func (s *dexState) unpackProtos() error {
	sec := s.file.Header.ProtoIDs
	for i := 0; i < sec.Count(); i++ {
		var item dexProtoIdItem
		if err := s.readStruct(sec.Off()+12*i, &item); err != nil {
			return err
		}
		ret, err := s.file.Pool.Type(int(item.ReturnTypeIdx))
		if err != nil {
			return s.errorf("proto %d: %w", i, err)
		}
		params, err := s.typeList(item.ParametersOff)
		if err != nil {
			return err
		}
		p := key.NewProtoKey(ret, params...)
		if shorty, err := s.file.Pool.String(int(item.ShortyIdx)); err != nil || shorty.Value != p.Shorty() {
			return s.errorf("proto %d: shorty does not match %s", i, p)
		}
		if err := s.intern(p, i); err != nil {
			return err
		}
	}
	return nil
}

func (s *dexState) unpackFields() error {
	sec := s.file.Header.FieldIDs
	pool := s.file.Pool
	for i := 0; i < sec.Count(); i++ {
		var item dexFieldIdItem
		if err := s.readStruct(sec.Off()+8*i, &item); err != nil {
			return err
		}
		declaring, err1 := pool.Type(int(item.ClassIdx))
		typ, err2 := pool.Type(int(item.TypeIdx))
		name, err3 := pool.String(int(item.NameIdx))
		for _, err := range []error{err1, err2, err3} {
			if err != nil {
				return s.errorf("field %d: %w", i, err)
			}
		}
		if err := s.intern(key.FieldKey{Declaring: declaring, Name: name.Value, Type: typ}, i); err != nil {
			return err
		}
	}
	return nil
}

func (s *dexState) unpackMethods() error {
	sec := s.file.Header.MethodIDs
	pool := s.file.Pool
	for i := 0; i < sec.Count(); i++ {
		var item dexMethodIdItem
		if err := s.readStruct(sec.Off()+8*i, &item); err != nil {
			return err
		}
		declaring, err1 := pool.Type(int(item.ClassIdx))
		proto, err2 := pool.Proto(int(item.ProtoIdx))
		name, err3 := pool.String(int(item.NameIdx))
		for _, err := range []error{err1, err2, err3} {
			if err != nil {
				return s.errorf("method %d: %w", i, err)
			}
		}
		if err := s.intern(key.MethodKey{Declaring: declaring, Name: name.Value, Proto: proto}, i); err != nil {
			return err
		}
	}
	s.visitor.Verbose(2, "read %d methods", sec.Count())
	return nil
}

func (s *dexState) unpackClass(ci, off int) (*Class, error) {
	var hdr dexClassHeader
	if err := s.readStruct(off, &hdr); err != nil {
		return nil, err
	}
	s.visitor.Verbose(1, "class %d type idx is %d", ci, hdr.ClassIdx)
	pool := s.file.Pool
	c := &Class{
		file:            s.file,
		Access:          hdr.AccessFlags,
		ClassDataOff:    int(hdr.ClassDataOff),
		AnnotationsOff:  int(hdr.AnnotationsOff),
		StaticValuesOff: int(hdr.StaticValuesOff),
	}
	var err error
	if c.Type, err = pool.Type(int(hdr.ClassIdx)); err != nil {
		return nil, s.errorf("class %d: %w", ci, err)
	}
	if hdr.SuperClassIdx != dex.NoIndex {
		if c.Super, err = pool.Type(int(hdr.SuperClassIdx)); err != nil {
			return nil, s.errorf("class %s: %w", c.Type, err)
		}
	}
	if hdr.SourceFileIdx != dex.NoIndex {
		src, err := pool.String(int(hdr.SourceFileIdx))
		if err != nil {
			return nil, s.errorf("class %s: %w", c.Type, err)
		}
		c.Source = src.Value
	}
	if c.Interfaces, err = s.typeList(hdr.InterfacesOff); err != nil {
		return nil, err
	}

	if hdr.AnnotationsOff != 0 {
		c.Annotations = dex.NewAnnotationsDirectory()
		if err := s.decodeAt(c.Annotations, c.AnnotationsOff); err != nil {
			return nil, err
		}
	}
	if hdr.StaticValuesOff != 0 {
		c.StaticValues = dex.NewEncodedArray()
		if err := s.decodeAt(c.StaticValues, c.StaticValuesOff); err != nil {
			return nil, err
		}
	}
	if hdr.ClassDataOff == 0 {
		s.visitor.Verbose(1, "skipping class %s, no class data", c.Type)
		return c, nil
	}
	if err := s.examineClassData(c); err != nil {
		return nil, err
	}
	return c, nil
}

type decoder interface {
	Decode(r *dexio.Reader) error
}

func (s *dexState) decodeAt(b decoder, off int) error {
	if err := s.seek(off); err != nil {
		return err
	}
	if err := b.Decode(s.rdr); err != nil {
		return s.wrap(err)
	}
	return nil
}

func (s *dexState) examineClassData(c *Class) error {
	c.Data = dex.NewClassData()
	if err := s.decodeAt(c.Data, c.ClassDataOff); err != nil {
		return err
	}
	c.Data.SetAnnotations(c.Annotations)
	s.visitor.Verbose(2, "num static fields is %d", c.Data.StaticFields.Len())
	s.visitor.Verbose(2, "num instance fields is %d", c.Data.InstanceFields.Len())
	s.visitor.Verbose(2, "num direct methods is %d", c.Data.DirectMethods.Len())
	s.visitor.Verbose(2, "num virtual methods is %d", c.Data.VirtualMethods.Len())

	for _, f := range c.Data.Fields() {
		if _, err := f.Key(s.file.Pool); err != nil {
			return s.errorf("class %s: %w", c.Type, err)
		}
	}
	for _, m := range c.Data.Methods() {
		if _, err := m.Key(s.file.Pool); err != nil {
			return s.errorf("class %s: %w", c.Type, err)
		}
		if m.CodeOff.Get() == 0 {
			continue
		}
		m.Code = dex.NewCodeItem(s.file.Pool)
		if err := s.decodeAt(m.Code, m.CodeOff.Get()); err != nil {
			return err
		}
	}
	return nil
}

// visit reports a loaded class and its methods to the visitor.
func (s *dexState) visit(c *Class) {
	methods := c.Methods()
	s.visitor.VisitClass(c.Type, uint32(len(methods)))
	for _, m := range methods {
		// resolved by examineClassData
		mk, _ := m.Key(s.file.Pool)
		s.visitor.VisitMethod(mk, uint64(m.Index()), uint64(m.CodeOff.Get()))
	}
	if cv, ok := s.visitor.(ClassDefVisitor); ok {
		cv.VisitClassDef(c)
	}
}
