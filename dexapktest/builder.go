package dexapktest

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/thanm/go-edit-a-dex/block"
	"github.com/thanm/go-edit-a-dex/dex"
	"github.com/thanm/go-edit-a-dex/key"
	"github.com/thanm/go-edit-a-dex/smali"
)

// Builder assembles a DEX file from smali classes. Ids are written in
// the order they were first interned rather than the sorted order the
// platform requires; the readers in this module accept either. There is
// no map list, debug info or annotations.
type Builder struct {
	pool    *key.Pool
	classes []*builtClass
}

type builtClass struct {
	src    *smali.Class
	data   *dex.ClassData
	codes  map[*dex.MethodDef]*dex.CodeItem
	values *dex.EncodedArray
}

func NewBuilder() *Builder {
	return &Builder{pool: key.NewPool()}
}

// Pool is the pool the file's ids come from.
func (b *Builder) Pool() *key.Pool { return b.pool }

// AddSmali parses one class and interns everything it references.
func (b *Builder) AddSmali(name, text string) error {
	sc, err := smali.ParseClassString(name, text)
	if err != nil {
		return err
	}
	return b.AddClass(sc)
}

func (b *Builder) AddClass(sc *smali.Class) error {
	pool := b.pool
	pool.Intern(sc.Type)
	if !sc.Super.IsZero() {
		pool.Intern(sc.Super)
	}
	for _, t := range sc.Interfaces {
		pool.Intern(t)
	}
	if sc.Source != "" {
		pool.Intern(key.NewStringKey(sc.Source))
	}
	bc := &builtClass{src: sc, data: dex.NewClassData(), codes: make(map[*dex.MethodDef]*dex.CodeItem)}
	for _, f := range sc.Fields {
		list := bc.data.InstanceFields
		if f.IsStatic() {
			list = bc.data.StaticFields
		}
		d := list.GetOrCreate(pool.Intern(f.Key))
		d.AccessFlags.SetU32(uint32(f.Access))
	}
	for _, m := range sc.Methods {
		list := bc.data.VirtualMethods
		if m.IsDirect() {
			list = bc.data.DirectMethods
		}
		d := list.GetOrCreate(pool.Intern(m.Key))
		d.AccessFlags.SetU32(uint32(m.Access))
		if m.Code == nil {
			continue
		}
		code := dex.NewCodeItem(pool)
		if err := code.FromSmali(m.Code); err != nil {
			return fmt.Errorf("method %s: %w", m.Key, err)
		}
		bc.codes[d] = code
	}
	if err := block.Refresh(bc.data); err != nil {
		return err
	}
	if err := b.staticValues(bc); err != nil {
		return err
	}
	b.classes = append(b.classes, bc)
	return nil
}

// staticValues lines the initial values up with the sorted static
// fields, filling gaps with the type's zero and dropping the zero tail.
func (b *Builder) staticValues(bc *builtClass) error {
	initial := make(map[int]key.Key)
	for _, f := range bc.src.Fields {
		if f.IsStatic() && f.Initial != nil {
			idx, _ := b.pool.IndexOf(f.Key)
			initial[idx] = f.Initial
		}
	}
	if len(initial) == 0 {
		return nil
	}
	var keys []key.Key
	last := 0
	for _, d := range bc.data.StaticFields.Items() {
		k, ok := initial[d.Index()]
		if !ok {
			fk, _ := b.pool.Field(d.Index())
			k = zeroValue(fk.Type)
		} else {
			last = len(keys) + 1
		}
		keys = append(keys, k)
	}
	bc.values = dex.NewEncodedArray()
	return bc.values.SetKeys(b.pool, keys[:last])
}

func zeroValue(t key.TypeKey) key.Key {
	switch t.TypeName() {
	case "Z":
		return key.Bool(false)
	case "B":
		return key.Byte(0)
	case "S":
		return key.Short(0)
	case "C":
		return key.Char(0)
	case "I":
		return key.Int(0)
	case "J":
		return key.Long(0)
	case "F":
		return key.Float(0)
	case "D":
		return key.Double(0)
	}
	return key.NullKey{}
}

type image struct {
	buf []byte
}

func (im *image) align(n int) {
	for len(im.buf)%n != 0 {
		im.buf = append(im.buf, 0)
	}
}

func (im *image) u16(v int) { im.buf = binary.LittleEndian.AppendUint16(im.buf, uint16(v)) }
func (im *image) u32(v int) { im.buf = binary.LittleEndian.AppendUint32(im.buf, uint32(v)) }

func (im *image) block(b block.Block) (int, error) {
	off := len(im.buf)
	data, err := block.Bytes(b)
	if err != nil {
		return 0, err
	}
	im.buf = append(im.buf, data...)
	return off, nil
}

func (im *image) putU32(off, v int) { binary.LittleEndian.PutUint32(im.buf[off:], uint32(v)) }

// Build lays out and seals the file.
func (b *Builder) Build() ([]byte, error) {
	pool := b.pool
	h := dex.NewHeader()
	counts := []int{
		pool.Len(key.KindString), pool.Len(key.KindType), pool.Len(key.KindProto),
		pool.Len(key.KindField), pool.Len(key.KindMethod), len(b.classes),
	}
	sizes := []int{4, 4, 12, 8, 8, dex.ClassDefSize}
	off := dex.HeaderSize
	for i, sec := range h.Sections()[:6] {
		if counts[i] > 0 {
			sec.Size.Set(counts[i])
			sec.Offset.Set(off)
		}
		off += counts[i] * sizes[i]
	}
	im := &image{buf: make([]byte, off)}
	dataOff := off
	idx := func(k key.Key) int {
		i, ok := pool.IndexOf(k)
		if !ok {
			panic(fmt.Sprintf("%s not interned", k))
		}
		return i
	}

	// string data, then the string ids pointing at it
	for i := 0; i < counts[0]; i++ {
		s, _ := pool.String(i)
		sd := dex.NewStringData()
		sd.SetValue(s.Value)
		at, err := im.block(sd)
		if err != nil {
			return nil, err
		}
		im.putU32(h.StringIDs.Off()+4*i, at)
	}
	for i := 0; i < counts[1]; i++ {
		t, _ := pool.Type(i)
		im.putU32(h.TypeIDs.Off()+4*i, idx(key.NewStringKey(t.TypeName())))
	}

	lists := make(map[string]int)
	typeList := func(types []key.TypeKey) int {
		if len(types) == 0 {
			return 0
		}
		var sb strings.Builder
		for _, t := range types {
			sb.WriteString(t.TypeName())
		}
		if at, ok := lists[sb.String()]; ok {
			return at
		}
		im.align(4)
		at := len(im.buf)
		im.u32(len(types))
		for _, t := range types {
			im.u16(idx(t))
		}
		lists[sb.String()] = at
		return at
	}
	for i := 0; i < counts[2]; i++ {
		p, _ := pool.Proto(i)
		at := h.ProtoIDs.Off() + 12*i
		im.putU32(at, idx(key.NewStringKey(p.Shorty())))
		im.putU32(at+4, idx(p.Return))
		im.putU32(at+8, typeList(p.Parameters()))
	}
	for i := 0; i < counts[3]; i++ {
		f, _ := pool.Field(i)
		at := h.FieldIDs.Off() + 8*i
		binary.LittleEndian.PutUint16(im.buf[at:], uint16(idx(f.Declaring)))
		binary.LittleEndian.PutUint16(im.buf[at+2:], uint16(idx(f.Type)))
		im.putU32(at+4, idx(key.NewStringKey(f.Name)))
	}
	for i := 0; i < counts[4]; i++ {
		m, _ := pool.Method(i)
		at := h.MethodIDs.Off() + 8*i
		binary.LittleEndian.PutUint16(im.buf[at:], uint16(idx(m.Declaring)))
		binary.LittleEndian.PutUint16(im.buf[at+2:], uint16(idx(m.Proto)))
		im.putU32(at+4, idx(key.NewStringKey(m.Name)))
	}

	for ci, bc := range b.classes {
		sc := bc.src
		interfaces := typeList(sc.Interfaces)
		for _, d := range bc.data.Methods() {
			code, ok := bc.codes[d]
			if !ok {
				continue
			}
			im.align(4)
			at, err := im.block(code)
			if err != nil {
				return nil, err
			}
			d.CodeOff.Set(at)
		}
		classData := 0
		if len(sc.Fields)+len(sc.Methods) > 0 {
			var err error
			if classData, err = im.block(bc.data); err != nil {
				return nil, err
			}
		}
		values := 0
		if bc.values != nil {
			var err error
			if values, err = im.block(bc.values); err != nil {
				return nil, err
			}
		}
		at := h.ClassDefs.Off() + dex.ClassDefSize*ci
		im.putU32(at, idx(sc.Type))
		im.putU32(at+4, int(sc.Access))
		super, source := dex.NoIndex, dex.NoIndex
		if !sc.Super.IsZero() {
			super = idx(sc.Super)
		}
		if sc.Source != "" {
			source = idx(key.NewStringKey(sc.Source))
		}
		im.putU32(at+8, super)
		im.putU32(at+12, interfaces)
		im.putU32(at+16, source)
		im.putU32(at+20, 0)
		im.putU32(at+24, classData)
		im.putU32(at+28, values)
	}

	im.align(4)
	h.FileSize.Set(len(im.buf))
	if len(im.buf) > dataOff {
		h.Data.Size.Set(len(im.buf) - dataOff)
		h.Data.Offset.Set(dataOff)
	}
	hdr, err := block.Bytes(h)
	if err != nil {
		return nil, err
	}
	copy(im.buf, hdr)
	if err := h.Seal(im.buf); err != nil {
		return nil, err
	}
	return im.buf, nil
}
