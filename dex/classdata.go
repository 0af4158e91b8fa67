package dex

import (
	"cmp"
	"fmt"

	"github.com/thanm/go-edit-a-dex/block"
	"github.com/thanm/go-edit-a-dex/dexio"
	"github.com/thanm/go-edit-a-dex/key"
)

// Def is an encoded_field or encoded_method. On disk the member index is
// a difference from the previous entry; Index is the absolute value.
type Def interface {
	block.Block
	Index() int
	SetIndex(idx int)
	Access() uint32
	diff() *block.Ule128Item
}

type defBase struct {
	block.Composite
	indexDiff   *block.Ule128Item
	AccessFlags *block.Ule128Item
	index       int
}

func (d *defBase) Index() int              { return d.index }
func (d *defBase) SetIndex(idx int)        { d.index = idx }
func (d *defBase) Access() uint32          { return d.AccessFlags.U32() }
func (d *defBase) diff() *block.Ule128Item { return d.indexDiff }

type FieldDef struct {
	defBase
}

func NewFieldDef() *FieldDef {
	f := &FieldDef{defBase{indexDiff: block.NewUle128Item(), AccessFlags: block.NewUle128Item()}}
	f.Init(f, f.indexDiff, f.AccessFlags)
	return f
}

func (f *FieldDef) Key(pool *key.Pool) (key.FieldKey, error) { return pool.Field(f.index) }

type MethodDef struct {
	defBase
	CodeOff *block.Ule128Item
	// Code is loaded separately from CodeOff; it is not a child block.
	Code *CodeItem
}

func NewMethodDef() *MethodDef {
	m := &MethodDef{
		defBase: defBase{indexDiff: block.NewUle128Item(), AccessFlags: block.NewUle128Item()},
		CodeOff: block.NewUle128Item(),
	}
	m.Init(m, m.indexDiff, m.AccessFlags, m.CodeOff)
	return m
}

func (m *MethodDef) Key(pool *key.Pool) (key.MethodKey, error) { return pool.Method(m.index) }

func compareDefs[T Def](x, y T) int { return cmp.Compare(x.Index(), y.Index()) }

// DefArray is one of the four member lists of a class_data_item. It keeps
// the entries in index order and, when it knows the class's annotations
// directory, detaches a member's annotations as the member goes.
type DefArray[T Def] struct {
	*block.Array[T]
	dir    *AnnotationsDirectory
	detach func(d *AnnotationsDirectory, idx int) int
}

func newDefArray[T Def](create func() T, count block.IntegerReference, detach func(*AnnotationsDirectory, int) int) *DefArray[T] {
	return &DefArray[T]{Array: block.NewArray(create, count), detach: detach}
}

// SetAnnotations links the array to the directory of its class; nil
// unlinks it.
func (a *DefArray[T]) SetAnnotations(dir *AnnotationsDirectory) { a.dir = dir }

// resetIndex re-derives every stored difference from the absolute
// indices.
func (a *DefArray[T]) resetIndex() {
	prev := 0
	for _, d := range a.Items() {
		d.diff().Set(d.Index() - prev)
		prev = d.Index()
	}
}

func (a *DefArray[T]) Decode(r *dexio.Reader) error {
	off := r.Position()
	if err := a.Array.Decode(r); err != nil {
		return err
	}
	idx := 0
	for i, d := range a.Items() {
		if i > 0 && d.diff().Get() == 0 {
			return dexio.Formatf("class data", off, "member %d repeats index %d", i, idx)
		}
		idx += d.diff().Get()
		d.SetIndex(idx)
	}
	return nil
}

// Find returns the member with absolute index idx.
func (a *DefArray[T]) Find(idx int) (T, bool) {
	for _, d := range a.Items() {
		if d.Index() == idx {
			return d, true
		}
	}
	var zero T
	return zero, false
}

// GetOrCreate returns the member with index idx, appending one if
// missing.
func (a *DefArray[T]) GetOrCreate(idx int) T {
	if d, ok := a.Find(idx); ok {
		return d
	}
	d := a.CreateNext()
	d.SetIndex(idx)
	a.resetIndex()
	return d
}

// Remove deletes d along with its annotation entries.
func (a *DefArray[T]) Remove(d T) bool {
	if a.IndexOf(d) < 0 {
		return false
	}
	if a.dir != nil {
		a.detach(a.dir, d.Index())
	}
	a.Array.Remove(d)
	if a.dir != nil {
		a.dir.Sort()
	}
	a.resetIndex()
	return true
}

func (a *DefArray[T]) RemoveAt(i int) T {
	d := a.At(i)
	a.Remove(d)
	return d
}

// Sort orders the members by index. It reports false, touching nothing,
// when they already are.
func (a *DefArray[T]) Sort() bool {
	if !a.Array.Sort(compareDefs[T]) {
		return false
	}
	a.resetIndex()
	if a.dir != nil {
		a.dir.Sort()
	}
	return true
}

func (a *DefArray[T]) BeforeRefresh() error {
	if !a.Sort() {
		a.resetIndex()
	}
	for i := 1; i < a.Len(); i++ {
		if a.At(i).Index() == a.At(i-1).Index() {
			return fmt.Errorf("class data: index %d defined twice", a.At(i).Index())
		}
	}
	return nil
}

// ClassData is a class_data_item.
type ClassData struct {
	block.Composite
	staticSize     *block.Ule128Item
	instanceSize   *block.Ule128Item
	directSize     *block.Ule128Item
	virtualSize    *block.Ule128Item
	StaticFields   *DefArray[*FieldDef]
	InstanceFields *DefArray[*FieldDef]
	DirectMethods  *DefArray[*MethodDef]
	VirtualMethods *DefArray[*MethodDef]
}

func NewClassData() *ClassData {
	c := &ClassData{
		staticSize:   block.NewUle128Item(),
		instanceSize: block.NewUle128Item(),
		directSize:   block.NewUle128Item(),
		virtualSize:  block.NewUle128Item(),
	}
	fields := (*AnnotationsDirectory).DetachField
	methods := (*AnnotationsDirectory).DetachMethod
	c.StaticFields = newDefArray(NewFieldDef, c.staticSize, fields)
	c.InstanceFields = newDefArray(NewFieldDef, c.instanceSize, fields)
	c.DirectMethods = newDefArray(NewMethodDef, c.directSize, methods)
	c.VirtualMethods = newDefArray(NewMethodDef, c.virtualSize, methods)
	c.Init(c, c.staticSize, c.instanceSize, c.directSize, c.virtualSize,
		c.StaticFields, c.InstanceFields, c.DirectMethods, c.VirtualMethods)
	return c
}

// SetAnnotations links all four member lists to dir.
func (c *ClassData) SetAnnotations(dir *AnnotationsDirectory) {
	c.StaticFields.SetAnnotations(dir)
	c.InstanceFields.SetAnnotations(dir)
	c.DirectMethods.SetAnnotations(dir)
	c.VirtualMethods.SetAnnotations(dir)
}

func (c *ClassData) Methods() []*MethodDef {
	return append(append([]*MethodDef(nil), c.DirectMethods.Items()...), c.VirtualMethods.Items()...)
}

func (c *ClassData) Fields() []*FieldDef {
	return append(append([]*FieldDef(nil), c.StaticFields.Items()...), c.InstanceFields.Items()...)
}
