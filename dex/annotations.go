package dex

import (
	"cmp"

	"github.com/thanm/go-edit-a-dex/block"
)

// AnnotationEntry pairs a field or method index with the offset of its
// annotation set (or, for parameters, its annotation set ref list).
type AnnotationEntry struct {
	block.Composite
	Index  *block.IntegerItem
	Offset *block.IntegerItem
}

func NewAnnotationEntry() *AnnotationEntry {
	e := &AnnotationEntry{Index: block.NewIntegerItem(), Offset: block.NewIntegerItem()}
	e.Init(e, e.Index, e.Offset)
	return e
}

func compareEntries(x, y *AnnotationEntry) int { return cmp.Compare(x.Index.U32(), y.Index.U32()) }

// AnnotationsDirectory is an annotations_directory_item. The annotation
// sets themselves are not modelled; entries keep their offsets.
type AnnotationsDirectory struct {
	block.Composite
	ClassAnnotations *block.IntegerItem
	fieldsSize       *block.IntegerItem
	methodsSize      *block.IntegerItem
	paramsSize       *block.IntegerItem
	Fields           *block.Array[*AnnotationEntry]
	Methods          *block.Array[*AnnotationEntry]
	Parameters       *block.Array[*AnnotationEntry]
}

func NewAnnotationsDirectory() *AnnotationsDirectory {
	d := &AnnotationsDirectory{
		ClassAnnotations: block.NewIntegerItem(),
		fieldsSize:       block.NewIntegerItem(),
		methodsSize:      block.NewIntegerItem(),
		paramsSize:       block.NewIntegerItem(),
	}
	d.Fields = block.NewArray(NewAnnotationEntry, d.fieldsSize)
	d.Methods = block.NewArray(NewAnnotationEntry, d.methodsSize)
	d.Parameters = block.NewArray(NewAnnotationEntry, d.paramsSize)
	d.Init(d, d.ClassAnnotations, d.fieldsSize, d.methodsSize, d.paramsSize,
		d.Fields, d.Methods, d.Parameters)
	return d
}

// Add records that member idx has its annotations at off.
func (d *AnnotationsDirectory) Add(list *block.Array[*AnnotationEntry], idx, off int) *AnnotationEntry {
	e := list.CreateNext()
	e.Index.Set(idx)
	e.Offset.Set(off)
	return e
}

// Find returns the entry of member idx in list.
func (d *AnnotationsDirectory) Find(list *block.Array[*AnnotationEntry], idx int) (*AnnotationEntry, bool) {
	for _, e := range list.Items() {
		if e.Index.Get() == idx {
			return e, true
		}
	}
	return nil, false
}

func detach(list *block.Array[*AnnotationEntry], idx int) int {
	return list.RemoveIf(func(e *AnnotationEntry) bool { return e.Index.Get() == idx })
}

// DetachField drops the annotations of field idx.
func (d *AnnotationsDirectory) DetachField(idx int) int { return detach(d.Fields, idx) }

// DetachMethod drops the annotations of method idx and of its
// parameters.
func (d *AnnotationsDirectory) DetachMethod(idx int) int {
	return detach(d.Methods, idx) + detach(d.Parameters, idx)
}

// Sort puts each list in member index order, as the format requires.
func (d *AnnotationsDirectory) Sort() bool {
	a := d.Fields.Sort(compareEntries)
	b := d.Methods.Sort(compareEntries)
	c := d.Parameters.Sort(compareEntries)
	return a || b || c
}

func (d *AnnotationsDirectory) IsEmpty() bool {
	return d.ClassAnnotations.U32() == 0 && d.Fields.Len() == 0 && d.Methods.Len() == 0 && d.Parameters.Len() == 0
}

func (d *AnnotationsDirectory) BeforeRefresh() error {
	d.Sort()
	return nil
}
