package block

import (
	"fmt"
	"io"
	"slices"

	"github.com/thanm/go-edit-a-dex/dexio"
)

// Permuter reorders itself so that new position i holds the element that
// was at perm[i]. Arrays that must stay paired under a sort implement it.
type Permuter interface {
	Permute(perm []int) error
}

// Array is an ordered, mutable list of child blocks. When it has a count
// cell, the cell equals Len() after every mutating call returns.
type Array[T Block] struct {
	Node
	owner  Block
	items  []T
	create func() T
	count  IntegerReference
}

// NewArray returns an empty array. create builds new elements for
// CreateNext, SetSize and Decode; count may be nil.
func NewArray[T Block](create func() T, count IntegerReference) *Array[T] {
	return &Array[T]{create: create, count: count}
}

// SetOwner makes owner, rather than the array itself, the parent of new
// and existing elements.
func (a *Array[T]) SetOwner(owner Block) {
	a.owner = owner
	for _, item := range a.items {
		item.SetParent(owner)
	}
}

func (a *Array[T]) parentForItems() Block {
	if a.owner != nil {
		return a.owner
	}
	return a
}

func (a *Array[T]) Count() IntegerReference { return a.count }
func (a *Array[T]) Len() int                { return len(a.items) }

// At returns element i; it panics when i is out of range.
func (a *Array[T]) At(i int) T { return a.items[i] }

// Items exposes the backing slice; callers must not modify it.
func (a *Array[T]) Items() []T { return a.items }

func (a *Array[T]) IndexOf(item T) int {
	for i, x := range a.items {
		if any(x) == any(item) {
			return i
		}
	}
	return -1
}

func (a *Array[T]) updateCount() {
	if a.count != nil {
		a.count.Set(len(a.items))
	}
}

// UpdateCount copies the current length into the count cell.
func (a *Array[T]) UpdateCount() { a.updateCount() }

func (a *Array[T]) Add(item T) {
	item.SetParent(a.parentForItems())
	a.items = append(a.items, item)
	a.updateCount()
}

func (a *Array[T]) Insert(i int, item T) {
	item.SetParent(a.parentForItems())
	a.items = slices.Insert(a.items, i, item)
	a.updateCount()
}

func (a *Array[T]) CreateNext() T {
	item := a.create()
	a.Add(item)
	return item
}

// Remove removes item by identity and reports whether it was present.
func (a *Array[T]) Remove(item T) bool {
	i := a.IndexOf(item)
	if i < 0 {
		return false
	}
	a.RemoveAt(i)
	return true
}

func (a *Array[T]) RemoveAt(i int) T {
	item := a.items[i]
	a.items = slices.Delete(a.items, i, i+1)
	item.SetParent(nil)
	a.updateCount()
	return item
}

// RemoveIf removes every element matching pred and returns how many
// went.
func (a *Array[T]) RemoveIf(pred func(T) bool) int {
	kept := a.items[:0]
	removed := 0
	for _, item := range a.items {
		if pred(item) {
			item.SetParent(nil)
			removed++
			continue
		}
		kept = append(kept, item)
	}
	clear(a.items[len(kept):])
	a.items = kept
	a.updateCount()
	return removed
}

// SetSize grows the array with fresh elements or truncates it.
func (a *Array[T]) SetSize(n int) {
	if n < 0 {
		n = 0
	}
	for len(a.items) > n {
		last := len(a.items) - 1
		a.items[last].SetParent(nil)
		a.items = a.items[:last]
	}
	for len(a.items) < n {
		item := a.create()
		item.SetParent(a.parentForItems())
		a.items = append(a.items, item)
	}
	a.updateCount()
}

func (a *Array[T]) Clear() { a.SetSize(0) }

// NeedsSort reports whether cmp disagrees with the current order.
func (a *Array[T]) NeedsSort(cmp func(x, y T) int) bool {
	for i := 1; i < len(a.items); i++ {
		if cmp(a.items[i-1], a.items[i]) > 0 {
			return true
		}
	}
	return false
}

// Sort stable-sorts the array by cmp. It is a no-op returning false when
// the array is already in order.
func (a *Array[T]) Sort(cmp func(x, y T) int) bool {
	return a.SortWith(cmp)
}

// SortWith sorts the array and applies the same permutation to every
// parallel Permuter, so index-paired arrays move in lockstep.
func (a *Array[T]) SortWith(cmp func(x, y T) int, parallels ...Permuter) bool {
	if !a.NeedsSort(cmp) {
		return false
	}
	perm := make([]int, len(a.items))
	for i := range perm {
		perm[i] = i
	}
	slices.SortStableFunc(perm, func(x, y int) int {
		return cmp(a.items[x], a.items[y])
	})
	for _, p := range parallels {
		if err := p.Permute(perm); err != nil {
			// parallels are built with matching sizes; a mismatch is a bug
			panic(err)
		}
	}
	if err := a.Permute(perm); err != nil {
		panic(err)
	}
	return true
}

func (a *Array[T]) Permute(perm []int) error {
	if len(perm) != len(a.items) {
		return fmt.Errorf("block: permutation of %d applied to %d items", len(perm), len(a.items))
	}
	sorted := make([]T, len(a.items))
	for i, from := range perm {
		sorted[i] = a.items[from]
	}
	a.items = sorted
	return nil
}

func (a *Array[T]) Children() []Block {
	out := make([]Block, len(a.items))
	for i, item := range a.items {
		out[i] = item
	}
	return out
}

func (a *Array[T]) CountBytes() int {
	n := 0
	for _, item := range a.items {
		n += item.CountBytes()
	}
	return n
}

// Decode sizes the array from its count cell, when it has one, and
// decodes each element in order.
func (a *Array[T]) Decode(r *dexio.Reader) error {
	if a.count != nil {
		a.SetSize(a.count.Get())
	}
	for i, item := range a.items {
		if err := item.Decode(r); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func (a *Array[T]) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, item := range a.items {
		n, err := item.WriteTo(w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (a *Array[T]) AfterRefresh() error {
	a.updateCount()
	return nil
}
