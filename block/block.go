package block

//
// Package block is the binary tree model used for every DEX item. A
// block knows its own byte layout: it decodes itself from a positioned
// dexio.Reader, reports its size, and writes itself to an io.Writer.
// Derived fields (counts, offsets, sort order) are only recomputed by an
// explicit Refresh, never by WriteTo.
//

import (
	"bytes"
	"io"

	"github.com/thanm/go-edit-a-dex/dexio"
)

type Block interface {
	Parent() Block
	SetParent(p Block)
	CountBytes() int
	Decode(r *dexio.Reader) error
	WriteTo(w io.Writer) (int64, error)
}

// Container is a block with ordered children.
type Container interface {
	Block
	Children() []Block
}

// BeforeRefresher is called before a block's children are refreshed. It
// may reorder children and re-link cross references.
type BeforeRefresher interface {
	BeforeRefresh() error
}

// AfterRefresher is called once all children are refreshed, to
// recompute counts and offsets that depend on child order and size.
type AfterRefresher interface {
	AfterRefresh() error
}

// Refresh runs the two-phase refresh over the subtree rooted at b.
func Refresh(b Block) error {
	if pre, ok := b.(BeforeRefresher); ok {
		if err := pre.BeforeRefresh(); err != nil {
			return err
		}
	}
	// children are fetched after the pre hook, which may have sorted them
	if c, ok := b.(Container); ok {
		for _, child := range c.Children() {
			if err := Refresh(child); err != nil {
				return err
			}
		}
	}
	if post, ok := b.(AfterRefresher); ok {
		return post.AfterRefresh()
	}
	return nil
}

// Bytes serializes b as it currently stands.
func Bytes(b Block) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(b.CountBytes())
	if _, err := b.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read decodes b from data, starting at offset 0.
func Read(b Block, data []byte) error {
	return b.Decode(dexio.NewReader(data))
}

// Ancestor walks up from b and returns the first parent of type T.
func Ancestor[T any](b Block) (T, bool) {
	for p := b.Parent(); p != nil; p = p.Parent() {
		if t, ok := p.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// Node carries the non-owning parent link; every block embeds one.
type Node struct {
	parent Block
}

func (n *Node) Parent() Block     { return n.parent }
func (n *Node) SetParent(p Block) { n.parent = p }

// Composite is a fixed sequence of child blocks. Its length is the sum of
// the children's lengths, and it reads and writes them in order.
type Composite struct {
	Node
	children []Block
}

// Init installs children and points their parent link at owner, the
// struct that embeds this Composite.
func (c *Composite) Init(owner Block, children ...Block) {
	c.children = c.children[:0]
	for _, child := range children {
		c.Append(owner, child)
	}
}

func (c *Composite) Append(owner Block, child Block) {
	child.SetParent(owner)
	c.children = append(c.children, child)
}

func (c *Composite) Children() []Block { return c.children }

func (c *Composite) CountBytes() int {
	n := 0
	for _, child := range c.children {
		n += child.CountBytes()
	}
	return n
}

func (c *Composite) Decode(r *dexio.Reader) error {
	for _, child := range c.children {
		if err := child.Decode(r); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composite) WriteTo(w io.Writer) (int64, error) {
	return WriteAll(w, c.children...)
}

// WriteAll writes blocks in order and sums the byte counts.
func WriteAll(w io.Writer, blocks ...Block) (int64, error) {
	var total int64
	for _, b := range blocks {
		n, err := b.WriteTo(w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
