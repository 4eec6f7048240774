// Package nest provides arbitrarily nested containers of values and the
// flatten/pack operations over them used throughout the datasets package.
//
// A Node is a tree: leaves hold values, internal nodes are either ordered
// sequences or ordered (insertion-order) string-keyed mappings. Two nodes
// have the same structure when their container kinds, sequence lengths and
// mapping keys match exactly at every level; leaf contents are irrelevant.
// Flatten produces the leaves in a deterministic depth-first order and Pack
// re-attaches a flat sequence of leaves onto a template structure, so data
// can be stored flat internally and exposed nested at the edges.
package nest

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// StructureError reports that two nested structures do not share the same
// shape of nesting, or that a flat sequence cannot be packed onto a template.
type StructureError struct {
	Path   string // location of the mismatch, e.g. "[2].features"
	Reason string
}

func (e *StructureError) Error() string {
	if e.Path == "" {
		return "nest: " + e.Reason
	}
	return fmt.Sprintf("nest: at %s: %s", e.Path, e.Reason)
}

type kind uint8

const (
	leafKind kind = iota
	seqKind
	mapKind
)

// Node is a nested structure with leaves of type T. Construct nodes with
// Leaf, Seq and Map; the zero value is not a valid Node.
type Node[T any] struct {
	kind    kind
	value   T
	seq     []*Node[T]
	entries *orderedmap.OrderedMap[string, *Node[T]]
}

// Leaf returns a leaf node holding v.
func Leaf[T any](v T) *Node[T] {
	return &Node[T]{kind: leafKind, value: v}
}

// Seq returns an ordered-sequence node with the given children.
func Seq[T any](children ...*Node[T]) *Node[T] {
	return &Node[T]{kind: seqKind, seq: children}
}

// Entry is a single key/node pair for constructing Map nodes.
type Entry[T any] struct {
	Key  string
	Node *Node[T]
}

// Pair builds a Map entry.
func Pair[T any](key string, n *Node[T]) Entry[T] {
	return Entry[T]{Key: key, Node: n}
}

// Map returns a mapping node whose key order is the order of the entries.
// Duplicate keys keep the last node but the original key position.
func Map[T any](entries ...Entry[T]) *Node[T] {
	om := orderedmap.New[string, *Node[T]]()
	for _, e := range entries {
		om.Set(e.Key, e.Node)
	}
	return &Node[T]{kind: mapKind, entries: om}
}

// IsLeaf reports whether n is a leaf node.
func (n *Node[T]) IsLeaf() bool { return n.kind == leafKind }

// Value returns the leaf value. It must only be called on leaf nodes.
func (n *Node[T]) Value() T {
	if n.kind != leafKind {
		panic("nest: Value called on a non-leaf node")
	}
	return n.value
}

// NumLeaves returns the number of leaves in the structure.
func NumLeaves[T any](n *Node[T]) int {
	switch n.kind {
	case leafKind:
		return 1
	case seqKind:
		total := 0
		for _, c := range n.seq {
			total += NumLeaves(c)
		}
		return total
	default:
		total := 0
		for p := n.entries.Oldest(); p != nil; p = p.Next() {
			total += NumLeaves(p.Value)
		}
		return total
	}
}

// Flatten returns the leaves of n in depth-first order: sequence children
// by position, mapping children by key insertion order.
func Flatten[T any](n *Node[T]) []T {
	out := make([]T, 0, NumLeaves(n))
	appendLeaves(n, &out)
	return out
}

func appendLeaves[T any](n *Node[T], out *[]T) {
	switch n.kind {
	case leafKind:
		*out = append(*out, n.value)
	case seqKind:
		for _, c := range n.seq {
			appendLeaves(c, out)
		}
	default:
		for p := n.entries.Oldest(); p != nil; p = p.Next() {
			appendLeaves(p.Value, out)
		}
	}
}

// Pack assembles flat onto the shape of template, consuming the leaves in
// the same order Flatten produces them. The template's leaf type and the
// packed leaf type are independent, so e.g. a structure of tensors can serve
// as the template for a structure of labels. Pack fails with a
// *StructureError when len(flat) differs from the template's leaf count.
func Pack[T, U any](template *Node[T], flat []U) (*Node[U], error) {
	want := NumLeaves(template)
	if len(flat) != want {
		return nil, &StructureError{
			Reason: fmt.Sprintf("cannot pack %d leaves onto a structure of %d leaves", len(flat), want),
		}
	}
	packed, _ := packFrom(template, flat, 0)
	return packed, nil
}

func packFrom[T, U any](template *Node[T], flat []U, pos int) (*Node[U], int) {
	switch template.kind {
	case leafKind:
		return Leaf(flat[pos]), pos + 1
	case seqKind:
		children := make([]*Node[U], len(template.seq))
		for i, c := range template.seq {
			children[i], pos = packFrom(c, flat, pos)
		}
		return Seq(children...), pos
	default:
		om := orderedmap.New[string, *Node[U]]()
		for p := template.entries.Oldest(); p != nil; p = p.Next() {
			var child *Node[U]
			child, pos = packFrom(p.Value, flat, pos)
			om.Set(p.Key, child)
		}
		return &Node[U]{kind: mapKind, entries: om}, pos
	}
}

// AssertSameStructure fails with a *StructureError if a and b differ in
// nesting shape: different container kinds, sequence lengths, or mapping
// keys (including key order) at any level. Leaf values are never inspected.
func AssertSameStructure[A, B any](a *Node[A], b *Node[B]) error {
	return assertSame(a, b, "")
}

func assertSame[A, B any](a *Node[A], b *Node[B], path string) error {
	if a.kind != b.kind {
		return &StructureError{Path: path, Reason: fmt.Sprintf("%s vs %s", kindName(a.kind), kindName(b.kind))}
	}
	switch a.kind {
	case leafKind:
		return nil
	case seqKind:
		if len(a.seq) != len(b.seq) {
			return &StructureError{Path: path, Reason: fmt.Sprintf("sequence length %d vs %d", len(a.seq), len(b.seq))}
		}
		for i := range a.seq {
			if err := assertSame(a.seq[i], b.seq[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	default:
		if a.entries.Len() != b.entries.Len() {
			return &StructureError{Path: path, Reason: fmt.Sprintf("mapping size %d vs %d", a.entries.Len(), b.entries.Len())}
		}
		pb := b.entries.Oldest()
		for pa := a.entries.Oldest(); pa != nil; pa, pb = pa.Next(), pb.Next() {
			if pa.Key != pb.Key {
				return &StructureError{Path: path, Reason: fmt.Sprintf("mapping key %q vs %q", pa.Key, pb.Key)}
			}
			if err := assertSame(pa.Value, pb.Value, path+"."+pa.Key); err != nil {
				return err
			}
		}
		return nil
	}
}

func kindName(k kind) string {
	switch k {
	case leafKind:
		return "leaf"
	case seqKind:
		return "sequence"
	default:
		return "mapping"
	}
}
