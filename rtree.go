package rtree

import "iter"

// Node is a node in an R-Tree. Nodes can either be leaf nodes holding entries
// for terminal items, or intermediate nodes holding entries for more nodes.
type Node struct {
	IsLeaf  bool
	Entries []Entry
	Parent  int
}

// Entry is an entry under a node, leading either to terminal items, or more
// nodes. For leaf nodes Index refers to a payload, otherwise to a child node
// whose union rectangle is Rect.
type Entry struct {
	Rect  Rect
	Index int
}

// RTree is an in-memory R-Tree mapping rectangles to payloads of type T.
//
// An RTree is not safe for concurrent use. Queries must not run concurrently
// with Add.
type RTree[T any] struct {
	root   int
	nodes  []Node
	items  []T
	height int
	policy InsertionPolicy
	logger *Logger
}

// New creates an empty R-Tree.
func New[T any](opts ...Option) *RTree[T] {
	o := applyOptions(opts)
	if o.policy.maxChildren == 0 {
		o.policy = DefaultInsertionPolicy
	}
	return &RTree[T]{
		policy: o.policy,
		logger: o.logger,
	}
}

// Policy returns the node size bounds of the tree.
func (t *RTree[T]) Policy() InsertionPolicy {
	return t.policy
}

// Count returns the number of entries in the tree.
func (t *RTree[T]) Count() int {
	return len(t.items)
}

// Height returns the number of node levels. It is 0 for an empty tree.
func (t *RTree[T]) Height() int {
	return t.height
}

// Bounds returns the union rectangle of every entry in the tree. The second
// return value is false if the tree is empty.
func (t *RTree[T]) Bounds() (Rect, bool) {
	if len(t.nodes) == 0 || len(t.nodes[t.root].Entries) == 0 {
		return Rect{}, false
	}
	return t.calculateBound(t.root), true
}

// Get returns the payloads of every entry intersecting r. The sequence is
// evaluated lazily and may be ranged over more than once.
func (t *RTree[T]) Get(r Rect) iter.Seq[T] {
	return func(yield func(T) bool) {
		t.Search(r, yield)
	}
}

// Search looks for any items in the tree that intersect the given rectangle.
// The callback is called with the payload of each found item, and the search
// stops early when it returns false.
func (t *RTree[T]) Search(r Rect, fn func(T) bool) {
	if len(t.nodes) == 0 {
		return
	}
	t.search(t.root, r, fn)
}

func (t *RTree[T]) search(n int, r Rect, fn func(T) bool) bool {
	node := &t.nodes[n]
	for _, entry := range node.Entries {
		if !entry.Rect.Intersects(r) {
			continue
		}
		if node.IsLeaf {
			if !fn(t.items[entry.Index]) {
				return false
			}
		} else if !t.search(entry.Index, r, fn) {
			return false
		}
	}
	return true
}

// All returns every entry in the tree, in leaf order.
func (t *RTree[T]) All() iter.Seq2[Rect, T] {
	return func(yield func(Rect, T) bool) {
		t.visitPostOrder(func(n int) bool {
			node := &t.nodes[n]
			if !node.IsLeaf {
				return true
			}
			for _, entry := range node.Entries {
				if !yield(entry.Rect, t.items[entry.Index]) {
					return false
				}
			}
			return true
		})
	}
}

// visitPostOrder calls fn for every node reachable from the root, children
// before their parent.
func (t *RTree[T]) visitPostOrder(fn func(n int) bool) {
	if len(t.nodes) == 0 {
		return
	}
	var recurse func(int) bool
	recurse = func(n int) bool {
		node := &t.nodes[n]
		if !node.IsLeaf {
			for _, entry := range node.Entries {
				if !recurse(entry.Index) {
					return false
				}
			}
		}
		return fn(n)
	}
	recurse(t.root)
}

// calculateBound calculates the smallest rectangle that fits a node.
func (t *RTree[T]) calculateBound(n int) Rect {
	r := t.nodes[n].Entries[0].Rect
	for _, entry := range t.nodes[n].Entries[1:] {
		r = r.Union(entry.Rect)
	}
	return r
}
