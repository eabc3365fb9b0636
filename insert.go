package rtree

import (
	"fmt"
	"math"
)

// DefaultInsertionPolicy is used by trees created without an explicit policy.
var DefaultInsertionPolicy = InsertionPolicy{minChildren: 4, maxChildren: 16}

// NewInsertionPolicy creates a new insertion policy with the given node size
// parameters.
func NewInsertionPolicy(minChildren, maxChildren int) (InsertionPolicy, error) {
	switch {
	case maxChildren < 2:
		return InsertionPolicy{}, fmt.Errorf("%w: max children must be at least 2", ErrInvalidPolicy)
	case minChildren < 1:
		return InsertionPolicy{}, fmt.Errorf("%w: min children must be at least 1", ErrInvalidPolicy)
	case minChildren > maxChildren/2:
		return InsertionPolicy{}, fmt.Errorf("%w: min children must be less than or equal to half of the max children", ErrInvalidPolicy)
	}
	return InsertionPolicy{minChildren, maxChildren}, nil
}

// InsertionPolicy alters the behaviour when inserting new data to an RTree.
type InsertionPolicy struct {
	minChildren int
	maxChildren int
}

// MinEntries is the lower bound on entries in every non-root node.
func (p InsertionPolicy) MinEntries() int { return p.minChildren }

// MaxEntries is the upper bound on entries in every node.
func (p InsertionPolicy) MaxEntries() int { return p.maxChildren }

// Add inserts a rectangle and its payload into the tree. The only error is an
// *InvalidRectangleError, in which case the tree is left untouched.
func (t *RTree[T]) Add(r Rect, v T) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if len(t.nodes) == 0 {
		t.nodes = append(t.nodes, Node{IsLeaf: true, Entries: nil, Parent: -1})
		t.root = 0
		t.height = 1
	}

	t.items = append(t.items, v)
	leaf := t.chooseLeafNode(r)
	t.nodes[leaf].Entries = append(t.nodes[leaf].Entries, Entry{Rect: r, Index: len(t.items) - 1})

	current := leaf
	for current != t.root {
		parent := t.nodes[current].Parent
		e := &t.nodes[parent].Entries[t.entryOf(parent, current)]
		e.Rect = e.Rect.Union(r)
		current = parent
	}

	if len(t.nodes[leaf].Entries) <= t.policy.maxChildren {
		return nil
	}

	newNode := t.splitNode(leaf)
	root1, root2 := t.adjustTree(leaf, newNode)

	if root2 != -1 {
		t.joinRoots(root1, root2)
	}
	return nil
}

// entryOf finds the position of child within parent's entries.
func (t *RTree[T]) entryOf(parent, child int) int {
	for i, entry := range t.nodes[parent].Entries {
		if entry.Index == child {
			return i
		}
	}
	panic("could not find child entry in parent")
}

func (t *RTree[T]) joinRoots(r1, r2 int) {
	t.nodes = append(t.nodes, Node{
		IsLeaf: false,
		Entries: []Entry{
			{Rect: t.calculateBound(r1), Index: r1},
			{Rect: t.calculateBound(r2), Index: r2},
		},
		Parent: -1,
	})
	t.root = len(t.nodes) - 1
	t.nodes[r1].Parent = t.root
	t.nodes[r2].Parent = t.root
	t.height++
	t.logger.LogGrow(t.height, len(t.items))
}

// adjustTree walks from a freshly split node n (with new sibling nn) up to
// the root, tightening parent rectangles and splitting parents that overflow.
// It returns the root and, if the root itself was split, its new sibling.
func (t *RTree[T]) adjustTree(n, nn int) (int, int) {
	for {
		if n == t.root {
			return n, nn
		}
		parent := t.nodes[n].Parent
		t.nodes[parent].Entries[t.entryOf(parent, n)].Rect = t.calculateBound(n)

		pp := -1
		if nn != -1 {
			t.nodes[parent].Entries = append(t.nodes[parent].Entries, Entry{
				Rect:  t.calculateBound(nn),
				Index: nn,
			})
			t.nodes[nn].Parent = parent
			if len(t.nodes[parent].Entries) > t.policy.maxChildren {
				pp = t.splitNode(parent)
			}
		}

		n, nn = parent, pp
	}
}

// splitNode splits node with index n into two nodes using the quadratic
// split. The first node replaces n, and the second node is newly created.
// The return value is the index of the new node.
func (t *RTree[T]) splitNode(n int) int {
	entries := t.nodes[n].Entries
	seedA, seedB := pickSeeds(entries)

	groupA := make([]Entry, 0, t.policy.maxChildren)
	groupB := make([]Entry, 0, t.policy.maxChildren)
	groupA = append(groupA, entries[seedA])
	groupB = append(groupB, entries[seedB])
	rectA, rectB := entries[seedA].Rect, entries[seedB].Rect

	remaining := make([]Entry, 0, len(entries)-2)
	for i, entry := range entries {
		if i != seedA && i != seedB {
			remaining = append(remaining, entry)
		}
	}

	for len(remaining) > 0 {
		// Once a group can only reach the minimum by taking everything left,
		// it takes everything left.
		if len(groupA)+len(remaining) == t.policy.minChildren {
			groupA = append(groupA, remaining...)
			break
		}
		if len(groupB)+len(remaining) == t.policy.minChildren {
			groupB = append(groupB, remaining...)
			break
		}

		next := pickNext(remaining, rectA, rectB)
		entry := remaining[next]
		remaining[next] = remaining[len(remaining)-1]
		remaining = remaining[:len(remaining)-1]

		if preferA(entry.Rect, rectA, rectB, len(groupA), len(groupB)) {
			groupA = append(groupA, entry)
			rectA = rectA.Union(entry.Rect)
		} else {
			groupB = append(groupB, entry)
			rectB = rectB.Union(entry.Rect)
		}
	}

	// Use the existing node for A, and create a new node for B.
	t.nodes[n].Entries = groupA
	t.nodes = append(t.nodes, Node{
		IsLeaf:  t.nodes[n].IsLeaf,
		Entries: groupB,
		Parent:  -1,
	})
	nn := len(t.nodes) - 1
	if !t.nodes[n].IsLeaf {
		for _, entry := range groupB {
			t.nodes[entry.Index].Parent = nn
		}
	}
	return nn
}

// pickSeeds returns the pair of entries that would waste the most area if
// they were put in the same group.
func pickSeeds(entries []Entry) (int, int) {
	bestWaste := math.Inf(-1)
	seedA, seedB := 0, 1
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i].Rect, entries[j].Rect
			waste := a.Union(b).Area() - a.Area() - b.Area()
			if waste > bestWaste {
				bestWaste = waste
				seedA, seedB = i, j
			}
		}
	}
	return seedA, seedB
}

// pickNext returns the remaining entry with the strongest preference for one
// group over the other.
func pickNext(remaining []Entry, rectA, rectB Rect) int {
	best := 0
	bestDiff := math.Inf(-1)
	for i, entry := range remaining {
		diff := math.Abs(rectA.Enlargement(entry.Rect) - rectB.Enlargement(entry.Rect))
		if diff > bestDiff {
			bestDiff = diff
			best = i
		}
	}
	return best
}

// preferA decides whether r goes to group A: least enlargement, then smallest
// area, then fewest entries.
func preferA(r, rectA, rectB Rect, countA, countB int) bool {
	dA, dB := rectA.Enlargement(r), rectB.Enlargement(r)
	if dA != dB {
		return dA < dB
	}
	if aA, aB := rectA.Area(), rectB.Area(); aA != aB {
		return aA < aB
	}
	return countA <= countB
}

func (t *RTree[T]) chooseLeafNode(r Rect) int {
	node := t.root

	for {
		if t.nodes[node].IsLeaf {
			return node
		}
		entries := t.nodes[node].Entries
		bestDelta := entries[0].Rect.Enlargement(r)
		bestEntry := 0
		for i := 1; i < len(entries); i++ {
			delta := entries[i].Rect.Enlargement(r)
			if delta < bestDelta {
				bestDelta = delta
				bestEntry = i
			} else if delta == bestDelta && entries[i].Rect.Area() < entries[bestEntry].Rect.Area() {
				// Area is used as a tie breaking if the enlargements are the same.
				bestEntry = i
			}
		}
		node = entries[bestEntry].Index
	}
}
