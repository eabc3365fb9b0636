package rtree

import (
	"fmt"
	"sort"
)

// BulkLoad loads every item of src into a new R-Tree. The bulk load operation
// is optimised for creating R-Trees with minimal node overlap, which allows
// for fast searching, and produces nodes within the insertion policy's
// bounds.
//
// A resettable source is read twice, once to count and once to fill a buffer
// of exactly the right size. Other sources are read once and buffered as they
// go.
func BulkLoad[T any](src Source[T], opts ...Option) (*RTree[T], error) {
	t := New[T](opts...)

	items, materialized, err := drain(src)
	if err != nil {
		t.logger.LogBulkLoad(len(items), 0, materialized, err)
		return nil, err
	}

	entries := make([]Entry, len(items))
	t.items = make([]T, len(items))
	for i, item := range items {
		if err := item.Rect.Validate(); err != nil {
			t.logger.LogBulkLoad(len(items), 0, materialized, err)
			return nil, err
		}
		entries[i] = Entry{Rect: item.Rect, Index: i}
		t.items[i] = item.Value
	}

	t.pack(entries)
	t.logger.LogBulkLoad(len(items), t.height, materialized, nil)
	return t, nil
}

func drain[T any](src Source[T]) ([]Item[T], bool, error) {
	if !src.CanReset() {
		var items []Item[T]
		for {
			item, ok := src.Next()
			if !ok {
				break
			}
			items = append(items, item)
		}
		return items, true, src.Err()
	}

	var n int
	for _, ok := src.Next(); ok; _, ok = src.Next() {
		n++
	}
	if err := src.Err(); err != nil {
		return nil, false, err
	}
	if err := src.Reset(); err != nil {
		return nil, false, err
	}

	items := make([]Item[T], 0, n)
	for {
		item, ok := src.Next()
		if !ok {
			break
		}
		items = append(items, item)
	}
	if err := src.Err(); err != nil {
		return nil, false, err
	}
	if len(items) != n {
		return nil, false, fmt.Errorf("source yielded %d items after reset, expected %d", len(items), n)
	}
	return items, false, nil
}

// pack builds the tree bottom up, one level at a time, until a level fits in
// a single root node.
func (t *RTree[T]) pack(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	isLeaf := true
	height := 1
	for len(entries) > t.policy.maxChildren {
		groups := (len(entries) + t.policy.maxChildren - 1) / t.policy.maxChildren
		parents := make([]Entry, 0, groups)
		t.bulkInsert(entries, groups, isLeaf, &parents)
		entries = parents
		isLeaf = false
		height++
	}
	t.root = t.newPackedNode(entries, isLeaf)
	t.height = height
}

// bulkInsert partitions entries into the given number of nodes by recursively
// splitting along the longer axis. Node sizes differ by at most one, which
// keeps every node within the policy bounds.
func (t *RTree[T]) bulkInsert(entries []Entry, groups int, isLeaf bool, parents *[]Entry) {
	if groups == 1 {
		n := t.newPackedNode(entries, isLeaf)
		*parents = append(*parents, Entry{Rect: t.calculateBound(n), Index: n})
		return
	}

	bbox := entries[0].Rect
	for _, entry := range entries[1:] {
		bbox = bbox.Union(entry.Rect)
	}

	var sortBy func(i, j int) bool
	if bbox.MaxX-bbox.MinX > bbox.MaxY-bbox.MinY {
		sortBy = func(i, j int) bool {
			bi := entries[i].Rect
			bj := entries[j].Rect
			return bi.MinX+bi.MaxX < bj.MinX+bj.MaxX
		}
	} else {
		sortBy = func(i, j int) bool {
			bi := entries[i].Rect
			bj := entries[j].Rect
			return bi.MinY+bi.MaxY < bj.MinY+bj.MaxY
		}
	}
	sort.Slice(entries, sortBy)

	left := groups / 2
	split := left*(len(entries)/groups) + min(left, len(entries)%groups)
	t.bulkInsert(entries[:split], left, isLeaf, parents)
	t.bulkInsert(entries[split:], groups-left, isLeaf, parents)
}

func (t *RTree[T]) newPackedNode(entries []Entry, isLeaf bool) int {
	node := Node{
		IsLeaf:  isLeaf,
		Entries: make([]Entry, len(entries), t.policy.maxChildren+1),
		Parent:  -1,
	}
	copy(node.Entries, entries)
	t.nodes = append(t.nodes, node)
	n := len(t.nodes) - 1
	if !isLeaf {
		for _, entry := range entries {
			t.nodes[entry.Index].Parent = n
		}
	}
	return n
}
