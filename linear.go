package rtree

import "iter"

// LinearIndex is an unindexed list of entries answering queries by scanning
// everything. It defines the expected results of an RTree query and is meant
// for verifying them, not for production use.
type LinearIndex[T any] struct {
	items []Item[T]
}

// Add appends an entry.
func (l *LinearIndex[T]) Add(r Rect, v T) error {
	if err := r.Validate(); err != nil {
		return err
	}
	l.items = append(l.items, Item[T]{Rect: r, Value: v})
	return nil
}

// Get returns the payloads of every entry intersecting r.
func (l *LinearIndex[T]) Get(r Rect) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, item := range l.items {
			if item.Rect.Intersects(r) && !yield(item.Value) {
				return
			}
		}
	}
}

// Count returns the number of entries.
func (l *LinearIndex[T]) Count() int {
	return len(l.items)
}
