package rtree

// Item is a rectangle with its payload, as produced by a Source.
type Item[T any] struct {
	Rect  Rect
	Value T
}

// Source is a producer of items for bulk loading.
//
// Next returns the next item and true, or false once the source is exhausted
// or has failed, in which case Err reports the failure. A source that can be
// rewound reports CanReset and restarts from its first item on Reset.
type Source[T any] interface {
	Next() (Item[T], bool)
	Err() error
	CanReset() bool
	Reset() error
}

// SliceSource is a resettable Source over a slice of items.
type SliceSource[T any] struct {
	items []Item[T]
	pos   int
}

// NewSliceSource creates a source yielding items in order. The slice is not
// copied.
func NewSliceSource[T any](items []Item[T]) *SliceSource[T] {
	return &SliceSource[T]{items: items}
}

// Next implements Source.
func (s *SliceSource[T]) Next() (Item[T], bool) {
	if s.pos >= len(s.items) {
		return Item[T]{}, false
	}
	s.pos++
	return s.items[s.pos-1], true
}

// Err implements Source. A slice never fails.
func (s *SliceSource[T]) Err() error { return nil }

// CanReset implements Source.
func (s *SliceSource[T]) CanReset() bool { return true }

// Reset implements Source.
func (s *SliceSource[T]) Reset() error {
	s.pos = 0
	return nil
}
