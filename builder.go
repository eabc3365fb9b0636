package rtree

import (
	"io"
	"iter"
)

// StreamBuilder is the write side of a stream-backed index. Entries are
// accumulated in an in-memory RTree until Finalize writes the stream image,
// after which the builder is frozen.
type StreamBuilder[T any] struct {
	tree   *RTree[T]
	s      Serializer[T]
	frozen bool
}

// NewStreamBuilder creates an empty builder encoding payloads with s.
func NewStreamBuilder[T any](s Serializer[T], opts ...Option) *StreamBuilder[T] {
	return &StreamBuilder[T]{tree: New[T](opts...), s: s}
}

// Add inserts an entry. It fails with ErrFrozen once the builder has been
// finalized.
func (b *StreamBuilder[T]) Add(r Rect, v T) error {
	if b.frozen {
		return ErrFrozen
	}
	return b.tree.Add(r, v)
}

// Get queries the entries accumulated so far.
func (b *StreamBuilder[T]) Get(r Rect) iter.Seq[T] {
	return b.tree.Get(r)
}

// Count returns the number of entries accumulated so far.
func (b *StreamBuilder[T]) Count() int {
	return b.tree.Count()
}

// Frozen reports whether Finalize has completed.
func (b *StreamBuilder[T]) Frozen() bool {
	return b.frozen
}

// Finalize writes the stream image to w and freezes the builder. If writing
// fails the builder stays open and Finalize may be retried with a fresh
// writer.
func (b *StreamBuilder[T]) Finalize(w io.Writer) error {
	if b.frozen {
		return ErrFrozen
	}
	if err := Serialize(w, b.tree, b.s); err != nil {
		return err
	}
	b.frozen = true
	return nil
}
