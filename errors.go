package rtree

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPolicy is returned for node size bounds that cannot form a
	// valid R-tree.
	ErrInvalidPolicy = errors.New("invalid insertion policy")

	// ErrFrozen is returned when a StreamBuilder is modified or finalized
	// after it has been finalized.
	ErrFrozen = errors.New("index is frozen")
)

// InvalidRectangleError indicates malformed bounds (min greater than max, or
// NaN) supplied to an index.
type InvalidRectangleError struct {
	Rect Rect
}

func (e *InvalidRectangleError) Error() string {
	return fmt.Sprintf("invalid rectangle: %v", e.Rect)
}

// UnsupportedVersionError indicates that a stream was written by a serializer
// whose version string differs from the one trying to read it.
type UnsupportedVersionError struct {
	Expected string
	Actual   string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported serializer version: expected %q, got %q", e.Expected, e.Actual)
}

// FormatError indicates a truncated or structurally inconsistent stream
// image.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type FormatError struct {
	Offset int64
	Reason string
	cause  error
}

func (e *FormatError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("format error at offset %d: %s: %v", e.Offset, e.Reason, e.cause)
	}
	return fmt.Sprintf("format error at offset %d: %s", e.Offset, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.cause }

func formatErr(off int64, cause error, format string, args ...any) error {
	return &FormatError{Offset: off, Reason: fmt.Sprintf(format, args...), cause: cause}
}

// SerializationError indicates that a serializer failed to encode or decode a
// payload batch.
//
// The original underlying error can be accessed via errors.Unwrap.
type SerializationError struct {
	Op      string
	Version string
	cause   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s with serializer %q failed: %v", e.Op, e.Version, e.cause)
}

func (e *SerializationError) Unwrap() error { return e.cause }
