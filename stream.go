package rtree

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"math"

	"golang.org/x/sync/errgroup"
)

var (
	errVersionTooLong = errors.New("version string exceeds 65535 bytes")
	errBlockTooLarge  = errors.New("data block exceeds the 32-bit length field")
	errTooManyNodes   = errors.New("node count exceeds the 32-bit node count field")
)

// Limits of the fixed-width header and record fields.
var (
	maxBlockLength uint64 = math.MaxUint32
	maxNodeCount   uint64 = math.MaxUint32
)

// Serialize freezes t into a stream image written to w, using s to encode the
// payloads of each leaf. The node table is written in post order so that
// every child offset refers to a record before its parent.
func Serialize[T any](w io.Writer, t *RTree[T], s Serializer[T]) error {
	version := s.VersionString()
	if len(version) > 0xffff {
		return &SerializationError{Op: "serialize", Version: version[:64], cause: errVersionTooLong}
	}

	h := header{
		Version:    version,
		MinEntries: uint32(t.policy.minChildren),
		MaxEntries: uint32(t.policy.maxChildren),
		Height:     uint32(t.height),
		Count:      uint64(len(t.items)),
	}

	offsets := make([]uint64, len(t.nodes))
	var (
		records []nodeRecord
		blocks  [][]byte
		dataLen uint64
		off     = uint64(h.size())
		err     error
	)
	t.visitPostOrder(func(n int) bool {
		node := &t.nodes[n]
		rec := nodeRecord{leaf: node.IsLeaf, rect: t.calculateBound(n)}
		if node.IsLeaf {
			payloads := make([]T, len(node.Entries))
			rects := make([]Rect, len(node.Entries))
			for i, entry := range node.Entries {
				payloads[i] = t.items[entry.Index]
				rects[i] = entry.Rect
			}
			block, serr := s.Serialize(payloads, rects)
			if serr == nil && uint64(len(block)) > maxBlockLength {
				serr = fmt.Errorf("%w: %d bytes", errBlockTooLarge, len(block))
			}
			if serr != nil {
				err = &SerializationError{Op: "serialize", Version: version, cause: serr}
				return false
			}
			rec.blockOffset = dataLen
			rec.blockLength = uint32(len(block))
			rec.entryCount = uint32(len(node.Entries))
			rec.checksum = crc32.ChecksumIEEE(block)
			blocks = append(blocks, block)
			dataLen += uint64(len(block))
		} else {
			rec.children = make([]uint64, len(node.Entries))
			for i, entry := range node.Entries {
				rec.children[i] = offsets[entry.Index]
			}
		}
		offsets[n] = off
		off += uint64(rec.size())
		records = append(records, rec)
		if uint64(len(records)) > maxNodeCount {
			err = &SerializationError{Op: "serialize", Version: version, cause: errTooManyNodes}
			return false
		}
		return true
	})
	if err != nil {
		t.logger.LogSerialize(version, len(records), 0, err)
		return err
	}

	h.NodeCount = uint32(len(records))
	h.DataOffset = off
	h.Size = off + dataLen
	if len(records) > 0 {
		h.RootOffset = offsets[t.root]
	}

	bw := bufio.NewWriterSize(w, 256*1024)
	buf := h.appendTo(make([]byte, 0, h.size()))
	if _, err := bw.Write(buf); err != nil {
		return err
	}
	for i := range records {
		if records[i].leaf {
			records[i].blockOffset += h.DataOffset
		}
		buf = records[i].appendTo(buf[:0])
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	for _, block := range blocks {
		if _, err := bw.Write(block); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	t.logger.LogSerialize(version, len(records), int64(h.Size), nil)
	return nil
}

// StreamIndex is a read-only view of a frozen stream image. Nodes and data
// blocks are read on demand, so the image never has to fit in memory.
//
// All reads go through io.ReaderAt, so a StreamIndex may be queried from
// multiple goroutines at once.
type StreamIndex[T any] struct {
	r      io.ReaderAt
	s      Serializer[T]
	h      header
	logger *Logger
}

// Deserialize opens a stream image of the given size for querying with s.
// Only the header is read. A version string that does not match s fails with
// *UnsupportedVersionError, other header problems with *FormatError.
func Deserialize[T any](r io.ReaderAt, size int64, s Serializer[T], opts ...Option) (*StreamIndex[T], error) {
	o := applyOptions(opts)
	h, err := readHeader(r, size, s.VersionString())
	if err != nil {
		o.logger.LogOpen(s.VersionString(), 0, 0, err)
		return nil, err
	}
	o.logger.LogOpen(h.Version, h.Count, int(h.Height), nil)
	return &StreamIndex[T]{r: r, s: s, h: h, logger: o.logger}, nil
}

// ReadIndex reads the whole of r into memory and opens it. It serves streams
// that do not support random access.
func ReadIndex[T any](r io.Reader, s Serializer[T], opts ...Option) (*StreamIndex[T], error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Deserialize(bytes.NewReader(data), int64(len(data)), s, opts...)
}

// VersionString returns the serializer version recorded in the header.
func (x *StreamIndex[T]) VersionString() string { return x.h.Version }

// Count returns the number of entries in the image.
func (x *StreamIndex[T]) Count() int { return int(x.h.Count) }

// Height returns the number of node levels. It is 0 for an empty image.
func (x *StreamIndex[T]) Height() int { return int(x.h.Height) }

// Policy returns the node size bounds the image was built with.
func (x *StreamIndex[T]) Policy() InsertionPolicy {
	return InsertionPolicy{minChildren: int(x.h.MinEntries), maxChildren: int(x.h.MaxEntries)}
}

// Bounds returns the union rectangle of every entry in the image. The second
// return value is false if the image is empty.
func (x *StreamIndex[T]) Bounds() (Rect, bool, error) {
	if x.h.NodeCount == 0 {
		return Rect{}, false, nil
	}
	root, err := readNode(x.r, &x.h, x.h.RootOffset)
	if err != nil {
		return Rect{}, false, err
	}
	return root.rect, true, nil
}

// Get returns the payloads of every entry intersecting q. Reading stops at
// the first error, which is yielded with a zero payload.
func (x *StreamIndex[T]) Get(q Rect) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if x.h.NodeCount == 0 {
			return
		}
		if _, err := x.search(x.h.RootOffset, 1, nil, q, yield); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// Query collects the payloads of every entry intersecting q.
func (x *StreamIndex[T]) Query(q Rect) ([]T, error) {
	var out []T
	for v, err := range x.Get(q) {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// QueryMany runs the queries concurrently, at most concurrency at a time
// (unlimited if concurrency <= 0). results[i] holds the payloads for qs[i].
func (x *StreamIndex[T]) QueryMany(ctx context.Context, qs []Rect, concurrency int) ([][]T, error) {
	results := make([][]T, len(qs))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, q := range qs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := x.Query(q)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()

	var total int
	for _, res := range results {
		total += len(res)
	}
	x.logger.LogQueryMany(ctx, len(qs), total, err)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (x *StreamIndex[T]) search(off uint64, depth int, parent *Rect, q Rect, yield func(T, error) bool) (bool, error) {
	rec, err := readNode(x.r, &x.h, off)
	if err != nil {
		return false, err
	}
	if err := x.checkNode(&rec, off, depth, parent); err != nil {
		return false, err
	}
	if !rec.rect.Intersects(q) {
		return true, nil
	}

	if rec.leaf {
		payloads, rects, err := x.readBlock(&rec, off)
		if err != nil {
			return false, err
		}
		for _, r := range rects {
			if !rec.rect.Contains(r) {
				return false, formatErr(int64(off), nil, "entry %v lies outside leaf bounds %v", r, rec.rect)
			}
		}
		for i, r := range rects {
			if r.Intersects(q) && !yield(payloads[i], nil) {
				return false, nil
			}
		}
		return true, nil
	}

	for _, child := range rec.children {
		ok, err := x.search(child, depth+1, &rec.rect, q, yield)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

// checkNode validates a record against the tree invariants recorded in the
// header and against the bounds of its parent, if any. Children must precede
// their parent, which rules out cycles.
func (x *StreamIndex[T]) checkNode(rec *nodeRecord, off uint64, depth int, parent *Rect) error {
	height := int(x.h.Height)
	isRoot := depth == 1
	if rec.leaf != (depth == height) {
		return formatErr(int64(off), nil, "node at depth %d of %d has leaf=%t", depth, height, rec.leaf)
	}
	if !rec.rect.Valid() {
		return formatErr(int64(off), nil, "invalid node rectangle %v", rec.rect)
	}
	if parent != nil && !parent.Contains(rec.rect) {
		return formatErr(int64(off), nil, "node bounds %v exceed parent bounds %v", rec.rect, *parent)
	}

	count := len(rec.children)
	if rec.leaf {
		count = int(rec.entryCount)
	}
	lower := int(x.h.MinEntries)
	if isRoot {
		lower = 1
		if !rec.leaf {
			lower = 2
		}
	}
	if count < lower {
		return formatErr(int64(off), nil, "node holds %d entries, want at least %d", count, lower)
	}

	if rec.leaf {
		end := rec.blockOffset + uint64(rec.blockLength)
		if rec.blockOffset < x.h.DataOffset || end < rec.blockOffset || end > x.h.Size {
			return formatErr(int64(off), nil, "data block [%d, %d) out of range", rec.blockOffset, end)
		}
		return nil
	}
	for _, child := range rec.children {
		if child >= off {
			return formatErr(int64(off), nil, "child offset %d does not precede parent", child)
		}
	}
	return nil
}

func (x *StreamIndex[T]) readBlock(rec *nodeRecord, off uint64) ([]T, []Rect, error) {
	block := make([]byte, rec.blockLength)
	if err := readFull(x.r, int64(x.h.Size), int64(rec.blockOffset), block); err != nil {
		return nil, nil, err
	}
	if sum := crc32.ChecksumIEEE(block); sum != rec.checksum {
		return nil, nil, formatErr(int64(rec.blockOffset), nil, "block checksum mismatch: expected 0x%08x, got 0x%08x", rec.checksum, sum)
	}
	payloads, rects, err := x.s.Deserialize(block)
	if err != nil {
		return nil, nil, &SerializationError{Op: "deserialize", Version: x.h.Version, cause: err}
	}
	if len(payloads) != len(rects) || len(rects) != int(rec.entryCount) {
		return nil, nil, formatErr(int64(off), nil, "leaf holds %d entries, block decoded to %d payloads and %d rectangles",
			rec.entryCount, len(payloads), len(rects))
	}
	return payloads, rects, nil
}
