package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	rtree "github.com/john862003/ui"
)

var (
	// ErrLengthMismatch is returned when payload and rectangle batches differ
	// in length.
	ErrLengthMismatch = errors.New("payload and rectangle count mismatch")

	// ErrTruncated is returned when a block ends before its declared content.
	ErrTruncated = errors.New("truncated block")
)

// Strings is a hand-rolled binary serializer for string payloads.
//
// Layout: uvarint entry count, then per entry MinX, MinY, MaxX, MaxY as
// little-endian float64 followed by a uvarint length and the string bytes.
type Strings struct{}

// VersionString returns "strings.v1".
func (Strings) VersionString() string { return "strings.v1" }

// Serialize encodes the strings and their rectangles.
func (Strings) Serialize(payloads []string, rects []rtree.Rect) ([]byte, error) {
	if len(payloads) != len(rects) {
		return nil, fmt.Errorf("%w: %d payloads, %d rectangles", ErrLengthMismatch, len(payloads), len(rects))
	}
	size := binary.MaxVarintLen64
	for _, p := range payloads {
		size += 32 + binary.MaxVarintLen64 + len(p)
	}
	b := make([]byte, 0, size)
	b = binary.AppendUvarint(b, uint64(len(payloads)))
	for i, p := range payloads {
		r := rects[i]
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(r.MinX))
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(r.MinY))
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(r.MaxX))
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(r.MaxY))
		b = binary.AppendUvarint(b, uint64(len(p)))
		b = append(b, p...)
	}
	return b, nil
}

// Deserialize decodes a block written by Serialize.
func (Strings) Deserialize(data []byte) ([]string, []rtree.Rect, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, ErrTruncated
	}
	data = data[n:]
	// Every entry takes at least 33 bytes.
	if count > uint64(len(data))/33 {
		return nil, nil, fmt.Errorf("%w: %d entries in %d bytes", ErrTruncated, count, len(data))
	}

	payloads := make([]string, count)
	rects := make([]rtree.Rect, count)
	for i := range payloads {
		if len(data) < 32 {
			return nil, nil, ErrTruncated
		}
		rects[i] = rtree.Rect{
			MinX: math.Float64frombits(binary.LittleEndian.Uint64(data[0:])),
			MinY: math.Float64frombits(binary.LittleEndian.Uint64(data[8:])),
			MaxX: math.Float64frombits(binary.LittleEndian.Uint64(data[16:])),
			MaxY: math.Float64frombits(binary.LittleEndian.Uint64(data[24:])),
		}
		data = data[32:]

		l, n := binary.Uvarint(data)
		if n <= 0 || l > uint64(len(data)-n) {
			return nil, nil, ErrTruncated
		}
		payloads[i] = string(data[n : n+int(l)])
		data = data[n+int(l):]
	}
	if len(data) != 0 {
		return nil, nil, fmt.Errorf("%d trailing bytes after %d entries", len(data), count)
	}
	return payloads, rects, nil
}
