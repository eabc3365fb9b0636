package codec

import (
	"errors"
	"fmt"
	"math"

	gojson "github.com/goccy/go-json"

	rtree "github.com/john862003/ui"
)

// JSON is a structured-data serializer backed by github.com/goccy/go-json.
// It works for any payload type that round-trips through JSON. JSON has no
// representation for infinite bounds, so rectangles must be finite.
type JSON[T any] struct{}

// ErrNonFinite is returned by JSON.Serialize for a rectangle with an infinite
// bound.
var ErrNonFinite = errors.New("codec: non-finite rectangle bound")

type jsonBlock[T any] struct {
	Rects [][4]float64 `json:"r"`
	Data  []T          `json:"d"`
}

// VersionString returns "json.v1".
func (JSON[T]) VersionString() string { return "json.v1" }

// Serialize encodes the payloads and their rectangles as one JSON document.
func (JSON[T]) Serialize(payloads []T, rects []rtree.Rect) ([]byte, error) {
	if len(payloads) != len(rects) {
		return nil, fmt.Errorf("%w: %d payloads, %d rectangles", ErrLengthMismatch, len(payloads), len(rects))
	}
	block := jsonBlock[T]{
		Rects: make([][4]float64, len(rects)),
		Data:  payloads,
	}
	for i, r := range rects {
		block.Rects[i] = [4]float64{r.MinX, r.MinY, r.MaxX, r.MaxY}
		for _, f := range block.Rects[i] {
			if math.IsInf(f, 0) || math.IsNaN(f) {
				return nil, fmt.Errorf("%w: entry %d %v", ErrNonFinite, i, r)
			}
		}
	}
	return gojson.Marshal(block)
}

// Deserialize decodes a block written by Serialize.
func (JSON[T]) Deserialize(data []byte) ([]T, []rtree.Rect, error) {
	var block jsonBlock[T]
	if err := gojson.Unmarshal(data, &block); err != nil {
		return nil, nil, err
	}
	if len(block.Data) != len(block.Rects) {
		return nil, nil, fmt.Errorf("%w: %d payloads, %d rectangles", ErrLengthMismatch, len(block.Data), len(block.Rects))
	}
	rects := make([]rtree.Rect, len(block.Rects))
	for i, r := range block.Rects {
		rects[i] = rtree.Rect{MinX: r[0], MinY: r[1], MaxX: r[2], MaxY: r[3]}
	}
	return block.Data, rects, nil
}
