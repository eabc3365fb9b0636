package rtree

import (
	"fmt"
	"math"
)

// Rect is an axis-aligned rectangle. A valid Rect has MinX <= MaxX and
// MinY <= MaxY.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

// NewRect creates the rectangle spanned by the corners (x1, y1) and (x2, y2),
// in any order.
func NewRect(x1, y1, x2, y2 float64) Rect {
	return Rect{
		MinX: math.Min(x1, x2),
		MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2),
		MaxY: math.Max(y1, y2),
	}
}

// Valid reports whether the bounds are ordered and none of them is NaN.
func (r Rect) Valid() bool {
	return r.MinX <= r.MaxX && r.MinY <= r.MaxY
}

// Validate returns an *InvalidRectangleError if r is not valid.
func (r Rect) Validate() error {
	if !r.Valid() {
		return &InvalidRectangleError{Rect: r}
	}
	return nil
}

// Intersects reports whether r and o overlap. Edges are closed, so touching
// rectangles intersect.
func (r Rect) Intersects(o Rect) bool {
	return r.MinX <= o.MaxX && r.MaxX >= o.MinX &&
		r.MinY <= o.MaxY && r.MaxY >= o.MinY
}

// Contains reports whether o lies entirely within r.
func (r Rect) Contains(o Rect) bool {
	return r.MinX <= o.MinX && r.MaxX >= o.MaxX &&
		r.MinY <= o.MinY && r.MaxY >= o.MaxY
}

// Union gives the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		MinX: math.Min(r.MinX, o.MinX),
		MinY: math.Min(r.MinY, o.MinY),
		MaxX: math.Max(r.MaxX, o.MaxX),
		MaxY: math.Max(r.MaxY, o.MaxY),
	}
}

// Area of the rectangle.
func (r Rect) Area() float64 {
	return (r.MaxX - r.MinX) * (r.MaxY - r.MinY)
}

// Enlargement returns how much additional area r would have to grow by to
// accommodate o.
func (r Rect) Enlargement(o Rect) float64 {
	return r.Union(o).Area() - r.Area()
}

func (r Rect) String() string {
	return fmt.Sprintf("[%g,%g %g,%g]", r.MinX, r.MinY, r.MaxX, r.MaxY)
}

// Union calculates the minimum bounding rectangle of rects. The second return
// value is false if rects is empty.
func Union(rects ...Rect) (Rect, bool) {
	if len(rects) == 0 {
		return Rect{}, false
	}
	mbr := rects[0]
	for _, r := range rects[1:] {
		mbr = mbr.Union(r)
	}
	return mbr, true
}
