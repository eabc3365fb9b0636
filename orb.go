package rtree

import "github.com/paulmach/orb"

// RectFromBound converts an orb bound (lon/lat for OSM data) into a Rect.
func RectFromBound(b orb.Bound) Rect {
	return NewRect(b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
}

// Bound converts r into an orb bound.
func (r Rect) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.MinX, r.MinY},
		Max: orb.Point{r.MaxX, r.MaxY},
	}
}
