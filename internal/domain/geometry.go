package domain

import (
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/geom"
)

// AreaTolerance is the relative tolerance used when comparing areas of
// intersected geometries.
const AreaTolerance = 1e-9

// ToMultiPolygon promotes a polygonal geometry to the canonical multipolygon
// representation. A polygon becomes a one-element multipolygon.
func ToMultiPolygon(g geom.Geom) (geom.MultiPolygon, error) {
	switch v := g.(type) {
	case geom.MultiPolygon:
		if len(v) == 0 {
			return nil, ErrInvalidGeometry
		}
		return v, nil
	case geom.Polygon:
		if len(v) == 0 {
			return nil, ErrInvalidGeometry
		}
		return geom.MultiPolygon{v}, nil
	case nil:
		return nil, ErrInvalidGeometry
	default:
		return nil, fmt.Errorf("unsupported geometry type %T: %w", g, ErrInvalidGeometry)
	}
}

// Parts splits a polygon produced by a clipping operation into separate
// polygons. Each outer ring is paired with the holes it contains.
func Parts(p geom.Polygon) geom.MultiPolygon {
	var outers, holes [][]geom.Point
	for i, ring := range p {
		if len(ring) < 3 {
			continue
		}
		if isHole(p, i) {
			holes = append(holes, ring)
		} else {
			outers = append(outers, ring)
		}
	}

	parts := make(geom.MultiPolygon, len(outers))
	for i, outer := range outers {
		parts[i] = geom.Polygon{outer}
	}
	for _, hole := range holes {
		for i, outer := range outers {
			if hole[0].Within(geom.Polygon{outer}) != geom.Outside {
				parts[i] = append(parts[i], hole)
				break
			}
		}
	}
	return parts
}

// isHole reports whether ring i of p lies inside another ring of p.
func isHole(p geom.Polygon, i int) bool {
	for j, other := range p {
		if j == i || len(other) < 3 {
			continue
		}
		for _, pt := range p[i] {
			status := pt.Within(geom.Polygon{other})
			if status == geom.OnEdge {
				continue
			}
			if status == geom.Inside {
				return true
			}
			break
		}
	}
	return false
}

// Cell is one rectangular partition of an area of interest's bounding box,
// intersected with the area of interest.
type Cell struct {
	Index  int          // Position after sorting by area, 0-based
	Row    int          // Grid row, 0 at the bottom
	Col    int          // Grid column, 0 at the left
	Bounds geom.Bounds  // Rectangular grid cell
	Shape  geom.Polygon // Intersection of the cell with the area of interest
	Area   float64      // Area of Shape in squared degrees
}

// Empty reports whether the cell does not overlap the area of interest.
func (c Cell) Empty() bool {
	return len(c.Shape) == 0 || c.Area <= 0
}

// IsPerfectSquare reports whether n is a positive perfect square.
func IsPerfectSquare(n int) bool {
	if n < 1 {
		return false
	}
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r*r == n
}

// GridSide returns the number of rows and columns of a grid with n cells.
func GridSide(n int) int {
	s := int(math.Sqrt(float64(n)))
	for s*s < n {
		s++
	}
	return s
}

// NextSplitCount returns the split count to try after a size failure at k:
// the smallest perfect square that is at least 2k.
func NextSplitCount(k int) int {
	if k < 1 {
		return 1
	}
	s := GridSide(2 * k)
	return s * s
}

// Grid partitions the bounding box of aoi into a side x side grid and
// intersects each cell with aoi. Cells are returned sorted by intersected
// area, largest first, and indexed in that order. Empty cells are kept so
// the caller can account for them.
func Grid(aoi geom.MultiPolygon, splitCount int) ([]Cell, error) {
	if !IsPerfectSquare(splitCount) {
		return nil, &ValidationError{
			Field:      "split_count",
			Value:      splitCount,
			Constraint: "perfect square >= 1",
			Message:    "split count must be a perfect square",
		}
	}
	if len(aoi) == 0 {
		return nil, ErrInvalidGeometry
	}

	b := aoi.Bounds()
	if b.Empty() {
		return nil, ErrInvalidGeometry
	}

	side := GridSide(splitCount)
	dx := (b.Max.X - b.Min.X) / float64(side)
	dy := (b.Max.Y - b.Min.Y) / float64(side)

	cells := make([]Cell, 0, splitCount)
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			cb := geom.Bounds{
				Min: geom.Point{X: b.Min.X + float64(col)*dx, Y: b.Min.Y + float64(row)*dy},
				Max: geom.Point{X: b.Min.X + float64(col+1)*dx, Y: b.Min.Y + float64(row+1)*dy},
			}
			// The last row and column end exactly on the bounding box.
			if col == side-1 {
				cb.Max.X = b.Max.X
			}
			if row == side-1 {
				cb.Max.Y = b.Max.Y
			}

			var shape geom.Polygon
			if side == 1 {
				shape = flatten(aoi)
			} else {
				shape = aoi.Intersection(rectangle(cb))
			}
			cells = append(cells, Cell{
				Row:    row,
				Col:    col,
				Bounds: cb,
				Shape:  shape,
				Area:   shape.Area(),
			})
		}
	}

	sort.SliceStable(cells, func(i, j int) bool {
		return cells[i].Area > cells[j].Area
	})
	for i := range cells {
		cells[i].Index = i
	}
	return cells, nil
}

// rectangle returns the polygon for b.
func rectangle(b geom.Bounds) geom.Polygon {
	return geom.Polygon{{
		{X: b.Min.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Min.Y},
	}}
}

// flatten returns the rings of mp as a single polygon.
func flatten(mp geom.MultiPolygon) geom.Polygon {
	var p geom.Polygon
	for _, part := range mp {
		p = append(p, part...)
	}
	return p
}
