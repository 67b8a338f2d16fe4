package domain

import (
	"time"

	"github.com/ctessum/geom"
)

// Boundary is a named area of interest loaded from a boundary file.
type Boundary struct {
	ID       string            // Unique identifier (file name and feature index)
	Name     string            // Display name, used as the output label
	Source   string            // File the boundary was read from
	Geometry geom.MultiPolygon // Area of interest in EPSG:4326
	Props    map[string]string // Feature attributes
	LoadedAt time.Time
}

// Extent returns the bounding box of the boundary.
func (b *Boundary) Extent() *geom.Bounds {
	return b.Geometry.Bounds()
}

// Area returns the request area of the boundary in north, west, south, east order.
func (b *Boundary) Area() Area {
	e := b.Extent()
	return AreaFromBounds(e.Min.X, e.Min.Y, e.Max.X, e.Max.Y)
}
