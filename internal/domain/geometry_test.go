package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/ctessum/geom"
)

func rect(x0, y0, x1, y1 float64) []geom.Point {
	return []geom.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}
}

func lShape() geom.Polygon {
	return geom.Polygon{{
		{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 2}, {X: 0, Y: 2}, {X: 0, Y: 0},
	}}
}

func TestIsPerfectSquare(t *testing.T) {
	tests := []struct {
		n    int
		want bool
	}{
		{-4, false},
		{0, false},
		{1, true},
		{2, false},
		{3, false},
		{4, true},
		{8, false},
		{9, true},
		{25, true},
		{256, true},
		{257, false},
	}

	for _, tt := range tests {
		if got := IsPerfectSquare(tt.n); got != tt.want {
			t.Errorf("IsPerfectSquare(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestNextSplitCount(t *testing.T) {
	tests := []struct {
		k    int
		want int
	}{
		{0, 1},
		{1, 4},
		{4, 9},
		{9, 25},
		{25, 64},
		{64, 144},
		{144, 289},
	}

	for _, tt := range tests {
		got := NextSplitCount(tt.k)
		if got != tt.want {
			t.Errorf("NextSplitCount(%d) = %d, want %d", tt.k, got, tt.want)
		}
		if tt.k > 0 && (got < 2*tt.k || !IsPerfectSquare(got)) {
			t.Errorf("NextSplitCount(%d) = %d is not a perfect square >= %d", tt.k, got, 2*tt.k)
		}
	}
}

func TestGrid_AreaConservation(t *testing.T) {
	shapes := map[string]geom.MultiPolygon{
		"square":  {geom.Polygon{rect(0, 0, 3, 3)}},
		"l-shape": {lShape()},
		"two parts": {
			geom.Polygon{rect(0, 0, 1, 1)},
			geom.Polygon{rect(2, 2, 4, 3)},
		},
	}

	for name, aoi := range shapes {
		for _, k := range []int{1, 4, 9, 25} {
			cells, err := Grid(aoi, k)
			if err != nil {
				t.Fatalf("%s: Grid(%d) error = %v", name, k, err)
			}
			if len(cells) != k {
				t.Errorf("%s: Grid(%d) returned %d cells", name, k, len(cells))
			}

			var total float64
			for _, c := range cells {
				total += c.Area
			}
			if math.Abs(total-aoi.Area()) > 1e-6*aoi.Area() {
				t.Errorf("%s: Grid(%d) area = %v, want %v", name, k, total, aoi.Area())
			}
		}
	}
}

func TestGrid_Ordering(t *testing.T) {
	cells, err := Grid(geom.MultiPolygon{lShape()}, 4)
	if err != nil {
		t.Fatalf("Grid() error = %v", err)
	}

	for i, c := range cells {
		if c.Index != i {
			t.Errorf("cells[%d].Index = %d", i, c.Index)
		}
		if i > 0 && c.Area > cells[i-1].Area {
			t.Errorf("cells[%d] area %v larger than previous %v", i, c.Area, cells[i-1].Area)
		}
	}

	// The upper right quarter of the L-shape is outside the shape.
	last := cells[len(cells)-1]
	if !last.Empty() {
		t.Errorf("last cell area = %v, want empty", last.Area)
	}
	if last.Row != 1 || last.Col != 1 {
		t.Errorf("empty cell at row %d col %d, want 1 1", last.Row, last.Col)
	}
}

func TestGrid_CellBounds(t *testing.T) {
	cells, err := Grid(geom.MultiPolygon{geom.Polygon{rect(10, 20, 13, 23)}}, 9)
	if err != nil {
		t.Fatalf("Grid() error = %v", err)
	}

	for _, c := range cells {
		wantMinX := 10 + float64(c.Col)
		wantMinY := 20 + float64(c.Row)
		if math.Abs(c.Bounds.Min.X-wantMinX) > 1e-9 || math.Abs(c.Bounds.Min.Y-wantMinY) > 1e-9 {
			t.Errorf("cell %d/%d min = %v, want (%v %v)", c.Row, c.Col, c.Bounds.Min, wantMinX, wantMinY)
		}
		if math.Abs(c.Area-1) > 1e-9 {
			t.Errorf("cell %d/%d area = %v, want 1", c.Row, c.Col, c.Area)
		}
	}
}

func TestGrid_Invalid(t *testing.T) {
	aoi := geom.MultiPolygon{geom.Polygon{rect(0, 0, 1, 1)}}

	tests := []struct {
		name  string
		aoi   geom.MultiPolygon
		split int
	}{
		{"not a square", aoi, 2},
		{"zero", aoi, 0},
		{"empty aoi", nil, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Grid(tt.aoi, tt.split); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Grid() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestParts(t *testing.T) {
	p := geom.Polygon{
		rect(0, 0, 4, 4),
		rect(1, 1, 2, 2),
		rect(10, 10, 11, 11),
	}

	parts := Parts(p)
	if len(parts) != 2 {
		t.Fatalf("len(Parts()) = %d, want 2", len(parts))
	}
	if len(parts[0]) != 2 {
		t.Errorf("first part has %d rings, want outer ring and hole", len(parts[0]))
	}
	if len(parts[1]) != 1 {
		t.Errorf("second part has %d rings, want 1", len(parts[1]))
	}
	if math.Abs(parts.Area()-16) > 1e-9 {
		t.Errorf("Area() = %v, want 16", parts.Area())
	}
}

func TestToMultiPolygon(t *testing.T) {
	poly := geom.Polygon{rect(0, 0, 1, 1)}

	tests := []struct {
		name    string
		g       geom.Geom
		want    int
		wantErr bool
	}{
		{"polygon", poly, 1, false},
		{"multipolygon", geom.MultiPolygon{poly, poly}, 2, false},
		{"empty polygon", geom.Polygon{}, 0, true},
		{"point", geom.Point{X: 1, Y: 1}, 0, true},
		{"nil", nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mp, err := ToMultiPolygon(tt.g)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToMultiPolygon() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidGeometry) {
					t.Errorf("error = %v, want ErrInvalidGeometry", err)
				}
				return
			}
			if len(mp) != tt.want {
				t.Errorf("len = %d, want %d", len(mp), tt.want)
			}
		})
	}
}
