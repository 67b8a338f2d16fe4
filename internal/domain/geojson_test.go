package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/ctessum/geom"
)

func TestGeoJSON_RoundTrip(t *testing.T) {
	mp := geom.MultiPolygon{
		{rect(0, 0, 4, 4), rect(1, 1, 2, 2)},
		{rect(10, 10, 11, 12)},
	}

	data, err := EncodeGeoJSON(mp)
	if err != nil {
		t.Fatalf("EncodeGeoJSON() error = %v", err)
	}
	got, err := DecodeGeoJSON(data)
	if err != nil {
		t.Fatalf("DecodeGeoJSON() error = %v", err)
	}

	if len(got) != 2 || len(got[0]) != 2 {
		t.Fatalf("decoded structure = %d parts, want 2 with a hole in the first", len(got))
	}
	if math.Abs(got.Area()-mp.Area()) > 1e-9 {
		t.Errorf("Area() = %v, want %v", got.Area(), mp.Area())
	}
}

func TestDecodeGeoJSON(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		parts    int
		area     float64
		wantErr  bool
		wantGeom bool
	}{
		{
			name:  "polygon",
			data:  `{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]}`,
			parts: 1,
			area:  4,
		},
		{
			name:  "multipolygon",
			data:  `{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,1],[0,0]]],[[[5,5],[7,5],[7,6],[5,6],[5,5]]]]}`,
			parts: 2,
			area:  3,
		},
		{
			name:     "point",
			data:     `{"type":"Point","coordinates":[1,2]}`,
			wantErr:  true,
			wantGeom: true,
		},
		{
			name:    "malformed",
			data:    `{"type":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mp, err := DecodeGeoJSON([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeGeoJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if tt.wantGeom && !errors.Is(err, ErrInvalidGeometry) {
					t.Errorf("error = %v, want ErrInvalidGeometry", err)
				}
				return
			}
			if len(mp) != tt.parts {
				t.Errorf("parts = %d, want %d", len(mp), tt.parts)
			}
			if math.Abs(mp.Area()-tt.area) > 1e-9 {
				t.Errorf("Area() = %v, want %v", mp.Area(), tt.area)
			}
		})
	}
}
