package domain

import (
	"encoding/json"
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
)

// multiPolygonJSON is the GeoJSON form of a multipolygon. The geojson
// package only handles single polygons, so parts are converted one by one.
type multiPolygonJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// EncodeGeoJSON encodes mp as a GeoJSON MultiPolygon geometry.
func EncodeGeoJSON(mp geom.MultiPolygon) ([]byte, error) {
	coords := make([]interface{}, 0, len(mp))
	for _, p := range mp {
		g, err := geojson.ToGeoJSON(p)
		if err != nil {
			return nil, err
		}
		coords = append(coords, g.Coordinates)
	}
	return json.Marshal(struct {
		Type        string        `json:"type"`
		Coordinates []interface{} `json:"coordinates"`
	}{"MultiPolygon", coords})
}

// DecodeGeoJSON decodes a Polygon or MultiPolygon geometry into the
// canonical multipolygon form.
func DecodeGeoJSON(data []byte) (geom.MultiPolygon, error) {
	var raw multiPolygonJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing geometry: %w", err)
	}

	switch raw.Type {
	case "Polygon":
		g, err := geojson.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decoding polygon: %w", err)
		}
		return ToMultiPolygon(g)

	case "MultiPolygon":
		var parts []json.RawMessage
		if err := json.Unmarshal(raw.Coordinates, &parts); err != nil {
			return nil, fmt.Errorf("parsing multipolygon coordinates: %w", err)
		}
		mp := make(geom.MultiPolygon, 0, len(parts))
		for i, part := range parts {
			var coords interface{}
			if err := json.Unmarshal(part, &coords); err != nil {
				return nil, fmt.Errorf("parsing polygon %d: %w", i, err)
			}
			g, err := geojson.FromGeoJSON(&geojson.Geometry{Type: "Polygon", Coordinates: coords})
			if err != nil {
				return nil, fmt.Errorf("decoding polygon %d: %w", i, err)
			}
			mp = append(mp, g.(geom.Polygon))
		}
		return ToMultiPolygon(mp)

	default:
		return nil, fmt.Errorf("geometry type %q: %w", raw.Type, ErrInvalidGeometry)
	}
}
