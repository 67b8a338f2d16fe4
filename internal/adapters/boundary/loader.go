// Package boundary reads areas of interest from GeoJSON and shapefiles.
package boundary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"

	"github.com/jobrunner/geofetch/internal/domain"
)

// nameFields are tried in order when no name field is configured.
var nameFields = []string{"name", "NAME", "Name", "shapeName", "NAME_2", "NAME_1", "NAME_0", "ADM2_EN", "ADM1_EN", "ADM0_EN"}

// Loader implements the BoundaryLoader port.
type Loader struct {
	nameField string
	logger    *slog.Logger
	now       func() time.Time
}

// NewLoader creates a boundary loader. nameField selects the attribute used
// as the boundary name; common name attributes are tried when it is empty.
func NewLoader(nameField string, logger *slog.Logger) *Loader {
	return &Loader{
		nameField: nameField,
		logger:    logger,
		now:       time.Now,
	}
}

// Supports reports whether path is a GeoJSON file or the main file of a
// shapefile.
func (l *Loader) Supports(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json", ".shp":
		return true
	default:
		return false
	}
}

// Load returns the polygonal features of the file at path.
func (l *Loader) Load(ctx context.Context, path string) ([]domain.Boundary, error) {
	var (
		features []feature
		err      error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		features, err = readGeoJSON(path)
	case ".shp":
		features, err = readShapefile(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported boundary file %s: %w", path, domain.ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	loadedAt := l.now()

	boundaries := make([]domain.Boundary, 0, len(features))
	for i, f := range features {
		if f.geometry == nil {
			l.logger.Debug("skipping non-polygonal feature", "path", path, "index", i)
			continue
		}
		name := l.name(f.props)
		if name == "" {
			name = stem
			if len(features) > 1 {
				name = fmt.Sprintf("%s_%d", stem, i)
			}
		}
		boundaries = append(boundaries, domain.Boundary{
			ID:       fmt.Sprintf("%s#%d", base, i),
			Name:     name,
			Source:   path,
			Geometry: f.geometry,
			Props:    f.props,
			LoadedAt: loadedAt,
		})
	}

	if len(boundaries) == 0 {
		return nil, fmt.Errorf("no polygons in %s: %w", path, domain.ErrInvalidGeometry)
	}
	return boundaries, nil
}

// name returns the value of the configured name field or of the first
// common name field that is set.
func (l *Loader) name(props map[string]string) string {
	if l.nameField != "" {
		return strings.TrimSpace(props[l.nameField])
	}
	for _, key := range nameFields {
		if v := strings.TrimSpace(props[key]); v != "" {
			return v
		}
	}
	return ""
}

// feature is a decoded feature, geometry is nil when it is not polygonal.
type feature struct {
	geometry geom.MultiPolygon
	props    map[string]string
}

type geoJSONObject struct {
	Type       string                 `json:"type"`
	Features   []geoJSONObject        `json:"features"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// readGeoJSON reads a FeatureCollection, a single Feature or a bare geometry.
func readGeoJSON(path string) ([]feature, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path comes from the boundary directory
	if err != nil {
		return nil, err
	}

	var obj geoJSONObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}

	switch obj.Type {
	case "FeatureCollection":
		out := make([]feature, 0, len(obj.Features))
		for i, f := range obj.Features {
			decoded, err := decodeFeature(f)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			out = append(out, decoded)
		}
		return out, nil

	case "Feature":
		decoded, err := decodeFeature(obj)
		if err != nil {
			return nil, err
		}
		return []feature{decoded}, nil

	default:
		mp, err := polygonal(data)
		if err != nil {
			return nil, err
		}
		return []feature{{geometry: mp, props: map[string]string{}}}, nil
	}
}

func decodeFeature(f geoJSONObject) (feature, error) {
	props := make(map[string]string, len(f.Properties))
	for k, v := range f.Properties {
		if v == nil {
			continue
		}
		props[k] = fmt.Sprint(v)
	}

	if len(f.Geometry) == 0 || string(f.Geometry) == "null" {
		return feature{props: props}, nil
	}
	mp, err := polygonal(f.Geometry)
	if err != nil {
		return feature{}, err
	}
	return feature{geometry: mp, props: props}, nil
}

// polygonal decodes a geometry, returning nil without error for points and
// lines.
func polygonal(data []byte) (geom.MultiPolygon, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parsing geometry: %w", err)
	}
	switch head.Type {
	case "Polygon", "MultiPolygon":
		return domain.DecodeGeoJSON(data)
	case "Point", "MultiPoint", "LineString", "MultiLineString":
		return nil, nil
	default:
		return nil, fmt.Errorf("geometry type %q: %w", head.Type, domain.ErrInvalidGeometry)
	}
}

// readShapefile reads every record of a shapefile with all its attributes.
// The .dbf file must sit next to the .shp file. Geometries are reprojected
// to longitude/latitude when a .prj file is present.
func readShapefile(ctx context.Context, path string) ([]feature, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile: %w", err)
	}
	defer d.Close()

	trans, err := toLonLat(d)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, f := range d.Fields() {
		names = append(names, string(bytes.TrimRight(f.Name[:], "\x00")))
	}

	var out []feature
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, fields, more := d.DecodeRowFields(names...)
		if err := d.Error(); err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}
		if !more {
			break
		}
		if trans != nil && g != nil {
			if g, err = g.Transform(trans); err != nil {
				return nil, fmt.Errorf("record %d: reprojecting: %w", len(out), err)
			}
		}

		props := make(map[string]string, len(fields))
		for k, v := range fields {
			if v = strings.TrimSpace(v); v != "" {
				props[k] = v
			}
		}
		out = append(out, feature{geometry: shapePolygons(g), props: props})
	}
	return out, nil
}

// toLonLat returns the transform from the spatial reference in the .prj file
// of d to EPSG:4326, or nil when the shapefile has no .prj file.
func toLonLat(d *shp.Decoder) (proj.Transformer, error) {
	src, err := d.SR()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading projection: %w: %w", err, domain.ErrInvalidInput)
	}
	wgs84, err := proj.Parse("EPSG:4326")
	if err != nil {
		return nil, err
	}
	trans, err := src.NewTransform(wgs84)
	if err != nil {
		return nil, fmt.Errorf("projection transform: %w", err)
	}
	return trans, nil
}

// shapePolygons converts a shapefile geometry. Shapefile polygons carry all
// parts as rings of one polygon, so they are split into separate parts.
func shapePolygons(g geom.Geom) geom.MultiPolygon {
	switch v := g.(type) {
	case geom.Polygon:
		if parts := domain.Parts(v); len(parts) > 0 {
			return parts
		}
		return nil
	case geom.MultiPolygon:
		return v
	default:
		return nil
	}
}
