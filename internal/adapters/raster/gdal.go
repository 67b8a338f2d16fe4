// Package raster implements raster file operations on top of GDAL.
package raster

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/ctessum/geom"

	"github.com/jobrunner/geofetch/internal/domain"
)

// Fill values written outside the clip polygon.
const (
	ByteNoData  = 255
	FloatNoData = -9999
)

// statsCeiling marks fill values in population rasters.
const statsCeiling = 9999

var registerOnce sync.Once

// Processor implements the RasterProcessor port.
type Processor struct {
	tempDir string
}

// NewProcessor creates a raster processor and registers the GDAL drivers.
// Cutline files are written to tempDir, or the system default when empty.
func NewProcessor(tempDir string) *Processor {
	registerOnce.Do(godal.RegisterAll)
	return &Processor{tempDir: tempDir}
}

// Mosaic merges files into a single GeoTIFF at out. The inputs are removed
// once the mosaic was written.
func (p *Processor) Mosaic(ctx context.Context, files []string, out string) error {
	if len(files) == 0 {
		return domain.ErrEmptyMosaicSet
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	datasets := make([]*godal.Dataset, 0, len(files))
	defer func() {
		for _, ds := range datasets {
			_ = ds.Close()
		}
	}()
	for _, f := range files {
		ds, err := godal.Open(f)
		if err != nil {
			return &domain.RasterError{Operation: "mosaic", Path: f, Err: err}
		}
		datasets = append(datasets, ds)
	}

	_ = os.Remove(out)
	dst, err := godal.Warp(out, datasets, []string{"-of", "GTiff", "-co", "COMPRESS=LZW"})
	if err != nil {
		return &domain.RasterError{Operation: "mosaic", Path: out, Err: err}
	}
	if err := dst.Close(); err != nil {
		return &domain.RasterError{Operation: "mosaic", Path: out, Err: err}
	}

	for _, f := range files {
		if f == out {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return &domain.RasterError{Operation: "mosaic", Path: f, Err: err}
		}
	}
	return nil
}

// ClippedName returns the output path of Clip for path.
func ClippedName(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_clipped.tif"
}

// Clip keeps the raster extent and writes the fill value to every pixel
// outside aoi. Byte rasters are filled with 255, all others with -9999.
func (p *Processor) Clip(ctx context.Context, path string, aoi geom.MultiPolygon) (string, error) {
	if len(aoi) == 0 {
		return "", domain.ErrInvalidGeometry
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := godal.Open(path)
	if err != nil {
		return "", &domain.RasterError{Operation: "clip", Path: path, Err: err}
	}
	defer func() { _ = src.Close() }()

	bands := src.Bands()
	if len(bands) == 0 {
		return "", &domain.RasterError{Operation: "clip", Path: path, Err: fmt.Errorf("raster has no bands")}
	}
	nodata := fillValue(bands[0].Structure().DataType)

	cutline, err := p.writeCutline(aoi)
	if err != nil {
		return "", &domain.RasterError{Operation: "clip", Path: path, Err: err}
	}
	defer func() { _ = os.Remove(cutline) }()

	out := ClippedName(path)
	_ = os.Remove(out)
	dst, err := src.Warp(out, []string{
		"-of", "GTiff",
		"-cutline", cutline,
		"-dstnodata", strconv.FormatFloat(nodata, 'f', -1, 64),
	})
	if err != nil {
		return "", &domain.RasterError{Operation: "clip", Path: path, Err: err}
	}
	if err := dst.Close(); err != nil {
		return "", &domain.RasterError{Operation: "clip", Path: out, Err: err}
	}
	return out, nil
}

func fillValue(dt godal.DataType) float64 {
	if dt == godal.Byte {
		return ByteNoData
	}
	return FloatNoData
}

// writeCutline writes aoi as a GeoJSON feature collection for gdalwarp.
func (p *Processor) writeCutline(aoi geom.MultiPolygon) (string, error) {
	geometry, err := domain.EncodeGeoJSON(aoi)
	if err != nil {
		return "", fmt.Errorf("encoding cutline: %w", err)
	}
	data, err := json.Marshal(map[string]interface{}{
		"type": "FeatureCollection",
		"features": []interface{}{map[string]interface{}{
			"type":       "Feature",
			"properties": map[string]interface{}{},
			"geometry":   json.RawMessage(geometry),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("encoding cutline: %w", err)
	}

	f, err := os.CreateTemp(p.tempDir, "cutline-*.geojson")
	if err != nil {
		return "", fmt.Errorf("creating cutline: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing cutline: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing cutline: %w", err)
	}
	return f.Name(), nil
}

// Stats returns the minimum and maximum of the first band. Nodata pixels
// and values of 9999 and above are ignored. A minimum of -9999 is reported
// as 0.
func (p *Processor) Stats(path string) (domain.RasterStats, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return domain.RasterStats{}, &domain.RasterError{Operation: "stats", Path: path, Err: err}
	}
	defer func() { _ = ds.Close() }()

	bands := ds.Bands()
	if len(bands) == 0 {
		return domain.RasterStats{}, &domain.RasterError{Operation: "stats", Path: path, Err: fmt.Errorf("raster has no bands")}
	}
	band := bands[0]
	st := band.Structure()
	nodata, hasNoData := band.NoData()

	stats := domain.RasterStats{Min: math.Inf(1), Max: math.Inf(-1), NoData: nodata, HasNoData: hasNoData}
	row := make([]float64, st.SizeX)
	for y := 0; y < st.SizeY; y++ {
		if err := band.Read(0, y, row, st.SizeX, 1); err != nil {
			return domain.RasterStats{}, &domain.RasterError{Operation: "stats", Path: path, Err: err}
		}
		for _, v := range row {
			if math.IsNaN(v) || v >= statsCeiling || (hasNoData && v == nodata) {
				continue
			}
			stats.Min = math.Min(stats.Min, v)
			stats.Max = math.Max(stats.Max, v)
		}
	}

	if math.IsInf(stats.Min, 1) {
		return domain.RasterStats{}, &domain.RasterError{Operation: "stats", Path: path, Err: fmt.Errorf("raster has no valid pixels")}
	}
	if stats.Min == FloatNoData {
		stats.Min = 0
	}
	return stats, nil
}

// ToGeoTIFF converts a raster in any GDAL readable format, GRIB included,
// to GeoTIFF.
func (p *Processor) ToGeoTIFF(ctx context.Context, path, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := godal.Open(path)
	if err != nil {
		return &domain.RasterError{Operation: "convert", Path: path, Err: err}
	}
	defer func() { _ = src.Close() }()

	_ = os.Remove(out)
	dst, err := src.Translate(out, []string{"-of", "GTiff", "-co", "COMPRESS=LZW"})
	if err != nil {
		return &domain.RasterError{Operation: "convert", Path: path, Err: err}
	}
	if err := dst.Close(); err != nil {
		return &domain.RasterError{Operation: "convert", Path: out, Err: err}
	}
	return nil
}
