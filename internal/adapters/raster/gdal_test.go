package raster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/ctessum/geom"

	"github.com/jobrunner/geofetch/internal/domain"
	"github.com/jobrunner/geofetch/internal/ports/output"
)

var _ output.RasterProcessor = (*Processor)(nil)

// writeRaster writes a single band GeoTIFF with one unit pixel per value.
// The upper left corner is at (x0, y0).
func writeRaster(t *testing.T, path string, dt godal.DataType, x0, y0 float64, width, height int, values []float64) {
	t.Helper()
	ds, err := godal.Create(godal.GTiff, path, 1, dt, width, height)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer func() { _ = ds.Close() }()

	if err := ds.SetGeoTransform([6]float64{x0, 1, 0, y0, 0, -1}); err != nil {
		t.Fatal(err)
	}
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		t.Fatal(err)
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		t.Fatal(err)
	}
	if err := ds.Bands()[0].Write(0, 0, values, width, height); err != nil {
		t.Fatal(err)
	}
	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}
}

func square(x0, y0, x1, y1 float64) geom.MultiPolygon {
	return geom.MultiPolygon{{{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}}}
}

// grid4 returns 1..16 row by row with 9999 at row 0, column 3.
func grid4() []float64 {
	v := make([]float64, 16)
	for i := range v {
		v[i] = float64(i + 1)
	}
	v[3] = 9999
	return v
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "band.tif")
	writeRaster(t, path, godal.Float64, 0, 4, 4, 4, grid4())

	stats, err := NewProcessor(dir).Stats(path)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Min != 1 || stats.Max != 16 {
		t.Errorf("stats = %+v, want min 1 max 16", stats)
	}
}

func TestStats_FillValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "band.tif")
	writeRaster(t, path, godal.Float64, 0, 2, 2, 2, []float64{-9999, 3, 12000, 7})

	stats, err := NewProcessor(dir).Stats(path)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	// -9999 without a nodata tag is reported as 0.
	if stats.Min != 0 || stats.Max != 7 {
		t.Errorf("stats = %+v, want min 0 max 7", stats)
	}
}

func TestStats_Errors(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir)

	if _, err := p.Stats(filepath.Join(dir, "missing.tif")); err == nil {
		t.Error("Stats() should fail for a missing file")
	}

	path := filepath.Join(dir, "empty.tif")
	writeRaster(t, path, godal.Float64, 0, 1, 1, 1, []float64{9999})
	_, err := p.Stats(path)
	var re *domain.RasterError
	if !errors.As(err, &re) || re.Operation != "stats" {
		t.Errorf("Stats() error = %v, want RasterError", err)
	}
}

func TestClip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mosaic_M_0.tif")
	writeRaster(t, path, godal.Float64, 0, 4, 4, 4, grid4())
	p := NewProcessor(dir)

	out, err := p.Clip(context.Background(), path, square(0, 0, 2, 2))
	if err != nil {
		t.Fatalf("Clip() error = %v", err)
	}
	if out != filepath.Join(dir, "mosaic_M_0_clipped.tif") {
		t.Errorf("out = %s", out)
	}

	stats, err := p.Stats(out)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if !stats.HasNoData || stats.NoData != FloatNoData {
		t.Errorf("nodata = %v (%v), want %v", stats.NoData, stats.HasNoData, FloatNoData)
	}
	// Lower left quarter keeps 9, 10, 13 and 14.
	if stats.Min != 9 || stats.Max != 14 {
		t.Errorf("stats = %+v, want min 9 max 14", stats)
	}

	if _, err := os.Stat(path); err != nil {
		t.Error("Clip() must keep the input raster")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "cutline-*"))
	if len(matches) != 0 {
		t.Errorf("cutline files left: %v", matches)
	}
}

func TestClip_ByteFill(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mask.tif")
	writeRaster(t, path, godal.Byte, 0, 2, 2, 2, []float64{1, 2, 3, 4})

	out, err := NewProcessor(dir).Clip(context.Background(), path, square(0, 0, 1, 1))
	if err != nil {
		t.Fatalf("Clip() error = %v", err)
	}

	ds, err := godal.Open(out)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = ds.Close() }()

	nodata, ok := ds.Bands()[0].NoData()
	if !ok || nodata != ByteNoData {
		t.Errorf("nodata = %v (%v), want %d", nodata, ok, ByteNoData)
	}
}

func TestClip_Invalid(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir)

	if _, err := p.Clip(context.Background(), filepath.Join(dir, "a.tif"), nil); !errors.Is(err, domain.ErrInvalidGeometry) {
		t.Errorf("Clip(nil aoi) error = %v, want ErrInvalidGeometry", err)
	}
	if _, err := p.Clip(context.Background(), filepath.Join(dir, "missing.tif"), square(0, 0, 1, 1)); err == nil {
		t.Error("Clip() should fail for a missing file")
	}
}

func TestMosaic(t *testing.T) {
	dir := t.TempDir()
	left := filepath.Join(dir, "M_0_2020_4_0.tif")
	right := filepath.Join(dir, "M_0_2020_4_1.tif")
	writeRaster(t, left, godal.Float64, 0, 2, 2, 2, []float64{1, 2, 3, 4})
	writeRaster(t, right, godal.Float64, 2, 2, 2, 2, []float64{5, 6, 7, 8})

	p := NewProcessor(dir)
	out := filepath.Join(dir, "mosaic_M_0.tif")
	if err := p.Mosaic(context.Background(), []string{left, right}, out); err != nil {
		t.Fatalf("Mosaic() error = %v", err)
	}

	for _, f := range []string{left, right} {
		if _, err := os.Stat(f); !os.IsNotExist(err) {
			t.Errorf("input %s was not removed", f)
		}
	}

	ds, err := godal.Open(out)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	st := ds.Structure()
	_ = ds.Close()
	if st.SizeX != 4 || st.SizeY != 2 {
		t.Errorf("size = %dx%d, want 4x2", st.SizeX, st.SizeY)
	}

	stats, err := p.Stats(out)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Min != 1 || stats.Max != 8 {
		t.Errorf("stats = %+v, want min 1 max 8", stats)
	}
}

func TestMosaic_Errors(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir)

	if err := p.Mosaic(context.Background(), nil, filepath.Join(dir, "out.tif")); !errors.Is(err, domain.ErrEmptyMosaicSet) {
		t.Errorf("Mosaic(nil) error = %v, want ErrEmptyMosaicSet", err)
	}

	kept := filepath.Join(dir, "kept.tif")
	writeRaster(t, kept, godal.Float64, 0, 1, 1, 1, []float64{1})
	err := p.Mosaic(context.Background(), []string{kept, filepath.Join(dir, "missing.tif")}, filepath.Join(dir, "out.tif"))
	if err == nil {
		t.Fatal("Mosaic() should fail for a missing input")
	}
	if _, err := os.Stat(kept); err != nil {
		t.Error("failed mosaic removed an input")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Mosaic(ctx, []string{kept}, filepath.Join(dir, "out.tif")); !errors.Is(err, context.Canceled) {
		t.Errorf("Mosaic() error = %v, want context.Canceled", err)
	}
}

func TestToGeoTIFF(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "forecast.tif")
	writeRaster(t, src, godal.Float64, 0, 2, 2, 2, []float64{1, 2, 3, 4})

	p := NewProcessor(dir)
	out := filepath.Join(dir, "forecast_converted.tif")
	if err := p.ToGeoTIFF(context.Background(), src, out); err != nil {
		t.Fatalf("ToGeoTIFF() error = %v", err)
	}
	stats, err := p.Stats(out)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Min != 1 || stats.Max != 4 {
		t.Errorf("stats = %+v", stats)
	}

	if err := p.ToGeoTIFF(context.Background(), filepath.Join(dir, "missing.grib"), out); err == nil {
		t.Error("ToGeoTIFF() should fail for a missing file")
	}
}
