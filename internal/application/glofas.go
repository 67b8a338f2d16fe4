package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/geom"

	"github.com/jobrunner/geofetch/internal/domain"
	"github.com/jobrunner/geofetch/internal/ports/input"
	"github.com/jobrunner/geofetch/internal/ports/output"
)

// Sidecar file names written next to a GloFAS download.
const (
	ParametersFile = "parameters.json"
	GeometryFile   = "geometry.geojson"
)

// GloFASOptions controls post-processing of GloFAS downloads.
type GloFASOptions struct {
	ConvertToGeoTIFF bool // Convert the GRIB file to GeoTIFF
	Clip             bool // Clip the GeoTIFF to the boundary, implies ConvertToGeoTIFF
}

// GloFASService downloads GloFAS discharge forecasts from the climate data
// store and falls back to other dataset variants when the requested one has
// no data.
type GloFASService struct {
	store   output.ClimateDataStore
	raster  output.RasterProcessor
	table   domain.OptionTable
	search  *ParameterFallbackSearch
	opts    GloFASOptions
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewGloFASService creates a new GloFAS service.
func NewGloFASService(
	store output.ClimateDataStore,
	raster output.RasterProcessor,
	table domain.OptionTable,
	opts GloFASOptions,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *GloFASService {
	s := &GloFASService{
		store:   store,
		raster:  raster,
		table:   table,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
	}
	s.search = NewParameterFallbackSearch(s.attempt, metrics, logger)
	return s
}

// Options returns the option table used by the service.
func (s *GloFASService) Options() domain.OptionTable {
	return s.table
}

// Fetch implements input.GloFASFetcher. When aoi is set and the request has
// no area, the boundary extent is used; the boundary name becomes the label.
func (s *GloFASService) Fetch(ctx context.Context, req domain.GloFASRequest, aoi *domain.Boundary) (*input.GloFASOutput, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveFetchDuration("glofas", time.Since(start))
	}()

	options, err := s.table.Product(req.Product)
	if err != nil {
		return nil, err
	}
	if aoi != nil {
		if req.Area == (domain.Area{}) {
			req.Area = aoi.Area()
		}
		if req.Label == "" {
			req.Label = aoi.Name
		}
	}
	if err := req.Validate(options); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	s.logger.Info("requesting GloFAS data",
		"product", req.Product,
		"combination", req.Combination.String(),
		"label", req.Label,
		"index", req.Index,
	)

	combination := req.Combination
	path, err := s.attempt(ctx, req)
	if errors.Is(err, domain.ErrNoDataForParameters) {
		s.logger.Info("no data for requested combination", "combination", req.Combination.String())
		result := s.search.Resolve(ctx, req, s.table)
		if !result.Ok() {
			return nil, result.Error()
		}
		path = result.Path
		combination = result.Combination
	} else if err != nil {
		return nil, err
	}

	out := &input.GloFASOutput{
		Path:        path,
		Combination: combination,
		FellBack:    combination != req.Combination,
	}

	if err := s.writeSidecars(filepath.Dir(path), req.WithCombination(combination), options, aoi); err != nil {
		return nil, err
	}

	if !s.opts.ConvertToGeoTIFF && !s.opts.Clip {
		return out, nil
	}

	tif := strings.TrimSuffix(path, filepath.Ext(path)) + ".tif"
	if err := s.raster.ToGeoTIFF(ctx, path, tif); err != nil {
		return nil, err
	}
	out.GeoTIFF = tif

	if s.opts.Clip && aoi != nil {
		clipped, err := s.raster.Clip(ctx, tif, aoi.Geometry)
		if err != nil {
			return nil, err
		}
		out.Clipped = clipped
	}

	return out, nil
}

// attempt performs a single retrieval. A failed attempt leaves no file.
func (s *GloFASService) attempt(ctx context.Context, req domain.GloFASRequest) (string, error) {
	options, err := s.table.Product(req.Product)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(req.OutputDir, req.FileName())
	if err := s.store.Retrieve(ctx, req, options, dest); err != nil {
		if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove partial download", "path", dest, "error", rmErr)
		}
		return "", err
	}
	return dest, nil
}

// sidecarParameters is the content of the parameters sidecar.
type sidecarParameters struct {
	Product           string      `json:"product"`
	Variable          string      `json:"variable"`
	Format            string      `json:"format"`
	SystemVersion     string      `json:"system_version"`
	HydrologicalModel string      `json:"hydrological_model"`
	ProductType       string      `json:"product_type"`
	LeadtimeHour      int         `json:"leadtime_hour"`
	Year              int         `json:"year"`
	Month             string      `json:"month"`
	Day               int         `json:"day"`
	Area              domain.Area `json:"area"`
	Label             string      `json:"label"`
	Index             int         `json:"index"`
}

// writeSidecars records the request and the area of interest in dir.
func (s *GloFASService) writeSidecars(dir string, req domain.GloFASRequest, options domain.ProductOptions, aoi *domain.Boundary) error {
	params := sidecarParameters{
		Product:           req.Product,
		Variable:          options.Variable,
		Format:            options.Format,
		SystemVersion:     req.SystemVersion,
		HydrologicalModel: req.HydrologicalModel,
		ProductType:       req.ProductType,
		LeadtimeHour:      req.LeadtimeHour,
		Year:              req.Year,
		Month:             req.Month,
		Day:               req.Day,
		Area:              req.Area,
		Label:             req.Label,
		Index:             req.Index,
	}
	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ParametersFile), data, 0o644); err != nil {
		return fmt.Errorf("writing parameters: %w", err)
	}

	shape := geom.MultiPolygon{req.Area.Polygon()}
	if aoi != nil {
		shape = aoi.Geometry
	}
	geojson, err := domain.EncodeGeoJSON(shape)
	if err != nil {
		return fmt.Errorf("encoding geometry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, GeometryFile), geojson, 0o644); err != nil {
		return fmt.Errorf("writing geometry: %w", err)
	}
	return nil
}
