package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/geofetch/internal/domain"
	"github.com/jobrunner/geofetch/internal/ports/output"
)

// DefaultWorkers is the number of bands fetched at the same time.
const DefaultWorkers = 4

// StatisticsFile is written to the output directory of every population
// request and maps each band to its statistics.
const StatisticsFile = "statistics.json"

// PopulationService fetches population rasters, one task per band.
type PopulationService struct {
	splitter *GeometrySplitter
	raster   output.RasterProcessor
	metrics  output.MetricsCollector
	logger   *slog.Logger
	workers  int
}

// NewPopulationService creates a new population service.
func NewPopulationService(
	splitter *GeometrySplitter,
	raster output.RasterProcessor,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	workers int,
) *PopulationService {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &PopulationService{
		splitter: splitter,
		raster:   raster,
		metrics:  metrics,
		logger:   logger,
		workers:  workers,
	}
}

// FetchBands implements input.PopulationFetcher. Bands are fetched
// concurrently; a failing band is recorded in its result and does not stop
// the others. An error is returned only when no band succeeded or the
// context was canceled.
func (s *PopulationService) FetchBands(ctx context.Context, req domain.PopulationRequest) (map[string]domain.BandResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	bands := req.BandList()
	results := newBandCollector(len(bands))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, band := range bands {
		g.Go(func() error {
			results.add(s.fetchBand(ctx, req, band))
			return nil
		})
	}
	_ = g.Wait()

	out := results.snapshot()

	var errs []error
	for _, band := range bands {
		if r := out[band]; r.Failed() {
			errs = append(errs, fmt.Errorf("%s: %w", band, r.Err))
		}
	}
	s.logger.Info("population fetch completed",
		"bands", len(bands),
		"failed", len(errs),
	)

	if err := writeStatistics(req.OutputDir, out); err != nil {
		if req.StatisticsOnly {
			return out, err
		}
		s.logger.Warn("failed to write statistics", "dir", req.OutputDir, "error", err)
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	if len(errs) == len(bands) {
		return out, fmt.Errorf("all %d bands failed: %w", len(bands), errors.Join(errs...))
	}
	return out, nil
}

// fetchBand downloads, merges, clips and summarizes one band.
func (s *PopulationService) fetchBand(ctx context.Context, req domain.PopulationRequest, band string) domain.BandResult {
	start := time.Now()
	defer func() {
		s.metrics.ObserveFetchDuration("population_band", time.Since(start))
	}()

	result := domain.BandResult{Band: band}
	fail := func(err error) domain.BandResult {
		s.logger.Error("band failed", "band", band, "error", err)
		result.Err = err
		result.Error = err.Error()
		return result
	}

	imgReq := req.ImageRequest(band)
	split, err := s.splitter.FetchWithSplitting(ctx, imgReq, req.AOI, req.InitialSplit())
	if err != nil {
		return fail(err)
	}

	path := split.Files[0]
	if split.MosaicRequired {
		path = imgReq.MosaicFileName()
		if err := s.raster.Mosaic(ctx, split.Files, path); err != nil {
			return fail(err)
		}
	}
	written := []string{path}

	if req.Clip {
		clipped, err := s.raster.Clip(ctx, path, req.AOI)
		if err != nil {
			return fail(err)
		}
		path = clipped
		written = append(written, clipped)
	}
	result.Path = path

	stats, err := s.raster.Stats(path)
	switch {
	case err != nil && req.StatisticsOnly:
		return fail(err)
	case err != nil:
		s.logger.Warn("failed to compute band statistics", "band", band, "path", path, "error", err)
	default:
		result.Stats = &stats
	}

	if req.StatisticsOnly {
		for _, f := range written {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to remove raster", "band", band, "path", f, "error", err)
			}
		}
		result.Path = ""
	}

	s.logger.Info("band completed", "band", band, "path", path, "duration", time.Since(start))
	return result
}

// writeStatistics writes the statistics of every band that has them to
// StatisticsFile in dir. Nothing is written when no band has statistics.
func writeStatistics(dir string, results map[string]domain.BandResult) error {
	stats := make(map[string]domain.RasterStats, len(results))
	for band, r := range results {
		if r.Stats != nil {
			stats[band] = *r.Stats
		}
	}
	if len(stats) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding statistics: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, StatisticsFile), data, 0o644); err != nil {
		return fmt.Errorf("writing statistics: %w", err)
	}
	return nil
}

// bandCollector gathers band results from concurrent tasks.
type bandCollector struct {
	mu      sync.Mutex
	results map[string]domain.BandResult
}

func newBandCollector(n int) *bandCollector {
	return &bandCollector{results: make(map[string]domain.BandResult, n)}
}

func (c *bandCollector) add(r domain.BandResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[r.Band] = r
}

func (c *bandCollector) snapshot() map[string]domain.BandResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.BandResult, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}
