// Package application contains the application services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ctessum/geom"

	"github.com/jobrunner/geofetch/internal/domain"
	"github.com/jobrunner/geofetch/internal/ports/output"
)

// DefaultMaxCells is the largest split count tried before giving up.
const DefaultMaxCells = 256

// GeometrySplitter fetches rasters for areas of interest that may exceed the
// export limit of the image service. When a cell is rejected as too large,
// every file of the current split level is discarded and the area is split
// into more cells.
type GeometrySplitter struct {
	fetcher    output.ImageFetcher
	downloader output.Downloader
	metrics    output.MetricsCollector
	logger     *slog.Logger
	maxCells   int
}

// NewGeometrySplitter creates a new splitter. A maxCells below 1 selects
// DefaultMaxCells.
func NewGeometrySplitter(
	fetcher output.ImageFetcher,
	downloader output.Downloader,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	maxCells int,
) *GeometrySplitter {
	if maxCells < 1 {
		maxCells = DefaultMaxCells
	}
	return &GeometrySplitter{
		fetcher:    fetcher,
		downloader: downloader,
		metrics:    metrics,
		logger:     logger,
		maxCells:   maxCells,
	}
}

// FetchWithSplitting downloads req over aoi, starting with splitCount cells.
//
// On success the result either holds a single file that needs no mosaic
// (split count 1 and one file) or the files of every non-empty cell, which
// must be merged by the caller. ErrTooLarge from the export request moves to
// the next split count; any other error, including every download failure,
// ends the fetch. Files of failed levels
// are removed.
func (s *GeometrySplitter) FetchWithSplitting(
	ctx context.Context,
	req domain.ImageRequest,
	aoi geom.MultiPolygon,
	splitCount int,
) (domain.SplitResult, error) {
	if err := req.Validate(); err != nil {
		return domain.SplitResult{}, err
	}
	if len(aoi) == 0 {
		return domain.SplitResult{}, domain.ErrInvalidGeometry
	}
	if splitCount == 0 {
		splitCount = 1
	}
	if !domain.IsPerfectSquare(splitCount) {
		return domain.SplitResult{}, &domain.ValidationError{
			Field:      "split_count",
			Value:      splitCount,
			Constraint: "perfect square >= 1",
			Message:    "split count must be a perfect square",
		}
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveFetchDuration("split", time.Since(start))
	}()

	var attempted []int
	for k := splitCount; k <= s.maxCells; k = domain.NextSplitCount(k) {
		attempted = append(attempted, k)

		files, err := s.fetchLevel(ctx, req, aoi, k)
		if err == nil {
			s.metrics.IncSplitLevel(k, "success")
			s.metrics.IncCellsFetched(req.Band, len(files))
			s.logger.Info("fetch completed",
				"band", req.Band,
				"split_count", k,
				"files", len(files),
			)
			return domain.SplitResult{
				Files:          files,
				MosaicRequired: !(k == 1 && len(files) == 1),
				SplitCount:     k,
			}, nil
		}

		if !resplit(err) {
			s.metrics.IncSplitLevel(k, "error")
			return domain.SplitResult{}, err
		}

		s.metrics.IncSplitLevel(k, "too_large")
		s.logger.Info("request too large, splitting further",
			"band", req.Band,
			"split_count", k,
			"next_split_count", domain.NextSplitCount(k),
		)
	}

	s.logger.Error("split limit reached", "band", req.Band, "attempted", attempted, "max_cells", s.maxCells)
	return domain.SplitResult{}, &domain.SplitExhaustedError{Attempted: attempted, MaxCells: s.maxCells}
}

// fetchLevel downloads every non-empty cell of a splitCount grid. Either all
// files are returned or none are left on disk.
func (s *GeometrySplitter) fetchLevel(
	ctx context.Context,
	req domain.ImageRequest,
	aoi geom.MultiPolygon,
	splitCount int,
) ([]string, error) {
	cells, err := domain.Grid(aoi, splitCount)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(cells))
	for _, cell := range cells {
		if cell.Empty() {
			s.logger.Debug("skipping empty cell",
				"band", req.Band,
				"split_count", splitCount,
				"row", cell.Row,
				"col", cell.Col,
			)
			continue
		}
		if err := ctx.Err(); err != nil {
			s.discard(files)
			return nil, err
		}

		dest := req.CellFileName(splitCount, cell.Index)
		if err := s.fetchCell(ctx, req, cell, dest); err != nil {
			s.discard(append(files, dest))
			return nil, err
		}
		files = append(files, dest)

		s.logger.Debug("cell downloaded",
			"band", req.Band,
			"split_count", splitCount,
			"index", cell.Index,
			"area", cell.Area,
			"progress", fmt.Sprintf("%d/%d", len(files), len(cells)),
		)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no cell intersects the area of interest: %w", domain.ErrInvalidGeometry)
	}
	return files, nil
}

// fetchCell requests the export URL of one cell and downloads it to dest.
func (s *GeometrySplitter) fetchCell(ctx context.Context, req domain.ImageRequest, cell domain.Cell, dest string) error {
	url, err := s.fetcher.DownloadURL(ctx, req, cell.Shape)
	if err != nil {
		return &domain.FetchError{Op: "url", Path: dest, Err: err}
	}

	if err := s.downloader.Download(ctx, url, dest); err != nil {
		return &domain.FetchError{Op: "download", Path: dest, Err: err}
	}
	return nil
}

// resplit reports whether err asks for a finer grid. Download failures are
// always fatal, whatever the response said.
func resplit(err error) bool {
	var fetchErr *domain.FetchError
	if errors.As(err, &fetchErr) && fetchErr.Op == "download" {
		return false
	}
	return errors.Is(err, domain.ErrTooLarge)
}

// discard removes partial files of an abandoned attempt.
func (s *GeometrySplitter) discard(files []string) {
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove partial file", "path", f, "error", err)
		}
	}
}
