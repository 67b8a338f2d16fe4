// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/geofetch/internal/domain"
)

// PopulationFetcher defines the primary port for population rasters.
type PopulationFetcher interface {
	// FetchBands fetches every requested band and returns the result per band.
	FetchBands(ctx context.Context, req domain.PopulationRequest) (map[string]domain.BandResult, error)
}

// GloFASFetcher defines the primary port for GloFAS discharge forecasts.
type GloFASFetcher interface {
	// Fetch downloads the request, falling back to other dataset variants
	// when the requested one has no data.
	Fetch(ctx context.Context, req domain.GloFASRequest, aoi *domain.Boundary) (*GloFASOutput, error)
}

// GloFASOutput lists the files written for one GloFAS request.
type GloFASOutput struct {
	Path        string             // Downloaded GRIB file
	GeoTIFF     string             // Converted raster, empty if not requested
	Clipped     string             // Clipped raster, empty if not requested
	Combination domain.Combination // Variant that returned data
	FellBack    bool               // Combination differs from the requested one
}

// BoundaryRegistry defines the primary port for boundary management.
type BoundaryRegistry interface {
	// ListBoundaries returns all loaded boundaries.
	ListBoundaries(ctx context.Context) ([]domain.Boundary, error)

	// GetBoundary returns a boundary by ID.
	GetBoundary(ctx context.Context, id string) (*domain.Boundary, error)
}

// JobService defines the primary port for asynchronous fetch jobs.
type JobService interface {
	SubmitPopulation(ctx context.Context, boundaryID string, req domain.PopulationRequest) (*domain.Job, error)
	SubmitGloFAS(ctx context.Context, boundaryID string, req domain.GloFASRequest) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy          bool              // Overall health status
	Ready            bool              // Ready to accept requests
	BoundariesLoaded int               // Number of loaded boundaries
	JobsRunning      int               // Number of running jobs
	Components       map[string]string // Component statuses
}
