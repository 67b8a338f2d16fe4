package output

import (
	"context"

	"github.com/jobrunner/geofetch/internal/domain"
)

// BoundaryLoader reads boundaries from a GeoJSON or shapefile.
type BoundaryLoader interface {
	// Load returns the polygonal features of the file at path.
	Load(ctx context.Context, path string) ([]domain.Boundary, error)

	// Supports reports whether the loader can read the file.
	Supports(path string) bool
}

// JobLedger persists job records.
type JobLedger interface {
	Save(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, limit int) ([]domain.Job, error)
	Close() error
}
