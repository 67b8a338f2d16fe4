package application

import (
	"context"

	"github.com/jobrunner/geofetch/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	registry *BoundaryRegistry
	jobs     *JobService
}

// NewHealthService creates a new health service.
func NewHealthService(registry *BoundaryRegistry, jobs *JobService) *HealthService {
	return &HealthService{
		registry: registry,
		jobs:     jobs,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true once the job service accepts work.
func (s *HealthService) IsReady(_ context.Context) bool {
	return s.jobs != nil && s.jobs.Accepting()
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := map[string]string{
		"boundaries": "ok",
		"jobs":       "ok",
	}
	running := 0
	if s.jobs == nil || !s.jobs.Accepting() {
		components["jobs"] = "stopped"
	} else {
		running = s.jobs.Running()
	}

	return input.HealthDetails{
		Healthy:          s.IsHealthy(ctx),
		Ready:            s.IsReady(ctx),
		BoundariesLoaded: s.registry.BoundaryCount(),
		JobsRunning:      running,
		Components:       components,
	}
}
