package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/geofetch/internal/domain"
	"github.com/jobrunner/geofetch/internal/ports/input"
	"github.com/jobrunner/geofetch/internal/ports/output"
)

// ErrShuttingDown is returned when a job is submitted during shutdown.
var ErrShuttingDown = fmt.Errorf("job service is shutting down: %w", domain.ErrUnavailable)

// JobService runs fetches in the background and records them in a ledger.
type JobService struct {
	registry   input.BoundaryRegistry
	population input.PopulationFetcher
	glofas     input.GloFASFetcher
	ledger     output.JobLedger
	metrics    output.MetricsCollector
	logger     *slog.Logger
	outputDir  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running int
	closed  bool
}

// NewJobService creates a new job service. Job outputs go to a directory per
// job below outputDir unless the request names one.
func NewJobService(
	registry input.BoundaryRegistry,
	population input.PopulationFetcher,
	glofas input.GloFASFetcher,
	ledger output.JobLedger,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	outputDir string,
) *JobService {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobService{
		registry:   registry,
		population: population,
		glofas:     glofas,
		ledger:     ledger,
		metrics:    metrics,
		logger:     logger,
		outputDir:  outputDir,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SubmitPopulation implements input.JobService.
func (s *JobService) SubmitPopulation(ctx context.Context, boundaryID string, req domain.PopulationRequest) (*domain.Job, error) {
	b, err := s.registry.GetBoundary(ctx, boundaryID)
	if err != nil {
		return nil, err
	}

	job := s.newJob(domain.JobPopulation, boundaryID)
	req.AOI = b.Geometry
	if req.OutputDir == "" {
		req.OutputDir = filepath.Join(s.outputDir, job.ID)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return job, s.start(ctx, job, func(ctx context.Context) ([]string, map[string]string, error) {
		results, err := s.population.FetchBands(ctx, req)
		var outputs []string
		details := make(map[string]string)
		for band, r := range results {
			if r.Failed() {
				details[band] = r.Error
				continue
			}
			if r.Path != "" {
				outputs = append(outputs, r.Path)
			}
		}
		sort.Strings(outputs)
		if stats := filepath.Join(req.OutputDir, StatisticsFile); fileExists(stats) {
			outputs = append(outputs, stats)
		}
		return outputs, details, err
	})
}

// SubmitGloFAS implements input.JobService.
func (s *JobService) SubmitGloFAS(ctx context.Context, boundaryID string, req domain.GloFASRequest) (*domain.Job, error) {
	b, err := s.registry.GetBoundary(ctx, boundaryID)
	if err != nil {
		return nil, err
	}

	job := s.newJob(domain.JobGloFAS, boundaryID)
	if req.OutputDir == "" {
		req.OutputDir = filepath.Join(s.outputDir, job.ID)
	}

	return job, s.start(ctx, job, func(ctx context.Context) ([]string, map[string]string, error) {
		out, err := s.glofas.Fetch(ctx, req, b)
		if err != nil {
			return nil, nil, err
		}
		outputs := []string{out.Path}
		for _, p := range []string{out.GeoTIFF, out.Clipped} {
			if p != "" {
				outputs = append(outputs, p)
			}
		}
		details := map[string]string{
			"combination": out.Combination.String(),
			"fell_back":   strconv.FormatBool(out.FellBack),
		}
		return outputs, details, nil
	})
}

// GetJob implements input.JobService.
func (s *JobService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.ledger.Get(ctx, id)
}

// ListJobs implements input.JobService.
func (s *JobService) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	return s.ledger.List(ctx, limit)
}

// Accepting reports whether new jobs are accepted.
func (s *JobService) Accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Running returns the number of running jobs.
func (s *JobService) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Shutdown stops accepting jobs, cancels running ones and waits for them to
// be recorded.
func (s *JobService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted job finished.
func (s *JobService) Wait() {
	s.wg.Wait()
}

type jobFunc func(ctx context.Context) (outputs []string, details map[string]string, err error)

func (s *JobService) newJob(kind domain.JobKind, boundaryID string) *domain.Job {
	return &domain.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Boundary:  boundaryID,
		Status:    domain.JobPending,
		CreatedAt: time.Now().UTC(),
	}
}

// start records the job and runs fn in the background.
func (s *JobService) start(ctx context.Context, job *domain.Job, fn jobFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.running++
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.ledger.Save(ctx, job); err != nil {
		s.done()
		return fmt.Errorf("recording job: %w", err)
	}

	// The caller keeps the pending record; the goroutine works on its own copy.
	running := *job
	go s.run(&running, fn)
	return nil
}

func (s *JobService) run(job *domain.Job, fn jobFunc) {
	defer s.done()

	logger := s.logger.With("job", job.ID, "kind", job.Kind, "boundary", job.Boundary)
	logger.Info("job started")

	job.Status = domain.JobRunning
	if err := s.ledger.Save(s.ctx, job); err != nil {
		logger.Warn("failed to record job state", "error", err)
	}

	outputs, details, err := fn(s.ctx)
	job.Details = details
	job.Finish(outputs, err, time.Now().UTC())
	s.metrics.IncJobs(string(job.Kind), err == nil)

	if err != nil {
		logger.Error("job failed", "error", err)
	} else {
		logger.Info("job completed", "outputs", len(outputs))
	}

	// Record the final state even when the service is shutting down.
	if err := s.ledger.Save(context.Background(), job); err != nil {
		logger.Error("failed to record job result", "error", err)
	}
}

func (s *JobService) done() {
	s.mu.Lock()
	s.running--
	s.mu.Unlock()
	s.wg.Done()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
