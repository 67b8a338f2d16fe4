package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/geom"

	"github.com/jobrunner/geofetch/internal/application"
	"github.com/jobrunner/geofetch/internal/config"
	"github.com/jobrunner/geofetch/internal/domain"
	"github.com/jobrunner/geofetch/internal/ports/input"
)

// mockJobs implements input.JobService for testing.
type mockJobs struct {
	population *domain.PopulationRequest
	glofas     *domain.GloFASRequest
	boundary   string
	limit      int
	jobs       map[string]domain.Job
	submitErr  error
}

func (m *mockJobs) SubmitPopulation(_ context.Context, boundaryID string, req domain.PopulationRequest) (*domain.Job, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.boundary, m.population = boundaryID, &req
	return &domain.Job{ID: "job-1", Kind: domain.JobPopulation, Boundary: boundaryID, Status: domain.JobPending}, nil
}

func (m *mockJobs) SubmitGloFAS(_ context.Context, boundaryID string, req domain.GloFASRequest) (*domain.Job, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.boundary, m.glofas = boundaryID, &req
	return &domain.Job{ID: "job-2", Kind: domain.JobGloFAS, Boundary: boundaryID, Status: domain.JobPending}, nil
}

func (m *mockJobs) GetJob(_ context.Context, id string) (*domain.Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (m *mockJobs) ListJobs(_ context.Context, limit int) ([]domain.Job, error) {
	m.limit = limit
	var jobs []domain.Job
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// mockBoundaries implements input.BoundaryRegistry for testing.
type mockBoundaries struct {
	boundaries []domain.Boundary
}

func (m *mockBoundaries) ListBoundaries(_ context.Context) ([]domain.Boundary, error) {
	return m.boundaries, nil
}

func (m *mockBoundaries) GetBoundary(_ context.Context, id string) (*domain.Boundary, error) {
	for i := range m.boundaries {
		if m.boundaries[i].ID == id {
			return &m.boundaries[i], nil
		}
	}
	return nil, domain.ErrBoundaryNotFound
}

// mockHealth implements input.HealthChecker for testing.
type mockHealth struct {
	healthy bool
	ready   bool
}

func (m *mockHealth) IsHealthy(_ context.Context) bool { return m.healthy }
func (m *mockHealth) IsReady(_ context.Context) bool   { return m.ready }

func (m *mockHealth) GetHealthDetails(_ context.Context) input.HealthDetails {
	return input.HealthDetails{
		Healthy:          m.healthy,
		Ready:            m.ready,
		BoundariesLoaded: 1,
		Components:       map[string]string{"boundaries": "ok"},
	}
}

// mockSyncer implements Syncer for testing.
type mockSyncer struct {
	err error
}

func (m *mockSyncer) TriggerSync(_ context.Context) (application.SyncResult, error) {
	if m.err != nil {
		return application.SyncResult{}, m.err
	}
	return application.SyncResult{BoundariesAdded: 2, BoundariesTotal: 3, SyncedAt: time.Now()}, nil
}

func testBoundary() domain.Boundary {
	return domain.Boundary{
		ID:       "districts.geojson#0",
		Name:     "Kampala",
		Source:   "districts.geojson",
		Geometry: geom.MultiPolygon{{{{X: 32, Y: 0}, {X: 33, Y: 0}, {X: 33, Y: 1}, {X: 32, Y: 1}, {X: 32, Y: 0}}}},
		Props:    map[string]string{"name": "Kampala"},
	}
}

type testDeps struct {
	jobs   *mockJobs
	health *mockHealth
	syncer *mockSyncer
}

func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	deps := &testDeps{
		jobs:   &mockJobs{jobs: map[string]domain.Job{"job-9": {ID: "job-9", Status: domain.JobSucceeded}}},
		health: &mockHealth{healthy: true, ready: true},
		syncer: &mockSyncer{},
	}
	s := NewServer(
		config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		deps.jobs,
		&mockBoundaries{boundaries: []domain.Boundary{testBoundary()}},
		deps.health,
		deps.syncer,
		RequestDefaults{Scale: 100, Clip: true, InitialSplit: 4},
		logger,
	)
	return s, deps
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHandleSubmitPopulation(t *testing.T) {
	s, deps := newTestServer(t)

	rr := serve(s, http.MethodPost, "/api/v1/jobs/population", `{"boundary":"districts.geojson#0","year":2020,"bands":["M_0"]}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if got := decode(t, rr)["id"]; got != "job-1" {
		t.Errorf("id = %v", got)
	}

	req := deps.jobs.population
	if deps.jobs.boundary != "districts.geojson#0" {
		t.Errorf("boundary = %s", deps.jobs.boundary)
	}
	if req.Image != domain.AgeSexCollection || req.Scale != 100 || !req.Clip || req.Split != 4 || req.StatisticsOnly {
		t.Errorf("defaults not applied: %+v", req)
	}
	if len(req.Bands) != 1 || req.Bands[0] != "M_0" || req.Year != 2020 {
		t.Errorf("request = %+v", req)
	}

	rr = serve(s, http.MethodPost, "/api/v1/jobs/population", `{"boundary":"districts.geojson#0","year":2020,"scale":1000,"clip":false,"split":16}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
	if req := deps.jobs.population; req.Scale != 1000 || req.Clip || req.Split != 16 {
		t.Errorf("overrides not applied: %+v", req)
	}

	rr = serve(s, http.MethodPost, "/api/v1/jobs/population", `{"boundary":"districts.geojson#0","year":2020,"statistics_only":true}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
	if !deps.jobs.population.StatisticsOnly {
		t.Error("statistics_only not applied")
	}
}

func TestHandleSubmitGloFAS(t *testing.T) {
	s, deps := newTestServer(t)

	body := `{
		"boundary": "districts.geojson#0",
		"system_version": "operational",
		"hydrological_model": "lisflood",
		"product_type": "control_forecast",
		"leadtime_hour": 24,
		"year": 2024,
		"month": "05",
		"day": 1,
		"output_dir": "/etc"
	}`
	rr := serve(s, http.MethodPost, "/api/v1/jobs/glofas", body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	req := deps.jobs.glofas
	if req.Product != domain.GloFASForecast {
		t.Errorf("product = %s", req.Product)
	}
	if req.SystemVersion != "operational" || req.ProductType != "control_forecast" || req.LeadtimeHour != 24 {
		t.Errorf("request = %+v", req)
	}
	if req.OutputDir != "" {
		t.Errorf("output_dir = %q, must not be settable by clients", req.OutputDir)
	}
}

func TestHandleSubmit_Errors(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		body      string
		submitErr error
		want      int
	}{
		{"malformed", "/api/v1/jobs/population", `{"boundary":`, nil, http.StatusBadRequest},
		{"unknown field", "/api/v1/jobs/population", `{"boundary":"b","colour":"red"}`, nil, http.StatusBadRequest},
		{"missing boundary", "/api/v1/jobs/glofas", `{"year":2024}`, nil, http.StatusBadRequest},
		{
			"validation", "/api/v1/jobs/population", `{"boundary":"b"}`,
			&domain.ValidationError{Field: "year", Message: "year is required"}, http.StatusBadRequest,
		},
		{"unknown boundary", "/api/v1/jobs/glofas", `{"boundary":"b"}`, domain.ErrBoundaryNotFound, http.StatusNotFound},
		{"unknown product", "/api/v1/jobs/glofas", `{"boundary":"b","product":"x"}`, fmt.Errorf("%w: x", domain.ErrUnknownProduct), http.StatusNotFound},
		{"shutting down", "/api/v1/jobs/population", `{"boundary":"b"}`, application.ErrShuttingDown, http.StatusServiceUnavailable},
		{"internal", "/api/v1/jobs/population", `{"boundary":"b"}`, errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, deps := newTestServer(t)
			deps.jobs.submitErr = tt.submitErr

			rr := serve(s, http.MethodPost, tt.target, tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
			if decode(t, rr)["message"] == "" {
				t.Error("error response should carry a message")
			}
		})
	}
}

func TestHandleJobs(t *testing.T) {
	s, deps := newTestServer(t)

	rr := serve(s, http.MethodGet, "/api/v1/jobs/job-9", "")
	if rr.Code != http.StatusOK || decode(t, rr)["status"] != string(domain.JobSucceeded) {
		t.Errorf("GET job: status %d body %s", rr.Code, rr.Body.String())
	}

	if rr := serve(s, http.MethodGet, "/api/v1/jobs/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("GET missing job: status %d", rr.Code)
	}

	rr = serve(s, http.MethodGet, "/api/v1/jobs", "")
	if rr.Code != http.StatusOK || decode(t, rr)["count"] != float64(1) {
		t.Errorf("list: status %d body %s", rr.Code, rr.Body.String())
	}
	if deps.jobs.limit != defaultJobLimit {
		t.Errorf("limit = %d, want %d", deps.jobs.limit, defaultJobLimit)
	}

	if rr := serve(s, http.MethodGet, "/api/v1/jobs?limit=5", ""); rr.Code != http.StatusOK || deps.jobs.limit != 5 {
		t.Errorf("limit = %d (status %d), want 5", deps.jobs.limit, rr.Code)
	}
	if rr := serve(s, http.MethodGet, "/api/v1/jobs?limit=zero", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid limit: status %d", rr.Code)
	}
}

func TestHandleBoundaries(t *testing.T) {
	s, _ := newTestServer(t)

	rr := serve(s, http.MethodGet, "/api/v1/boundaries", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decode(t, rr)
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body["count"])
	}
	first := body["boundaries"].([]interface{})[0].(map[string]interface{})
	extent := first["extent"].(map[string]interface{})
	if first["name"] != "Kampala" || extent["min_x"] != float64(32) || extent["max_y"] != float64(1) {
		t.Errorf("boundary = %v", first)
	}
	if _, ok := first["geometry"]; ok {
		t.Error("list should not include geometry")
	}

	rr = serve(s, http.MethodGet, "/api/v1/boundaries/districts.geojson%230?geometry=true", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	geometry, ok := decode(t, rr)["geometry"].(map[string]interface{})
	if !ok || geometry["type"] != "MultiPolygon" {
		t.Errorf("geometry = %v", geometry)
	}

	if rr := serve(s, http.MethodGet, "/api/v1/boundaries/unknown", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown boundary: status %d", rr.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name    string
		healthy bool
		ready   bool
		path    string
		want    int
	}{
		{"health ok", true, true, "/health", http.StatusOK},
		{"health unhealthy", false, false, "/health", http.StatusServiceUnavailable},
		{"live", true, false, "/health/live", http.StatusOK},
		{"not live", false, false, "/health/live", http.StatusServiceUnavailable},
		{"ready", true, true, "/health/ready", http.StatusOK},
		{"not ready", true, false, "/health/ready", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, deps := newTestServer(t)
			deps.health.healthy, deps.health.ready = tt.healthy, tt.ready

			rr := serve(s, http.MethodGet, tt.path, "")
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.path == "/health" && decode(t, rr)["boundaries_loaded"] != float64(1) {
				t.Errorf("body = %s", rr.Body.String())
			}
		})
	}
}

func TestHandleSync(t *testing.T) {
	s, deps := newTestServer(t)

	rr := serve(s, http.MethodPost, "/api/v1/sync", "")
	if rr.Code != http.StatusOK || decode(t, rr)["boundaries_added"] != float64(2) {
		t.Errorf("sync: status %d body %s", rr.Code, rr.Body.String())
	}

	deps.syncer.err = application.ErrSyncTooFrequent
	rr = serve(s, http.MethodPost, "/api/v1/sync", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}

	deps.syncer.err = errors.New("bucket gone")
	if rr := serve(s, http.MethodPost, "/api/v1/sync", ""); rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestSyncRouteDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s := NewServer(config.ServerConfig{}, &mockJobs{}, &mockBoundaries{}, &mockHealth{}, nil, RequestDefaults{}, logger)

	if rr := serve(s, http.MethodPost, "/api/v1/sync", ""); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without a syncer", rr.Code)
	}
}

func TestEnableMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	var seen []string
	s.EnableMetrics("/metrics",
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) }),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = append(seen, r.URL.Path)
				next.ServeHTTP(w, r)
			})
		},
	)

	if rr := serve(s, http.MethodGet, "/metrics", ""); rr.Body.String() != "metrics" {
		t.Errorf("body = %q", rr.Body.String())
	}
	serve(s, http.MethodGet, "/api/v1/jobs", "")
	if len(seen) != 2 {
		t.Errorf("middleware saw %v", seen)
	}
}

func TestPanicRecovery(t *testing.T) {
	s, _ := newTestServer(t)
	s.Router().HandleFunc("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	if rr := serve(s, http.MethodGet, "/panic", ""); rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}
