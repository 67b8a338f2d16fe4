package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/geofetch/internal/application"
	"github.com/jobrunner/geofetch/internal/domain"
)

const (
	defaultJobLimit = 50
	maxBodyBytes    = 1 << 20
)

// PopulationJobRequest is the body of a population job submission.
type PopulationJobRequest struct {
	Boundary string   `json:"boundary"`
	Image    string   `json:"image,omitempty"` // Defaults to the age and sex collection
	Bands    []string `json:"bands,omitempty"` // Defaults to every age and sex band
	Year     int      `json:"year"`
	Scale    float64  `json:"scale,omitempty"`
	Clip     *bool    `json:"clip,omitempty"`
	Split    int      `json:"split,omitempty"` // Initial split count

	StatisticsOnly bool `json:"statistics_only,omitempty"`
}

// GloFASJobRequest is the body of a GloFAS job submission. The area
// defaults to the boundary extent.
type GloFASJobRequest struct {
	Boundary string `json:"boundary"`
	domain.GloFASRequest
}

// handleSubmitPopulation starts a population job.
func (s *Server) handleSubmitPopulation(w http.ResponseWriter, r *http.Request) {
	var body PopulationJobRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Boundary == "" {
		s.writeError(w, http.StatusBadRequest, "boundary is required")
		return
	}

	req := domain.PopulationRequest{
		Image: body.Image,
		Bands: body.Bands,
		Year:  body.Year,
		Scale: body.Scale,
		Clip:  s.defaults.Clip,
		Split: body.Split,

		StatisticsOnly: body.StatisticsOnly,
	}
	if req.Image == "" {
		req.Image = domain.AgeSexCollection
	}
	if req.Scale == 0 {
		req.Scale = s.defaults.Scale
	}
	if req.Split == 0 {
		req.Split = s.defaults.InitialSplit
	}
	if body.Clip != nil {
		req.Clip = *body.Clip
	}

	job, err := s.jobs.SubmitPopulation(r.Context(), body.Boundary, req)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

// handleSubmitGloFAS starts a GloFAS job.
func (s *Server) handleSubmitGloFAS(w http.ResponseWriter, r *http.Request) {
	var body GloFASJobRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Boundary == "" {
		s.writeError(w, http.StatusBadRequest, "boundary is required")
		return
	}

	req := body.GloFASRequest
	if req.Product == "" {
		req.Product = domain.GloFASForecast
	}
	// Outputs always go to the job directory.
	req.OutputDir = ""

	job, err := s.jobs.SubmitGloFAS(r.Context(), body.Boundary, req)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

// handleGetJob returns a single job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleListJobs returns the most recent jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = n
	}

	jobs, err := s.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleListBoundaries returns all loaded boundaries.
func (s *Server) handleListBoundaries(w http.ResponseWriter, r *http.Request) {
	boundaries, err := s.boundaries.ListBoundaries(r.Context())
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	response := make([]map[string]interface{}, len(boundaries))
	for i := range boundaries {
		response[i] = formatBoundary(&boundaries[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"boundaries": response,
		"count":      len(boundaries),
	})
}

// handleGetBoundary returns a boundary. The geometry is included as GeoJSON
// when requested with geometry=true.
func (s *Server) handleGetBoundary(w http.ResponseWriter, r *http.Request) {
	b, err := s.boundaries.GetBoundary(r.Context(), mux.Vars(r)["boundaryId"])
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	response := formatBoundary(b)
	if r.URL.Query().Get("geometry") == "true" {
		data, err := domain.EncodeGeoJSON(b.Geometry)
		if err != nil {
			s.handleServiceError(w, err)
			return
		}
		response["geometry"] = json.RawMessage(data)
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":            boolToStatus(details.Healthy),
		"ready":             details.Ready,
		"boundaries_loaded": details.BoundariesLoaded,
		"jobs_running":      details.JobsRunning,
		"components":        details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncer.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrSyncTooFrequent) {
			retry := int(application.SyncCooldown / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			s.writeError(w, http.StatusTooManyRequests, fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retry))
			return
		}
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// formatBoundary formats a boundary for JSON output.
func formatBoundary(b *domain.Boundary) map[string]interface{} {
	e := b.Extent()
	return map[string]interface{}{
		"id":         b.ID,
		"name":       b.Name,
		"source":     b.Source,
		"properties": b.Props,
		"loaded_at":  b.LoadedAt,
		"extent": map[string]float64{
			"min_x": e.Min.X,
			"min_y": e.Min.Y,
			"max_x": e.Max.X,
			"max_y": e.Max.Y,
		},
	}
}

// handleServiceError maps application errors to HTTP status codes.
func (s *Server) handleServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrBoundaryNotFound):
		s.writeError(w, http.StatusNotFound, "Boundary not found")
	case errors.Is(err, domain.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, application.ErrShuttingDown):
		s.writeError(w, http.StatusServiceUnavailable, "Service is shutting down")
	case errors.Is(err, domain.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Request failed")
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
