package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ctessum/geom"

	"github.com/jobrunner/geofetch/internal/domain"
	"github.com/jobrunner/geofetch/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// square returns a polygon covering [x0,x1] x [y0,y1].
func square(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
	}}
}

// mockFetcher implements output.ImageFetcher for testing. tooLargeAbove
// rejects regions larger than the given area; failAt returns err on the n-th
// call (1-based).
type mockFetcher struct {
	mu            sync.Mutex
	tooLargeAbove float64
	failAt        int
	err           error
	calls         int
	regions       []geom.Polygon
}

func (m *mockFetcher) DownloadURL(_ context.Context, req domain.ImageRequest, region geom.Polygon) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.regions = append(m.regions, region)
	if m.failAt > 0 && m.calls == m.failAt {
		return "", m.err
	}
	if m.tooLargeAbove > 0 && region.Area() > m.tooLargeAbove {
		return "", domain.NewServiceError("earthengine", 400, "Total request size (60000000 bytes) must be less than or equal to 50331648 bytes.")
	}
	return "https://example.test/" + req.Band, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockDownloader implements output.Downloader by writing a small file.
type mockDownloader struct {
	mu    sync.Mutex
	err   error
	calls int
	files []string
}

func (m *mockDownloader) Download(_ context.Context, _ string, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	m.files = append(m.files, dest)
	return os.WriteFile(dest, []byte("tif"), 0o644)
}

// mockRaster implements output.RasterProcessor for testing.
type mockRaster struct {
	mu        sync.Mutex
	mosaicErr error
	mosaics   [][]string
	clipped   []string
	converted []string
	stats     domain.RasterStats
	statsErr  error
}

func (m *mockRaster) Mosaic(_ context.Context, files []string, out string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mosaicErr != nil {
		return m.mosaicErr
	}
	if len(files) == 0 {
		return domain.ErrEmptyMosaicSet
	}
	m.mosaics = append(m.mosaics, files)
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return os.WriteFile(out, []byte("mosaic"), 0o644)
}

func (m *mockRaster) Clip(_ context.Context, path string, _ geom.MultiPolygon) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := strings.TrimSuffix(path, filepath.Ext(path)) + "_clipped.tif"
	m.clipped = append(m.clipped, out)
	return out, nil
}

func (m *mockRaster) Stats(_ string) (domain.RasterStats, error) {
	return m.stats, m.statsErr
}

func (m *mockRaster) ToGeoTIFF(_ context.Context, path, out string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.converted = append(m.converted, path)
	return os.WriteFile(out, []byte("tif"), 0o644)
}

// mockStore implements output.ClimateDataStore. Responses are keyed by the
// combination; combinations without an entry succeed.
type mockStore struct {
	mu        sync.Mutex
	responses map[domain.Combination]error
	attempts  []domain.Combination
}

func (m *mockStore) Retrieve(_ context.Context, req domain.GloFASRequest, _ domain.ProductOptions, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, req.Combination)
	// Leave a partial file behind like an interrupted download would.
	if err := os.WriteFile(dest, []byte("grib"), 0o644); err != nil {
		return err
	}
	if err, ok := m.responses[req.Combination]; ok && err != nil {
		return err
	}
	return nil
}

func noData() error {
	return domain.NewServiceError("cds", 400, "the request you have submitted is not valid: There is no data is available within your requested subset")
}

// mockLoader implements output.BoundaryLoader for testing.
type mockLoader struct {
	boundaries map[string][]domain.Boundary
	loadErr    error
}

func (m *mockLoader) Load(_ context.Context, path string) ([]domain.Boundary, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if b, ok := m.boundaries[path]; ok {
		return b, nil
	}
	return []domain.Boundary{{
		ID:       filepath.Base(path),
		Name:     filepath.Base(path),
		Source:   path,
		Geometry: geom.MultiPolygon{square(0, 0, 1, 1)},
	}}, nil
}

func (m *mockLoader) Supports(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".geojson" || ext == ".shp"
}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	objects     []output.StorageObject
	downloadErr error
	listErr     error
	downloaded  []string
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.downloaded = append(m.downloaded, key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("{}"), 0o644)
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}

func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

// mockLedger implements output.JobLedger in memory.
type mockLedger struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newMockLedger() *mockLedger {
	return &mockLedger{jobs: make(map[string]domain.Job)}
}

func (m *mockLedger) Save(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *mockLedger) Get(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &j, nil
}

func (m *mockLedger) List(_ context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockLedger) Close() error { return nil }

var errNetwork = errors.New("connection reset by peer")
