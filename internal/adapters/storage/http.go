package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jobrunner/geofetch/internal/ports/output"
)

// HTTPStorage implements ObjectStorage for a plain web server. The files are
// listed in an index file, one path per line.
type HTTPStorage struct {
	client    *http.Client
	baseURL   string
	indexFile string
	username  string
	password  string
}

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.txt
	Timeout   time.Duration
	Username  string
	Password  string
}

// NewHTTPStorage creates a new HTTP storage adapter.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &HTTPStorage{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		indexFile: cfg.IndexFile,
		username:  cfg.Username,
		password:  cfg.Password,
	}
}

// List returns the boundary files named in the index file. Empty lines and
// lines starting with # are ignored.
func (s *HTTPStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	body, err := s.get(ctx, s.indexFile)
	if err != nil {
		return nil, fmt.Errorf("fetching index file: %w", err)
	}
	defer func() { _ = body.Close() }()

	var objects []output.StorageObject
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || !IsBoundaryFile(line) {
			continue
		}
		objects = append(objects, output.StorageObject{Key: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}

	return objects, nil
}

// Download downloads a file to the local filesystem.
func (s *HTTPStorage) Download(ctx context.Context, key string, dest string) error {
	body, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	return writeFile(dest, body)
}

// GetReader returns a reader for the given file.
func (s *HTTPStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.get(ctx, key)
}

// Exists checks if a file exists with a HEAD request.
func (s *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.do(ctx, http.MethodHead, key)
	if err != nil {
		return false, nil //nolint:nilerr // an unreachable file does not exist for the sync
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK, nil
}

// get returns the body of a successful GET request for key.
func (s *HTTPStorage) get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.do(ctx, http.MethodGet, key)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", key, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, key)
	}
	return resp.Body, nil
}

func (s *HTTPStorage) do(ctx context.Context, method, key string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+"/"+key, nil)
	if err != nil {
		return nil, err
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	return s.client.Do(req)
}
