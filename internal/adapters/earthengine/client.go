// Package earthengine provides the client of the image export service that
// serves the population rasters.
package earthengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/schollz/progressbar/v3"

	"github.com/jobrunner/geofetch/internal/domain"
)

const serviceName = "earthengine"

// maxErrorBody limits how much of an error response is read.
const maxErrorBody = 64 << 10

// Config holds the export service configuration.
type Config struct {
	Endpoint        string        // Base URL of the export service
	Project         string        // Cloud project billed for exports
	Token           string        // Bearer token, optional
	RequestTimeout  time.Duration // Timeout of a download URL request
	DownloadTimeout time.Duration // Timeout of a single file download
	Progress        bool          // Show a progress bar per download
}

// Client implements the ImageFetcher and Downloader ports.
type Client struct {
	cfg      Config
	api      *http.Client
	download *http.Client
}

// New creates a new export service client.
func New(cfg Config) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = 30 * time.Minute
	}
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		cfg:      cfg,
		api:      &http.Client{Timeout: cfg.RequestTimeout},
		download: &http.Client{Timeout: cfg.DownloadTimeout},
	}
}

type downloadURLRequest struct {
	Image   string          `json:"image"`
	Bands   []string        `json:"bands"`
	Scale   float64         `json:"scale"`
	CRS     string          `json:"crs"`
	Format  string          `json:"format"`
	Region  json.RawMessage `json:"region"`
	Project string          `json:"project,omitempty"`
}

type downloadURLResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// DownloadURL asks the service for a GeoTIFF export of one band over region.
// A region above the export size limit yields an error wrapping
// domain.ErrTooLarge.
func (c *Client) DownloadURL(ctx context.Context, req domain.ImageRequest, region geom.Polygon) (string, error) {
	geometry, err := domain.EncodeGeoJSON(domain.Parts(region))
	if err != nil {
		return "", fmt.Errorf("encoding region: %w", err)
	}

	body, err := json.Marshal(downloadURLRequest{
		Image:   req.Image,
		Bands:   []string{req.Band},
		Scale:   req.Scale,
		CRS:     "EPSG:4326",
		Format:  "GEO_TIFF",
		Region:  geometry,
		Project: c.cfg.Project,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/download-url", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.api.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("requesting download url: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", serviceError(resp)
	}

	var out downloadURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding download url response: %w", err)
	}
	if out.URL == "" {
		return "", domain.NewServiceError(serviceName, resp.StatusCode, "empty download url")
	}
	return out.URL, nil
}

// serviceError builds a classified ServiceError from a failed export
// request.
func serviceError(resp *http.Response) error {
	return domain.NewServiceError(serviceName, resp.StatusCode, errorMessage(resp))
}

// errorMessage reads the message of a failed response. The message of a JSON
// error body is preferred over the raw body.
func errorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var parsed errorResponse
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return msg
}

// Download streams url to dest. A partial file is removed on failure.
func (c *Client) Download(ctx context.Context, url string, dest string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return fmt.Errorf("downloading: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Download failures are never classified: they must not trigger a split
	// or a parameter fallback.
	if resp.StatusCode != http.StatusOK {
		return &domain.ServiceError{Service: serviceName, Status: resp.StatusCode, Message: errorMessage(resp)}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.Create(dest) //#nosec G304 -- dest is built from the output directory
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	var w io.Writer = f
	if c.cfg.Progress {
		bar := progressbar.DefaultBytes(resp.ContentLength, "downloading "+filepath.Base(dest))
		defer func() { _ = bar.Close() }()
		w = io.MultiWriter(f, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return nil
}
