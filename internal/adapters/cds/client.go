// Package cds provides the Climate Data Store client used for GloFAS
// forecasts.
package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jobrunner/geofetch/internal/domain"
)

const serviceName = "cds"

// maxBody limits how much of a task document or error response is read.
const maxBody = 1 << 20

// Task states reported by the store.
const (
	stateQueued    = "queued"
	stateRunning   = "running"
	stateCompleted = "completed"
	stateFailed    = "failed"
)

var errPending = errors.New("request not completed yet")

// Config holds the Climate Data Store configuration.
type Config struct {
	URL             string        // API root, e.g. https://cds.climate.copernicus.eu/api/v2
	Key             string        // "<uid>:<api key>"
	RequestTimeout  time.Duration // Timeout of a single API call
	DownloadTimeout time.Duration // Timeout of the result download
	PollInterval    time.Duration // First wait between status checks
	MaxPollInterval time.Duration // Upper bound of the wait between status checks
	MaxWait         time.Duration // Give up after waiting this long for a result
}

// Client implements the ClimateDataStore port.
type Client struct {
	cfg      Config
	api      *http.Client
	download *http.Client
	logger   *slog.Logger
}

// New creates a new Climate Data Store client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = time.Minute
	}
	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = 30 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPollInterval == 0 {
		cfg.MaxPollInterval = time.Minute
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 2 * time.Hour
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")

	return &Client{
		cfg:      cfg,
		api:      &http.Client{Timeout: cfg.RequestTimeout},
		download: &http.Client{Timeout: cfg.DownloadTimeout},
		logger:   logger,
	}
}

// task is the status document of a submitted request.
type task struct {
	State         string     `json:"state"`
	RequestID     string     `json:"request_id"`
	Location      string     `json:"location"`
	ContentLength int64      `json:"content_length"`
	Error         *taskError `json:"error"`
}

type taskError struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (e *taskError) text() string {
	switch {
	case e.Reason != "" && e.Message != "":
		return e.Message + ": " + e.Reason
	case e.Reason != "":
		return e.Reason
	default:
		return e.Message
	}
}

// Retrieve submits the request, waits until the store finished it and
// downloads the result to dest.
func (c *Client) Retrieve(ctx context.Context, req domain.GloFASRequest, options domain.ProductOptions, dest string) error {
	body, err := json.Marshal(requestBody(req, options))
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	t, err := c.submit(ctx, req.Product, body)
	if err != nil {
		return err
	}
	c.logger.Debug("request submitted", "request_id", t.RequestID, "combination", req.Combination.String())

	if t.State != stateCompleted {
		t, err = c.wait(ctx, t)
		if err != nil {
			return err
		}
	}

	return c.fetch(ctx, t.Location, dest)
}

// requestBody returns the request fields in the form the store expects.
func requestBody(req domain.GloFASRequest, options domain.ProductOptions) map[string]interface{} {
	body := map[string]interface{}{
		"system_version":     req.SystemVersion,
		"hydrological_model": req.HydrologicalModel,
		"product_type":       req.ProductType,
		"year":               strconv.Itoa(req.Year),
		"month":              req.Month,
		"day":                fmt.Sprintf("%02d", req.Day),
		"leadtime_hour":      strconv.Itoa(req.LeadtimeHour),
		"area":               req.Area,
	}
	if options.Variable != "" {
		body["variable"] = options.Variable
	}
	if options.Format != "" {
		body["format"] = options.Format
	}
	return body
}

func (c *Client) submit(ctx context.Context, product string, body []byte) (*task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/resources/"+product, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	t, err := c.call(req)
	if err != nil {
		return nil, fmt.Errorf("submitting request: %w", err)
	}
	if t.State == stateFailed {
		return nil, failure(t)
	}
	if t.RequestID == "" && t.State != stateCompleted {
		return nil, domain.NewServiceError(serviceName, 0, "response without request id")
	}
	return t, nil
}

// wait polls the task with exponential backoff until it completed, failed
// or MaxWait elapsed.
func (c *Client) wait(ctx context.Context, t *task) (*task, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.PollInterval
	b.MaxInterval = c.cfg.MaxPollInterval
	b.MaxElapsedTime = c.cfg.MaxWait

	id := t.RequestID
	var done *task
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/tasks/"+id, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		status, err := c.call(req)
		if err != nil {
			if transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		switch status.State {
		case stateCompleted:
			done = status
			return nil
		case stateFailed:
			return backoff.Permanent(failure(status))
		case stateQueued, stateRunning:
			return errPending
		default:
			return backoff.Permanent(domain.NewServiceError(serviceName, 0, "unknown request state "+status.State))
		}
	}

	notify := func(err error, d time.Duration) {
		if errors.Is(err, errPending) {
			c.logger.Debug("waiting for request", "request_id", id, "next_check", d)
			return
		}
		c.logger.Warn("checking request failed, retrying", "request_id", id, "error", err, "next_check", d)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	if errors.Is(err, errPending) {
		return nil, domain.NewServiceError(serviceName, 0,
			fmt.Sprintf("request %s not completed within %s", id, c.cfg.MaxWait))
	}
	if err != nil {
		return nil, err
	}
	return done, nil
}

// call runs an API request and decodes the task document.
func (c *Client) call(req *http.Request) (*task, error) {
	if user, key, ok := strings.Cut(c.cfg.Key, ":"); ok {
		req.SetBasicAuth(user, key)
	}

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		var te taskError
		msg := strings.TrimSpace(string(data))
		if err := json.Unmarshal(data, &te); err == nil && te.text() != "" {
			msg = te.text()
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, domain.NewServiceError(serviceName, resp.StatusCode, msg)
	}

	var t task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding task: %w", err)
	}
	return &t, nil
}

// failure converts a failed task into a classified ServiceError.
func failure(t *task) error {
	msg := "request failed"
	if t.Error != nil && t.Error.text() != "" {
		msg = t.Error.text()
	}
	return domain.NewServiceError(serviceName, 0, msg)
}

// transient reports whether a failed status check is worth repeating.
func transient(err error) bool {
	var se *domain.ServiceError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// fetch downloads the result file. A partial file is removed on failure.
func (c *Client) fetch(ctx context.Context, location, dest string) (err error) {
	if location == "" {
		return domain.NewServiceError(serviceName, 0, "completed request without location")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return err
	}
	resp, err := c.download.Do(req)
	if err != nil {
		return fmt.Errorf("downloading result: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return domain.NewServiceError(serviceName, resp.StatusCode, "downloading result: "+http.StatusText(resp.StatusCode))
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

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return nil
}
