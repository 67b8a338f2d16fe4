package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
)

// Fetch errors. Adapters translate service responses into these so that
// callers can select a recovery strategy with errors.Is.
var (
	ErrTooLarge            = errors.New("request exceeds service size limit")
	ErrNoDataForParameters = errors.New("no data available for parameter combination")
	ErrSplitExhausted      = errors.New("split limit reached")
)

// Specific errors.
var (
	ErrInvalidGeometry  = fmt.Errorf("geometry: %w", ErrInvalidInput)
	ErrUnknownProduct   = fmt.Errorf("product: %w", ErrNotFound)
	ErrBoundaryNotFound = fmt.Errorf("boundary: %w", ErrNotFound)
	ErrJobNotFound      = fmt.Errorf("job: %w", ErrNotFound)
	ErrEmptyMosaicSet   = fmt.Errorf("mosaic set is empty: %w", ErrInvalidInput)
)

// Service messages that identify recoverable failures.
const (
	tooLargeMessage = "Total request size"
	noDataMessage   = "no data is available within your requested subset"
)

// ClassifyServiceMessage maps a message returned by a remote data service to
// ErrTooLarge or ErrNoDataForParameters. It returns nil for any other message.
func ClassifyServiceMessage(msg string) error {
	switch {
	case strings.Contains(msg, tooLargeMessage):
		return ErrTooLarge
	case strings.Contains(msg, noDataMessage):
		return ErrNoDataForParameters
	default:
		return nil
	}
}

// ServiceError represents a failed call to a remote data service.
type ServiceError struct {
	Service string // earthengine, cds, ...
	Status  int    // HTTP status, 0 if unknown
	Message string // Message reported by the service
	Err     error  // Classified error, nil for unrelated failures
}

// NewServiceError creates a ServiceError and classifies its message.
func NewServiceError(service string, status int, message string) *ServiceError {
	return &ServiceError{
		Service: service,
		Status:  status,
		Message: message,
		Err:     ClassifyServiceMessage(message),
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// Unwrap returns the classified error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err is one of the errors handled locally by
// re-splitting or by the parameter fallback search.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrTooLarge) || errors.Is(err, ErrNoDataForParameters)
}

// SplitExhaustedError is returned when a geometry still exceeds the service
// limit at the largest allowed split count.
type SplitExhaustedError struct {
	Attempted []int // Split counts tried, in order
	MaxCells  int   // Configured upper bound
}

// Error implements the error interface.
func (e *SplitExhaustedError) Error() string {
	return fmt.Sprintf("request still too large after split counts %v (max cells %d)",
		e.Attempted, e.MaxCells)
}

// Unwrap returns ErrSplitExhausted.
func (e *SplitExhaustedError) Unwrap() error {
	return ErrSplitExhausted
}

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// FetchError represents a failed fetch or download of one raster cell.
type FetchError struct {
	Op   string // url, download
	Path string // Destination file
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error during %s for %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// RasterError represents an error while reading or writing a raster file.
type RasterError struct {
	Operation string // mosaic, clip, stats, convert
	Path      string
	Err       error
}

// Error implements the error interface.
func (e *RasterError) Error() string {
	return fmt.Sprintf("raster error during %s for %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *RasterError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
