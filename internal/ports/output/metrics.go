package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncSplitLevel counts a split level attempt and its outcome.
	IncSplitLevel(splitCount int, outcome string)

	// IncCellsFetched counts downloaded cells.
	IncCellsFetched(band string, count int)

	// IncFallbackAttempt counts one parameter fallback attempt.
	IncFallbackAttempt(product string, outcome string)

	// ObserveFetchDuration records the duration of a complete fetch.
	ObserveFetchDuration(kind string, duration time.Duration)

	// IncJobs counts finished jobs.
	IncJobs(kind string, success bool)

	// SetBoundariesLoaded sets the number of loaded boundaries.
	SetBoundariesLoaded(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncSplitLevel implements MetricsCollector.
func (n *NoOpMetrics) IncSplitLevel(_ int, _ string) {}

// IncCellsFetched implements MetricsCollector.
func (n *NoOpMetrics) IncCellsFetched(_ string, _ int) {}

// IncFallbackAttempt implements MetricsCollector.
func (n *NoOpMetrics) IncFallbackAttempt(_ string, _ string) {}

// ObserveFetchDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveFetchDuration(_ string, _ time.Duration) {}

// IncJobs implements MetricsCollector.
func (n *NoOpMetrics) IncJobs(_ string, _ bool) {}

// SetBoundariesLoaded implements MetricsCollector.
func (n *NoOpMetrics) SetBoundariesLoaded(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
