package synckit

import "time"

// MetricsCollector provides hooks for collecting engine metrics
type MetricsCollector interface {
	// RecordSyncDuration records how long a sync operation took
	RecordSyncDuration(operation string, duration time.Duration)

	// RecordResourceSync records the outcome of fetching one resource type
	RecordResourceSync(resource string, success bool, records int)

	// RecordActionOutcome records a replayed action by kind and outcome
	// ("applied", "retry", "failed", "paused")
	RecordActionOutcome(kind string, outcome string)

	// RecordQueueDepth records the current queue size
	RecordQueueDepth(pending, failed int)

	// RecordSyncErrors records errors by operation and type
	RecordSyncErrors(operation string, errorType string)

	// RecordConflicts records the number of records currently in conflict
	RecordConflicts(open int)
}

// ExecutorMetricsCollector is implemented by collectors that also want
// per-request timings from an ObservableExecutor.
type ExecutorMetricsCollector interface {
	MetricsCollector

	RecordRequest(method, endpoint, outcome string, duration time.Duration)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordSyncDuration(operation string, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordResourceSync(resource string, success bool, records int) {}
func (n *NoOpMetricsCollector) RecordActionOutcome(kind string, outcome string)             {}
func (n *NoOpMetricsCollector) RecordQueueDepth(pending, failed int)                        {}
func (n *NoOpMetricsCollector) RecordSyncErrors(operation string, errorType string)         {}
func (n *NoOpMetricsCollector) RecordConflicts(open int)                                    {}
