package ports

import "time"

// MetricsCollector records engine metrics.
type MetricsCollector interface {
	RecordNodeExecuted(node, status string, duration time.Duration)
	RecordRun(status string, steps int, duration time.Duration)
	RecordCheckpoint(source string, duration time.Duration)
	RecordStoreRetry(op string)
	RecordInterrupt(node string)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetActiveRuns(count int)
}
