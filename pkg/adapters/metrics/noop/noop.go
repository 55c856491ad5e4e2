// Package noop provides a MetricsCollector that records nothing.
package noop

import "time"

// Collector discards all metrics
type Collector struct{}

// NewCollector creates a no-op collector
func NewCollector() *Collector { return &Collector{} }

func (Collector) RecordNodeExecuted(node, status string, duration time.Duration) {}
func (Collector) RecordRun(status string, steps int, duration time.Duration)      {}
func (Collector) RecordCheckpoint(source string, duration time.Duration)         {}
func (Collector) RecordStoreRetry(op string)                                     {}
func (Collector) RecordInterrupt(node string)                                    {}
func (Collector) RecordWorkerPoolStatus(idle, busy, stopped int)                 {}
func (Collector) SetActiveRuns(count int)                                        {}
