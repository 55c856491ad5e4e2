package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	nodesExecuted     *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec
	runsCompleted     *prometheus.CounterVec
	runSteps          prometheus.Histogram
	runDuration       *prometheus.HistogramVec
	checkpointsSaved  *prometheus.CounterVec
	checkpointLatency *prometheus.HistogramVec
	storeRetries      *prometheus.CounterVec
	interrupts        *prometheus.CounterVec
	activeRuns        prometheus.Gauge
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		nodesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grantflow_nodes_executed_total",
				Help: "Total number of node executions",
			},
			[]string{"node", "status"},
		),
		nodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grantflow_node_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"node"},
		),
		runsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grantflow_runs_total",
				Help: "Total number of executor runs by outcome",
			},
			[]string{"status"},
		),
		runSteps: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "grantflow_run_steps",
				Help:    "Steps executed per run",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 40, 50},
			},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grantflow_run_duration_seconds",
				Help:    "Executor run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		checkpointsSaved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grantflow_checkpoints_saved_total",
				Help: "Total number of checkpoints persisted",
			},
			[]string{"source"},
		),
		checkpointLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grantflow_checkpoint_latency_seconds",
				Help:    "Checkpoint persistence latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"source"},
		),
		storeRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grantflow_store_retries_total",
				Help: "Total number of retried checkpoint store calls",
			},
			[]string{"op"},
		),
		interrupts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grantflow_interrupts_total",
				Help: "Total number of human-review interrupts",
			},
			[]string{"node"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "grantflow_active_runs",
				Help: "Number of executor runs in progress",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "grantflow_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "grantflow_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "grantflow_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordNodeExecuted records a node execution
func (c *Collector) RecordNodeExecuted(node, status string, duration time.Duration) {
	c.nodesExecuted.WithLabelValues(node, status).Inc()
	c.nodeDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordRun records the outcome of an executor run
func (c *Collector) RecordRun(status string, steps int, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runSteps.Observe(float64(steps))
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCheckpoint records a persisted checkpoint
func (c *Collector) RecordCheckpoint(source string, duration time.Duration) {
	c.checkpointsSaved.WithLabelValues(source).Inc()
	c.checkpointLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordStoreRetry records a retried store call
func (c *Collector) RecordStoreRetry(op string) {
	c.storeRetries.WithLabelValues(op).Inc()
}

// RecordInterrupt records a thread pausing for review
func (c *Collector) RecordInterrupt(node string) {
	c.interrupts.WithLabelValues(node).Inc()
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// SetActiveRuns sets the number of runs in progress
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}
