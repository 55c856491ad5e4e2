package prometheus_test

import (
	"strings"
	"testing"
	"time"

	collector "github.com/aescanero/grantflow/pkg/adapters/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordsOnOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := collector.NewCollector(reg)

	c.RecordNodeExecuted("research", "success", 2*time.Second)
	c.RecordNodeExecuted("research", "success", time.Second)
	c.RecordInterrupt("humanReview")
	c.RecordStoreRetry("put")
	c.SetActiveRuns(3)

	count, err := testutil.GatherAndCount(reg, "grantflow_nodes_executed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expected := `
# HELP grantflow_interrupts_total Total number of human-review interrupts
# TYPE grantflow_interrupts_total counter
grantflow_interrupts_total{node="humanReview"} 1
# HELP grantflow_active_runs Number of executor runs in progress
# TYPE grantflow_active_runs gauge
grantflow_active_runs 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"grantflow_interrupts_total", "grantflow_active_runs"))
}

func TestCollector_IsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		collector.NewCollector(prometheus.NewRegistry())
		collector.NewCollector(prometheus.NewRegistry())
	})
}
