package metrics_test

import (
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordsOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.ExecutionTransitioned("pending", "running")
	c.ExecutionTransitioned("pending", "running")
	c.NodeAttempt("email-send", "failure", 20*time.Millisecond)
	c.AgentInFlight("t1", "a1", 3)
	c.WebhookThrottled("t1")
	c.ExecutionRejected("tenant_limit")

	count, err := testutil.GatherAndCount(reg, "leadflow_execution_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[family.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[family.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, float64(2), values["leadflow_execution_transitions_total"])
	assert.Equal(t, float64(1), values["leadflow_node_attempts_total"])
	assert.Equal(t, float64(3), values["leadflow_agent_in_flight"])
	assert.Equal(t, float64(1), values["leadflow_webhooks_throttled_total"])
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *metrics.Collector

	assert.NotPanics(t, func() {
		c.ExecutionTransitioned("a", "b")
		c.NodeAttempt("custom", "success", time.Second)
		c.AgentInFlight("t", "a", 1)
		c.WebhookThrottled("t")
		c.ExecutionRejected("x")
	})
}
