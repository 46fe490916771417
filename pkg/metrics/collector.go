// Package metrics exposes prometheus instruments for executions, node attempts and agents.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leadflow"

// Collector groups the instruments. A nil *Collector records nothing.
type Collector struct {
	executionTransitions *prometheus.CounterVec
	executionsRejected   *prometheus.CounterVec
	nodeAttempts         *prometheus.CounterVec
	nodeDuration         *prometheus.HistogramVec
	agentInFlight        *prometheus.GaugeVec
	webhooksThrottled    *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		executionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execution_transitions_total",
				Help:      "Execution status transitions, by source and target status",
			},
			[]string{"from", "to"},
		),
		executionsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_rejected_total",
				Help:      "Run requests rejected before an execution was created",
			},
			[]string{"reason"},
		),
		nodeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_attempts_total",
				Help:      "Node handler invocations, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		nodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Node handler call duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		),
		agentInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agent_in_flight",
				Help:      "Tasks currently dispatched to an agent",
			},
			[]string{"tenant", "agent"},
		),
		webhooksThrottled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_throttled_total",
				Help:      "Webhook calls rejected by the rate limiter",
			},
			[]string{"tenant"},
		),
	}
}

func (c *Collector) ExecutionTransitioned(from, to string) {
	if c == nil {
		return
	}

	c.executionTransitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) ExecutionRejected(reason string) {
	if c == nil {
		return
	}

	c.executionsRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) NodeAttempt(kind, outcome string, duration time.Duration) {
	if c == nil {
		return
	}

	c.nodeAttempts.WithLabelValues(kind, outcome).Inc()
	c.nodeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *Collector) AgentInFlight(tenantID, agentID string, inFlight int) {
	if c == nil {
		return
	}

	c.agentInFlight.WithLabelValues(tenantID, agentID).Set(float64(inFlight))
}

func (c *Collector) WebhookThrottled(tenantID string) {
	if c == nil {
		return
	}

	c.webhooksThrottled.WithLabelValues(tenantID).Inc()
}
