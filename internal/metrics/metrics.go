// Package metrics exposes Prometheus collectors for review transactions,
// claims and flow steps.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reviewbot/backend/internal/flow"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/platform"
)

// Collector holds the review bot's collectors on a private registry.
type Collector struct {
	registry *prometheus.Registry

	txOutcomes      *prometheus.CounterVec
	claimOutcomes   *prometheus.CounterVec
	guardDenials    *prometheus.CounterVec
	flowSteps       *prometheus.CounterVec
	flowStepLatency *prometheus.HistogramVec
	claimsReleased  prometheus.Counter
	subscribers     prometheus.Gauge
}

var _ flow.Recorder = (*Collector)(nil)

// NewCollector creates a collector under namespace, "reviewbot" by default.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "reviewbot"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.txOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "review",
			Name:      "transactions_total",
			Help:      "Review transactions by action and outcome (already, terminal, invalid, changed)",
		},
		[]string{"action", "outcome"},
	)

	c.claimOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "review",
			Name:      "claims_total",
			Help:      "Claim and unclaim attempts by outcome",
		},
		[]string{"op", "outcome"},
	)

	c.guardDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "review",
			Name:      "guard_denials_total",
			Help:      "Actions refused because another reviewer holds the claim",
		},
		[]string{"action"},
	)

	c.flowSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "steps_total",
			Help:      "Flow steps by flow, step and result code (ok on success)",
		},
		[]string{"flow", "step", "result"},
	)

	c.flowStepLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "step_duration_seconds",
			Help:      "Time taken by a platform call inside a flow",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"flow", "step"},
	)

	c.claimsReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "claims_released_total",
		Help:      "Stale claims released by the sweeper",
	})

	c.subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "subscribers",
		Help:      "Connected live event subscribers",
	})

	c.registry.MustRegister(
		c.txOutcomes,
		c.claimOutcomes,
		c.guardDenials,
		c.flowSteps,
		c.flowStepLatency,
		c.claimsReleased,
		c.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordTx(action models.ActionKind, outcome string) {
	c.txOutcomes.WithLabelValues(string(action), outcome).Inc()
}

func (c *Collector) RecordClaim(op, outcome string) {
	c.claimOutcomes.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) RecordDenial(action models.ActionKind) {
	c.guardDenials.WithLabelValues(string(action)).Inc()
}

// ObserveStep implements flow.Recorder.
func (c *Collector) ObserveStep(f models.ActionKind, step flow.Step, code platform.Code, took time.Duration) {
	result := "ok"
	if code != "" {
		result = string(code)
	}
	c.flowSteps.WithLabelValues(string(f), string(step), result).Inc()
	c.flowStepLatency.WithLabelValues(string(f), string(step)).Observe(took.Seconds())
}

func (c *Collector) RecordClaimsReleased(n int) {
	c.claimsReleased.Add(float64(n))
}

func (c *Collector) SetSubscribers(n int) {
	c.subscribers.Set(float64(n))
}
