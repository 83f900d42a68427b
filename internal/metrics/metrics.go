// Package metrics exposes Prometheus instrumentation for the execution
// engine and the runtime managers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its own registry so tests and embedded uses never collide
// with the global default registry.
type Collector struct {
	registry *prometheus.Registry

	invocationsTotal   *prometheus.CounterVec
	invocationDuration prometheus.Histogram
	triggersMatched    prometheus.Histogram
	provisioningTotal  *prometheus.CounterVec
	runtimesReaped     prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triggerkit_invocations_total",
			Help: "Trigger invocations by outcome.",
		}, []string{"status"}),
		invocationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triggerkit_invocation_duration_seconds",
			Help:    "End to end invocation latency.",
			Buckets: prometheus.DefBuckets,
		}),
		triggersMatched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triggerkit_triggers_matched",
			Help:    "Matched triggers per inbound event.",
			Buckets: []float64{0, 1, 2, 5, 10, 25},
		}),
		provisioningTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triggerkit_provisioning_total",
			Help: "Runtime provisioning attempts by backend and outcome.",
		}, []string{"backend", "status"}),
		runtimesReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triggerkit_runtimes_reaped_total",
			Help: "Idle runtimes torn down by the reaper.",
		}),
	}

	c.registry.MustRegister(
		c.invocationsTotal,
		c.invocationDuration,
		c.triggersMatched,
		c.provisioningTotal,
		c.runtimesReaped,
	)
	return c
}

func (c *Collector) RecordInvocation(status string, elapsed time.Duration) {
	c.invocationsTotal.WithLabelValues(status).Inc()
	c.invocationDuration.Observe(elapsed.Seconds())
}

func (c *Collector) RecordTriggersMatched(n int) {
	c.triggersMatched.Observe(float64(n))
}

func (c *Collector) RecordProvisioning(backend, status string) {
	c.provisioningTotal.WithLabelValues(backend, status).Inc()
}

func (c *Collector) RecordRuntimeReaped() {
	c.runtimesReaped.Inc()
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
