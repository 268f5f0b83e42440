// Package metrics is the bundled event-statistics collector, grounded on
// the source's EventStatisticsService.h (per-event-type counters and
// dispatch-latency histograms) and exposed through
// github.com/prometheus/client_golang the way the cuemby-warren,
// tomtom215-cartographus and r3e-network-service_layer example repos
// instrument their own event/request paths (SPEC_FULL.md §5 "Supplemented
// Features: event statistics").
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"synapse/internal/event"
)

// Collector tracks per-event-type processed counts and dispatch latency,
// and a single count of discarded coroutine continuations
// (spec.md §8 "Coroutine continuation events scheduled for a stopped
// service must be observable as discarded in metrics").
type Collector struct {
	processed *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	orphaned  prometheus.Counter
	queueSize prometheus.Gauge
}

// NewCollector builds a Collector and registers its metrics with reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synapse",
			Subsystem: "events",
			Name:      "processed_total",
			Help:      "Number of events fully dispatched, by event type name.",
		}, []string{"event_type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "synapse",
			Subsystem: "events",
			Name:      "dispatch_seconds",
			Help:      "Time spent dispatching one event, by event type name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		orphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "synapse",
			Subsystem: "coroutines",
			Name:      "orphaned_total",
			Help:      "Number of in-flight coroutine continuations dropped because their owning service stopped.",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "synapse",
			Subsystem: "events",
			Name:      "queue_size",
			Help:      "Current number of pending events in the queue.",
		}),
	}
	reg.MustRegister(c.processed, c.latency, c.orphaned, c.queueSize)
	return c
}

// ObserveDispatch records that e finished dispatching after d.
func (c *Collector) ObserveDispatch(e event.Event, d time.Duration) {
	name := e.Meta().Name
	c.processed.WithLabelValues(name).Inc()
	c.latency.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveOrphan records one dropped coroutine continuation.
func (c *Collector) ObserveOrphan() { c.orphaned.Inc() }

// SetQueueSize records the queue's current pending count.
func (c *Collector) SetQueueSize(n int) { c.queueSize.Set(float64(n)) }
