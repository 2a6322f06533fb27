// Package metrics exposes Prometheus instrumentation for the distribution,
// local-container and aggregation cores.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog metrics (§4.3).
	CatalogEntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shad_catalog_entries_total",
			Help: "Live entries in a per-type catalog, by container type and locality",
		},
		[]string{"container_type", "locality"},
	)

	CatalogSlotsRecycledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shad_catalog_slots_recycled_total",
			Help: "Total catalog slots returned to the free list by erase",
		},
		[]string{"container_type"},
	)

	// Local container metrics (§4.5/§4.6).
	BucketOverflowAllocationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shad_bucket_overflow_allocations_total",
			Help: "Total overflow buckets allocated across all local maps/sets",
		},
	)

	CASRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shad_cas_retries_total",
			Help: "Total compare-and-swap retries observed in insert/erase paths",
		},
		[]string{"op"},
	)

	// Transport metrics (§4.1).
	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shad_dispatches_total",
			Help: "Total work items dispatched by the transport, by primitive and target locality",
		},
		[]string{"primitive", "locality"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shad_dispatch_duration_seconds",
			Help:    "Time from dispatch to local completion of a work item",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"primitive"},
	)

	HandleWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shad_handle_wait_duration_seconds",
			Help:    "Time spent blocked in waitForCompletion",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Aggregation metrics (§4.9).
	BufferFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shad_buffer_flushes_total",
			Help: "Total aggregation buffer flushes, by destination locality and trigger",
		},
		[]string{"locality", "trigger"},
	)

	BufferEntriesFlushed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shad_buffer_entries_flushed",
			Help:    "Number of entries replayed by a single buffer flush",
			Buckets: prometheus.LinearBuckets(0, 16, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(CatalogEntriesTotal)
	prometheus.MustRegister(CatalogSlotsRecycledTotal)
	prometheus.MustRegister(BucketOverflowAllocationsTotal)
	prometheus.MustRegister(CASRetriesTotal)
	prometheus.MustRegister(DispatchesTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(HandleWaitDuration)
	prometheus.MustRegister(BufferFlushesTotal)
	prometheus.MustRegister(BufferEntriesFlushed)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
