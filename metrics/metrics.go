/*
Package metrics defines the buffer manager's Prometheus instrumentation.
Every metric is registered on an injected *prometheus.Registry rather than
the global default, so tests and multiple manager instances in one process
never collide on metric names.
*/
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the full set of counters, gauges, and histograms the buffer
// manager updates.
type Metrics struct {
	FramesFree    prometheus.Gauge
	FramesCooling prometheus.Gauge
	FramesHot     prometheus.Gauge

	Evictions           prometheus.Counter
	SwizzledTotal       prometheus.Counter
	UnswizzledTotal     prometheus.Counter
	PagesReadTotal      prometheus.Counter
	PagesWrittenTotal   prometheus.Counter
	RestartsTotal       prometheus.Counter
	AwritesSubmitted    prometheus.Counter
	AwritesFailed       prometheus.Counter
	ProviderRoundsTotal prometheus.Counter

	ProviderPhaseDuration *prometheus.HistogramVec
}

// New constructs and registers every metric on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		FramesFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coldbuf",
			Name:      "frames_free",
			Help:      "Number of frames currently on the free list.",
		}),
		FramesCooling: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coldbuf",
			Name:      "frames_cooling",
			Help:      "Number of frames currently in a partition cooling queue.",
		}),
		FramesHot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coldbuf",
			Name:      "frames_hot",
			Help:      "Number of frames currently swizzled into a parent page.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coldbuf",
			Name:      "evictions_total",
			Help:      "Number of frames evicted back to the free list.",
		}),
		SwizzledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coldbuf",
			Name:      "swizzled_total",
			Help:      "Lifetime count of swip swizzle operations.",
		}),
		UnswizzledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coldbuf",
			Name:      "unswizzled_total",
			Help:      "Lifetime count of swip unswizzle operations.",
		}),
		PagesReadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coldbuf",
			Name:      "pages_read_total",
			Help:      "Lifetime count of synchronous page reads from the device.",
		}),
		PagesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coldbuf",
			Name:      "pages_written_total",
			Help:      "Lifetime count of pages written back to the device.",
		}),
		RestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coldbuf",
			Name:      "restarts_total",
			Help:      "Lifetime count of ErrRestart returned because the free list was below its restart threshold.",
		}),
		AwritesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coldbuf",
			Name:      "async_writes_submitted_total",
			Help:      "Asynchronous page writes handed to the write buffer.",
		}),
		AwritesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coldbuf",
			Name:      "async_writes_failed_total",
			Help:      "Asynchronous page writes the write buffer rejected as full or that completed with an error.",
		}),
		ProviderRoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coldbuf",
			Name:      "provider_rounds_total",
			Help:      "Page provider background loop iterations.",
		}),
		ProviderPhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coldbuf",
			Name:      "provider_phase_duration_seconds",
			Help:      "Time spent in each page provider phase per round.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}

	reg.MustRegister(
		m.FramesFree, m.FramesCooling, m.FramesHot,
		m.Evictions, m.SwizzledTotal, m.UnswizzledTotal,
		m.PagesReadTotal, m.PagesWrittenTotal, m.RestartsTotal,
		m.AwritesSubmitted, m.AwritesFailed, m.ProviderRoundsTotal,
		m.ProviderPhaseDuration,
	)
	return m
}
