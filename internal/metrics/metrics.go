// Package metrics exposes prometheus collectors for the segment downloader.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "svtdl"

// Metrics groups the downloader collectors.
type Metrics struct {
	segments      prometheus.Counter
	bytes         prometheus.Counter
	failures      prometheus.Counter
	inFlight      prometheus.Gauge
	fetchDuration prometheus.Histogram
	downloads     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		segments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_downloaded_total",
			Help:      "Media segments fetched successfully.",
		}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_bytes_total",
			Help:      "Bytes received for media segments.",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_failures_total",
			Help:      "Media segment fetches that failed.",
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "segment_fetches_in_flight",
			Help:      "Media segment fetches currently in progress.",
		}),
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_fetch_duration_seconds",
			Help:      "Time taken to fetch one media segment.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Stream downloads by result.",
		}, []string{"result"}),
	}
}

// FetchStarted marks a segment fetch as in flight.
func (m *Metrics) FetchStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// FetchDone records the outcome of a fetch started with FetchStarted.
func (m *Metrics) FetchDone(size int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.fetchDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.failures.Inc()
		return
	}
	m.segments.Inc()
	m.bytes.Add(float64(size))
}

// DownloadDone counts a finished stream download.
func (m *Metrics) DownloadDone(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.downloads.WithLabelValues(result).Inc()
}
