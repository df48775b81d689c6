// Package metrics defines the Prometheus instruments for a run and the
// optional HTTP endpoint that exposes them. All metrics are prefixed with
// "sessionmux_".
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Encoder probing
var (
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionmux_encoder_probes_total",
			Help: "Encoder capability probes by candidate and verdict",
		},
		[]string{"encoder", "verdict"},
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionmux_encoder_probe_duration_seconds",
			Help:    "Trial encode duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"encoder"},
	)
)

// Merging and encoding
var (
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionmux_merges_total",
			Help: "Channel merges by channel and status",
		},
		[]string{"channel", "status"},
	)

	EncodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionmux_encodes_total",
			Help: "Final encodes by encoder, quality tier and status",
		},
		[]string{"encoder", "tier", "status"},
	)

	EncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionmux_encode_duration_seconds",
			Help:    "Final encode duration in seconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"encoder"},
	)
)

// Jobs and downloads
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionmux_jobs_total",
			Help: "Batch jobs by final status",
		},
		[]string{"status"}, // "ok", "skipped", "failed"
	)

	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessionmux_jobs_in_flight",
			Help: "Jobs currently being processed",
		},
	)

	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionmux_download_bytes_total",
			Help: "Bytes of recording archives downloaded",
		},
	)
)

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// ObserveProbe records one candidate's probe verdict.
func ObserveProbe(encoderID string, usable bool, elapsed time.Duration) {
	verdict := "unusable"
	if usable {
		verdict = "usable"
	}
	ProbesTotal.WithLabelValues(encoderID, verdict).Inc()
	if elapsed > 0 {
		ProbeDuration.WithLabelValues(encoderID).Observe(elapsed.Seconds())
	}
}

// ObserveMerge records a channel merge outcome.
func ObserveMerge(channel string, ok bool) {
	MergesTotal.WithLabelValues(channel, status(ok)).Inc()
}

// ObserveEncode records a final encode outcome and, on success, its duration.
func ObserveEncode(encoderID, tier string, ok bool, elapsed time.Duration) {
	EncodesTotal.WithLabelValues(encoderID, tier, status(ok)).Inc()
	if ok {
		EncodeDuration.WithLabelValues(encoderID).Observe(elapsed.Seconds())
	}
}

// ObserveJob records a finished job; status is "ok", "skipped" or "failed".
func ObserveJob(status string) {
	JobsTotal.WithLabelValues(status).Inc()
}
