package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal tracks requests to the data source by endpoint and status class
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "racefetch_http_requests_total",
			Help: "Total number of requests sent to the data source",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPLatency tracks request latency
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "racefetch_http_latency_seconds",
			Help:    "Data source request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// RetriesTotal tracks retry attempts per scope (client or window)
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "racefetch_retries_total",
			Help: "Total number of retried calls",
		},
		[]string{"scope"},
	)

	// BreakerState tracks the circuit breaker state (0 closed, 1 half-open, 2 open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "racefetch_breaker_state",
			Help: "Circuit breaker state of the data source transport",
		},
		[]string{"name"},
	)

	// WindowsTotal tracks window outcomes (accepted, shrunk, failed)
	WindowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "racefetch_windows_total",
			Help: "Total number of fetch windows by outcome",
		},
		[]string{"outcome"},
	)

	// WindowSize tracks the current window size per driver
	WindowSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "racefetch_window_size_seconds",
			Help: "Current fetch window size in seconds",
		},
		[]string{"driver"},
	)

	// SamplesTotal tracks accepted samples per stream
	SamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "racefetch_samples_total",
			Help: "Total number of deduplicated samples accepted",
		},
		[]string{"stream"},
	)

	// SkippedRecordsTotal tracks records dropped for an unusable date
	SkippedRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "racefetch_skipped_records_total",
			Help: "Total number of undecodable records skipped",
		},
		[]string{"endpoint"},
	)

	// DriversTotal tracks per-driver fetch results
	DriversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "racefetch_drivers_total",
			Help: "Total number of driver fetches by result",
		},
		[]string{"result"},
	)
)
