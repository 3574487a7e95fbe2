// Package metrics exposes Prometheus instrumentation for the polling and
// alerting pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailwatch_cycles_total",
			Help: "Total number of polling cycles",
		},
		[]string{"status"}, // ok, fetch_error, engine_error
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tailwatch_cycle_duration_seconds",
			Help:    "Duration of one fetch-evaluate-reconcile cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	MarketsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tailwatch_markets_evaluated_total",
			Help: "Total number of normalized market snapshots evaluated",
		},
	)

	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailwatch_records_dropped_total",
			Help: "Total number of upstream records dropped during normalization",
		},
		[]string{"reason"},
	)

	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailwatch_alerts_sent_total",
			Help: "Total number of alert transitions, by kind",
		},
		[]string{"kind"},
	)

	RecoveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tailwatch_recoveries_total",
			Help: "Total number of conditions cleared",
		},
	)

	DispatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tailwatch_dispatch_failures_total",
			Help: "Total number of notification sends that failed after retries",
		},
	)
)
