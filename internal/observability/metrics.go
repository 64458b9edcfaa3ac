// Package observability holds the Prometheus metrics exported on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "airwatch"

// Ingestion outcomes used as the "outcome" label.
const (
	OutcomeSuccess    = "success"
	OutcomeValidation = "validation_error"
	OutcomeDuplicate  = "duplicate"
	OutcomeUnknown    = "unknown_city"
	OutcomeConnection = "connection_error"
	OutcomeError      = "error"
)

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion,
// queries and the store circuit breaker.
type Metrics struct {
	// Ingestion metrics.
	BatchesIngested *prometheus.CounterVec // labels: outcome
	ReportsInserted prometheus.Counter
	CellsImputed    *prometheus.CounterVec // labels: pollutant
	BatchRows       prometheus.Histogram
	IngestDuration  prometheus.Histogram

	// Alert metrics.
	AlertsRaised         prometheus.Counter
	AlertPublishFailures prometheus.Counter

	// Query metrics.
	Queries *prometheus.CounterVec // labels: query, outcome

	// StoreBreakerState is 0 when closed, 1 when half-open and 2 when open.
	StoreBreakerState prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BatchesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_ingested_total",
			Help:      "Ingested batches by outcome.",
		}, []string{"outcome"}),
		ReportsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_inserted_total",
			Help:      "Total reports committed to the store.",
		}),
		CellsImputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_imputed_total",
			Help:      "Missing pollutant cells filled by imputation.",
		}, []string{"pollutant"}),
		BatchRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_rows",
			Help:      "Number of data rows per ingested batch.",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000, 10000},
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of a complete batch ingestion.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		AlertsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts derived from committed reports.",
		}),
		AlertPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_publish_failures_total",
			Help:      "Alert batches that could not be published.",
		}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Read queries by name and outcome.",
		}, []string{"query", "outcome"}),
		StoreBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_breaker_state",
			Help:      "Store circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BatchesIngested,
			m.ReportsInserted,
			m.CellsImputed,
			m.BatchRows,
			m.IngestDuration,
			m.AlertsRaised,
			m.AlertPublishFailures,
			m.Queries,
			m.StoreBreakerState,
		)
	}

	return m
}
