// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application. A nil
// *Metrics is valid: every record method is a no-op, so library users
// who do not scrape anything pay nothing.
type Metrics struct {
	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Engine metrics
	BlueprintsAccepted prometheus.Counter
	BlueprintsRejected *prometheus.CounterVec
	PositionsOpened    prometheus.Counter
	PositionsClosed    *prometheus.CounterVec
	ResetsTriggered    prometheus.Counter

	// Ledger metrics
	EventsPersisted     prometheus.Counter
	ExecutionsPersisted prometheus.Counter
	ReconcileAnomalies  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "portfolio_replay_lab"
	}

	return &Metrics{
		// Run metrics
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Total number of backtest runs by status",
		}, []string{"status"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Backtest run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),

		// Engine metrics
		BlueprintsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "blueprints_accepted_total",
			Help:      "Total number of trade blueprints accepted",
		}),
		BlueprintsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "blueprints_rejected_total",
			Help:      "Total number of trade blueprints rejected by reason",
		}, []string{"reason"}),
		PositionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "positions_opened_total",
			Help:      "Total number of positions opened",
		}),
		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "positions_closed_total",
			Help:      "Total number of positions closed by reason",
		}, []string{"reason"}),
		ResetsTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "resets_triggered_total",
			Help:      "Total number of portfolio resets triggered",
		}),

		// Ledger metrics
		EventsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_persisted_total",
			Help:      "Total number of lifecycle events persisted",
		}),
		ExecutionsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "executions_persisted_total",
			Help:      "Total number of executions persisted",
		}),
		ReconcileAnomalies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reconcile_anomalies_total",
			Help:      "Total number of reconciliation anomalies by check",
		}, []string{"check"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRun records a completed run and its duration.
func (m *Metrics) RecordRun(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordBlueprintAccepted increments the accepted blueprint counter.
func (m *Metrics) RecordBlueprintAccepted() {
	if m == nil {
		return
	}
	m.BlueprintsAccepted.Inc()
}

// RecordBlueprintRejected increments the rejected blueprint counter.
func (m *Metrics) RecordBlueprintRejected(reason string) {
	if m == nil {
		return
	}
	m.BlueprintsRejected.WithLabelValues(reason).Inc()
}

// RecordPositionOpened increments the opened position counter.
func (m *Metrics) RecordPositionOpened() {
	if m == nil {
		return
	}
	m.PositionsOpened.Inc()
}

// RecordPositionClosed increments the closed position counter.
func (m *Metrics) RecordPositionClosed(reason string) {
	if m == nil {
		return
	}
	m.PositionsClosed.WithLabelValues(reason).Inc()
}

// RecordReset increments the portfolio reset counter.
func (m *Metrics) RecordReset() {
	if m == nil {
		return
	}
	m.ResetsTriggered.Inc()
}

// RecordPersisted adds persisted event and execution counts.
func (m *Metrics) RecordPersisted(events, executions int) {
	if m == nil {
		return
	}
	m.EventsPersisted.Add(float64(events))
	m.ExecutionsPersisted.Add(float64(executions))
}

// RecordAnomaly increments the reconciliation anomaly counter.
func (m *Metrics) RecordAnomaly(check string) {
	if m == nil {
		return
	}
	m.ReconcileAnomalies.WithLabelValues(check).Inc()
}
