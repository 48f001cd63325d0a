// Package metrics records turn-level timing and derives the latency
// breakdown published once per turn. Collection never blocks the
// orchestrator's critical path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prom holds the Prometheus instruments for the bridge.
type Prom struct {
	registry *prometheus.Registry

	TurnsTotal          *prometheus.CounterVec
	SpeculativeDiscards prometheus.Counter
	StageSeconds        *prometheus.HistogramVec
	SessionsActive      prometheus.Gauge
	TransfersDropped    prometheus.Counter
}

// NewProm creates a Prom with all instruments registered.
func NewProm(namespace string) *Prom {
	if namespace == "" {
		namespace = "voicebridge"
	}

	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Voice turns by outcome and backend kind",
		},
		[]string{"outcome", "brain"},
	)

	speculativeDiscards := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speculative_discards_total",
			Help:      "Speculative generations discarded because the final transcript differed",
		},
	)

	stageSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_seconds",
			Help:      "Per-stage turn latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Managed sessions currently in the store",
		},
	)

	transfersDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_transfers_dropped_total",
			Help:      "Side-channel chunk transfers dropped (protocol error or idle eviction)",
		},
	)

	registry.MustRegister(turnsTotal, speculativeDiscards, stageSeconds, sessionsActive, transfersDropped)

	return &Prom{
		registry:            registry,
		TurnsTotal:          turnsTotal,
		SpeculativeDiscards: speculativeDiscards,
		StageSeconds:        stageSeconds,
		SessionsActive:      sessionsActive,
		TransfersDropped:    transfersDropped,
	}
}

// Handler exposes the registry for scraping.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
