// Package metrics exposes turn and dependency measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rag_chat"

// Metrics implements the chat recorder and the memory observer.
type Metrics struct {
	registry *prometheus.Registry

	turns          *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	summarizations *prometheus.CounterVec
	externalCalls  *prometheus.HistogramVec
	externalErrors *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		// Labels: state (final turn state), degraded
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "total",
			Help:      "Conversational turns by final state",
		}, []string{"state", "degraded"}),
		turnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "duration_seconds",
			Help:      "Duration of conversational turns",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"state"}),
		// Labels: outcome (success, failure, stale, skipped)
		summarizations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "summarizations_total",
			Help:      "Summarization runs by outcome",
		}, []string{"outcome"}),
		externalCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "call_duration_seconds",
			Help:      "Duration of calls to external services",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		externalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "errors_total",
			Help:      "Failed calls to external services",
		}, []string{"service"}),
	}
}

func (m *Metrics) TurnFinished(state entity.TurnState, degraded bool, elapsed time.Duration) {
	deg := "false"
	if degraded {
		deg = "true"
	}
	m.turns.WithLabelValues(string(state), deg).Inc()
	m.turnDuration.WithLabelValues(string(state)).Observe(elapsed.Seconds())
}

func (m *Metrics) ExternalCall(service string, elapsed time.Duration, err error) {
	m.externalCalls.WithLabelValues(service).Observe(elapsed.Seconds())
	if err != nil {
		m.externalErrors.WithLabelValues(service).Inc()
	}
}

func (m *Metrics) SummarizationFinished(outcome string) {
	m.summarizations.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
