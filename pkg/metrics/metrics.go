// Package metrics holds the prometheus collectors for the notes pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDegraded  = "degraded"
)

type Metrics struct {
	registry *prometheus.Registry

	EmbeddingsDegraded    prometheus.Counter
	RetrievalDegraded     prometheus.Counter
	GenerationFailures    prometheus.Counter
	VectorCleanupFailures prometheus.Counter
	FragmentsUpserted     prometheus.Counter
	Turns                 *prometheus.CounterVec
	TurnDuration          prometheus.Histogram
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EmbeddingsDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "recall_embeddings_degraded_total",
			Help: "Embedding calls answered with zero vectors because the model is unavailable.",
		}),
		RetrievalDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "recall_retrieval_degraded_total",
			Help: "Retrievals that fell back to the no-match context.",
		}),
		GenerationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "recall_generation_failures_total",
			Help: "Generation calls that ended in the apology segment.",
		}),
		VectorCleanupFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "recall_vector_cleanup_failures_total",
			Help: "Fragment deletions that failed after the note row was removed.",
		}),
		FragmentsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "recall_fragments_upserted_total",
			Help: "Fragments written to the vector index.",
		}),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_turns_total",
			Help: "Chat turns by outcome.",
		}, []string{"outcome"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recall_turn_duration_seconds",
			Help:    "Wall time from user message commit to assistant persistence.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EmbeddingDegraded() {
	if m != nil {
		m.EmbeddingsDegraded.Inc()
	}
}

func (m *Metrics) RetrievalDegradedInc() {
	if m != nil {
		m.RetrievalDegraded.Inc()
	}
}

func (m *Metrics) GenerationFailed() {
	if m != nil {
		m.GenerationFailures.Inc()
	}
}

func (m *Metrics) CleanupFailed() {
	if m != nil {
		m.VectorCleanupFailures.Inc()
	}
}

func (m *Metrics) Upserted(n int) {
	if m != nil {
		m.FragmentsUpserted.Add(float64(n))
	}
}

func (m *Metrics) TurnFinished(outcome string, elapsed time.Duration) {
	if m != nil {
		m.Turns.WithLabelValues(outcome).Inc()
		m.TurnDuration.Observe(elapsed.Seconds())
	}
}
