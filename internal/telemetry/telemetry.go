// Package telemetry exposes the pipeline's prometheus collectors behind a
// small helper API so callers never touch metric vectors directly.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry wraps the pipeline metrics. A nil *Telemetry is safe to call, so
// components can take it optionally.
type Telemetry struct {
	requests       *prometheus.CounterVec
	intents        *prometheus.CounterVec
	clarifications prometheus.Counter
	llmLatency     *prometheus.HistogramVec
	extractionTier *prometheus.CounterVec
}

var (
	once     sync.Once
	instance *Telemetry
)

// New returns the process-wide telemetry instance, registering the collectors
// on first use.
func New() *Telemetry {
	once.Do(func() {
		instance = &Telemetry{
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "parley_requests_total",
				Help: "Processed turns by outcome (executed, clarification, error).",
			}, []string{"outcome"}),
			intents: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "parley_intents_total",
				Help: "Executed turns by resolved intent.",
			}, []string{"intent"}),
			clarifications: promauto.NewCounter(prometheus.CounterOpts{
				Name: "parley_clarifications_total",
				Help: "Turns answered with a clarifying question.",
			}),
			llmLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "parley_llm_call_seconds",
				Help:    "LLM call latency by routing profile.",
				Buckets: prometheus.DefBuckets,
			}, []string{"profile"}),
			extractionTier: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "parley_extraction_tier_total",
				Help: "Successful extractions by input type and tier.",
			}, []string{"type", "tier"}),
		}
	})
	return instance
}

// RecordRequest counts one processed turn by outcome.
func (t *Telemetry) RecordRequest(outcome string) {
	if t == nil {
		return
	}
	t.requests.WithLabelValues(outcome).Inc()
}

// RecordIntent counts one executed turn by intent.
func (t *Telemetry) RecordIntent(intent string) {
	if t == nil {
		return
	}
	t.intents.WithLabelValues(intent).Inc()
}

// RecordClarification counts one clarifying question.
func (t *Telemetry) RecordClarification() {
	if t == nil {
		return
	}
	t.clarifications.Inc()
}

// ObserveLLMCall records one LLM call's latency under its routing profile.
func (t *Telemetry) ObserveLLMCall(profile string, d time.Duration) {
	if t == nil {
		return
	}
	t.llmLatency.WithLabelValues(profile).Observe(d.Seconds())
}

// RecordExtractionTier counts which collaborator produced the text.
func (t *Telemetry) RecordExtractionTier(inputType, tier string) {
	if t == nil {
		return
	}
	t.extractionTier.WithLabelValues(inputType, tier).Inc()
}
