// Package metrics holds the Prometheus collectors for the mirror.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_turns_total",
			Help: "Total number of conversation turns by outcome",
		},
		[]string{"outcome"},
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_state_transitions_total",
			Help: "Total number of conversation state transitions",
		},
		[]string{"from", "to"},
	)

	ConversationState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mirror_conversation_state",
			Help: "1 for the active conversation state, 0 otherwise",
		},
		[]string{"state"},
	)

	ContextFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_context_fetch_total",
			Help: "Total number of context provider calls",
		},
		[]string{"source", "status"},
	)

	ContextFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "mirror_context_fetch_duration_seconds",
			Help: "Context provider call duration in seconds",
		},
		[]string{"source"},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_llm_requests_total",
			Help: "Total number of language model requests",
		},
		[]string{"provider", "status"},
	)

	LLMLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mirror_llm_latency_seconds",
			Help:    "Language model latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	RecognitionRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_recognition_restarts_total",
			Help: "Total number of recognition start attempts by result",
		},
		[]string{"result"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_cache_lookups_total",
			Help: "Total number of snapshot cache lookups",
		},
		[]string{"key", "result"},
	)
)

var states = []string{"idle", "capturing", "processing", "speaking"}

// SetState marks state as the active conversation state.
func SetState(state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		ConversationState.WithLabelValues(s).Set(v)
	}
}
