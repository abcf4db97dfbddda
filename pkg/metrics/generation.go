package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/d4l-data4life/go-chat-host/pkg/config"
)

// Generation kinds
const (
	KindText  = "text"
	KindImage = "image"
)

// Generation outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

var (
	generationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamePrefix,
		Name:      "generations_total",
		Help:      "Number of finished generations by provider, kind and outcome.",
	}, []string{"provider", "kind", "outcome"})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricNamePrefix,
		Name:      "generation_duration_seconds",
		Help:      "Wall time of generations from the provider call to the last chunk.",
		Buckets:   config.GenerationBuckets,
	}, []string{"provider", "kind"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamePrefix,
		Name:      "tokens_total",
		Help:      "Tokens reported by providers, split into prompt and completion.",
	}, []string{"provider", "type"})

	tokenRate = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricNamePrefix,
		Name:      "tokens_per_second",
		Help:      "Throughput of finished text generations.",
		Buckets:   config.TokenRateBuckets,
	}, []string{"provider"})

	activeGenerations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricNamePrefix,
		Name:      "active_generations",
		Help:      "Generations currently streaming.",
	})
)

// GenerationStarted tracks a generation until the returned func is called with its outcome
func GenerationStarted(provider, kind string) func(outcome string) {
	start := time.Now()
	activeGenerations.Inc()
	return func(outcome string) {
		activeGenerations.Dec()
		generationsTotal.WithLabelValues(provider, kind, outcome).Inc()
		if outcome == OutcomeSuccess {
			generationDuration.WithLabelValues(provider, kind).Observe(time.Since(start).Seconds())
		}
	}
}

// AddTokens records the token usage of a finished generation
func AddTokens(provider string, prompt, completion int) {
	tokensTotal.WithLabelValues(provider, "prompt").Add(float64(prompt))
	tokensTotal.WithLabelValues(provider, "completion").Add(float64(completion))
}

// ObserveTokenRate records the throughput of a finished text generation
func ObserveTokenRate(provider string, tokensPerSecond float64) {
	if tokensPerSecond > 0 {
		tokenRate.WithLabelValues(provider).Observe(tokensPerSecond)
	}
}
