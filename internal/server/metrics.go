package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide Prometheus collectors for turn latency
// and cache hit rate (spec.md §9's supplemented latency-instrumentation
// goal), via prometheus/client_golang rather than hand-rolled counters.
// CacheLookupTotal is registered, but nothing in this module increments it.
type Metrics struct {
	TurnTotal        *prometheus.CounterVec
	TurnLatency      *prometheus.HistogramVec
	CacheLookupTotal *prometheus.CounterVec
	ActiveCalls      prometheus.Gauge
}

// NewMetrics registers the collectors against reg (pass
// prometheus.DefaultRegisterer in production, a fresh prometheus.NewRegistry
// in tests to avoid duplicate-registration panics across test runs).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialcore",
			Name:      "turns_total",
			Help:      "Turns processed, labeled by the routing action taken.",
		}, []string{"action"}),
		TurnLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dialcore",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end turn latency by pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		CacheLookupTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialcore",
			Name:      "tts_cache_lookups_total",
			Help:      "Fixed-text TTS cache lookups, labeled by hit/miss.",
		}, []string{"result"}),
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dialcore",
			Name:      "active_calls",
			Help:      "Number of live call sessions.",
		}),
	}
}

// ObserveTurn records one completed turn's latency breakdown and routing
// action.
func (m *Metrics) ObserveTurn(action string, sttMS, classifierMS, llmMS, ttsMS, totalMS int64) {
	if m == nil {
		return
	}
	m.TurnTotal.WithLabelValues(action).Inc()
	m.TurnLatency.WithLabelValues("stt").Observe(float64(sttMS) / 1000)
	m.TurnLatency.WithLabelValues("classifier").Observe(float64(classifierMS) / 1000)
	m.TurnLatency.WithLabelValues("llm").Observe(float64(llmMS) / 1000)
	m.TurnLatency.WithLabelValues("tts").Observe(float64(ttsMS) / 1000)
	m.TurnLatency.WithLabelValues("total").Observe(float64(totalMS) / 1000)
}
