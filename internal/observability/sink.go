package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nexus-prp/runtime/internal/contextengine"
	"github.com/nexus-prp/runtime/internal/registry"
)

// ContextSink adapts *Metrics into contextengine.MetricsSink, giving the
// context engine's six-axis quality scores, curation actions, window usage,
// and resets a home in the same Prometheus registry as the rest of the
// runtime's metrics.
type ContextSink struct {
	quality       *prometheus.GaugeVec
	windowUsed    *prometheus.HistogramVec
	curationTotal *prometheus.CounterVec
	resetsTotal   *prometheus.CounterVec
}

// NewContextSink registers the context-engine metric families and returns a
// sink ready to pass to contextengine.NewEngine.
func NewContextSink() *ContextSink {
	return &ContextSink{
		quality: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_context_quality",
				Help: "Per-chat context quality score by axis",
			},
			[]string{"chat_id", "axis"},
		),
		windowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_context_window_used_tokens",
				Help:    "Context window tokens used per pre/post-process pass",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000, 256000},
			},
			[]string{"chat_id"},
		),
		curationTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_context_curation_actions_total",
				Help: "Curation actions taken by chat and action type",
			},
			[]string{"chat_id", "action"},
		),
		resetsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_context_resets_total",
				Help: "Context resets triggered per chat",
			},
			[]string{"chat_id"},
		),
	}
}

func (s *ContextSink) ObserveContextQuality(chatID string, scores contextengine.Scores) {
	s.quality.WithLabelValues(chatID, "relevance").Set(scores.Relevance)
	s.quality.WithLabelValues(chatID, "coherence").Set(scores.Coherence)
	s.quality.WithLabelValues(chatID, "completeness").Set(scores.Completeness)
	s.quality.WithLabelValues(chatID, "freshness").Set(scores.Freshness)
	s.quality.WithLabelValues(chatID, "diversity").Set(scores.Diversity)
	s.quality.WithLabelValues(chatID, "efficiency").Set(scores.Efficiency)
	s.quality.WithLabelValues(chatID, "quality").Set(scores.Quality)
}

func (s *ContextSink) ObserveContextWindowUsed(chatID string, tokens int) {
	s.windowUsed.WithLabelValues(chatID).Observe(float64(tokens))
}

func (s *ContextSink) ObserveCurationAction(chatID string, action contextengine.CurationAction) {
	s.curationTotal.WithLabelValues(chatID, string(action)).Inc()
}

func (s *ContextSink) ObserveContextReset(chatID string) {
	s.resetsTotal.WithLabelValues(chatID).Inc()
}

var _ contextengine.MetricsSink = (*ContextSink)(nil)

// RegistrySink adapts *Metrics into registry.MetricsSink, exposing the
// sweeper's periodic agent-health snapshot as gauges.
type RegistrySink struct {
	total     prometheus.Gauge
	healthy   prometheus.Gauge
	unhealthy prometheus.Gauge
}

// NewRegistrySink registers the registry metric family and returns a sink
// ready to pass to registry.NewSweeper.
func NewRegistrySink() *RegistrySink {
	return &RegistrySink{
		total: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_registry_agents_total",
			Help: "Total registered agents",
		}),
		healthy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_registry_agents_healthy",
			Help: "Registered agents currently healthy",
		}),
		unhealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_registry_agents_unhealthy",
			Help: "Registered agents currently unhealthy",
		}),
	}
}

func (s *RegistrySink) ObserveRegistryStats(stats registry.Stats) {
	s.total.Set(float64(stats.TotalAgents))
	s.healthy.Set(float64(stats.HealthyAgents))
	s.unhealthy.Set(float64(stats.UnhealthyAgents))
}

var _ registry.MetricsSink = (*RegistrySink)(nil)
