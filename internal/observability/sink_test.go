package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nexus-prp/runtime/internal/contextengine"
	"github.com/nexus-prp/runtime/internal/registry"
)

// Both sinks are exercised from one test function: promauto registers into
// the default Prometheus registry, so constructing either sink more than
// once per test binary would panic on a duplicate metric name (same
// constraint internal/observability/metrics_test.go documents for Metrics).
func TestSinks(t *testing.T) {
	contextSink := NewContextSink()
	registrySink := NewRegistrySink()

	contextSink.ObserveContextQuality("chat-1", contextengine.Scores{
		Relevance:    0.9,
		Coherence:    0.8,
		Completeness: 0.7,
		Freshness:    0.6,
		Diversity:    0.5,
		Efficiency:   0.4,
		Quality:      0.75,
	})
	if got := testutil.ToFloat64(contextSink.quality.WithLabelValues("chat-1", "quality")); got != 0.75 {
		t.Errorf("quality gauge = %v, want 0.75", got)
	}
	if got := testutil.ToFloat64(contextSink.quality.WithLabelValues("chat-1", "relevance")); got != 0.9 {
		t.Errorf("relevance gauge = %v, want 0.9", got)
	}

	contextSink.ObserveContextWindowUsed("chat-1", 1234)
	if got := testutil.CollectAndCount(contextSink.windowUsed); got != 1 {
		t.Errorf("windowUsed series count = %d, want 1", got)
	}

	contextSink.ObserveCurationAction("chat-1", contextengine.ActionCompress)
	if got := testutil.ToFloat64(contextSink.curationTotal.WithLabelValues("chat-1", "compress")); got != 1 {
		t.Errorf("curationTotal = %v, want 1", got)
	}

	contextSink.ObserveContextReset("chat-1")
	if got := testutil.ToFloat64(contextSink.resetsTotal.WithLabelValues("chat-1")); got != 1 {
		t.Errorf("resetsTotal = %v, want 1", got)
	}

	registrySink.ObserveRegistryStats(registry.Stats{TotalAgents: 5, HealthyAgents: 3, UnhealthyAgents: 2})
	if got := testutil.ToFloat64(registrySink.total); got != 5 {
		t.Errorf("total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(registrySink.healthy); got != 3 {
		t.Errorf("healthy = %v, want 3", got)
	}
	if got := testutil.ToFloat64(registrySink.unhealthy); got != 2 {
		t.Errorf("unhealthy = %v, want 2", got)
	}
}
