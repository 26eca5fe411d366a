package contextengine

// MetricsSink receives per-cycle context engine telemetry. Implemented by
// internal/observability; kept as a narrow interface here so this package
// does not depend on it (mirrors registry.MetricsSink).
type MetricsSink interface {
	ObserveContextQuality(chatID string, scores Scores)
	ObserveContextWindowUsed(chatID string, tokens int)
	ObserveCurationAction(chatID string, action CurationAction)
	ObserveContextReset(chatID string)
}

// noopSink discards everything; used when Engine is built without a sink.
type noopSink struct{}

func (noopSink) ObserveContextQuality(string, Scores)         {}
func (noopSink) ObserveContextWindowUsed(string, int)         {}
func (noopSink) ObserveCurationAction(string, CurationAction) {}
func (noopSink) ObserveContextReset(string)                   {}
