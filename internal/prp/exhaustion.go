package prp

import "time"

// ExhaustionMode classifies why progress has stalled (spec §3, §4.4).
type ExhaustionMode string

const (
	ExhaustionNone               ExhaustionMode = "NONE"
	ExhaustionContextSaturation  ExhaustionMode = "CONTEXT_SATURATION"
	ExhaustionRetryDepletion     ExhaustionMode = "RETRY_DEPLETION"
	ExhaustionToolBackpressure   ExhaustionMode = "TOOL_BACKPRESSURE"
	ExhaustionLLMStop            ExhaustionMode = "LLM_STOP"
	ExhaustionTestFailure        ExhaustionMode = "TEST_FAILURE"
	ExhaustionHypothesisExhaust  ExhaustionMode = "HYPOTHESIS_EXHAUSTED"
	ExhaustionPredictedExhaust   ExhaustionMode = "PREDICTED_EXHAUSTION"
)

// ContextSaturationRatio is the context_window_used/context_window_max
// threshold above which CONTEXT_SATURATION is declared (spec §4.4).
const ContextSaturationRatio = 0.90

// ClassifyContextSaturation reports CONTEXT_SATURATION when used/max meets
// or exceeds the 0.90 threshold, else NONE.
func ClassifyContextSaturation(used, max int) ExhaustionMode {
	if max <= 0 {
		return ExhaustionNone
	}
	if float64(used)/float64(max) >= ContextSaturationRatio {
		return ExhaustionContextSaturation
	}
	return ExhaustionNone
}

// AutonomyCounters tracks per-chat autonomy bookkeeping (spec §3
// "autonomy_counters").
type AutonomyCounters struct {
	IterationCount     int
	FalseStopEvents    int
	FalseStopPending   int
	FalseStopMitigated int
}

// RecordLLMStop increments false-stop bookkeeping when the LLM yields an
// empty assistant reply (spec §4.4 "LLM stops producing").
func (c *AutonomyCounters) RecordLLMStop() {
	c.FalseStopEvents++
	c.FalseStopPending++
}

// MitigateFalseStop is invoked when a subsequent test suite result with
// overall_status "passed" is recorded while a false stop is pending
// (scenario E): it decrements FalseStopPending and increments
// FalseStopMitigated, returning whether a mitigation actually occurred.
func (c *AutonomyCounters) MitigateFalseStop() bool {
	if c.FalseStopPending <= 0 {
		return false
	}
	c.FalseStopPending--
	c.FalseStopMitigated++
	return true
}

// Predictor estimates the probability that the current refinement effort is
// exhausted, from the tail of the refinement ledger (spec §4.4 "Exhaustion
// predictor").
type Predictor struct {
	// Threshold is the probability at/above which PREDICTED_EXHAUSTION is
	// declared and the next transition is forced to HYPOTHESIZE.
	Threshold float64
	// TailSize bounds how many recent ledger entries are considered.
	TailSize int
}

// NewPredictor returns a Predictor with the given threshold and a default
// tail window of 10 entries.
func NewPredictor(threshold float64) *Predictor {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Predictor{Threshold: threshold, TailSize: 10}
}

// Predict computes the exhaustion probability: the fraction of recent
// entries whose ExhaustionTrigger is non-empty/NONE, weighted by recency
// (most recent entries count more).
func (p *Predictor) Predict(entries []LedgerEntry) float64 {
	tail := entries
	n := p.TailSize
	if n <= 0 {
		n = 10
	}
	if len(tail) > n {
		tail = tail[len(tail)-n:]
	}
	if len(tail) == 0 {
		return 0
	}

	var weightedHits, weightTotal float64
	for i, e := range tail {
		// Linear recency weight: oldest entry in the tail weighs 1, the
		// most recent weighs len(tail).
		weight := float64(i + 1)
		weightTotal += weight
		if e.ExhaustionTrigger != "" && e.ExhaustionTrigger != ExhaustionNone {
			weightedHits += weight
		}
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedHits / weightTotal
}

// ShouldForceHypothesize reports whether the predicted probability meets
// the configured threshold.
func (p *Predictor) ShouldForceHypothesize(entries []LedgerEntry) (float64, bool) {
	prob := p.Predict(entries)
	return prob, prob >= p.Threshold
}

// Scheduler periodically re-runs the exhaustion predictor across a fleet of
// chats, grounded on the teacher's robfig/cron usage for scheduled
// background work (see registry.Sweeper). ChatScanner supplies the set of
// chat_ids with an active machine to re-evaluate.
type Scheduler struct {
	predictor *Predictor
}

// NewScheduler builds a Scheduler around predictor.
func NewScheduler(predictor *Predictor) *Scheduler {
	return &Scheduler{predictor: predictor}
}

// Evaluate runs the predictor against one chat's ledger tail and, if the
// threshold is crossed, forces the machine toward HYPOTHESIZE.
func (s *Scheduler) Evaluate(m *Machine, entries []LedgerEntry, now time.Time) (float64, bool) {
	prob, force := s.predictor.ShouldForceHypothesize(entries)
	m.SetExhaustion(ternaryMode(force, ExhaustionPredictedExhaust, m.ExhaustionMode()), prob)
	if force {
		m.ForceHypothesize(now)
	}
	return prob, force
}

func ternaryMode(cond bool, ifTrue, ifFalse ExhaustionMode) ExhaustionMode {
	if cond {
		return ifTrue
	}
	return ifFalse
}
