package prp

import (
	"testing"
	"time"
)

func TestClassifyContextSaturation(t *testing.T) {
	cases := []struct {
		used, max int
		want      ExhaustionMode
	}{
		{89, 100, ExhaustionNone},
		{90, 100, ExhaustionContextSaturation},
		{91, 100, ExhaustionContextSaturation},
		{0, 0, ExhaustionNone},
	}
	for _, c := range cases {
		if got := ClassifyContextSaturation(c.used, c.max); got != c.want {
			t.Errorf("ClassifyContextSaturation(%d, %d) = %v, want %v", c.used, c.max, got, c.want)
		}
	}
}

func TestMitigateFalseStop(t *testing.T) {
	c := &AutonomyCounters{}
	c.RecordLLMStop()
	if c.FalseStopPending != 1 {
		t.Fatalf("pending = %d, want 1", c.FalseStopPending)
	}
	if !c.MitigateFalseStop() {
		t.Fatalf("expected mitigation to succeed")
	}
	if c.FalseStopPending != 0 || c.FalseStopMitigated != 1 {
		t.Fatalf("pending=%d mitigated=%d, want 0,1", c.FalseStopPending, c.FalseStopMitigated)
	}
	if c.MitigateFalseStop() {
		t.Fatalf("expected no mitigation when nothing is pending")
	}
}

func TestPredictorWeightsRecentEntriesMore(t *testing.T) {
	p := NewPredictor(0.5)
	entries := []LedgerEntry{
		{ExhaustionTrigger: ExhaustionTestFailure},
		{ExhaustionTrigger: ExhaustionNone},
		{ExhaustionTrigger: ExhaustionNone},
	}
	// Oldest entry is exhausted, two most recent are not: probability should
	// be low since recency weighting discounts the old hit.
	prob := p.Predict(entries)
	if prob >= 0.5 {
		t.Fatalf("expected low probability with exhaustion only in the old entry, got %.2f", prob)
	}

	entriesRecent := []LedgerEntry{
		{ExhaustionTrigger: ExhaustionNone},
		{ExhaustionTrigger: ExhaustionNone},
		{ExhaustionTrigger: ExhaustionTestFailure},
	}
	probRecent := p.Predict(entriesRecent)
	if probRecent <= prob {
		t.Fatalf("expected higher probability when exhaustion is in the most recent entry: %.2f vs %.2f", probRecent, prob)
	}
}

func TestSchedulerForcesHypothesizeAboveThreshold(t *testing.T) {
	m := NewMachine()
	now := time.Now()
	m.Apply(StateExecute, ReasonOrchestratorAccept, now)
	m.Apply(StateTest, ReasonAlways, now)

	predictor := NewPredictor(0.3)
	sched := NewScheduler(predictor)
	entries := []LedgerEntry{
		{ExhaustionTrigger: ExhaustionTestFailure},
		{ExhaustionTrigger: ExhaustionTestFailure},
	}

	prob, forced := sched.Evaluate(m, entries, now)
	if !forced {
		t.Fatalf("expected predictor to force hypothesize, prob=%.2f", prob)
	}
	if m.State() != StateHypothesize {
		t.Fatalf("state = %v, want HYPOTHESIZE", m.State())
	}
	if m.ExhaustionMode() != ExhaustionPredictedExhaust {
		t.Fatalf("exhaustion mode = %v, want PREDICTED_EXHAUSTION", m.ExhaustionMode())
	}
}
