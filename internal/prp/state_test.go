package prp

import (
	"testing"
	"time"
)

func TestApplyValidTransitions(t *testing.T) {
	m := NewMachine()
	now := time.Now()

	res := m.Apply(StateExecute, ReasonOrchestratorAccept, now)
	if res.Outcome != Ok {
		t.Fatalf("PROPOSE->EXECUTE: got outcome %v, want Ok", res.Outcome)
	}
	if m.State() != StateExecute {
		t.Fatalf("state = %v, want EXECUTE", m.State())
	}

	m.Invariants().RecordContextUpdate()
	m.Invariants().RecordSkepticismChallenge()

	res = m.Apply(StateTest, ReasonAlways, now)
	if res.Outcome != Ok {
		t.Fatalf("EXECUTE->TEST: got %v", res.Outcome)
	}

	res = m.Apply(StateConclude, ReasonTestsPassed, now)
	if res.Outcome != Ok {
		t.Fatalf("TEST->CONCLUDE: got outcome %v, violations %v", res.Outcome, res.Violations)
	}
}

func TestApplyInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	m := NewMachine()
	now := time.Now()

	res := m.Apply(StateConclude, ReasonAlways, now)
	if res.Outcome != Rejected {
		t.Fatalf("outcome = %v, want Rejected", res.Outcome)
	}
	if m.State() != StatePropose {
		t.Fatalf("state changed after rejected transition: %v", m.State())
	}
	if m.Telemetry().CountByType("prp_invalid_transition") != 1 {
		t.Fatalf("expected one prp_invalid_transition event")
	}
}

func TestCycleCountIncrementsOnlyOnSupervisorRejection(t *testing.T) {
	m := NewMachine()
	now := time.Now()

	before := m.CycleCount()
	m.Apply(StateHypothesize, ReasonSupervisorRejection, now)
	if m.CycleCount() != before+1 {
		t.Fatalf("cycle count = %d, want %d", m.CycleCount(), before+1)
	}

	m2 := NewMachine()
	m2.Apply(StateExecute, ReasonOrchestratorAccept, now)
	m2.Apply(StateTest, ReasonAlways, now)
	beforeFailure := m2.CycleCount()
	m2.Apply(StateHypothesize, ReasonTestFailure, now)
	if m2.CycleCount() != beforeFailure {
		t.Fatalf("cycle count changed on non-supervisor transition: %d -> %d", beforeFailure, m2.CycleCount())
	}
}

func TestInvariantViolationsAreNonFatal(t *testing.T) {
	m := NewMachine()
	now := time.Now()

	m.Apply(StateExecute, ReasonOrchestratorAccept, now)
	m.Apply(StateTest, ReasonAlways, now)
	// No context update, no skepticism challenge recorded.
	res := m.Apply(StateConclude, ReasonTestsPassed, now)
	if res.Outcome != ViolatedButApplied {
		t.Fatalf("outcome = %v, want ViolatedButApplied", res.Outcome)
	}
	if m.State() != StateConclude {
		t.Fatalf("transition did not apply despite being non-fatal: state=%v", m.State())
	}
	if len(res.Violations) == 0 {
		t.Fatalf("expected violations to be reported")
	}
}

func TestForceHypothesizeLogsPreemptiveRefinement(t *testing.T) {
	m := NewMachine()
	now := time.Now()
	m.Apply(StateExecute, ReasonOrchestratorAccept, now)
	m.Apply(StateTest, ReasonAlways, now)

	res := m.ForceHypothesize(now)
	if res.Outcome != Ok {
		t.Fatalf("ForceHypothesize outcome = %v", res.Outcome)
	}
	events := m.Telemetry().Events()
	found := false
	for _, e := range events {
		if e.Reason == ReasonPreemptive {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a preemptive_refinement transition event")
	}
}
