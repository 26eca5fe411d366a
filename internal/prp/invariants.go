package prp

// Invariants tracks the three soft invariants checked on any transition into
// CONCLUDE or PROPOSE (spec §4.4). Violations are non-fatal: the
// responsible transition still proceeds (see design note "Exception-style
// control flow"), but they are logged for reviewers.
type Invariants struct {
	// NeedsTestAfterRejection is set when a supervisor rejection lands in
	// the current cycle; cleared once a test result is recorded.
	NeedsTestAfterRejection bool

	// ContextUpdatedInCycle is set once the context engine's pre_process
	// has run since the last CONCLUDE.
	ContextUpdatedInCycle bool

	// SkepticismGateSatisfied is set once a skepticism challenge has been
	// recorded in the cycle. Per the "skepticism_gate" open-question
	// decision, this is a logged-only soft invariant: it is asserted and
	// logged, never enforced to block a transition.
	SkepticismGateSatisfied bool

	// ViolationLog accumulates every violation ever observed, oldest first.
	ViolationLog []string

	testRecordedThisCycle bool
}

// NewInvariants returns a zero-valued tracker.
func NewInvariants() *Invariants {
	return &Invariants{}
}

// MarkRejection sets the test-after-rejection requirement for the current
// cycle; called by the supervisor gate on a successful rejection parse.
func (inv *Invariants) MarkRejection() {
	inv.NeedsTestAfterRejection = true
}

// RecordTestResult clears the test-after-rejection flag once a test result
// of any outcome has been observed.
func (inv *Invariants) RecordTestResult() {
	inv.testRecordedThisCycle = true
	inv.NeedsTestAfterRejection = false
}

// RecordContextUpdate marks that pre_process ran this cycle.
func (inv *Invariants) RecordContextUpdate() {
	inv.ContextUpdatedInCycle = true
}

// RecordSkepticismChallenge marks that a skepticism challenge was recorded
// this cycle.
func (inv *Invariants) RecordSkepticismChallenge() {
	inv.SkepticismGateSatisfied = true
}

// CheckOnConcludeOrPropose runs the three invariant checks and appends any
// violations found to ViolationLog, returning the violations observed on
// this call.
func (inv *Invariants) CheckOnConcludeOrPropose() []string {
	var violations []string

	if inv.NeedsTestAfterRejection && !inv.testRecordedThisCycle {
		violations = append(violations, "test_after_rejection")
	}
	if !inv.ContextUpdatedInCycle {
		violations = append(violations, "context_update_per_cycle")
	}
	// skepticism_gate is logged-only: record a violation if unsatisfied,
	// but CheckOnConcludeOrPropose's caller never blocks on it.
	if !inv.SkepticismGateSatisfied {
		violations = append(violations, "skepticism_gate")
	}

	inv.ViolationLog = append(inv.ViolationLog, violations...)
	return violations
}

// ResetForNewCycle clears the per-cycle flags when a new cycle begins
// (transition into PROPOSE). NeedsTestAfterRejection survives only if a
// rejection is still unresolved; in practice PROPOSE always starts clean
// since the prior cycle's CONCLUDE already validated it.
func (inv *Invariants) ResetForNewCycle() {
	inv.ContextUpdatedInCycle = false
	inv.SkepticismGateSatisfied = false
	inv.testRecordedThisCycle = false
}
