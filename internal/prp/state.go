// Package prp implements the Perpetual Refinement Protocol state machine:
// the five-state propose/hypothesize/execute/test/conclude loop, its
// refinement ledger, exhaustion predictor, and invariant checker. See
// spec §4.4, §4.6.
package prp

import (
	"time"
)

// State is one of the five PRP states.
type State string

const (
	StatePropose     State = "PROPOSE"
	StateHypothesize State = "HYPOTHESIZE"
	StateExecute     State = "EXECUTE"
	StateTest        State = "TEST"
	StateConclude    State = "CONCLUDE"
)

// TransitionOutcome classifies the result of an attempted transition.
// Failures in this state machine are never exceptions — see design note
// "Exception-style control flow in the source" — they are result values
// the caller inspects.
type TransitionOutcome string

const (
	// Ok means a normal, allowed transition was applied.
	Ok TransitionOutcome = "ok"
	// ViolatedButApplied means the transition itself was allowed, but an
	// invariant check on entry flagged a violation; state still advanced.
	ViolatedButApplied TransitionOutcome = "violated_but_applied"
	// Rejected means the transition is not in the allowed table; state is
	// unchanged and a prp_invalid_transition event is recorded.
	Rejected TransitionOutcome = "rejected"
)

// TransitionReason records why a transition was driven.
type TransitionReason string

const (
	ReasonSupervisorRejection TransitionReason = "supervisor_rejection"
	ReasonOrchestratorAccept  TransitionReason = "orchestrator_accept"
	ReasonAlways              TransitionReason = "always"
	ReasonTestFailure         TransitionReason = "test_failure"
	ReasonTestsPassed         TransitionReason = "tests_passed"
	ReasonNextCycle           TransitionReason = "next_cycle"
	ReasonPreemptive          TransitionReason = "preemptive_refinement"
)

// allowedTransitions is the table from spec §4.4. Any (from, to) pair not
// present here is invalid.
var allowedTransitions = map[State]map[State]bool{
	StatePropose:     {StateHypothesize: true, StateExecute: true},
	StateHypothesize: {StateExecute: true},
	StateExecute:     {StateTest: true},
	StateTest:        {StateHypothesize: true, StateConclude: true},
	StateConclude:    {StatePropose: true},
}

// TransitionResult is the outcome of an Apply call.
type TransitionResult struct {
	Outcome    TransitionOutcome
	From       State
	To         State
	Reason     TransitionReason
	Violations []string
	CycleCount int
}

// Machine drives PRP state for a single chat. It is not safe for concurrent
// use from multiple goroutines; callers serialize per chat_id (spec §5).
type Machine struct {
	state             State
	cycleCount        int
	invariants        *Invariants
	telemetry         *Telemetry
	exhaustionMode    ExhaustionMode
	exhaustionProb    float64
	predictorForcedAt int
}

// NewMachine constructs a Machine in the initial PROPOSE state.
func NewMachine() *Machine {
	return &Machine{
		state:      StatePropose,
		invariants: NewInvariants(),
		telemetry:  NewTelemetry(),
	}
}

// State returns the current PRP state.
func (m *Machine) State() State { return m.state }

// CycleCount returns the monotonic cycle counter.
func (m *Machine) CycleCount() int { return m.cycleCount }

// Invariants returns the invariant tracker for direct inspection/mutation
// by callers recording test results, skepticism challenges, etc.
func (m *Machine) Invariants() *Invariants { return m.invariants }

// Telemetry returns the append-only PRP event log.
func (m *Machine) Telemetry() *Telemetry { return m.telemetry }

// ExhaustionMode returns the current exhaustion classification.
func (m *Machine) ExhaustionMode() ExhaustionMode { return m.exhaustionMode }

// ExhaustionProbability returns the predictor's last computed probability.
func (m *Machine) ExhaustionProbability() float64 { return m.exhaustionProb }

// SetExhaustion records a new exhaustion classification/probability,
// computed by the context engine or the exhaustion predictor.
func (m *Machine) SetExhaustion(mode ExhaustionMode, probability float64) {
	m.exhaustionMode = mode
	m.exhaustionProb = probability
}

// Apply attempts a transition to `to` for `reason` at time `now`. Invalid
// transitions leave state unchanged and emit a prp_invalid_transition
// telemetry event (spec invariant 5). Supervisor-triggered PROPOSE/TEST ->
// HYPOTHESIZE transitions increment the cycle counter by exactly one
// (spec invariant 4).
func (m *Machine) Apply(to State, reason TransitionReason, now time.Time) TransitionResult {
	from := m.state
	if !allowedTransitions[from][to] {
		m.telemetry.Record(Event{
			Type:      "prp_invalid_transition",
			Timestamp: now,
			From:      from,
			To:        to,
			Reason:    reason,
		})
		return TransitionResult{Outcome: Rejected, From: from, To: to, Reason: reason, CycleCount: m.cycleCount}
	}

	if to == StateHypothesize && reason == ReasonSupervisorRejection {
		m.cycleCount++
	}

	m.state = to
	m.telemetry.Record(Event{
		Type:      "prp_transition",
		Timestamp: now,
		From:      from,
		To:        to,
		Reason:    reason,
	})

	result := TransitionResult{Outcome: Ok, From: from, To: to, Reason: reason, CycleCount: m.cycleCount}

	if to == StateConclude || to == StatePropose {
		violations := m.invariants.CheckOnConcludeOrPropose()
		if len(violations) > 0 {
			result.Outcome = ViolatedButApplied
			result.Violations = violations
			for _, v := range violations {
				m.telemetry.Record(Event{
					Type:      "invariant_violation",
					Timestamp: now,
					From:      from,
					To:        to,
					Detail:    v,
				})
			}
		}
		if to == StatePropose {
			m.invariants.ResetForNewCycle()
		}
	}

	return result
}

// ForceHypothesize is invoked by the exhaustion predictor (spec §4.4
// "Exhaustion predictor") when predicted exhaustion crosses the configured
// threshold; it forces the next transition toward HYPOTHESIZE regardless of
// the caller's intended destination, logging preemptive_refinement.
func (m *Machine) ForceHypothesize(now time.Time) TransitionResult {
	result := m.Apply(StateHypothesize, ReasonPreemptive, now)
	m.predictorForcedAt = m.cycleCount
	return result
}
