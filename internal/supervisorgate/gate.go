package supervisorgate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexus-prp/runtime/internal/prp"
	"github.com/nexus-prp/runtime/pkg/models"
)

// HypothesisCritiqueTag marks the synthesized ToolMessage carrying the raw
// supervisor payload (spec §4.5 step 2).
const HypothesisCritiqueTag = "hypothesis_critique"

// Gate parses structured supervisor rejection/approval payloads and drives
// PRP transitions, generalized from the teacher's Supervisor/DelegateTool/
// ReportTool "delegate to a specialist" pattern into "parse a structured
// rejection payload and drive state" (spec §4.5).
type Gate struct{}

// NewGate returns a Gate. It is stateless; all state lives in the Machine,
// Ledger, and CritiqueBacklog passed to Review.
func NewGate() *Gate { return &Gate{} }

// ReviewResult reports what the gate did with one supervisor envelope.
type ReviewResult struct {
	SchemaError        *SchemaError
	Transition         prp.TransitionResult
	Critique           prp.Critique
	CritiqueAdded       bool
	SupervisorRequirements []string
	Transcript          []*models.Message
}

// Review implements spec §4.5 steps 1-5. ticketID/cycleID identify the
// envelope for critique backlog dedup; rawPayload is the supervisor
// envelope's message body, still JSON-encoded.
func (g *Gate) Review(
	machine *prp.Machine,
	ledger *prp.Ledger,
	backlog *prp.CritiqueBacklog,
	transcript []*models.Message,
	ticketID, currentCycleID string,
	rawPayload json.RawMessage,
	now time.Time,
) (ReviewResult, error) {
	payload, err := ValidatePayload(rawPayload)
	if err != nil {
		var schemaErr *SchemaError
		if se, ok := err.(*SchemaError); ok {
			schemaErr = se
		}
		return ReviewResult{SchemaError: schemaErr, Transcript: transcript}, nil
	}

	summary := fmt.Sprintf("Supervisor Review Feedback: %s", payload.Rationale)
	systemMsg := &models.Message{
		Role:      models.RoleSystem,
		Content:   summary,
		CreatedAt: now,
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return ReviewResult{}, fmt.Errorf("supervisorgate: marshal payload for transcript: %w", err)
	}
	toolMsg := &models.Message{
		Role:      models.RoleTool,
		Content:   string(payloadJSON),
		Metadata:  map[string]any{"tag": HypothesisCritiqueTag},
		CreatedAt: now,
	}
	out := append(append([]*models.Message{}, transcript...), systemMsg, toolMsg)

	critique, added := backlog.TranslateAndAppend(prp.SupervisorRejection{
		TicketID:          ticketID,
		CycleID:           currentCycleID,
		RequiredArtifacts: payload.RequiredArtifacts,
		Rationale:         payload.Rationale,
	})
	if added && currentCycleID != "" {
		_ = ledger.AppendCritique(currentCycleID, critique)
	}

	var transition prp.TransitionResult
	switch machine.State() {
	case prp.StatePropose, prp.StateTest:
		transition = machine.Apply(prp.StateHypothesize, prp.ReasonSupervisorRejection, now)
	default:
		transition = prp.TransitionResult{Outcome: prp.Rejected, From: machine.State(), To: prp.StateHypothesize, Reason: prp.ReasonSupervisorRejection}
	}

	return ReviewResult{
		Transition:             transition,
		Critique:               critique,
		CritiqueAdded:          added,
		SupervisorRequirements: payload.RequiredArtifacts,
		Transcript:             out,
	}, nil
}

// TestSuiteResult is the minimal shape RequestFinalReview needs from the
// latest recorded test suite run.
type TestSuiteResult struct {
	OverallStatus       string
	HasPropertyTest     bool
	PropertyTestRationale string
}

// RequestFinalReview implements spec §4.5's inverse gate: before the
// orchestrator may call request_final_review, the latest test suite result
// must be "passed" AND a property-test result or rationale must be
// present. On failure it is rejected with the same effect as a supervisor
// rejection (test_failure).
func (g *Gate) RequestFinalReview(machine *prp.Machine, latest TestSuiteResult, now time.Time) (prp.TransitionResult, error) {
	if latest.OverallStatus != "passed" {
		return g.rejectAsTestFailure(machine, now), nil
	}
	if !latest.HasPropertyTest && latest.PropertyTestRationale == "" {
		return g.rejectAsTestFailure(machine, now), nil
	}
	return machine.Apply(prp.StateConclude, prp.ReasonTestsPassed, now), nil
}

func (g *Gate) rejectAsTestFailure(machine *prp.Machine, now time.Time) prp.TransitionResult {
	switch machine.State() {
	case prp.StatePropose, prp.StateTest:
		return machine.Apply(prp.StateHypothesize, prp.ReasonTestFailure, now)
	default:
		return prp.TransitionResult{Outcome: prp.Rejected, From: machine.State(), To: prp.StateHypothesize, Reason: prp.ReasonTestFailure}
	}
}
