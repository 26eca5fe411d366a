package supervisorgate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nexus-prp/runtime/internal/prp"
	"github.com/nexus-prp/runtime/pkg/models"
)

func validPayload(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"cycle_iteration":    0,
		"exhaustion_mode":    "test_failure",
		"required_artifacts": []string{"pytest_report", "coverage_html"},
		"rationale":          "No tests.",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestGate_Review_AppliesSupervisorTransitionFromPropose(t *testing.T) {
	machine := prp.NewMachine()
	ledger := prp.NewLedger()
	backlog := prp.NewCritiqueBacklog()
	gate := NewGate()

	entry, err := ledger.ProposeHypothesis("try approach A", "", "", nil, time.Now())
	if err != nil {
		t.Fatalf("ProposeHypothesis() error = %v", err)
	}

	result, err := gate.Review(machine, ledger, backlog, nil, "ticket1", entry.CycleID, validPayload(t), time.Now())
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if result.SchemaError != nil {
		t.Fatalf("unexpected schema error: %v", result.SchemaError)
	}
	if machine.State() != prp.StateHypothesize {
		t.Fatalf("machine.State() = %v, want HYPOTHESIZE", machine.State())
	}
	if machine.CycleCount() != 1 {
		t.Fatalf("CycleCount() = %d, want 1", machine.CycleCount())
	}
	if !result.CritiqueAdded {
		t.Fatal("expected critique to be added")
	}
	if len(result.SupervisorRequirements) != 2 {
		t.Fatalf("len(SupervisorRequirements) = %d, want 2", len(result.SupervisorRequirements))
	}

	foundSystem, foundTool := false, false
	for _, msg := range result.Transcript {
		if msg.Role == models.RoleSystem {
			foundSystem = true
		}
		if msg.Role == models.RoleTool && msg.Metadata["tag"] == HypothesisCritiqueTag {
			foundTool = true
		}
	}
	if !foundSystem || !foundTool {
		t.Fatalf("expected both SystemMessage and tagged ToolMessage, got %d messages", len(result.Transcript))
	}

	updated, ok := ledger.Get(entry.CycleID)
	if !ok {
		t.Fatal("ledger entry missing after review")
	}
	critiques, _ := updated.Metadata["critiques"].([]prp.Critique)
	if len(critiques) != 1 {
		t.Fatalf("len(metadata.critiques) = %d, want 1", len(critiques))
	}
}

func TestGate_Review_DuplicateDeliveryAddsOneCritique(t *testing.T) {
	machine := prp.NewMachine()
	ledger := prp.NewLedger()
	backlog := prp.NewCritiqueBacklog()
	gate := NewGate()

	entry, _ := ledger.ProposeHypothesis("try approach A", "", "", nil, time.Now())

	if _, err := gate.Review(machine, ledger, backlog, nil, "ticket1", entry.CycleID, validPayload(t), time.Now()); err != nil {
		t.Fatalf("first Review() error = %v", err)
	}
	if _, err := gate.Review(machine, ledger, backlog, nil, "ticket1", entry.CycleID, validPayload(t), time.Now()); err != nil {
		t.Fatalf("second Review() error = %v", err)
	}

	if len(backlog.Entries()) != 1 {
		t.Fatalf("len(backlog.Entries()) = %d, want 1 after duplicate delivery", len(backlog.Entries()))
	}
}

func TestGate_Review_SchemaErrorOnMalformedPayload(t *testing.T) {
	machine := prp.NewMachine()
	ledger := prp.NewLedger()
	backlog := prp.NewCritiqueBacklog()
	gate := NewGate()

	bad := json.RawMessage(`{"cycle_iteration": "not-an-int"}`)
	result, err := gate.Review(machine, ledger, backlog, nil, "ticket1", "", bad, time.Now())
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if result.SchemaError == nil {
		t.Fatal("expected a schema error")
	}
	if machine.State() != prp.StatePropose {
		t.Fatalf("state changed on schema error: %v", machine.State())
	}
}

func TestGate_RequestFinalReview_RejectsWithoutPassingTests(t *testing.T) {
	machine := prp.NewMachine()
	machine.Apply(prp.StateHypothesize, prp.ReasonSupervisorRejection, time.Now())
	machine.Apply(prp.StateExecute, prp.ReasonAlways, time.Now())
	machine.Apply(prp.StateTest, prp.ReasonAlways, time.Now())

	gate := NewGate()
	result, err := gate.RequestFinalReview(machine, TestSuiteResult{OverallStatus: "failed"}, time.Now())
	if err != nil {
		t.Fatalf("RequestFinalReview() error = %v", err)
	}
	if result.Outcome != prp.Ok || machine.State() != prp.StateHypothesize {
		t.Fatalf("expected rejection to route back to HYPOTHESIZE, got outcome=%v state=%v", result.Outcome, machine.State())
	}
}

func TestGate_RequestFinalReview_AcceptsWithPassingTestsAndPropertyTest(t *testing.T) {
	machine := prp.NewMachine()
	machine.Apply(prp.StateHypothesize, prp.ReasonSupervisorRejection, time.Now())
	machine.Apply(prp.StateExecute, prp.ReasonAlways, time.Now())
	machine.Apply(prp.StateTest, prp.ReasonAlways, time.Now())

	gate := NewGate()
	result, err := gate.RequestFinalReview(machine, TestSuiteResult{OverallStatus: "passed", HasPropertyTest: true}, time.Now())
	if err != nil {
		t.Fatalf("RequestFinalReview() error = %v", err)
	}
	if result.Outcome != prp.Ok || machine.State() != prp.StateConclude {
		t.Fatalf("expected acceptance to route to CONCLUDE, got outcome=%v state=%v", result.Outcome, machine.State())
	}
}

func TestGate_RequestFinalReview_RejectsMissingPropertyTestAndRationale(t *testing.T) {
	machine := prp.NewMachine()
	machine.Apply(prp.StateHypothesize, prp.ReasonSupervisorRejection, time.Now())
	machine.Apply(prp.StateExecute, prp.ReasonAlways, time.Now())
	machine.Apply(prp.StateTest, prp.ReasonAlways, time.Now())

	gate := NewGate()
	result, err := gate.RequestFinalReview(machine, TestSuiteResult{OverallStatus: "passed"}, time.Now())
	if err != nil {
		t.Fatalf("RequestFinalReview() error = %v", err)
	}
	if machine.State() != prp.StateHypothesize {
		t.Fatalf("expected rejection without property test/rationale, got state=%v", machine.State())
	}
	_ = result
}
