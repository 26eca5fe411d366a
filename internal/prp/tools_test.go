package prp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTools_ReturnsFourLedgerTools(t *testing.T) {
	tools := Tools(NewLedger())
	if len(tools) != 4 {
		t.Fatalf("len(tools) = %d, want 4", len(tools))
	}
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name()] = true
	}
	for _, want := range []string{"propose_hypothesis", "conclude_hypothesis", "query_past_failures", "infer_causal_chain"} {
		if !names[want] {
			t.Errorf("missing tool %q among %v", want, names)
		}
	}
}

func TestProposeHypothesisTool_Execute(t *testing.T) {
	ledger := NewLedger()
	tool := &ProposeHypothesisTool{Ledger: ledger}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"hypothesis":"try X","strategy":"s"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if len(ledger.Entries()) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(ledger.Entries()))
	}
	if !strings.Contains(result.Content, "try X") {
		t.Errorf("result content = %q, want it to contain the hypothesis", result.Content)
	}
}

func TestProposeHypothesisTool_Execute_InvalidJSON(t *testing.T) {
	tool := &ProposeHypothesisTool{Ledger: NewLedger()}
	result, err := tool.Execute(context.Background(), json.RawMessage(`not json`))
	if err != nil {
		t.Fatalf("Execute should report the error via ToolResult, not a Go error: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError = true for invalid JSON params")
	}
}

func TestConcludeHypothesisTool_Execute(t *testing.T) {
	ledger := NewLedger()
	entry, err := ledger.ProposeHypothesis("try X", "", "", nil, time.Now())
	if err != nil {
		t.Fatalf("ProposeHypothesis: %v", err)
	}

	tool := &ConcludeHypothesisTool{Ledger: ledger}
	params, _ := json.Marshal(map[string]string{"cycle_id": entry.CycleID, "status": string(StatusSucceeded)})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}

	got, ok := ledger.Get(entry.CycleID)
	if !ok || got.Status != StatusSucceeded {
		t.Errorf("entry status = %v, want %v", got.Status, StatusSucceeded)
	}
}

func TestConcludeHypothesisTool_Execute_UnknownCycle(t *testing.T) {
	tool := &ConcludeHypothesisTool{Ledger: NewLedger()}
	params, _ := json.Marshal(map[string]string{"cycle_id": "missing", "status": string(StatusFailed)})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError = true for an unknown cycle_id")
	}
}

func TestQueryPastFailuresTool_Execute(t *testing.T) {
	ledger := NewLedger()
	entry, _ := ledger.ProposeHypothesis("try X", "", "", nil, time.Now())
	if _, err := ledger.ConcludeHypothesis(entry.CycleID, StatusFailed, "did not work"); err != nil {
		t.Fatalf("ConcludeHypothesis: %v", err)
	}

	tool := &QueryPastFailuresTool{Ledger: ledger}
	params, _ := json.Marshal(map[string]string{"status": string(StatusFailed)})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var matches []LedgerEntry
	if err := json.Unmarshal([]byte(result.Content), &matches); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(matches) != 1 || matches[0].CycleID != entry.CycleID {
		t.Errorf("matches = %+v, want one entry for %s", matches, entry.CycleID)
	}
}

func TestInferCausalChainTool_Execute(t *testing.T) {
	ledger := NewLedger()
	base, _ := ledger.ProposeHypothesis("base", "", "", nil, time.Now())
	dependent, _ := ledger.ProposeHypothesis("dependent", "", "", []string{base.CycleID}, time.Now())

	tool := &InferCausalChainTool{Ledger: ledger}
	params, _ := json.Marshal(map[string][]string{"cycle_ids": {dependent.CycleID}})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
}
