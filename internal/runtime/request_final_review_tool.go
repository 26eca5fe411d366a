package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexus-prp/runtime/internal/agent"
	"github.com/nexus-prp/runtime/internal/chatstate"
	"github.com/nexus-prp/runtime/internal/prp"
	"github.com/nexus-prp/runtime/internal/supervisorgate"
)

// requestFinalReviewSchema is the JSON Schema for the request_final_review
// tool call (spec §4.5's inverse gate). Grounded on
// internal/prp/tools.go's inline-JSON-Schema-constant convention.
const requestFinalReviewSchema = `{
	"type": "object",
	"properties": {
		"overall_status": {"type": "string"},
		"has_property_test": {"type": "boolean"},
		"property_test_rationale": {"type": "string"}
	}
}`

// RequestFinalReviewTool wraps supervisorgate.Gate.RequestFinalReview as an
// agent.Tool (spec §4.5: "the inverse gate ... the driver calls
// request_final_review before proposing a CONCLUDE transition"). Unlike the
// ledger tools in internal/prp/tools.go, it needs the live PRP machine and
// the chat's last recorded test-suite result, so it lives alongside the
// graph that owns both rather than in internal/prp.
type RequestFinalReviewTool struct {
	Gate      *supervisorgate.Gate
	Machine   *prp.Machine
	ChatState *chatstate.ChatState
}

func (t *RequestFinalReviewTool) Name() string {
	return "request_final_review"
}

func (t *RequestFinalReviewTool) Description() string {
	return "Requests the final CONCLUDE transition; rejected back to HYPOTHESIZE unless the last test suite passed and a property test ran."
}

func (t *RequestFinalReviewTool) Schema() json.RawMessage {
	return json.RawMessage(requestFinalReviewSchema)
}

// Execute reads the request body as an optional override of the chat's
// last recorded test-suite result (so the driver can request review in the
// same turn a test result is reported) and falls back to
// t.ChatState.LastTestSuiteResult when the body is empty.
func (t *RequestFinalReviewTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	latest := supervisorgate.TestSuiteResult{}
	if t.ChatState.LastTestSuiteResult != nil {
		latest = *t.ChatState.LastTestSuiteResult
	}

	var override supervisorgate.TestSuiteResult
	if len(params) > 0 {
		if err := json.Unmarshal(params, &override); err == nil && override.OverallStatus != "" {
			latest = override
		}
	}

	transition, err := t.Gate.RequestFinalReview(t.Machine, latest, time.Now())
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	encoded, err := json.Marshal(transition)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: string(encoded), IsError: transition.Outcome == prp.Rejected}, nil
}
