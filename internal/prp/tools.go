package prp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexus-prp/runtime/internal/agent"
)

// ledgerToolSchemas holds the JSON Schema for each ledger tool call the LLM
// is allowed to emit (spec §4.6). Grounded on supervisorgate/schema.go's
// inline-JSON-Schema-constant convention.
const (
	proposeHypothesisSchema = `{
		"type": "object",
		"properties": {
			"hypothesis": {"type": "string", "minLength": 1},
			"strategy": {"type": "string"},
			"summary": {"type": "string"},
			"dependencies": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["hypothesis"]
	}`
	concludeHypothesisSchema = `{
		"type": "object",
		"properties": {
			"cycle_id": {"type": "string", "minLength": 1},
			"status": {"type": "string", "enum": ["proposed", "in_progress", "succeeded", "failed", "abandoned"]},
			"summary": {"type": "string"}
		},
		"required": ["cycle_id", "status"]
	}`
	queryPastFailuresSchema = `{
		"type": "object",
		"properties": {
			"status": {"type": "string"},
			"hypothesis_contains": {"type": "string"},
			"limit": {"type": "integer", "minimum": 0},
			"include_tests": {"type": "boolean"}
		}
	}`
	inferCausalChainSchema = `{
		"type": "object",
		"properties": {
			"cycle_ids": {"type": "array", "items": {"type": "string"}, "minItems": 1}
		},
		"required": ["cycle_ids"]
	}`
)

// ProposeHypothesisTool wraps Ledger.ProposeHypothesis as an agent.Tool.
type ProposeHypothesisTool struct{ Ledger *Ledger }

func (t *ProposeHypothesisTool) Name() string        { return "propose_hypothesis" }
func (t *ProposeHypothesisTool) Description() string { return "Proposes a new refinement hypothesis for the current PRP cycle." }
func (t *ProposeHypothesisTool) Schema() json.RawMessage {
	return json.RawMessage(proposeHypothesisSchema)
}

func (t *ProposeHypothesisTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var req struct {
		Hypothesis   string   `json:"hypothesis"`
		Strategy     string   `json:"strategy"`
		Summary      string   `json:"summary"`
		Dependencies []string `json:"dependencies"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errorToolResult(err)
	}
	entry, err := t.Ledger.ProposeHypothesis(req.Hypothesis, req.Strategy, req.Summary, req.Dependencies, time.Now())
	if err != nil {
		return errorToolResult(err)
	}
	return jsonToolResult(entry)
}

// ConcludeHypothesisTool wraps Ledger.ConcludeHypothesis as an agent.Tool.
type ConcludeHypothesisTool struct{ Ledger *Ledger }

func (t *ConcludeHypothesisTool) Name() string        { return "conclude_hypothesis" }
func (t *ConcludeHypothesisTool) Description() string { return "Concludes a refinement ledger entry with a terminal status and summary." }
func (t *ConcludeHypothesisTool) Schema() json.RawMessage {
	return json.RawMessage(concludeHypothesisSchema)
}

func (t *ConcludeHypothesisTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var req struct {
		CycleID string       `json:"cycle_id"`
		Status  LedgerStatus `json:"status"`
		Summary string       `json:"summary"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errorToolResult(err)
	}
	entry, err := t.Ledger.ConcludeHypothesis(req.CycleID, req.Status, req.Summary)
	if err != nil {
		return errorToolResult(err)
	}
	return jsonToolResult(entry)
}

// QueryPastFailuresTool wraps Ledger.QueryPastFailures as an agent.Tool.
type QueryPastFailuresTool struct{ Ledger *Ledger }

func (t *QueryPastFailuresTool) Name() string        { return "query_past_failures" }
func (t *QueryPastFailuresTool) Description() string { return "Queries the refinement ledger for past entries matching a status/text filter." }
func (t *QueryPastFailuresTool) Schema() json.RawMessage {
	return json.RawMessage(queryPastFailuresSchema)
}

func (t *QueryPastFailuresTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var req struct {
		Status              LedgerStatus `json:"status"`
		HypothesisContains  string       `json:"hypothesis_contains"`
		Limit               int          `json:"limit"`
		IncludeTests        bool         `json:"include_tests"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errorToolResult(err)
	}
	matches := t.Ledger.QueryPastFailures(QueryFilter{Status: req.Status, HypothesisContains: req.HypothesisContains}, req.Limit, req.IncludeTests)
	return jsonToolResult(matches)
}

// InferCausalChainTool wraps Ledger.InferCausalChain as an agent.Tool.
type InferCausalChainTool struct{ Ledger *Ledger }

func (t *InferCausalChainTool) Name() string        { return "infer_causal_chain" }
func (t *InferCausalChainTool) Description() string { return "Walks ledger dependencies transitively and attaches the result to each entry's causal_links." }
func (t *InferCausalChainTool) Schema() json.RawMessage {
	return json.RawMessage(inferCausalChainSchema)
}

func (t *InferCausalChainTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var req struct {
		CycleIDs []string `json:"cycle_ids"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return errorToolResult(err)
	}
	if err := t.Ledger.InferCausalChain(req.CycleIDs); err != nil {
		return errorToolResult(err)
	}
	var entries []LedgerEntry
	for _, id := range req.CycleIDs {
		if e, ok := t.Ledger.Get(id); ok {
			entries = append(entries, e)
		}
	}
	return jsonToolResult(entries)
}

// Tools returns all four ledger tools bound to ledger, ready for
// registration with agent.ToolRegistry alongside the workspace tools.
func Tools(ledger *Ledger) []agent.Tool {
	return []agent.Tool{
		&ProposeHypothesisTool{Ledger: ledger},
		&ConcludeHypothesisTool{Ledger: ledger},
		&QueryPastFailuresTool{Ledger: ledger},
		&InferCausalChainTool{Ledger: ledger},
	}
}

func jsonToolResult(v any) (*agent.ToolResult, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: string(encoded)}, nil
}

func errorToolResult(err error) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
}
