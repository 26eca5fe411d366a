// Package chatstate owns the per-chat_id aggregate the runtime loop
// checkpoints after every graph invocation: transcript, context segments,
// PRP machine, refinement ledger, critique backlog, and workspace
// descriptor (spec §3 "Chat state"). See internal/sessions for the
// pattern this package generalizes from per-session transcripts to the
// full per-chat PRP aggregate.
package chatstate

import (
	"github.com/nexus-prp/runtime/internal/contextengine"
	"github.com/nexus-prp/runtime/internal/prp"
	"github.com/nexus-prp/runtime/internal/supervisorgate"
	"github.com/nexus-prp/runtime/internal/toolsurface"
	"github.com/nexus-prp/runtime/pkg/models"
)

// Workspace is the sandbox descriptor attached to a chat once the
// orchestrator provisions one (spec §3 "workspace"). A chat with no
// workspace carries a nil pointer. Aliased to toolsurface.Descriptor, the
// type workspace_create actually returns, so the two packages never drift.
type Workspace = toolsurface.Descriptor

// TestSuiteResult is the latest recorded test-suite outcome (spec §4.5's
// inverse gate: "the latest last_test_suite_result.overall_status ==
// passed"). Aliased to supervisorgate.TestSuiteResult, the shape
// RequestFinalReview consumes, so the two packages never drift.
type TestSuiteResult = supervisorgate.TestSuiteResult

// ChatState is the full per-chat_id aggregate (spec §3 "Chat state"),
// owned by one process at a time and checkpointed after every graph
// invocation.
type ChatState struct {
	ChatID string

	// Messages is the ordered LLM-shaped transcript.
	Messages []*models.Message

	// ContextSegments holds the working-memory segments the context
	// engine scores, curates, and reloads.
	ContextSegments *contextengine.Segments

	// ExternalMemoryIndex maps reference_id -> durable storage path for
	// every externalized segment (spec §3 "external_memory_index").
	ExternalMemoryIndex map[string]string

	// PRP is the state machine owning prp_state, prp_cycle_count,
	// invariants, telemetry, and exhaustion classification.
	PRP *prp.Machine

	// Ledger is the refinement ledger (spec §3 "refinement_ledger").
	Ledger *prp.Ledger

	// Autonomy tracks iteration/false-stop bookkeeping (spec §3
	// "autonomy_counters").
	Autonomy prp.AutonomyCounters

	// CritiqueBacklog queues translated supervisor critiques (spec §3
	// "critique_backlog").
	CritiqueBacklog *prp.CritiqueBacklog

	// Workspace is the sandbox descriptor, or nil if none has been
	// provisioned for this chat.
	Workspace *Workspace

	// LastTestSuiteResult is the most recently recorded test-suite outcome,
	// or nil if none has been recorded yet. internal/runtime/graph.go's
	// runTools populates it from workspace_exec results; the
	// request_final_review tool gates on it.
	LastTestSuiteResult *TestSuiteResult
}

// New returns a freshly materialized ChatState for chatID: PROPOSE state,
// empty ledger/backlog/segments, no workspace. Used the first time a
// chat_id is seen (spec §3 "Lifecycle": "lazily materialized on the first
// envelope carrying its chat_id").
func New(chatID string) *ChatState {
	return &ChatState{
		ChatID:              chatID,
		ContextSegments:     contextengine.NewSegments(),
		ExternalMemoryIndex: map[string]string{},
		PRP:                 prp.NewMachine(),
		Ledger:              prp.NewLedger(),
		CritiqueBacklog:     prp.NewCritiqueBacklog(),
	}
}

// ExhaustionRatio returns context_window_used/context_window_max, the
// input the context engine's pre_process step feeds into PRP exhaustion
// classification (spec §4.3 step 8). Returns 0 if max is non-positive.
func (cs *ChatState) ExhaustionRatio(max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(cs.ContextSegments.ContextWindowUsed()) / float64(max)
}

// AppendMessage appends msg to the transcript.
func (cs *ChatState) AppendMessage(msg *models.Message) {
	cs.Messages = append(cs.Messages, msg)
}
