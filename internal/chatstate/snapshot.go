package chatstate

import (
	"time"

	"github.com/nexus-prp/runtime/internal/contextengine"
	"github.com/nexus-prp/runtime/internal/prp"
	"github.com/nexus-prp/runtime/pkg/models"
)

// Snapshot is ChatState flattened to a plain, JSON-serializable shape for
// checkpointing (spec §3 "Lifecycle": "written through a durable
// checkpoint after each graph invocation"). ChatState itself holds live
// objects (*prp.Machine, *contextengine.Segments) with unexported fields,
// so checkpointing always goes through this intermediate.
type Snapshot struct {
	ChatID              string                   `json:"chat_id"`
	Messages            []*models.Message        `json:"messages"`
	ContextSegments     []contextengine.Segment  `json:"context_segments"`
	ExternalMemoryIndex map[string]string        `json:"external_memory_index"`

	PRPState              prp.State          `json:"prp_state"`
	PRPCycleCount         int                `json:"prp_cycle_count"`
	ExhaustionMode        prp.ExhaustionMode `json:"exhaustion_mode"`
	ExhaustionProbability float64            `json:"exhaustion_probability"`
	Invariants            prp.Invariants     `json:"invariants"`
	Telemetry             []prp.Event        `json:"telemetry"`

	RefinementLedger []prp.LedgerEntry   `json:"refinement_ledger"`
	AutonomyCounters prp.AutonomyCounters `json:"autonomy_counters"`
	CritiqueBacklog  []prp.Critique       `json:"critique_backlog"`

	Workspace *Workspace `json:"workspace"`

	LastTestSuiteResult *TestSuiteResult `json:"last_test_suite_result,omitempty"`

	CheckpointedAt time.Time `json:"checkpointed_at"`
}

// ToSnapshot flattens cs for persistence.
func (cs *ChatState) ToSnapshot(now time.Time) Snapshot {
	return Snapshot{
		ChatID:                cs.ChatID,
		Messages:              cs.Messages,
		ContextSegments:       cs.ContextSegments.All(),
		ExternalMemoryIndex:   cs.ExternalMemoryIndex,
		PRPState:              cs.PRP.State(),
		PRPCycleCount:         cs.PRP.CycleCount(),
		ExhaustionMode:        cs.PRP.ExhaustionMode(),
		ExhaustionProbability: cs.PRP.ExhaustionProbability(),
		Invariants:            *cs.PRP.Invariants(),
		Telemetry:             cs.PRP.Telemetry().Events(),
		RefinementLedger:      cs.Ledger.Entries(),
		AutonomyCounters:      cs.Autonomy,
		CritiqueBacklog:       cs.CritiqueBacklog.Entries(),
		Workspace:             cs.Workspace,
		LastTestSuiteResult:  cs.LastTestSuiteResult,
		CheckpointedAt:        now,
	}
}

// FromSnapshot rebuilds a live ChatState from a checkpointed Snapshot.
// Telemetry is restored read-only (the machine's internal event log
// starts fresh but is seeded with the prior events so callers inspecting
// Telemetry() see full history); PRP state/cycle/exhaustion are restored
// via the dedicated restore path on prp.Machine.
func FromSnapshot(snap Snapshot) *ChatState {
	cs := &ChatState{
		ChatID:              snap.ChatID,
		Messages:            snap.Messages,
		ContextSegments:     contextengine.FromSlice(snap.ContextSegments),
		ExternalMemoryIndex: snap.ExternalMemoryIndex,
		PRP: prp.Restore(prp.RestoreState{
			State:                 snap.PRPState,
			CycleCount:            snap.PRPCycleCount,
			ExhaustionMode:        snap.ExhaustionMode,
			ExhaustionProbability: snap.ExhaustionProbability,
			Invariants:            snap.Invariants,
			Telemetry:             snap.Telemetry,
		}),
		Ledger:               prp.RestoreLedger(snap.RefinementLedger),
		Autonomy:             snap.AutonomyCounters,
		CritiqueBacklog:      prp.RestoreCritiqueBacklog(snap.CritiqueBacklog),
		Workspace:            snap.Workspace,
		LastTestSuiteResult:  snap.LastTestSuiteResult,
	}
	if cs.ExternalMemoryIndex == nil {
		cs.ExternalMemoryIndex = map[string]string{}
	}
	return cs
}
