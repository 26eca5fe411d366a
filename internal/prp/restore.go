package prp

// RestoreState is the flattened shape a checkpoint store hands back to
// Restore; it mirrors the fields a Machine cannot otherwise be rebuilt
// from since State, CycleCount, Invariants, and Telemetry are private.
type RestoreState struct {
	State                 State
	CycleCount            int
	ExhaustionMode        ExhaustionMode
	ExhaustionProbability float64
	Invariants            Invariants
	Telemetry             []Event
}

// Restore rebuilds a Machine from a prior checkpoint (spec §3 "Lifecycle":
// "restored on process restart from the checkpoint store keyed by
// chat_id"). The rebuilt machine resumes exactly where it left off: same
// state, cycle count, exhaustion classification, invariant flags, and
// telemetry history.
func Restore(snap RestoreState) *Machine {
	invariants := snap.Invariants
	telemetry := NewTelemetry()
	for _, e := range snap.Telemetry {
		telemetry.Record(e)
	}
	return &Machine{
		state:          snap.State,
		cycleCount:     snap.CycleCount,
		invariants:     &invariants,
		telemetry:      telemetry,
		exhaustionMode: snap.ExhaustionMode,
		exhaustionProb: snap.ExhaustionProbability,
	}
}

// RestoreLedger rebuilds a Ledger from its checkpointed entries, preserving
// order and every field (novelty scores, causal links, metadata).
func RestoreLedger(entries []LedgerEntry) *Ledger {
	return &Ledger{entries: append([]LedgerEntry(nil), entries...)}
}

// RestoreCritiqueBacklog rebuilds a CritiqueBacklog from its checkpointed
// entries, rebuilding the dedup set so a replayed supervisor rejection for
// an already-restored (ticket_id, cycle_id) is still recognized as a
// duplicate.
func RestoreCritiqueBacklog(entries []Critique) *CritiqueBacklog {
	backlog := &CritiqueBacklog{
		entries: append([]Critique(nil), entries...),
		seen:    make(map[string]bool, len(entries)),
	}
	for _, c := range entries {
		backlog.seen[dedupKey(c.TicketID, c.CycleID)] = true
	}
	return backlog
}
