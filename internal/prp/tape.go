package prp

import (
	"encoding/json"
	"time"
)

// Tape records a PRP telemetry stream for post-hoc, time-travel debugging —
// an original_source-style feature the distilled spec gestures at via
// refinement_ledger history but never names by this name. Grounded on
// internal/agent/tape's Tape/Turn recorder shape, generalized from LLM
// turns to PRP events.
type Tape struct {
	Version   string    `json:"version"`
	ChatID    string    `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
	Events    []Event   `json:"events"`
}

// NewTape returns an empty tape for chatID.
func NewTape(chatID string, now time.Time) *Tape {
	return &Tape{Version: "1.0", ChatID: chatID, CreatedAt: now, Events: []Event{}}
}

// Append appends events in order, typically the full log from Telemetry.
func (t *Tape) Append(events ...Event) {
	t.Events = append(t.Events, events...)
}

// Marshal serializes the tape to indented JSON.
func (t *Tape) Marshal() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// UnmarshalTape deserializes a tape previously written by Marshal.
func UnmarshalTape(data []byte) (*Tape, error) {
	var tape Tape
	if err := json.Unmarshal(data, &tape); err != nil {
		return nil, err
	}
	return &tape, nil
}

// ReplayState is the PRP state/cycle as of a given point in a tape replay.
type ReplayState struct {
	State      State
	CycleCount int
	EventIndex int
}

// Replayer steps through a Tape's events, reconstructing PRP state at each
// point for debugging ("time-travel"). It never re-invokes the LLM or any
// side-effecting tool; it only replays state transitions already recorded.
type Replayer struct {
	tape  *Tape
	index int
	state State
	cycle int
}

// NewReplayer returns a Replayer positioned before the tape's first event.
func NewReplayer(tape *Tape) *Replayer {
	return &Replayer{tape: tape, state: StatePropose}
}

// Step advances the replay by one event, returning the resulting state and
// false once the tape is exhausted.
func (r *Replayer) Step() (ReplayState, bool) {
	if r.index >= len(r.tape.Events) {
		return ReplayState{}, false
	}
	e := r.tape.Events[r.index]
	r.index++
	if e.Type == "prp_transition" {
		r.state = e.To
		if e.To == StateHypothesize && e.Reason == ReasonSupervisorRejection {
			r.cycle++
		}
	}
	return ReplayState{State: r.state, CycleCount: r.cycle, EventIndex: r.index - 1}, true
}

// SeekToEventIndex replays from the start up to (and including) idx,
// returning the state at that point.
func (r *Replayer) SeekToEventIndex(idx int) (ReplayState, bool) {
	r.index, r.state, r.cycle = 0, StatePropose, 0
	var last ReplayState
	ok := true
	for r.index <= idx && ok {
		last, ok = r.Step()
	}
	return last, ok || r.index > 0
}
