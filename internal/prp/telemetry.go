package prp

import "time"

// Event is a single PRP telemetry record: a validated transition, an
// invalid-transition attempt, an invariant violation, or a false-stop
// detection/mitigation. See spec §3 "telemetry".
type Event struct {
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	From      State            `json:"from,omitempty"`
	To        State            `json:"to,omitempty"`
	Reason    TransitionReason `json:"reason,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// Telemetry is the append-only log of PRP events for a chat.
type Telemetry struct {
	events []Event
}

// NewTelemetry returns an empty telemetry log.
func NewTelemetry() *Telemetry {
	return &Telemetry{}
}

// Record appends an event.
func (t *Telemetry) Record(e Event) {
	t.events = append(t.events, e)
}

// Events returns all recorded events, oldest first.
func (t *Telemetry) Events() []Event {
	return t.events
}

// Since returns events recorded at or after `from`.
func (t *Telemetry) Since(from time.Time) []Event {
	var out []Event
	for _, e := range t.events {
		if !e.Timestamp.Before(from) {
			out = append(out, e)
		}
	}
	return out
}

// CountByType returns how many recorded events match typ.
func (t *Telemetry) CountByType(typ string) int {
	n := 0
	for _, e := range t.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}
