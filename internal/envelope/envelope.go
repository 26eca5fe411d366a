// Package envelope implements the messaging fabric's wire format: the
// envelope carried between mailboxes and the append-only stream contract
// that moves it.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the atomic unit of inter-process communication.
type Envelope struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Payload   Payload   `json:"payload"`
}

// AutonomousSettings bounds an autonomous run.
type AutonomousSettings struct {
	MaxIterations int     `json:"max_iterations,omitempty"`
	MaxHours      float64 `json:"max_hours,omitempty"`
	MaxAgents     int     `json:"max_agents,omitempty"`
}

// AutonomousRouting carries escalation/delivery decisions alongside a reply.
type AutonomousRouting struct {
	DeliverToHuman  bool   `json:"deliver_to_human,omitempty"`
	Escalate        bool   `json:"escalate,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RecoveryAttempt int    `json:"recovery_attempts,omitempty"`
}

// WorkspaceDescriptor identifies a workspace tool session.
type WorkspaceDescriptor struct {
	WorkspaceID string    `json:"workspace_id"`
	Volume      string    `json:"volume,omitempty"`
	Container   string    `json:"container,omitempty"`
	MountPath   string    `json:"mount_path,omitempty"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Payload is the envelope's structured map. It is deliberately open-ended: a
// core set of known keys are strongly typed, and everything else round-trips
// through Extra untouched. See spec §3 and design note "Dynamic payload
// shapes".
type Payload struct {
	ChatID             string              `json:"chat_id,omitempty"`
	TicketID           string              `json:"ticket_id,omitempty"`
	ReplyTo            []string            `json:"reply_to,omitempty"`
	Supervisor         string              `json:"supervisor,omitempty"`
	AutonomousSettings *AutonomousSettings `json:"autonomous_settings,omitempty"`
	Workspace          *WorkspaceDescriptor `json:"workspace,omitempty"`
	Messages           json.RawMessage     `json:"messages,omitempty"`
	AutonomousRouting  *AutonomousRouting  `json:"autonomous_routing,omitempty"`

	Extra map[string]any `json:"-"`
}

// knownPayloadKeys lists the fields handled explicitly by MarshalJSON/UnmarshalJSON.
var knownPayloadKeys = map[string]bool{
	"chat_id": true, "ticket_id": true, "reply_to": true, "supervisor": true,
	"autonomous_settings": true, "workspace": true, "messages": true,
	"autonomous_routing": true,
}

// MarshalJSON merges the known fields with the pass-through bag.
func (p Payload) MarshalJSON() ([]byte, error) {
	type known Payload
	knownBytes, err := json.Marshal(known(p))
	if err != nil {
		return nil, err
	}
	merged := map[string]any{}
	if err := json.Unmarshal(knownBytes, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if !knownPayloadKeys[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON splits unrecognized keys into Extra, preserving them for
// round-trip.
func (p *Payload) UnmarshalJSON(data []byte) error {
	type known Payload
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := map[string]any{}
	for key, val := range raw {
		if !knownPayloadKeys[key] {
			extra[key] = val
		}
	}
	*p = Payload(k)
	p.Extra = extra
	return nil
}

// ToFields renders the envelope to a flat field map as written to the
// stream; payload is JSON-encoded into a single field.
func (e Envelope) ToFields() (map[string]string, error) {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return map[string]string{
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
		"sender":    e.Sender,
		"recipient": e.Recipient,
		"message":   e.Message,
		"payload":   string(payloadJSON),
	}, nil
}

// FromFields decodes the flat field map written by ToFields. Malformed
// payload JSON degrades to {_raw: original} rather than failing, per the
// fabric's best-effort forward-compatibility contract.
func FromFields(fields map[string]string) Envelope {
	e := Envelope{
		Sender:    fields["sender"],
		Recipient: fields["recipient"],
		Message:   fields["message"],
	}
	if ts, err := time.Parse(time.RFC3339, fields["timestamp"]); err == nil {
		e.Timestamp = ts
	}
	raw := fields["payload"]
	if raw == "" {
		return e
	}
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		e.Payload = Payload{Extra: map[string]any{"_raw": raw}}
		return e
	}
	e.Payload = p
	return e
}
