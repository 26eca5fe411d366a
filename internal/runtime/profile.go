// Package runtime implements the per-process runtime loop (spec §4.7, §5):
// envelope intake, per-chat_id state restoration, graph invocation, and
// response fan-out. Grounded on internal/agent/runtime.go's and
// internal/agent/loop.go's agentic-loop shape, generalized from a single
// session loop to the per-chat_id serial-worker model spec §5 describes.
package runtime

import (
	"github.com/nexus-prp/runtime/internal/agent"
	"github.com/nexus-prp/runtime/internal/envelope"
)

// Role identifies whether a process acts as the orchestrator or a worker
// agent (spec §4.7 "Each process is parameterized by a profile").
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleAgent        Role = "agent"
)

// RoutingInput is what a routing policy needs to decide recipients.
type RoutingInput struct {
	Inbound           envelope.Envelope
	ReplyMessage      string
	ExhaustionMode    string
	DeliverToHuman    bool
	Escalate          bool
	IsHumanTicketReply bool
}

// RoutingPolicy computes the recipients a reply envelope fans out to
// (spec §4.7 "routing_policy(envelope, payload) -> [recipient]").
type RoutingPolicy func(in RoutingInput) []string

// DefaultAgentRoutingPolicy implements spec §4.7's "Autonomous routing
// policy": exclude human by default; include human only when
// deliver_to_human or escalate is set, or the envelope directly answers a
// human-originated ticket. Replies otherwise go back to the envelope's
// sender.
func DefaultAgentRoutingPolicy(in RoutingInput) []string {
	recipients := []string{in.Inbound.Sender}
	if in.DeliverToHuman || in.Escalate || in.IsHumanTicketReply {
		recipients = append(recipients, "human")
	}
	return dedupStrings(recipients)
}

// OrchestratorRoutingPolicy fans an orchestrator's reply out to
// payload.ReplyTo when present, else back to the sender.
func OrchestratorRoutingPolicy(in RoutingInput) []string {
	if len(in.Inbound.Payload.ReplyTo) > 0 {
		return dedupStrings(append([]string(nil), in.Inbound.Payload.ReplyTo...))
	}
	return []string{in.Inbound.Sender}
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Profile parameterizes one runtime process (spec §4.7): identity, system
// prompt, bound tool set, and routing policy.
type Profile struct {
	Role          Role
	AgentID       string
	Mailbox       string
	SystemPrompt  string
	Tools         []agent.Tool
	RoutingPolicy RoutingPolicy

	// AutonomousSettings bounds an autonomous run for this profile; zero
	// values mean "no limit" (spec §6 "autonomous {max_iterations,
	// max_hours, max_agents}").
	MaxIterations int
	MaxHours      float64
}
