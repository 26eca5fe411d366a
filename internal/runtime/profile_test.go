package runtime

import (
	"testing"

	"github.com/nexus-prp/runtime/internal/envelope"
)

func TestDefaultAgentRoutingPolicy_DefaultsToSenderOnly(t *testing.T) {
	in := RoutingInput{Inbound: envelope.Envelope{Sender: "agent-aaaaaaaa"}}
	got := DefaultAgentRoutingPolicy(in)
	if len(got) != 1 || got[0] != "agent-aaaaaaaa" {
		t.Errorf("recipients = %v, want [agent-aaaaaaaa]", got)
	}
}

func TestDefaultAgentRoutingPolicy_EscalatesToHuman(t *testing.T) {
	in := RoutingInput{
		Inbound:  envelope.Envelope{Sender: "agent-aaaaaaaa"},
		Escalate: true,
	}
	got := DefaultAgentRoutingPolicy(in)
	if len(got) != 2 || got[1] != "human" {
		t.Errorf("recipients = %v, want [agent-aaaaaaaa human]", got)
	}
}

func TestDefaultAgentRoutingPolicy_DeliverToHumanAndTicketReply(t *testing.T) {
	for _, in := range []RoutingInput{
		{Inbound: envelope.Envelope{Sender: "x"}, DeliverToHuman: true},
		{Inbound: envelope.Envelope{Sender: "x"}, IsHumanTicketReply: true},
	} {
		got := DefaultAgentRoutingPolicy(in)
		if len(got) != 2 || got[1] != "human" {
			t.Errorf("recipients = %v, want sender+human", got)
		}
	}
}

func TestOrchestratorRoutingPolicy_PrefersReplyTo(t *testing.T) {
	in := RoutingInput{Inbound: envelope.Envelope{
		Sender:  "agent-aaaaaaaa",
		Payload: envelope.Payload{ReplyTo: []string{"agent-bbbbbbbb", "human"}},
	}}
	got := OrchestratorRoutingPolicy(in)
	if len(got) != 2 || got[0] != "agent-bbbbbbbb" || got[1] != "human" {
		t.Errorf("recipients = %v, want [agent-bbbbbbbb human]", got)
	}
}

func TestOrchestratorRoutingPolicy_FallsBackToSender(t *testing.T) {
	in := RoutingInput{Inbound: envelope.Envelope{Sender: "agent-aaaaaaaa"}}
	got := OrchestratorRoutingPolicy(in)
	if len(got) != 1 || got[0] != "agent-aaaaaaaa" {
		t.Errorf("recipients = %v, want [agent-aaaaaaaa]", got)
	}
}

func TestDedupStrings(t *testing.T) {
	got := dedupStrings([]string{"a", "", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}
