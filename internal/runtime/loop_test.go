package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/nexus-prp/runtime/internal/agent"
	"github.com/nexus-prp/runtime/internal/chatstate"
	"github.com/nexus-prp/runtime/internal/envelope"
	"github.com/nexus-prp/runtime/pkg/models"
)

// TestLoopRun_DispatchesAndRoutesReply drives one envelope through the full
// loop (no registry, in-memory fabric/chat store): tail-read -> dispatch ->
// graph invoke -> checkpoint -> route, grounded on internal/agent/loop.go's
// run-until-cancelled shape.
func TestLoopRun_DispatchesAndRoutesReply(t *testing.T) {
	provider := &fakeProvider{chunks: []*agent.CompletionChunk{
		{Text: "hello back"},
		{Done: true},
	}}
	graph := newTestGraph(t, provider)

	fabric := envelope.NewMemoryFabric()
	manager := chatstate.NewManager(chatstate.NewMemoryStore())
	profile := Profile{
		AgentID:       "agent-aaaaaaaa",
		Mailbox:       envelope.Mailbox("agent-aaaaaaaa"),
		SystemPrompt:  "system",
		RoutingPolicy: DefaultAgentRoutingPolicy,
	}
	loop := NewLoop(profile, fabric, manager, graph, nil, nil)
	loop.BlockTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	// route() appends to the bare recipient id returned by the routing
	// policy (in.Sender here), not through envelope.Mailbox's prefix.
	senderMailbox := "agent-bbbbbbbb"
	if _, err := fabric.Append(context.Background(), profile.Mailbox, envelope.Envelope{
		Sender:  "agent-bbbbbbbb",
		Message: "hi",
		Payload: envelope.Payload{ChatID: "chat-1", TicketID: "ticket-1"},
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, "127.0.0.1", 9000) }()

	var replyBatches []envelope.MailboxBatch
	deadline := time.After(2 * time.Second)
	for {
		batches, err := fabric.TailRead(context.Background(), map[string]string{senderMailbox: ""}, 10, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("TailRead: %v", err)
		}
		if len(batches) > 0 && len(batches[0].Entries) > 0 {
			replyBatches = batches
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a reply envelope")
		default:
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	reply := replyBatches[0].Entries[0].Envelope()
	if reply.Message != "hello back" {
		t.Errorf("reply.Message = %q, want %q", reply.Message, "hello back")
	}
	if reply.Sender != profile.AgentID {
		t.Errorf("reply.Sender = %q, want %q", reply.Sender, profile.AgentID)
	}

	cs, err := manager.Load(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var sawAssistant bool
	for _, msg := range cs.Messages {
		if msg.Role == models.RoleAssistant && msg.Content == "hello back" {
			sawAssistant = true
		}
	}
	if !sawAssistant {
		t.Error("expected the checkpointed chat state to contain the assistant's reply")
	}
}

func TestLoopRun_DedupsRepeatedTicket(t *testing.T) {
	provider := &fakeProvider{chunks: []*agent.CompletionChunk{{Text: "reply"}, {Done: true}}}
	graph := newTestGraph(t, provider)

	fabric := envelope.NewMemoryFabric()
	manager := chatstate.NewManager(chatstate.NewMemoryStore())
	profile := Profile{
		AgentID:       "agent-aaaaaaaa",
		Mailbox:       envelope.Mailbox("agent-aaaaaaaa"),
		SystemPrompt:  "system",
		RoutingPolicy: DefaultAgentRoutingPolicy,
	}
	loop := NewLoop(profile, fabric, manager, graph, nil, nil)

	in := envelope.Envelope{
		Sender:  "agent-bbbbbbbb",
		Message: "hi",
		Payload: envelope.Payload{ChatID: "chat-2", TicketID: "ticket-dup"},
	}

	if err := loop.dispatch(context.Background(), in); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	cs, _ := manager.Load(context.Background(), "chat-2")
	firstLen := len(cs.Messages)

	if err := loop.dispatch(context.Background(), in); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	cs2, _ := manager.Load(context.Background(), "chat-2")
	if len(cs2.Messages) != firstLen {
		t.Errorf("duplicate ticket_id re-invoked the graph: messages went from %d to %d", firstLen, len(cs2.Messages))
	}
}
