package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nexus-prp/runtime/internal/chatstate"
	"github.com/nexus-prp/runtime/internal/envelope"
	"github.com/nexus-prp/runtime/internal/prp"
	"github.com/nexus-prp/runtime/internal/supervisorgate"
)

// Loop is the top-level per-process runtime: startup registration, mailbox
// intake, per-chat_id serial dispatch, autonomy guardrails, emergency-stop
// handling, and graceful shutdown draining (spec §4.7 steps 1-4, §5).
// Grounded on internal/agent/loop.go's run-until-cancelled shape,
// generalized from a single-session read loop to the multi-chat mailbox
// tail-read described in spec §4.1/§4.7.
type Loop struct {
	Profile  Profile
	Fabric   envelope.Fabric
	Manager  *chatstate.Manager
	Graph    *Graph
	Registry *RegistryClient
	Dedup    *EnvelopeDedup
	Logger   *slog.Logger

	StartupTimeout    time.Duration
	HeartbeatInterval time.Duration
	BlockTimeout      time.Duration
	MaxBatch          int

	mu        sync.Mutex
	startedAt map[string]time.Time
	halted    map[string]bool

	wg sync.WaitGroup
}

// NewLoop wires a Loop; zero-valued timing fields fall back to defaults
// matching spec §6's configuration inputs (startup_timeout,
// heartbeat_interval).
func NewLoop(profile Profile, fabric envelope.Fabric, manager *chatstate.Manager, graph *Graph, registryClient *RegistryClient, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		Profile:           profile,
		Fabric:            fabric,
		Manager:           manager,
		Graph:             graph,
		Registry:          registryClient,
		Dedup:             NewEnvelopeDedup(0, 10000),
		Logger:            logger.With("agent_id", profile.AgentID),
		StartupTimeout:    30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		BlockTimeout:      5 * time.Second,
		MaxBatch:          64,
		startedAt:         map[string]time.Time{},
		halted:            map[string]bool{},
	}
}

// Run registers the process (if Registry is set), starts the background
// heartbeat, and tail-reads the process's mailbox until ctx is cancelled.
// It returns once every dispatched envelope has finished processing
// (graceful shutdown drain) — Run never returns early while a dispatch is
// still in flight.
func (l *Loop) Run(ctx context.Context, host string, port int) error {
	if l.Registry != nil {
		if _, err := l.Registry.RegisterWithRetry(ctx, l.Profile.AgentID, host, port, false, l.StartupTimeout); err != nil {
			return fmt.Errorf("runtime: startup registration: %w", err)
		}

		heartbeatCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		errs := make(chan error, 1)
		go l.Registry.HeartbeatLoop(heartbeatCtx, l.Profile.AgentID, l.HeartbeatInterval, errs)
		go func() {
			for err := range errs {
				l.Logger.Warn("heartbeat failed", "error", err)
			}
		}()
	}

	cursors := map[string]string{l.Profile.Mailbox: ""}
	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			return nil
		default:
		}

		batches, err := l.Fabric.TailRead(ctx, cursors, l.MaxBatch, l.BlockTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				l.wg.Wait()
				return nil
			}
			l.Logger.Error("mailbox tail read failed", "mailbox", l.Profile.Mailbox, "error", err)
			continue
		}

		for _, batch := range batches {
			for _, entry := range batch.Entries {
				cursors[batch.Mailbox] = entry.ID
				in := entry.Envelope()
				l.wg.Add(1)
				go func() {
					defer l.wg.Done()
					if err := l.dispatch(ctx, in); err != nil {
						l.Logger.Error("dispatch failed", "chat_id", in.Payload.ChatID, "error", err)
					}
				}()
			}
		}
	}
}

// dispatch implements one envelope's path through spec §4.7 steps 2-4:
// per-chat_id serial ownership, emergency-stop short-circuit, autonomy
// guardrails, graph invocation, routing, and checkpoint.
func (l *Loop) dispatch(ctx context.Context, in envelope.Envelope) error {
	chatID := in.Payload.ChatID
	if chatID == "" {
		chatID = in.Sender
	}

	if l.Dedup.Seen(chatID, in.Payload.TicketID) {
		return nil
	}

	// Spec §4.7 step 3a: a supervisor envelope that violates the supervisor
	// payload schema gets a schema_error feedback envelope and never reaches
	// the graph (no chat state is loaded, no PRP transition is attempted).
	// Graph.Invoke's own SchemaError path is a second line of defense for
	// this same check, reachable only by callers that invoke the graph
	// directly rather than through this loop.
	if in.Sender == envelope.RecipientSupervisor {
		if _, err := supervisorgate.ValidatePayload(json.RawMessage(in.Message)); err != nil {
			var schemaErr *supervisorgate.SchemaError
			if errors.As(err, &schemaErr) {
				return l.route(ctx, in, schemaErr.Error(), []string{envelope.RecipientSupervisor}, AutonomousRoutingState{}, time.Now())
			}
			return fmt.Errorf("runtime: validate supervisor payload: %w", err)
		}
	}

	lock := l.Manager.Lock(chatID)
	lock.Lock()
	defer lock.Unlock()

	cs, err := l.Manager.Load(ctx, chatID)
	if err != nil {
		return fmt.Errorf("runtime: load chat state %s: %w", chatID, err)
	}

	now := time.Now()

	if isEmergencyStop(in) {
		l.setHalted(chatID, true)
		cs.PRP.Telemetry().Record(prp.Event{Type: "halted_by_human", Timestamp: now})
		if err := l.Manager.Checkpoint(ctx, cs, now); err != nil {
			return err
		}
		return l.route(ctx, in, "", []string{"human"}, AutonomousRoutingState{Escalate: true, CurrentPhase: "halted_by_human"}, now)
	}

	if l.isHalted(chatID) {
		return nil
	}

	if settings := in.Payload.AutonomousSettings; settings != nil {
		l.markAutonomousStart(chatID, now)
		if guardrail := l.checkGuardrail(chatID, cs, *settings, now); guardrail {
			cs.PRP.Telemetry().Record(prp.Event{Type: "guardrail_trigger", Timestamp: now})
			if err := l.Manager.Checkpoint(ctx, cs, now); err != nil {
				return err
			}
			return l.route(ctx, in, "", []string{in.Sender}, AutonomousRoutingState{Escalate: true, CurrentPhase: string(cs.PRP.State())}, now)
		}
	}

	result, err := l.Graph.Invoke(ctx, cs, l.Profile, in, now)
	if err != nil {
		return fmt.Errorf("runtime: graph invoke %s: %w", chatID, err)
	}

	if err := l.Manager.Checkpoint(ctx, cs, now); err != nil {
		return fmt.Errorf("runtime: checkpoint %s: %w", chatID, err)
	}

	if result.SchemaError {
		return l.route(ctx, in, result.Reply, []string{envelope.RecipientSupervisor}, AutonomousRoutingState{CurrentPhase: string(cs.PRP.State())}, now)
	}

	recipients := l.Profile.RoutingPolicy(RoutingInput{
		Inbound:            in,
		ReplyMessage:       result.Reply,
		ExhaustionMode:     string(cs.PRP.ExhaustionMode()),
		DeliverToHuman:     result.DeliverToHuman,
		Escalate:           result.Escalate,
		IsHumanTicketReply: in.Sender == "human",
	})

	return l.route(ctx, in, result.Reply, recipients, AutonomousRoutingState{Escalate: result.Escalate, CurrentPhase: string(cs.PRP.State())}, now)
}

// AutonomousRoutingState is the subset of envelope.AutonomousRouting the
// loop computes when fanning out a reply.
type AutonomousRoutingState struct {
	Escalate     bool
	CurrentPhase string
}

// route appends one reply envelope per recipient to its mailbox. Each
// recipient is fuzzy-resolved against the registry's known agent_ids first,
// so a reply_to naming an agent loosely (nickname, typo, partial id) still
// lands on the right mailbox.
func (l *Loop) route(ctx context.Context, in envelope.Envelope, reply string, recipients []string, state AutonomousRoutingState, now time.Time) error {
	known := l.knownAgentIDs(ctx)
	for _, rawRecipient := range recipients {
		recipient := ResolveRecipient(rawRecipient, known)
		out := envelope.Envelope{
			Timestamp: now,
			Sender:    l.Profile.AgentID,
			Recipient: recipient,
			Message:   reply,
			Payload: envelope.Payload{
				ChatID:   in.Payload.ChatID,
				TicketID: in.Payload.TicketID,
				AutonomousRouting: &envelope.AutonomousRouting{
					Escalate: state.Escalate,
				},
				Extra: map[string]any{"current_phase": state.CurrentPhase},
			},
		}
		if _, err := l.Fabric.Append(ctx, recipient, out); err != nil {
			return fmt.Errorf("runtime: route to %s: %w", recipient, err)
		}
	}
	return nil
}

// knownAgentIDs lists the registry's current agent_ids for fuzzy reply_to
// resolution, or nil if this process has no registry (agent processes route
// only back to their own sender, never through a nickname) or the list call
// fails — ResolveRecipient falls back to the unresolved candidate either way.
func (l *Loop) knownAgentIDs(ctx context.Context) []string {
	if l.Registry == nil {
		return nil
	}
	records, err := l.Registry.List(ctx)
	if err != nil {
		l.Logger.Warn("registry list for reply routing failed", "error", err)
		return nil
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.AgentID
	}
	return ids
}

// checkGuardrail implements spec §4.7 step 2d: iteration_count >=
// max_iterations, or elapsed autonomous runtime >= max_hours.
func (l *Loop) checkGuardrail(chatID string, cs *chatstate.ChatState, settings envelope.AutonomousSettings, now time.Time) bool {
	if settings.MaxIterations > 0 && cs.Autonomy.IterationCount >= settings.MaxIterations {
		return true
	}
	if settings.MaxHours > 0 {
		l.mu.Lock()
		started, ok := l.startedAt[chatID]
		l.mu.Unlock()
		if ok && now.Sub(started).Hours() >= settings.MaxHours {
			return true
		}
	}
	return false
}

func (l *Loop) markAutonomousStart(chatID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.startedAt[chatID]; !ok {
		l.startedAt[chatID] = now
	}
}

func (l *Loop) setHalted(chatID string, halted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halted[chatID] = halted
}

func (l *Loop) isHalted(chatID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted[chatID]
}

// isEmergencyStop reports whether in carries payload.autonomous_control.
// action == "emergency_stop" (spec §4.7 step 4). autonomous_control is not
// a known Payload field, so it travels through Payload.Extra.
func isEmergencyStop(in envelope.Envelope) bool {
	control, ok := in.Payload.Extra["autonomous_control"].(map[string]any)
	if !ok {
		return false
	}
	action, _ := control["action"].(string)
	return action == "emergency_stop"
}
