package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-prp/runtime/internal/agent"
	"github.com/nexus-prp/runtime/internal/chatstate"
	"github.com/nexus-prp/runtime/internal/contextengine"
	"github.com/nexus-prp/runtime/internal/envelope"
	"github.com/nexus-prp/runtime/internal/prp"
	"github.com/nexus-prp/runtime/internal/supervisorgate"
	"github.com/nexus-prp/runtime/internal/toolsurface"
	"github.com/nexus-prp/runtime/pkg/models"
)

// Graph executes one envelope through the chain spec §4.7 step 3e names:
// pre_process -> driver -> {tool node | end} -> tool handler -> prp_trigger
// -> post_process. One Invoke call is exactly one driver turn; the
// multi-cycle hypothesize/execute/test/conclude loop plays out across many
// envelopes over time (each one re-invoking the graph once), matching the
// per-chat_id serial-worker model of spec §5 rather than
// internal/agent/runtime.go's multi-iteration agentic loop, which this
// package generalizes from.
type Graph struct {
	Engine    *contextengine.Engine
	Driver    *Driver
	Gate      *supervisorgate.Gate
	Scheduler *prp.Scheduler
	Config    contextengine.Config
}

// NewGraph wires engine/driver/gate/scheduler into one Graph.
func NewGraph(engine *contextengine.Engine, driver *Driver, gate *supervisorgate.Gate, scheduler *prp.Scheduler, cfg contextengine.Config) *Graph {
	return &Graph{Engine: engine, Driver: driver, Gate: gate, Scheduler: scheduler, Config: cfg}
}

// Result reports what one Invoke call produced, for the runtime loop to
// route and checkpoint.
type Result struct {
	Reply          string
	ToolCalls      []models.ToolCall
	Escalate       bool
	DeliverToHuman bool
	Stopped        bool
	Transition     prp.TransitionResult

	// SchemaError is true when a supervisor envelope failed the gate's
	// schema validation (spec §4.5 step 1): Reply carries the schema_error
	// detail, no PRP transition was attempted, and the caller must route the
	// feedback envelope back to the supervisor instead of the profile's
	// normal recipients.
	SchemaError bool
}

// Invoke runs one graph pass against cs for inbound envelope in, using
// profile for identity/tools/system prompt and now as the wall clock.
// Callers must hold chatstate.Manager.Lock(cs.ChatID) across Load ->
// Invoke -> Checkpoint (spec §5).
func (g *Graph) Invoke(ctx context.Context, cs *chatstate.ChatState, profile Profile, in envelope.Envelope, now time.Time) (Result, error) {
	var result Result

	inbound := envelopeToMessages(in, now)

	preOut, err := g.Engine.PreProcess(ctx, contextengine.PreProcessInput{
		ChatID:          cs.ChatID,
		Segments:        cs.ContextSegments,
		Transcript:      cs.Messages,
		InboundMessages: inbound,
		TaskGoal:        in.Payload.Supervisor,
		Phase:           string(cs.PRP.State()),
		BaseSystem:      profile.SystemPrompt,
		Now:             now,
	})
	if err != nil {
		return result, fmt.Errorf("runtime: graph pre_process: %w", err)
	}
	cs.PRP.Invariants().RecordContextUpdate()
	cs.Messages = preOut.Transcript
	for _, msg := range inbound {
		cs.AppendMessage(msg)
	}

	exhaustionMode := prp.ClassifyContextSaturation(cs.ContextSegments.ContextWindowUsed(), g.Config.ContextWindowMax)
	if exhaustionMode != prp.ExhaustionNone {
		cs.PRP.SetExhaustion(exhaustionMode, preOut.ExhaustionInput)
	}

	// A supervisor review envelope bypasses the driver entirely (spec §4.5
	// steps 1-5 run in place of a driver call). The rejection/approval
	// payload is the envelope's top-level message (spec §4.5 "produces
	// envelopes whose message is a JSON object"), not payload.messages (the
	// LLM trace the UI reads, spec §3). Loop.dispatch's step-3a guard
	// already rejects schema-invalid supervisor envelopes before they reach
	// here; Review's own SchemaError path below is a second line of
	// defense for any caller that invokes the graph directly.
	if in.Sender == envelope.RecipientSupervisor {
		review, err := g.Gate.Review(cs.PRP, cs.Ledger, cs.CritiqueBacklog, cs.Messages, in.Payload.TicketID, latestCycleID(cs), json.RawMessage(in.Message), now)
		if err != nil {
			return result, fmt.Errorf("runtime: graph supervisor review: %w", err)
		}
		if review.SchemaError != nil {
			result.SchemaError = true
			result.Reply = review.SchemaError.Error()
			return result, nil
		}
		cs.Messages = review.Transcript
		result.Transition = review.Transition
		result.Reply = fmt.Sprintf("supervisor review applied: %s -> %s (%s)", review.Transition.From, review.Transition.To, review.Transition.Outcome)
		g.postProcess(ctx, cs, now)
		return result, nil
	}

	// The ledger tools (propose_hypothesis, conclude_hypothesis, ...) and
	// request_final_review bind to cs.Ledger/cs.PRP/cs.LastTestSuiteResult,
	// which are per-chat_id; profile.Tools only carries the chat-agnostic
	// workspace tools, so all three are merged fresh on every invocation
	// rather than bound once at process startup.
	tools := append(append([]agent.Tool{}, profile.Tools...), prp.Tools(cs.Ledger)...)
	tools = append(tools, &RequestFinalReviewTool{Gate: g.Gate, Machine: cs.PRP, ChatState: cs})

	system, messages := BuildMessages(profile.SystemPrompt, preOut.Reset.SystemAddendum, cs.ContextSegments, preOut.Plan.PromptOutline, cs.Messages)
	turn, err := g.Driver.Complete(ctx, system, messages, tools)
	if err != nil {
		return result, fmt.Errorf("runtime: graph driver: %w", err)
	}
	cs.AppendMessage(turn.Message)
	result.Reply = turn.Message.Content
	result.ToolCalls = turn.ToolCalls
	result.Stopped = turn.Stopped

	if turn.Stopped {
		cs.Autonomy.RecordLLMStop()
		cs.PRP.SetExhaustion(prp.ExhaustionLLMStop, cs.PRP.ExhaustionProbability())
	}

	if len(turn.ToolCalls) > 0 {
		if err := g.runTools(ctx, cs, tools, turn.ToolCalls, now); err != nil {
			return result, fmt.Errorf("runtime: graph tool handler: %w", err)
		}
	}

	if g.Scheduler != nil {
		_, forced := g.Scheduler.Evaluate(cs.PRP, cs.Ledger.Entries(), now)
		if forced && profile.MaxIterations > 0 && cs.Autonomy.IterationCount >= profile.MaxIterations {
			result.Escalate = true
		}
	}

	g.postProcess(ctx, cs, now)
	cs.Autonomy.IterationCount++

	return result, nil
}

// runTools dispatches every tool call against tools, feeds each result
// through the context engine's tool-response handling (spec §4.3(b)),
// drives the ledger/false-stop/exhaustion bookkeeping every tool message
// must update (spec §4.7 step 3e, §7), and appends a tool-role message
// carrying the results to the transcript.
func (g *Graph) runTools(ctx context.Context, cs *chatstate.ChatState, tools []agent.Tool, calls []models.ToolCall, now time.Time) error {
	byName := make(map[string]agent.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}

	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		tool, ok := byName[call.Name]
		if !ok {
			out := &agent.ToolResult{Content: fmt.Sprintf("unknown tool: %s", call.Name), IsError: true}
			results = append(results, models.ToolResult{ToolCallID: call.ID, Content: out.Content, IsError: out.IsError})
			continue
		}

		out, err := tool.Execute(ctx, call.Input)
		if err != nil {
			toolErr := agent.NewToolError(call.Name, err).WithToolCallID(call.ID)
			out = &agent.ToolResult{Content: toolErr.Error(), IsError: true}
		}
		results = append(results, models.ToolResult{ToolCallID: call.ID, Content: out.Content, IsError: out.IsError})
		g.recordToolOutcome(cs, call.Name, out, now)

		if _, err := g.Engine.HandleToolResponse(ctx, cs.ContextSegments, call.Name, out.Content, now); err != nil {
			return err
		}
	}

	cs.AppendMessage(&models.Message{
		ID:          uuid.NewString(),
		Role:        models.RoleTool,
		ToolResults: results,
		CreatedAt:   now,
	})
	return nil
}

// recordToolOutcome updates the refinement ledger's test-result history,
// last_test_suite_result, the false-stop counters, and the exhaustion
// classifier from one tool result (spec §4.7 step 3e: "Any tool messages
// observed update the ledger, test results, property-test results,
// false-stop counters"; §7: "Tool failures ... trigger the exhaustion
// classifier (TEST_FAILURE -> HYPOTHESIZE)"). workspace_exec is the only
// tool whose result carries a pass/fail signal (its returncode); every
// other tool only contributes the generic tool-failure signal.
func (g *Graph) recordToolOutcome(cs *chatstate.ChatState, toolName string, out *agent.ToolResult, now time.Time) {
	cycleID := latestCycleID(cs)

	if out.IsError {
		g.recordTestResult(cs, cycleID, toolName, "failed", out.Content, now)
		return
	}

	if toolName != "workspace_exec" {
		return
	}
	var exec toolsurface.ExecResult
	if err := json.Unmarshal([]byte(out.Content), &exec); err != nil || !exec.Success {
		return
	}

	status := "failed"
	if exec.WorkspaceCommand.ReturnCode == 0 {
		status = "passed"
	}
	g.recordTestResult(cs, cycleID, toolName, status, exec.WorkspaceCommand.Stdout+exec.WorkspaceCommand.Stderr, now)
}

// recordTestResult attaches a test outcome to the active ledger cycle (if
// any), sets last_test_suite_result, and on a pass mitigates a pending
// false stop (spec scenario E) or on a failure triggers the TEST_FAILURE
// exhaustion classifier.
func (g *Graph) recordTestResult(cs *chatstate.ChatState, cycleID, name, status, output string, now time.Time) {
	cs.LastTestSuiteResult = &chatstate.TestSuiteResult{OverallStatus: status}

	if cycleID != "" {
		_, _ = cs.Ledger.RecordTestResult(cycleID, prp.TestResult{
			Name:          name,
			OverallStatus: status,
			Output:        output,
			RecordedAt:    now,
		}, cs.PRP.Invariants())
	}

	if status != "passed" {
		if cycleID != "" {
			_ = cs.Ledger.SetExhaustionTrigger(cycleID, prp.ExhaustionTestFailure)
		}
		cs.PRP.SetExhaustion(prp.ExhaustionTestFailure, cs.PRP.ExhaustionProbability())
		return
	}

	if cs.Autonomy.MitigateFalseStop() {
		cs.PRP.Telemetry().Record(prp.Event{Type: "false_stop_mitigated", Timestamp: now})
	}
}

// postProcess runs spec §4.3(c) against cs's segments; the reflection log
// and playbook are transient per invocation (derived fresh from current
// segment state, not checkpointed), since neither field appears in spec §3
// "Chat state".
func (g *Graph) postProcess(ctx context.Context, cs *chatstate.ChatState, now time.Time) {
	g.Engine.PostProcess(ctx, contextengine.PostProcessInput{
		ChatID:         cs.ChatID,
		Segments:       cs.ContextSegments,
		Phase:          string(cs.PRP.State()),
		Now:            now,
		FreshnessFloor: 0,
	}, contextengine.ContextPlaybook{})
}

// envelopeToMessages renders the inbound envelope's message field (and any
// structured payload.messages) into the transcript-shaped messages the
// context engine ingests.
func envelopeToMessages(in envelope.Envelope, now time.Time) []*models.Message {
	if in.Message == "" {
		return nil
	}
	return []*models.Message{{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   in.Message,
		CreatedAt: now,
	}}
}

// latestCycleID returns the most recently proposed ledger cycle_id, or ""
// if the ledger is empty, for the supervisor gate's critique attachment.
func latestCycleID(cs *chatstate.ChatState) string {
	entries := cs.Ledger.Entries()
	if len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].CycleID
}
