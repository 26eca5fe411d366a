package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-prp/runtime/internal/agent"
	"github.com/nexus-prp/runtime/internal/contextengine"
	"github.com/nexus-prp/runtime/internal/ratelimit"
	"github.com/nexus-prp/runtime/internal/retry"
	"github.com/nexus-prp/runtime/pkg/models"
)

// Driver assembles the outgoing prompt and calls the bound LLM provider
// (spec §4.3 "Driver contract"). Grounded on internal/agent/runtime.go's
// request-assembly and completion-drain loop (the `run` method's steps 7-8),
// collapsed from that file's multi-iteration agentic loop to the single
// driver call one graph invocation makes.
type Driver struct {
	provider  agent.LLMProvider
	model     string
	maxTokens int

	limiter     *ratelimit.Limiter
	retryConfig retry.Config
}

// NewDriver returns a Driver bound to provider, using model for every
// completion request (maxTokens <= 0 falls back to 4096, matching
// internal/agent/runtime.go's default). Requests are throttled per-model
// through a token bucket and the initial provider call is retried with
// backoff on transient failure.
func NewDriver(provider agent.LLMProvider, model string, maxTokens int) *Driver {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Driver{
		provider:    provider,
		model:       model,
		maxTokens:   maxTokens,
		limiter:     ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		retryConfig: retry.DefaultConfig(),
	}
}

// BuildMessages renders transcript plus governed segments into the
// completion request's message list per the "Driver contract": base system
// prompt, reset addendum, governed segments in governor order (falling back
// to any unlisted segment with priority >= 8), then the conversational
// messages.
func BuildMessages(baseSystem string, resetAddendum string, segments *contextengine.Segments, outline contextengine.PromptOutline, transcript []*models.Message) (string, []agent.CompletionMessage) {
	system := baseSystem
	if outline.System != "" {
		system = outline.System
	}
	if resetAddendum != "" {
		system = strings.TrimSpace(system + "\n\n" + resetAddendum)
	}

	ordered := renderSegments(segments, outline.OrderedSegments)

	messages := make([]agent.CompletionMessage, 0, len(ordered)+len(transcript))
	for _, rendered := range ordered {
		messages = append(messages, agent.CompletionMessage{Role: "user", Content: rendered})
	}
	for _, msg := range transcript {
		if msg == nil {
			continue
		}
		messages = append(messages, agent.CompletionMessage{
			Role:        string(msg.Role),
			Content:     msg.Content,
			ToolCalls:   msg.ToolCalls,
			ToolResults: msg.ToolResults,
		})
	}
	return system, messages
}

// renderSegments orders segments: those named in orderedIDs first (in that
// order), then any remaining segment with priority >= 8 (the "Driver
// contract" fallback), each rendered as "[<type>: <id>]\n<content>".
func renderSegments(segments *contextengine.Segments, orderedIDs []string) []string {
	if segments == nil {
		return nil
	}
	byID := make(map[string]contextengine.Segment, segments.Len())
	for _, seg := range segments.All() {
		byID[seg.ID] = seg
	}

	var out []string
	used := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		seg, ok := byID[id]
		if !ok {
			continue
		}
		used[id] = true
		out = append(out, renderSegment(seg))
	}
	for _, seg := range segments.All() {
		if used[seg.ID] || seg.Priority < 8 {
			continue
		}
		out = append(out, renderSegment(seg))
	}
	return out
}

func renderSegment(seg contextengine.Segment) string {
	return fmt.Sprintf("[%s: %s]\n%s", seg.Type, seg.ID, seg.Content)
}

// Turn is one driver invocation's result: the assistant message it produced
// plus any tool calls embedded in it.
type Turn struct {
	Message      *models.Message
	ToolCalls    []models.ToolCall
	InputTokens  int
	OutputTokens int
	Stopped      bool // true if the LLM yielded an empty reply (spec §4.4 "LLM_STOP")
}

// Complete calls the bound provider with the assembled request and drains
// its streaming response into one assistant turn, matching
// internal/agent/runtime.go's chunk-accumulation loop.
func (d *Driver) Complete(ctx context.Context, system string, messages []agent.CompletionMessage, tools []agent.Tool) (Turn, error) {
	llmTools := make([]agent.Tool, 0, len(tools))
	llmTools = append(llmTools, tools...)

	req := &agent.CompletionRequest{
		Model:     d.model,
		System:    system,
		Messages:  messages,
		Tools:     llmTools,
		MaxTokens: d.maxTokens,
	}

	for !d.limiter.Allow(d.model) {
		select {
		case <-ctx.Done():
			return Turn{}, ctx.Err()
		case <-time.After(d.limiter.WaitTime(d.model)):
		}
	}

	var chunks <-chan *agent.CompletionChunk
	result := retry.Do(ctx, d.retryConfig, func() error {
		var cerr error
		chunks, cerr = d.provider.Complete(ctx, req)
		return cerr
	})
	if result.Err != nil {
		return Turn{}, fmt.Errorf("runtime: driver completion: %w", result.Err)
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	var inputTokens, outputTokens int

	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return Turn{}, fmt.Errorf("runtime: driver completion stream: %w", chunk.Error)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			inputTokens = chunk.InputTokens
			outputTokens = chunk.OutputTokens
		}
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   text.String(),
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}

	return Turn{
		Message:      msg,
		ToolCalls:    toolCalls,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Stopped:      text.Len() == 0 && len(toolCalls) == 0,
	}, nil
}
