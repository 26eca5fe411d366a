package contextengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexus-prp/runtime/pkg/models"
)

// ResetConfig bounds context-reset behavior (spec §6 "context_reset_*").
type ResetConfig struct {
	Enabled       bool
	Root          string
	TriggerTokens int
	KeepTurns     int
	MinUserTurns  int
}

// Summarizer produces a free-text summary of a transcript, normally
// LLM-backed with a heuristic fallback (spec §4.3 step 7 "LLM summarizer
// (or heuristic fallback if disabled)").
type Summarizer interface {
	Summarize(ctx context.Context, messages []*models.Message) (string, error)
}

// HeuristicSummarizer concatenates the first line of every user message,
// used when no LLM summarizer is configured.
type HeuristicSummarizer struct{}

// Summarize implements Summarizer.
func (HeuristicSummarizer) Summarize(_ context.Context, messages []*models.Message) (string, error) {
	var lines []string
	for _, msg := range messages {
		if msg == nil || msg.Role != models.RoleUser {
			continue
		}
		first := msg.Content
		if idx := strings.IndexByte(first, '\n'); idx >= 0 {
			first = first[:idx]
		}
		if first != "" {
			lines = append(lines, first)
		}
	}
	if len(lines) == 0 {
		return "No prior user turns.", nil
	}
	return "Prior conversation covered: " + strings.Join(lines, "; "), nil
}

// LLMSummarizer calls a chat-completion model to produce the summary.
type LLMSummarizer struct {
	Client *openai.Client
	Model  string
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []*models.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}
	resp, err := s.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Summarize this conversation concisely, preserving decisions and open threads."},
			{Role: openai.ChatMessageRoleUser, Content: transcript.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("contextengine: summarizer completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("contextengine: summarizer completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ResetOutcome reports what a context-reset pass did.
type ResetOutcome struct {
	Triggered      bool
	ArchiveRef     string
	RemainingTurns []*models.Message
	SystemAddendum string
}

// Resetter persists trimmed history and replaces the transcript with a
// summary plus a bounded tail (spec §4.3 step 7).
type Resetter struct {
	cfg        ResetConfig
	blobstore  Blobstore
	summarizer Summarizer
}

// NewResetter builds a Resetter. summarizer defaults to HeuristicSummarizer
// when nil.
func NewResetter(cfg ResetConfig, blobstore Blobstore, summarizer Summarizer) *Resetter {
	if summarizer == nil {
		summarizer = HeuristicSummarizer{}
	}
	return &Resetter{cfg: cfg, blobstore: blobstore, summarizer: summarizer}
}

// ShouldReset reports whether the trigger conditions hold: window usage
// over TriggerTokens and at least MinUserTurns user turns present.
func (r *Resetter) ShouldReset(windowUsed int, messages []*models.Message) bool {
	if !r.cfg.Enabled {
		return false
	}
	if windowUsed <= r.cfg.TriggerTokens {
		return false
	}
	return countUserTurns(messages) >= r.cfg.MinUserTurns
}

// Reset persists the full transcript, summarizes it, and returns the
// replacement transcript plus two synthetic segments to add to segs:
// context_reset_summary and context_reset_history.
func (r *Resetter) Reset(ctx context.Context, segs *Segments, messages []*models.Message, chatID string, now time.Time) (ResetOutcome, error) {
	if !r.ShouldReset(segs.ContextWindowUsed(), messages) {
		return ResetOutcome{}, nil
	}

	keep := 2 * r.cfg.KeepTurns
	if keep > len(messages) {
		keep = len(messages)
	}
	trimmed := messages[:len(messages)-keep]
	kept := messages[len(messages)-keep:]

	archiveRef := fmt.Sprintf("%s/%s/%d.json", strings.TrimSuffix(r.cfg.Root, "/"), chatID, now.UnixNano())
	payload, err := json.Marshal(trimmed)
	if err != nil {
		return ResetOutcome{}, fmt.Errorf("contextengine: marshal reset archive: %w", err)
	}
	if err := r.blobstore.Write(ctx, archiveRef, payload); err != nil {
		return ResetOutcome{}, fmt.Errorf("contextengine: persist reset archive: %w", err)
	}

	summary, err := r.summarizer.Summarize(ctx, trimmed)
	if err != nil {
		return ResetOutcome{}, fmt.Errorf("contextengine: summarize reset archive: %w", err)
	}

	estimator := DefaultTokenEstimator()
	summarySeg := Segment{
		ID:        "context_reset_summary:" + chatID,
		Content:   summary,
		Type:      "context_reset_summary",
		Priority:  9,
		TokenCount: estimator.Estimate(summary),
		Timestamp: now,
	}
	historyContent := fmt.Sprintf("Archived history available at %s (%d messages).", archiveRef, len(trimmed))
	historySeg := Segment{
		ID:                  "context_reset_history:" + chatID,
		Content:             historyContent,
		Type:                "context_reset_history",
		Priority:            9,
		TokenCount:          estimator.Estimate(historyContent),
		Timestamp:           now,
		RestorableReference: archiveRef,
	}

	if _, ok := segs.Get(summarySeg.ID); ok {
		segs.Remove(summarySeg.ID)
	}
	if _, ok := segs.Get(historySeg.ID); ok {
		segs.Remove(historySeg.ID)
	}
	if err := segs.Add(summarySeg); err != nil {
		return ResetOutcome{}, fmt.Errorf("contextengine: add summary segment: %w", err)
	}
	if err := segs.Add(historySeg); err != nil {
		return ResetOutcome{}, fmt.Errorf("contextengine: add history segment: %w", err)
	}

	return ResetOutcome{
		Triggered:      true,
		ArchiveRef:     archiveRef,
		RemainingTurns: kept,
		SystemAddendum: fmt.Sprintf("Earlier conversation history was archived at %s; see context_reset_summary for a recap.", archiveRef),
	}, nil
}

func countUserTurns(messages []*models.Message) int {
	count := 0
	for _, msg := range messages {
		if msg != nil && msg.Role == models.RoleUser {
			count++
		}
	}
	return count
}
