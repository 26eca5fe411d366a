package contextengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// GovernorDecision is one of the actions the governor may apply to a
// segment (spec §4.3 step 6).
type GovernorDecision string

const (
	DecisionRetain     GovernorDecision = "retain"
	DecisionCompress   GovernorDecision = "compress"
	DecisionSummarize  GovernorDecision = "summarize"
	DecisionIsolate    GovernorDecision = "isolate"
	DecisionExternalize GovernorDecision = "externalize"
	DecisionDiscard    GovernorDecision = "discard"
)

// GovernorAction is one entry of the governor's plan.
type GovernorAction struct {
	SegmentID string           `json:"segment_id"`
	Decision  GovernorDecision `json:"decision"`
	Priority  *int             `json:"priority,omitempty"`
	Focus     string           `json:"focus,omitempty"`
}

// PromptOutline is what the driver consumes to assemble the outgoing
// prompt (spec §4.3 step 6 and "Driver contract").
type PromptOutline struct {
	System         string   `json:"system"`
	Focus          []string `json:"focus"`
	OrderedSegments []string `json:"ordered_segments"`
}

// GovernorPlan is the governor's full output.
type GovernorPlan struct {
	Actions       []GovernorAction `json:"actions"`
	PromptOutline PromptOutline    `json:"prompt_outline"`
}

// Governor reorders and annotates segments before each LLM call, either via
// an LLM planner or a deterministic fallback when no client is configured
// or the call fails (spec §4.3 step 6).
type Governor struct {
	client *openai.Client
	model  string
}

// NewGovernor returns a deterministic-only Governor.
func NewGovernor() *Governor {
	return &Governor{}
}

// NewLLMGovernor returns a Governor that prefers an LLM-backed plan and
// falls back to the deterministic heuristic if the call errors.
func NewLLMGovernor(client *openai.Client, model string) *Governor {
	return &Governor{client: client, model: model}
}

// Plan produces a GovernorPlan for the current segments, given the base
// system prompt and the active focus terms (e.g. the current hypothesis).
func (g *Governor) Plan(ctx context.Context, segs *Segments, scores Scores, baseSystem string, focus []string) (GovernorPlan, error) {
	if g.client != nil {
		plan, err := g.planLLM(ctx, segs, scores, baseSystem, focus)
		if err == nil {
			return plan, nil
		}
	}
	return g.planDeterministic(segs, baseSystem, focus), nil
}

// planDeterministic orders segments by priority descending, retains
// everything, and marks low-quality pointer segments for isolation so the
// driver groups them separately in the rendered prompt.
func (g *Governor) planDeterministic(segs *Segments, baseSystem string, focus []string) GovernorPlan {
	all := append([]Segment(nil), segs.All()...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority > all[j].Priority })

	plan := GovernorPlan{
		PromptOutline: PromptOutline{System: baseSystem, Focus: focus},
	}
	for _, seg := range all {
		decision := DecisionRetain
		if seg.IsPointer() {
			decision = DecisionIsolate
		}
		plan.Actions = append(plan.Actions, GovernorAction{SegmentID: seg.ID, Decision: decision})
		plan.PromptOutline.OrderedSegments = append(plan.PromptOutline.OrderedSegments, seg.ID)
	}
	return plan
}

// planLLM asks the configured model to produce a plan, grounded on the
// teacher's go-openai chat-completion call style.
func (g *Governor) planLLM(ctx context.Context, segs *Segments, scores Scores, baseSystem string, focus []string) (GovernorPlan, error) {
	summary := summarizeSegmentsForPrompt(segs)
	prompt := fmt.Sprintf(
		"Quality score: %.2f. Focus: %s.\nSegments:\n%s\nReturn a JSON plan {actions:[{segment_id,decision,priority,focus}],prompt_outline:{system,focus,ordered_segments}}. decision is one of retain,compress,summarize,isolate,externalize,discard.",
		scores.Quality, strings.Join(focus, ", "), summary,
	)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a context governor. Respond with JSON only."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return GovernorPlan{}, fmt.Errorf("contextengine: governor completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return GovernorPlan{}, fmt.Errorf("contextengine: governor completion returned no choices")
	}

	var plan GovernorPlan
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &plan); err != nil {
		return GovernorPlan{}, fmt.Errorf("contextengine: parse governor plan: %w", err)
	}
	if plan.PromptOutline.System == "" {
		plan.PromptOutline.System = baseSystem
	}
	return plan, nil
}

func summarizeSegmentsForPrompt(segs *Segments) string {
	var b strings.Builder
	for _, seg := range segs.All() {
		fmt.Fprintf(&b, "- %s [%s] priority=%d tokens=%d\n", seg.ID, seg.Type, seg.Priority, seg.TokenCount)
	}
	return b.String()
}

// Apply mutates segs according to plan.Actions: summarize compresses the
// segment content via the reducer (the same compressContent heuristic
// curator uses), discard removes it outright, and the remaining decisions
// are advisory annotations consumed by the driver via PromptOutline.
func (g *Governor) Apply(segs *Segments, plan GovernorPlan) {
	for _, action := range plan.Actions {
		seg, ok := segs.Get(action.SegmentID)
		if !ok {
			continue
		}
		switch action.Decision {
		case DecisionSummarize:
			seg.Content = compressContent(seg.Content)
			seg.TokenCount = DefaultTokenEstimator().Estimate(seg.Content)
			segs.Replace(seg)
		case DecisionDiscard:
			segs.Remove(seg.ID)
			continue
		}
		if action.Priority != nil {
			seg.Priority = *action.Priority
			segs.Replace(seg)
		}
	}
}
