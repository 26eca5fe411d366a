package contextengine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SegmentSource synthesizes a segment's content for a needed context type,
// reaching into the environment (file search, skill catalog, stack trace
// history, etc). Callers supply one per context type the loader can
// satisfy; a type with no registered source is queued to prefetch_queue
// instead of failing the load.
type SegmentSource func(ctx context.Context) (string, error)

// intentRule maps a keyword found in recent user text to the context types
// it implies are needed (spec §4.3 step 2).
type intentRule struct {
	keyword string
	types   []string
}

// defaultIntentRules mirrors the spec's worked examples exactly; callers
// may extend via Loader.AddIntentRule for deployment-specific keywords.
var defaultIntentRules = []intentRule{
	{keyword: "implement", types: []string{"code_context", "file_structure", "test_suite"}},
	{keyword: "error", types: []string{"stack_traces", "error_history"}},
	{keyword: "stack", types: []string{"stack_traces", "error_history"}},
	{keyword: "debug", types: []string{"skill_catalog"}},
}

// Loader infers needed context types from recent user text and synthesizes
// segments for those not already loaded, budget permitting (spec §4.3
// step 2 "progressive loader").
type Loader struct {
	rules     []intentRule
	sources   map[string]SegmentSource
	estimator *TokenEstimator
}

// NewLoader returns a Loader seeded with the default intent rules.
func NewLoader() *Loader {
	return &Loader{
		rules:     append([]intentRule(nil), defaultIntentRules...),
		sources:   map[string]SegmentSource{},
		estimator: DefaultTokenEstimator(),
	}
}

// AddIntentRule registers an additional keyword -> context-type mapping.
func (l *Loader) AddIntentRule(keyword string, types ...string) {
	l.rules = append(l.rules, intentRule{keyword: strings.ToLower(keyword), types: types})
}

// RegisterSource binds a context type to the function that synthesizes its
// segment content. Calling again for the same type replaces the source.
func (l *Loader) RegisterSource(contextType string, source SegmentSource) {
	l.sources[contextType] = source
}

// LoadResult reports what the loader did.
type LoadResult struct {
	Loaded        []string // context types synthesized and added this pass
	PrefetchQueue []string // context types needed but deferred (no budget or no source)
}

// InferContextTypes scans recentUserText for known intent keywords and
// returns the union of implied context types, in first-seen order.
func (l *Loader) InferContextTypes(recentUserText string) []string {
	lower := strings.ToLower(recentUserText)
	seen := map[string]bool{}
	var out []string
	for _, rule := range l.rules {
		if !strings.Contains(lower, rule.keyword) {
			continue
		}
		for _, t := range rule.types {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Load infers needed context types from recentUserText and, for each type
// not already present in segs, synthesizes a segment via the registered
// source if its estimated token cost fits remainingBudget. Types with no
// fitting budget or no registered source are appended to PrefetchQueue.
func (l *Loader) Load(ctx context.Context, segs *Segments, recentUserText string, remainingBudget int, priority int) (LoadResult, error) {
	var result LoadResult
	needed := l.InferContextTypes(recentUserText)

	for _, t := range needed {
		if segs.HasType(t) {
			continue
		}
		source, ok := l.sources[t]
		if !ok {
			result.PrefetchQueue = append(result.PrefetchQueue, t)
			continue
		}
		content, err := source(ctx)
		if err != nil {
			return result, fmt.Errorf("contextengine: synthesize %s segment: %w", t, err)
		}
		tokens := l.estimator.Estimate(content)
		if tokens > remainingBudget {
			result.PrefetchQueue = append(result.PrefetchQueue, t)
			continue
		}

		seg := Segment{
			ID:        fmt.Sprintf("progressive:%s:%d", t, time.Now().UnixNano()),
			Content:   content,
			Type:      t,
			Priority:  priority,
			TokenCount: tokens,
			Timestamp: time.Now(),
		}
		if err := segs.Add(seg); err != nil {
			return result, fmt.Errorf("contextengine: add %s segment: %w", t, err)
		}
		remainingBudget -= tokens
		result.Loaded = append(result.Loaded, t)
	}

	return result, nil
}
