package contextengine

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-prp/runtime/pkg/models"
)

// Config bundles every tunable the engine needs, matching spec §6's
// configuration-inputs list for the context engine.
type Config struct {
	TargetContextSize   int
	OptimalContextSize  int
	ContextWindowMax    int
	QualityThreshold    float64
	MaxToolPayloadChars int
	ReducerTargetTokens int
	Curator             CuratorConfig
	Reset               ResetConfig
}

// ReflectionEntry is one deduplicated post-process observation (spec §4.3
// step (c) "reflection_log").
type ReflectionEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	Issue           string    `json:"issue"`
	Recommendation  string    `json:"recommendation"`
}

// ContextPlaybook tracks the engine's running self-assessment across
// cycles (spec §4.3 step (c) "context_playbook").
type ContextPlaybook struct {
	IterationCount int     `json:"iteration_count"`
	LastFocus      string  `json:"last_focus_metric"`
	LastQuality    float64 `json:"last_quality"`
}

// Engine wires scorer, curator, loader, governor, and resetter into the
// straight-line pre-process / tool-response / post-process pipeline (spec
// §4.3; "Generator/coroutine semantics" calls for pure functions plus
// explicit I/O at named points, no hidden suspension).
type Engine struct {
	cfg       Config
	scorer    *Scorer
	curator   *Curator
	loader    *Loader
	governor  *Governor
	resetter  *Resetter
	blobstore Blobstore
	sink      MetricsSink
}

// NewEngine wires the stages. sink may be nil (falls back to a no-op).
func NewEngine(cfg Config, blobstore Blobstore, governor *Governor, summarizer Summarizer, sink MetricsSink) *Engine {
	if sink == nil {
		sink = noopSink{}
	}
	return &Engine{
		cfg:       cfg,
		scorer:    NewScorer(),
		curator:   NewCurator(cfg.Curator, blobstore),
		loader:    NewLoader(),
		governor:  governor,
		resetter:  NewResetter(cfg.Reset, blobstore, summarizer),
		blobstore: blobstore,
		sink:      sink,
	}
}

// Loader exposes the progressive loader so callers can register sources.
func (e *Engine) Loader() *Loader { return e.loader }

// PreProcessInput bundles what PreProcess needs from the current chat
// state (spec §4.3 (a)).
type PreProcessInput struct {
	ChatID          string
	Segments        *Segments
	Transcript      []*models.Message
	InboundMessages []*models.Message
	TaskGoal        string
	Phase           string
	BaseSystem      string
	Focus           []string
	Now             time.Time
}

// PreProcessOutput reports everything downstream stages (driver, PRP) need
// from a pre-process pass.
type PreProcessOutput struct {
	Scores          Scores
	Curation        CurationResult
	Plan            GovernorPlan
	Reset           ResetOutcome
	Transcript      []*models.Message
	ExhaustionInput float64 // context_window_used / context_window_max, feeds §4.5
}

// PreProcess runs steps 1-8 of spec §4.3(a) in order: ingest, progressive
// load, recompute window, score, curate (if over budget or low quality),
// govern, reset (if triggered). Step 8 (exhaustion_mode) is left to the
// caller via ExhaustionInput, since the exhaustion predictor lives in
// package prp and this package must not import it.
func (e *Engine) PreProcess(ctx context.Context, in PreProcessInput) (PreProcessOutput, error) {
	var out PreProcessOutput

	// Step 1: ingest inbound messages as conversation segments.
	estimator := DefaultTokenEstimator()
	for i, msg := range in.InboundMessages {
		if msg == nil {
			continue
		}
		seg := Segment{
			ID:                  fmt.Sprintf("conversation:%s:%d", in.ChatID, in.Now.UnixNano()+int64(i)),
			Content:             msg.Content,
			Type:                "conversation",
			Priority:            5,
			TokenCount:          estimator.Estimate(msg.Content),
			Timestamp:           in.Now,
			CompressionEligible: true,
		}
		if err := in.Segments.Add(seg); err != nil {
			return out, fmt.Errorf("contextengine: ingest inbound message: %w", err)
		}
	}

	// Step 2: progressive loader.
	recentText := recentUserText(in.Transcript, 3)
	remaining := e.cfg.ContextWindowMax - in.Segments.ContextWindowUsed()
	if _, err := e.loader.Load(ctx, in.Segments, recentText, remaining, 4); err != nil {
		return out, err
	}

	// Step 3: recompute window (always current via Segments.ContextWindowUsed).
	used := in.Segments.ContextWindowUsed()
	e.sink.ObserveContextWindowUsed(in.ChatID, used)

	// Step 4: scorer.
	recentTurns := recentUserMessages(in.Transcript, 5)
	out.Scores = e.scorer.Score(in.Segments, in.TaskGoal, recentTurns, in.Now, e.cfg.ContextWindowMax, in.Phase)
	e.sink.ObserveContextQuality(in.ChatID, out.Scores)

	// Step 5: curator, if over budget or under quality.
	if used > e.cfg.OptimalContextSize || out.Scores.Quality < e.cfg.QualityThreshold {
		relevance := perSegmentRelevance(e.scorer, in.Segments, in.TaskGoal, recentTurns)
		curation, err := e.curator.Curate(ctx, in.Segments, relevance, in.Now)
		if err != nil {
			return out, err
		}
		out.Curation = curation
		for _, ev := range curation.Events {
			e.sink.ObserveCurationAction(in.ChatID, ev.Action)
		}
	}

	// Step 6: governor.
	if e.governor != nil {
		plan, err := e.governor.Plan(ctx, in.Segments, out.Scores, in.BaseSystem, in.Focus)
		if err != nil {
			return out, err
		}
		e.governor.Apply(in.Segments, plan)
		out.Plan = plan
	}

	// Step 7: context-reset.
	reset, err := e.resetter.Reset(ctx, in.Segments, in.Transcript, in.ChatID, in.Now)
	if err != nil {
		return out, err
	}
	out.Reset = reset
	if reset.Triggered {
		e.sink.ObserveContextReset(in.ChatID)
		out.Transcript = reset.RemainingTurns
	} else {
		out.Transcript = in.Transcript
	}

	if e.cfg.ContextWindowMax > 0 {
		out.ExhaustionInput = float64(in.Segments.ContextWindowUsed()) / float64(e.cfg.ContextWindowMax)
	}

	return out, nil
}

// HandleToolResponse implements spec §4.3(b): truncate the payload to
// MaxToolPayloadChars, externalizing the full payload, and append a
// tool_output segment.
func (e *Engine) HandleToolResponse(ctx context.Context, segs *Segments, toolName, payload string, now time.Time) (Segment, error) {
	content := payload
	var ref string
	if len(payload) > e.cfg.MaxToolPayloadChars {
		ref = fmt.Sprintf("tool_output/%s/%d", toolName, now.UnixNano())
		if e.blobstore != nil {
			if err := e.blobstore.Write(ctx, ref, []byte(payload)); err != nil {
				return Segment{}, fmt.Errorf("contextengine: externalize tool output: %w", err)
			}
		}
		content = payload[:e.cfg.MaxToolPayloadChars] + fmt.Sprintf("\n...[truncated, full output externalized at %s]", ref)
	}

	seg := Segment{
		ID:                  fmt.Sprintf("tool_output:%s:%d", toolName, now.UnixNano()),
		Content:             content,
		Type:                "tool_output:" + toolName,
		Priority:            6,
		TokenCount:          DefaultTokenEstimator().Estimate(content),
		Timestamp:           now,
		CompressionEligible: true,
		RestorableReference: ref,
	}
	if err := segs.Add(seg); err != nil {
		return Segment{}, fmt.Errorf("contextengine: add tool_output segment: %w", err)
	}
	e.sink.ObserveContextWindowUsed("", segs.ContextWindowUsed())
	return seg, nil
}

// PostProcessInput bundles what PostProcess needs (spec §4.3 (c)).
type PostProcessInput struct {
	ChatID    string
	Segments  *Segments
	TaskGoal  string
	Phase     string
	Now       time.Time
	FreshnessFloor float64 // segments scoring below this freshness are pruned
}

// PostProcessOutput carries the updated reflection log and playbook.
type PostProcessOutput struct {
	Scores          Scores
	Reflection      ReflectionEntry
	Playbook        ContextPlaybook
	CurationRule    string
	PrunedSegments  []string
}

// PostProcess implements spec §4.3(c): recompute quality, append a
// deduplicated reflection entry, update the playbook, derive a curation
// rule, and prune segments stale beyond FreshnessFloor.
func (e *Engine) PostProcess(ctx context.Context, in PostProcessInput, priorPlaybook ContextPlaybook) PostProcessOutput {
	scores := e.scorer.Score(in.Segments, in.TaskGoal, nil, in.Now, e.cfg.ContextWindowMax, in.Phase)
	e.sink.ObserveContextQuality(in.ChatID, scores)

	issue, recommendation := diagnoseLowestScore(scores)
	reflection := ReflectionEntry{Timestamp: in.Now, Issue: issue, Recommendation: recommendation}

	playbook := ContextPlaybook{
		IterationCount: priorPlaybook.IterationCount + 1,
		LastFocus:      issue,
		LastQuality:    scores.Quality,
	}

	var pruned []string
	for _, seg := range in.Segments.All() {
		if seg.Priority >= 8 {
			continue
		}
		if segmentFreshness(seg, in.Now) < in.FreshnessFloor {
			in.Segments.Remove(seg.ID)
			pruned = append(pruned, seg.ID)
		}
	}

	return PostProcessOutput{
		Scores:         scores,
		Reflection:     reflection,
		Playbook:       playbook,
		CurationRule:   fmt.Sprintf("watch:%s", issue),
		PrunedSegments: pruned,
	}
}

// diagnoseLowestScore names the weakest sub-score and a stock
// recommendation for it, used to build the reflection log entry.
func diagnoseLowestScore(s Scores) (issue, recommendation string) {
	type named struct {
		name  string
		value float64
		fix   string
	}
	candidates := []named{
		{"relevance", s.Relevance, "reweight segments toward the active task goal"},
		{"coherence", s.Coherence, "consolidate fragmented segment types"},
		{"completeness", s.Completeness, "load missing context types for this phase"},
		{"freshness", s.Freshness, "refresh or discard stale segments"},
		{"diversity", s.Diversity, "broaden the segment type mix"},
		{"efficiency", s.Efficiency, "curate to reclaim window headroom"},
	}
	lowest := candidates[0]
	for _, c := range candidates[1:] {
		if c.value < lowest.value {
			lowest = c
		}
	}
	return lowest.name, lowest.fix
}

func recentUserText(messages []*models.Message, n int) string {
	turns := recentUserMessages(messages, n)
	out := ""
	for _, t := range turns {
		out += t + "\n"
	}
	return out
}

func recentUserMessages(messages []*models.Message, n int) []string {
	var out []string
	for i := len(messages) - 1; i >= 0 && len(out) < n; i-- {
		if messages[i] != nil && messages[i].Role == models.RoleUser {
			out = append([]string{messages[i].Content}, out...)
		}
	}
	return out
}

func perSegmentRelevance(scorer *Scorer, segs *Segments, taskGoal string, recentUserTurns []string) map[string]float64 {
	relevance := make(map[string]float64, segs.Len())
	for _, seg := range segs.All() {
		relevance[seg.ID] = scorer.relevance([]Segment{seg}, taskGoal, recentUserTurns)
	}
	return relevance
}
