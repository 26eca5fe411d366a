package contextengine

import (
	"context"
	"testing"
	"time"

	"github.com/nexus-prp/runtime/pkg/models"
)

func TestEngine_PreProcess_IngestsInboundAsConversationSegments(t *testing.T) {
	cfg := Config{
		OptimalContextSize: 100000,
		ContextWindowMax:   100000,
		QualityThreshold:   0,
		Reset:              ResetConfig{Enabled: false},
	}
	engine := NewEngine(cfg, newMemBlobstore(), NewGovernor(), nil, nil)

	segs := NewSegments()
	inbound := []*models.Message{{Role: models.RoleUser, Content: "hello there"}}

	out, err := engine.PreProcess(context.Background(), PreProcessInput{
		ChatID:          "chat1",
		Segments:        segs,
		Transcript:      inbound,
		InboundMessages: inbound,
		TaskGoal:        "say hi",
		Phase:           "PROPOSE",
		BaseSystem:      "you are an assistant",
		Now:             time.Now(),
	})
	if err != nil {
		t.Fatalf("PreProcess() error = %v", err)
	}
	if !segs.HasType("conversation") {
		t.Fatal("expected a conversation segment to be ingested")
	}
	if out.Scores.Quality < 0 || out.Scores.Quality > 1 {
		t.Fatalf("Quality = %v, want in [0,1]", out.Scores.Quality)
	}
	if len(out.Plan.PromptOutline.OrderedSegments) == 0 {
		t.Fatal("expected governor to produce an ordered segment plan")
	}
}

func TestEngine_PreProcess_TriggersCurationWhenOverOptimal(t *testing.T) {
	cfg := Config{
		OptimalContextSize: 1,
		ContextWindowMax:   100000,
		QualityThreshold:   0,
		Curator:            CuratorConfig{TargetTokens: 1},
		Reset:              ResetConfig{Enabled: false},
	}
	engine := NewEngine(cfg, newMemBlobstore(), nil, nil, nil)

	segs := NewSegments()
	_ = segs.Add(Segment{ID: "old", Priority: 1, TokenCount: 500, Timestamp: time.Now().Add(-time.Hour), CompressionEligible: true,
		Content: "line one\nline two\nline three about a recurring bug in the retry path"})

	out, err := engine.PreProcess(context.Background(), PreProcessInput{
		ChatID:     "chat1",
		Segments:   segs,
		Transcript: nil,
		TaskGoal:   "fix retries",
		Phase:      "EXECUTE",
		BaseSystem: "sys",
		Now:        time.Now(),
	})
	if err != nil {
		t.Fatalf("PreProcess() error = %v", err)
	}
	if len(out.Curation.Events) == 0 {
		t.Fatal("expected curation to run when over optimal size")
	}
}

func TestEngine_HandleToolResponse_TruncatesOverLimit(t *testing.T) {
	cfg := Config{MaxToolPayloadChars: 10, ContextWindowMax: 100000}
	bs := newMemBlobstore()
	engine := NewEngine(cfg, bs, nil, nil, nil)

	segs := NewSegments()
	seg, err := engine.HandleToolResponse(context.Background(), segs, "search", "0123456789abcdefghij", time.Now())
	if err != nil {
		t.Fatalf("HandleToolResponse() error = %v", err)
	}
	if len(seg.Content) >= 20 {
		t.Fatalf("expected truncated content, got %d chars", len(seg.Content))
	}
	if seg.RestorableReference == "" {
		t.Fatal("expected RestorableReference for externalized full payload")
	}
	if ok, _ := bs.Exists(context.Background(), seg.RestorableReference); !ok {
		t.Fatal("expected full payload to be persisted to blobstore")
	}
}

func TestEngine_HandleToolResponse_NoTruncationUnderLimit(t *testing.T) {
	cfg := Config{MaxToolPayloadChars: 1000, ContextWindowMax: 100000}
	engine := NewEngine(cfg, newMemBlobstore(), nil, nil, nil)

	segs := NewSegments()
	seg, err := engine.HandleToolResponse(context.Background(), segs, "search", "short", time.Now())
	if err != nil {
		t.Fatalf("HandleToolResponse() error = %v", err)
	}
	if seg.Content != "short" {
		t.Fatalf("Content = %q, want unchanged", seg.Content)
	}
	if seg.RestorableReference != "" {
		t.Fatal("expected no externalize reference under the payload limit")
	}
}

func TestEngine_PostProcess_AppendsReflectionAndPrunesStale(t *testing.T) {
	cfg := Config{ContextWindowMax: 100000}
	engine := NewEngine(cfg, newMemBlobstore(), nil, nil, nil)

	segs := NewSegments()
	_ = segs.Add(Segment{ID: "stale", Priority: 3, DecayRate: 10, Timestamp: time.Now().Add(-time.Hour)})
	_ = segs.Add(Segment{ID: "pinned", Priority: 9, DecayRate: 10, Timestamp: time.Now().Add(-time.Hour)})

	out := engine.PostProcess(context.Background(), PostProcessInput{
		ChatID:         "chat1",
		Segments:       segs,
		TaskGoal:       "goal",
		Phase:          "CONCLUDE",
		Now:            time.Now(),
		FreshnessFloor: 0.5,
	}, ContextPlaybook{})

	if out.Reflection.Issue == "" {
		t.Fatal("expected a non-empty reflection issue")
	}
	if out.Playbook.IterationCount != 1 {
		t.Fatalf("IterationCount = %d, want 1", out.Playbook.IterationCount)
	}
	found := false
	for _, id := range out.PrunedSegments {
		if id == "stale" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected stale segment to be pruned, got %v", out.PrunedSegments)
	}
	if _, ok := segs.Get("pinned"); !ok {
		t.Fatal("high-priority segment must never be pruned")
	}
}
