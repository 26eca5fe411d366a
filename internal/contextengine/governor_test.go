package contextengine

import (
	"context"
	"testing"
)

func TestGovernor_DeterministicOrdersByPriorityDescending(t *testing.T) {
	segs := NewSegments()
	_ = segs.Add(Segment{ID: "low", Priority: 1})
	_ = segs.Add(Segment{ID: "high", Priority: 9})

	g := NewGovernor()
	plan, err := g.Plan(context.Background(), segs, Scores{Quality: 0.5}, "base system", []string{"focus-term"})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.PromptOutline.OrderedSegments) != 2 {
		t.Fatalf("len(OrderedSegments) = %d, want 2", len(plan.PromptOutline.OrderedSegments))
	}
	if plan.PromptOutline.OrderedSegments[0] != "high" {
		t.Fatalf("OrderedSegments[0] = %q, want high", plan.PromptOutline.OrderedSegments[0])
	}
	if plan.PromptOutline.System != "base system" {
		t.Fatalf("System = %q, want base system", plan.PromptOutline.System)
	}
}

func TestGovernor_DeterministicIsolatesPointerSegments(t *testing.T) {
	segs := NewSegments()
	_ = segs.Add(Segment{ID: "p", Type: PointerPrefix + "code_context", Priority: 5})

	g := NewGovernor()
	plan, err := g.Plan(context.Background(), segs, Scores{}, "sys", nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Actions) != 1 || plan.Actions[0].Decision != DecisionIsolate {
		t.Fatalf("expected pointer segment to be isolated, got %+v", plan.Actions)
	}
}

func TestGovernor_ApplySummarizeCompressesContent(t *testing.T) {
	segs := NewSegments()
	long := "first\nsecond\nthird\nfourth line of content about bugs and fixes"
	_ = segs.Add(Segment{ID: "a", Content: long, TokenCount: 100})

	g := NewGovernor()
	priority := 7
	plan := GovernorPlan{Actions: []GovernorAction{{SegmentID: "a", Decision: DecisionSummarize, Priority: &priority}}}
	g.Apply(segs, plan)

	seg, _ := segs.Get("a")
	if seg.Content == long {
		t.Fatal("expected summarize action to change content")
	}
	if seg.Priority != 7 {
		t.Fatalf("Priority = %d, want 7", seg.Priority)
	}
}

func TestGovernor_ApplyDiscardRemovesSegment(t *testing.T) {
	segs := NewSegments()
	_ = segs.Add(Segment{ID: "a", TokenCount: 10})

	g := NewGovernor()
	plan := GovernorPlan{Actions: []GovernorAction{{SegmentID: "a", Decision: DecisionDiscard}}}
	g.Apply(segs, plan)

	if _, ok := segs.Get("a"); ok {
		t.Fatal("expected discard action to remove the segment")
	}
}
