package contextengine

import (
	"testing"
	"time"
)

func TestScorer_CompletenessPresenceOfExpectedTypes(t *testing.T) {
	segs := NewSegments()
	_ = segs.Add(Segment{ID: "a", Type: "conversation", TokenCount: 10})
	_ = segs.Add(Segment{ID: "b", Type: "code_context", TokenCount: 10})

	scorer := NewScorer()
	scores := scorer.Score(segs, "implement the feature", nil, time.Now(), 100000, "EXECUTE")

	// EXECUTE expects conversation, code_context, file_structure: 2/3 present.
	want := 2.0 / 3.0
	if diff := scores.Completeness - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("Completeness = %v, want %v", scores.Completeness, want)
	}
}

func TestScorer_FreshnessDecaysWithAge(t *testing.T) {
	now := time.Now()
	fresh := Segment{ID: "a", Timestamp: now, DecayRate: 0.01}
	stale := Segment{ID: "b", Timestamp: now.Add(-1 * time.Hour), DecayRate: 0.01}

	if segmentFreshness(fresh, now) <= segmentFreshness(stale, now) {
		t.Fatalf("expected fresher segment to score higher: fresh=%v stale=%v",
			segmentFreshness(fresh, now), segmentFreshness(stale, now))
	}
}

func TestScorer_PinnedSegmentNeverAges(t *testing.T) {
	now := time.Now()
	pinned := Segment{ID: "a", Timestamp: now.Add(-24 * time.Hour), DecayRate: 0}
	if got := segmentFreshness(pinned, now); got != 1.0 {
		t.Fatalf("segmentFreshness(pinned) = %v, want 1.0", got)
	}
}

func TestScorer_EfficiencyPenalizesFullWindow(t *testing.T) {
	scorer := NewScorer()
	low := scorer.efficiency(9000, 10000)
	high := scorer.efficiency(1000, 10000)
	if low >= high {
		t.Fatalf("expected near-full window to score lower efficiency: low=%v high=%v", low, high)
	}
}

func TestScorer_RelevanceRewardsOverlapWithTaskGoal(t *testing.T) {
	segs := NewSegments()
	_ = segs.Add(Segment{ID: "a", Content: "fix the login bug", Priority: 5})
	_ = segs.Add(Segment{ID: "b", Content: "unrelated weather report", Priority: 5})

	scorer := NewScorer()
	relevantOnly := scorer.relevance([]Segment{{ID: "a", Content: "fix the login bug", Priority: 5}}, "fix login bug", nil)
	irrelevantOnly := scorer.relevance([]Segment{{ID: "b", Content: "unrelated weather report", Priority: 5}}, "fix login bug", nil)

	if relevantOnly <= irrelevantOnly {
		t.Fatalf("expected overlapping segment to score higher relevance: relevant=%v irrelevant=%v", relevantOnly, irrelevantOnly)
	}
}

func TestScorer_CompositeQualityIsWeightedMean(t *testing.T) {
	segs := NewSegments()
	_ = segs.Add(Segment{ID: "a", Type: "conversation", Content: "hello", TokenCount: 5, Priority: 5, Timestamp: time.Now()})

	scorer := NewScorer()
	scores := scorer.Score(segs, "hello", []string{"hello"}, time.Now(), 1000, "PROPOSE")

	if scores.Quality < 0 || scores.Quality > 1 {
		t.Fatalf("Quality = %v, want value in [0,1]", scores.Quality)
	}
}
