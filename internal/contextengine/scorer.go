package contextengine

import (
	"math"
	"strings"
	"time"
)

// ScoreWeights weights the six sub-scores into the composite quality score
// (spec §4.3 step 4). Weights need not sum to 1; Score normalizes.
type ScoreWeights struct {
	Relevance    float64
	Coherence    float64
	Completeness float64
	Freshness    float64
	Diversity    float64
	Efficiency   float64
}

// DefaultScoreWeights weighs relevance and completeness most heavily, since
// those most directly affect whether the LLM has what it needs.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Relevance:    0.25,
		Coherence:    0.15,
		Completeness: 0.25,
		Freshness:    0.15,
		Diversity:    0.10,
		Efficiency:   0.10,
	}
}

// Scores holds the six sub-scores plus the composite quality.
type Scores struct {
	Relevance    float64
	Coherence    float64
	Completeness float64
	Freshness    float64
	Diversity    float64
	Efficiency   float64
	Quality      float64
}

// Scorer computes context quality (spec §4.3 step 4).
type Scorer struct {
	Weights ScoreWeights
}

// NewScorer returns a Scorer with the default weights.
func NewScorer() *Scorer {
	return &Scorer{Weights: DefaultScoreWeights()}
}

// PhaseExpectedTypes maps a PRP phase name to the segment types a
// well-provisioned context should have loaded by that phase, used by the
// completeness sub-score.
var PhaseExpectedTypes = map[string][]string{
	"PROPOSE":     {"conversation", "task_goal"},
	"HYPOTHESIZE": {"conversation", "code_context", "past_failures"},
	"EXECUTE":     {"conversation", "code_context", "file_structure"},
	"TEST":        {"conversation", "test_suite"},
	"CONCLUDE":    {"conversation"},
}

// Score computes every sub-score and the weighted composite quality.
func (s *Scorer) Score(segs *Segments, taskGoal string, recentUserTurns []string, now time.Time, windowMax int, phase string) Scores {
	all := segs.All()

	scores := Scores{
		Relevance:    s.relevance(all, taskGoal, recentUserTurns),
		Coherence:    s.coherence(all),
		Completeness: s.completeness(all, PhaseExpectedTypes[phase]),
		Freshness:    s.freshness(all, now),
		Diversity:    s.diversity(all),
		Efficiency:   s.efficiency(segs.ContextWindowUsed(), windowMax),
	}

	w := s.Weights
	total := w.Relevance + w.Coherence + w.Completeness + w.Freshness + w.Diversity + w.Efficiency
	if total == 0 {
		return scores
	}
	scores.Quality = (scores.Relevance*w.Relevance +
		scores.Coherence*w.Coherence +
		scores.Completeness*w.Completeness +
		scores.Freshness*w.Freshness +
		scores.Diversity*w.Diversity +
		scores.Efficiency*w.Efficiency) / total
	return scores
}

// relevance is a TF-ish overlap between each segment's content and the task
// goal plus recent user turns, weighted by the segment's priority.
func (s *Scorer) relevance(segs []Segment, taskGoal string, recentUserTurns []string) float64 {
	if len(segs) == 0 {
		return 1.0
	}
	queryTerms := termSet(taskGoal)
	for _, turn := range recentUserTurns {
		for t := range termSet(turn) {
			queryTerms[t] = true
		}
	}
	if len(queryTerms) == 0 {
		return 0.5
	}

	var weightedSum, weightTotal float64
	for _, seg := range segs {
		weight := float64(seg.Priority+1) / 11.0
		overlap := overlapRatio(termSet(seg.Content), queryTerms)
		weightedSum += overlap * weight
		weightTotal += weight
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}

// coherence penalizes a context fragmented across many distinct segment
// types relative to its size: a handful of types, each represented by
// several segments, is coherent; many singleton types is not.
func (s *Scorer) coherence(segs []Segment) float64 {
	if len(segs) == 0 {
		return 1.0
	}
	counts := typeCounts(segs)
	distinctTypes := len(counts)
	if distinctTypes <= 1 {
		return 1.0
	}
	ratio := float64(distinctTypes) / float64(len(segs))
	return clamp01(1.0 - ratio)
}

// completeness is the fraction of expectedTypes present among segs.
func (s *Scorer) completeness(segs []Segment, expectedTypes []string) float64 {
	if len(expectedTypes) == 0 {
		return 1.0
	}
	present := typeCounts(segs)
	hits := 0
	for _, t := range expectedTypes {
		if present[t] > 0 {
			hits++
		}
	}
	return float64(hits) / float64(len(expectedTypes))
}

// freshness averages each segment's exponential decay from its timestamp.
func (s *Scorer) freshness(segs []Segment, now time.Time) float64 {
	if len(segs) == 0 {
		return 1.0
	}
	var total float64
	for _, seg := range segs {
		total += segmentFreshness(seg, now)
	}
	return total / float64(len(segs))
}

// segmentFreshness applies exp(-decayRate * ageSeconds); decayRate 0 means
// the segment never ages (e.g. a pinned system segment).
func segmentFreshness(seg Segment, now time.Time) float64 {
	if seg.Timestamp.IsZero() || seg.DecayRate <= 0 {
		return 1.0
	}
	ageSeconds := now.Sub(seg.Timestamp).Seconds()
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	return math.Exp(-seg.DecayRate * ageSeconds)
}

// diversity rewards a broader spread of distinct segment types, capped at 6
// distinct types (beyond which additional variety stops helping).
func (s *Scorer) diversity(segs []Segment) float64 {
	distinct := len(typeCounts(segs))
	return clamp01(float64(distinct) / 6.0)
}

// efficiency is 1 - used/max: more headroom scores higher.
func (s *Scorer) efficiency(used, max int) float64 {
	if max <= 0 {
		return 1.0
	}
	return clamp01(1.0 - float64(used)/float64(max))
}

func typeCounts(segs []Segment) map[string]int {
	counts := make(map[string]int)
	for _, seg := range segs {
		counts[seg.Type]++
	}
	return counts
}

func termSet(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		field = strings.Trim(field, ".,!?;:\"'()[]{}")
		if field != "" {
			terms[field] = true
		}
	}
	return terms
}

func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 {
		return 0
	}
	hits := 0
	for term := range a {
		if b[term] {
			hits++
		}
	}
	return float64(hits) / float64(len(a))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
