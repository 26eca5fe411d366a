package prp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// LedgerStatus is a refinement ledger entry's lifecycle status.
type LedgerStatus string

const (
	StatusProposed   LedgerStatus = "proposed"
	StatusInProgress LedgerStatus = "in_progress"
	StatusSucceeded  LedgerStatus = "succeeded"
	StatusFailed     LedgerStatus = "failed"
	StatusAbandoned  LedgerStatus = "abandoned"
)

// TestResult is a single recorded test outcome attached to a ledger entry.
type TestResult struct {
	Name          string    `json:"name"`
	OverallStatus string    `json:"overall_status"`
	Output        string    `json:"output,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// LedgerEntry is one row of the refinement ledger (spec §3).
type LedgerEntry struct {
	CycleID                   string         `json:"cycle_id"`
	Timestamp                 time.Time      `json:"timestamp"`
	Hypothesis                string         `json:"hypothesis"`
	Status                    LedgerStatus   `json:"status"`
	OutcomeSummary            string         `json:"outcome_summary,omitempty"`
	ExhaustionTrigger         ExhaustionMode `json:"exhaustion_trigger,omitempty"`
	Strategy                  string         `json:"strategy,omitempty"`
	NoveltyScore              float64        `json:"novelty_score"`
	Dependencies              []string       `json:"dependencies,omitempty"`
	PredictedSuccessProbability float64      `json:"predicted_success_probability"`
	TestResults               []TestResult   `json:"test_results,omitempty"`
	Metadata                  map[string]any `json:"metadata,omitempty"`
	CausalLinks               []string       `json:"causal_links,omitempty"`
}

// ErrLedgerRejected is returned (as a logical rejection, not a fatal error)
// when a proposal is rejected for being a near-duplicate without a
// differentiating strategy (spec invariant 6).
var ErrLedgerRejected = errors.New("refinement_ledger_rejected")

// ErrUnknownCycle is returned when a cycle_id does not exist in the ledger.
var ErrUnknownCycle = errors.New("unknown cycle_id")

// NoveltyThreshold is the minimum novelty score a duplicate-looking
// hypothesis must clear, absent a differentiating strategy, to be accepted.
const NoveltyThreshold = 0.35

// Ledger is the per-chat refinement ledger: an append-only, DAG-shaped log
// of hypotheses. Per design note "Cyclic references in state", dependencies
// and causal links are resolved by cycle_id lookup, never by in-memory
// parent pointers.
type Ledger struct {
	entries []LedgerEntry
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Entries returns every entry, oldest first.
func (l *Ledger) Entries() []LedgerEntry {
	return l.entries
}

// Get returns the entry with the given cycle_id.
func (l *Ledger) Get(cycleID string) (LedgerEntry, bool) {
	for _, e := range l.entries {
		if e.CycleID == cycleID {
			return e, true
		}
	}
	return LedgerEntry{}, false
}

// ProposeHypothesis implements the propose_hypothesis tool call (spec §4.6).
// It computes a novelty score by text-distance against existing hypotheses;
// if the score is below NoveltyThreshold and no differentiating strategy is
// supplied, the proposal is rejected and the ledger is left unchanged.
func (l *Ledger) ProposeHypothesis(hypothesis, strategy, summary string, dependencies []string, now time.Time) (LedgerEntry, error) {
	novelty := l.novelty(hypothesis)
	if novelty < NoveltyThreshold && strategy == "" {
		return LedgerEntry{}, fmt.Errorf("%w: hypothesis too similar to an existing entry (novelty=%.2f)", ErrLedgerRejected, novelty)
	}

	for _, dep := range dependencies {
		if _, ok := l.Get(dep); !ok {
			return LedgerEntry{}, fmt.Errorf("dependency %q: %w", dep, ErrUnknownCycle)
		}
	}

	entry := LedgerEntry{
		CycleID:                      uuid.NewString(),
		Timestamp:                    now,
		Hypothesis:                   hypothesis,
		Status:                       StatusProposed,
		OutcomeSummary:               summary,
		Strategy:                     strategy,
		NoveltyScore:                 novelty,
		Dependencies:                 dependencies,
		PredictedSuccessProbability: l.predictSuccess(novelty, dependencies),
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

// ConcludeHypothesis implements conclude_hypothesis: it mutates the entry
// with cycle_id in place, setting its status and outcome summary.
func (l *Ledger) ConcludeHypothesis(cycleID string, status LedgerStatus, summary string) (LedgerEntry, error) {
	for i := range l.entries {
		if l.entries[i].CycleID == cycleID {
			l.entries[i].Status = status
			l.entries[i].OutcomeSummary = summary
			return l.entries[i], nil
		}
	}
	return LedgerEntry{}, ErrUnknownCycle
}

// RecordTestResult appends a test result to cycleID's entry and clears
// NeedsTestAfterRejection on the supplied invariants tracker.
func (l *Ledger) RecordTestResult(cycleID string, result TestResult, inv *Invariants) (LedgerEntry, error) {
	for i := range l.entries {
		if l.entries[i].CycleID == cycleID {
			l.entries[i].TestResults = append(l.entries[i].TestResults, result)
			if inv != nil {
				inv.RecordTestResult()
			}
			return l.entries[i], nil
		}
	}
	return LedgerEntry{}, ErrUnknownCycle
}

// AppendCritique records a translated supervisor critique against
// cycleID's metadata.critiques (spec §4.5 step 3 "writes entries ... into
// the current ledger row's metadata.critiques").
func (l *Ledger) AppendCritique(cycleID string, critique Critique) error {
	for i := range l.entries {
		if l.entries[i].CycleID == cycleID {
			if l.entries[i].Metadata == nil {
				l.entries[i].Metadata = map[string]any{}
			}
			existing, _ := l.entries[i].Metadata["critiques"].([]Critique)
			l.entries[i].Metadata["critiques"] = append(existing, critique)
			return nil
		}
	}
	return ErrUnknownCycle
}

// SetExhaustionTrigger records why a cycle stalled, used by the exhaustion
// predictor's input tail.
func (l *Ledger) SetExhaustionTrigger(cycleID string, mode ExhaustionMode) error {
	for i := range l.entries {
		if l.entries[i].CycleID == cycleID {
			l.entries[i].ExhaustionTrigger = mode
			return nil
		}
	}
	return ErrUnknownCycle
}

// QueryFilter narrows QueryPastFailures.
type QueryFilter struct {
	Status       LedgerStatus
	HypothesisContains string
}

// QueryPastFailures implements query_past_failures: returns matching
// entries, most recent first, bounded by limit (0 means unbounded),
// optionally including test_results.
func (l *Ledger) QueryPastFailures(filter QueryFilter, limit int, includeTests bool) []LedgerEntry {
	var matches []LedgerEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.HypothesisContains != "" && !strings.Contains(strings.ToLower(e.Hypothesis), strings.ToLower(filter.HypothesisContains)) {
			continue
		}
		if !includeTests {
			e.TestResults = nil
		}
		matches = append(matches, e)
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	return matches
}

// InferCausalChain implements infer_causal_chain: it walks `dependencies`
// transitively for each requested cycle_id and attaches the full
// transitive closure to that entry's CausalLinks.
func (l *Ledger) InferCausalChain(cycleIDs []string) error {
	for _, id := range cycleIDs {
		chain, err := l.transitiveDependencies(id, map[string]bool{})
		if err != nil {
			return err
		}
		for i := range l.entries {
			if l.entries[i].CycleID == id {
				l.entries[i].CausalLinks = chain
				break
			}
		}
	}
	return nil
}

func (l *Ledger) transitiveDependencies(cycleID string, seen map[string]bool) ([]string, error) {
	entry, ok := l.Get(cycleID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", cycleID, ErrUnknownCycle)
	}
	var chain []string
	for _, dep := range entry.Dependencies {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		chain = append(chain, dep)
		transitive, err := l.transitiveDependencies(dep, seen)
		if err != nil {
			return nil, err
		}
		chain = append(chain, transitive...)
	}
	return chain, nil
}

// novelty scores how different hypothesis is from every existing entry's
// hypothesis text, using diffmatchpatch's common/total-length ratio
// (grounded on teradata-labs-loom's golden-eval similarity metric). It
// returns 1 - (max similarity to any existing entry), so an entirely novel
// hypothesis scores close to 1 and a near-duplicate scores close to 0.
func (l *Ledger) novelty(hypothesis string) float64 {
	if len(l.entries) == 0 {
		return 1.0
	}
	maxSimilarity := 0.0
	for _, e := range l.entries {
		sim := textSimilarity(hypothesis, e.Hypothesis)
		if sim > maxSimilarity {
			maxSimilarity = sim
		}
	}
	return 1.0 - maxSimilarity
}

func textSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)

	commonLength, totalLength := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			commonLength += len(d.Text)
			totalLength += len(d.Text)
		case diffmatchpatch.DiffInsert, diffmatchpatch.DiffDelete:
			totalLength += len(d.Text)
		}
	}
	if totalLength == 0 {
		return 1.0
	}
	return float64(commonLength) / float64(totalLength)
}

// predictSuccess is a heuristic blending novelty with the dependency
// success rate: hypotheses that build on mostly-successful prior work score
// higher, tempered by novelty (a completely untested direction is riskier).
func (l *Ledger) predictSuccess(novelty float64, dependencies []string) float64 {
	if len(dependencies) == 0 {
		return clamp01(0.5 + 0.2*(1-novelty))
	}
	succeeded := 0
	for _, dep := range dependencies {
		if e, ok := l.Get(dep); ok && e.Status == StatusSucceeded {
			succeeded++
		}
	}
	depRate := float64(succeeded) / float64(len(dependencies))
	return clamp01(0.3 + 0.5*depRate + 0.2*(1-novelty))
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

