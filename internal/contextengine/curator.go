package contextengine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CurationAction classifies what the curator did to a segment, for
// telemetry (spec §4.3 step 5 "Log every action as a compression/
// externalize telemetry event").
type CurationAction string

const (
	ActionCompress    CurationAction = "compress"
	ActionExternalize CurationAction = "externalize"
	ActionDiscard     CurationAction = "discard"
)

// CurationEvent records one curator action for telemetry.
type CurationEvent struct {
	Action      CurationAction `json:"action"`
	SegmentID   string         `json:"segment_id"`
	Reason      string         `json:"reason"`
	Stage       string         `json:"stage"`
	BeforeTokens int           `json:"before_tokens"`
	AfterTokens  int           `json:"after_tokens"`
	Timestamp    time.Time     `json:"timestamp"`
}

// CuratorConfig bounds curation behavior (spec §6 configuration inputs).
type CuratorConfig struct {
	// TargetTokens is the token budget curation tries to bring the
	// segment set back under (optimal_context_size).
	TargetTokens int
	// ExternalizeWriteEnabled gates writing full content to the blobstore;
	// if false, over-target segments fall straight through to discard.
	ExternalizeWriteEnabled bool
	// ExternalMemoryPath namespaces externalized blobs for this chat.
	ExternalMemoryPath string
}

// Curator compresses, externalizes, and discards low-value segments when
// the context window is over budget or quality is poor (spec §4.3 step 5).
type Curator struct {
	cfg       CuratorConfig
	blobstore Blobstore
	estimator *TokenEstimator
}

// NewCurator builds a Curator. blobstore may be nil only if
// ExternalizeWriteEnabled is false.
func NewCurator(cfg CuratorConfig, blobstore Blobstore) *Curator {
	return &Curator{cfg: cfg, blobstore: blobstore, estimator: DefaultTokenEstimator()}
}

// CurationResult is the outcome of a Curate pass: the updated externalized
// index and the ordered log of actions taken.
type CurationResult struct {
	ExternalIndex map[string]string // reference_id -> blobstore path/ref
	Events        []CurationEvent
}

// Curate scores every segment by priority*relevance*freshness and, starting
// from the lowest scorers, compresses compression-eligible segments,
// externalizes the still-over-target remainder, and finally discards
// oldest low-priority segments if the window is still over target.
func (c *Curator) Curate(ctx context.Context, segs *Segments, relevance map[string]float64, now time.Time) (CurationResult, error) {
	result := CurationResult{ExternalIndex: map[string]string{}}

	ranked := c.rank(segs, relevance, now)

	// Stage 1: compress. Bottom-scoring compression-eligible segments get
	// their content replaced by a summarized form.
	for _, id := range ranked {
		if segs.ContextWindowUsed() <= c.cfg.TargetTokens {
			break
		}
		seg, ok := segs.Get(id)
		if !ok || !seg.CompressionEligible || seg.IsPointer() {
			continue
		}
		before := seg.TokenCount
		compressed := compressContent(seg.Content)
		seg.Content = compressed
		seg.TokenCount = c.estimator.Estimate(compressed)
		seg.CompressionEligible = false
		segs.Replace(seg)
		result.Events = append(result.Events, CurationEvent{
			Action: ActionCompress, SegmentID: seg.ID, Reason: "over_target",
			Stage: "curate", BeforeTokens: before, AfterTokens: seg.TokenCount, Timestamp: now,
		})
	}

	// Stage 2: externalize. Segments still over target get their full
	// content written durably and replaced with a pointer.
	for _, id := range ranked {
		if segs.ContextWindowUsed() <= c.cfg.TargetTokens {
			break
		}
		seg, ok := segs.Get(id)
		if !ok || seg.IsPointer() {
			continue
		}
		if !c.cfg.ExternalizeWriteEnabled || c.blobstore == nil {
			continue
		}
		before := seg.TokenCount
		ref := uuid.NewString()
		blobRef := strings.TrimSuffix(c.cfg.ExternalMemoryPath, "/") + "/" + ref
		if err := c.blobstore.Write(ctx, blobRef, []byte(seg.Content)); err != nil {
			return result, fmt.Errorf("contextengine: externalize %s: %w", seg.ID, err)
		}
		result.ExternalIndex[ref] = blobRef

		seg.Type = PointerPrefix + seg.Type
		seg.Content = fmt.Sprintf("[externalized %s, %d tokens]", ref, before)
		seg.RestorableReference = ref
		seg.TokenCount = c.estimator.Estimate(seg.Content)
		seg.CompressionEligible = false
		segs.Replace(seg)

		result.Events = append(result.Events, CurationEvent{
			Action: ActionExternalize, SegmentID: seg.ID, Reason: "over_target",
			Stage: "curate", BeforeTokens: before, AfterTokens: seg.TokenCount, Timestamp: now,
		})
	}

	// Stage 3: discard. Still over target: drop oldest low-priority
	// segments outright.
	byAge := append([]Segment(nil), segs.All()...)
	sort.Slice(byAge, func(i, j int) bool {
		if byAge[i].Priority != byAge[j].Priority {
			return byAge[i].Priority < byAge[j].Priority
		}
		return byAge[i].Timestamp.Before(byAge[j].Timestamp)
	})
	for _, seg := range byAge {
		if segs.ContextWindowUsed() <= c.cfg.TargetTokens {
			break
		}
		if seg.Priority >= 8 {
			continue // never discard high-priority segments
		}
		before := seg.TokenCount
		segs.Remove(seg.ID)
		result.Events = append(result.Events, CurationEvent{
			Action: ActionDiscard, SegmentID: seg.ID, Reason: "over_target",
			Stage: "curate", BeforeTokens: before, AfterTokens: 0, Timestamp: now,
		})
	}

	return result, nil
}

// rank orders segment ids from lowest to highest priority*relevance*freshness.
func (c *Curator) rank(segs *Segments, relevance map[string]float64, now time.Time) []string {
	type scored struct {
		id    string
		score float64
	}
	var list []scored
	for _, seg := range segs.All() {
		rel := relevance[seg.ID]
		score := float64(seg.Priority) * rel * segmentFreshness(seg, now)
		list = append(list, scored{id: seg.ID, score: score})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].score < list[j].score })
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.id
	}
	return ids
}

// compressContent heuristically summarizes content: retain the first and
// last lines plus bulleted keywords, targeting roughly half the original
// length (spec §4.3 step 5).
func compressContent(content string) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) <= 2 {
		return truncateHalf(content)
	}

	first := strings.TrimSpace(lines[0])
	last := strings.TrimSpace(lines[len(lines)-1])
	keywords := topKeywords(content, 8)

	var b strings.Builder
	b.WriteString(first)
	b.WriteString("\n...\n")
	if len(keywords) > 0 {
		b.WriteString("Key points:\n")
		for _, kw := range keywords {
			b.WriteString("- ")
			b.WriteString(kw)
			b.WriteString("\n")
		}
	}
	b.WriteString(last)
	return b.String()
}

func truncateHalf(content string) string {
	half := len(content) / 2
	if half == 0 {
		return content
	}
	return content[:half] + "\n...[compressed]"
}

// topKeywords returns up to n of the most frequent non-trivial words.
func topKeywords(content string, n int) []string {
	counts := map[string]int{}
	for _, field := range strings.Fields(strings.ToLower(content)) {
		field = strings.Trim(field, ".,!?;:\"'()[]{}")
		if len(field) < 4 || stopwords[field] {
			continue
		}
		counts[field]++
	}
	type kv struct {
		word  string
		count int
	}
	var list []kv
	for w, c := range counts {
		list = append(list, kv{w, c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].word < list[j].word
	})
	if len(list) > n {
		list = list[:n]
	}
	out := make([]string, len(list))
	for i, kv := range list {
		out[i] = kv.word
	}
	return out
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"were": true, "been": true, "they": true, "their": true, "there": true,
	"which": true, "about": true, "would": true, "could": true, "should": true,
}
