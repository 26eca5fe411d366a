// Package contextengine implements the per-chat context engine: segment
// scoring, curation (compress/externalize/discard), progressive loading,
// the governor, and context-reset. See spec §4.3. It is the hardest
// subsystem in the runtime; this file defines the segment model it all
// operates on.
package contextengine

import (
	"strings"
	"time"
)

// Segment is a unit of working memory (spec §3 "context_segments").
type Segment struct {
	ID                    string    `json:"id"`
	Content               string    `json:"content"`
	Type                  string    `json:"type"`
	Priority              int       `json:"priority"` // 0..10
	TokenCount            int       `json:"token_count"`
	Timestamp             time.Time `json:"timestamp"`
	DecayRate             float64   `json:"decay_rate"`
	CompressionEligible   bool      `json:"compression_eligible"`
	RestorableReference   string    `json:"restorable_reference,omitempty"`
}

// PointerPrefix marks a segment whose content was externalized.
const PointerPrefix = "pointer:"

// IsPointer reports whether the segment is a pointer placeholder.
func (s Segment) IsPointer() bool {
	return strings.HasPrefix(s.Type, PointerPrefix)
}

// PointerOriginalType returns the type the pointer stands in for.
func (s Segment) PointerOriginalType() string {
	return strings.TrimPrefix(s.Type, PointerPrefix)
}

// Segments is an ordered collection of Segment with the invariants from
// spec §3: unique ids, non-negative token counts, pointer segments always
// carrying a restorable reference.
type Segments struct {
	items []Segment
}

// NewSegments returns an empty segment list.
func NewSegments() *Segments {
	return &Segments{}
}

// FromSlice builds a Segments from an existing slice (used when restoring
// chat state from a checkpoint).
func FromSlice(items []Segment) *Segments {
	return &Segments{items: append([]Segment(nil), items...)}
}

// All returns the segments in order.
func (s *Segments) All() []Segment {
	return s.items
}

// Len returns the segment count.
func (s *Segments) Len() int {
	return len(s.items)
}

// Add appends a segment, assigning a fresh id if empty. Returns an error if
// the id collides with an existing segment (invariant: ids unique).
func (s *Segments) Add(seg Segment) error {
	if seg.ID == "" {
		return errSegmentIDRequired
	}
	for _, existing := range s.items {
		if existing.ID == seg.ID {
			return errDuplicateSegmentID
		}
	}
	if seg.TokenCount < 0 {
		seg.TokenCount = 0
	}
	s.items = append(s.items, seg)
	return nil
}

// Get returns the segment with id, if present.
func (s *Segments) Get(id string) (Segment, bool) {
	for _, seg := range s.items {
		if seg.ID == id {
			return seg, true
		}
	}
	return Segment{}, false
}

// Replace overwrites the segment with the same id as updated.
func (s *Segments) Replace(updated Segment) bool {
	for i := range s.items {
		if s.items[i].ID == updated.ID {
			s.items[i] = updated
			return true
		}
	}
	return false
}

// Remove deletes the segment with id, returning whether it existed.
func (s *Segments) Remove(id string) bool {
	for i, seg := range s.items {
		if seg.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// ContextWindowUsed sums every segment's token_count (spec invariant 2).
func (s *Segments) ContextWindowUsed() int {
	total := 0
	for _, seg := range s.items {
		total += seg.TokenCount
	}
	return total
}

// ByType returns every segment whose type equals typ.
func (s *Segments) ByType(typ string) []Segment {
	var out []Segment
	for _, seg := range s.items {
		if seg.Type == typ {
			out = append(out, seg)
		}
	}
	return out
}

// HasType reports whether any segment has the given type.
func (s *Segments) HasType(typ string) bool {
	for _, seg := range s.items {
		if seg.Type == typ {
			return true
		}
	}
	return false
}
