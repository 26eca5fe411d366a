package runtime

import (
	"time"

	"github.com/nexus-prp/runtime/internal/cache"
)

// EnvelopeDedup answers the Open Question "duplicate envelope delivery" by
// keying cache.DedupeCache's LRU seen-set on (chat_id, ticket_id): a
// replayed envelope is acknowledged but does not re-invoke the graph.
// Grounded on internal/cache.DedupeCache directly rather than reimplementing
// an LRU, generalizing its MessageDedupeKey convention from
// channel:message_id to chat_id:ticket_id.
type EnvelopeDedup struct {
	cache *cache.DedupeCache
}

// NewEnvelopeDedup returns a dedup set retaining seen ticket_ids for ttl
// (0 means "forever"), bounded to maxSize entries (0 means unbounded).
func NewEnvelopeDedup(ttl time.Duration, maxSize int) *EnvelopeDedup {
	return &EnvelopeDedup{
		cache: cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: ttl, MaxSize: maxSize}),
	}
}

// Seen reports whether (chatID, ticketID) was already processed, recording
// it as seen either way. An empty ticketID never dedups (envelopes without
// a ticket_id, e.g. heartbeats, always proceed).
func (d *EnvelopeDedup) Seen(chatID, ticketID string) bool {
	if ticketID == "" {
		return false
	}
	return d.cache.Check(dedupKey(chatID, ticketID))
}

func dedupKey(chatID, ticketID string) string {
	return chatID + ":" + ticketID
}
