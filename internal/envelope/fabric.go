package envelope

import (
	"context"
	"time"
)

// Entry is a single stream record: a monotonic id and the fields recorded
// at append time.
type Entry struct {
	ID     string
	Fields map[string]string
}

// Envelope decodes the entry's fields back into an Envelope.
func (e Entry) Envelope() Envelope {
	return FromFields(e.Fields)
}

// MailboxBatch groups the entries observed for one mailbox during a TailRead.
type MailboxBatch struct {
	Mailbox string
	Entries []Entry
}

// Fabric is the messaging fabric contract: an append-only, totally-ordered,
// per-mailbox stream with blocking tail reads. See spec §4.1.
type Fabric interface {
	// Append writes an envelope to mailbox and returns its assigned entry id.
	Append(ctx context.Context, mailbox string, env Envelope) (entryID string, err error)

	// TailRead blocks until an entry newer than each cursor arrives on its
	// mailbox, maxCount total entries have been collected, or blockTimeout
	// elapses — whichever comes first. cursors maps mailbox name to the last
	// acknowledged entry id ("" means "from the start").
	TailRead(ctx context.Context, cursors map[string]string, maxCount int, blockTimeout time.Duration) ([]MailboxBatch, error)

	// Range returns entries in [fromID, toID] order, oldest first, bounded by
	// count (0 means unbounded).
	Range(ctx context.Context, mailbox string, fromID, toID string, count int) ([]Entry, error)

	// RevRange returns up to count of the most recent entries, newest first.
	RevRange(ctx context.Context, mailbox string, count int) ([]Entry, error)

	// Scan lists mailbox names sharing prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)
}
