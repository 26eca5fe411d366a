package envelope

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFabric implements Fabric over Redis Streams (XADD/XREAD/XRANGE/SCAN),
// grounded on intelligencedev-manifold's redis/go-redis usage. Mailboxes map
// 1:1 onto stream keys; entry ids are native Redis stream ids.
type RedisFabric struct {
	client redis.UniversalClient
}

// NewRedisFabric wraps an existing client. The caller owns the client's
// lifecycle (Close).
func NewRedisFabric(client redis.UniversalClient) *RedisFabric {
	return &RedisFabric{client: client}
}

const fieldsKey = "f"

// Append implements Fabric.
func (r *RedisFabric) Append(ctx context.Context, mailbox string, env Envelope) (string, error) {
	fields, err := env.ToFields()
	if err != nil {
		return "", err
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: mailbox,
		Values: map[string]any{
			"timestamp": fields["timestamp"],
			"sender":    fields["sender"],
			"recipient": fields["recipient"],
			"message":   fields["message"],
			"payload":   fields["payload"],
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", mailbox, err)
	}
	return id, nil
}

// TailRead implements Fabric.
func (r *RedisFabric) TailRead(ctx context.Context, cursors map[string]string, maxCount int, blockTimeout time.Duration) ([]MailboxBatch, error) {
	if len(cursors) == 0 {
		return nil, nil
	}

	streams := make([]string, 0, len(cursors)*2)
	mailboxOrder := make([]string, 0, len(cursors))
	for mailbox := range cursors {
		mailboxOrder = append(mailboxOrder, mailbox)
		streams = append(streams, mailbox)
	}
	for _, mailbox := range mailboxOrder {
		cursor := cursors[mailbox]
		if cursor == "" {
			cursor = "0"
		}
		streams = append(streams, cursor)
	}

	args := &redis.XReadArgs{
		Streams: streams,
		Count:   int64(maxCount),
		Block:   blockTimeout,
	}
	result, err := r.client.XRead(ctx, args).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xread: %w", err)
	}

	batches := make([]MailboxBatch, 0, len(result))
	for _, stream := range result {
		entries := make([]Entry, 0, len(stream.Messages))
		for _, msg := range stream.Messages {
			entries = append(entries, Entry{ID: msg.ID, Fields: stringifyValues(msg.Values)})
		}
		if len(entries) > 0 {
			batches = append(batches, MailboxBatch{Mailbox: stream.Stream, Entries: entries})
		}
	}
	return batches, nil
}

// Range implements Fabric.
func (r *RedisFabric) Range(ctx context.Context, mailbox string, fromID, toID string, count int) ([]Entry, error) {
	if fromID == "" {
		fromID = "-"
	}
	if toID == "" {
		toID = "+"
	}
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = r.client.XRangeN(ctx, mailbox, fromID, toID, int64(count)).Result()
	} else {
		msgs, err = r.client.XRange(ctx, mailbox, fromID, toID).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", mailbox, err)
	}
	return toEntries(msgs), nil
}

// RevRange implements Fabric.
func (r *RedisFabric) RevRange(ctx context.Context, mailbox string, count int) ([]Entry, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = r.client.XRevRangeN(ctx, mailbox, "+", "-", int64(count)).Result()
	} else {
		msgs, err = r.client.XRevRange(ctx, mailbox, "+", "-").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", mailbox, err)
	}
	return toEntries(msgs), nil
}

// Scan implements Fabric.
func (r *RedisFabric) Scan(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		names = append(names, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	return names, nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{ID: msg.ID, Fields: stringifyValues(msg.Values)})
	}
	return entries
}

func stringifyValues(values map[string]any) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
			continue
		}
		fields[k] = fmt.Sprintf("%v", v)
	}
	return fields
}
