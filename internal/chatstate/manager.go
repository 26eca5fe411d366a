package chatstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Manager implements the chat-state lifecycle from spec §3: lazy
// materialization on first envelope, checkpoint-after-every-graph-
// invocation, restore-on-restart. It also serializes access per chat_id
// (spec §5 "callers serialize per chat_id") via a per-chat mutex so the
// runtime loop's single-goroutine-per-chat processing has a concrete lock
// to hold around a graph invocation.
type Manager struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager returns a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, locks: map[string]*sync.Mutex{}}
}

// Lock returns the per-chat_id mutex, creating it on first use. Callers
// hold it for the duration of one graph invocation (load -> process ->
// checkpoint) to guarantee single-owner semantics.
func (m *Manager) Lock(chatID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[chatID] = lock
	}
	return lock
}

// Load returns chatID's ChatState, restoring it from the checkpoint store
// if one exists, or lazily materializing a fresh PROPOSE-state aggregate
// otherwise. Callers must hold Lock(chatID) before calling.
func (m *Manager) Load(ctx context.Context, chatID string) (*ChatState, error) {
	snap, err := m.store.Load(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		return New(chatID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("chatstate: load %s: %w", chatID, err)
	}
	return FromSnapshot(snap), nil
}

// Checkpoint persists cs's current state. Callers must hold Lock(cs.ChatID)
// before calling.
func (m *Manager) Checkpoint(ctx context.Context, cs *ChatState, now time.Time) error {
	if err := m.store.Save(ctx, cs.ToSnapshot(now)); err != nil {
		return fmt.Errorf("chatstate: checkpoint %s: %w", cs.ChatID, err)
	}
	return nil
}

// Evict drops cs's checkpoint and per-chat lock, used when a chat is torn
// down explicitly (workspace destroyed, conversation archived).
func (m *Manager) Evict(ctx context.Context, chatID string) error {
	m.mu.Lock()
	delete(m.locks, chatID)
	m.mu.Unlock()
	return m.store.Delete(ctx, chatID)
}
