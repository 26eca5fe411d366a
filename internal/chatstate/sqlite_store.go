package chatstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLiteStore implements Store over an embedded SQLite database, for
// single-binary deployments that want checkpoint durability across
// restarts without a network dependency (grounded on registry.SQLiteStore).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed checkpoint
// store at path. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("chatstate: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chat_checkpoints (
			chat_id         TEXT PRIMARY KEY,
			snapshot        TEXT NOT NULL,
			checkpointed_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("chatstate: create chat_checkpoints table: %w", err)
	}
	return nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.ChatID == "" {
		return fmt.Errorf("chatstate: snapshot chat_id is required")
	}
	encoded, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("chatstate: marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_checkpoints (chat_id, snapshot, checkpointed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			checkpointed_at = excluded.checkpointed_at
	`, snap.ChatID, string(encoded), snap.CheckpointedAt)
	if err != nil {
		return fmt.Errorf("chatstate: save checkpoint: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, chatID string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT snapshot FROM chat_checkpoints WHERE chat_id = ?`, chatID)
	var encoded string
	if err := row.Scan(&encoded); err != nil {
		if err == sql.ErrNoRows {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("chatstate: load checkpoint: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(encoded), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("chatstate: decode checkpoint: %w", err)
	}
	return snap, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_checkpoints WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("chatstate: delete checkpoint: %w", err)
	}
	return nil
}
