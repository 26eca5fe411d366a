package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLiteStore implements Store over an embedded SQLite database, for
// single-binary deployments and tests that want persistence without a
// network dependency.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed registry store
// at path. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection avoids "database is locked".
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
		CREATE TABLE IF NOT EXISTS agents (
			agent_id       TEXT PRIMARY KEY,
			host           TEXT NOT NULL,
			port           INTEGER NOT NULL,
			status         TEXT NOT NULL,
			registered_at  DATETIME NOT NULL,
			last_heartbeat DATETIME NOT NULL,
			hotpath        INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create agents table: %w", err)
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

// Register implements Store.
func (s *SQLiteStore) Register(ctx context.Context, agentID, host string, port int, hotpath bool, now time.Time) (Record, error) {
	existing, err := s.Get(ctx, agentID)
	sticky := hotpath
	if err == nil {
		sticky = existing.Hotpath || hotpath
	} else if err != ErrNotFound {
		return Record{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, host, port, status, registered_at, last_heartbeat, hotpath)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			status = excluded.status,
			registered_at = excluded.registered_at,
			last_heartbeat = excluded.last_heartbeat,
			hotpath = excluded.hotpath
	`, agentID, host, port, string(StatusHealthy), now, now, boolToInt(sticky))
	if err != nil {
		return Record{}, fmt.Errorf("register agent: %w", err)
	}
	return s.Get(ctx, agentID)
}

// Heartbeat implements Store.
func (s *SQLiteStore) Heartbeat(ctx context.Context, agentID string, status Status, now time.Time) (Record, error) {
	if _, err := s.Get(ctx, agentID); err != nil {
		return Record{}, err
	}
	if status != "" {
		_, err := s.db.ExecContext(ctx, `UPDATE agents SET last_heartbeat = ?, status = ? WHERE agent_id = ?`, now, string(status), agentID)
		if err != nil {
			return Record{}, fmt.Errorf("heartbeat: %w", err)
		}
	} else {
		_, err := s.db.ExecContext(ctx, `UPDATE agents SET last_heartbeat = ? WHERE agent_id = ?`, now, agentID)
		if err != nil {
			return Record{}, fmt.Errorf("heartbeat: %w", err)
		}
	}
	return s.Get(ctx, agentID)
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, agentID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, host, port, status, registered_at, last_heartbeat, hotpath
		FROM agents WHERE agent_id = ?
	`, agentID)
	rec, err := scanSQLiteRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions, now time.Time, agentTimeout time.Duration) ([]Record, error) {
	query := `SELECT agent_id, host, port, status, registered_at, last_heartbeat, hotpath FROM agents`
	if opts.HotpathOnly {
		query += ` WHERE hotpath = 1`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		if opts.HealthyOnly && !rec.EffectivelyHealthy(now, agentTimeout) {
			continue
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Remove implements Store.
func (s *SQLiteStore) Remove(ctx context.Context, agentID string, force bool) error {
	rec, err := s.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if rec.Hotpath && !force {
		return ErrHotpathAgent
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("remove agent: %w", err)
	}
	return nil
}

// SetHotpath implements Store.
func (s *SQLiteStore) SetHotpath(ctx context.Context, agentID string, hotpath bool) (Record, error) {
	if _, err := s.Get(ctx, agentID); err != nil {
		return Record{}, err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET hotpath = ? WHERE agent_id = ?`, boolToInt(hotpath), agentID)
	if err != nil {
		return Record{}, fmt.Errorf("set hotpath: %w", err)
	}
	return s.Get(ctx, agentID)
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context, now time.Time, agentTimeout time.Duration) (Stats, error) {
	records, err := s.List(ctx, ListOptions{}, now, agentTimeout)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{LastUpdated: now, TotalAgents: len(records)}
	for _, rec := range records {
		if rec.EffectivelyHealthy(now, agentTimeout) {
			stats.HealthyAgents++
		} else {
			stats.UnhealthyAgents++
		}
	}
	return stats, nil
}

func scanSQLiteRecord(scanner rowScanner) (Record, error) {
	var (
		rec     Record
		status  string
		hotpath int
	)
	if err := scanner.Scan(&rec.AgentID, &rec.Host, &rec.Port, &status, &rec.RegisteredAt, &rec.LastHeartbeat, &hotpath); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.Hotpath = hotpath != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
