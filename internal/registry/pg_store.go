package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore implements Store over Postgres (or Postgres-wire-compatible
// databases), grounded on internal/jobs/cockroach.go's CockroachStore: plain
// database/sql, upserts via ON CONFLICT, explicit scan helpers.
type PGStore struct {
	db *sql.DB
}

// PGConfig configures pool limits for a PGStore connection.
type PGConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPGConfig mirrors internal/jobs/cockroach.go's DefaultCockroachConfig.
func DefaultPGConfig() *PGConfig {
	return &PGConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPGStoreFromDSN opens a pgx-stdlib connection and verifies schema
// presence via an idempotent migration.
func NewPGStoreFromDSN(ctx context.Context, dsn string, cfg *PGConfig) (*PGStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg == nil {
		cfg = DefaultPGConfig()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PGStore{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// migrate creates the single agents table. Schema migration is additive per
// spec §6: adding hotpath to an existing table is idempotent.
func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			agent_id       TEXT PRIMARY KEY,
			host           TEXT NOT NULL,
			port           INTEGER NOT NULL,
			status         TEXT NOT NULL,
			registered_at  TIMESTAMPTZ NOT NULL,
			last_heartbeat TIMESTAMPTZ NOT NULL,
			hotpath        BOOLEAN NOT NULL DEFAULT FALSE
		)
	`)
	if err != nil {
		return fmt.Errorf("create agents table: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `ALTER TABLE agents ADD COLUMN IF NOT EXISTS hotpath BOOLEAN NOT NULL DEFAULT FALSE`)
	if err != nil {
		return fmt.Errorf("migrate hotpath column: %w", err)
	}
	return nil
}

// Close releases database resources.
func (s *PGStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Register implements Store.
func (s *PGStore) Register(ctx context.Context, agentID, host string, port int, hotpath bool, now time.Time) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO agents (agent_id, host, port, status, registered_at, last_heartbeat, hotpath)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
		ON CONFLICT (agent_id) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			status = EXCLUDED.status,
			registered_at = EXCLUDED.registered_at,
			last_heartbeat = EXCLUDED.last_heartbeat,
			hotpath = agents.hotpath OR EXCLUDED.hotpath
		RETURNING agent_id, host, port, status, registered_at, last_heartbeat, hotpath
	`, agentID, host, port, string(StatusHealthy), now, hotpath)
	return scanRecord(row)
}

// Heartbeat implements Store.
func (s *PGStore) Heartbeat(ctx context.Context, agentID string, status Status, now time.Time) (Record, error) {
	query := `UPDATE agents SET last_heartbeat = $2`
	args := []any{agentID, now}
	if status != "" {
		query += `, status = $3`
		args = append(args, string(status))
	}
	query += ` WHERE agent_id = $1 RETURNING agent_id, host, port, status, registered_at, last_heartbeat, hotpath`

	row := s.db.QueryRowContext(ctx, query, args...)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Get implements Store.
func (s *PGStore) Get(ctx context.Context, agentID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, host, port, status, registered_at, last_heartbeat, hotpath
		FROM agents WHERE agent_id = $1
	`, agentID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List implements Store.
func (s *PGStore) List(ctx context.Context, opts ListOptions, now time.Time, agentTimeout time.Duration) ([]Record, error) {
	query := `SELECT agent_id, host, port, status, registered_at, last_heartbeat, hotpath FROM agents`
	var conds []string
	var args []any
	if opts.HotpathOnly {
		conds = append(conds, "hotpath = TRUE")
	}
	if len(conds) > 0 {
		query += " WHERE " + conds[0]
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
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
func (s *PGStore) Remove(ctx context.Context, agentID string, force bool) error {
	rec, err := s.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if rec.Hotpath && !force {
		return ErrHotpathAgent
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("remove agent: %w", err)
	}
	return nil
}

// SetHotpath implements Store.
func (s *PGStore) SetHotpath(ctx context.Context, agentID string, hotpath bool) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE agents SET hotpath = $2 WHERE agent_id = $1
		RETURNING agent_id, host, port, status, registered_at, last_heartbeat, hotpath
	`, agentID, hotpath)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Stats implements Store.
func (s *PGStore) Stats(ctx context.Context, now time.Time, agentTimeout time.Duration) (Stats, error) {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (Record, error) {
	var (
		rec    Record
		status string
	)
	if err := scanner.Scan(&rec.AgentID, &rec.Host, &rec.Port, &status, &rec.RegisteredAt, &rec.LastHeartbeat, &rec.Hotpath); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}
