package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"inboxd/internal/model"
)

const timeLayout = time.RFC3339

// SQLiteService is the bundled durable backend: each confirmed mutation is
// recorded in a ledger keyed by idempotency key, and the entity's durable
// state is upserted. Redelivery of a key is a no-op reported as Duplicate.
type SQLiteService struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the backing database.
func OpenSQLite(path string) (*SQLiteService, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteService{db: db}, nil
}

func initSchema(db *sql.DB) error {
	// WAL for concurrent readers during commit bursts
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS mutation_ledger (
		idempotency_key TEXT PRIMARY KEY,
		action_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		new_state TEXT NOT NULL,
		applied_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entity ON mutation_ledger(entity_id, kind);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Apply durably records the mutation. At-most-once per idempotency key: a
// key already in the ledger short-circuits without touching entity state.
func (s *SQLiteService) Apply(ctx context.Context, m Mutation) (Confirmation, error) {
	stateJSON, err := json.Marshal(m.NewState)
	if err != nil {
		return Confirmation{}, fmt.Errorf("marshal state: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Confirmation{}, &Error{Code: ErrCodeUnavailable, Message: err.Error()}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO mutation_ledger (idempotency_key, action_id, entity_id, kind, new_state, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		m.IdempotencyKey, m.ActionID, m.EntityID, string(m.Kind), string(stateJSON), now)
	if err != nil {
		return Confirmation{}, &Error{Code: ErrCodeUnavailable, Message: err.Error()}
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return Confirmation{}, &Error{Code: ErrCodeUnavailable, Message: err.Error()}
	}
	if inserted == 0 {
		// Redelivered idempotency key; the original apply stands.
		return Confirmation{EntityID: m.EntityID, Duplicate: true, AppliedAt: now}, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entities (id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at`,
		m.EntityID, string(stateJSON), now)
	if err != nil {
		return Confirmation{}, &Error{Code: ErrCodeUnavailable, Message: err.Error()}
	}

	if err := tx.Commit(); err != nil {
		return Confirmation{}, &Error{Code: ErrCodeUnavailable, Message: err.Error()}
	}

	return Confirmation{EntityID: m.EntityID, AppliedAt: now}, nil
}

// EntityState reads back the durable state of an entity.
func (s *SQLiteService) EntityState(ctx context.Context, entityID string) (model.EntityState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state FROM entities WHERE id = ?`, entityID)

	var stateJSON string
	if err := row.Scan(&stateJSON); err != nil {
		return model.EntityState{}, fmt.Errorf("read entity %s: %w", entityID, err)
	}

	var state model.EntityState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return model.EntityState{}, fmt.Errorf("decode entity %s: %w", entityID, err)
	}
	return state, nil
}

// MutationCount returns how many distinct mutations were recorded for an
// (entity, kind) pair. Exposed for the stats surface and tests.
func (s *SQLiteService) MutationCount(ctx context.Context, entityID string, kind model.ActionKind) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutation_ledger WHERE entity_id = ? AND kind = ?`,
		entityID, string(kind))

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteService) Close() error {
	return s.db.Close()
}
