package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/hcpsim/coachgate/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS session_states (
	key TEXT PRIMARY KEY,
	state JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_states_expires ON session_states(expires_at);
`

// PostgresStore persists session state in PostgreSQL.
// Expiry is enforced on read, mirroring the SQLite implementation.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore: failed to open database", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore: failed to connect", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		slog.Error("PostgresStore: failed to create schema", "error", err)
		db.Close()
		return nil, err
	}
	slog.Info("PostgresStore: initialized")
	return &PostgresStore{db: db}, nil
}

// Get retrieves session state; returns (nil, nil) when absent or expired.
func (s *PostgresStore) Get(ctx context.Context, key string) (*models.SessionState, error) {
	var stateJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM session_states WHERE key = $1 AND expires_at > NOW()`, key,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore.Get: not found", "key", key)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.Get: failed", "error", err, "key", key)
		return nil, err
	}
	var state models.SessionState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		slog.Error("PostgresStore.Get: corrupt state, discarding", "error", err, "key", key)
		return nil, nil
	}
	return &state, nil
}

// Put upserts session state with a fresh expiry.
func (s *PostgresStore) Put(ctx context.Context, key string, state models.SessionState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_states (key, state, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state, expires_at = EXCLUDED.expires_at`,
		key, stateJSON, time.Now().Add(models.SessionTTL))
	if err != nil {
		slog.Error("PostgresStore.Put: failed", "error", err, "key", key)
		return err
	}
	slog.Debug("PostgresStore.Put: stored", "key", key)
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
