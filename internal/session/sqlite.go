package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hcpsim/coachgate/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_states (
	key TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_states_expires ON session_states(expires_at);
`

// SQLiteStore persists session state in a local SQLite database.
// Expiry is enforced on read; expired rows are lazily overwritten.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed session store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore: failed to open database", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		slog.Error("SQLiteStore: failed to create schema", "error", err)
		db.Close()
		return nil, err
	}
	slog.Info("SQLiteStore: initialized", "dsn_set", dsn != "")
	return &SQLiteStore{db: db}, nil
}

// Get retrieves session state; returns (nil, nil) when absent or expired.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*models.SessionState, error) {
	var stateJSON string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT state, expires_at FROM session_states WHERE key = ?`, key,
	).Scan(&stateJSON, &expiresAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore.Get: not found", "key", key)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.Get: failed", "error", err, "key", key)
		return nil, err
	}
	if time.Now().After(expiresAt) {
		slog.Debug("SQLiteStore.Get: expired", "key", key)
		return nil, nil
	}
	var state models.SessionState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		slog.Error("SQLiteStore.Get: corrupt state, discarding", "error", err, "key", key)
		return nil, nil
	}
	return &state, nil
}

// Put upserts session state with a fresh expiry.
func (s *SQLiteStore) Put(ctx context.Context, key string, state models.SessionState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_states (key, state, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET state = excluded.state, expires_at = excluded.expires_at`,
		key, string(stateJSON), time.Now().Add(models.SessionTTL))
	if err != nil {
		slog.Error("SQLiteStore.Put: failed", "error", err, "key", key)
		return err
	}
	slog.Debug("SQLiteStore.Put: stored", "key", key)
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
