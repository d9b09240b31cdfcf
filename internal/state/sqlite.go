package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps state in a single table keyed by trace and key
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS step_state (
	trace_id TEXT NOT NULL,
	key      TEXT NOT NULL,
	value    BLOB NOT NULL,
	PRIMARY KEY (trace_id, key)
)`

// NewSQLiteStore prepares the schema on db and returns a store using it
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(
	ctx context.Context, traceID, key string,
) (json.RawMessage, error) {
	var res []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM step_state WHERE trace_id = ? AND key = ?`,
		traceID, key,
	).Scan(&res)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLiteStore) Set(
	ctx context.Context, traceID, key string, value json.RawMessage,
) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_state (trace_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (trace_id, key) DO UPDATE SET value = excluded.value`,
		traceID, key, []byte(value),
	)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, traceID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM step_state WHERE trace_id = ? AND key = ?`,
		traceID, key,
	)
	return err
}

func (s *SQLiteStore) Clear(ctx context.Context, traceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM step_state WHERE trace_id = ?`, traceID,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
