package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"policyeval/internal/domain"
)

const sessionSchema = `CREATE TABLE IF NOT EXISTS assistant_sessions (
	key             TEXT PRIMARY KEY,
	assistant_id    TEXT NOT NULL,
	file_id         TEXT NOT NULL DEFAULT '',
	vector_store_id TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
)`

// SQLiteStore keeps sessions in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore creates the sessions table if needed and returns a store over db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sessionSchema); err != nil {
		return nil, fmt.Errorf("init session schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, key string) (domain.AssistantSession, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT assistant_id, file_id, vector_store_id, model, created_at FROM assistant_sessions WHERE key = ?`, key)
	var (
		out       domain.AssistantSession
		createdAt string
	)
	if err := row.Scan(&out.AssistantID, &out.FileID, &out.VectorStoreID, &out.Model, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AssistantSession{}, false, nil
		}
		return domain.AssistantSession{}, false, err
	}
	out.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return out, true, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, key string, sess domain.AssistantSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assistant_sessions (key, assistant_id, file_id, vector_store_id, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   assistant_id = excluded.assistant_id,
		   file_id = excluded.file_id,
		   vector_store_id = excluded.vector_store_id,
		   model = excluded.model,
		   created_at = excluded.created_at`,
		key, sess.AssistantID, sess.FileID, sess.VectorStoreID, sess.Model, sess.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM assistant_sessions WHERE key = ?`, key)
	return err
}
