package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/transcript"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteSessionsSchemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    mode TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    turns INTEGER NOT NULL DEFAULT 0,
    payload_json TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL DEFAULT 0,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
`

// SQLite persists one JSON payload per session row. The summary columns are
// kept next to it so listing does not decode transcripts.
type SQLite struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ Store = (*SQLite)(nil)

func NewSQLite(dsn string) (*SQLite, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite session store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite session store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(sqliteSessionsSchemaV1); err != nil {
		return errors.Wrap(err, "could not create sessions table")
	}
	return nil
}

func (s *SQLite) Save(ctx context.Context, sess *dialogue.Session) error {
	if err := checkSession(sess); err != nil {
		return err
	}
	payload, err := transcript.ToJSON(sess)
	if err != nil {
		return err
	}
	sum := Summarize(sess)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (id, title, mode, kind, status, turns, payload_json, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    status = excluded.status,
    turns = excluded.turns,
    payload_json = excluded.payload_json,
    updated_at_ms = excluded.updated_at_ms`,
		sum.ID,
		sum.Title,
		string(sum.Mode),
		string(sum.Kind),
		string(sum.Status),
		sum.Turns,
		string(payload),
		toMillis(sum.CreatedAt),
		toMillis(sum.UpdatedAt),
	)
	return err
}

func (s *SQLite) Load(ctx context.Context, id string) (*dialogue.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload_json FROM sessions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return transcript.FromJSON([]byte(payload))
}

func (s *SQLite) List(ctx context.Context, q Query) ([]Summary, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, mode, kind, status, turns, created_at_ms, updated_at_ms FROM sessions`)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var summaries []Summary
	for rows.Next() {
		var (
			sum                  Summary
			mode, kind, status   string
			createdMs, updatedMs int64
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &mode, &kind, &status, &sum.Turns, &createdMs, &updatedMs); err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		sum.Mode = dialogue.Mode(mode)
		sum.Kind = dialogue.Kind(kind)
		sum.Status = dialogue.Status(status)
		sum.CreatedAt = fromMillis(createdMs)
		sum.UpdatedAt = fromMillis(updatedMs)
		summaries = append(summaries, sum)
	}
	err = rows.Err()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return q.Apply(summaries)
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, id)
	}
	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
