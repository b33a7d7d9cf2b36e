// Package store persists the session registry: which coding-agent sessions
// exist, where they run, and when they were last active. The dashboard's
// session list, the terminal endpoint's working-directory lookup, and the
// stale-session sweeper all read from here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/shared"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Session is one registered coding-agent session.
type Session struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Workdir    string    `json:"workdir"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Store wraps the SQLite session registry.
type Store struct {
	db  *sql.DB
	bus *bus.Bus
}

// Open opens (creating if needed) the registry database at path. Lifecycle
// events are published on eventBus when it is non-nil.
func Open(path string, eventBus *bus.Bus) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, bus: eventBus}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		PRAGMA journal_mode = WAL;
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL DEFAULT '',
			workdir     TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_active TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Register inserts a session. An empty id gets a generated UUID; an empty
// title falls back to the workdir's base name. Returns the stored session.
func (s *Store) Register(ctx context.Context, id, title, workdir string) (Session, error) {
	if strings.TrimSpace(workdir) == "" {
		return Session{}, errors.New("workdir is required")
	}
	if id == "" {
		id = shared.NewSessionID()
	}
	if strings.TrimSpace(title) == "" {
		title = filepath.Base(workdir)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, workdir)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, workdir = excluded.workdir;
	`, id, title, workdir)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	sess, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicSessionRegistered, bus.SessionEvent{SessionID: id, Workdir: workdir})
	}
	return sess, nil
}

// Get returns one session by id.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, workdir, created_at, last_active
		FROM sessions WHERE id = ?;
	`, id).Scan(&sess.ID, &sess.Title, &sess.Workdir, &sess.CreatedAt, &sess.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

// List returns sessions ordered most recently active first.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, workdir, created_at, last_active
		FROM sessions
		ORDER BY last_active DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Workdir, &sess.CreatedAt, &sess.LastActive); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session rows: %w", err)
	}
	return out, nil
}

// Touch bumps a session's last-activity timestamp. Unknown ids are ignored:
// activity can race with removal and losing the race is harmless.
func (s *Store) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_active = CURRENT_TIMESTAMP WHERE id = ?;
	`, id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicSessionActivity, bus.SessionEvent{SessionID: id})
	}
	return nil
}

// Remove deletes a session. Returns ErrNotFound for unknown ids.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicSessionRemoved, bus.SessionEvent{SessionID: id})
	}
	return nil
}

// Count returns the number of registered sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// ListIdleBefore returns sessions whose last activity is before cutoff,
// candidates for the stale-session sweep.
func (s *Store) ListIdleBefore(ctx context.Context, cutoff time.Time) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, workdir, created_at, last_active
		FROM sessions
		WHERE last_active < ?
		ORDER BY last_active ASC;
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Workdir, &sess.CreatedAt, &sess.LastActive); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("idle session rows: %w", err)
	}
	return out, nil
}
