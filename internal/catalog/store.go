package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrNotFound is returned when a session id is not in the catalog
var ErrNotFound = errors.New("session not found")

// Session is one recording session and the files it produced
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	Sensors   []string  `json:"sensors"`
	Error     string    `json:"error,omitempty"`
	Files     []File    `json:"files"`
}

// Open reports whether the session has not been stopped
func (s Session) Open() bool {
	return s.StoppedAt.IsZero()
}

// File is one session output file with its size and content digest at stop time
type File struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Digest    string `json:"blake3"`
}

// Store wraps SQLite access for the session catalog
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog database and applies migrations
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Delegate callbacks and API reads share one connection
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return store, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			stopped_at TEXT,
			sensors TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS session_files (
			session_id TEXT NOT NULL,
			path TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			blake3 TEXT NOT NULL,
			PRIMARY KEY (session_id, path)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// StartSession records a session that has just started
func (s *Store) StartSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET started_at = excluded.started_at`,
		id, at.UTC().Format(time.RFC3339Nano))
	return err
}

// FailSession appends an error message to a session
func (s *Store) FailSession(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET error = CASE WHEN error = '' THEN ? ELSE error || '; ' || ? END
		 WHERE id = ?`,
		message, message, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishSession stores the stop time, sensors and produced files of a session.
// A session that was never started in this catalog is created.
func (s *Store) FinishSession(ctx context.Context, id string, at time.Time, sensors []string, files []File) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stopped := at.UTC().Format(time.RFC3339Nano)
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, stopped_at, sensors) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET stopped_at = excluded.stopped_at, sensors = excluded.sensors`,
		id, stopped, stopped, strings.Join(sensors, ",")); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO session_files (session_id, path, size_bytes, blake3) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err = stmt.ExecContext(ctx, id, f.Path, f.SizeBytes, f.Digest); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Get returns one session with its files
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, stopped_at, sensors, error FROM sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}

	files, err := s.files(ctx, id)
	if err != nil {
		return Session{}, err
	}
	session.Files = files
	return session, nil
}

// List returns up to limit sessions, newest first. A limit of zero or less lists all.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, stopped_at, sensors, error FROM sessions
		 ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range sessions {
		files, err := s.files(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Files = files
	}
	return sessions, nil
}

func (s *Store) files(ctx context.Context, id string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, size_bytes, blake3 FROM session_files WHERE session_id = ? ORDER BY path`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []File{}
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Path, &f.SizeBytes, &f.Digest); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		session   Session
		startedAt string
		stoppedAt sql.NullString
		sensors   string
	)
	if err := row.Scan(&session.ID, &startedAt, &stoppedAt, &sensors, &session.Error); err != nil {
		return Session{}, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Session{}, err
	}
	session.StartedAt = parsed

	if stoppedAt.Valid {
		parsed, err := time.Parse(time.RFC3339Nano, stoppedAt.String)
		if err != nil {
			return Session{}, err
		}
		session.StoppedAt = parsed
	}

	session.Sensors = []string{}
	if sensors != "" {
		session.Sensors = strings.Split(sensors, ",")
	}
	return session, nil
}
