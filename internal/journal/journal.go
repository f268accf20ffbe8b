// Package journal keeps a SQLite history of sessions: one row per spawn,
// completed when the child exits. It is an Observer of the session manager
// and outlives the sessions it records.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/session"
)

// ErrNotFound is returned for session ids with no journal record.
var ErrNotFound = errors.New("journal record not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	argv TEXT NOT NULL DEFAULT '[]',
	dir TEXT NOT NULL DEFAULT '',
	pid INTEGER NOT NULL,
	rows INTEGER NOT NULL,
	cols INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	exited_at TEXT,
	exit_code INTEGER
);

CREATE INDEX IF NOT EXISTS sessions_started_at ON sessions(started_at);
`

// Record is one journaled session.
type Record struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	Argv      []string   `json:"argv"`
	Dir       string     `json:"dir,omitempty"`
	Pid       int        `json:"pid"`
	Rows      int        `json:"rows"`
	Cols      int        `json:"cols"`
	StartedAt time.Time  `json:"started_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

// Journal is a SQLite-backed session history.
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the journal at path. ":memory:" gives a
// private in-memory journal.
func Open(path string) (*Journal, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		dsn = "file:" + path
	}

	log.Debug(log.CatJournal, "Opening journal", "path", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		log.ErrorErr(log.CatJournal, "Failed to open journal", err, "path", path)
		return nil, err
	}
	// One connection: sqlite has a single writer and :memory: is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		log.ErrorErr(log.CatJournal, "Failed to apply schema", err, "path", path)
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	log.Info(log.CatJournal, "Journal ready", "path", path)
	return &Journal{db: db, path: path}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// SessionSpawned inserts the spawn record.
func (j *Journal) SessionSpawned(info session.Info) {
	argv, err := json.Marshal(info.Argv)
	if err != nil {
		argv = []byte("[]")
	}
	_, err = j.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, command, argv, dir, pid, rows, cols, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.Command, string(argv), info.Dir, info.Pid, info.Rows, info.Cols,
		info.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		log.ErrorErr(log.CatJournal, "Failed to record spawn", err, "id", info.ID)
	}
}

// SessionExited stores the exit code and time.
func (j *Journal) SessionExited(info session.Info) {
	exitedAt := time.Now()
	if info.ExitedAt != nil {
		exitedAt = *info.ExitedAt
	}
	var code any
	if info.ExitCode != nil {
		code = *info.ExitCode
	}
	res, err := j.db.Exec(
		`UPDATE sessions SET exited_at = ?, exit_code = ? WHERE id = ?`,
		exitedAt.UTC().Format(time.RFC3339Nano), code, info.ID,
	)
	if err != nil {
		log.ErrorErr(log.CatJournal, "Failed to record exit", err, "id", info.ID)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Warn(log.CatJournal, "Exit for unjournaled session", "id", info.ID)
	}
}

const selectColumns = `SELECT id, command, argv, dir, pid, rows, cols, started_at, exited_at, exit_code FROM sessions`

// Get returns the record for id.
func (j *Journal) Get(ctx context.Context, id string) (Record, error) {
	row := j.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return rec, err
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, selectColumns+` ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec       Record
		argv      string
		startedAt string
		exitedAt  sql.NullString
		exitCode  sql.NullInt64
	)
	if err := s.Scan(&rec.ID, &rec.Command, &argv, &rec.Dir, &rec.Pid, &rec.Rows, &rec.Cols,
		&startedAt, &exitedAt, &exitCode); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(argv), &rec.Argv); err != nil {
		return Record{}, fmt.Errorf("argv of %s: %w", rec.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Record{}, fmt.Errorf("started_at of %s: %w", rec.ID, err)
	}
	rec.StartedAt = t
	if exitedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, exitedAt.String)
		if err != nil {
			return Record{}, fmt.Errorf("exited_at of %s: %w", rec.ID, err)
		}
		rec.ExitedAt = &t
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	return rec, nil
}

var _ session.Observer = (*Journal)(nil)
