// Package history is A8, a small SQLite-backed record of past runs,
// independent of the journal and link-cache on-disk formats those use
// for resume. Grounded on the teacher's internal/downloader/state.go
// master list (one row per download, updated on start/finish), reworked
// onto a real table so modernc.org/sqlite (a teacher dependency the old
// JSON master list never exercised) has a genuine home.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded download attempt.
type Run struct {
	ID         int64
	URL        string
	DestPath   string
	Filename   string
	TotalSize  int64
	Status     string // "running", "completed", "error"
	StartedAt  time.Time
	FinishedAt time.Time
	Err        string
}

// Store wraps a SQLite database holding the runs table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	url         TEXT NOT NULL,
	dest_path   TEXT NOT NULL,
	filename    TEXT NOT NULL,
	total_size  INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	err         TEXT
);
`

// Start inserts a new in-progress run and returns its ID.
func (s *Store) Start(url, destPath, filename string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO runs (url, dest_path, filename, status, started_at) VALUES (?, ?, ?, 'running', ?)`,
		url, destPath, filename, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// Finish records a run's terminal status, total size, and any error.
func (s *Store) Finish(id int64, status string, totalSize int64, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, total_size = ?, finished_at = ?, err = ? WHERE id = ?`,
		status, totalSize, time.Now().Unix(), errText, id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, url, dest_path, filename, total_size, status, started_at, finished_at, err
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt int64
		var finishedAt sql.NullInt64
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &r.URL, &r.DestPath, &r.Filename, &r.TotalSize, &r.Status, &startedAt, &finishedAt, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			r.FinishedAt = time.Unix(finishedAt.Int64, 0)
		}
		r.Err = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
