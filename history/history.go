// Package history keeps a SQLite log of finished backup runs.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rocketdrive/backupagent/sync"
)

const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
`

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	started_utc      TEXT    NOT NULL,
	finished_utc     TEXT    NOT NULL,
	files_scanned    INTEGER NOT NULL,
	files_uploaded   INTEGER NOT NULL,
	skipped_existing INTEGER NOT NULL,
	skipped_unstable INTEGER NOT NULL,
	errors           INTEGER NOT NULL,
	bytes_uploaded   INTEGER NOT NULL,
	checkpoint       TEXT    NOT NULL DEFAULT '',
	dry_run          INTEGER NOT NULL DEFAULT 0,
	notes            TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs (started_utc);
`

// Run is a stored run record.
type Run struct {
	ID              int64  `db:"id"`
	StartedUTC      string `db:"started_utc"`
	FinishedUTC     string `db:"finished_utc"`
	FilesScanned    int    `db:"files_scanned"`
	FilesUploaded   int    `db:"files_uploaded"`
	SkippedExisting int    `db:"skipped_existing"`
	SkippedUnstable int    `db:"skipped_unstable"`
	Errors          int    `db:"errors"`
	BytesUploaded   int64  `db:"bytes_uploaded"`
	Checkpoint      string `db:"checkpoint"`
	DryRun          bool   `db:"dry_run"`
	Notes           string `db:"notes"`
}

// Store persists run records. It implements sync.StatusSink.
type Store struct {
	db *sqlx.DB
}

var _ sync.StatusSink = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure parent directory: %w", err)
	}

	slog.Debug("history db", "driver", driverName, "path", path)
	db, err := sqlx.Connect(driverName, fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", path))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(defaultPragma); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts status as a new run.
func (s *Store) Record(ctx context.Context, status sync.RunStatus) error {
	run := Run{
		StartedUTC:      status.StartedUTC.Format(time.RFC3339Nano),
		FinishedUTC:     status.FinishedUTC.Format(time.RFC3339Nano),
		FilesScanned:    status.FilesScanned,
		FilesUploaded:   status.FilesUploaded,
		SkippedExisting: status.SkippedExisting,
		SkippedUnstable: status.SkippedUnstable,
		Errors:          status.Errors,
		BytesUploaded:   status.BytesUploaded,
		DryRun:          status.DryRun,
		Notes:           status.Notes,
	}
	if status.Checkpoint != nil {
		run.Checkpoint = status.Checkpoint.Format(time.RFC3339Nano)
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (
			started_utc, finished_utc, files_scanned, files_uploaded, skipped_existing,
			skipped_unstable, errors, bytes_uploaded, checkpoint, dry_run, notes
		) VALUES (
			:started_utc, :finished_utc, :files_scanned, :files_uploaded, :skipped_existing,
			:skipped_unstable, :errors, :bytes_uploaded, :checkpoint, :dry_run, :notes
		)`, run)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	err := s.db.SelectContext(ctx, &runs, `SELECT * FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	return runs, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
