package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// RunStatus is the terminal record of a run.
type RunStatus struct {
	StartedUTC      time.Time  `json:"StartedUtc"`
	FinishedUTC     time.Time  `json:"FinishedUtc"`
	FilesScanned    int        `json:"FilesScanned"`
	FilesUploaded   int        `json:"FilesUploaded"`
	SkippedExisting int        `json:"SkippedExisting"`
	SkippedUnstable int        `json:"SkippedUnstable"`
	Errors          int        `json:"Errors"`
	BytesUploaded   int64      `json:"BytesUploaded"`
	Checkpoint      *time.Time `json:"Checkpoint,omitempty"`
	DryRun          bool       `json:"DryRun,omitempty"`
	Notes           string     `json:"Notes,omitempty"`
}

// Succeeded reports whether the run finished without a run-level error.
// Per-file errors do not fail a run.
func (s RunStatus) Succeeded() bool {
	return s.Notes == ""
}

// Summary renders the status as a notification body.
func (s RunStatus) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Started: %s\n", s.StartedUTC.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "Finished: %s\n", s.FinishedUTC.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "Scanned: %d\n", s.FilesScanned)
	fmt.Fprintf(&b, "Uploaded: %d (%s)\n", s.FilesUploaded, humanize.Bytes(uint64(s.BytesUploaded)))
	fmt.Fprintf(&b, "Skipped(existing): %d\n", s.SkippedExisting)
	fmt.Fprintf(&b, "Skipped(unstable): %d\n", s.SkippedUnstable)
	fmt.Fprintf(&b, "Errors: %d", s.Errors)
	if s.Notes != "" {
		fmt.Fprintf(&b, "\n\nError: %s", s.Notes)
	}
	return b.String()
}

// StatusSink receives every finished RunStatus, e.g. a run history store.
type StatusSink interface {
	Record(ctx context.Context, status RunStatus) error
}

// Recorder accumulates the counters of one run. It is not safe for
// concurrent use; a run has a single writer.
type Recorder struct {
	clock      clockwork.Clock
	started    time.Time
	scanned    int
	uploaded   int
	bytes      int64
	existing   int
	unstable   int
	errors     int
	checkpoint time.Time
	dryRun     bool
}

// NewRecorder starts a run at the clock's current time.
func NewRecorder(clock clockwork.Clock, dryRun bool) *Recorder {
	return &Recorder{
		clock:   clock,
		started: clock.Now().UTC(),
		dryRun:  dryRun,
	}
}

func (r *Recorder) Scanned(n int) { r.scanned += n }
func (r *Recorder) SkippedExisting() { r.existing++ }
func (r *Recorder) SkippedUnstable() { r.unstable++ }
func (r *Recorder) Failed() { r.errors++ }
func (r *Recorder) Checkpoint(t time.Time) { r.checkpoint = t }

func (r *Recorder) Uploaded(size int64) {
	r.uploaded++
	r.bytes += size
}

// Finish builds the terminal status. A non-nil runErr becomes the notes.
func (r *Recorder) Finish(runErr error) RunStatus {
	status := RunStatus{
		StartedUTC:      r.started,
		FinishedUTC:     r.clock.Now().UTC(),
		FilesScanned:    r.scanned,
		FilesUploaded:   r.uploaded,
		SkippedExisting: r.existing,
		SkippedUnstable: r.unstable,
		Errors:          r.errors,
		BytesUploaded:   r.bytes,
		DryRun:          r.dryRun,
	}
	if !r.checkpoint.IsZero() {
		cp := r.checkpoint
		status.Checkpoint = &cp
	}
	if runErr != nil {
		status.Notes = runErr.Error()
	}
	return status
}

// WriteStatus saves status as indented JSON, creating parent directories.
func WriteStatus(fsys afero.Fs, path string, status RunStatus) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(fsys, path, data, 0o644)
}
