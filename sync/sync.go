package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rocketdrive/backupagent/notify"
	"github.com/spf13/afero"
)

const (
	subjectCompleted  = "Backup run completed"
	subjectFailed     = "Backup run failed"
	subjectCheckpoint = "issue while getting timestamp file"
)

// Options configures a backup run.
type Options struct {
	Folders        []string   // local roots to scan
	Extensions     Extensions // allow-list, empty allows all
	TargetFolder   string     // remote top-level folder
	CheckpointPath string
	StatusPath     string
	Overwrite      bool // replace remote files with the same name
	MaxAttempts    int  // upload attempts per file
	DryRun         bool // if true, log actions without changing anything
}

// Notifier delivers run events. Implementations swallow their own failures.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event)
}

// Engine performs incremental backup runs of local folders onto a Remote.
type Engine struct {
	remote   Remote
	notifier Notifier
	opts     Options
	fs       afero.Fs
	clock    clockwork.Clock
	retry    Policy
	sinks    []StatusSink
}

// Option customizes an Engine.
type Option func(*Engine)

// WithFs replaces the OS file system, mostly for tests.
func WithFs(fsys afero.Fs) Option {
	return func(e *Engine) { e.fs = fsys }
}

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
		e.retry.Clock = clock
	}
}

// WithBackoff replaces DefaultBackoff for upload retries.
func WithBackoff(backoff func(attempt int) time.Duration) Option {
	return func(e *Engine) { e.retry.Backoff = backoff }
}

// WithStatusSink adds a sink that receives the terminal status of each run.
func WithStatusSink(sink StatusSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sink) }
}

// New creates an Engine. notifier may be nil.
func New(remote Remote, notifier Notifier, opts Options, options ...Option) *Engine {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	e := &Engine{
		remote:   remote,
		notifier: notifier,
		opts:     opts,
		fs:       afero.NewOsFs(),
		clock:    clockwork.NewRealClock(),
		retry:    Policy{MaxAttempts: opts.MaxAttempts},
	}
	for _, o := range options {
		o(e)
	}
	if e.retry.Clock == nil {
		e.retry.Clock = e.clock
	}
	return e
}

// Run processes one batch of changed files. The status record is written and
// the summary notification sent whatever the outcome; a run-level error is
// returned after that.
func (e *Engine) Run(ctx context.Context) (status RunStatus, err error) {
	rec := NewRecorder(e.clock, e.opts.DryRun)
	defer func() {
		if p := recover(); p != nil {
			e.finish(ctx, rec, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	err = e.run(ctx, rec)
	return e.finish(ctx, rec, err), err
}

func (e *Engine) run(ctx context.Context, rec *Recorder) error {
	if len(e.opts.Folders) == 0 {
		slog.Warn("no folders configured for backup")
		return ErrNoFolders
	}

	store := CheckpointStore{Fs: e.fs, Path: e.opts.CheckpointPath}
	checkpoint, err := store.Read()
	if err != nil {
		slog.Error("checkpoint read", "path", store.Path, "error", err)
		e.notify(ctx, notify.Event{Subject: subjectCheckpoint, Body: err.Error()})
		return err
	}
	rec.Checkpoint(checkpoint)

	candidates, err := SelectChanges(e.fs, e.opts.Folders, e.opts.Extensions, checkpoint)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		slog.Info("no new files to upload", "since", checkpoint)
		return nil
	}
	rec.Scanned(len(candidates))

	mirror := NewMirror(e.remote, e.opts.DryRun)
	root, err := mirror.EnsureRoot(ctx, e.opts.TargetFolder)
	if err != nil {
		return err
	}

	newest := checkpoint
	var runErr error
	for _, c := range candidates {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		uploaded, err := e.process(ctx, mirror, root, c, checkpoint, rec)
		if err != nil {
			if runErr = ctx.Err(); runErr != nil {
				break
			}
			rec.Failed()
			slog.Error("upload failed", "path", c.Path, "error", err)
			e.notify(ctx, notify.Event{
				Subject: subjectFailed,
				Body:    fmt.Sprintf("Failed to upload %s: %v", c.Path, err),
			})
			continue
		}
		if uploaded && c.ModTime.After(newest) {
			newest = c.ModTime
		}
	}

	if newest.After(checkpoint) {
		if err := store.Write(newest); err != nil {
			slog.Warn("could not write checkpoint", "path", store.Path, "error", err)
		} else {
			slog.Info("checkpoint advanced", "checkpoint", newest.Format(time.RFC3339Nano))
			rec.Checkpoint(newest)
		}
	}
	return runErr
}

// process uploads one candidate. It reports whether the file was uploaded;
// skips return false with a nil error.
func (e *Engine) process(ctx context.Context, mirror *Mirror, root FolderHandle, c Candidate, checkpoint time.Time, rec *Recorder) (bool, error) {
	if !e.stable(c) {
		rec.SkippedUnstable()
		slog.Info("skipping (changed during run)", "path", c.Path)
		return false, nil
	}

	dest, err := mirror.EnsureNestedPath(ctx, root, RelativeSegments(c.Root, c.Path))
	if err != nil {
		return false, err
	}

	name := filepath.Base(c.Path)
	if !dest.Pending {
		existingID, exists, err := e.remote.FindFile(ctx, dest.ID, name)
		if err != nil {
			return false, &Error{Op: "find file", Path: c.Path, Err: err}
		}
		if exists {
			if !e.opts.Overwrite || !c.ModTime.After(checkpoint) {
				rec.SkippedExisting()
				slog.Info("skipping (already exists)", "path", c.Path, "dest", dest.Path())
				return false, nil
			}
			slog.Info("overwriting existing", "path", c.Path, "dest", dest.Path())
			if !e.opts.DryRun {
				if err := e.remote.DeleteFile(ctx, existingID); err != nil {
					return false, &Error{Op: "delete", Path: c.Path, Err: err}
				}
			}
		}
	}

	if e.opts.DryRun {
		slog.Info("would upload", "path", c.Path, "dest", dest.Path())
		return false, nil
	}

	slog.Info("uploading", "path", c.Path, "dest", dest.Path())
	res := e.retry.Execute(ctx, c.Path, func(ctx context.Context) error {
		_, err := e.remote.UploadFile(ctx, dest.ID, c.Path)
		return err
	})
	if res.Err != nil {
		return false, res.Err
	}
	rec.Uploaded(c.Size)
	return true, nil
}

// stable reports whether the candidate still matches what was selected.
func (e *Engine) stable(c Candidate) bool {
	info, err := e.fs.Stat(c.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("stat", "path", c.Path, "error", err)
		}
		return false
	}
	return info.Size() == c.Size && info.ModTime().UTC().Equal(c.ModTime)
}

func (e *Engine) finish(ctx context.Context, rec *Recorder, runErr error) RunStatus {
	status := rec.Finish(runErr)

	if runErr != nil {
		e.notify(ctx, notify.Event{Subject: subjectFailed, Body: status.Summary()})
	} else {
		e.notify(ctx, notify.Event{Subject: subjectCompleted, Body: status.Summary(), Success: true})
	}

	if e.opts.StatusPath != "" {
		if err := WriteStatus(e.fs, e.opts.StatusPath, status); err != nil {
			slog.Error("could not write status", "path", e.opts.StatusPath, "error", err)
		}
	}
	for _, sink := range e.sinks {
		if err := sink.Record(context.WithoutCancel(ctx), status); err != nil {
			slog.Warn("status sink", "error", err)
		}
	}
	return status
}

func (e *Engine) notify(ctx context.Context, ev notify.Event) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(context.WithoutCancel(ctx), ev)
}
