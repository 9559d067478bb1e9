// Package logging configures the process-wide slog logger: colored console
// output plus a daily JSON file under the log directory.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
)

const (
	filePrefix   = "log-"
	fileSuffix   = ".json"
	fatalLogName = "fatal.log"
)

var fs = afero.NewOsFs()

type Options struct {
	Level       slog.Level
	Dir         string
	RetainFiles int
	// MaxFileBytes rolls the daily file over to a numbered one; zero disables.
	MaxFileBytes int64
	// Console defaults to os.Stdout.
	Console io.Writer
	// Now picks the daily file; defaults to time.Now.
	Now time.Time
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

// FileName is the daily log file name for t.
func FileName(t time.Time) string {
	return filePrefix + t.Format("20060102") + fileSuffix
}

// Setup builds the logger and installs it as the slog default. The returned
// closer releases the log file.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	consoleHandler := tint.NewHandler(opts.Console, &tint.Options{
		Level:      opts.Level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isTerminal(opts.Console),
	})

	if opts.Dir == "" {
		logger := slog.New(consoleHandler)
		slog.SetDefault(logger)
		return logger, io.NopCloser(nil), nil
	}

	if err := fs.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := openRolling(opts.Dir, opts.Now, opts.MaxFileBytes)
	if err != nil {
		return nil, nil, err
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: opts.Level})

	logger := slog.New(NewMultiHandler(consoleHandler, fileHandler))
	slog.SetDefault(logger)

	if opts.RetainFiles > 0 {
		if err := Prune(opts.Dir, opts.RetainFiles); err != nil {
			logger.Warn("log retention failed", "dir", opts.Dir, "error", err)
		}
	}
	return logger, file, nil
}

// Prune removes the oldest log files so at most keep remain. Numbered
// rollover files count individually.
func Prune(dir string, keep int) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	if len(names) <= keep {
		return nil
	}
	// log-yyyymmdd.json sorts before log-yyyymmdd_001.json
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := fs.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
		slog.Debug("removed old log file", "file", name)
	}
	return nil
}

// AppendFatal records an unhandled error in dir/fatal.log. It is the last
// thing the process does before exiting non-zero.
func AppendFatal(dir string, at time.Time, cause error) error {
	if dir == "" {
		dir = "."
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := fs.OpenFile(filepath.Join(dir, fatalLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s %v\n", at.UTC().Format(time.RFC3339), cause)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
