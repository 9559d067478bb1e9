package sync

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// checkpointLayouts are accepted when reading. The first one is written.
// The second accepts round-trip stamps that carry no zone, read as UTC.
var checkpointLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// CheckpointStore persists the modification time of the newest file that
// was uploaded successfully. The zero time means nothing was uploaded yet.
type CheckpointStore struct {
	Fs   afero.Fs
	Path string
}

// Read returns the stored checkpoint. A missing or unparsable file yields the
// zero time. Any other read failure is wrapped in ErrCheckpointUnreadable.
func (c CheckpointStore) Read() (time.Time, error) {
	data, err := afero.ReadFile(c.Fs, c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", ErrCheckpointUnreadable, c.Path, err)
	}

	text := strings.TrimSpace(string(data))
	for _, layout := range checkpointLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	slog.Warn("checkpoint ignored", "path", c.Path, "value", text)
	return time.Time{}, nil
}

// Write stores t, creating the parent directory when needed.
func (c CheckpointStore) Write(t time.Time) error {
	if dir := filepath.Dir(c.Path); dir != "." {
		if err := c.Fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return afero.WriteFile(c.Fs, c.Path, []byte(t.UTC().Format(time.RFC3339Nano)), 0o644)
}
