package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMemFs(t *testing.T) afero.Fs {
	t.Helper()
	prev := fs
	fs = afero.NewMemMapFs()
	t.Cleanup(func() { fs = prev })
	return fs
}

func keepDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "log-20240301.json", FileName(time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)))
}

func TestSetup_writesConsoleAndDailyFile(t *testing.T) {
	mem := useMemFs(t)
	keepDefaultLogger(t)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	var console bytes.Buffer
	logger, closer, err := Setup(Options{Level: slog.LevelInfo, Dir: "/logs", Console: &console, Now: now})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("uploaded", "path", "/data/a.zip")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "uploaded")
	assert.NotContains(t, console.String(), "hidden")
	// console output is not a terminal, so no color escapes
	assert.NotContains(t, console.String(), "\x1b[")

	data, err := afero.ReadFile(mem, "/logs/log-20240301.json")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "uploaded", entry["msg"])
	assert.Equal(t, "/data/a.zip", entry["path"])
	assert.Equal(t, logger, slog.Default())
}

func TestSetup_appendsToExistingFile(t *testing.T) {
	mem := useMemFs(t)
	keepDefaultLogger(t)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, afero.WriteFile(mem, "/logs/log-20240301.json", []byte("{\"msg\":\"earlier\"}\n"), 0o644))

	logger, closer, err := Setup(Options{Dir: "/logs", Console: &bytes.Buffer{}, Now: now})
	require.NoError(t, err)
	logger.Info("later")
	require.NoError(t, closer.Close())

	data, err := afero.ReadFile(mem, "/logs/log-20240301.json")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestSetup_rollsOverAtSizeLimit(t *testing.T) {
	mem := useMemFs(t)
	keepDefaultLogger(t)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	// a file left full by an earlier run today is not reopened
	require.NoError(t, afero.WriteFile(mem, "/logs/log-20240301.json", bytes.Repeat([]byte("x"), 200), 0o644))

	logger, closer, err := Setup(Options{Dir: "/logs", Console: &bytes.Buffer{}, Now: now, MaxFileBytes: 200})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		logger.Info("uploaded", "path", "/data/some/longer/path/archive.zip")
	}
	require.NoError(t, closer.Close())

	full, err := afero.ReadFile(mem, "/logs/log-20240301.json")
	require.NoError(t, err)
	assert.Len(t, full, 200)

	first, err := afero.ReadFile(mem, "/logs/log-20240301_001.json")
	require.NoError(t, err)
	second, err := afero.ReadFile(mem, "/logs/log-20240301_002.json")
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second)

	entries, err := afero.ReadDir(mem, "/logs")
	require.NoError(t, err)
	var lines int
	for _, e := range entries {
		if e.Name() == "log-20240301.json" {
			continue
		}
		assert.LessOrEqual(t, e.Size(), int64(200), e.Name())
		data, err := afero.ReadFile(mem, filepath.Join("/logs", e.Name()))
		require.NoError(t, err)
		lines += strings.Count(string(data), "\n")
	}
	assert.Equal(t, 5, lines)
}

func TestRollName(t *testing.T) {
	assert.Equal(t, "log-20240301.json", rollName("20240301", 0))
	assert.Equal(t, "log-20240301_012.json", rollName("20240301", 12))
}

func TestPrune(t *testing.T) {
	mem := useMemFs(t)
	for _, name := range []string{
		"log-20240101.json", "log-20240102.json", "log-20240103.json", "log-20240103_001.json", "log-20240104.json",
		"fatal.log", "notes.txt",
	} {
		require.NoError(t, afero.WriteFile(mem, filepath.Join("/logs", name), nil, 0o644))
	}

	require.NoError(t, Prune("/logs", 3))

	var left []string
	entries, err := afero.ReadDir(mem, "/logs")
	require.NoError(t, err)
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.ElementsMatch(t, []string{"log-20240103.json", "log-20240103_001.json", "log-20240104.json", "fatal.log", "notes.txt"}, left)
}

func TestAppendFatal(t *testing.T) {
	mem := useMemFs(t)
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, AppendFatal("/logs", at, errors.New("first")))
	require.NoError(t, AppendFatal("/logs", at.Add(time.Hour), errors.New("second")))

	data, err := afero.ReadFile(mem, "/logs/fatal.log")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T08:00:00Z first\n2024-03-01T09:00:00Z second\n", string(data))
}

type countingHandler struct {
	slog.Handler
	level slog.Level
	n     int
}

func (c *countingHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= c.level }

func (c *countingHandler) Handle(context.Context, slog.Record) error {
	c.n++
	return nil
}

func TestMultiHandler_respectsEachLevel(t *testing.T) {
	debug := &countingHandler{level: slog.LevelDebug}
	warn := &countingHandler{level: slog.LevelWarn}
	logger := slog.New(NewMultiHandler(debug, warn))

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")

	assert.Equal(t, 3, debug.n)
	assert.Equal(t, 1, warn.n)
}
