package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyWriterRollsOverAndPrunes(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"2026-02-20.log", "2026-02-23.log", "2026-02-24.log", "notes.log", "keep.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("old\n"), 0o644))
	}

	w, err := newDailyWriter(dir, 7)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	first, err := os.ReadFile(filepath.Join(dir, "2026-03-01.log"))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(first))
	second, err := os.ReadFile(filepath.Join(dir, "2026-03-02.log"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(second))

	// 2026-03-01 keeps 2026-02-23 onwards, 2026-03-02 keeps 2026-02-24 onwards.
	assert.NoFileExists(t, filepath.Join(dir, "2026-02-20.log"))
	assert.NoFileExists(t, filepath.Join(dir, "2026-02-23.log"))
	assert.FileExists(t, filepath.Join(dir, "2026-02-24.log"))
	assert.FileExists(t, filepath.Join(dir, "notes.log"))
	assert.FileExists(t, filepath.Join(dir, "keep.txt"))
}

func TestResolveLogDir(t *testing.T) {
	assert.Equal(t, "/var/log/claw", ResolveLogDir("/var/log/claw"))

	t.Setenv(EnvLogDir, "/srv/claw")
	assert.Equal(t, filepath.Join("/srv/claw", "system"), ResolveLogDir(""))

	t.Setenv(EnvLogDir, "  ")
	assert.Contains(t, ResolveLogDir(""), filepath.Join("logs", "system"))
}

func TestNewDailyWriterRequiresDir(t *testing.T) {
	_, err := newDailyWriter("", 0)
	require.Error(t, err)
}

func TestBuildWritesAuditToDailyDir(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app", "clawd.log")
	s, err := build(Config{Format: "text", OutputPaths: []string{out}, Audit: AuditConfig{Enabled: true, Dir: filepath.Join(dir, "audit")}})
	require.NoError(t, err)

	s.app.Info("hello", "component", "test")
	s.audit.Info("task.submitted", "task_id", "t-1")
	require.NoError(t, s.close())

	app, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(app), "msg=hello")

	entries, err := os.ReadDir(filepath.Join(dir, "audit"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, isDate(strings.TrimSuffix(entries[0].Name(), ".log")))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
