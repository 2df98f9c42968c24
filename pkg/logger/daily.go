package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// EnvLogDir overrides the base directory of the daily audit log.
	EnvLogDir = "CLAW_LOG_DIR"

	defaultRetentionDays = 7
	dateLayout           = "2006-01-02"
)

// dailyWriter appends to <dir>/YYYY-MM-DD.log and prunes files older than
// the retention window once per day.
type dailyWriter struct {
	mu        sync.Mutex
	dir       string
	retention int
	now       func() time.Time

	file      *os.File
	date      string
	lastPrune string
}

func newDailyWriter(dir string, retentionDays int) (*dailyWriter, error) {
	if dir == "" {
		return nil, errors.New("log directory is required")
	}
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &dailyWriter{dir: dir, retention: retentionDays, now: time.Now}, nil
}

func (w *dailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	today := w.now().UTC().Format(dateLayout)
	if w.lastPrune != today {
		w.lastPrune = today
		w.prune(today)
	}
	if w.file == nil || w.date != today {
		if err := w.open(today); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.date = ""
	return err
}

func (w *dailyWriter) open(date string) error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create audit log directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(w.dir, date+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	w.file = file
	w.date = date
	return nil
}

// prune removes dated files strictly older than today-(retention-1).
func (w *dailyWriter) prune(today string) {
	day, err := time.Parse(dateLayout, today)
	if err != nil {
		return
	}
	cutoff := day.AddDate(0, 0, -(w.retention - 1)).Format(dateLayout)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".log" {
			continue
		}
		stem := strings.TrimSuffix(name, ".log")
		if !isDate(stem) {
			continue
		}
		if stem < cutoff {
			_ = os.Remove(filepath.Join(w.dir, name))
		}
	}
}

func isDate(value string) bool {
	if len(value) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, value)
	return err == nil
}

// ResolveLogDir returns the audit log directory. An explicit directory wins,
// then $CLAW_LOG_DIR/system, then ~/.clawagent/logs/system.
func ResolveLogDir(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if base := strings.TrimSpace(os.Getenv(EnvLogDir)); base != "" {
		if !filepath.IsAbs(base) {
			if cwd, err := os.Getwd(); err == nil {
				base = filepath.Join(cwd, base)
			}
		}
		return filepath.Join(base, "system")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "clawagent", "logs", "system")
	}
	return filepath.Join(home, ".clawagent", "logs", "system")
}
