// Package logger wraps log/slog with process-wide application and audit
// loggers. The audit stream goes to daily files with retention pruning.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls audit log output behaviour. Dir holds the
// YYYY-MM-DD.log files; empty falls back to ResolveLogDir.
type AuditConfig struct {
	Enabled       bool
	Dir           string
	RetentionDays int
}

// state is one logger configuration; implicit marks the stdout fallback
// built before Init was called.
type state struct {
	app      *slog.Logger
	audit    *slog.Logger
	closers  []io.Closer
	implicit bool
}

var (
	mu      sync.Mutex
	current *state
)

// Init configures the global logger instances. It may replace the stdout
// fallback used before initialisation, but only once.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil && !current.implicit {
		return errors.New("logger already initialised")
	}
	s, err := build(cfg)
	if err != nil {
		return err
	}
	current = s
	return nil
}

func build(cfg Config) (*state, error) {
	s := &state{}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}

	writer, err := s.outputs(cfg.OutputPaths)
	if err != nil {
		s.close()
		return nil, err
	}
	if strings.EqualFold(cfg.Format, "text") {
		s.app = slog.New(slog.NewTextHandler(writer, opts))
	} else {
		s.app = slog.New(slog.NewJSONHandler(writer, opts))
	}

	s.audit = s.app
	if cfg.Audit.Enabled {
		daily, err := newDailyWriter(ResolveLogDir(cfg.Audit.Dir), cfg.Audit.RetentionDays)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, daily)
		s.audit = slog.New(slog.NewJSONHandler(daily, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return s, nil
}

func (s *state) outputs(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, p := range paths {
		switch strings.ToLower(p) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", p, err)
			}
			s.closers = append(s.closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func (s *state) close() error {
	var err error
	for _, c := range s.closers {
		err = errors.Join(err, c.Close())
	}
	s.closers = nil
	return err
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func get() *state {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current, _ = build(Config{})
		current.implicit = true
	}
	return current
}

// L returns the structured logger instance.
func L() *slog.Logger { return get().app }

// Audit returns the audit logger, which is L() when auditing is disabled.
func Audit() *slog.Logger { return get().audit }

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync closes file outputs. Loggers stay usable but writes to closed files
// are dropped.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	return current.close()
}
