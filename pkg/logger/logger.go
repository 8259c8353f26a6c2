// Package logger wires the process-wide structured loggers. The default
// logger carries operational records; the audit logger carries security and
// exchange events and may be routed to its own rotating file.
package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	OutputPaths []string    `mapstructure:"output-paths"`
	Rotation    Rotation    `mapstructure:"rotation"`
	Audit       AuditConfig `mapstructure:"audit"`
}

// Rotation bounds the size and retention of file outputs.
type Rotation struct {
	MaxSizeMB  int  `mapstructure:"max-size-mb"`
	MaxBackups int  `mapstructure:"max-backups"`
	MaxAgeDays int  `mapstructure:"max-age-days"`
	Compress   bool `mapstructure:"compress"`
}

// AuditConfig controls audit log output behaviour.
type AuditConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Path     string   `mapstructure:"path"`
	Rotation Rotation `mapstructure:"rotation"`
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	closers       []io.Closer
	initialised   bool
)

// Init configures the global logger instances. Only the first call takes
// effect; later calls return an error so misconfiguration is visible.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if initialised {
		return errors.New("logger already initialised")
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: strings.EqualFold(cfg.Level, "debug")}
	handler, err := buildHandler(cfg.Format, cfg.OutputPaths, cfg.Rotation, opts)
	if err != nil {
		return err
	}
	defaultLogger = slog.New(handler)
	auditLogger = defaultLogger
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			return errors.New("audit log path cannot be empty when enabled")
		}
		writer := rotatingFile(cfg.Audit.Path, cfg.Audit.Rotation)
		closers = append(closers, writer)
		auditLogger = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	initialised = true
	return nil
}

func buildHandler(format string, outputs []string, rotation Rotation, opts *slog.HandlerOptions) (slog.Handler, error) {
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return nil, err
			}
			file := rotatingFile(out, rotation)
			closers = append(closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(writer, opts), nil
	}
	return slog.NewJSONHandler(writer, opts), nil
}

func rotatingFile(path string, r Rotation) *lumberjack.Logger {
	if r.MaxSizeMB <= 0 {
		r.MaxSizeMB = 100
	}
	if r.MaxBackups <= 0 {
		r.MaxBackups = 7
	}
	if r.MaxAgeDays <= 0 {
		r.MaxAgeDays = 30
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    r.MaxSizeMB,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAgeDays,
		Compress:   r.Compress,
	}
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

// L returns the structured logger instance.
func L() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	_ = Init(Config{})
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	mu.RLock()
	l := auditLogger
	mu.RUnlock()
	if l == nil {
		return L()
	}
	return l
}

// Sync closes file outputs so buffered entries reach disk.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
