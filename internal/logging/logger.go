// Package logging provides the zerolog-backed structured logger used across
// switchboard. Loggers form a tree: Sub names a subsystem, and nested
// subsystems are joined with dots ("channels.irc").
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger keeps base, its context without the subsystem field, so a
// nested Sub writes the key once.
type Logger struct {
	base zerolog.Logger
	zl   zerolog.Logger
	name string
}

// Options configures a long-running root logger.
type Options struct {
	Level string
	// Style is "pretty" or "json" and applies to stderr only; the file
	// is always JSON.
	Style string
	File  string
}

// ParseLevel maps a config level name to a zerolog level. "silent" and
// "off" disable logging; unknown names mean info.
func ParseLevel(s string) zerolog.Level {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "silent", "off", "none":
		return zerolog.Disabled
	case "warning":
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

// New writes JSON to w at level. A nil w means human-readable output on
// stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = console(os.Stderr)
	}
	zl := zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
	return &Logger{base: zl, zl: zl}
}

// NewWithOptions builds the service logger. The closer releases the log
// file and is a no-op without one.
func NewWithOptions(opts Options) (*Logger, io.Closer, error) {
	var stderr io.Writer = os.Stderr
	if opts.Style != "json" {
		stderr = console(os.Stderr)
	}
	if opts.File == "" {
		return New(stderr, opts.Level), io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
		return nil, nil, fmt.Errorf("log directory: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("log file: %w", err)
	}
	return New(zerolog.MultiLevelWriter(stderr, f), opts.Level), f, nil
}

// Sub returns the logger for a named subsystem below l.
func (l *Logger) Sub(subsystem string) *Logger {
	name := subsystem
	if l.name != "" {
		name = l.name + "." + subsystem
	}
	return &Logger{base: l.base, zl: l.base.With().Str("subsystem", name).Logger(), name: name}
}

// With adds a string field to every entry.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		base: l.base.With().Str(key, value).Logger(),
		zl:   l.zl.With().Str(key, value).Logger(),
		name: l.name,
	}
}

// Name is the dotted subsystem path, empty for a root logger.
func (l *Logger) Name() string { return l.name }

func (l *Logger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level zerolog.Level) bool {
	return l.zl.GetLevel() <= level && level != zerolog.Disabled
}
