package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/shipyard/internal/config"
)

// Options tunes the diagnostic logger.
type Options struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Console io.Writer // optional human-readable mirror (usually os.Stderr)
	Service string    // attached to every entry; defaults to "shipyard"
}

// Printer is the Printf surface older call sites log through.
type Printer interface {
	Printf(format string, args ...any)
}

// Logger appends JSON lines to .shipyard/logs/shipyard.log so failures can
// be inspected after the loop exits.
type Logger struct {
	file *os.File
	base zerolog.Logger
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string, opts Options) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.ShipyardDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "shipyard.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}

	var writer io.Writer = f
	if opts.Console != nil {
		console := zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: time.Kitchen}
		writer = zerolog.MultiLevelWriter(f, console)
	}
	service := strings.TrimSpace(opts.Service)
	if service == "" {
		service = "shipyard"
	}
	base := zerolog.New(writer).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
	return &Logger{file: f, base: base}, nil
}

// ParseLevel maps a level name to zerolog, falling back to info.
func ParseLevel(value string) zerolog.Level {
	value = strings.TrimSpace(value)
	if value == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(value))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Zerolog returns the base logger. A nil Logger yields a no-op logger.
func (l *Logger) Zerolog() zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.base
}

// WithComponent returns a child logger annotated with the component name.
func (l *Logger) WithComponent(component string) zerolog.Logger {
	return l.Zerolog().With().Str("component", component).Logger()
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single info entry.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	l.base.Info().Msg(line)
}
