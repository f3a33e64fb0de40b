// Package cdtlog provides the broker daemon's logger: a thin wrapper over
// the standard library's log.Logger writing to a single append-only file,
// the same shape the pack's daemon examples use (one logger attached to the
// daemon struct, threaded through every method — no structured logging
// library appears anywhere in the teacher for CLI-shaped tools).
package cdtlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Logger wraps a stdlib *log.Logger with leveled convenience methods.
type Logger struct {
	base *log.Logger
	file *os.File
}

// Open opens (creating parent directories as needed) the log file at path
// and returns a Logger writing to it. Pass "" for a logger that discards
// everything (used in tests).
func Open(path string) (*Logger, error) {
	if path == "" {
		return &Logger{base: log.New(io.Discard, "", log.LstdFlags)}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Logger{base: log.New(f, "", log.LstdFlags), file: f}, nil
}

// Close releases the underlying file handle, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) Info(format string, args ...any) {
	l.base.Printf("INFO "+format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.base.Printf("WARN "+format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.base.Printf("ERROR "+format, args...)
}
