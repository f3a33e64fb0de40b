// Package store implements the atomic small-state JSON document store
// (spec §4.2): write-temp-then-rename so a reader never observes a
// partially written file, and a read that tolerates a missing file.
//
// Grounded on pkg/session/metadata.go's saveMetadata/loadMetadata shape,
// generalized to a type-parameterized Read/Write and made crash-safe via
// the temp+rename technique the teacher's direct os.WriteFile does not
// provide.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// tempCounter disambiguates temp file names for writes issued within the
// same process in the same nanosecond — resolving Open Question (a) from
// spec §9 (a coarse clock could otherwise collide <pid>-<millis> names).
var tempCounter uint64

// Read parses path as a single JSON document into a new T. It returns
// (zero value, nil) if the file does not exist; any other error propagates.
func Read[T any](path string) (T, error) {
	var value T
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return value, nil
		}
		return value, err
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("parse %s: %w", path, err)
	}
	return value, nil
}

// Exists reports whether path currently has a document (used by callers
// that need to distinguish "absent" from "zero value present").
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Write serializes value as pretty-printed JSON with a trailing newline and
// atomically replaces path: write to a uniquely named temp file on the same
// directory, then rename over the destination. The parent directory is
// created if missing.
func Write(path string, value any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	data = append(data, '\n')

	n := atomic.AddUint64(&tempCounter, 1)
	tmpPath := fmt.Sprintf("%s.tmp-%d-%d-%d", path, os.Getpid(), time.Now().UnixNano(), n)

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // best-effort cleanup
		return fmt.Errorf("rename temp file into place: %w", err)
	}

	return nil
}
