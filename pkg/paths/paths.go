// Package paths maps a home directory to the deterministic filesystem
// layout the rest of the broker relies on (spec §4.1). Every function here
// is pure — creating directories is the caller's responsibility.
package paths

import (
	"os"
	"path/filepath"
)

// EnvHome is the environment variable that overrides the default home directory.
const EnvHome = "CDT_HOME"

// defaultHomeSubdir is used when EnvHome is unset, rooted at the user's home dir.
const defaultHomeSubdir = ".cdt"

// Layout resolves every path derived from one home directory.
type Layout struct {
	Home string
}

// Resolve returns the Layout for the current environment: CDT_HOME if set
// and non-empty, else "~/.cdt". Falls back to "./.cdt" if the user's home
// directory can't be determined (mirrors pkg/session/pathutil.go's
// DefaultBaseDir fallback).
func Resolve() Layout {
	if home := os.Getenv(EnvHome); home != "" {
		return Layout{Home: home}
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return Layout{Home: filepath.Join(".", defaultHomeSubdir)}
	}
	return Layout{Home: filepath.Join(userHome, defaultHomeSubdir)}
}

// New builds a Layout rooted explicitly at home (used by tests via t.TempDir()).
func New(home string) Layout {
	return Layout{Home: home}
}

func (l Layout) BrokerDir() string    { return filepath.Join(l.Home, "broker") }
func (l Layout) ContextsDir() string  { return filepath.Join(l.Home, "contexts") }
func (l Layout) LocksDir() string     { return filepath.Join(l.Home, "locks") }

func (l Layout) SocketPath() string     { return filepath.Join(l.BrokerDir(), "daemon.sock") }
func (l Layout) PidFilePath() string    { return filepath.Join(l.BrokerDir(), "daemon.pid") }
func (l Layout) DaemonLockPath() string { return filepath.Join(l.BrokerDir(), "daemon.lock") }
func (l Layout) DaemonLogPath() string  { return filepath.Join(l.BrokerDir(), "daemon.log") }
func (l Layout) DaemonConfigPath() string {
	return filepath.Join(l.BrokerDir(), "daemon.yaml")
}

// ContextDir returns the per-context directory for a context-key hash
// (e.g. "ctx_0123456789abcdef").
func (l Layout) ContextDir(hash string) string {
	return filepath.Join(l.ContextsDir(), hash)
}

func (l Layout) MetadataPath(hash string) string {
	return filepath.Join(l.ContextDir(hash), "metadata.json")
}

func (l Layout) LeasePath(hash string) string {
	return filepath.Join(l.ContextDir(hash), "lease.json")
}

func (l Layout) ChromeProfileDir(hash string) string {
	return filepath.Join(l.ContextDir(hash), "chrome-profile")
}

// ContextLockPath returns the path to a context's advisory lock file.
func (l Layout) ContextLockPath(hash string) string {
	return filepath.Join(l.LocksDir(), "context-"+hash+".lock")
}

// EnsureDirectories creates broker/, contexts/, and locks/ under home.
func (l Layout) EnsureDirectories() error {
	for _, dir := range []string{l.BrokerDir(), l.ContextsDir(), l.LocksDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// EnsureContextDir creates the per-context directory for hash.
func (l Layout) EnsureContextDir(hash string) error {
	return os.MkdirAll(l.ContextDir(hash), 0o755)
}
