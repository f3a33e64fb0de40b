package paths

import (
	"path/filepath"
	"testing"
)

func TestLayoutPaths(t *testing.T) {
	l := New("/home/u/.cdt")

	cases := []struct {
		name string
		got  string
		want string
	}{
		{"socket", l.SocketPath(), "/home/u/.cdt/broker/daemon.sock"},
		{"pidfile", l.PidFilePath(), "/home/u/.cdt/broker/daemon.pid"},
		{"daemon lock", l.DaemonLockPath(), "/home/u/.cdt/broker/daemon.lock"},
		{"daemon log", l.DaemonLogPath(), "/home/u/.cdt/broker/daemon.log"},
		{"metadata", l.MetadataPath("ctx_abc"), "/home/u/.cdt/contexts/ctx_abc/metadata.json"},
		{"lease", l.LeasePath("ctx_abc"), "/home/u/.cdt/contexts/ctx_abc/lease.json"},
		{"context lock", l.ContextLockPath("ctx_abc"), "/home/u/.cdt/locks/context-ctx_abc.lock"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if filepath.ToSlash(tc.got) != tc.want {
				t.Errorf("got %q, want %q", tc.got, tc.want)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	l := New(t.TempDir())
	if err := l.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if err := l.EnsureContextDir("ctx_xyz"); err != nil {
		t.Fatalf("EnsureContextDir: %v", err)
	}
}

func TestResolveUsesEnvOverride(t *testing.T) {
	t.Setenv(EnvHome, "/tmp/override-home")
	l := Resolve()
	if l.Home != "/tmp/override-home" {
		t.Errorf("got home %q, want override", l.Home)
	}
}
