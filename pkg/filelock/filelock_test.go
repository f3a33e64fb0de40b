package filelock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cdt-cli/cdt/pkg/store"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.lock")

	release, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	rec, err := store.Read[Record](path)
	if err != nil || rec.PID == 0 {
		t.Fatalf("expected lock record on disk: pid=%d err=%v", rec.PID, err)
	}
	if rec.PID != os.Getpid() {
		t.Errorf("got pid %d, want %d", rec.PID, os.Getpid())
	}

	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected lock file removed after release, stat err=%v", err)
	}
}

func TestAcquireTimesOutOnLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.lock")

	release, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer release()

	_, err = Acquire(path, 150*time.Millisecond)
	if err == nil {
		t.Fatalf("expected second Acquire to time out")
	}
}

func TestAcquireStealsFromDeadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.lock")

	// Simulate a lock left behind by a crashed process: a record file with
	// a PID that cannot possibly be alive, and no flock held over it.
	if err := store.Write(path, Record{PID: 1 << 30, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	release, err := Acquire(path, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("expected to steal stale lock, got: %v", err)
	}
	release()
}

func TestForceRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.lock")
	release, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_ = release
	ForceRemove(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected lock file removed, stat err=%v", err)
	}
}
