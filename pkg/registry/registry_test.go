package registry

import (
	"testing"
	"time"

	"github.com/cdt-cli/cdt/pkg/ctxkey"
	"github.com/cdt-cli/cdt/pkg/paths"
	"github.com/cdt-cli/cdt/pkg/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	layout := paths.New(t.TempDir())
	if err := layout.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return New(layout)
}

func TestMarkRunningThenGetMetadata(t *testing.T) {
	reg := newTestRegistry(t)
	resolved := ctxkey.Resolved{ContextKey: "env:a", ContextKeyHash: "ctx_aaaaaaaaaaaaaaaa", ResolvedBy: ctxkey.ByEnvRuntimeContextID}

	meta, err := reg.MarkRunning(resolved, Overrides{Headless: true})
	if err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if meta.Status != StatusRunning {
		t.Errorf("got status %q", meta.Status)
	}
	if meta.StoppedAt != nil {
		t.Errorf("expected nil stoppedAt, got %v", meta.StoppedAt)
	}

	got, ok, err := reg.GetMetadata(resolved.ContextKeyHash)
	if err != nil || !ok {
		t.Fatalf("GetMetadata: ok=%v err=%v", ok, err)
	}
	if got.StartedAt != meta.StartedAt {
		t.Errorf("startedAt mismatch")
	}
}

func TestMarkRunningPreservesStartedAtOnReuse(t *testing.T) {
	reg := newTestRegistry(t)
	resolved := ctxkey.Resolved{ContextKey: "env:a", ContextKeyHash: "ctx_bbbbbbbbbbbbbbbb", ResolvedBy: ctxkey.ByEnvRuntimeContextID}

	first, err := reg.MarkRunning(resolved, Overrides{})
	if err != nil {
		t.Fatalf("first MarkRunning: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	second, err := reg.MarkRunning(resolved, Overrides{})
	if err != nil {
		t.Fatalf("second MarkRunning: %v", err)
	}

	if !first.StartedAt.Equal(second.StartedAt) {
		t.Errorf("expected startedAt to be preserved: %v != %v", first.StartedAt, second.StartedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) && second.UpdatedAt != first.UpdatedAt {
		t.Errorf("expected updatedAt to advance")
	}
}

func TestMarkStoppedNoMetadataReturnsFalse(t *testing.T) {
	reg := newTestRegistry(t)
	_, ok, err := reg.MarkStopped("ctx_nonexistent000")
	if err != nil {
		t.Fatalf("MarkStopped: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false for nonexistent context")
	}
}

func TestStartStopNeverReportsRunningAfterStop(t *testing.T) {
	reg := newTestRegistry(t)
	resolved := ctxkey.Resolved{ContextKey: "env:a", ContextKeyHash: "ctx_cccccccccccccccc", ResolvedBy: ctxkey.ByEnvRuntimeContextID}

	if _, err := reg.MarkRunning(resolved, Overrides{}); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	meta, ok, err := reg.MarkStopped(resolved.ContextKeyHash)
	if err != nil || !ok {
		t.Fatalf("MarkStopped: ok=%v err=%v", ok, err)
	}
	if meta.Status != StatusStopped {
		t.Errorf("got status %q, want stopped", meta.Status)
	}
	if meta.StoppedAt == nil {
		t.Errorf("expected non-nil stoppedAt")
	}
}

func TestTouchLeaseAlive(t *testing.T) {
	reg := newTestRegistry(t)
	lease, err := reg.TouchLease("ctx_dddddddddddddddd", 123, time.Minute)
	if err != nil {
		t.Fatalf("TouchLease: %v", err)
	}
	if !lease.Alive(time.Now()) {
		t.Errorf("expected fresh lease to be alive")
	}
	if lease.Alive(time.Now().Add(2 * time.Minute)) {
		t.Errorf("expected lease to expire after TTL")
	}
}

func TestUpdateCurrentPageNoOpWhenMissing(t *testing.T) {
	reg := newTestRegistry(t)
	page := "page-1"
	_, ok, err := reg.UpdateCurrentPage("ctx_absent00000000", &page)
	if err != nil {
		t.Fatalf("UpdateCurrentPage: %v", err)
	}
	if ok {
		t.Errorf("expected no-op for missing metadata")
	}
}

func TestSweepRemovesOldStoppedContexts(t *testing.T) {
	reg := newTestRegistry(t)
	resolved := ctxkey.Resolved{ContextKey: "env:a", ContextKeyHash: "ctx_eeeeeeeeeeeeeeee", ResolvedBy: ctxkey.ByEnvRuntimeContextID}

	if _, err := reg.MarkRunning(resolved, Overrides{}); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	meta, ok, err := reg.MarkStopped(resolved.ContextKeyHash)
	if err != nil || !ok {
		t.Fatalf("MarkStopped: %v", err)
	}

	// Backdate updatedAt past the retention cutoff directly on disk.
	meta.UpdatedAt = time.Now().AddDate(0, 0, -60)
	if err := writeBackdated(reg, resolved.ContextKeyHash, meta); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	stats, err := reg.Sweep(SweepConfig{RetentionDays: 30})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.ContextsRemoved != 1 {
		t.Errorf("got %d removed, want 1", stats.ContextsRemoved)
	}
}

func TestSweepSparesLiveLease(t *testing.T) {
	reg := newTestRegistry(t)
	resolved := ctxkey.Resolved{ContextKey: "env:a", ContextKeyHash: "ctx_ffffffffffffffff", ResolvedBy: ctxkey.ByEnvRuntimeContextID}

	if _, err := reg.MarkRunning(resolved, Overrides{}); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	meta, ok, err := reg.MarkStopped(resolved.ContextKeyHash)
	if err != nil || !ok {
		t.Fatalf("MarkStopped: %v", err)
	}
	meta.UpdatedAt = time.Now().AddDate(0, 0, -60)
	if err := writeBackdated(reg, resolved.ContextKeyHash, meta); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if _, err := reg.TouchLease(resolved.ContextKeyHash, 1, time.Hour); err != nil {
		t.Fatalf("TouchLease: %v", err)
	}

	stats, err := reg.Sweep(SweepConfig{RetentionDays: 30})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.ContextsRemoved != 0 {
		t.Errorf("expected lease-protected context to survive, got %d removed", stats.ContextsRemoved)
	}
}

func writeBackdated(reg *Registry, hash string, meta Metadata) error {
	return store.Write(reg.Layout.MetadataPath(hash), meta)
}
