package sessionsvc

import (
	"errors"
	"testing"

	"github.com/cdt-cli/cdt/pkg/cdterrors"
	"github.com/cdt-cli/cdt/pkg/ctxkey"
	"github.com/cdt-cli/cdt/pkg/paths"
	"github.com/cdt-cli/cdt/pkg/registry"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	layout := paths.New(t.TempDir())
	if err := layout.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return New(layout)
}

func dc(runtimeContextID string) ctxkey.DaemonContext {
	return ctxkey.DaemonContext{CallerContext: ctxkey.CallerContext{PID: 1, RuntimeContextID: runtimeContextID}}
}

// TestScenarioAStartReuseStatusStop exercises spec.md §8 Scenario A.
func TestScenarioAStartReuseStatusStop(t *testing.T) {
	svc := newTestService(t)
	ctx := dc("ctx-a")

	first, err := svc.Start(StartInput{Context: ctx, CallerPID: 100})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if first.Reused {
		t.Errorf("expected first start to not be a reuse")
	}
	if first.Session.Status != registry.StatusRunning {
		t.Errorf("got status %q, want running", first.Session.Status)
	}
	if first.Resolved.ResolvedBy != ctxkey.ByEnvRuntimeContextID {
		t.Errorf("got resolvedBy %q", first.Resolved.ResolvedBy)
	}

	second, err := svc.Start(StartInput{Context: ctx, CallerPID: 100})
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !second.Reused {
		t.Errorf("expected second start to be a reuse")
	}

	status, err := svc.Status(StatusInput{Context: ctx})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Session.Status != registry.StatusRunning {
		t.Errorf("got status %q, want running", status.Session.Status)
	}

	_, stopped, err := svc.Stop(StopInput{Context: ctx})
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.Status != registry.StatusStopped {
		t.Errorf("got status %q, want stopped", stopped.Status)
	}
}

// TestPropertyStatusNeverRunningAfterStop exercises invariant 4.
func TestPropertyStatusNeverRunningAfterStop(t *testing.T) {
	svc := newTestService(t)
	ctx := dc("ctx-once")

	if _, err := svc.Start(StartInput{Context: ctx, CallerPID: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, _, err := svc.Stop(StopInput{Context: ctx}); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	status, err := svc.Status(StatusInput{Context: ctx})
	if err != nil {
		t.Fatalf("Status after stop: %v", err)
	}
	if status.Session.Status == registry.StatusRunning {
		t.Fatalf("status must never report running after stop")
	}
}

func TestStatusSessionNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Status(StatusInput{Context: dc("never-started")})
	var te *cdterrors.Error
	if !errors.As(err, &te) || te.Code != cdterrors.CodeSessionNotFound {
		t.Fatalf("got %v, want SESSION_NOT_FOUND", err)
	}
}

func TestStopSessionNotFound(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.Stop(StopInput{Context: dc("never-started")})
	var te *cdterrors.Error
	if !errors.As(err, &te) || te.Code != cdterrors.CodeSessionNotFound {
		t.Fatalf("got %v, want SESSION_NOT_FOUND", err)
	}
}

// TestScenarioBContextIsolation exercises spec.md §8 Scenario B.
func TestScenarioBContextIsolation(t *testing.T) {
	svc := newTestService(t)

	a, err := svc.Start(StartInput{Context: dc("ctx-A"), CallerPID: 1})
	if err != nil {
		t.Fatalf("start A: %v", err)
	}
	b, err := svc.Start(StartInput{Context: dc("ctx-B"), CallerPID: 2})
	if err != nil {
		t.Fatalf("start B: %v", err)
	}
	if a.Resolved.ContextKeyHash == b.Resolved.ContextKeyHash {
		t.Errorf("expected distinct hashes for distinct contexts")
	}
}

func TestTouchRequiresExistingSession(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.Touch(TouchInput{Context: dc("absent")})
	var te *cdterrors.Error
	if !errors.As(err, &te) || te.Code != cdterrors.CodeSessionNotFound {
		t.Fatalf("got %v, want SESSION_NOT_FOUND", err)
	}
}

func TestUpdateCurrentPageNoOp(t *testing.T) {
	svc := newTestService(t)
	page := "p1"
	_, meta, err := svc.UpdateCurrentPage(dc("absent"), &page)
	if err != nil {
		t.Fatalf("UpdateCurrentPage: %v", err)
	}
	if meta != nil {
		t.Errorf("expected nil metadata for missing context")
	}
}
