package daemonclient

import (
	"testing"
	"time"

	"github.com/cdt-cli/cdt/pkg/ctxkey"
	"github.com/cdt-cli/cdt/pkg/ipc"
	"github.com/cdt-cli/cdt/pkg/paths"
	"github.com/cdt-cli/cdt/pkg/wire"
)

func dc() ctxkey.DaemonContext {
	return ctxkey.DaemonContext{CallerContext: ctxkey.CallerContext{PID: 1, CWD: "/tmp"}}
}

func TestIsReachableFalseWithoutDaemon(t *testing.T) {
	c := New(paths.New(t.TempDir()))
	if c.IsReachable(dc()) {
		t.Fatalf("expected unreachable with no daemon listening")
	}
}

func TestIsReachableTrueAgainstFakeDaemon(t *testing.T) {
	layout := paths.New(t.TempDir())
	if err := layout.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	srv, err := ipc.Listen(layout.SocketPath(), func(req wire.Request) wire.Response {
		return wire.Ok(req.ID, map[string]any{"pid": 1}, 0)
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	defer srv.Close()

	c := New(layout)
	if !c.IsReachable(dc()) {
		t.Fatalf("expected reachable against a listening fake daemon")
	}
}

func TestStopIsNoOpWhenUnreachable(t *testing.T) {
	c := New(paths.New(t.TempDir()))
	if err := c.Stop(dc()); err != nil {
		t.Fatalf("Stop against an absent daemon should be a no-op, got %v", err)
	}
}

func TestSendRoundTrip(t *testing.T) {
	layout := paths.New(t.TempDir())
	if err := layout.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	var gotOp string
	srv, err := ipc.Listen(layout.SocketPath(), func(req wire.Request) wire.Response {
		gotOp = req.Op
		return wire.Ok(req.ID, map[string]any{"echo": true}, 0)
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	defer srv.Close()

	c := New(layout)
	resp, err := c.Send("session.status", map[string]any{}, dc())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.OK || gotOp != "session.status" {
		t.Errorf("got resp=%+v op=%q", resp, gotOp)
	}
	if resp.ID == "" {
		t.Errorf("expected a generated request id to be echoed back")
	}
}

func TestStopAndWaitTimesOutIfDaemonNeverStops(t *testing.T) {
	layout := paths.New(t.TempDir())
	if err := layout.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	srv, err := ipc.Listen(layout.SocketPath(), func(req wire.Request) wire.Response {
		return wire.Ok(req.ID, nil, 0) // never actually shuts down
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	defer srv.Close()

	c := New(layout)
	start := time.Now()
	err = c.StopAndWait(dc(), 150*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error since the fake daemon stays reachable")
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Errorf("expected StopAndWait to actually wait out the timeout")
	}
}
