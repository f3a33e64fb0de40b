package ipc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cdt-cli/cdt/pkg/cdterrors"
	"github.com/cdt-cli/cdt/pkg/wire"
)

func startTestServer(t *testing.T, handle Handler) (*Server, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "cdt.sock")
	srv, err := Listen(sock, handle)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, sock
}

func TestRoundTripRequestResponse(t *testing.T) {
	_, sock := startTestServer(t, func(req wire.Request) wire.Response {
		if req.Op != "daemon.ping" {
			t.Errorf("got op %q", req.Op)
		}
		return wire.Ok(req.ID, map[string]any{"pong": true}, 0)
	})

	resp, err := SendRequest(sock, wire.Request{ID: "r1", Op: "daemon.ping", Payload: map[string]any{}}, time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if !resp.OK || resp.ID != "r1" {
		t.Errorf("got %+v", resp)
	}
	if resp.Meta == nil || resp.Meta.DurationMs < 0 {
		t.Errorf("expected populated meta, got %+v", resp.Meta)
	}
}

func TestIDEchoedOnHandlerFailure(t *testing.T) {
	_, sock := startTestServer(t, func(req wire.Request) wire.Response {
		return wire.Fail(req.ID, cdterrors.New(cdterrors.CodeSessionNotFound, "no such session"), 0)
	})

	resp, err := SendRequest(sock, wire.Request{ID: "r2", Op: "session.status", Payload: map[string]any{}}, time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if resp.OK || resp.ID != "r2" {
		t.Errorf("got %+v", resp)
	}
	if resp.Error == nil || resp.Error.Code != string(cdterrors.CodeSessionNotFound) {
		t.Errorf("got error %+v", resp.Error)
	}
}

func TestHandlerPanicBecomesFailureEnvelope(t *testing.T) {
	_, sock := startTestServer(t, func(req wire.Request) wire.Response {
		panic("boom")
	})

	resp, err := SendRequest(sock, wire.Request{ID: "r3", Op: "daemon.ping", Payload: map[string]any{}}, time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if resp.OK || resp.ID != "r3" {
		t.Errorf("expected failure envelope with echoed id, got %+v", resp)
	}
	if resp.Error == nil || resp.Error.Code != string(cdterrors.CodeInternalError) {
		t.Errorf("got error %+v", resp.Error)
	}
}

func TestMalformedLineYieldsProtocolErrorWithBestEffortID(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "cdt.sock")
	srv, err := Listen(sock, func(req wire.Request) wire.Response {
		t.Fatalf("handler should not be invoked for a malformed line")
		return wire.Response{}
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	defer srv.Close()

	resp := srv.dispatch([]byte(`{"id":"r4", not json`), time.Now())
	if resp.OK {
		t.Fatalf("expected failure, got %+v", resp)
	}
	if resp.Error.Code != string(cdterrors.CodeIPCProtocolError) {
		t.Errorf("got code %q", resp.Error.Code)
	}
	if resp.ID != "r4" {
		t.Errorf("got id %q, want best-effort id r4", resp.ID)
	}
}

func TestListenRemovesStaleSocketFile(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "cdt.sock")

	srv1, err := Listen(sock, func(req wire.Request) wire.Response { return wire.Ok(req.ID, nil, 0) })
	if err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	go srv1.Serve()
	srv1.Close()
	// Closing the listener unlinks its socket file; leave a stale file
	// behind at the same path, as a crashed daemon would.
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatalf("seed stale socket file: %v", err)
	}

	// A fresh Listen on the same path must not fail just because the
	// previous socket file (now orphaned) is still present.
	srv2, err := Listen(sock, func(req wire.Request) wire.Response { return wire.Ok(req.ID, nil, 0) })
	if err != nil {
		t.Fatalf("second Listen on stale socket path: %v", err)
	}
	srv2.Close()
}

func TestSendRequestToMissingSocketIsDaemonUnavailable(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "does-not-exist.sock")
	_, err := SendRequest(sock, wire.Request{ID: "r5", Op: "daemon.ping", Payload: map[string]any{}}, 200*time.Millisecond)
	if err == nil {
		t.Fatalf("expected error")
	}
	cerr, ok := err.(*cdterrors.Error)
	if !ok || cerr.Code != cdterrors.CodeDaemonUnavailable {
		t.Errorf("got %v", err)
	}
}
