// Package daemonclient implements the Daemon Client (spec §4.10): the CLI
// side's view of the broker — reachability checks, auto-spawn, send, and
// stop, used by cmd/cdt so a user never has to manage the daemon manually.
//
// Grounded on grovetools-core's pkg/daemon Client (the "is it running, else
// fall back" framing, generalized here from "fall back to a local call" to
// "spawn the daemon and retry") and the teacher's pkg/transport/process.go
// ProcessAdapter for the started/done lifecycle channel shape, adapted from
// an in-process adapter to an actual detached OS process.
package daemonclient

import (
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/cdt-cli/cdt/pkg/cdterrors"
	"github.com/cdt-cli/cdt/pkg/ctxkey"
	"github.com/cdt-cli/cdt/pkg/ipc"
	"github.com/cdt-cli/cdt/pkg/paths"
	"github.com/cdt-cli/cdt/pkg/pidfile"
	"github.com/cdt-cli/cdt/pkg/wire"
)

// pollInterval and ensureRunningTimeout match spec §4.10: poll every 80ms
// up to 5s while waiting for a freshly spawned daemon to come up.
const (
	pollInterval        = 80 * time.Millisecond
	ensureRunningTimeout = 5 * time.Second
	requestTimeout       = 5 * time.Second
)

// Client is the CLI-side handle to the broker daemon.
type Client struct {
	Layout paths.Layout

	// DaemonPath is the executable invoked to start the daemon
	// (cmd/cdt-daemon's binary). Defaults to the running executable
	// (os.Executable) when empty. DaemonArgs defaults to "-daemon-mode"
	// when nil.
	DaemonPath string
	DaemonArgs []string

	// DetachEnv lists the environment variables forwarded to the spawned
	// daemon process (daemon.yaml's detachEnv, see pkg/daemonconfig).
	// Defaults to PATH/HOME/USER/LANG/TMPDIR/CDT_CHROME_PATH when nil.
	DetachEnv []string
}

// New returns a Client rooted at layout.
func New(layout paths.Layout) *Client {
	return &Client{Layout: layout}
}

// IsReachable sends daemon.ping and reports whether the daemon answered ok
// (spec §4.10).
func (c *Client) IsReachable(dc ctxkey.DaemonContext) bool {
	resp, err := c.sendRaw(string(wire.OpDaemonPing), nil, dc, requestTimeout)
	return err == nil && resp.OK
}

// EnsureRunning returns immediately if the daemon is already reachable;
// otherwise it spawns a detached daemon process and polls until it answers
// or ensureRunningTimeout elapses (spec §4.10).
func (c *Client) EnsureRunning(dc ctxkey.DaemonContext) error {
	if c.IsReachable(dc) {
		return nil
	}
	if err := c.startDetachedProcess(); err != nil {
		return err
	}

	deadline := time.Now().Add(ensureRunningTimeout)
	for time.Now().Before(deadline) {
		if c.IsReachable(dc) {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return cdterrors.New(cdterrors.CodeDaemonUnavailable, "daemon did not become reachable within the startup window").
		WithRetryable(true).
		WithSuggestions("check " + c.Layout.DaemonLogPath() + " for startup errors")
}

// startDetachedProcess creates the broker directory and, unless a live
// pidfile already claims the daemon is running, launches a detached child
// running the daemon entry point (spec §4.10).
func (c *Client) startDetachedProcess() error {
	if err := c.Layout.EnsureDirectories(); err != nil {
		return cdterrors.Wrap(cdterrors.CodeInternalError, "create broker directories", err)
	}

	alive, err := pidfile.IsAlive(c.Layout.PidFilePath())
	if err != nil {
		return cdterrors.Wrap(cdterrors.CodeInternalError, "check existing pidfile", err)
	}
	if alive {
		return nil
	}

	execPath := c.DaemonPath
	if execPath == "" {
		execPath, err = os.Executable()
		if err != nil {
			return cdterrors.Wrap(cdterrors.CodeInternalError, "resolve daemon executable", err)
		}
	}
	args := c.DaemonArgs
	if args == nil {
		args = []string{"-daemon-mode"}
	}

	cmd := exec.Command(execPath, args...)
	cmd.Env = sanitizedEnv(c.Layout.Home, c.DetachEnv)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return cdterrors.Wrap(cdterrors.CodeDaemonUnavailable, "spawn daemon process", err)
	}
	// Detach: release the child so the CLI process can exit without
	// waiting on it or leaving a zombie behind (spec §9: "Detached spawn").
	return cmd.Process.Release()
}

// sanitizedEnv carries only the allowlisted environment the daemon needs,
// plus a home override, rather than forwarding the caller's full
// environment (spec §9's detach-env-allowlist intent, overridable via
// daemon.yaml's detachEnv — see pkg/daemonconfig).
func sanitizedEnv(home string, allowlist []string) []string {
	if allowlist == nil {
		allowlist = []string{"PATH", "HOME", "USER", "LANG", "TMPDIR", "CDT_CHROME_PATH"}
	}
	allow := make(map[string]bool, len(allowlist))
	for _, k := range allowlist {
		allow[k] = true
	}
	var env []string
	for _, kv := range os.Environ() {
		for k := range allow {
			if len(kv) > len(k) && kv[:len(k)+1] == k+"=" {
				env = append(env, kv)
				break
			}
		}
	}
	env = append(env, paths.EnvHome+"="+home)
	return env
}

// Send builds a fresh-UUID request envelope for op/payload/context and
// awaits the daemon's response (spec §4.10).
func (c *Client) Send(op string, payload map[string]any, dc ctxkey.DaemonContext) (wire.Response, error) {
	return c.sendRaw(op, payload, dc, requestTimeout)
}

func (c *Client) sendRaw(op string, payload map[string]any, dc ctxkey.DaemonContext, timeout time.Duration) (wire.Response, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	req := wire.Request{
		ID:      uuid.New().String(),
		Op:      op,
		Payload: payload,
		Context: wireContext(dc),
	}
	return ipc.SendRequest(c.Layout.SocketPath(), req, timeout)
}

func wireContext(dc ctxkey.DaemonContext) wire.DaemonContextWire {
	return wire.DaemonContextWire{
		PID:              dc.PID,
		PPID:             dc.PPID,
		TTY:              dc.TTY,
		CWD:              dc.CWD,
		RuntimeContextID: dc.RuntimeContextID,
		ShareGroup:       dc.ShareGroup,
		ContextID:        dc.ContextID,
		TimeoutMs:        dc.TimeoutMs,
	}
}

// Stop sends daemon.stop if the daemon is reachable; a no-op otherwise
// (spec §4.10).
func (c *Client) Stop(dc ctxkey.DaemonContext) error {
	if !c.IsReachable(dc) {
		return nil
	}
	_, err := c.sendRaw(string(wire.OpDaemonStop), nil, dc, requestTimeout)
	return err
}

// StopAndWait sends daemon.stop and polls IsReachable until it goes false
// or timeout elapses (spec §4.10).
func (c *Client) StopAndWait(dc ctxkey.DaemonContext, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = ensureRunningTimeout
	}
	if !c.IsReachable(dc) {
		return nil
	}
	if _, err := c.sendRaw(string(wire.OpDaemonStop), nil, dc, requestTimeout); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !c.IsReachable(dc) {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return cdterrors.New(cdterrors.CodeDaemonUnavailable, "daemon did not stop within the requested timeout").
		WithRetryable(true)
}
