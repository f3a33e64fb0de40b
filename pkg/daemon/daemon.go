// Package daemon implements the Broker Daemon (spec §4.9): the singleton
// process that owns the IPC socket, the per-context mutation queues, and
// dispatch into the Page Driver.
//
// Grounded on ztbrown-gastown/internal/daemon/daemon.go end to end: its
// struct shape (config + logger + lifecycle fields), its Run() singleton
// sequence (flock startup lock -> pidfile -> signal handling -> shutdown),
// and pkg/transport/router.go's per-connection dispatch idiom, adapted from
// a bidirectional pump to a request/response handler passed into pkg/ipc.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cdt-cli/cdt/pkg/cdterrors"
	"github.com/cdt-cli/cdt/pkg/cdtlog"
	"github.com/cdt-cli/cdt/pkg/ctxkey"
	"github.com/cdt-cli/cdt/pkg/filelock"
	"github.com/cdt-cli/cdt/pkg/ipc"
	"github.com/cdt-cli/cdt/pkg/pagedriver"
	"github.com/cdt-cli/cdt/pkg/paths"
	"github.com/cdt-cli/cdt/pkg/pidfile"
	"github.com/cdt-cli/cdt/pkg/registry"
	"github.com/cdt-cli/cdt/pkg/sessionsvc"
	"github.com/cdt-cli/cdt/pkg/wire"
)

// StartupLockTimeout bounds how long Start waits to acquire the daemon's
// startup lock (spec §4.9: "timeout ≈ 2s").
const StartupLockTimeout = 2 * time.Second

// stopGraceDelay is how long daemon.stop waits before actually shutting
// down, so the response envelope reaches the caller first (spec §4.9:
// "reply ok, schedule shutdown after ~10 ms").
const stopGraceDelay = 10 * time.Millisecond

// Config configures a Daemon.
type Config struct {
	Layout   paths.Layout
	Driver   pagedriver.Driver
	Logger   *cdtlog.Logger
	LeaseTTL time.Duration
}

// Daemon is the singleton broker process: one IPC server, one registry,
// one set of per-context mutation queues.
type Daemon struct {
	layout   paths.Layout
	driver   pagedriver.Driver
	logger   *cdtlog.Logger
	leaseTTL time.Duration

	registry *registry.Registry
	session  *sessionsvc.Service

	startedAt   time.Time
	startupLock filelock.Release
	server      *ipc.Server

	queueMu sync.Mutex
	queues  map[string]chan struct{}

	shutdownOnce sync.Once
	stopped      chan struct{}

	// watchAddr and watcher, if set, back the optional debug websocket
	// observability endpoint (spec SPEC_FULL.md §4, pkg/daemon/watch.go).
	// Set by cmd/cdt-daemon via AttachWatch.
	watchAddr string
	watcher   *Watcher
}

// AttachWatch records the debug websocket endpoint's watcher and address so
// daemon.watch can report it to clients and dispatch events get published.
// Call before Serve.
func (d *Daemon) AttachWatch(w *Watcher, addr string) {
	d.watcher = w
	d.watchAddr = addr
}

func (d *Daemon) publish(ev Event) {
	if d.watcher != nil {
		d.watcher.Publish(ev)
	}
}

// New constructs a Daemon. Start must be called before Serve.
func New(cfg Config) *Daemon {
	logger := cfg.Logger
	if logger == nil {
		logger, _ = cdtlog.Open("")
	}
	session := sessionsvc.New(cfg.Layout)
	session.LeaseTTL = cfg.LeaseTTL

	return &Daemon{
		layout:   cfg.Layout,
		driver:   cfg.Driver,
		logger:   logger,
		leaseTTL: cfg.LeaseTTL,
		registry: registry.New(cfg.Layout),
		session:  session,
		queues:   make(map[string]chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start performs the singleton-start sequence of spec §4.9: ensure
// directories, evict a dead pidfile, take the startup lock, write our own
// pidfile, and bind the socket. It does not block; call Serve to accept
// connections.
func (d *Daemon) Start() error {
	if err := d.layout.EnsureDirectories(); err != nil {
		return cdterrors.Wrap(cdterrors.CodeInternalError, "create broker directories", err)
	}

	alive, err := pidfile.IsAlive(d.layout.PidFilePath())
	if err != nil {
		return cdterrors.Wrap(cdterrors.CodeInternalError, "check existing pidfile", err)
	}
	if alive {
		return cdterrors.New(cdterrors.CodeSessionAlreadyRunning, "a daemon is already running for this home directory").
			WithSuggestions("use daemon.stop against the running daemon, or CDT_HOME to select a different home")
	}
	// Dead pidfile (or none): clear stale artifacts before taking over.
	pidfile.Remove(d.layout.PidFilePath())
	_ = os.Remove(d.layout.SocketPath())

	release, err := filelock.Acquire(d.layout.DaemonLockPath(), StartupLockTimeout)
	if err != nil {
		return err
	}
	d.startupLock = release

	if err := pidfile.Write(d.layout.PidFilePath(), os.Getpid()); err != nil {
		_ = d.startupLock()
		return cdterrors.Wrap(cdterrors.CodeInternalError, "write pidfile", err)
	}

	server, err := ipc.Listen(d.layout.SocketPath(), d.handle)
	if err != nil {
		pidfile.Remove(d.layout.PidFilePath())
		_ = d.startupLock()
		return err
	}
	d.server = server
	d.startedAt = time.Now()

	d.logger.Info("daemon started pid=%d socket=%s", os.Getpid(), d.layout.SocketPath())
	return nil
}

// Serve accepts IPC connections until Shutdown is called, then returns nil.
func (d *Daemon) Serve() error {
	err := d.server.Serve()
	<-d.stopped
	return err
}

// Run installs terminate/interrupt signal handlers that call Shutdown, then
// blocks in Serve (spec §4.9, step 7). Intended for cmd/cdt-daemon's main.
func (d *Daemon) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		d.logger.Info("received signal %v, shutting down", sig)
		_ = d.Shutdown()
	}()
	return d.Serve()
}

// Shutdown is idempotent: stop accepting connections, close all browser
// slots, remove the pidfile, release the startup lock, unlink the socket
// (spec §4.9).
func (d *Daemon) Shutdown() error {
	d.shutdownOnce.Do(func() {
		d.logger.Info("shutdown starting")
		if d.server != nil {
			_ = d.server.Close()
		}

		for _, hash := range d.runningContextHashes() {
			if err := d.driver.StopSlot(context.Background(), hash); err != nil {
				d.logger.Warn("stop slot for %s during shutdown: %v", hash, err)
			}
		}

		pidfile.Remove(d.layout.PidFilePath())
		if d.startupLock != nil {
			_ = d.startupLock()
		}
		_ = os.Remove(d.layout.SocketPath())
		close(d.stopped)
		d.logger.Info("shutdown complete")
	})
	return nil
}

// Addr returns the bound socket path, for callers that want to confirm
// where the daemon is listening.
func (d *Daemon) Addr() string {
	if d.server == nil {
		return d.layout.SocketPath()
	}
	return d.server.Addr()
}

func (d *Daemon) runningContextHashes() []string {
	entries, err := os.ReadDir(d.layout.ContextsDir())
	if err != nil {
		return nil
	}
	var hashes []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, ok, err := d.registry.GetMetadata(e.Name())
		if err != nil || !ok || meta.Status != registry.StatusRunning {
			continue
		}
		hashes = append(hashes, e.Name())
	}
	return hashes
}

// handle is the pkg/ipc.Handler: it routes by op, resolving the context
// once and running mutating ops through the per-context queue (spec §4.9).
func (d *Daemon) handle(req wire.Request) wire.Response {
	resolved := ctxkey.Resolve(req.Context.ToDaemonContext())

	switch req.Op {
	case string(wire.OpDaemonPing), string(wire.OpDaemonStatus):
		return d.handleDaemonStatus(req)
	case string(wire.OpDaemonStop):
		return d.handleDaemonStop(req)
	case string(wire.OpDaemonGC):
		return d.handleGC(req)
	case string(wire.OpDaemonWatch):
		return d.handleWatch(req)
	case string(wire.OpSessionStart):
		return d.runMutating(resolved.ContextKeyHash, req.ID, func() wire.Response {
			return d.handleSessionStart(req, resolved)
		})
	case string(wire.OpSessionStatus):
		return d.handleSessionStatus(req, resolved)
	case string(wire.OpSessionStop):
		return d.runMutating(resolved.ContextKeyHash, req.ID, func() wire.Response {
			return d.handleSessionStop(req, resolved)
		})
	case string(wire.OpSessionTouch):
		return d.runMutating(resolved.ContextKeyHash, req.ID, func() wire.Response {
			return d.handleSessionTouch(req, resolved)
		})
	default:
		if wire.IsMutating(req.Op) {
			return d.runMutating(resolved.ContextKeyHash, req.ID, func() wire.Response {
				return d.handlePageOp(req, resolved)
			})
		}
		return d.handlePageOp(req, resolved)
	}
}

// runMutating is the per-context serialization gate of spec §4.9: look up
// the previous gate for hash (if any), publish a new gate, await the
// previous one, run task, signal completion, and drop the map entry if
// nobody published a newer gate in the meantime.
func (d *Daemon) runMutating(hash, reqID string, task func() wire.Response) wire.Response {
	d.queueMu.Lock()
	prev := d.queues[hash]
	gate := make(chan struct{})
	d.queues[hash] = gate
	d.queueMu.Unlock()

	if prev != nil {
		<-prev
	}

	d.publish(Event{Kind: "mutation.start", ContextKeyHash: hash, At: time.Now()})
	resp := func() (r wire.Response) {
		defer func() {
			if rec := recover(); rec != nil {
				internal := cdterrors.New(cdterrors.CodeInternalError, "mutation task panicked").
					WithDetails(map[string]any{"reason": rec})
				r = wire.Fail(reqID, internal, 0)
			}
		}()
		return task()
	}()
	d.publish(Event{Kind: "mutation.end", ContextKeyHash: hash, At: time.Now()})

	d.queueMu.Lock()
	select {
	case <-gate: // already closed by invalidateQueue
	default:
		close(gate)
	}
	if d.queues[hash] == gate {
		delete(d.queues, hash)
	}
	d.queueMu.Unlock()

	return resp
}

func (d *Daemon) handleDaemonStatus(req wire.Request) wire.Response {
	return wire.Ok(req.ID, map[string]any{
		"pid":        os.Getpid(),
		"socketPath": d.layout.SocketPath(),
		"uptimeMs":   time.Since(d.startedAt).Milliseconds(),
	}, 0)
}

func (d *Daemon) handleDaemonStop(req wire.Request) wire.Response {
	go func() {
		time.Sleep(stopGraceDelay)
		_ = d.Shutdown()
	}()
	return wire.Ok(req.ID, map[string]any{"stopping": true}, 0)
}

func (d *Daemon) handleGC(req wire.Request) wire.Response {
	cfg := registry.SweepConfig{}
	if v, ok := req.Payload["retentionDays"].(float64); ok {
		cfg.RetentionDays = int(v)
	}
	if v, ok := req.Payload["includePattern"].(string); ok {
		cfg.IncludePattern = v
	}
	stats, err := d.registry.Sweep(cfg)
	if err != nil {
		return wire.Fail(req.ID, cdterrors.AsInternal(err, string(wire.OpDaemonGC)), 0)
	}
	return wire.Ok(req.ID, map[string]any{
		"contextsRemoved": stats.ContextsRemoved,
		"bytesFreed":      stats.BytesFreed,
	}, 0)
}

// handleWatch replies with the debug websocket address if one is attached
// via AttachWatch, or a VALIDATION_ERROR otherwise — the observability
// stream itself is served by pkg/daemon/watch.go's websocket handler, not
// over this request/response socket.
func (d *Daemon) handleWatch(req wire.Request) wire.Response {
	if d.watchAddr == "" {
		return wire.Fail(req.ID, cdterrors.New(cdterrors.CodeValidationError, "daemon was not started with a debug websocket endpoint").
			WithSuggestions("start cdt-daemon with -debug-ws"), 0)
	}
	return wire.Ok(req.ID, map[string]any{"wsAddr": d.watchAddr}, 0)
}

func driverTimeout(req wire.Request) time.Duration {
	if req.Context.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(req.Context.TimeoutMs) * time.Millisecond
}

func contextPayload(r ctxkey.Resolved) map[string]any {
	return map[string]any{
		"contextKeyHash": r.ContextKeyHash,
		"shareGroup":     r.ShareGroup,
		"resolvedBy":     string(r.ResolvedBy),
	}
}

func sessionPayload(m registry.Metadata) map[string]any {
	return map[string]any{
		"contextKeyHash": m.ContextKeyHash,
		"shareGroup":     m.ShareGroup,
		"resolvedBy":     m.ResolvedBy,
		"status":         string(m.Status),
		"startedAt":      m.StartedAt,
		"updatedAt":      m.UpdatedAt,
		"stoppedAt":      m.StoppedAt,
		"lastSeenAt":     m.LastSeenAt,
		"chromePid":      m.ChromePID,
		"debugPort":      m.DebugPort,
		"currentPageId":  m.CurrentPageID,
		"headless":       m.Headless,
	}
}

func leasePayload(l registry.Lease) map[string]any {
	return map[string]any{
		"contextKeyHash": l.ContextKeyHash,
		"ownerPid":       l.OwnerPID,
		"lastSeenAt":     l.LastSeenAt,
		"leaseExpiresAt": l.LeaseExpiresAt,
	}
}
