// cdt-daemon is the broker daemon's entry point (spec §4.9): it wires
// pkg/daemon to the in-memory Page Driver from pkg/pagedriver/fake, loads
// the optional daemon.yaml
// (pkg/daemonconfig), and blocks in Daemon.Run until a signal or
// daemon.stop tells it to exit.
//
// Flags mirror the teacher's cmd/example: stdlib flag for binary-local
// overrides, environment variables for the rest (spec §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cdt-cli/cdt/pkg/cdtlog"
	"github.com/cdt-cli/cdt/pkg/daemon"
	"github.com/cdt-cli/cdt/pkg/daemonconfig"
	"github.com/cdt-cli/cdt/pkg/pagedriver/fake"
	"github.com/cdt-cli/cdt/pkg/paths"
)

func main() {
	foreground := flag.Bool("daemon-mode", false, "run as the broker daemon (blocks until shutdown)")
	debugWS := flag.String("debug-ws", "", "bind the debug observability websocket to this loopback address (e.g. 127.0.0.1:9222); empty disables it")
	flag.Parse()

	if !*foreground && os.Getenv("CDT_DAEMON_FOREGROUND") == "" {
		fmt.Fprintln(os.Stderr, "cdt-daemon: pass -daemon-mode (normally done for you by the cdt CLI's auto-spawn)")
		os.Exit(2)
	}

	layout := paths.Resolve()
	if err := layout.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "cdt-daemon: %v\n", err)
		os.Exit(1)
	}

	cfg, err := daemonconfig.Load(layout.DaemonConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "cdt-daemon: %v\n", err)
		os.Exit(1)
	}

	logPath := os.Getenv("CDT_DAEMON_LOG")
	if logPath == "" {
		logPath = layout.DaemonLogPath()
	}
	logger, err := cdtlog.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cdt-daemon: open log: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	// TODO(cdp-driver): swap the in-memory fake for the real Chrome
	// DevTools Protocol driver once it lands; pagedriver.Driver is the
	// seam both sides agree on.
	driver := fake.New()

	d := daemon.New(daemon.Config{
		Layout:   layout,
		Driver:   driver,
		Logger:   logger,
		LeaseTTL: cfg.LeaseTTLDuration(),
	})

	if *debugWS != "" {
		watcher := daemon.NewWatcher()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		addr, err := watcher.Serve(ctx, *debugWS)
		if err != nil {
			logger.Error("debug websocket bind failed: %v", err)
			fmt.Fprintf(os.Stderr, "cdt-daemon: debug websocket bind failed: %v\n", err)
			os.Exit(1)
		}
		d.AttachWatch(watcher, addr)
		logger.Info("debug websocket listening on %s", addr)
	}

	if err := d.Start(); err != nil {
		logger.Error("start failed: %v", err)
		fmt.Fprintf(os.Stderr, "cdt-daemon: %v\n", err)
		os.Exit(1)
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if err := d.WatchContextsDir(watchCtx); err != nil {
		logger.Warn("contexts watcher failed to start: %v", err)
	}

	if err := d.Run(); err != nil {
		logger.Error("serve error: %v", err)
		fmt.Fprintf(os.Stderr, "cdt-daemon: %v\n", err)
		os.Exit(1)
	}

	// Give the final log line a moment to flush before the deferred
	// Close runs (the teacher's daemon examples do the same tiny grace
	// wait around Shutdown).
	time.Sleep(10 * time.Millisecond)
}
