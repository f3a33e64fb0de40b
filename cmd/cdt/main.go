// cdt is the CLI front-end's wiring shim (spec §1, §4.10): the real
// argument parser and output renderer are out-of-scope external
// collaborators, but this binary proves pkg/daemonclient end to end —
// auto-spawn, send, and stop — behind a handful of flag-package
// subcommands.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cdt-cli/cdt/pkg/ctxkey"
	"github.com/cdt-cli/cdt/pkg/daemonclient"
	"github.com/cdt-cli/cdt/pkg/daemonconfig"
	"github.com/cdt-cli/cdt/pkg/paths"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	layout := paths.Resolve()
	client := daemonclient.New(layout)
	if exe, err := os.Executable(); err == nil {
		client.DaemonPath = filepath.Join(filepath.Dir(exe), "cdt-daemon")
	}
	if cfg, err := daemonconfig.Load(layout.DaemonConfigPath()); err == nil {
		client.DetachEnv = cfg.DetachEnv
	}
	dc := callerContext()

	var (
		resp interface{}
		err  error
	)

	switch os.Args[1] {
	case "daemon-start":
		err = client.EnsureRunning(dc)
		resp = map[string]any{"home": layout.Home}

	case "daemon-stop":
		fs := flag.NewFlagSet("daemon-stop", flag.ExitOnError)
		timeout := fs.Duration("timeout", 5*time.Second, "how long to wait for shutdown")
		fs.Parse(os.Args[2:])
		err = client.StopAndWait(dc, *timeout)
		resp = map[string]any{"stopped": err == nil}

	case "ping":
		resp = map[string]any{"reachable": client.IsReachable(dc)}

	case "status":
		if ensureErr := client.EnsureRunning(dc); ensureErr != nil {
			err = ensureErr
			break
		}
		resp, err = client.Send("daemon.status", nil, dc)

	case "session-start", "session-stop", "session-status", "session-touch":
		op := map[string]string{
			"session-start":  "session.start",
			"session-stop":   "session.stop",
			"session-status": "session.status",
			"session-touch":  "session.touch",
		}[os.Args[1]]
		if ensureErr := client.EnsureRunning(dc); ensureErr != nil {
			err = ensureErr
			break
		}
		resp, err = client.Send(op, nil, dc)

	case "gc":
		fs := flag.NewFlagSet("gc", flag.ExitOnError)
		retentionDays := fs.Int("retention-days", 0, "stopped contexts older than this are removed (0: use the daemon's default)")
		includePattern := fs.String("include", "", "doublestar pattern restricting the sweep to matching context hashes")
		fs.Parse(os.Args[2:])
		if ensureErr := client.EnsureRunning(dc); ensureErr != nil {
			err = ensureErr
			break
		}
		payload := map[string]any{}
		if *retentionDays > 0 {
			payload["retentionDays"] = *retentionDays
		}
		if *includePattern != "" {
			payload["includePattern"] = *includePattern
		}
		resp, err = client.Send("daemon.gc", payload, dc)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "cdt: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.Marshal(resp)
	fmt.Println(string(out))
}

// callerContext resolves the context overrides from the environment: spec
// §6 defines CDT_CONTEXT_ID as the runtime-context-id (resolvedBy
// "env:runtime-context-id"), not a manual override — the manual override
// has no env var and only ever arrives as the contextId field of the
// request's context. Leaves
// fingerprint/fallback resolution to the daemon's pkg/ctxkey.
func callerContext() ctxkey.DaemonContext {
	return ctxkey.DaemonContext{
		CallerContext: ctxkey.CallerContext{
			PID:              os.Getpid(),
			PPID:             os.Getppid(),
			CWD:              cwd(),
			RuntimeContextID: os.Getenv("CDT_CONTEXT_ID"),
		},
		ShareGroup: os.Getenv("CDT_SHARE_GROUP"),
	}
}

func cwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return dir
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: cdt <command>

commands:
  daemon-start                 ensure the broker daemon is running
  daemon-stop [-timeout d]     ask the daemon to shut down and wait for it
  ping                         report whether the daemon is reachable
  status                       daemon.status
  session-start                session.start for the resolved context
  session-stop                 session.stop for the resolved context
  session-status                session.status for the resolved context
  session-touch                 session.touch for the resolved context
  gc [-retention-days n] [-include pattern]   daemon.gc maintenance sweep`)
}
