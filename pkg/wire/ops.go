package wire

import "strings"

// Op is one of the closed set of dotted operation identifiers (spec §6/§4.9).
type Op string

const (
	OpDaemonPing   Op = "daemon.ping"
	OpDaemonStatus Op = "daemon.status"
	OpDaemonStop   Op = "daemon.stop"
	OpDaemonGC     Op = "daemon.gc"
	OpDaemonWatch  Op = "daemon.watch"

	OpSessionStart  Op = "session.start"
	OpSessionStatus Op = "session.status"
	OpSessionStop   Op = "session.stop"
	OpSessionTouch  Op = "session.touch"
)

// mutatingOps are ops that must run through the per-context mutation queue
// (spec §4.9). daemon.* ops and session.status never contend with the
// queue; page/element/input/etc prefixes delegate to the Page Driver and
// are mutating unless explicitly listed as read-only below.
var mutatingOps = map[Op]bool{
	OpSessionStart: true,
	OpSessionStop:  true,
	OpSessionTouch: true,
}

// mutatingPrefixes are Page-Driver-delegated op families that mutate
// browser state by default (spec §4.9's table).
var mutatingPrefixes = []string{
	"page.", "element.", "input.", "ref.", "dialog.", "capture.",
	"snapshot.", "runtime.eval", "emulation.", "trace.",
}

// readOnlyExceptions are specific dotted ops within a normally-mutating
// prefix family that are read-only and bypass the queue (spec §4.9:
// "page.list without side effects, observe.*, network.list, console.list").
var readOnlyExceptions = map[string]bool{
	"page.list":    true,
	"network.list": true,
	"console.list": true,
}

// readOnlyPrefixes are op families that are read-only outright. console.*
// and network.* are NOT here: only console.list/network.list are
// read-only (see readOnlyExceptions) — console.clear, network.setBlockedURLs,
// etc. mutate and must still serialize through the queue.
var readOnlyPrefixes = []string{"observe."}

// IsMutating reports whether op must be serialized through the per-context
// mutation queue before it runs (spec §4.9, §9 Open Question (b)).
func IsMutating(op string) bool {
	if mutatingOps[Op(op)] {
		return true
	}
	if op == string(OpDaemonPing) || op == string(OpDaemonStatus) ||
		op == string(OpDaemonStop) || op == string(OpDaemonGC) || op == string(OpDaemonWatch) {
		return false
	}
	if op == string(OpSessionStatus) {
		return false
	}
	if readOnlyExceptions[op] {
		return false
	}
	for _, p := range readOnlyPrefixes {
		if strings.HasPrefix(op, p) {
			return false
		}
	}
	for _, p := range mutatingPrefixes {
		if strings.HasPrefix(op, p) {
			return true
		}
	}
	// Unknown op families default to mutating: safer to serialize an
	// operation we don't recognize than to let it race.
	return true
}
