// Package ctxkey implements the Context Resolver (spec §4.5): turning a
// caller description into a stable context key and its hash. Resolution is
// pure and deterministic except for the final fallback branch.
//
// Grounded on pkg/session/pathutil.go's SanitizePath (deterministic string
// transform of path-like identity) and the teacher's general preference
// for crypto/sha256 content hashing (pkg/session/checkpoint.go), reused
// here for the context-key hash.
package ctxkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResolvedBy enumerates how a context was resolved (spec §3).
type ResolvedBy string

const (
	ByManualContextID       ResolvedBy = "manual:context-id"
	ByEnvRuntimeContextID    ResolvedBy = "env:runtime-context-id"
	ByShareGroup             ResolvedBy = "share-group"
	ByFingerprint            ResolvedBy = "fingerprint"
	ByFallback               ResolvedBy = "fallback"
)

// CallerContext describes the calling process (spec §3).
type CallerContext struct {
	PID              int
	PPID             int // optional; 0 means absent
	TTY              string
	CWD              string
	RuntimeContextID string
}

// DaemonContext is CallerContext plus the resolver overrides (spec §3).
type DaemonContext struct {
	CallerContext
	ShareGroup string
	ContextID  string // manual override
	TimeoutMs  int
}

// Resolved is the output of resolution (spec §3).
type Resolved struct {
	ContextKey     string
	ContextKeyHash string
	ShareGroup     string
	ResolvedBy     ResolvedBy
}

// Resolve applies the decision order of spec §4.5, first match wins.
func Resolve(dc DaemonContext) Resolved {
	if id := strings.TrimSpace(dc.ContextID); id != "" {
		return finish("manual:"+id, "", ByManualContextID)
	}

	if rcid := strings.TrimSpace(dc.RuntimeContextID); rcid != "" {
		return finish("env:"+rcid, "", ByEnvRuntimeContextID)
	}

	if group := strings.TrimSpace(dc.ShareGroup); group != "" {
		return finish("group:"+group, group, ByShareGroup)
	}

	if key, ok := fingerprint(dc.CallerContext); ok {
		return finish(key, "", ByFingerprint)
	}

	return finish(fallbackKey(), "", ByFallback)
}

// fingerprint tries, in order, tty, cwd, then ppid>1.
func fingerprint(c CallerContext) (string, bool) {
	if tty := strings.TrimSpace(c.TTY); tty != "" {
		return "auto:tty:" + tty, true
	}
	if cwd := strings.TrimSpace(c.CWD); cwd != "" {
		return "auto:cwd:" + cwd, true
	}
	if c.PPID > 1 {
		return fmt.Sprintf("auto:ppid:%d", c.PPID), true
	}
	return "", false
}

// fallbackKey is the only non-deterministic branch: unix-millis + random hex.
func fallbackKey() string {
	millis := time.Now().UnixMilli()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("fallback:%d:%s", millis, suffix)
}

func finish(contextKey, shareGroup string, by ResolvedBy) Resolved {
	return Resolved{
		ContextKey:     contextKey,
		ContextKeyHash: Hash(contextKey),
		ShareGroup:     shareGroup,
		ResolvedBy:     by,
	}
}

// Hash computes "ctx_" + first 16 hex chars of SHA-256(key) (spec §3).
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "ctx_" + hex.EncodeToString(sum[:])[:16]
}
