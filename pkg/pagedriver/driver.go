// Package pagedriver defines the seam between the broker daemon and the
// real Chrome DevTools Protocol driver (spec §1, §4.11). The driver itself
// — actually talking CDP over a websocket, managing tabs and frames — is
// an external collaborator out of scope for this module; only the
// interface the daemon depends on lives here, plus an in-memory fake used
// by daemon tests.
package pagedriver

import (
	"context"
	"time"
)

// StartSlotRequest carries what a driver needs to start or reuse a
// browser slot for a context.
type StartSlotRequest struct {
	ContextKeyHash string
	Headless       bool
	ProfileDir     string
}

// Slot describes a running (or reused) browser slot.
type Slot struct {
	ChromePID int
	DebugPort int
	PageID    string
	Reused    bool
}

// Driver is the seam the broker daemon dispatches Page-Driver-delegated
// ops through (spec §4.9's op table: page.*, element.*, input.*, ref.*,
// dialog.*, capture.*, snapshot.*, runtime.eval, observe.*, console.*,
// network.*, emulation.*, trace.*).
type Driver interface {
	// StartSlot starts a new browser slot for hash, or reuses an already
	// running one (Slot.Reused = true).
	StartSlot(ctx context.Context, req StartSlotRequest) (Slot, error)
	// StopSlot closes the browser slot owned by hash, if any.
	StopSlot(ctx context.Context, hash string) error
	// CurrentPage returns the active page id for hash, if the slot is running.
	CurrentPage(ctx context.Context, hash string) (pageID string, ok bool)
	// Act executes a single Page-Driver-delegated operation against the
	// slot owned by hash and returns its result payload.
	Act(ctx context.Context, hash string, op string, payload map[string]any, timeout time.Duration) (map[string]any, error)
}
