// Package fake is an in-memory pagedriver.Driver used by daemon tests. It
// never touches a real browser; StartSlot/Act calls are just bookkeeping
// plus an optional artificial delay, so tests can assert on ordering and
// timing (spec §8 Scenario F) without a real Chrome process.
package fake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cdt-cli/cdt/pkg/pagedriver"
)

// Invocation records one Act call, timestamped for serialization assertions.
type Invocation struct {
	ContextKeyHash string
	Op             string
	StartedAt      time.Time
	FinishedAt     time.Time
}

type slotState struct {
	chromePID int
	debugPort int
	pageID    string
}

// Driver is a pagedriver.Driver backed entirely by in-process state.
type Driver struct {
	// ActDelay is slept inside every Act call before returning, so tests
	// can exercise mutation-queue serialization timing.
	ActDelay time.Duration

	mu    sync.Mutex
	slots map[string]*slotState

	invMu       sync.Mutex
	invocations []Invocation

	pidCounter  int64
	portCounter int64
}

// New returns a Driver ready for use.
func New() *Driver {
	return &Driver{slots: make(map[string]*slotState)}
}

// Invocations returns a snapshot of recorded Act calls in completion order.
func (d *Driver) Invocations() []Invocation {
	d.invMu.Lock()
	defer d.invMu.Unlock()
	out := make([]Invocation, len(d.invocations))
	copy(out, d.invocations)
	return out
}

func (d *Driver) StartSlot(ctx context.Context, req pagedriver.StartSlotRequest) (pagedriver.Slot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.slots[req.ContextKeyHash]; ok {
		return pagedriver.Slot{ChromePID: s.chromePID, DebugPort: s.debugPort, PageID: s.pageID, Reused: true}, nil
	}

	s := &slotState{
		chromePID: int(atomic.AddInt64(&d.pidCounter, 1)) + 10000,
		debugPort: int(atomic.AddInt64(&d.portCounter, 1)) + 9000,
		pageID:    fmt.Sprintf("page-%s-0", req.ContextKeyHash),
	}
	d.slots[req.ContextKeyHash] = s
	return pagedriver.Slot{ChromePID: s.chromePID, DebugPort: s.debugPort, PageID: s.pageID, Reused: false}, nil
}

func (d *Driver) StopSlot(ctx context.Context, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.slots, hash)
	return nil
}

func (d *Driver) CurrentPage(ctx context.Context, hash string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.slots[hash]
	if !ok {
		return "", false
	}
	return s.pageID, true
}

func (d *Driver) Act(ctx context.Context, hash string, op string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	started := time.Now()

	delay := d.ActDelay
	if timeout > 0 && delay > timeout {
		select {
		case <-time.After(timeout):
			return nil, context.DeadlineExceeded
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	finished := time.Now()
	d.invMu.Lock()
	d.invocations = append(d.invocations, Invocation{ContextKeyHash: hash, Op: op, StartedAt: started, FinishedAt: finished})
	d.invMu.Unlock()

	return map[string]any{"op": op, "hash": hash}, nil
}
