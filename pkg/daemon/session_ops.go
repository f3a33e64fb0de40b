package daemon

import (
	"context"
	"errors"

	"github.com/cdt-cli/cdt/pkg/cdterrors"
	"github.com/cdt-cli/cdt/pkg/ctxkey"
	"github.com/cdt-cli/cdt/pkg/pagedriver"
	"github.com/cdt-cli/cdt/pkg/sessionsvc"
	"github.com/cdt-cli/cdt/pkg/wire"
)

// handleSessionStart implements spec §4.9's "session start coordination":
// ask the Page Driver to start (or reuse) the slot, then record metadata
// via the Session Service; if metadata recording fails and the slot was
// freshly launched, stop it for symmetry.
func (d *Daemon) handleSessionStart(req wire.Request, resolved ctxkey.Resolved) wire.Response {
	headless := false
	if v, ok := req.Payload["headless"].(bool); ok {
		headless = v
	}

	slot, err := d.driver.StartSlot(context.Background(), pagedriver.StartSlotRequest{
		ContextKeyHash: resolved.ContextKeyHash,
		Headless:       headless,
		ProfileDir:     d.layout.ChromeProfileDir(resolved.ContextKeyHash),
	})
	if err != nil {
		return wire.Fail(req.ID, cdterrors.AsInternal(err, string(wire.OpSessionStart)), 0)
	}

	chromePID, debugPort, pageID := slot.ChromePID, slot.DebugPort, slot.PageID
	result, err := d.session.Start(sessionsvc.StartInput{
		Context:       req.Context.ToDaemonContext(),
		CallerPID:     req.Context.PID,
		Headless:      headless,
		ChromePID:     &chromePID,
		DebugPort:     &debugPort,
		CurrentPageID: &pageID,
	})
	if err != nil {
		if !slot.Reused {
			_ = d.driver.StopSlot(context.Background(), resolved.ContextKeyHash)
		}
		return wire.Fail(req.ID, cdterrors.AsInternal(err, string(wire.OpSessionStart)), 0)
	}

	return wire.Ok(req.ID, map[string]any{
		"reused":  slot.Reused,
		"context": contextPayload(result.Resolved),
		"session": sessionPayload(result.Session),
		"runtime": map[string]any{"pageId": pageID, "debugPort": debugPort},
	}, 0)
}

func (d *Daemon) handleSessionStatus(req wire.Request, resolved ctxkey.Resolved) wire.Response {
	result, err := d.session.Status(sessionsvc.StatusInput{Context: req.Context.ToDaemonContext()})
	if err != nil {
		return wire.Fail(req.ID, cdterrors.AsInternal(err, string(wire.OpSessionStatus)), 0)
	}

	pageID, _ := d.driver.CurrentPage(context.Background(), resolved.ContextKeyHash)
	return wire.Ok(req.ID, map[string]any{
		"context": contextPayload(result.Resolved),
		"session": sessionPayload(result.Session),
		"lease":   leasePayload(result.Lease),
		"runtime": map[string]any{"pageId": pageID},
	}, 0)
}

func (d *Daemon) handleSessionStop(req wire.Request, resolved ctxkey.Resolved) wire.Response {
	if err := d.driver.StopSlot(context.Background(), resolved.ContextKeyHash); err != nil {
		d.logger.Warn("stop slot for %s: %v", resolved.ContextKeyHash, err)
	}

	_, meta, err := d.session.Stop(sessionsvc.StopInput{Context: req.Context.ToDaemonContext()})
	if err != nil {
		return wire.Fail(req.ID, cdterrors.AsInternal(err, string(wire.OpSessionStop)), 0)
	}
	return wire.Ok(req.ID, map[string]any{
		"context": contextPayload(resolved),
		"session": sessionPayload(meta),
	}, 0)
}

func (d *Daemon) handleSessionTouch(req wire.Request, resolved ctxkey.Resolved) wire.Response {
	_, lease, err := d.session.Touch(sessionsvc.TouchInput{Context: req.Context.ToDaemonContext()})
	if err != nil {
		return wire.Fail(req.ID, cdterrors.AsInternal(err, string(wire.OpSessionTouch)), 0)
	}
	return wire.Ok(req.ID, map[string]any{
		"context": contextPayload(resolved),
		"lease":   leasePayload(lease),
	}, 0)
}

// handlePageOp delegates a page.*/element.*/input.*/... op to the Page
// Driver and syncs currentPageId back into metadata afterward (spec §4.9:
// "each mutating task additionally ... syncs currentPageId into metadata").
func (d *Daemon) handlePageOp(req wire.Request, resolved ctxkey.Resolved) wire.Response {
	if wire.IsMutating(req.Op) {
		if _, _, err := d.session.Touch(sessionsvc.TouchInput{Context: req.Context.ToDaemonContext()}); err != nil {
			return wire.Fail(req.ID, cdterrors.AsInternal(err, req.Op), 0)
		}
	}

	data, err := d.driver.Act(context.Background(), resolved.ContextKeyHash, req.Op, req.Payload, driverTimeout(req))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return wire.Fail(req.ID, cdterrors.New(cdterrors.CodeTimeout, "page driver operation timed out").WithRetryable(true), 0)
		}
		return wire.Fail(req.ID, cdterrors.AsInternal(err, req.Op), 0)
	}

	if wire.IsMutating(req.Op) {
		if pageID, ok := d.driver.CurrentPage(context.Background(), resolved.ContextKeyHash); ok {
			_, _, _ = d.session.UpdateCurrentPage(req.Context.ToDaemonContext(), &pageID)
		}
	}

	return wire.Ok(req.ID, data, 0)
}
