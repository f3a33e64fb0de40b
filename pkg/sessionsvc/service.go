// Package sessionsvc implements the Session Service facade (spec §4.7):
// start/stop/status/touch/updateCurrentPage, composing the per-context
// filesystem lock (pkg/filelock), the context resolver (pkg/ctxkey), and
// the context registry (pkg/registry).
//
// Grounded on pkg/teams/manager.go's TeamManager: a small facade that
// composes a lock with a lower-level store behind a handful of lifecycle
// methods, returning taxonomy errors instead of ad hoc ones.
package sessionsvc

import (
	"time"

	"github.com/cdt-cli/cdt/pkg/cdterrors"
	"github.com/cdt-cli/cdt/pkg/ctxkey"
	"github.com/cdt-cli/cdt/pkg/filelock"
	"github.com/cdt-cli/cdt/pkg/paths"
	"github.com/cdt-cli/cdt/pkg/registry"
)

// LockTimeout is the per-context lock acquire timeout for start/stop (spec §4.7: "2s").
const LockTimeout = 2 * time.Second

// Service is the Session Service facade.
type Service struct {
	Layout   paths.Layout
	Registry *registry.Registry

	// LeaseTTL overrides registry.DefaultLeaseTTL for every lease this
	// Service touches (daemon.yaml's leaseTtl, see pkg/daemonconfig).
	// Zero means use registry.DefaultLeaseTTL.
	LeaseTTL time.Duration
}

// New creates a Service rooted at layout, with its own Registry.
func New(layout paths.Layout) *Service {
	return &Service{Layout: layout, Registry: registry.New(layout)}
}

func (s *Service) leaseTTL() time.Duration {
	if s.LeaseTTL > 0 {
		return s.LeaseTTL
	}
	return registry.DefaultLeaseTTL
}

// StartInput is the input to Start.
type StartInput struct {
	Context       ctxkey.DaemonContext
	CallerPID     int
	Headless      bool
	ChromePID     *int
	DebugPort     *int
	CurrentPageID *string
}

// StartResult is the output of Start.
type StartResult struct {
	Reused   bool
	Resolved ctxkey.Resolved
	Session  registry.Metadata
}

// Start resolves the context, takes the per-context lock, marks the
// session running (reusing an existing slot if one was already running),
// touches the lease, and releases the lock (spec §4.7).
func (s *Service) Start(in StartInput) (StartResult, error) {
	resolved := ctxkey.Resolve(in.Context)

	release, err := filelock.Acquire(s.Layout.ContextLockPath(resolved.ContextKeyHash), LockTimeout)
	if err != nil {
		return StartResult{}, err
	}
	defer release()

	existing, _, err := s.Registry.GetMetadata(resolved.ContextKeyHash)
	if err != nil {
		return StartResult{}, cdterrors.Wrap(cdterrors.CodeInternalError, "read existing metadata", err)
	}
	reused := existing.Status == registry.StatusRunning

	meta, err := s.Registry.MarkRunning(resolved, registry.Overrides{
		Headless:      in.Headless,
		ChromePID:     in.ChromePID,
		DebugPort:     in.DebugPort,
		CurrentPageID: in.CurrentPageID,
	})
	if err != nil {
		return StartResult{}, cdterrors.Wrap(cdterrors.CodeInternalError, "mark session running", err)
	}

	if _, err := s.Registry.TouchLease(resolved.ContextKeyHash, in.CallerPID, s.leaseTTL()); err != nil {
		return StartResult{}, cdterrors.Wrap(cdterrors.CodeInternalError, "touch lease", err)
	}

	return StartResult{Reused: reused, Resolved: resolved, Session: meta}, nil
}

// StatusInput is the input to Status.
type StatusInput struct {
	Context ctxkey.DaemonContext
}

// StatusResult is the output of Status.
type StatusResult struct {
	Resolved ctxkey.Resolved
	Session  registry.Metadata
	Lease    registry.Lease
}

// Status resolves the context, reads metadata (SESSION_NOT_FOUND if
// absent), and asserts the lease is alive (CONTEXT_LEASE_EXPIRED
// otherwise) (spec §4.7).
func (s *Service) Status(in StatusInput) (StatusResult, error) {
	resolved := ctxkey.Resolve(in.Context)

	meta, ok, err := s.Registry.GetMetadata(resolved.ContextKeyHash)
	if err != nil {
		return StatusResult{}, cdterrors.Wrap(cdterrors.CodeInternalError, "read metadata", err)
	}
	if !ok {
		return StatusResult{}, cdterrors.New(cdterrors.CodeSessionNotFound, "no session for this context").
			WithSuggestions("run session.start for this context first")
	}

	lease, err := s.assertAlive(resolved.ContextKeyHash)
	if err != nil {
		return StatusResult{}, err
	}

	return StatusResult{Resolved: resolved, Session: meta, Lease: lease}, nil
}

// assertAlive returns CONTEXT_LEASE_EXPIRED if the lease is absent or expired.
func (s *Service) assertAlive(hash string) (registry.Lease, error) {
	lease, ok, err := s.Registry.GetLease(hash)
	if err != nil {
		return registry.Lease{}, cdterrors.Wrap(cdterrors.CodeInternalError, "read lease", err)
	}
	if !ok || !lease.Alive(time.Now()) {
		return registry.Lease{}, cdterrors.New(cdterrors.CodeContextLeaseExpired, "lease has expired or was never established").
			WithSuggestions("run session.start to re-establish the session")
	}
	return lease, nil
}

// StopInput is the input to Stop.
type StopInput struct {
	Context ctxkey.DaemonContext
}

// Stop resolves the context, takes the per-context lock, marks the
// session stopped (SESSION_NOT_FOUND if absent), touches the lease so a
// subsequent status can distinguish "stopped" from "crashed", and
// releases the lock (spec §4.7).
func (s *Service) Stop(in StopInput) (ctxkey.Resolved, registry.Metadata, error) {
	resolved := ctxkey.Resolve(in.Context)

	release, err := filelock.Acquire(s.Layout.ContextLockPath(resolved.ContextKeyHash), LockTimeout)
	if err != nil {
		return resolved, registry.Metadata{}, err
	}
	defer release()

	meta, ok, err := s.Registry.MarkStopped(resolved.ContextKeyHash)
	if err != nil {
		return resolved, registry.Metadata{}, cdterrors.Wrap(cdterrors.CodeInternalError, "mark session stopped", err)
	}
	if !ok {
		return resolved, registry.Metadata{}, cdterrors.New(cdterrors.CodeSessionNotFound, "no session for this context")
	}

	if _, err := s.Registry.TouchLease(resolved.ContextKeyHash, in.Context.PID, s.leaseTTL()); err != nil {
		return resolved, registry.Metadata{}, cdterrors.Wrap(cdterrors.CodeInternalError, "touch lease", err)
	}

	return resolved, meta, nil
}

// TouchInput is the input to Touch.
type TouchInput struct {
	Context ctxkey.DaemonContext
}

// Touch resolves the context, requires existing metadata (SESSION_NOT_FOUND
// otherwise), and refreshes the lease (spec §4.7).
func (s *Service) Touch(in TouchInput) (ctxkey.Resolved, registry.Lease, error) {
	resolved := ctxkey.Resolve(in.Context)

	_, ok, err := s.Registry.GetMetadata(resolved.ContextKeyHash)
	if err != nil {
		return resolved, registry.Lease{}, cdterrors.Wrap(cdterrors.CodeInternalError, "read metadata", err)
	}
	if !ok {
		return resolved, registry.Lease{}, cdterrors.New(cdterrors.CodeSessionNotFound, "no session for this context")
	}

	lease, err := s.Registry.TouchLease(resolved.ContextKeyHash, in.Context.PID, s.leaseTTL())
	if err != nil {
		return resolved, registry.Lease{}, cdterrors.Wrap(cdterrors.CodeInternalError, "touch lease", err)
	}
	return resolved, lease, nil
}

// UpdateCurrentPage patches currentPageId if metadata exists for the
// resolved context; no-op otherwise (spec §4.7).
func (s *Service) UpdateCurrentPage(in ctxkey.DaemonContext, pageID *string) (ctxkey.Resolved, *registry.Metadata, error) {
	resolved := ctxkey.Resolve(in)
	meta, ok, err := s.Registry.UpdateCurrentPage(resolved.ContextKeyHash, pageID)
	if err != nil {
		return resolved, nil, cdterrors.Wrap(cdterrors.CodeInternalError, "update current page", err)
	}
	if !ok {
		return resolved, nil, nil
	}
	return resolved, &meta, nil
}
