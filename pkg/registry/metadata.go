// Package registry implements the Context Registry (spec §4.6): per-context
// SessionMetadata and SessionLease persisted via pkg/store, plus a
// maintenance sweep for stopped, long-idle contexts.
//
// Grounded on pkg/session/store.go's Create/Load/UpdateMetadata facade
// shape, and pkg/session/cleanup.go's retention-day sweep (generalized
// from the teacher's "delete old session dirs" into "delete old stopped
// context dirs, skipping anything with a live lease").
package registry

import (
	"time"

	"github.com/cdt-cli/cdt/pkg/ctxkey"
	"github.com/cdt-cli/cdt/pkg/paths"
	"github.com/cdt-cli/cdt/pkg/store"
)

// Status is the session lifecycle state (spec §3).
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Metadata is the persisted shape of metadata.json (spec §3).
type Metadata struct {
	ContextKeyHash  string     `json:"contextKeyHash"`
	ShareGroup      string     `json:"shareGroup,omitempty"`
	ResolvedBy      string     `json:"resolvedBy"`
	Status          Status     `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	StoppedAt       *time.Time `json:"stoppedAt"`
	LastSeenAt      time.Time  `json:"lastSeenAt"`
	ChromePID       *int       `json:"chromePid"`
	DebugPort       *int       `json:"debugPort"`
	CurrentPageID   *string    `json:"currentPageId"`
	Headless        bool       `json:"headless"`
}

// Lease is the persisted shape of lease.json (spec §3).
type Lease struct {
	ContextKeyHash string    `json:"contextKeyHash"`
	OwnerPID       int       `json:"ownerPid"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
	LeaseExpiresAt time.Time `json:"leaseExpiresAt"`
}

// Alive reports whether the lease has not yet expired.
func (l Lease) Alive(now time.Time) bool {
	return !l.LeaseExpiresAt.IsZero() && l.LeaseExpiresAt.After(now)
}

// DefaultLeaseTTL is the default lease time-to-live (spec §3).
const DefaultLeaseTTL = 60 * time.Second

// Overrides folds optional fields into markRunning (spec §4.6).
type Overrides struct {
	Headless      bool
	ChromePID     *int
	DebugPort     *int
	CurrentPageID *string
}

// Registry composes the filesystem layout with the store to expose the
// Context Registry operations.
type Registry struct {
	Layout paths.Layout
}

// New creates a Registry rooted at layout.
func New(layout paths.Layout) *Registry {
	return &Registry{Layout: layout}
}

// GetMetadata returns the metadata for hash, or the zero value if absent.
func (r *Registry) GetMetadata(hash string) (Metadata, bool, error) {
	meta, err := store.Read[Metadata](r.Layout.MetadataPath(hash))
	if err != nil {
		return Metadata{}, false, err
	}
	if meta.ContextKeyHash == "" {
		return Metadata{}, false, nil
	}
	return meta, true, nil
}

// GetLease returns the lease for hash, or the zero value if absent.
func (r *Registry) GetLease(hash string) (Lease, bool, error) {
	lease, err := store.Read[Lease](r.Layout.LeasePath(hash))
	if err != nil {
		return Lease{}, false, err
	}
	if lease.ContextKeyHash == "" {
		return Lease{}, false, nil
	}
	return lease, true, nil
}

// MarkRunning composes and persists the running record for resolved,
// folding overrides over any existing metadata (spec §4.6).
func (r *Registry) MarkRunning(resolved ctxkey.Resolved, ov Overrides) (Metadata, error) {
	hash := resolved.ContextKeyHash
	existing, _, err := r.GetMetadata(hash)
	if err != nil {
		return Metadata{}, err
	}

	now := time.Now().UTC()
	startedAt := existing.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}

	meta := Metadata{
		ContextKeyHash: hash,
		ShareGroup:     resolved.ShareGroup,
		ResolvedBy:     string(resolved.ResolvedBy),
		Status:         StatusRunning,
		StartedAt:      startedAt,
		UpdatedAt:      now,
		LastSeenAt:     now,
		StoppedAt:      nil,
		Headless:       ov.Headless,
		ChromePID:      coalesceIntPtr(ov.ChromePID, existing.ChromePID),
		DebugPort:      coalesceIntPtr(ov.DebugPort, existing.DebugPort),
		CurrentPageID:  coalesceStrPtr(ov.CurrentPageID, existing.CurrentPageID),
	}

	if err := r.Layout.EnsureContextDir(hash); err != nil {
		return Metadata{}, err
	}
	if err := store.Write(r.Layout.MetadataPath(hash), meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// MarkStopped stamps status=stopped, preserving all other fields. Returns
// (zero, false, nil) if no metadata exists for hash.
func (r *Registry) MarkStopped(hash string) (Metadata, bool, error) {
	existing, ok, err := r.GetMetadata(hash)
	if err != nil {
		return Metadata{}, false, err
	}
	if !ok {
		return Metadata{}, false, nil
	}

	now := time.Now().UTC()
	existing.Status = StatusStopped
	existing.UpdatedAt = now
	existing.LastSeenAt = now
	existing.StoppedAt = &now

	if err := store.Write(r.Layout.MetadataPath(hash), existing); err != nil {
		return Metadata{}, false, err
	}
	return existing, true, nil
}

// UpdateCurrentPage patches currentPageId if metadata exists; no-op otherwise.
func (r *Registry) UpdateCurrentPage(hash string, pageID *string) (Metadata, bool, error) {
	existing, ok, err := r.GetMetadata(hash)
	if err != nil {
		return Metadata{}, false, err
	}
	if !ok {
		return Metadata{}, false, nil
	}

	now := time.Now().UTC()
	existing.CurrentPageID = pageID
	existing.UpdatedAt = now
	existing.LastSeenAt = now

	if err := store.Write(r.Layout.MetadataPath(hash), existing); err != nil {
		return Metadata{}, false, err
	}
	return existing, true, nil
}

// TouchLease writes a fresh lease for hash, always succeeding if the
// directory can be created (spec §4.6).
func (r *Registry) TouchLease(hash string, ownerPID int, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	now := time.Now().UTC()
	lease := Lease{
		ContextKeyHash: hash,
		OwnerPID:       ownerPID,
		LastSeenAt:     now,
		LeaseExpiresAt: now.Add(ttl),
	}
	if err := r.Layout.EnsureContextDir(hash); err != nil {
		return Lease{}, err
	}
	if err := store.Write(r.Layout.LeasePath(hash), lease); err != nil {
		return Lease{}, err
	}
	return lease, nil
}

func coalesceIntPtr(override, existing *int) *int {
	if override != nil {
		return override
	}
	return existing
}

func coalesceStrPtr(override, existing *string) *string {
	if override != nil {
		return override
	}
	return existing
}
