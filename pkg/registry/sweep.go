package registry

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// SweepConfig configures the maintenance sweep (spec SPEC_FULL.md §4.12).
type SweepConfig struct {
	// RetentionDays: stopped contexts whose metadata hasn't been updated
	// within this many days are removed. Defaults to 30, mirroring
	// pkg/session/cleanup.go's CleanupConfig.
	RetentionDays int

	// IncludePattern, if non-empty, restricts the sweep to context hashes
	// matching this doublestar pattern (matched against the hash alone,
	// e.g. "ctx_0*" to sweep only a subset). Empty means "all".
	IncludePattern string
}

// SweepStats reports the outcome of a sweep (spec SPEC_FULL.md §4.12).
type SweepStats struct {
	ContextsRemoved int
	BytesFreed      int64
}

// Sweep removes contexts/<hash>/ directories whose metadata reports
// status=stopped, whose updatedAt predates the retention cutoff, and whose
// hash has no live lease. Running contexts, and contexts with a live
// lease, are always preserved regardless of age.
func (r *Registry) Sweep(cfg SweepConfig) (SweepStats, error) {
	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var stats SweepStats

	entries, err := os.ReadDir(r.Layout.ContextsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		hash := entry.Name()

		if cfg.IncludePattern != "" {
			matched, merr := doublestar.Match(cfg.IncludePattern, hash)
			if merr != nil || !matched {
				continue
			}
		}

		meta, ok, err := r.GetMetadata(hash)
		if err != nil || !ok {
			continue
		}
		if meta.Status != StatusStopped {
			continue
		}
		if meta.UpdatedAt.After(cutoff) {
			continue
		}

		if lease, ok, _ := r.GetLease(hash); ok && lease.Alive(time.Now()) {
			continue // a live lease means someone is still touching this context
		}

		dir := r.Layout.ContextDir(hash)
		size := dirSize(dir)
		if rmErr := os.RemoveAll(dir); rmErr == nil {
			stats.ContextsRemoved++
			stats.BytesFreed += size
		}
	}

	return stats, nil
}

func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
