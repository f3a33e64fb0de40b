// Package filelock implements the exclusive, advisory filesystem lock of
// spec §4.3: a lock file holding {pid,createdAt}, with stale-holder
// detection by liveness probe and a spin-retry acquire loop.
//
// Grounded on ztbrown-gastown/internal/daemon/daemon.go's flock-based
// daemon lock (gofrs/flock, TryLock, deferred Unlock) for the
// acquire-or-fail shape. Unlike that lock, this one must survive a holder
// that crashed without releasing — flock(2) itself would auto-release on
// crash, but the *lock file* can still be left behind (e.g. stale content
// from a previous boot, or a filesystem where flock semantics are
// unavailable), so callers get the liveness-probe layer described in the
// spec on top of flock's mutual exclusion.
package filelock

import (
	"encoding/json"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/cdt-cli/cdt/pkg/cdterrors"
	"github.com/cdt-cli/cdt/pkg/procutil"
	"github.com/cdt-cli/cdt/pkg/store"
)

// DefaultTimeout is the default acquire timeout (spec §4.3).
const DefaultTimeout = 2 * time.Second

// retryInterval is the sleep between collision retries (spec §4.3: "≈50ms").
const retryInterval = 50 * time.Millisecond

// Record is the content written into the lock file by its holder.
type Record struct {
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"createdAt"`
}

// Release unlocks and removes the lock file. Calls after the first are no-ops.
type Release func() error

// Acquire attempts to take the exclusive lock at path, retrying on
// collision until timeout elapses. A collision whose recorded holder PID
// fails the liveness probe causes the stale lock file to be unlinked so a
// subsequent attempt can succeed. Returns cdterrors with code
// CONTEXT_LOCK_TIMEOUT on timeout.
func Acquire(path string, timeout time.Duration) (Release, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	fl := flock.New(path)

	for {
		locked, err := fl.TryLock()
		if err != nil {
			return nil, cdterrors.Wrap(cdterrors.CodeInternalError, "acquire filelock", err)
		}
		if locked {
			rec := Record{PID: os.Getpid(), CreatedAt: time.Now().UTC()}
			if werr := writeRecordInPlace(path, rec); werr != nil {
				_ = fl.Unlock()
				return nil, cdterrors.Wrap(cdterrors.CodeInternalError, "write lock record", werr)
			}
			released := false
			return func() error {
				if released {
					return nil
				}
				released = true
				_ = os.Remove(path)
				return fl.Unlock()
			}, nil
		}

		if rec, ok, _ := readRecord(path); ok && !procutil.Alive(rec.PID) {
			_ = os.Remove(path)
		}

		if time.Now().After(deadline) {
			return nil, cdterrors.New(cdterrors.CodeContextLockTimeout, "timed out acquiring lock "+path).
				WithRetryable(true).
				WithSuggestions("retry the operation", "check whether a stale process is holding "+path)
		}
		time.Sleep(retryInterval)
	}
}

// ForceRemove unconditionally unlinks the lock file, regardless of holder
// liveness. Used on cleanup paths (spec §4.3).
func ForceRemove(path string) {
	_ = os.Remove(path)
}

// readRecord reads the lock file's Record without taking the flock,
// tolerating a corrupt or mid-write file (spec: "ignore and retry").
func readRecord(path string) (Record, bool, error) {
	rec, err := store.Read[Record](path)
	if err != nil {
		return Record{}, false, nil // corrupt/mid-write: ignore, caller retries
	}
	if rec.PID == 0 {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// writeRecordInPlace truncates and rewrites the already-locked file with
// rec. It intentionally does not use store.Write's rename-based atomicity:
// renaming a new inode over path would sever the flock held on the
// original file descriptor, breaking the lock it's supposed to protect.
func writeRecordInPlace(path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
