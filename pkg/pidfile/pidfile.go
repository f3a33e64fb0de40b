// Package pidfile tracks a daemon's PID with a liveness probe, used to
// detect an already-running daemon (spec §4.4).
//
// Grounded on ztbrown-gastown/internal/daemon/daemon.go's pidfile lifecycle
// (os.WriteFile at start, os.Remove on shutdown), rebuilt atomically via
// pkg/store and extended with the liveness probe the spec requires.
package pidfile

import (
	"os"
	"time"

	"github.com/cdt-cli/cdt/pkg/procutil"
	"github.com/cdt-cli/cdt/pkg/store"
)

// Record is the on-disk shape of daemon.pid.
type Record struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// Write atomically writes pid with the current time as startedAt.
func Write(path string, pid int) error {
	return store.Write(path, Record{PID: pid, StartedAt: time.Now().UTC()})
}

// Read returns the current record, or (zero, false, nil) if no pidfile exists.
func Read(path string) (Record, bool, error) {
	rec, err := store.Read[Record](path)
	if err != nil {
		return Record{}, false, err
	}
	if rec.PID == 0 {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Remove best-effort unlinks the pidfile.
func Remove(path string) {
	_ = os.Remove(path)
}

// IsAlive reads the pidfile and probes whether its recorded PID is live.
// Returns true iff both the pidfile exists and the PID is alive.
func IsAlive(path string) (bool, error) {
	rec, ok, err := Read(path)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return procutil.Alive(rec.PID), nil
}
