package daemon

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchContextsDir watches the contexts directory for external deletions
// (e.g. an operator running `rm -rf` on a context directory while the
// daemon is up) and drops any in-flight mutation queue for that hash so a
// subsequent request resolves against a clean slate instead of stacking
// behind a gate nobody will ever close.
//
// Grounded on pkg/subagent/watch.go's fsnotify.NewWatcher/Add/Events loop,
// adapted from "reload a changed file" to "invalidate a removed directory".
func (d *Daemon) WatchContextsDir(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(d.layout.ContextsDir()); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				hash := hashFromContextPath(ev.Name)
				if hash == "" {
					continue
				}
				d.invalidateQueue(hash)
				d.publish(Event{Kind: "context.removed", ContextKeyHash: hash, At: time.Now()})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				d.logger.Warn("contexts watcher error: %v", err)
			}
		}
	}()
	return nil
}

// invalidateQueue drops the queue entry for hash, if any, so a gate whose
// completing task will never arrive (the directory it wrote to is gone)
// doesn't wedge future mutations for this hash.
func (d *Daemon) invalidateQueue(hash string) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if gate, ok := d.queues[hash]; ok {
		select {
		case <-gate:
		default:
			close(gate)
		}
		delete(d.queues, hash)
	}
}

func hashFromContextPath(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	return base
}
