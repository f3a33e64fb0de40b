package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Event is one observability record published to daemon.watch subscribers:
// "mutation.start"/"mutation.end" around each task run through a
// per-context queue gate, and "context.removed" when a context directory
// disappears.
type Event struct {
	Kind           string    `json:"kind"`
	ContextKeyHash string    `json:"contextKeyHash,omitempty"`
	Op             string    `json:"op,omitempty"`
	At             time.Time `json:"at"`
}

// Watcher fans out Events to any number of connected websocket clients
// (spec SPEC_FULL.md §4's `daemon.watch` op), grounded on
// pkg/transport/websocket.go's nhooyr.io/websocket read/write shape but
// inverted: this side only ever writes, one frame per Event, to a
// loopback-only listener.
type Watcher struct {
	mu      sync.Mutex
	clients map[chan Event]struct{}
	srv     *http.Server
	ln      net.Listener
}

// NewWatcher constructs an idle Watcher. Call Serve to start accepting
// websocket connections.
func NewWatcher() *Watcher {
	return &Watcher{clients: make(map[chan Event]struct{})}
}

// Serve binds addr (must be a 127.0.0.1 address — spec: never exposed
// beyond loopback) and serves websocket upgrades until ctx is canceled.
// A non-loopback addr is rejected without binding.
func (w *Watcher) Serve(ctx context.Context, addr string) (string, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return "", &net.AddrError{Err: "not a loopback address", Addr: addr}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	w.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/watch", w.handle)
	w.srv = &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		_ = w.srv.Close()
	}()
	go func() {
		_ = w.srv.Serve(ln)
	}()

	return ln.Addr().String(), nil
}

func (w *Watcher) handle(rw http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(rw, r, &websocket.AcceptOptions{OriginPatterns: []string{"localhost", "127.0.0.1"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := make(chan Event, 64)
	w.mu.Lock()
	w.clients[ch] = struct{}{}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.clients, ch)
		w.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Publish fans ev out to every connected subscriber, dropping it for any
// client whose buffer is full rather than blocking the daemon's dispatch path.
func (w *Watcher) Publish(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close stops accepting new connections.
func (w *Watcher) Close() error {
	if w.srv == nil {
		return nil
	}
	return w.srv.Close()
}
