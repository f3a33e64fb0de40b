// Package ipc implements the Line-Delimited IPC framing of spec §4.8: a
// newline-delimited JSON envelope protocol over a filesystem stream
// socket, with a server that dispatches each line to a Handler and a
// client that sends one request per connection.
//
// Grounded on pkg/transport/stdio.go's bufio.Scanner-based JSONL read loop
// and mutex-guarded line writer, ported from stdin/stdout to net.Listener/
// net.Conn over a Unix domain socket.
package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/net/netutil"

	"github.com/cdt-cli/cdt/pkg/cdterrors"
	"github.com/cdt-cli/cdt/pkg/wire"
)

const (
	// maxScannerBuffer caps a single request/response line, mirroring
	// pkg/transport/stdio.go's 10 MB JSONL scanner limit.
	maxScannerBuffer     = 10 * 1024 * 1024
	initialScannerBuffer = 64 * 1024

	// maxConnections bounds simultaneous connections so a runaway client
	// (or many short-lived CLI invocations firing at once) can't exhaust
	// file descriptors on the daemon.
	maxConnections = 256
)

// Handler processes one request and returns its response envelope. It is
// never handed a broken connection — a handler panic or error is always
// converted into a well-formed failure envelope by the server (spec §4.8:
// "the connection is never broken by business errors").
type Handler func(req wire.Request) wire.Response

// Server listens on a Unix domain socket and dispatches each newline-
// delimited request to handle.
type Server struct {
	listener net.Listener
	handle   Handler
}

// Listen removes any stale socket file at path, then binds a new listener
// (spec §4.8: "removing any stale socket file before listen").
func Listen(path string, handle Handler) (*Server, error) {
	_ = os.Remove(path)

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, cdterrors.Wrap(cdterrors.CodeInternalError, "bind ipc socket", err)
	}
	return &Server{listener: netutil.LimitListener(l, maxConnections), handle: handle}, nil
}

// Addr returns the bound socket path.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve accepts connections until the listener is closed, handling each on
// its own goroutine — the daemon's equivalent of "one cooperative task per
// connection" (spec §4.8, §5).
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if isClosedError(err) {
				return nil
			}
			return err
		}
		go s.serveConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, initialScannerBuffer), maxScannerBuffer)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		receivedAt := time.Now()
		resp := s.dispatch(append([]byte(nil), line...), receivedAt)

		data, err := json.Marshal(resp)
		if err != nil {
			// Should not happen for our own Response type; degrade to a
			// minimal envelope rather than drop the request silently.
			data, _ = json.Marshal(wire.Response{ID: resp.ID, OK: false,
				Error: &wire.ErrorBody{Code: string(cdterrors.CodeInternalError), Message: "failed to encode response"}})
		}
		data = append(data, '\n')
		if _, werr := conn.Write(data); werr != nil {
			return
		}
	}
}

func (s *Server) dispatch(line []byte, receivedAt time.Time) wire.Response {
	req, parseErr := wire.ParseRequest(line)
	if parseErr != nil {
		id := "unknown"
		if v, ok := parseErr.Details["id"]; ok {
			if s, ok := v.(string); ok {
				id = s
			}
		} else if req.ID != "" {
			id = req.ID
		}
		return wire.Fail(id, parseErr, durationSince(receivedAt))
	}

	resp := func() (r wire.Response) {
		defer func() {
			if rec := recover(); rec != nil {
				internal := cdterrors.New(cdterrors.CodeInternalError, "handler panicked").
					WithDetails(map[string]any{"reason": rec, "op": req.Op})
				r = wire.Fail(req.ID, internal, durationSince(receivedAt))
			}
		}()
		return s.handle(req)
	}()

	resp.ID = req.ID
	if resp.Meta == nil {
		resp.Meta = &wire.Meta{}
	}
	resp.Meta.DurationMs = durationSince(receivedAt)
	return resp
}

func durationSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

func isClosedError(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}
