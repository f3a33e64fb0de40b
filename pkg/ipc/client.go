package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"github.com/cdt-cli/cdt/pkg/cdterrors"
	"github.com/cdt-cli/cdt/pkg/wire"
)

// SendRequest opens a fresh connection to the socket at path, writes req,
// reads until the first newline, and parses the response (spec §4.8: "a
// fresh connection per request — simpler and sufficient, daemon is
// local"). Connection failures become DAEMON_UNAVAILABLE; a connection
// closed before a newline, or a malformed response line, becomes
// IPC_PROTOCOL_ERROR.
func SendRequest(path string, req wire.Request, timeout time.Duration) (wire.Response, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout(timeout))
	if err != nil {
		return wire.Response{}, cdterrors.Wrap(cdterrors.CodeDaemonUnavailable, "connect to daemon socket", err)
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	data, err := json.Marshal(req)
	if err != nil {
		return wire.Response{}, cdterrors.Wrap(cdterrors.CodeInternalError, "encode request", err)
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return wire.Response{}, cdterrors.Wrap(cdterrors.CodeDaemonUnavailable, "write request", err)
	}

	reader := bufio.NewReaderSize(conn, initialScannerBuffer)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		if len(line) == 0 {
			return wire.Response{}, cdterrors.Wrap(cdterrors.CodeIPCProtocolError, "connection closed before a response line", err)
		}
		return wire.Response{}, cdterrors.Wrap(cdterrors.CodeIPCProtocolError, "incomplete response line", err)
	}

	var resp wire.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return wire.Response{}, cdterrors.Wrap(cdterrors.CodeIPCProtocolError, "malformed response line", err)
	}
	return resp, nil
}

func dialTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return 2 * time.Second
	}
	return requested
}
