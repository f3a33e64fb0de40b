// Package wire defines the request/response envelope carried over pkg/ipc
// (spec §4.8) and the closed set of recognized operations (spec §4.9).
package wire

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/cdt-cli/cdt/pkg/cdterrors"
	"github.com/cdt-cli/cdt/pkg/ctxkey"
)

// Request is the on-the-wire request envelope (spec §3).
type Request struct {
	ID      string                 `json:"id"`
	Op      string                 `json:"op"`
	Payload map[string]any         `json:"payload"`
	Context DaemonContextWire      `json:"context"`
}

// DaemonContextWire is the wire shape of DaemonContext, kept separate from
// pkg/ctxkey.DaemonContext so the wire format doesn't leak Go field
// naming or zero-value ambiguity into the resolver's own type.
type DaemonContextWire struct {
	PID              int    `json:"pid"`
	PPID             int    `json:"ppid,omitempty"`
	TTY              string `json:"tty,omitempty"`
	CWD              string `json:"cwd"`
	RuntimeContextID string `json:"runtimeContextId,omitempty"`
	ShareGroup       string `json:"shareGroup,omitempty"`
	ContextID        string `json:"contextId,omitempty"`
	TimeoutMs        int    `json:"timeoutMs,omitempty"`
}

// ToDaemonContext converts the wire shape to the resolver's input type.
func (w DaemonContextWire) ToDaemonContext() ctxkey.DaemonContext {
	return ctxkey.DaemonContext{
		CallerContext: ctxkey.CallerContext{
			PID:              w.PID,
			PPID:             w.PPID,
			TTY:              w.TTY,
			CWD:              w.CWD,
			RuntimeContextID: w.RuntimeContextID,
		},
		ShareGroup: w.ShareGroup,
		ContextID:  w.ContextID,
		TimeoutMs:  w.TimeoutMs,
	}
}

// Meta is optional response metadata (spec §3).
type Meta struct {
	DurationMs int64 `json:"durationMs"`
	Retryable  bool  `json:"retryable,omitempty"`
}

// ErrorBody is the optional error object in a Response (spec §3).
type ErrorBody struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

// Response is the on-the-wire response envelope (spec §3).
type Response struct {
	ID    string         `json:"id"`
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data,omitempty"`
	Error *ErrorBody     `json:"error,omitempty"`
	Meta  *Meta          `json:"meta,omitempty"`
}

// Ok builds a successful response.
func Ok(id string, data map[string]any, durationMs int64) Response {
	return Response{ID: id, OK: true, Data: data, Meta: &Meta{DurationMs: durationMs}}
}

// Fail builds a failure response from a cdterrors.Error.
func Fail(id string, err *cdterrors.Error, durationMs int64) Response {
	return Response{
		ID: id,
		OK: false,
		Error: &ErrorBody{
			Code:        string(err.Code),
			Message:     err.Message,
			Details:     err.Details,
			Suggestions: err.Suggestions,
		},
		Meta: &Meta{DurationMs: durationMs, Retryable: err.Retryable},
	}
}

// ParseRequest validates the schema of a raw request line (spec §4.8): id
// and op must be non-empty strings, payload defaults to {}. On failure it
// returns an IPC_PROTOCOL_ERROR. For malformed JSON, Details["id"] holds the
// best-effort-extracted id ("unknown" if none); for an empty op it holds the
// parsed id; an empty id yields no Details.
func ParseRequest(line []byte) (Request, *cdterrors.Error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, cdterrors.New(cdterrors.CodeIPCProtocolError, "malformed request: "+err.Error()).
			WithDetails(map[string]any{"id": bestEffortID(line)})
	}

	if strings.TrimSpace(req.ID) == "" {
		return req, cdterrors.New(cdterrors.CodeIPCProtocolError, "request id must be non-empty")
	}
	if strings.TrimSpace(req.Op) == "" {
		return req, cdterrors.New(cdterrors.CodeIPCProtocolError, "request op must be non-empty").
			WithDetails(map[string]any{"id": req.ID})
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}
	return req, nil
}

// bestEffortID tries to pull an "id" field out of an otherwise-unparsable
// line, falling back to "unknown" (spec §4.8).
func bestEffortID(line []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	// Scan top-level key/value tokens up to the first syntax error.
	dec := json.NewDecoder(bytes.NewReader(line))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return "unknown"
	}
	for {
		key, kerr := dec.Token()
		val, verr := dec.Token()
		if kerr != nil || verr != nil {
			break
		}
		if _, nested := val.(json.Delim); nested {
			break
		}
		if s, ok := val.(string); ok && key == "id" && s != "" {
			return s
		}
	}
	return "unknown"
}
