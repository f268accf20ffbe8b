package bridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/zjrosen/cockpit/internal/session"
	"github.com/zjrosen/cockpit/internal/terminal"
)

// Op names a bridge operation.
type Op string

const (
	OpOpen     Op = "open"
	OpInput    Op = "input"
	OpResize   Op = "resize"
	OpSignal   Op = "signal"
	OpSnapshot Op = "snapshot"
	OpClose    Op = "close"
	OpWait     Op = "wait"
	OpList     Op = "list"
	OpRemove   Op = "remove"
)

// mutating ops are serialized per session.
func (o Op) mutating() bool {
	switch o {
	case OpInput, OpResize, OpSignal, OpClose, OpRemove:
		return true
	}
	return false
}

// Request is one line sent by a harness.
type Request struct {
	ID        string              `json:"id"`
	Op        Op                  `json:"op"`
	SessionID string              `json:"session_id,omitempty"`
	Launch    *session.LaunchSpec `json:"launch,omitempty"`
	Data      string              `json:"data,omitempty"`
	DataB64   string              `json:"data_b64,omitempty"`
	Rows      int                 `json:"rows,omitempty"`
	Cols      int                 `json:"cols,omitempty"`
	Intent    string              `json:"intent,omitempty"`
	TimeoutMS int                 `json:"timeout_ms,omitempty"`
}

// SetInput stores data in Data when it is valid UTF-8 and in DataB64
// otherwise.
func (r *Request) SetInput(data []byte) {
	if utf8.Valid(data) {
		r.Data, r.DataB64 = string(data), ""
		return
	}
	r.Data, r.DataB64 = "", base64.StdEncoding.EncodeToString(data)
}

// Input returns the bytes to write. data_b64 wins when both are set.
func (r Request) Input() ([]byte, error) {
	if r.DataB64 != "" {
		b, err := base64.StdEncoding.DecodeString(r.DataB64)
		if err != nil {
			return nil, protocolErrorf("data_b64: %v", err)
		}
		return b, nil
	}
	return []byte(r.Data), nil
}

// Response answers exactly one Request, echoing its id.
type Response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Decode unmarshals the result payload into v.
func (r Response) Decode(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 || v == nil {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// Code is a machine-readable failure class.
type Code string

const (
	CodeSpawnError    Code = "spawn_error"
	CodeIOError       Code = "io_error"
	CodeNotRunning    Code = "not_running"
	CodeNotFound      Code = "not_found"
	CodeProtocolError Code = "protocol_error"
	CodeTimeout       Code = "timeout"
	CodeInternal      Code = "internal"
)

// Error is the error member of a failed Response. It is also returned by
// Client calls.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: CodeNotRunning})
// works on client results.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ProtocolError is a request that could not be understood. The request is
// answered and dropped; the connection stays open.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

func protocolErrorf(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// OpenResult is returned by open.
type OpenResult struct {
	SessionID string   `json:"session_id"`
	Pid       int      `json:"pid"`
	Argv      []string `json:"argv"`
}

// SnapshotResult is returned by snapshot. Grid holds every screen row with
// trailing spaces trimmed.
type SnapshotResult struct {
	Grid          []string        `json:"grid"`
	Cursor        terminal.Cursor `json:"cursor"`
	Rows          int             `json:"rows"`
	Cols          int             `json:"cols"`
	Status        session.Status  `json:"status"`
	ExitCode      *int            `json:"exit_code,omitempty"`
	Offset        int64           `json:"offset"`
	ScrollbackLen int             `json:"scrollback_len"`
}

// Text joins the grid with trailing blank rows dropped.
func (r SnapshotResult) Text() string {
	return terminal.Snapshot{Lines: r.Grid}.Text()
}

// ExitResult is returned by close, wait and remove.
type ExitResult struct {
	ExitCode int `json:"exit_code"`
}

// ListResult is returned by list.
type ListResult struct {
	Sessions []session.Info `json:"sessions"`
}
