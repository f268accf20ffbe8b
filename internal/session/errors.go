package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/zjrosen/cockpit/internal/pty"
)

var (
	// ErrNotRunning is returned for operations on a session that has exited
	// or was removed. It is not fatal; callers holding stale ids get this
	// instead of a crash.
	ErrNotRunning = errors.New("session not running")

	// ErrNotFound is returned for ids the manager has never seen.
	ErrNotFound = errors.New("session not found")

	// ErrManagerClosed is returned by Spawn after Shutdown.
	ErrManagerClosed = errors.New("session manager closed")

	// ErrInvalidSize is returned for zero, negative or oversized dimensions.
	ErrInvalidSize = errors.New("invalid terminal size")
)

// SpawnErrorKind classifies why a spawn failed.
type SpawnErrorKind string

const (
	SpawnNotFound   SpawnErrorKind = "not_found"
	SpawnPermission SpawnErrorKind = "permission"
	SpawnPTYAlloc   SpawnErrorKind = "pty_alloc"
	SpawnStart      SpawnErrorKind = "start"
	SpawnInvalid    SpawnErrorKind = "invalid"
)

// SpawnError reports a failed spawn. No session is registered when one is
// returned.
type SpawnError struct {
	Kind    SpawnErrorKind
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %s: %v", e.Command, e.Kind, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// classifySpawn maps a start failure to a SpawnError.
func classifySpawn(command string, err error) *SpawnError {
	kind := SpawnStart
	switch {
	case errors.Is(err, pty.ErrAlloc), errors.Is(err, pty.ErrUnsupported):
		kind = SpawnPTYAlloc
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		kind = SpawnNotFound
	case errors.Is(err, os.ErrPermission):
		kind = SpawnPermission
	}
	return &SpawnError{Kind: kind, Command: command, Err: err}
}

// IOError reports a failed read, write or resize on the pseudo-terminal.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("pty %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
