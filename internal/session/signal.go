package session

import (
	"context"
	"fmt"
	"syscall"

	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/pty"
)

// Intent is a high-level control request for a session's child.
type Intent string

const (
	// IntentInterrupt is Ctrl-C: SIGINT to the terminal's foreground group.
	IntentInterrupt Intent = "interrupt"
	// IntentEOF makes a reading child see end of input without killing it.
	IntentEOF Intent = "eof"
	// IntentTerminate kills every process group in the child's session,
	// foreground jobs included.
	IntentTerminate Intent = "terminate"
)

// veof is the default VEOF character (Ctrl-D). At the start of a line in
// canonical mode it makes the child's read return 0 bytes.
const veof = 0x04

// ParseIntent accepts the wire names of intents, plus "end-of-input" and
// "kill" as aliases.
func ParseIntent(s string) (Intent, error) {
	switch s {
	case string(IntentInterrupt):
		return IntentInterrupt, nil
	case string(IntentEOF), "end-of-input":
		return IntentEOF, nil
	case string(IntentTerminate), "kill":
		return IntentTerminate, nil
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

// Deliver carries out intent. Sessions that have exited yield ErrNotRunning.
// A child killed by an interrupt reports 128+SIGINT through the normal exit
// path.
func (s *Session) Deliver(ctx context.Context, intent Intent) error {
	if s.Status() != StatusRunning {
		return ErrNotRunning
	}
	log.Debug(log.CatSignal, "deliver", "id", s.id, "intent", intent)

	switch intent {
	case IntentInterrupt:
		return s.interrupt()
	case IntentEOF:
		return s.Write(ctx, []byte{veof})
	case IntentTerminate:
		s.kill()
		return nil
	default:
		return fmt.Errorf("unknown intent %q", intent)
	}
}

// ForegroundGroup returns the process group currently in the foreground of
// the session's terminal, falling back to the child's own group.
func (s *Session) ForegroundGroup() pty.ProcessGroup {
	group, err := s.dev.Foreground()
	if err != nil || group.ID <= 0 {
		// The child is a session leader, so its group id is its pid.
		return pty.ProcessGroup{ID: s.Pid()}
	}
	return group
}

func (s *Session) interrupt() error {
	group := s.ForegroundGroup()
	if err := group.Signal(syscall.SIGINT); err != nil {
		if s.Status() != StatusRunning {
			return ErrNotRunning
		}
		return fmt.Errorf("interrupt group %d: %w", group.ID, err)
	}
	return nil
}
