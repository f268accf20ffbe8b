package cockpit

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/session"
)

// keySequences maps special keys to the bytes an xterm sends for them.
var keySequences = map[tea.KeyType]string{
	tea.KeyUp:       "\x1b[A",
	tea.KeyDown:     "\x1b[B",
	tea.KeyRight:    "\x1b[C",
	tea.KeyLeft:     "\x1b[D",
	tea.KeyShiftTab: "\x1b[Z",
	tea.KeyHome:     "\x1b[H",
	tea.KeyEnd:      "\x1b[F",
	tea.KeyPgUp:     "\x1b[5~",
	tea.KeyPgDown:   "\x1b[6~",
	tea.KeyInsert:   "\x1b[2~",
	tea.KeyDelete:   "\x1b[3~",
	tea.KeyF1:       "\x1bOP",
	tea.KeyF2:       "\x1bOQ",
	tea.KeyF3:       "\x1bOR",
	tea.KeyF4:       "\x1bOS",
	tea.KeyF5:       "\x1b[15~",
	tea.KeyF6:       "\x1b[17~",
	tea.KeyF7:       "\x1b[18~",
	tea.KeyF8:       "\x1b[19~",
	tea.KeyF9:       "\x1b[20~",
	tea.KeyF10:      "\x1b[21~",
	tea.KeyF11:      "\x1b[23~",
	tea.KeyF12:      "\x1b[24~",
}

// keyBytes encodes a key press as terminal input. Control keys become
// their C0 byte, so ctrl+c reaches the child's line discipline as 0x03.
// Returns nil for keys with no encoding.
func keyBytes(msg tea.KeyMsg) []byte {
	var out []byte
	switch {
	case msg.Type == tea.KeyRunes:
		out = []byte(string(msg.Runes))
	case msg.Type == tea.KeySpace:
		out = []byte{' '}
	case msg.Type == tea.KeyBackspace:
		out = []byte{0x7f}
	case msg.Type >= 0 && msg.Type < 0x20:
		out = []byte{byte(msg.Type)}
	default:
		seq, ok := keySequences[msg.Type]
		if !ok {
			return nil
		}
		out = []byte(seq)
	}
	if msg.Alt {
		out = append([]byte{0x1b}, out...)
	}
	return out
}

// forwarder writes key input to the session from one goroutine so
// keystrokes arrive in the order they were pressed.
type forwarder struct {
	queue chan []byte
}

const forwardQueueSize = 256

func newForwarder(ctx context.Context, s *session.Session, timeout time.Duration) *forwarder {
	f := &forwarder{queue: make(chan []byte, forwardQueueSize)}
	go f.run(ctx, s, timeout)
	return f
}

func (f *forwarder) run(ctx context.Context, s *session.Session, timeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case data := <-f.queue:
			wctx, cancel := context.WithTimeout(ctx, timeout)
			err := s.Write(wctx, data)
			cancel()
			if err != nil && !errors.Is(err, session.ErrNotRunning) && !errors.Is(err, context.Canceled) {
				log.ErrorErr(log.CatUI, "forward input failed", err, "id", s.ID(), "bytes", len(data))
			}
		}
	}
}

// send queues data, dropping it when the queue is full so a wedged child
// cannot freeze the UI.
func (f *forwarder) send(data []byte) bool {
	select {
	case f.queue <- data:
		return true
	default:
		log.Warn(log.CatUI, "input queue full, key dropped", "bytes", len(data))
		return false
	}
}
