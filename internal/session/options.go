package session

import (
	"time"

	"github.com/zjrosen/cockpit/internal/pty"
	"github.com/zjrosen/cockpit/internal/terminal"
)

const (
	DefaultShell        = "/bin/sh"
	DefaultRows         = 24
	DefaultCols         = 80
	DefaultCloseGrace   = 2 * time.Second
	DefaultDrainTimeout = 500 * time.Millisecond
	DefaultTombstoneTTL = 10 * time.Minute
)

// Options configures spawned sessions. Zero fields take the defaults above.
type Options struct {
	Shell        string
	Rows         int
	Cols         int
	Scrollback   int
	CloseGrace   time.Duration
	DrainTimeout time.Duration
	TombstoneTTL time.Duration
	Allocator    pty.Allocator
}

func (o Options) withDefaults() Options {
	if o.Shell == "" {
		o.Shell = DefaultShell
	}
	if o.Rows <= 0 {
		o.Rows = DefaultRows
	}
	if o.Cols <= 0 {
		o.Cols = DefaultCols
	}
	if o.Scrollback <= 0 {
		o.Scrollback = terminal.DefaultScrollback
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = DefaultCloseGrace
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.TombstoneTTL <= 0 {
		o.TombstoneTTL = DefaultTombstoneTTL
	}
	if o.Allocator == nil {
		o.Allocator = pty.Default()
	}
	return o
}
