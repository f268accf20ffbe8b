// Package pty hides platform pseudo-terminal allocation behind one
// capability interface. The variant for the running platform is chosen once
// via Default; nothing outside this package branches on the OS.
package pty

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
)

var (
	// ErrUnsupported is returned by allocators on platforms without a
	// pseudo-terminal implementation.
	ErrUnsupported = errors.New("pseudo-terminal not supported on this platform")

	// ErrAlloc marks failures to allocate the master/slave pair itself, as
	// opposed to failures starting the child.
	ErrAlloc = errors.New("pseudo-terminal allocation failed")

	// ErrNoGroup is returned when a process group cannot be resolved.
	ErrNoGroup = errors.New("no process group")
)

// Size is a terminal window size in character cells.
type Size struct {
	Rows int
	Cols int
}

// Valid reports whether both dimensions are positive and fit the kernel's
// 16-bit window size fields.
func (s Size) Valid() bool {
	return s.Rows > 0 && s.Cols > 0 && s.Rows <= 0xFFFF && s.Cols <= 0xFFFF
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Rows, s.Cols)
}

// ProcessGroup identifies a set of processes addressed together by signals,
// typically the group in the foreground of a pseudo-terminal.
type ProcessGroup struct {
	ID int
}

// Signal delivers sig to every process in the group.
func (g ProcessGroup) Signal(sig syscall.Signal) error {
	if g.ID <= 0 {
		return ErrNoGroup
	}
	return signalGroup(g.ID, sig)
}

// Device is the engine-side (master) end of a pseudo-terminal. The child's
// stdout and stderr both write to the slave side, so reads from a Device
// carry their bytes merged in the order the kernel delivered them.
type Device interface {
	io.ReadWriteCloser

	// Resize sets the window size; the kernel notifies the foreground
	// group with SIGWINCH.
	Resize(size Size) error

	// Size returns the window size as the kernel currently reports it.
	Size() (Size, error)

	// Foreground returns the process group in the foreground of the terminal.
	Foreground() (ProcessGroup, error)

	// Name returns the slave device path, if known.
	Name() string
}

// Allocator starts commands attached to a fresh pseudo-terminal.
type Allocator interface {
	// Start allocates a pseudo-terminal of the given size, attaches cmd's
	// standard streams to the slave side and starts cmd as the leader of a
	// new session with the slave as its controlling terminal.
	Start(cmd *exec.Cmd, size Size) (Device, error)

	// Name identifies the implementation, e.g. "creack/pty".
	Name() string
}

// Default returns the allocator for the running platform.
func Default() Allocator {
	return defaultAllocator()
}
