//go:build windows

package pty

import (
	"os"
	"os/exec"
	"syscall"
)

// windowsAllocator is a placeholder until a ConPTY backend exists; every
// spawn fails with ErrUnsupported so callers get a SpawnError instead of a
// half-working session.
type windowsAllocator struct{}

func defaultAllocator() Allocator {
	return windowsAllocator{}
}

func (windowsAllocator) Name() string { return "unsupported" }

func (windowsAllocator) Start(_ *exec.Cmd, _ Size) (Device, error) {
	return nil, ErrUnsupported
}

func signalGroup(pgid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pgid)
	if err != nil {
		return err
	}
	if sig == syscall.SIGKILL {
		return p.Kill()
	}
	return ErrUnsupported
}
