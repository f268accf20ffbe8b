//go:build !windows

package pty

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

type unixAllocator struct{}

func defaultAllocator() Allocator {
	return unixAllocator{}
}

func (unixAllocator) Name() string { return "creack/pty" }

// Start opens the pair, sizes it, and starts cmd with the slave as stdin,
// stdout, stderr and controlling terminal. The slave is closed in the parent
// once the child has inherited it, so the master reports EOF/EIO as soon as
// every process holding the slave has exited.
func (unixAllocator) Start(cmd *exec.Cmd, size Size) (Device, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}

	if err := pty.Setsize(master, winsize(size)); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("%w: set size: %w", ErrAlloc, err)
	}

	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true
	cmd.SysProcAttr.Ctty = 0

	if err := cmd.Start(); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, err
	}
	name := slave.Name()
	_ = slave.Close()

	return &unixDevice{master: master, name: name}, nil
}

type unixDevice struct {
	master *os.File
	name   string
}

func (d *unixDevice) Read(p []byte) (int, error)  { return d.master.Read(p) }
func (d *unixDevice) Write(p []byte) (int, error) { return d.master.Write(p) }
func (d *unixDevice) Close() error                { return d.master.Close() }
func (d *unixDevice) Name() string                { return d.name }

func (d *unixDevice) Resize(size Size) error {
	return pty.Setsize(d.master, winsize(size))
}

func (d *unixDevice) Size() (Size, error) {
	ws, err := pty.GetsizeFull(d.master)
	if err != nil {
		return Size{}, err
	}
	return Size{Rows: int(ws.Rows), Cols: int(ws.Cols)}, nil
}

// Foreground asks the line discipline for the foreground process group.
// SyscallConn is used rather than Fd so the master stays in non-blocking
// mode and Close can still interrupt a pending Read.
func (d *unixDevice) Foreground() (ProcessGroup, error) {
	rc, err := d.master.SyscallConn()
	if err != nil {
		return ProcessGroup{}, err
	}
	var (
		pgid     int
		ioctlErr error
	)
	if err := rc.Control(func(fd uintptr) {
		pgid, ioctlErr = unix.IoctlGetInt(int(fd), unix.TIOCGPGRP)
	}); err != nil {
		return ProcessGroup{}, err
	}
	if ioctlErr != nil {
		return ProcessGroup{}, ioctlErr
	}
	if pgid <= 0 {
		return ProcessGroup{}, ErrNoGroup
	}
	return ProcessGroup{ID: pgid}, nil
}

func winsize(size Size) *pty.Winsize {
	return &pty.Winsize{Rows: uint16(size.Rows), Cols: uint16(size.Cols)} //nolint:gosec // G115: Size.Valid bounds both to 16 bits
}

func signalGroup(pgid int, sig syscall.Signal) error {
	return unix.Kill(-pgid, sig)
}
