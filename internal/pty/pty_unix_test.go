//go:build !windows

package pty

import (
	"bytes"
	"errors"
	"io"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// readAll drains d until the child closes the slave side.
func readAll(t *testing.T, d Device) string {
	t.Helper()
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(&buf, d)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.Fail(t, "timed out reading pty output")
	}
	return buf.String()
}

func TestStart_ChildSeesTerminalSize(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "stty size; test -t 0 && test -t 1 && echo tty")
	dev, err := Default().Start(cmd, Size{Rows: 24, Cols: 80})
	require.NoError(t, err)
	defer dev.Close()

	out := readAll(t, dev)
	require.NoError(t, cmd.Wait())
	require.Contains(t, out, "24 80")
	require.Contains(t, out, "tty")
}

func TestDevice_ResizeAndSize(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "read line")
	dev, err := Default().Start(cmd, Size{Rows: 10, Cols: 40})
	require.NoError(t, err)
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = dev.Close()
	}()

	size, err := dev.Size()
	require.NoError(t, err)
	require.Equal(t, Size{Rows: 10, Cols: 40}, size)

	require.NoError(t, dev.Resize(Size{Rows: 30, Cols: 100}))
	size, err = dev.Size()
	require.NoError(t, err)
	require.Equal(t, Size{Rows: 30, Cols: 100}, size)
}

func TestDevice_ForegroundIsChildGroup(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exec sleep 5")
	dev, err := Default().Start(cmd, Size{Rows: 24, Cols: 80})
	require.NoError(t, err)
	defer dev.Close()

	group, err := dev.Foreground()
	require.NoError(t, err)
	require.Equal(t, cmd.Process.Pid, group.ID, "child is a session leader so its group id is its pid")

	require.NoError(t, group.Signal(syscall.SIGKILL))
	err = cmd.Wait()
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
}

func TestStart_MissingExecutable(t *testing.T) {
	cmd := exec.Command("/definitely/not/here")
	_, err := Default().Start(cmd, Size{Rows: 24, Cols: 80})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrAlloc), "start failures are not allocation failures")
}

func TestProcessGroup_InvalidID(t *testing.T) {
	require.ErrorIs(t, ProcessGroup{}.Signal(syscall.SIGINT), ErrNoGroup)
}

func TestSize_Valid(t *testing.T) {
	require.True(t, Size{Rows: 1, Cols: 1}.Valid())
	require.False(t, Size{Rows: 0, Cols: 80}.Valid())
	require.False(t, Size{Rows: 24, Cols: 70000}.Valid())
	require.Equal(t, "24x80", Size{Rows: 24, Cols: 80}.String())
}
