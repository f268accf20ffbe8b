//go:build !windows

package session

import (
	"os"
	"syscall"
)

// exitCode encodes how the child ended the way a POSIX shell reports it:
// the exit status, or 128+n for death by signal n.
func exitCode(state *os.ProcessState, _ error) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ws.ExitStatus()
	}
	return state.ExitCode()
}
