//go:build windows

package session

import "os"

func exitCode(state *os.ProcessState, _ error) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
