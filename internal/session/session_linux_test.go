//go:build linux

package session

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/cockpit/internal/pty"
)

// startHupProofJob runs a sleep that ignores SIGHUP as the foreground job
// of an interactive bash. Job control puts it in a group of its own.
func startHupProofJob(t *testing.T, opts Options) (*Session, pty.ProcessGroup) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not installed")
	}
	s := spawnT(t, LaunchSpec{Command: "bash", Args: []string{"--norc", "--noprofile", "-i"}}, opts)
	require.NoError(t, s.Write(context.Background(), []byte(`sh -c 'trap "" HUP; exec sleep 987'`+"\r")))

	var job pty.ProcessGroup
	require.Eventually(t, func() bool {
		job = s.ForegroundGroup()
		if job.ID == s.Pid() {
			return false
		}
		comm, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(job.ID), "comm"))
		return err == nil && strings.TrimSpace(string(comm)) == "sleep"
	}, 5*time.Second, 10*time.Millisecond, "foreground job never started")
	return s, job
}

func requireGroupGone(t *testing.T, s *Session, job pty.ProcessGroup) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !slices.Contains(pty.SessionGroups(s.Pid()), job)
	}, 5*time.Second, 10*time.Millisecond, "group %d survived", job.ID)
}

func TestSession_TerminateKillsForegroundJob(t *testing.T) {
	s, job := startHupProofJob(t, Options{DrainTimeout: 5 * time.Second})

	start := time.Now()
	require.NoError(t, s.Deliver(context.Background(), IntentTerminate))
	require.Equal(t, 137, waitExit(t, s))
	require.Less(t, time.Since(start), 3*time.Second, "exit waited for the drain timeout")
	requireGroupGone(t, s, job)
}

func TestSession_CloseKillsJobIgnoringHangup(t *testing.T) {
	s, job := startHupProofJob(t, Options{CloseGrace: time.Second})

	_, err := s.Close(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusExited, s.Status())
	requireGroupGone(t, s, job)
}
