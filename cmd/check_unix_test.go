//go:build !windows

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/cockpit/internal/parity"
	"github.com/zjrosen/cockpit/internal/session"
)

func checkManager(t *testing.T) *session.Manager {
	t.Helper()
	m := session.NewManager(session.Options{CloseGrace: 500 * time.Millisecond})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestCheckScreen_UpdateThenMatch(t *testing.T) {
	mgr := checkManager(t)
	golden := filepath.Join(t.TempDir(), "hello.txt")
	spec := session.LaunchSpec{Command: "printf 'hello\\nworld\\n'"}

	var out bytes.Buffer
	code, err := checkScreen(context.Background(), mgr, checkOptions{
		Spec: spec, Golden: golden, Update: true, Timeout: 5 * time.Second, ExpectExit: -1,
	}, &out)
	require.NoError(t, err)
	require.Zero(t, code)
	require.Contains(t, out.String(), "updated")

	out.Reset()
	code, err = checkScreen(context.Background(), mgr, checkOptions{
		Spec: spec, Golden: golden, Timeout: 5 * time.Second, ExpectExit: 0,
	}, &out)
	require.NoError(t, err)
	require.Zero(t, code)
	require.Contains(t, out.String(), "ok ")
}

func TestCheckScreen_MismatchPrintsDiff(t *testing.T) {
	mgr := checkManager(t)
	golden := filepath.Join(t.TempDir(), "g.txt")
	_, err := parity.CompareFile(golden, "hello\nworld\n", true)
	require.NoError(t, err)

	var out bytes.Buffer
	code, err := checkScreen(context.Background(), mgr, checkOptions{
		Spec:       session.LaunchSpec{Command: "printf 'hello\\nthere\\n'"},
		Golden:     golden,
		Timeout:    5 * time.Second,
		ExpectExit: -1,
	}, &out)
	require.NoError(t, err)
	require.Equal(t, 1, code)
	require.Contains(t, out.String(), "-world\n+there\n")
}

func TestCheckScreen_InputReachesChild(t *testing.T) {
	mgr := checkManager(t)
	golden := filepath.Join(t.TempDir(), "g.txt")
	_, err := parity.CompareFile(golden, "bob\nhi bob\n", true)
	require.NoError(t, err)

	var out bytes.Buffer
	code, err := checkScreen(context.Background(), mgr, checkOptions{
		Spec:       session.LaunchSpec{Command: "read n; echo \"hi $n\""},
		Golden:     golden,
		Input:      []byte("bob\r"),
		Timeout:    5 * time.Second,
		ExpectExit: 0,
	}, &out)
	require.NoError(t, err)
	require.Zero(t, code, out.String())
}

func TestCheckScreen_UnexpectedExitCode(t *testing.T) {
	mgr := checkManager(t)
	golden := filepath.Join(t.TempDir(), "g.txt")

	var out bytes.Buffer
	code, err := checkScreen(context.Background(), mgr, checkOptions{
		Spec:       session.LaunchSpec{Command: "exit 4"},
		Golden:     golden,
		Update:     true,
		Timeout:    5 * time.Second,
		ExpectExit: 0,
	}, &out)
	require.NoError(t, err)
	require.Equal(t, 1, code)
	require.Contains(t, out.String(), "exit code 4, expected 0")
}

func TestCheckScreen_Timeout(t *testing.T) {
	mgr := checkManager(t)

	_, err := checkScreen(context.Background(), mgr, checkOptions{
		Spec:       session.LaunchSpec{Command: "sleep 10"},
		Golden:     filepath.Join(t.TempDir(), "g.txt"),
		Timeout:    200 * time.Millisecond,
		ExpectExit: -1,
	}, &bytes.Buffer{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckScreen_MissingGolden(t *testing.T) {
	mgr := checkManager(t)

	_, err := checkScreen(context.Background(), mgr, checkOptions{
		Spec:       session.LaunchSpec{Command: "true"},
		Golden:     filepath.Join(t.TempDir(), "absent.txt"),
		Timeout:    5 * time.Second,
		ExpectExit: -1,
	}, &bytes.Buffer{})
	require.ErrorIs(t, err, parity.ErrNoGolden)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchCheck_RerunsOnChange(t *testing.T) {
	mgr := checkManager(t)
	dir := t.TempDir()
	golden := filepath.Join(dir, "g.txt")
	script := filepath.Join(dir, "screen.txt")
	require.NoError(t, os.WriteFile(script, []byte("first\n"), 0o600))
	_, err := parity.CompareFile(golden, "first\n", true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- watchCheck(ctx, mgr, checkOptions{
			Spec:       session.LaunchSpec{Command: "cat " + script},
			Golden:     golden,
			Timeout:    5 * time.Second,
			ExpectExit: -1,
		}, []string{script}, out)
	}()

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "watching for changes") == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.Contains(t, out.String(), "ok ")

	require.NoError(t, os.WriteFile(script, []byte("second\n"), 0o600))
	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "watching for changes") == 2
	}, 5*time.Second, 20*time.Millisecond)
	require.Contains(t, out.String(), "+second\n")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watchCheck did not return after cancel")
	}
}
