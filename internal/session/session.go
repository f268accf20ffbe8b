// Package session owns pseudo-terminal backed subprocesses: spawning,
// pumping output into a virtual screen, queued input, resize, signal
// intents, exit codes, and a manager that registers sessions by id.
//
// Every session has exactly three goroutines. The pump is the only writer
// of the screen. The input writer serializes writes to the master. The
// waiter reaps the child and runs the single teardown that releases the
// pseudo-terminal, whichever path (exit, Close, terminate, Shutdown) caused
// the child to go away.
package session

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/pty"
	"github.com/zjrosen/cockpit/internal/terminal"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
)

const readBufferSize = 32 * 1024

// Info is a point-in-time description of a session.
type Info struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	Argv      []string   `json:"argv"`
	Dir       string     `json:"dir,omitempty"`
	Pid       int        `json:"pid"`
	Rows      int        `json:"rows"`
	Cols      int        `json:"cols"`
	Status    Status     `json:"status"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
}

// Snapshot pairs session state with its screen. Once Info.Status is
// exited, Screen holds every byte the child wrote.
type Snapshot struct {
	Info
	Screen terminal.Snapshot `json:"screen"`
}

type writeRequest struct {
	data []byte
	done chan error
}

// Session is one subprocess attached to a pseudo-terminal.
type Session struct {
	id        string
	spec      LaunchSpec
	argv      []string
	createdAt time.Time
	opts      Options

	cmd *exec.Cmd
	dev pty.Device

	screenMu sync.Mutex
	proc     *terminal.Processor

	mu       sync.Mutex
	status   Status
	size     pty.Size
	exitCode int
	exitedAt time.Time

	inputs   chan writeRequest
	updates  chan struct{}
	stop     chan struct{}
	pumpDone chan struct{}
	reaped   chan struct{}
	exited   chan struct{}
	once     sync.Once
	hooks    hooks
}

// Spawn starts spec attached to a new pseudo-terminal. The returned session
// is running; failures are *SpawnError values.
func Spawn(id string, spec LaunchSpec, opts Options) (*Session, error) {
	return spawn(id, spec, opts, hooks{})
}

// hooks run on lifecycle transitions. started runs before any session
// goroutine, so it always precedes exited.
type hooks struct {
	started func(*Session)
	exited  func(*Session)
}

func spawn(id string, spec LaunchSpec, opts Options, h hooks) (*Session, error) {
	opts = opts.withDefaults()
	spec = spec.withDefaults(opts)
	if err := spec.validate(); err != nil {
		return nil, &SpawnError{Kind: SpawnInvalid, Command: spec.Command, Err: err}
	}

	argv := spec.argv(opts.Shell)
	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // G204: running user commands is the point
	cmd.Dir = spec.Dir
	cmd.Env = spec.environ(os.Environ())

	s := &Session{
		id:        id,
		spec:      spec,
		argv:      argv,
		createdAt: time.Now(),
		opts:      opts,
		cmd:       cmd,
		proc:      terminal.NewProcessor(spec.Rows, spec.Cols, spec.Scrollback),
		status:    StatusStarting,
		size:      pty.Size{Rows: spec.Rows, Cols: spec.Cols},
		inputs:    make(chan writeRequest),
		updates:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
		pumpDone:  make(chan struct{}),
		reaped:    make(chan struct{}),
		exited:    make(chan struct{}),
		hooks:     h,
	}

	dev, err := opts.Allocator.Start(cmd, s.size)
	if err != nil {
		serr := classifySpawn(spec.Command, err)
		log.ErrorErr(log.CatSession, "spawn failed", err, "command", spec.Command, "kind", serr.Kind)
		return nil, serr
	}
	s.dev = dev

	s.mu.Lock()
	s.status = StatusRunning
	s.mu.Unlock()

	log.Info(log.CatSession, "spawned",
		"id", id,
		"pid", cmd.Process.Pid,
		"argv", argv,
		"size", s.size,
		"tty", dev.Name())

	if h.started != nil {
		h.started(s)
	}
	go s.pump()
	go s.writeLoop()
	go s.wait()

	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Argv returns the exact argument vector that was executed.
func (s *Session) Argv() []string {
	return append([]string(nil), s.argv...)
}

// Spec returns the launch spec with defaults applied.
func (s *Session) Spec() LaunchSpec { return s.spec }

// Pid returns the child's process id.
func (s *Session) Pid() int { return s.cmd.Process.Pid }

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ExitCode returns the exit code and whether the session has exited.
func (s *Session) ExitCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, s.status == StatusExited
}

// Done is closed once the session has exited and its pseudo-terminal has
// been released.
func (s *Session) Done() <-chan struct{} { return s.exited }

// Updates receives a value (coalesced) whenever new output reached the screen.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// Info describes the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:        s.id,
		Command:   s.spec.Command,
		Argv:      s.Argv(),
		Dir:       s.spec.Dir,
		Pid:       s.cmd.Process.Pid,
		Rows:      s.size.Rows,
		Cols:      s.size.Cols,
		Status:    s.status,
		CreatedAt: s.createdAt,
	}
	if s.status == StatusExited {
		code, at := s.exitCode, s.exitedAt
		info.ExitCode = &code
		info.ExitedAt = &at
	}
	return info
}

// Snapshot returns the session state and the screen as fed so far. It
// never waits for I/O.
func (s *Session) Snapshot() Snapshot {
	// Status first: an exited status guarantees the screen read below
	// already holds the drained output.
	info := s.Info()

	s.screenMu.Lock()
	screen := s.proc.Snapshot()
	s.screenMu.Unlock()

	return Snapshot{Info: info, Screen: screen}
}

// Screen runs fn with the screen locked. fn must not retain the screen.
func (s *Session) Screen(fn func(*terminal.Screen)) {
	s.screenMu.Lock()
	defer s.screenMu.Unlock()
	fn(s.proc.Screen())
}

// Write queues data for the child's input and waits until it has been
// written to the pseudo-terminal or ctx ends.
func (s *Session) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Status() != StatusRunning {
		return ErrNotRunning
	}
	req := writeRequest{data: append([]byte(nil), data...), done: make(chan error, 1)}

	select {
	case s.inputs <- req:
	case <-s.stop:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resize changes the window size. Resizing to the current size does nothing.
func (s *Session) Resize(rows, cols int) error {
	size := pty.Size{Rows: rows, Cols: cols}
	if !size.Valid() {
		return ErrInvalidSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return ErrNotRunning
	}
	if size == s.size {
		return nil
	}

	// The child redraws on SIGWINCH; none of that output may be fed at
	// the old width.
	s.screenMu.Lock()
	if err := s.dev.Resize(size); err != nil {
		s.screenMu.Unlock()
		return &IOError{Op: "resize", Err: err}
	}
	s.proc.Resize(rows, cols)
	s.screenMu.Unlock()
	s.size = size

	log.Debug(log.CatSession, "resized", "id", s.id, "size", size)
	return nil
}

// Wait blocks until the session exits or ctx ends.
func (s *Session) Wait(ctx context.Context) (int, error) {
	select {
	case <-s.exited:
		code, _ := s.ExitCode()
		return code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close ends the session and returns its exit code. Every process group in
// the child's session gets SIGHUP, and SIGKILL if the child is still alive
// after the grace period. Once the child is gone, whatever is left of its
// session is killed so nothing keeps the terminal open. Closing an exited
// session returns the cached code.
func (s *Session) Close(ctx context.Context) (int, error) {
	if code, ok := s.ExitCode(); ok {
		return code, nil
	}

	groups := s.groups()
	s.signalGroups(groups, syscall.SIGHUP)

	grace := time.NewTimer(s.opts.CloseGrace)
	defer grace.Stop()
	select {
	case <-s.reaped:
		s.signalGroups(s.leftovers(groups), syscall.SIGKILL)
	case <-grace.C:
		log.Warn(log.CatSignal, "child ignored hangup, killing", "id", s.id, "grace", s.opts.CloseGrace)
		s.kill()
	case <-ctx.Done():
		s.kill()
	}
	return s.Wait(ctx)
}

// kill sends SIGKILL to every group of the child's session and then the
// child itself. Groups are read before the child dies: the terminal loses
// its foreground group with its session leader.
func (s *Session) kill() {
	s.signalGroups(s.groups(), syscall.SIGKILL)
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Debug(log.CatSignal, "process kill failed", "id", s.id, "error", err)
	}
}

// groups lists the foreground group, every other group found in the
// child's session, and last the child's own group.
func (s *Session) groups() []pty.ProcessGroup {
	return mergeGroups(
		[]pty.ProcessGroup{s.ForegroundGroup()},
		pty.SessionGroups(s.Pid()),
		[]pty.ProcessGroup{{ID: s.Pid()}},
	)
}

// leftovers adds groups that joined the session after known was taken.
func (s *Session) leftovers(known []pty.ProcessGroup) []pty.ProcessGroup {
	return mergeGroups(known, pty.SessionGroups(s.Pid()))
}

func (s *Session) signalGroups(groups []pty.ProcessGroup, sig syscall.Signal) {
	for _, g := range groups {
		if err := g.Signal(sig); err != nil && !errors.Is(err, syscall.ESRCH) {
			log.Debug(log.CatSignal, "group signal failed", "id", s.id, "group", g.ID, "signal", sig, "error", err)
		}
	}
}

// mergeGroups concatenates lists, dropping duplicates and invalid ids.
func mergeGroups(lists ...[]pty.ProcessGroup) []pty.ProcessGroup {
	seen := make(map[int]bool)
	var out []pty.ProcessGroup
	for _, list := range lists {
		for _, g := range list {
			if g.ID <= 0 || seen[g.ID] {
				continue
			}
			seen[g.ID] = true
			out = append(out, g)
		}
	}
	return out
}

func (s *Session) pump() {
	defer close(s.pumpDone)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.dev.Read(buf)
		if n > 0 {
			s.screenMu.Lock()
			s.proc.Feed(buf[:n])
			s.screenMu.Unlock()

			select {
			case s.updates <- struct{}{}:
			default:
			}
		}
		if err != nil {
			if !isHangup(err) {
				log.Debug(log.CatSession, "pump stopped", "id", s.id, "error", err)
			}
			return
		}
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case req := <-s.inputs:
			_, err := s.dev.Write(req.data)
			if err != nil {
				err = &IOError{Op: "write", Err: err}
			}
			req.done <- err
		case <-s.stop:
			return
		}
	}
}

// wait reaps the child, lets the pump drain what is left in the master,
// then tears down.
func (s *Session) wait() {
	err := s.cmd.Wait()
	code := exitCode(s.cmd.ProcessState, err)
	close(s.reaped)

	drain := time.NewTimer(s.opts.DrainTimeout)
	select {
	case <-s.pumpDone:
		drain.Stop()
	case <-drain.C:
		// Something else still holds the slave open; stop waiting for it.
		log.Debug(log.CatSession, "drain timeout", "id", s.id)
	}
	s.teardown(code)
}

// teardown releases the pseudo-terminal exactly once and publishes the exit.
func (s *Session) teardown(code int) {
	s.once.Do(func() {
		close(s.stop)
		if err := s.dev.Close(); err != nil {
			log.Debug(log.CatSession, "close master", "id", s.id, "error", err)
		}
		select {
		case <-s.pumpDone:
		case <-time.After(s.opts.DrainTimeout):
			log.Warn(log.CatSession, "pump did not stop after close", "id", s.id)
		}

		s.mu.Lock()
		s.status = StatusExited
		s.exitCode = code
		s.exitedAt = time.Now()
		s.mu.Unlock()

		log.Info(log.CatSession, "exited", "id", s.id, "code", code)
		if s.hooks.exited != nil {
			s.hooks.exited(s)
		}
		close(s.exited)
	})
}

// isHangup reports whether err is the normal end of a pseudo-terminal
// stream: EIO on Linux once the slave closes, EOF elsewhere, or our own
// Close of the master.
func isHangup(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}
