// Package cockpit is the interactive renderer: a Bubble Tea program that
// attaches the user's terminal to one session, paints its screen snapshot,
// and optionally shows the workflow model and a log tail beside it.
//
// The cockpit uses the same session API as the bridge. It never parses
// child output itself; it repaints from Session.Snapshot whenever the pump
// signals an update.
package cockpit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/cockpit/internal/keys"
	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/pubsub"
	"github.com/zjrosen/cockpit/internal/session"
	"github.com/zjrosen/cockpit/internal/terminal"
	"github.com/zjrosen/cockpit/internal/workflow"
)

// DefaultWriteTimeout bounds each forwarded keystroke.
const DefaultWriteTimeout = 5 * time.Second

// eventBatch caps how many queued workflow changes or log entries one
// update takes.
const eventBatch = 64

// Config configures a cockpit Model.
type Config struct {
	Session *session.Session
	// Workflow is shown in the sidebar when set.
	Workflow *workflow.Model
	Keys     keys.KeyMap
	// ExitOnDone quits as soon as the session exits instead of keeping the
	// final screen up until dismissed.
	ExitOnDone   bool
	WriteTimeout time.Duration
}

// Result reports how the cockpit ended.
type Result struct {
	ExitCode int
	Exited   bool
	Detached bool
}

type (
	screenMsg   struct{}
	exitedMsg   struct{}
	workflowMsg = pubsub.Batch[workflow.Change]
	logMsg      = pubsub.Batch[string]
)

// Model is the Bubble Tea model for one attached session.
type Model struct {
	ctx        context.Context
	sess       *session.Session
	wf         *workflow.Model
	wfChanges  <-chan pubsub.Event[workflow.Change]
	logs       *log.LogListener
	input      *forwarder
	keys       keys.KeyMap
	exitOnDone bool

	width  int
	height int

	info     session.Info
	screen   terminal.Snapshot
	wfState  workflow.State
	logLines []string

	showWorkflow bool
	showLog      bool
	detached     bool
}

// New creates a Model attached to cfg.Session. Background work stops when
// ctx is cancelled.
func New(ctx context.Context, cfg Config) Model {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if len(cfg.Keys.Detach.Keys()) == 0 {
		cfg.Keys = keys.DefaultKeyMap()
	}

	m := Model{
		ctx:          ctx,
		sess:         cfg.Session,
		wf:           cfg.Workflow,
		logs:         log.NewListener(ctx),
		input:        newForwarder(ctx, cfg.Session, cfg.WriteTimeout),
		keys:         cfg.Keys,
		exitOnDone:   cfg.ExitOnDone,
		showWorkflow: cfg.Workflow != nil,
	}
	if m.wf != nil {
		m.wfChanges = m.wf.Subscribe(ctx)
		m.wfState = m.wf.Snapshot()
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tea.SetWindowTitle(strings.Join(m.info.Argv, " ")),
		m.waitSession(),
	}
	if m.wfChanges != nil {
		cmds = append(cmds, m.listenWorkflow())
	}
	if m.logs != nil {
		cmds = append(cmds, m.logs.Batch(eventBatch))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeSession()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case screenMsg:
		m.refresh()
		return m, m.waitSession()

	case exitedMsg:
		m.refresh()
		code, _ := m.sess.ExitCode()
		log.Info(log.CatUI, "session exited", "id", m.sess.ID(), "exit_code", code)
		if m.exitOnDone {
			return m, tea.Quit
		}
		return m, nil

	case workflowMsg:
		// The snapshot already reflects every change in the burst.
		m.wfState = m.wf.Snapshot()
		return m, m.listenWorkflow()

	case logMsg:
		for _, entry := range msg.Payloads() {
			m.logLines = append(m.logLines, strings.TrimRight(entry, "\n"))
		}
		if len(m.logLines) > maxLogLines {
			m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
		}
		return m, m.logs.Batch(eventBatch)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.exited() {
		if key.Matches(msg, m.keys.Dismiss, m.keys.Detach) {
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Detach):
		m.detached = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.ToggleWorkflow):
		if m.wf != nil {
			m.showWorkflow = !m.showWorkflow
			m.resizeSession()
		}
		return m, nil
	case key.Matches(msg, m.keys.ToggleLog):
		m.showLog = !m.showLog
		m.resizeSession()
		return m, nil
	}

	if data := keyBytes(msg); data != nil {
		m.input.send(data)
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	rows, cols := m.termSize()
	body := renderScreen(m.screen, rows, cols, !m.exited())
	if m.sidebarVisible() {
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, renderWorkflow(m.wfState, m.width-cols, rows))
	}

	parts := []string{body}
	if m.showLog {
		parts = append(parts, renderLog(m.logLines, m.width, m.logHeight()))
	}
	var detail string
	if m.exited() {
		detail = m.keys.Dismiss.Help().Key + " to close"
	}
	parts = append(parts, renderStatus(m.info, detail, m.keys.ShortHelp(), m.width))
	return strings.Join(parts, "\n")
}

// Result reports the session outcome once the program has finished.
func (m Model) Result() Result {
	code, exited := m.sess.ExitCode()
	return Result{ExitCode: code, Exited: exited, Detached: m.detached}
}

func (m Model) exited() bool {
	return m.info.Status == session.StatusExited
}

// refresh re-reads session state and screen.
func (m *Model) refresh() {
	snap := m.sess.Snapshot()
	m.info = snap.Info
	m.screen = snap.Screen
}

func (m Model) listenWorkflow() tea.Cmd {
	return pubsub.BatchCmd(m.ctx, m.wfChanges, eventBatch)
}

// waitSession yields screenMsg on new output and exitedMsg once the
// session is gone.
func (m Model) waitSession() tea.Cmd {
	ctx, s := m.ctx, m.sess
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			return exitedMsg{}
		case <-s.Updates():
			return screenMsg{}
		}
	}
}

// resizeSession fits the child's window to the area left for the screen.
func (m *Model) resizeSession() {
	if m.width == 0 || m.height == 0 || m.exited() {
		return
	}
	rows, cols := m.termSize()
	err := m.sess.Resize(rows, cols)
	switch {
	case err == nil:
		m.refresh()
	case errors.Is(err, session.ErrNotRunning):
	default:
		log.ErrorErr(log.CatUI, "resize failed", err, "id", m.sess.ID(), "rows", rows, "cols", cols)
	}
}

// termSize is the screen area: the window minus the status bar, the log
// panel and the sidebar.
func (m Model) termSize() (rows, cols int) {
	rows = m.height - 1
	if m.showLog {
		rows -= m.logHeight()
	}
	cols = m.width
	if m.sidebarVisible() {
		cols -= sidebarWidth
	}
	return max(rows, 1), max(cols, 1)
}

func (m Model) logHeight() int {
	return max(min(maxLogHeight, m.height/3), 2)
}

func (m Model) sidebarVisible() bool {
	return m.showWorkflow && m.wf != nil && m.width >= sidebarWidth+minTermCols
}

// Run starts a full-screen program on cfg.Session and blocks until the user
// detaches or dismisses the exited session.
func Run(ctx context.Context, cfg Config, opts ...tea.ProgramOption) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := New(ctx, cfg)
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(m, opts...).Run()
	if fm, ok := final.(Model); ok {
		return fm.Result(), err
	}
	return m.Result(), err
}
