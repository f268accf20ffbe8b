package cockpit

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/cockpit/internal/keys"
	"github.com/zjrosen/cockpit/internal/session"
	"github.com/zjrosen/cockpit/internal/terminal"
	"github.com/zjrosen/cockpit/internal/workflow"
)

func TestKeyBytes(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		want []byte
	}{
		{"rune", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")}, []byte("a")},
		{"multibyte rune", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("é")}, []byte("é")},
		{"paste", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ls -la"), Paste: true}, []byte("ls -la")},
		{"space", tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}, []byte(" ")},
		{"enter", tea.KeyMsg{Type: tea.KeyEnter}, []byte("\r")},
		{"tab", tea.KeyMsg{Type: tea.KeyTab}, []byte("\t")},
		{"backspace", tea.KeyMsg{Type: tea.KeyBackspace}, []byte{0x7f}},
		{"escape", tea.KeyMsg{Type: tea.KeyEsc}, []byte{0x1b}},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}, []byte{0x03}},
		{"ctrl+d", tea.KeyMsg{Type: tea.KeyCtrlD}, []byte{0x04}},
		{"up", tea.KeyMsg{Type: tea.KeyUp}, []byte("\x1b[A")},
		{"delete", tea.KeyMsg{Type: tea.KeyDelete}, []byte("\x1b[3~")},
		{"f1", tea.KeyMsg{Type: tea.KeyF1}, []byte("\x1bOP")},
		{"alt+b", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b"), Alt: true}, []byte("\x1bb")},
		{"no encoding", tea.KeyMsg{Type: tea.KeyF20}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, keyBytes(tt.msg))
		})
	}
}

func TestRenderScreen_FixedSize(t *testing.T) {
	snap := terminal.Snapshot{
		Rows:  2,
		Cols:  20,
		Lines: []string{"hello", "a line longer than cols"},
	}

	out := renderScreen(snap, 3, 8, false)
	require.Equal(t, []string{"hello   ", "a line l", "        "}, strings.Split(out, "\n"))
}

func TestRenderScreen_CursorKeepsText(t *testing.T) {
	snap := terminal.Snapshot{
		Rows:   1,
		Cols:   10,
		Lines:  []string{"$ ls"},
		Cursor: terminal.Cursor{Row: 0, Col: 4},
	}

	with := ansi.Strip(renderScreen(snap, 1, 10, true))
	without := renderScreen(snap, 1, 10, false)
	require.Equal(t, without, with)
	require.Equal(t, 10, lipgloss.Width(with))
}

func TestRenderWorkflow(t *testing.T) {
	pos := 1
	model := workflow.NewModel()
	t.Cleanup(model.Close)
	events := []workflow.Event{
		{Type: workflow.EventPlanLoad, Nodes: []workflow.PlanNode{
			{ID: "build", Status: workflow.NodePassed},
			{ID: "test", Status: workflow.NodeRunning, Deps: []string{"build"}},
		}},
		{Type: workflow.EventMergeEnqueue, Branch: "feat/x", Status: "waiting", Position: &pos},
		{Type: workflow.EventHealthUpdate, Health: map[string]any{"workers": 3}},
	}
	for _, ev := range events {
		require.NoError(t, model.Apply(ev))
	}

	out := renderWorkflow(model.Snapshot(), sidebarWidth, 12)
	plain := ansi.Strip(out)

	require.Equal(t, 12, lipgloss.Height(out))
	require.Equal(t, sidebarWidth, lipgloss.Width(out))
	require.Contains(t, plain, "Workflow v3")
	require.Contains(t, plain, "● build")
	require.Contains(t, plain, "◐ test")
	require.Less(t, strings.Index(plain, "build"), strings.Index(plain, "test"))
	require.Contains(t, plain, "Merge queue")
	require.Contains(t, plain, "1. feat/x waiting")
	require.Contains(t, plain, "workers=3")
}

func TestRenderWorkflow_TruncatesAndClips(t *testing.T) {
	model := workflow.NewModel()
	t.Cleanup(model.Close)
	require.NoError(t, model.Apply(workflow.Event{
		Type:   workflow.EventNodeUpdate,
		NodeID: strings.Repeat("n", 100),
		Status: string(workflow.NodeQueued),
	}))

	out := renderWorkflow(model.Snapshot(), sidebarWidth, 1)
	require.Equal(t, 1, lipgloss.Height(out))
	require.Equal(t, sidebarWidth, lipgloss.Width(out))
	require.NotContains(t, ansi.Strip(out), "○", "only the title fits")
}

func TestRenderLog_ShowsNewest(t *testing.T) {
	entries := []string{"one", "two", "three", "four"}

	out := renderLog(entries, 10, 3)
	lines := strings.Split(ansi.Strip(out), "\n")
	require.Equal(t, []string{strings.Repeat("─", 10), "three", "four"}, lines)
}

func TestRenderLog_PadsWhenShort(t *testing.T) {
	out := renderLog([]string{"only"}, 10, 4)
	require.Equal(t, 4, lipgloss.Height(out))
}

func TestRenderStatus(t *testing.T) {
	bindings := keys.DefaultKeyMap().ShortHelp()
	info := session.Info{
		Argv:      []string{"/bin/sh", "-c", "top"},
		Rows:      24,
		Cols:      80,
		Status:    session.StatusRunning,
		CreatedAt: time.Now(),
	}

	out := renderStatus(info, "", bindings, 120)
	plain := ansi.Strip(out)
	require.Equal(t, 120, lipgloss.Width(out))
	require.Contains(t, plain, "running  /bin/sh -c top  24x80")
	require.Contains(t, plain, "ctrl+] detach")

	code := 7
	info.Status = session.StatusExited
	info.ExitCode = &code
	plain = ansi.Strip(renderStatus(info, "enter/q to close", bindings, 120))
	require.Contains(t, plain, "exited 7")
	require.Contains(t, plain, "enter/q to close")
}

func TestRenderStatus_Narrow(t *testing.T) {
	info := session.Info{Argv: []string{"/bin/sh", "-c", "a long command line"}, Status: session.StatusRunning}

	out := renderStatus(info, "", keys.DefaultKeyMap().ShortHelp(), 20)
	require.LessOrEqual(t, lipgloss.Width(out), 20)
	require.True(t, strings.HasSuffix(ansi.Strip(out), "…"))
}
