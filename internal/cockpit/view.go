package cockpit

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"github.com/zjrosen/cockpit/internal/session"
	"github.com/zjrosen/cockpit/internal/terminal"
	"github.com/zjrosen/cockpit/internal/workflow"
)

const (
	sidebarWidth = 32
	minTermCols  = 20
	maxLogHeight = 10
	maxLogLines  = 200
)

// renderScreen paints exactly rows lines of exactly cols cells from a
// snapshot. The cursor cell is drawn reversed when showCursor is set.
func renderScreen(snap terminal.Snapshot, rows, cols int, showCursor bool) string {
	lines := make([]string, rows)
	for i := range rows {
		line := runewidth.FillRight(runewidth.Truncate(snap.Line(i), cols, ""), cols)
		if showCursor && i == snap.Cursor.Row && snap.Cursor.Col < cols {
			line = withCursor(line, snap.Cursor.Col)
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func withCursor(line string, col int) string {
	runes := []rune(line)
	if col >= len(runes) {
		return line
	}
	return string(runes[:col]) + cursorStyle.Render(string(runes[col])) + string(runes[col+1:])
}

// renderWorkflow paints the DAG nodes, merge queue, and health fields into
// a sidebar of the given outer size.
func renderWorkflow(state workflow.State, width, height int) string {
	inner := width - sidebarStyle.GetHorizontalFrameSize()
	var lines []string
	add := func(s string) {
		lines = append(lines, ansi.Truncate(s, inner, "…"))
	}

	add(titleStyle.Render(fmt.Sprintf("Workflow v%d", state.Version)))
	nodes := state.SortedNodes()
	if len(nodes) == 0 {
		add(statusBarStyle.Render("no plan"))
	}
	for _, n := range nodes {
		glyph, style := nodeGlyph(n.Status)
		add(style.Render(glyph) + " " + n.ID)
	}

	if queue := state.Queue(); len(queue) > 0 {
		add("")
		add(titleStyle.Render("Merge queue"))
		for _, b := range queue {
			entry := fmt.Sprintf("%d. %s", b.Position, b.ID)
			if b.Status != "" {
				entry += " " + statusBarStyle.Render(b.Status)
			}
			add(entry)
		}
	}

	if len(state.Health) > 0 {
		add("")
		add(titleStyle.Render("Health"))
		keys := make([]string, 0, len(state.Health))
		for k := range state.Health {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			add(fmt.Sprintf("%s=%v", k, state.Health[k]))
		}
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	return sidebarStyle.Width(inner + sidebarStyle.GetPaddingLeft()).Height(height).Render(strings.Join(lines, "\n"))
}

// renderLog paints the newest log entries under a divider, exactly height
// lines tall.
func renderLog(entries []string, width, height int) string {
	lines := []string{dividerStyle.Render(strings.Repeat("─", width))}
	body := height - 1
	start := max(len(entries)-body, 0)
	for _, e := range entries[start:] {
		lines = append(lines, ansi.Truncate(e, width, "…"))
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// renderStatus builds the one-line status bar: session state on the left,
// key hints on the right.
func renderStatus(info session.Info, detail string, bindings []key.Binding, width int) string {
	var state string
	if info.Status == session.StatusExited && info.ExitCode != nil {
		style := exitOKStyle
		if *info.ExitCode != 0 {
			style = exitBadStyle
		}
		state = style.Render(fmt.Sprintf("exited %d", *info.ExitCode))
	} else {
		state = runningStyle.Render(string(info.Status))
	}
	left := fmt.Sprintf("%s  %s  %dx%d", state, strings.Join(info.Argv, " "), info.Rows, info.Cols)
	if detail != "" {
		left += "  " + detail
	}

	hints := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		hints = append(hints, helpKeyStyle.Render(h.Key)+" "+h.Desc)
	}
	right := statusBarStyle.Render(strings.Join(hints, " · "))

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return ansi.Truncate(left, width, "…")
	}
	return left + strings.Repeat(" ", gap) + right
}
