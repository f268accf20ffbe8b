package cockpit

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/cockpit/internal/workflow"
)

var (
	TextMutedColor     = lipgloss.AdaptiveColor{Light: "#9CA0B0", Dark: "#696969"} // Hints, dividers
	BorderDefaultColor = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"} // Sidebar border
	StatusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"} // passed, running session
	StatusWarningColor = lipgloss.AdaptiveColor{Light: "#DF8E1D", Dark: "#FECA57"} // running node
	StatusErrorColor   = lipgloss.AdaptiveColor{Light: "#D20F39", Dark: "#FF8787"} // failed, nonzero exit

	cursorStyle = lipgloss.NewStyle().Reverse(true)

	statusBarStyle = lipgloss.NewStyle().Foreground(TextMutedColor)
	helpKeyStyle   = lipgloss.NewStyle().Bold(true)
	titleStyle     = lipgloss.NewStyle().Bold(true)
	dividerStyle   = lipgloss.NewStyle().Foreground(BorderDefaultColor)

	runningStyle = lipgloss.NewStyle().Foreground(StatusSuccessColor)
	exitOKStyle  = lipgloss.NewStyle().Foreground(TextMutedColor)
	exitBadStyle = lipgloss.NewStyle().Foreground(StatusErrorColor).Bold(true)

	sidebarStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(BorderDefaultColor).
			PaddingLeft(1)
)

// nodeGlyph returns the status marker and its style for a DAG node.
func nodeGlyph(status workflow.NodeStatus) (string, lipgloss.Style) {
	switch status {
	case workflow.NodeRunning:
		return "◐", lipgloss.NewStyle().Foreground(StatusWarningColor)
	case workflow.NodePassed:
		return "●", lipgloss.NewStyle().Foreground(StatusSuccessColor)
	case workflow.NodeFailed:
		return "✗", lipgloss.NewStyle().Foreground(StatusErrorColor)
	default:
		return "○", lipgloss.NewStyle().Foreground(TextMutedColor)
	}
}
