package terminal

import "strings"

// Snapshot is an immutable copy of the screen at one byte offset.
type Snapshot struct {
	Rows          int      `json:"rows"`
	Cols          int      `json:"cols"`
	Lines         []string `json:"lines"`
	Cursor        Cursor   `json:"cursor"`
	Offset        int64    `json:"offset"`
	ScrollbackLen int      `json:"scrollback_len"`
}

// Snapshot captures the current screen.
func (p *Processor) Snapshot() Snapshot {
	rows, cols := p.screen.Size()
	return Snapshot{
		Rows:          rows,
		Cols:          cols,
		Lines:         p.screen.Lines(),
		Cursor:        p.screen.Cursor(),
		Offset:        p.offset,
		ScrollbackLen: p.screen.Scrollback().Len(),
	}
}

// Text joins the grid rows with newlines, dropping trailing empty rows.
func (s Snapshot) Text() string {
	end := len(s.Lines)
	for end > 0 && s.Lines[end-1] == "" {
		end--
	}
	return strings.Join(s.Lines[:end], "\n")
}

// Line returns row i, or "" when out of range.
func (s Snapshot) Line(i int) string {
	if i < 0 || i >= len(s.Lines) {
		return ""
	}
	return s.Lines[i]
}
