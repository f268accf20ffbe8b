package terminal

// DefaultScrollback is the scrollback cap used when none is configured.
const DefaultScrollback = 1000

// Scrollback is a bounded FIFO of lines evicted from the top of the grid.
// Once the cap is reached the oldest line is dropped for every new one.
type Scrollback struct {
	lines [][]Cell
	start int
	n     int
}

// NewScrollback creates a scrollback holding at most max lines.
// max <= 0 selects DefaultScrollback.
func NewScrollback(max int) *Scrollback {
	if max <= 0 {
		max = DefaultScrollback
	}
	return &Scrollback{lines: make([][]Cell, max)}
}

// Cap returns the maximum number of retained lines.
func (s *Scrollback) Cap() int {
	return len(s.lines)
}

// Len returns the number of retained lines.
func (s *Scrollback) Len() int {
	return s.n
}

// Push appends a copy of line, evicting the oldest line when full.
func (s *Scrollback) Push(line []Cell) {
	cp := make([]Cell, len(line))
	copy(cp, line)

	if s.n < len(s.lines) {
		s.lines[(s.start+s.n)%len(s.lines)] = cp
		s.n++
		return
	}
	s.lines[s.start] = cp
	s.start = (s.start + 1) % len(s.lines)
}

// Line returns the i-th retained line, 0 being the oldest.
func (s *Scrollback) Line(i int) []Cell {
	if i < 0 || i >= s.n {
		return nil
	}
	return s.lines[(s.start+i)%len(s.lines)]
}

// Text returns every retained line as trimmed text, oldest first.
func (s *Scrollback) Text() []string {
	out := make([]string, s.n)
	for i := range out {
		out[i] = lineText(s.Line(i))
	}
	return out
}

// Clear drops all retained lines.
func (s *Scrollback) Clear() {
	for i := range s.lines {
		s.lines[i] = nil
	}
	s.start, s.n = 0, 0
}
