package terminal

const tabStop = 8

// Cursor is a zero-based grid position.
type Cursor struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Screen is the virtual screen: a rows×cols grid, cursor, current
// attributes and scrollback. The zero value is not usable; see NewScreen.
type Screen struct {
	rows, cols int
	grid       [][]Cell
	cursor     Cursor
	saved      Cursor
	attrs      Attr

	// pendingWrap is set after a rune lands in the last column. The next
	// printable wraps first; cursor motion and erases clear it.
	pendingWrap bool

	scrollback *Scrollback
}

// NewScreen creates a blank screen. Non-positive sizes are raised to 1.
func NewScreen(rows, cols, scrollback int) *Screen {
	rows, cols = max(rows, 1), max(cols, 1)
	s := &Screen{
		rows:       rows,
		cols:       cols,
		grid:       make([][]Cell, rows),
		scrollback: NewScrollback(scrollback),
	}
	for i := range s.grid {
		s.grid[i] = blankLine(cols)
	}
	return s
}

// Size returns the grid dimensions.
func (s *Screen) Size() (rows, cols int) {
	return s.rows, s.cols
}

// Cursor returns the cursor position.
func (s *Screen) Cursor() Cursor {
	return s.cursor
}

// PendingWrap reports whether the next printable will wrap first.
func (s *Screen) PendingWrap() bool {
	return s.pendingWrap
}

// Attrs returns the attributes applied to newly printed runes.
func (s *Screen) Attrs() Attr {
	return s.attrs
}

// Scrollback returns the screen's scrollback buffer.
func (s *Screen) Scrollback() *Scrollback {
	return s.scrollback
}

// Cell returns the cell at row, col. Out-of-range positions return Blank.
func (s *Screen) Cell(row, col int) Cell {
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols {
		return Blank
	}
	return s.grid[row][col]
}

// Row returns a copy of one grid row.
func (s *Screen) Row(row int) []Cell {
	if row < 0 || row >= s.rows {
		return nil
	}
	out := make([]Cell, s.cols)
	copy(out, s.grid[row])
	return out
}

// Lines returns every grid row as text with trailing blanks trimmed.
func (s *Screen) Lines() []string {
	out := make([]string, s.rows)
	for i, line := range s.grid {
		out[i] = lineText(line)
	}
	return out
}

// Put prints r at the cursor with the current attributes.
func (s *Screen) Put(r rune) {
	if s.pendingWrap {
		s.pendingWrap = false
		s.cursor.Col = 0
		s.lineFeed()
	}
	s.grid[s.cursor.Row][s.cursor.Col] = Cell{Rune: r, Attrs: s.attrs}
	if s.cursor.Col == s.cols-1 {
		s.pendingWrap = true
		return
	}
	s.cursor.Col++
}

// CarriageReturn moves to column 0 without clearing anything.
func (s *Screen) CarriageReturn() {
	s.pendingWrap = false
	s.cursor.Col = 0
}

// Backspace moves one column left, stopping at column 0.
func (s *Screen) Backspace() {
	s.pendingWrap = false
	if s.cursor.Col > 0 {
		s.cursor.Col--
	}
}

// Tab advances to the next tab stop, stopping at the last column.
func (s *Screen) Tab() {
	s.pendingWrap = false
	s.cursor.Col = min((s.cursor.Col/tabStop+1)*tabStop, s.cols-1)
}

// LineFeed moves down one row, scrolling at the bottom. The column is kept.
func (s *Screen) LineFeed() {
	s.pendingWrap = false
	s.lineFeed()
}

func (s *Screen) lineFeed() {
	if s.cursor.Row == s.rows-1 {
		s.scrollUp()
		return
	}
	s.cursor.Row++
}

// ReverseIndex moves up one row, inserting a blank top row at the top.
func (s *Screen) ReverseIndex() {
	s.pendingWrap = false
	if s.cursor.Row > 0 {
		s.cursor.Row--
		return
	}
	copy(s.grid[1:], s.grid[:s.rows-1])
	s.grid[0] = blankLine(s.cols)
}

// scrollUp evicts the top row into scrollback and appends a blank row.
func (s *Screen) scrollUp() {
	s.scrollback.Push(s.grid[0])
	copy(s.grid, s.grid[1:])
	s.grid[s.rows-1] = blankLine(s.cols)
}

// MoveCursor moves by (dRow, dCol), clamped to the grid.
func (s *Screen) MoveCursor(dRow, dCol int) {
	s.SetCursor(s.cursor.Row+dRow, s.cursor.Col+dCol)
}

// SetCursor moves to an absolute zero-based position, clamped to the grid.
func (s *Screen) SetCursor(row, col int) {
	s.pendingWrap = false
	s.cursor.Row = clamp(row, 0, s.rows-1)
	s.cursor.Col = clamp(col, 0, s.cols-1)
}

// SaveCursor remembers the cursor for RestoreCursor.
func (s *Screen) SaveCursor() {
	s.saved = s.cursor
}

// RestoreCursor returns to the last saved position.
func (s *Screen) RestoreCursor() {
	s.SetCursor(s.saved.Row, s.saved.Col)
}

// SetAttrs replaces the attributes used for newly printed runes.
func (s *Screen) SetAttrs(a Attr) {
	s.attrs = a
}

// Erase modes shared by EraseInLine and EraseInDisplay.
const (
	EraseToEnd   = 0
	EraseToStart = 1
	EraseAll     = 2
)

// EraseInLine blanks part of the cursor row. Unknown modes are ignored.
func (s *Screen) EraseInLine(mode int) {
	line := s.grid[s.cursor.Row]
	switch mode {
	case EraseToEnd:
		fill(line[s.cursor.Col:])
	case EraseToStart:
		fill(line[:s.cursor.Col+1])
	case EraseAll:
		fill(line)
	default:
		return
	}
	s.pendingWrap = false
}

// EraseInDisplay blanks part of the grid. Scrollback is untouched.
func (s *Screen) EraseInDisplay(mode int) {
	switch mode {
	case EraseToEnd:
		fill(s.grid[s.cursor.Row][s.cursor.Col:])
		for _, line := range s.grid[s.cursor.Row+1:] {
			fill(line)
		}
	case EraseToStart:
		for _, line := range s.grid[:s.cursor.Row] {
			fill(line)
		}
		fill(s.grid[s.cursor.Row][:s.cursor.Col+1])
	case EraseAll:
		for _, line := range s.grid {
			fill(line)
		}
	default:
		return
	}
	s.pendingWrap = false
}

// Reset clears the grid, homes the cursor and drops attributes.
// Scrollback survives a reset.
func (s *Screen) Reset() {
	for _, line := range s.grid {
		fill(line)
	}
	s.cursor = Cursor{}
	s.saved = Cursor{}
	s.attrs = 0
	s.pendingWrap = false
}

// Resize changes the grid to rows×cols. Content is kept anchored at the
// top-left; when the new height would cut off the cursor row, rows above
// it are pushed to scrollback so the cursor row stays visible.
func (s *Screen) Resize(rows, cols int) {
	rows, cols = max(rows, 1), max(cols, 1)
	if rows == s.rows && cols == s.cols {
		return
	}

	shift := 0
	if s.cursor.Row >= rows {
		shift = s.cursor.Row - rows + 1
		for _, line := range s.grid[:shift] {
			s.scrollback.Push(line)
		}
	}

	grid := make([][]Cell, rows)
	for i := range grid {
		grid[i] = blankLine(cols)
		if src := i + shift; src < s.rows {
			copy(grid[i], s.grid[src])
		}
	}

	s.grid = grid
	s.rows, s.cols = rows, cols
	s.cursor.Row = clamp(s.cursor.Row-shift, 0, rows-1)
	s.cursor.Col = clamp(s.cursor.Col, 0, cols-1)
	s.saved.Row = clamp(s.saved.Row-shift, 0, rows-1)
	s.saved.Col = clamp(s.saved.Col, 0, cols-1)
	s.pendingWrap = false
}

func fill(cells []Cell) {
	for i := range cells {
		cells[i] = Blank
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
