package terminal

import "strings"

// Attr is a set of display attribute flags.
type Attr uint8

const (
	AttrBold Attr = 1 << iota
	AttrUnderline
	AttrReverse
)

// Has reports whether every flag in a is set.
func (a Attr) Has(flag Attr) bool {
	return a&flag == flag
}

// Cell is one character cell of the grid.
type Cell struct {
	Rune  rune `json:"r"`
	Attrs Attr `json:"a,omitempty"`
}

// Blank is the cell an erase leaves behind.
var Blank = Cell{Rune: ' '}

func blankLine(cols int) []Cell {
	line := make([]Cell, cols)
	for i := range line {
		line[i] = Blank
	}
	return line
}

// lineText renders cells as text with trailing blanks trimmed.
func lineText(cells []Cell) string {
	var b strings.Builder
	b.Grow(len(cells))
	for _, c := range cells {
		b.WriteRune(c.Rune)
	}
	return strings.TrimRight(b.String(), " ")
}
