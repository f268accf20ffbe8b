package terminal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScreen_ResizeShrinkPushesAboveCursor(t *testing.T) {
	p := feed(NewProcessor(5, 10, 0), "1\r\n2\r\n3\r\n4\r\n5")

	p.Resize(2, 10)

	snap := p.Snapshot()
	require.Equal(t, []string{"4", "5"}, snap.Lines)
	require.Equal(t, Cursor{Row: 1, Col: 1}, snap.Cursor)
	require.Equal(t, []string{"1", "2", "3"}, p.Screen().Scrollback().Text())
}

func TestScreen_ResizeShrinkWithCursorVisibleKeepsTop(t *testing.T) {
	p := feed(NewProcessor(5, 10, 0), "top\x1b[H")

	p.Resize(2, 3)

	snap := p.Snapshot()
	require.Equal(t, []string{"top", ""}, snap.Lines)
	require.Zero(t, snap.ScrollbackLen)
}

func TestScreen_ResizeClampsCursorColumn(t *testing.T) {
	p := feed(NewProcessor(3, 10, 0), "abcdefgh")

	p.Resize(3, 4)

	require.Equal(t, Cursor{Row: 0, Col: 3}, p.Screen().Cursor())
	require.Equal(t, "abcd", p.Snapshot().Line(0))
}

func TestScreen_ResizeGrowKeepsContent(t *testing.T) {
	p := feed(NewProcessor(2, 3, 0), "ab\r\ncd")

	p.Resize(4, 6)

	snap := p.Snapshot()
	require.Equal(t, 4, snap.Rows)
	require.Equal(t, 6, snap.Cols)
	require.Equal(t, []string{"ab", "cd", "", ""}, snap.Lines)
}

func TestScreen_ResizeSameSizeIsNoop(t *testing.T) {
	p := feed(NewProcessor(3, 5, 0), "abcde")
	require.True(t, p.Screen().PendingWrap())

	p.Resize(3, 5)
	require.True(t, p.Screen().PendingWrap(), "unchanged size leaves state alone")
}

func TestScreen_NonPositiveSizes(t *testing.T) {
	s := NewScreen(0, -3, 0)
	rows, cols := s.Size()
	require.Equal(t, 1, rows)
	require.Equal(t, 1, cols)
	require.Equal(t, DefaultScrollback, s.Scrollback().Cap())
}

func TestScreen_ReverseIndexAtTop(t *testing.T) {
	s := NewScreen(3, 3, 0)
	s.Put('a')
	s.ReverseIndex()

	require.Equal(t, []string{"", "a", ""}, s.Lines())
}

func TestScreen_RowIsCopy(t *testing.T) {
	s := NewScreen(1, 3, 0)
	s.Put('a')
	row := s.Row(0)
	row[0] = Cell{Rune: 'z'}

	require.Equal(t, 'a', s.Cell(0, 0).Rune)
	require.Nil(t, s.Row(5))
	require.Equal(t, Blank, s.Cell(-1, 0))
}

func TestScrollback_Ring(t *testing.T) {
	sb := NewScrollback(3)
	for _, r := range "abcde" {
		sb.Push([]Cell{{Rune: r}})
	}

	require.Equal(t, 3, sb.Len())
	require.Equal(t, []string{"c", "d", "e"}, sb.Text())
	require.Nil(t, sb.Line(3))

	sb.Clear()
	require.Zero(t, sb.Len())
	require.Empty(t, sb.Text())
}

func TestScrollback_PushCopies(t *testing.T) {
	sb := NewScrollback(2)
	line := []Cell{{Rune: 'x'}}
	sb.Push(line)
	line[0].Rune = 'y'

	require.Equal(t, 'x', sb.Line(0)[0].Rune)
}
