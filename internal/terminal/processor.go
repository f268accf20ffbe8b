package terminal

import "unicode/utf8"

type parserState uint8

const (
	stateGround parserState = iota
	stateEscape
	stateEscapeIntermediate
	stateCSI
	stateString
	stateStringEscape
)

const (
	maxParams     = 16
	maxParamValue = 65535
)

// Processor feeds a byte stream into a Screen. Parser state, including a
// partially received UTF-8 sequence, survives between Feed calls.
type Processor struct {
	screen *Screen
	offset int64

	state        parserState
	params       []int
	param        int
	hasParam     bool
	private      byte
	intermediate bool
	oscBell      bool

	utf8buf [utf8.UTFMax]byte
	utf8n   int
}

// NewProcessor creates a processor over a fresh rows×cols screen.
func NewProcessor(rows, cols, scrollback int) *Processor {
	return &Processor{
		screen: NewScreen(rows, cols, scrollback),
		params: make([]int, 0, maxParams),
	}
}

// Screen returns the screen being written.
func (p *Processor) Screen() *Screen {
	return p.screen
}

// Offset returns the total number of bytes fed so far.
func (p *Processor) Offset() int64 {
	return p.offset
}

// Resize resizes the underlying screen.
func (p *Processor) Resize(rows, cols int) {
	p.screen.Resize(rows, cols)
}

// Feed interprets data. It never blocks and never fails; unsupported or
// malformed input is skipped.
func (p *Processor) Feed(data []byte) {
	p.offset += int64(len(data))
	for _, b := range data {
		p.step(b)
	}
}

func (p *Processor) step(b byte) {
	switch p.state {
	case stateGround:
		p.ground(b)
	case stateEscape:
		p.escape(b)
	case stateEscapeIntermediate:
		// Designator byte of ESC ( B and friends.
		if b >= 0x20 && b <= 0x2f {
			return
		}
		p.state = stateGround
	case stateCSI:
		p.csi(b)
	case stateString:
		switch b {
		case 0x07:
			if p.oscBell {
				p.state = stateGround
			}
		case 0x1b:
			p.state = stateStringEscape
		}
	case stateStringEscape:
		if b == '\\' {
			p.state = stateGround
			return
		}
		// An ESC that is not ST aborts the string and starts a new sequence.
		p.state = stateEscape
		p.escape(b)
	}
}

func (p *Processor) ground(b byte) {
	if p.utf8n > 0 {
		if b&0xc0 == 0x80 {
			p.utf8buf[p.utf8n] = b
			p.utf8n++
			if utf8.FullRune(p.utf8buf[:p.utf8n]) {
				r, _ := utf8.DecodeRune(p.utf8buf[:p.utf8n])
				p.utf8n = 0
				p.screen.Put(r)
			}
			return
		}
		// Truncated sequence: render the replacement and reprocess b.
		p.utf8n = 0
		p.screen.Put(utf8.RuneError)
	}

	switch {
	case b == 0x1b:
		p.state = stateEscape
	case b < 0x20:
		p.control(b)
	case b < 0x7f:
		p.screen.Put(rune(b))
	case b == 0x7f:
		// DEL is ignored.
	case b >= 0xc2 && b <= 0xf4:
		p.utf8buf[0] = b
		p.utf8n = 1
	default:
		// Stray continuation or impossible lead byte.
		p.screen.Put(utf8.RuneError)
	}
}

func (p *Processor) control(b byte) {
	switch b {
	case '\r':
		p.screen.CarriageReturn()
	case '\n', 0x0b, 0x0c:
		p.screen.LineFeed()
	case '\b':
		p.screen.Backspace()
	case '\t':
		p.screen.Tab()
	}
}

func (p *Processor) escape(b byte) {
	p.state = stateGround
	switch b {
	case '[':
		p.params = p.params[:0]
		p.param, p.hasParam = 0, false
		p.private, p.intermediate = 0, false
		p.state = stateCSI
	case ']':
		p.oscBell = true
		p.state = stateString
	case 'P', 'X', '^', '_':
		p.oscBell = false
		p.state = stateString
	case '(', ')', '*', '+', '-', '.', '/', '#', '%', ' ':
		p.state = stateEscapeIntermediate
	case 0x1b:
		p.state = stateEscape
	case '7':
		p.screen.SaveCursor()
	case '8':
		p.screen.RestoreCursor()
	case 'D':
		p.screen.LineFeed()
	case 'E':
		p.screen.CarriageReturn()
		p.screen.LineFeed()
	case 'M':
		p.screen.ReverseIndex()
	case 'c':
		p.screen.Reset()
	default:
		if b < 0x20 {
			// C0 controls execute inside an escape sequence.
			p.control(b)
			p.state = stateEscape
		}
	}
}

func (p *Processor) csi(b byte) {
	switch {
	case b >= '0' && b <= '9':
		p.param = min(p.param*10+int(b-'0'), maxParamValue)
		p.hasParam = true
	case b == ';' || b == ':':
		p.pushParam()
	case b >= '<' && b <= '?':
		if len(p.params) == 0 && !p.hasParam && p.private == 0 {
			p.private = b
			return
		}
		p.intermediate = true
	case b >= 0x20 && b <= 0x2f:
		p.intermediate = true
	case b >= 0x40 && b <= 0x7e:
		p.pushParam()
		p.state = stateGround
		if p.private == 0 && !p.intermediate {
			p.dispatchCSI(b)
		}
	case b == 0x1b:
		p.state = stateEscape
	case b == 0x18 || b == 0x1a:
		p.state = stateGround
	case b < 0x20:
		p.control(b)
	default:
		// Bytes that cannot appear in a CSI abort it.
		p.state = stateGround
	}
}

func (p *Processor) pushParam() {
	if len(p.params) < maxParams {
		v := 0
		if p.hasParam {
			v = p.param
		}
		p.params = append(p.params, v)
	}
	p.param, p.hasParam = 0, false
}

// arg returns parameter i, or 0 when absent.
func (p *Processor) arg(i int) int {
	if i < len(p.params) {
		return p.params[i]
	}
	return 0
}

// count returns parameter i for motion sequences, where 0 means 1.
func (p *Processor) count(i int) int {
	return max(p.arg(i), 1)
}

func (p *Processor) dispatchCSI(final byte) {
	s := p.screen
	cur := s.Cursor()
	switch final {
	case 'A':
		s.MoveCursor(-p.count(0), 0)
	case 'B':
		s.MoveCursor(p.count(0), 0)
	case 'C':
		s.MoveCursor(0, p.count(0))
	case 'D':
		s.MoveCursor(0, -p.count(0))
	case 'E':
		s.SetCursor(cur.Row+p.count(0), 0)
	case 'F':
		s.SetCursor(cur.Row-p.count(0), 0)
	case 'G':
		s.SetCursor(cur.Row, p.count(0)-1)
	case 'd':
		s.SetCursor(p.count(0)-1, cur.Col)
	case 'H', 'f':
		s.SetCursor(p.count(0)-1, p.count(1)-1)
	case 'J':
		s.EraseInDisplay(p.arg(0))
	case 'K':
		s.EraseInLine(p.arg(0))
	case 'm':
		p.sgr()
	}
}

func (p *Processor) sgr() {
	attrs := p.screen.Attrs()
	for i := 0; i < len(p.params); i++ {
		switch p.params[i] {
		case 0:
			attrs = 0
		case 1:
			attrs |= AttrBold
		case 4:
			attrs |= AttrUnderline
		case 7:
			attrs |= AttrReverse
		case 22:
			attrs &^= AttrBold
		case 24:
			attrs &^= AttrUnderline
		case 27:
			attrs &^= AttrReverse
		case 38, 48, 58:
			// Extended colours carry their own arguments; skip them.
			if i+1 < len(p.params) {
				switch p.params[i+1] {
				case 5:
					i += 2
				case 2:
					i += 4
				}
			}
		}
	}
	p.screen.SetAttrs(attrs)
}
