// Package terminal implements the ANSI stream processor: an incremental,
// never-failing interpreter that turns pseudo-terminal output bytes into a
// virtual screen (a rows×cols grid of cells, a cursor and bounded scrollback).
//
// Supported subset:
//
//   - C0 controls: CR, LF (also VT, FF), BS, HT; BEL and the rest are ignored
//   - deferred (xterm-style) autowrap at the last column
//   - CSI K erase-in-line, modes 0 (cursor to end), 1 (start to cursor), 2 (whole line)
//   - CSI J erase-in-display, modes 0, 1, 2
//   - CSI A B C D E F G H f d cursor positioning
//   - CSI m limited to bold, underline and reverse flags
//   - ESC 7 / ESC 8 save and restore cursor, ESC D / E / M, ESC c reset
//   - UTF-8, buffered across Feed calls so a split rune still lands in one cell
//
// Everything else (private modes, OSC/DCS strings, colours) is consumed and
// ignored. Malformed sequences never abort processing.
//
// A Processor is not safe for concurrent use; the session pump is its only
// writer and readers take the session's screen lock.
package terminal
