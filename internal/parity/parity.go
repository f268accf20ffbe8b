// Package parity compares a session's final screen against a golden text
// file and renders mismatches as a unified-style line diff.
package parity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/cockpit/internal/log"
)

// DefaultContext is the number of unchanged lines shown around each change.
const DefaultContext = 3

// ErrNoGolden is returned by CompareFile when the golden file is missing.
var ErrNoGolden = errors.New("golden file not found")

// Result is the outcome of one comparison.
type Result struct {
	Equal   bool
	Added   int
	Removed int
	// Diff is empty when Equal.
	Diff string
	// Updated is set when CompareFile rewrote the golden file.
	Updated bool
}

// Normalize strips trailing whitespace from every line and trailing blank
// lines, and ends non-empty text with one newline. Screens and hand-edited
// golden files compare equal when they differ only in padding.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	if end == 0 {
		return ""
	}
	return strings.Join(lines[:end], "\n") + "\n"
}

// Compare normalizes both texts and diffs golden against actual.
func Compare(golden, actual string) Result {
	golden, actual = Normalize(golden), Normalize(actual)
	if golden == actual {
		return Result{Equal: true}
	}
	ops := lineOps(golden, actual)
	res := Result{Diff: unified(ops, "golden", "actual", DefaultContext)}
	for _, op := range ops {
		switch op.kind {
		case '+':
			res.Added++
		case '-':
			res.Removed++
		}
	}
	return res
}

// CompareFile compares actual with the golden file at path. With update
// set, the golden file is (re)written from actual instead.
func CompareFile(path, actual string, update bool) (Result, error) {
	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return Result{}, fmt.Errorf("creating golden dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(Normalize(actual)), 0o644); err != nil { //nolint:gosec // G306: golden files are meant to be committed
			return Result{}, fmt.Errorf("writing golden file: %w", err)
		}
		log.Info(log.CatParity, "golden updated", "path", path)
		return Result{Equal: true, Updated: true}, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: golden path comes from the command line
	if errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("%w: %s", ErrNoGolden, path)
	}
	if err != nil {
		return Result{}, fmt.Errorf("reading golden file: %w", err)
	}

	res := Compare(string(data), actual)
	log.Debug(log.CatParity, "compared", "path", path, "equal", res.Equal, "added", res.Added, "removed", res.Removed)
	return res, nil
}

type lineOp struct {
	kind byte // ' ', '-' or '+'
	text string
}

// lineOps diffs a against b line by line.
func lineOps(a, b string) []lineOp {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var ops []lineOp
	for _, d := range diffs {
		kind := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		}
		for _, l := range splitLines(d.Text) {
			ops = append(ops, lineOp{kind: kind, text: l})
		}
	}
	return ops
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// unified renders ops as hunks with n lines of context.
func unified(ops []lineOp, from, to string, n int) string {
	// 1-based line numbers at which each op sits in the old and new text.
	oldAt := make([]int, len(ops))
	newAt := make([]int, len(ops))
	oldLine, newLine := 1, 1
	for i, op := range ops {
		oldAt[i], newAt[i] = oldLine, newLine
		if op.kind != '+' {
			oldLine++
		}
		if op.kind != '-' {
			newLine++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", from, to)
	for i := 0; i < len(ops); {
		if ops[i].kind == ' ' {
			i++
			continue
		}
		start := max(i-n, 0)
		end := i
		// Extend through changes separated by at most 2n unchanged lines.
		for j := i; j < len(ops); j++ {
			if ops[j].kind != ' ' {
				end = j
			} else if j-end > 2*n {
				break
			}
		}
		stop := min(end+n+1, len(ops))

		var oldCount, newCount int
		for _, op := range ops[start:stop] {
			if op.kind != '+' {
				oldCount++
			}
			if op.kind != '-' {
				newCount++
			}
		}
		fmt.Fprintf(&b, "@@ -%s +%s @@\n", hunkRange(oldAt[start], oldCount), hunkRange(newAt[start], newCount))
		for _, op := range ops[start:stop] {
			b.WriteByte(op.kind)
			b.WriteString(op.text)
			b.WriteByte('\n')
		}
		i = stop
	}
	return b.String()
}

func hunkRange(start, count int) string {
	if count == 0 {
		return fmt.Sprintf("%d,0", start-1)
	}
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}
