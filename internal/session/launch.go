package session

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/zjrosen/cockpit/internal/pty"
)

const defaultTerm = "xterm-256color"

// LaunchSpec describes what to run. Command is executed exactly as given:
// without Args it is handed verbatim to the shell's -c; with Args it is the
// executable and Args its argument vector. Nothing else is ever added.
type LaunchSpec struct {
	Command    string            `json:"command"`
	Args       []string          `json:"args,omitempty"`
	Dir        string            `json:"dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Rows       int               `json:"rows,omitempty"`
	Cols       int               `json:"cols,omitempty"`
	Scrollback int               `json:"scrollback,omitempty"`
}

// withDefaults fills unset dimensions from opts.
func (l LaunchSpec) withDefaults(opts Options) LaunchSpec {
	if l.Rows == 0 {
		l.Rows = opts.Rows
	}
	if l.Cols == 0 {
		l.Cols = opts.Cols
	}
	if l.Scrollback == 0 {
		l.Scrollback = opts.Scrollback
	}
	return l
}

func (l LaunchSpec) validate() error {
	if strings.TrimSpace(l.Command) == "" {
		return errors.New("empty command")
	}
	if !(pty.Size{Rows: l.Rows, Cols: l.Cols}).Valid() {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, l.Rows, l.Cols)
	}
	if l.Scrollback < 0 {
		return fmt.Errorf("negative scrollback %d", l.Scrollback)
	}
	if l.Dir != "" {
		fi, err := os.Stat(l.Dir)
		if err != nil {
			return fmt.Errorf("working directory: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("working directory %s is not a directory", l.Dir)
		}
	}
	return nil
}

// argv returns the argument vector that will be executed.
func (l LaunchSpec) argv(shell string) []string {
	if len(l.Args) == 0 {
		return []string{shell, "-c", l.Command}
	}
	return append([]string{l.Command}, l.Args...)
}

// environ layers TERM and the overrides on top of base. Override keys are
// applied in sorted order so the result is stable.
func (l LaunchSpec) environ(base []string) []string {
	env := slices.Clone(base)
	if _, ok := l.Env["TERM"]; !ok {
		env = setEnv(env, "TERM", defaultTerm)
	}
	keys := make([]string, 0, len(l.Env))
	for k := range l.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = setEnv(env, k, l.Env[k])
	}
	return env
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
