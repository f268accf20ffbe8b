package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/parity"
	"github.com/zjrosen/cockpit/internal/session"
	"github.com/zjrosen/cockpit/internal/watcher"
)

var checkCmd = &cobra.Command{
	Use:   "check --golden file [flags] [--] command [args...]",
	Short: "Run a command headless and compare its final screen to a golden file",
	Long: `Run a command on a pseudo-terminal without attaching a terminal, wait for
it to exit, and compare the final screen text with a golden file. On a
mismatch a unified diff is printed and cockpit exits with status 1.

--input is written once the command starts; Go escapes such as \r, \n and
\x04 are interpreted.

With --watch the check re-runs whenever one of the listed files (or the
golden file) changes, until interrupted.

Example:
  cockpit check --golden testdata/ls.txt -- ls -1
  cockpit check --golden testdata/menu.txt --watch menu.sh -- ./menu.sh
  cockpit check --golden testdata/prompt.txt --input 'yes\r' ./install.sh
  cockpit check --golden testdata/ls.txt --update -- ls -1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().String("golden", "", "golden file holding the expected screen text")
	checkCmd.Flags().Bool("update", false, "rewrite the golden file from this run")
	checkCmd.Flags().String("input", "", "input to write after start (Go escapes allowed)")
	checkCmd.Flags().Duration("timeout", 30*time.Second, "how long to wait for the command to exit")
	checkCmd.Flags().Int("rows", 0, "screen rows (default from config)")
	checkCmd.Flags().Int("cols", 0, "screen columns (default from config)")
	checkCmd.Flags().Int("expect-exit", -1, "required exit code (-1 accepts any)")
	checkCmd.Flags().String("dir", "", "working directory for the command")
	checkCmd.Flags().StringSlice("watch", nil, "re-run when these files change")
	_ = checkCmd.MarkFlagRequired("golden")
}

// checkOptions is one headless golden run.
type checkOptions struct {
	Spec       session.LaunchSpec
	Golden     string
	Update     bool
	Input      []byte
	Timeout    time.Duration
	ExpectExit int
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if debugFlag || os.Getenv("COCKPIT_DEBUG") != "" {
		log.InitWriter(cmd.ErrOrStderr(), log.ParseLevel(cfg.Log.Level))
		defer log.Disable()
	}

	flags := cmd.Flags()
	dir, _ := flags.GetString("dir")
	opts := checkOptions{Spec: launchSpec(args, dir)}
	opts.Golden, _ = flags.GetString("golden")
	opts.Update, _ = flags.GetBool("update")
	opts.Timeout, _ = flags.GetDuration("timeout")
	opts.ExpectExit, _ = flags.GetInt("expect-exit")
	opts.Spec.Rows, _ = flags.GetInt("rows")
	opts.Spec.Cols, _ = flags.GetInt("cols")
	if raw, _ := flags.GetString("input"); raw != "" {
		input, err := decodeInput(raw)
		if err != nil {
			return err
		}
		opts.Input = input
	}

	mgr := session.NewManager(sessionOptions(cfg.Session))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	}()

	if watch, _ := flags.GetStringSlice("watch"); len(watch) > 0 {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return watchCheck(ctx, mgr, opts, watch, cmd.OutOrStdout())
	}

	code, err := checkScreen(cmd.Context(), mgr, opts, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// watchCheck runs the check, then again after every change to paths or
// the golden file, until ctx is done.
func watchCheck(ctx context.Context, mgr *session.Manager, opts checkOptions, paths []string, out io.Writer) error {
	if !opts.Update {
		// An updating run rewrites the golden file; watching it would loop.
		paths = append(paths, opts.Golden)
	}
	w, err := watcher.New(watcher.DefaultConfig(paths...))
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()
	changes, err := w.Start()
	if err != nil {
		return err
	}

	for {
		if _, err := checkScreen(ctx, mgr, opts, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
		fmt.Fprintln(out, "watching for changes...")
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			log.Debug(log.CatWatch, "change detected, re-running", "golden", opts.Golden)
		}
	}
}

// decodeInput interprets Go string escapes in s.
func decodeInput(s string) ([]byte, error) {
	unquoted, err := strconv.Unquote(`"` + s + `"`)
	if err != nil {
		return nil, fmt.Errorf("invalid --input %q: %w", s, err)
	}
	return []byte(unquoted), nil
}

// checkScreen runs opts.Spec to completion and compares its final screen.
// It returns the status cockpit should exit with: 0 on a match, 1 on a
// screen mismatch or an unexpected exit code.
func checkScreen(ctx context.Context, mgr *session.Manager, opts checkOptions, out io.Writer) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := mgr.Spawn(opts.Spec)
	if err != nil {
		return 0, err
	}

	if len(opts.Input) > 0 {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.Write(wctx, opts.Input)
		cancel()
		if err != nil && !errors.Is(err, session.ErrNotRunning) {
			return 0, fmt.Errorf("writing input: %w", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	exitCode, err := s.Wait(waitCtx)
	if err != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_, _ = s.Close(closeCtx)
		return 0, fmt.Errorf("command did not exit within %s: %w", opts.Timeout, err)
	}

	text := s.Snapshot().Screen.Text()
	res, err := parity.CompareFile(opts.Golden, text, opts.Update)
	if err != nil {
		return 0, err
	}

	status := 0
	switch {
	case res.Updated:
		fmt.Fprintf(out, "updated %s\n", opts.Golden)
	case res.Equal:
		fmt.Fprintf(out, "ok %s\n", opts.Golden)
	default:
		fmt.Fprintf(out, "screen differs from %s (+%d -%d)\n%s", opts.Golden, res.Added, res.Removed, res.Diff)
		status = 1
	}
	if opts.ExpectExit >= 0 && exitCode != opts.ExpectExit {
		fmt.Fprintf(out, "exit code %d, expected %d\n", exitCode, opts.ExpectExit)
		status = 1
	}
	return status, nil
}
