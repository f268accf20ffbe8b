package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/cockpit/internal/cockpit"
	"github.com/zjrosen/cockpit/internal/events"
	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/session"
	"github.com/zjrosen/cockpit/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [--] command [args...]",
	Short: "Run a command in the interactive cockpit",
	Long: `Run a command on a pseudo-terminal and attach this terminal to it.
A single argument is handed to the configured shell as a command line;
several arguments are run directly as an executable and its arguments.

cockpit exits with the command's exit code.

Keys:
  ctrl+]  detach (closes the session)
  ctrl+o  toggle the workflow sidebar (with --workflow)
  ctrl+x  toggle the log tail

Example:
  cockpit run 'make test | tee out.log'
  cockpit run -- vim README.md
  cockpit run --workflow -- ./scripts/orchestrate.sh`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("dir", "", "working directory for the command")
	runCmd.Flags().Bool("workflow", false, "listen for workflow events and show the sidebar")
	runCmd.Flags().Bool("exit-on-done", false, "leave as soon as the command exits")
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	cleanup, err := setupLogging("cockpit-run")
	if err != nil {
		return err
	}
	defer cleanup()

	dir, _ := cmd.Flags().GetString("dir")
	withWorkflow, _ := cmd.Flags().GetBool("workflow")
	exitOnDone, _ := cmd.Flags().GetBool("exit-on-done")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	mgr := session.NewManager(sessionOptions(cfg.Session))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			log.ErrorErr(log.CatSession, "shutting down sessions", err)
		}
	}()

	s, err := mgr.Spawn(launchSpec(args, dir))
	if err != nil {
		return err
	}

	var wf *workflow.Model
	if withWorkflow {
		wf = workflow.NewModel()
		defer wf.Close()
		srv, err := events.NewServer(events.Config{Addr: cfg.Events.Addr, MaxLine: cfg.Events.MaxLine}, wf)
		if err != nil {
			return fmt.Errorf("starting event stream: %w", err)
		}
		go func() { _ = srv.Serve(ctx) }()
		defer func() { _ = srv.Stop(context.Background()) }()
	}

	res, err := cockpit.Run(ctx, cockpit.Config{
		Session:    s,
		Workflow:   wf,
		ExitOnDone: exitOnDone,
	})
	if err != nil {
		return fmt.Errorf("running cockpit: %w", err)
	}

	code := res.ExitCode
	if !res.Exited {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		code, err = s.Close(closeCtx)
		if err != nil && !errors.Is(err, session.ErrNotRunning) {
			return fmt.Errorf("closing session: %w", err)
		}
	}
	if res.Detached {
		fmt.Fprintf(os.Stderr, "detached, session closed with code %d\n", code)
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
