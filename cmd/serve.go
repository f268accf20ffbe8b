package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/cockpit/internal/api"
	"github.com/zjrosen/cockpit/internal/bridge"
	"github.com/zjrosen/cockpit/internal/config"
	"github.com/zjrosen/cockpit/internal/events"
	"github.com/zjrosen/cockpit/internal/journal"
	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/session"
	"github.com/zjrosen/cockpit/internal/tracing"
	"github.com/zjrosen/cockpit/internal/workflow"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host sessions behind the bridge, event stream and API",
	Long: `Run the session host in the foreground. Depending on configuration it
listens for:

  - bridge requests (JSON lines on a unix socket or loopback TCP)
  - workflow events (JSON lines on loopback TCP)
  - read-only HTTP API requests (loopback)

SIGINT or SIGTERM closes every listener, then hangs up every session.

Example:
  cockpit serve
  cockpit serve --bridge-addr 127.0.0.1:7779 --bridge-network tcp
  cockpit serve --api`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("bridge-network", "", "bridge network, unix or tcp (overrides config)")
	serveCmd.Flags().String("bridge-addr", "", "bridge socket path or host:port (overrides config)")
	serveCmd.Flags().String("events-addr", "", "event stream address (overrides config)")
	serveCmd.Flags().Bool("api", false, "enable the HTTP API (overrides config)")
	serveCmd.Flags().String("api-addr", "", "HTTP API address (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	applyServeFlags(cmd, &cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cleanup, err := setupLogging("cockpit-serve")
	if err != nil {
		return err
	}
	defer cleanup()
	watchConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := startHost(cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
	case serveErr = <-h.errs:
		log.ErrorErr(log.CatConfig, "listener failed", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	h.shutdown(shutdownCtx)

	fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	return nil
}

func applyServeFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if v, _ := flags.GetString("bridge-network"); v != "" {
		c.Bridge.Network = v
	}
	if v, _ := flags.GetString("bridge-addr"); v != "" {
		c.Bridge.Addr = v
	}
	if v, _ := flags.GetString("events-addr"); v != "" {
		c.Events.Addr = v
	}
	if flags.Changed("api") {
		c.API.Enabled, _ = flags.GetBool("api")
	}
	if v, _ := flags.GetString("api-addr"); v != "" {
		c.API.Addr = v
	}
}

// host is everything serve runs. Fields for disabled components are nil.
type host struct {
	tracer   *tracing.Provider
	journal  *journal.Journal
	manager  *session.Manager
	workflow *workflow.Model
	events   *events.Server
	bridge   *bridge.Server
	api      *api.Server

	serveCtx    context.Context
	cancelServe context.CancelFunc
	errs        chan error
}

// startHost builds and starts the enabled components, printing where each
// one listens to out. On error everything already started is torn down.
func startHost(c config.Config, out io.Writer) (_ *host, err error) {
	h := &host{errs: make(chan error, 3)}
	h.serveCtx, h.cancelServe = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			h.shutdown(ctx)
		}
	}()

	h.tracer, err = tracing.NewProvider(c.Tracing)
	if err != nil {
		return nil, fmt.Errorf("creating tracer: %w", err)
	}

	var observers []session.Observer
	var history api.History
	if c.Journal.Enabled {
		h.journal, err = journal.Open(c.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		observers = append(observers, h.journal)
		history = h.journal
	}

	h.manager = session.NewManager(sessionOptions(c.Session), observers...)
	h.workflow = workflow.NewModel()

	var eventStats func() events.Stats
	if c.Events.Enabled {
		h.events, err = events.NewServer(events.Config{
			Addr:    c.Events.Addr,
			MaxLine: c.Events.MaxLine,
			Tracer:  h.tracer.Tracer(),
		}, h.workflow)
		if err != nil {
			return nil, fmt.Errorf("starting event stream: %w", err)
		}
		eventStats = h.events.Stats
		go h.run(func() error { return h.events.Serve(h.serveCtx) })
		fmt.Fprintf(out, "Events listening on %s\n", h.events.Addr())
	}

	if c.Bridge.Enabled {
		b := bridge.New(h.manager, bridge.WithTracer(h.tracer.Tracer()))
		h.bridge, err = bridge.NewServer(bridge.ServerConfig{
			Network: c.Bridge.Network,
			Addr:    c.Bridge.Addr,
		}, b)
		if err != nil {
			return nil, fmt.Errorf("starting bridge: %w", err)
		}
		go h.run(func() error { return h.bridge.Serve(h.serveCtx) })
		fmt.Fprintf(out, "Bridge listening on %s %s\n", c.Bridge.Network, h.bridge.Addr())
	}

	if c.API.Enabled {
		h.api, err = api.NewServer(api.ServerConfig{
			Addr: c.API.Addr,
			HandlerConfig: api.HandlerConfig{
				Sessions:   h.manager,
				Workflow:   h.workflow,
				History:    history,
				EventStats: eventStats,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("starting API: %w", err)
		}
		go h.run(h.api.Start)
		fmt.Fprintf(out, "API listening on http://127.0.0.1:%d\n", h.api.Port())
	}

	return h, nil
}

// run reports a listener's failure. Clean exits after shutdown are nil and
// are not reported.
func (h *host) run(serve func() error) {
	if err := serve(); err != nil {
		h.errs <- err
	}
}

// shutdown stops listeners first so no new session can appear, then
// releases every session, then flushes the journal and traces.
func (h *host) shutdown(ctx context.Context) {
	h.cancelServe()
	if h.api != nil {
		if err := h.api.Stop(ctx); err != nil {
			log.ErrorErr(log.CatAPI, "stopping API", err)
		}
	}
	if h.bridge != nil {
		if err := h.bridge.Stop(ctx); err != nil {
			log.ErrorErr(log.CatBridge, "stopping bridge", err)
		}
	}
	if h.events != nil {
		if err := h.events.Stop(ctx); err != nil {
			log.ErrorErr(log.CatEvents, "stopping event stream", err)
		}
	}
	if h.manager != nil {
		if err := h.manager.Shutdown(ctx); err != nil {
			log.ErrorErr(log.CatSession, "shutting down sessions", err)
		}
	}
	if h.workflow != nil {
		h.workflow.Close()
	}
	if h.journal != nil {
		if err := h.journal.Close(); err != nil {
			log.ErrorErr(log.CatJournal, "closing journal", err)
		}
	}
	if h.tracer != nil {
		if err := h.tracer.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: flushing traces: %v\n", err)
		}
	}
}
