// Package api provides a read-only HTTP API for renderers and dashboards.
// It exposes sessions, their screens, the workflow model and the session
// journal, plus an SSE stream of lifecycle and workflow changes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/zjrosen/cockpit/internal/cachemanager"
	"github.com/zjrosen/cockpit/internal/events"
	"github.com/zjrosen/cockpit/internal/journal"
	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/netutil"
	"github.com/zjrosen/cockpit/internal/pubsub"
	"github.com/zjrosen/cockpit/internal/session"
	"github.com/zjrosen/cockpit/internal/workflow"
)

// DefaultHistoryTTL is how long a journal record stays cached.
const DefaultHistoryTTL = 30 * time.Second

// Sessions is the live registry. *session.Manager implements it.
type Sessions interface {
	List() []session.Info
	Get(id string) (*session.Session, error)
	Subscribe(ctx context.Context) <-chan pubsub.Event[session.Info]
}

// Workflow is the shared workflow model. *workflow.Model implements it.
type Workflow interface {
	Snapshot() workflow.State
	Subscribe(ctx context.Context) <-chan pubsub.Event[workflow.Change]
}

// History is the session journal. *journal.Journal implements it.
type History interface {
	Get(ctx context.Context, id string) (journal.Record, error)
	Recent(ctx context.Context, limit int) ([]journal.Record, error)
}

// Handler provides the HTTP endpoints.
type Handler struct {
	sessions   Sessions
	workflow   Workflow
	history    History
	records    *cachemanager.ReadThrough[string, journal.Record]
	eventStats func() events.Stats
	started    time.Time
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Sessions is the live session registry (required).
	Sessions Sessions
	// Workflow is the workflow model (required).
	Workflow Workflow
	// History enables /history endpoints (optional).
	History History
	// HistoryTTL bounds how stale a cached journal record may be.
	HistoryTTL time.Duration
	// EventStats reports event stream counters in /health (optional).
	EventStats func() events.Stats
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		sessions:   cfg.Sessions,
		workflow:   cfg.Workflow,
		history:    cfg.History,
		eventStats: cfg.EventStats,
		started:    time.Now(),
	}
	if cfg.History != nil {
		ttl := cfg.HistoryTTL
		if ttl <= 0 {
			ttl = DefaultHistoryTTL
		}
		cache := cachemanager.NewInMemory[string, journal.Record]("journal-records", ttl, cachemanager.DefaultCleanupInterval)
		h.records = cachemanager.NewReadThrough[string, journal.Record](cache, cfg.History.Get, ttl, false)
	}
	return h
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	// Sessions
	mux.HandleFunc("GET /sessions", h.ListSessions)
	mux.HandleFunc("GET /sessions/{id}", h.GetSession)
	mux.HandleFunc("GET /sessions/{id}/text", h.GetSessionText)

	// Workflow
	mux.HandleFunc("GET /workflow", h.GetWorkflow)

	// Journal
	mux.HandleFunc("GET /history", h.ListHistory)
	mux.HandleFunc("GET /history/{id}", h.GetHistory)

	// Event streaming
	mux.HandleFunc("GET /events", h.StreamEvents)

	return mux
}

// === Response Types ===

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the response body for /health.
type HealthResponse struct {
	Status          string        `json:"status"`
	Uptime          string        `json:"uptime"`
	Sessions        int           `json:"sessions"`
	Running         int           `json:"running"`
	WorkflowVersion uint64        `json:"workflow_version"`
	Events          *events.Stats `json:"events,omitempty"`
}

// WorkflowResponse is the ordered view of the workflow model.
type WorkflowResponse struct {
	Version   uint64            `json:"version"`
	Nodes     []workflow.Node   `json:"nodes"`
	Queue     []workflow.Branch `json:"queue"`
	Health    map[string]any    `json:"health"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// === Handlers ===

// Health reports liveness and a few counters.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	infos := h.sessions.List()
	resp := HealthResponse{
		Status:          "ok",
		Uptime:          time.Since(h.started).Round(time.Second).String(),
		Sessions:        len(infos),
		WorkflowVersion: h.workflow.Snapshot().Version,
	}
	for _, info := range infos {
		if info.Status == session.StatusRunning {
			resp.Running++
		}
	}
	if h.eventStats != nil {
		stats := h.eventStats()
		resp.Events = &stats
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ListSessions returns every registered session, oldest first.
func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sessions.List())
}

// GetSession returns one session with its screen snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, s.Snapshot())
}

// GetSessionText returns the visible screen as plain text.
func (h *Handler) GetSessionText(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, s.Snapshot().Screen.Text())
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := r.PathValue("id")
	s, err := h.sessions.Get(id)
	switch {
	case err == nil:
		return s, true
	case errors.Is(err, session.ErrNotRunning):
		h.writeError(w, http.StatusGone, "not_running", err.Error())
	case errors.Is(err, session.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
	return nil, false
}

// GetWorkflow returns the workflow model ordered for display.
func (h *Handler) GetWorkflow(w http.ResponseWriter, _ *http.Request) {
	state := h.workflow.Snapshot()
	h.writeJSON(w, http.StatusOK, WorkflowResponse{
		Version:   state.Version,
		Nodes:     state.SortedNodes(),
		Queue:     state.Queue(),
		Health:    state.Health,
		UpdatedAt: state.UpdatedAt,
	})
}

// ListHistory returns recent journal records. ?limit= caps the count.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusNotFound, "journal_disabled", "session journal is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		log.ErrorErr(log.CatAPI, "Failed to read journal", err)
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

// GetHistory returns one journal record.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		h.writeError(w, http.StatusNotFound, "journal_disabled", "session journal is disabled")
		return
	}
	rec, err := h.records.Get(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, journal.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		log.ErrorErr(log.CatAPI, "Failed to read journal record", err)
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// Invalidate drops a cached journal record, called when the session exits.
func (h *Handler) Invalidate(ctx context.Context, id string) {
	if h.records != nil {
		h.records.Invalidate(ctx, id)
	}
}

// StreamEvents streams session lifecycle and workflow changes via SSE.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lifecycle := h.sessions.Subscribe(ctx)
	changes := h.workflow.Subscribe(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported")
		return
	}

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	send := func(name string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error(log.CatAPI, "Failed to marshal event", "error", err)
			return
		}
		_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
		flusher.Flush()
	}

	for lifecycle != nil || changes != nil {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-lifecycle:
			if !ok {
				lifecycle = nil
				continue
			}
			send(string(ev.Type), ev.Payload)
		case ev, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			send("workflow."+string(ev.Payload.Type), ev.Payload)
		}
	}
}

// === Helpers ===

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// Server wraps the Handler with an http.Server for lifecycle management.
type Server struct {
	handler  *Handler
	server   *http.Server
	listener net.Listener
	port     int

	cancel context.CancelFunc
	done   chan struct{}
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Addr is the loopback address to listen on (e.g. "127.0.0.1:7778").
	Addr string
	HandlerConfig
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
}

// NewServer creates a new API server. Port 0 picks a free port; Port()
// reports it.
func NewServer(cfg ServerConfig) (*Server, error) {
	handler := NewHandler(cfg.HandlerConfig)

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	// Create listener first to get the actual port (important for :0)
	listener, err := netutil.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		handler:  handler,
		listener: listener,
		port:     port,
		cancel:   cancel,
		done:     make(chan struct{}),
		server: &http.Server{
			Handler:           handler.Routes(),
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			// No WriteTimeout: /events is long-lived.
		},
	}
	go s.invalidateOnExit(ctx, cfg.Sessions.Subscribe(ctx))
	return s, nil
}

func (s *Server) invalidateOnExit(ctx context.Context, lifecycle <-chan pubsub.Event[session.Info]) {
	defer close(s.done)
	for ev := range lifecycle {
		if ev.Type == pubsub.SessionExited {
			s.handler.Invalidate(ctx, ev.Payload.ID)
		}
	}
}

// Start serves HTTP. It blocks until the server is stopped or fails.
func (s *Server) Start() error {
	log.Info(log.CatAPI, "Starting API server", "addr", s.listener.Addr().String(), "port", s.port)
	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatAPI, "Stopping API server")
	s.cancel()
	err := s.server.Shutdown(ctx)
	<-s.done
	return err
}

// Port returns the actual port the server is listening on.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the server's handler.
func (s *Server) Handler() *Handler {
	return s.handler
}
