// Package events runs the event stream server: a loopback TCP listener
// that reads newline-delimited JSON WorkflowEvents and applies them to a
// workflow model, one goroutine per connection.
package events

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/netutil"
	"github.com/zjrosen/cockpit/internal/tracing"
	"github.com/zjrosen/cockpit/internal/workflow"
)

const (
	DefaultAddr    = "127.0.0.1:7777"
	DefaultMaxLine = 1 << 20
)

// Applier receives decoded events. *workflow.Model implements it.
type Applier interface {
	Apply(ev workflow.Event) error
}

// Config configures a Server.
type Config struct {
	// Addr must be a loopback host:port.
	Addr string
	// MaxLine is the longest accepted line in bytes; longer lines are
	// dropped as protocol errors.
	MaxLine int
	Tracer  trace.Tracer
}

// Stats counts what the server has seen since it started.
type Stats struct {
	Accepted  uint64 `json:"accepted"`
	Active    int64  `json:"active"`
	Applied   uint64 `json:"applied"`
	Malformed uint64 `json:"malformed"`
	Unknown   uint64 `json:"unknown"`
	Oversized uint64 `json:"oversized"`
}

// Server is the event stream server.
type Server struct {
	model   Applier
	maxLine int
	tracer  trace.Tracer

	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup

	accepted  atomic.Uint64
	active    atomic.Int64
	applied   atomic.Uint64
	malformed atomic.Uint64
	unknown   atomic.Uint64
	oversized atomic.Uint64
}

// NewServer listens on cfg.Addr right away so Addr reports the bound port
// even when configured with port 0.
func NewServer(cfg Config, model Applier) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxLine <= 0 {
		cfg.MaxLine = DefaultMaxLine
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("events")
	}

	ln, err := netutil.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		model:    model,
		maxLine:  cfg.MaxLine,
		tracer:   cfg.Tracer,
		listener: ln,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Stats returns a copy of the counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:  s.accepted.Load(),
		Active:    s.active.Load(),
		Applied:   s.applied.Load(),
		Malformed: s.malformed.Load(),
		Unknown:   s.unknown.Load(),
		Oversized: s.oversized.Load(),
	}
}

// Serve accepts connections until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.listener.Close() })
	defer stop()

	log.Info(log.CatEvents, "event server listening", "addr", s.Addr().String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.ErrorErr(log.CatEvents, "accept failed", err)
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		s.accepted.Add(1)
		s.active.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.active.Add(-1)
			defer s.untrack(conn)
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// Stop closes the listener and every open connection, then waits for the
// handlers to return or ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		_ = s.listener.Close()
		for conn := range s.conns {
			_ = conn.Close()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log.Debug(log.CatEvents, "connection opened", "remote", remote)

	r := bufio.NewReaderSize(conn, 64*1024)
	lineNo := 0
	for {
		line, tooLong, err := netutil.ReadLine(r, s.maxLine)
		if len(line) > 0 || tooLong {
			lineNo++
			s.process(ctx, remote, lineNo, line, tooLong)
		}
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				log.Debug(log.CatEvents, "connection read error", "remote", remote, "error", err)
			}
			break
		}
	}
	log.Debug(log.CatEvents, "connection closed", "remote", remote, "lines", lineNo)
}

func (s *Server) process(ctx context.Context, remote string, lineNo int, line []byte, tooLong bool) {
	_, span := s.tracer.Start(ctx, tracing.SpanEventsLine, trace.WithAttributes(
		attribute.String(tracing.AttrRemoteAddr, remote),
		attribute.Int("line", lineNo),
	))
	defer span.End()

	if tooLong {
		s.oversized.Add(1)
		log.Warn(log.CatEvents, "line exceeds limit, dropped", "remote", remote, "line", lineNo, "max", s.maxLine)
		tracing.Fail(span, "protocol_error", netutil.ErrLineTooLong)
		return
	}

	ev, err := workflow.Decode(line)
	span.SetAttributes(attribute.String(tracing.AttrEventType, string(ev.Type)))
	switch {
	case errors.Is(err, workflow.ErrUnknownType):
		s.unknown.Add(1)
		log.Warn(log.CatEvents, "unknown event type ignored", "remote", remote, "line", lineNo, "type", ev.Type)
		return
	case err != nil:
		s.malformed.Add(1)
		log.Warn(log.CatEvents, "malformed event dropped", "remote", remote, "line", lineNo, "error", err)
		tracing.Fail(span, "protocol_error", err)
		return
	}

	if err := s.model.Apply(ev); err != nil {
		log.ErrorErr(log.CatEvents, "apply failed", err, "remote", remote, "type", ev.Type)
		tracing.Fail(span, "internal", err)
		return
	}
	s.applied.Add(1)
}
