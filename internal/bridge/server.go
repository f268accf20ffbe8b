package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/netutil"
)

const (
	DefaultNetwork = "unix"
	// DefaultMaxRequest caps one request line.
	DefaultMaxRequest = 4 << 20
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Network is "unix" or "tcp". TCP addresses must be loopback.
	Network    string
	Addr       string
	MaxRequest int
}

// Server exposes a Bridge as JSON lines: one Request per line in, one
// Response per line out. Responses for one session come back in request
// order; responses for different sessions may interleave.
type Server struct {
	bridge   *Bridge
	listener net.Listener
	network  string
	maxLine  int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer binds the listener immediately. A stale unix socket file at
// Addr is removed first.
func NewServer(cfg ServerConfig, b *Bridge) (*Server, error) {
	if cfg.Network == "" {
		cfg.Network = DefaultNetwork
	}
	if cfg.MaxRequest <= 0 {
		cfg.MaxRequest = DefaultMaxRequest
	}
	if cfg.Network == "unix" {
		if err := os.Remove(cfg.Addr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	ln, err := netutil.Listen(cfg.Network, cfg.Addr)
	if err != nil {
		return nil, err
	}
	if cfg.Network == "unix" {
		if err := os.Chmod(cfg.Addr, 0o600); err != nil {
			_ = ln.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		bridge:   b,
		listener: ln,
		network:  cfg.Network,
		maxLine:  cfg.MaxRequest,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx ends or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Stop(context.Background()) })
	defer stop()

	log.Info(log.CatBridge, "bridge listening", "network", s.network, "addr", s.Addr().String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.ErrorErr(log.CatBridge, "accept failed", err)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(conn)
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

// Stop closes the listener, cancels in-flight requests, closes every
// connection and waits for handlers until ctx ends. Sessions are left to
// their owner.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.cancel()
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

// connection is the per-connection state: a response writer shared by the
// workers and one FIFO worker per session id. Only the reading goroutine
// touches workers and draining.
type connection struct {
	bridge *Bridge
	ctx    context.Context

	writeMu sync.Mutex
	enc     *json.Encoder

	workers map[string]*worker
	// draining holds the done channel of retired workers that may still
	// be running a session's close, keyed by session id.
	draining map[string]<-chan struct{}
	wg       sync.WaitGroup
}

type worker struct {
	reqs chan Request
	done chan struct{}
}

func newConnection(ctx context.Context, b *Bridge, w io.Writer) *connection {
	return &connection{
		bridge:   b,
		ctx:      ctx,
		enc:      json.NewEncoder(w),
		workers:  make(map[string]*worker),
		draining: make(map[string]<-chan struct{}),
	}
}

func (s *Server) serveConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log.Debug(log.CatBridge, "connection opened", "remote", remote)

	c := newConnection(s.ctx, s.bridge, conn)

	r := bufio.NewReaderSize(conn, 64*1024)
	for {
		line, tooLong, err := netutil.ReadLine(r, s.maxLine)
		switch {
		case tooLong:
			c.reply(Response{Error: &Error{Code: CodeProtocolError, Message: netutil.ErrLineTooLong.Error()}})
		case len(line) > 0:
			c.enqueue(line)
		}
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				log.Debug(log.CatBridge, "connection read error", "remote", remote, "error", err)
			}
			break
		}
	}

	c.finish()
	log.Debug(log.CatBridge, "connection closed", "remote", remote)
}

// finish lets queued requests complete; their responses still go out on a
// half-closed connection.
func (c *connection) finish() {
	for key, w := range c.workers {
		close(w.reqs)
		delete(c.workers, key)
	}
	c.wg.Wait()
}

// enqueue decodes one request line and hands it to the worker for its
// session. Session-less ops (open, list) share the "" worker.
func (c *connection) enqueue(line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		// Salvage the id so the harness can correlate the failure.
		var peek struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(line, &peek)
		log.Warn(log.CatBridge, "malformed request dropped", "error", err)
		c.reply(Response{ID: peek.ID, Error: &Error{Code: CodeProtocolError, Message: err.Error()}})
		return
	}

	key := req.SessionID
	if req.Op == OpOpen || req.Op == OpList {
		key = ""
	}
	w, ok := c.workers[key]
	if !ok {
		after := c.draining[key]
		delete(c.draining, key)
		w = c.startWorker(after)
		c.workers[key] = w
	}
	w.reqs <- req

	// Nothing follows a close or remove for this session, so its worker
	// ends once the queue drains. A later request for the same id gets a
	// new worker that waits for this one.
	if key != "" && (req.Op == OpClose || req.Op == OpRemove) {
		close(w.reqs)
		delete(c.workers, key)
		c.pruneDraining()
		c.draining[key] = w.done
	}
}

// startWorker runs a FIFO worker that begins once after is closed.
func (c *connection) startWorker(after <-chan struct{}) *worker {
	w := &worker{
		reqs: make(chan Request, 64),
		done: make(chan struct{}),
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(w.done)
		if after != nil {
			<-after
		}
		for req := range w.reqs {
			c.reply(c.bridge.Handle(c.ctx, req))
		}
	}()
	return w
}

func (c *connection) pruneDraining() {
	for key, done := range c.draining {
		select {
		case <-done:
			delete(c.draining, key)
		default:
		}
	}
}

func (c *connection) reply(resp Response) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(resp); err != nil && !netutil.IsExpectedCloseError(err) {
		log.Debug(log.CatBridge, "write response failed", "id", resp.ID, "error", err)
	}
}
