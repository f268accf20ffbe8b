// Package bridge is the headless test bridge: a request/response protocol
// that drives sessions and reads their screens without any renderer. The
// same Bridge serves JSON-lines connections (Server) and in-process callers
// (Handle).
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/session"
	"github.com/zjrosen/cockpit/internal/tracing"
)

const (
	// DefaultTimeout bounds input writes and close when a request has no
	// timeout_ms.
	DefaultTimeout = 10 * time.Second
	// DefaultWaitTimeout bounds wait when a request has no timeout_ms.
	DefaultWaitTimeout = 60 * time.Second
)

// Sessions is the registry the bridge drives. *session.Manager implements it.
type Sessions interface {
	Spawn(spec session.LaunchSpec) (*session.Session, error)
	Get(id string) (*session.Session, error)
	List() []session.Info
	Remove(ctx context.Context, id string) (int, error)
}

// Bridge executes requests against a session registry.
type Bridge struct {
	sessions Sessions
	locks    *keyedMutex
	tracer   trace.Tracer
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTracer records a span per request.
func WithTracer(t trace.Tracer) Option {
	return func(b *Bridge) {
		if t != nil {
			b.tracer = t
		}
	}
}

// New creates a Bridge over sessions.
func New(sessions Sessions, opts ...Option) *Bridge {
	b := &Bridge{
		sessions: sessions,
		locks:    newKeyedMutex(),
		tracer:   noop.NewTracerProvider().Tracer("bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle executes one request and always returns a response carrying its id.
// Mutating operations on one session run one at a time; other sessions are
// not blocked.
func (b *Bridge) Handle(ctx context.Context, req Request) Response {
	ctx, span := b.tracer.Start(ctx, tracing.SpanBridgeRequest, trace.WithAttributes(
		attribute.String(tracing.AttrBridgeOp, string(req.Op)),
		attribute.String(tracing.AttrRequestID, req.ID),
		attribute.String(tracing.AttrSessionID, req.SessionID),
	))
	defer span.End()

	start := time.Now()
	result, err := b.dispatch(ctx, req)
	if err != nil {
		e := toError(err)
		tracing.Fail(span, string(e.Code), err)
		log.Debug(log.CatBridge, "request failed",
			"id", req.ID, "op", req.Op, "session", req.SessionID, "code", e.Code, "error", e.Message)
		return Response{ID: req.ID, Error: e}
	}

	resp := Response{ID: req.ID, OK: true}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			tracing.Fail(span, string(CodeInternal), err)
			return Response{ID: req.ID, Error: &Error{Code: CodeInternal, Message: err.Error()}}
		}
		resp.Result = raw
	}
	log.Debug(log.CatBridge, "request done",
		"id", req.ID, "op", req.Op, "session", req.SessionID, "duration", time.Since(start))
	return resp
}

func (b *Bridge) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Op {
	case OpOpen:
		return b.open(req)
	case OpList:
		return ListResult{Sessions: b.sessions.List()}, nil
	case "":
		return nil, protocolErrorf("missing op")
	case OpInput, OpResize, OpSignal, OpSnapshot, OpClose, OpWait, OpRemove:
	default:
		return nil, protocolErrorf("unknown op %q", req.Op)
	}

	if req.SessionID == "" {
		return nil, protocolErrorf("%s: session_id required", req.Op)
	}
	if req.Op.mutating() {
		unlock := b.locks.Lock(req.SessionID)
		defer unlock()
	}
	if req.Op == OpRemove {
		code, err := b.sessions.Remove(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		return ExitResult{ExitCode: code}, nil
	}

	s, err := b.sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}

	switch req.Op {
	case OpInput:
		data, err := req.Input()
		if err != nil {
			return nil, err
		}
		ctx, cancel := withTimeout(ctx, req.TimeoutMS, DefaultTimeout)
		defer cancel()
		return nil, s.Write(ctx, data)

	case OpResize:
		if err := s.Resize(req.Rows, req.Cols); err != nil {
			return nil, err
		}
		return nil, nil

	case OpSignal:
		intent, err := session.ParseIntent(req.Intent)
		if err != nil {
			return nil, &ProtocolError{Reason: err.Error()}
		}
		ctx, cancel := withTimeout(ctx, req.TimeoutMS, DefaultTimeout)
		defer cancel()
		return nil, s.Deliver(ctx, intent)

	case OpSnapshot:
		return snapshotResult(s.Snapshot()), nil

	case OpClose:
		ctx, cancel := withTimeout(ctx, req.TimeoutMS, DefaultTimeout)
		defer cancel()
		code, err := s.Close(ctx)
		if err != nil {
			return nil, err
		}
		return ExitResult{ExitCode: code}, nil

	default: // OpWait
		ctx, cancel := withTimeout(ctx, req.TimeoutMS, DefaultWaitTimeout)
		defer cancel()
		code, err := s.Wait(ctx)
		if err != nil {
			return nil, err
		}
		return ExitResult{ExitCode: code}, nil
	}
}

func (b *Bridge) open(req Request) (any, error) {
	if req.Launch == nil {
		return nil, protocolErrorf("open: launch required")
	}
	s, err := b.sessions.Spawn(*req.Launch)
	if err != nil {
		return nil, err
	}
	log.Info(log.CatBridge, "session opened", "id", s.ID(), "argv", s.Argv())
	return OpenResult{SessionID: s.ID(), Pid: s.Pid(), Argv: s.Argv()}, nil
}

func snapshotResult(snap session.Snapshot) SnapshotResult {
	return SnapshotResult{
		Grid:          snap.Screen.Lines,
		Cursor:        snap.Screen.Cursor,
		Rows:          snap.Screen.Rows,
		Cols:          snap.Screen.Cols,
		Status:        snap.Status,
		ExitCode:      snap.ExitCode,
		Offset:        snap.Screen.Offset,
		ScrollbackLen: snap.Screen.ScrollbackLen,
	}
}

func withTimeout(ctx context.Context, ms int, fallback time.Duration) (context.Context, context.CancelFunc) {
	d := fallback
	if ms > 0 {
		d = time.Duration(ms) * time.Millisecond
	}
	return context.WithTimeout(ctx, d)
}

// toError maps a Go error onto the wire taxonomy.
func toError(err error) *Error {
	var (
		wire     *Error
		spawnErr *session.SpawnError
		ioErr    *session.IOError
		protoErr *ProtocolError
	)
	code := CodeInternal
	switch {
	case errors.As(err, &wire):
		return wire
	case errors.As(err, &protoErr), errors.Is(err, session.ErrInvalidSize):
		code = CodeProtocolError
	case errors.As(err, &spawnErr):
		code = CodeSpawnError
	case errors.Is(err, session.ErrNotRunning), errors.Is(err, session.ErrManagerClosed):
		code = CodeNotRunning
	case errors.Is(err, session.ErrNotFound):
		code = CodeNotFound
	case errors.As(err, &ioErr):
		code = CodeIOError
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = CodeTimeout
	}
	return &Error{Code: code, Message: err.Error()}
}
