package events

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/cockpit/internal/netutil"
	"github.com/zjrosen/cockpit/internal/workflow"
)

func startServer(t *testing.T, cfg Config) (*Server, *workflow.Model) {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	model := workflow.NewModel()
	srv, err := NewServer(cfg, model)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		require.NoError(t, srv.Stop(stopCtx))
		require.NoError(t, <-done)
		model.Close()
	})
	return srv, model
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, lines ...string) {
	t.Helper()
	_, err := io.WriteString(conn, strings.Join(lines, ""))
	require.NoError(t, err)
}

func nodeStatus(m *workflow.Model, id string) workflow.NodeStatus {
	n, ok := m.Node(id)
	if !ok {
		return ""
	}
	return n.Status
}

func TestServer_AppliesNodeUpdatesInOrder(t *testing.T) {
	srv, model := startServer(t, Config{})
	conn := dial(t, srv)

	send(t, conn,
		`{"type":"node.update","node_id":"n2","status":"running"}`+"\n",
		`{"type":"node.update","node_id":"n2","status":"passed"}`+"\n",
	)

	require.Eventually(t, func() bool {
		return nodeStatus(model, "n2") == workflow.NodePassed
	}, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 2, srv.Stats().Applied)
}

func TestServer_MalformedLineKeepsConnection(t *testing.T) {
	srv, model := startServer(t, Config{})
	conn := dial(t, srv)

	send(t, conn,
		`{"type":"node.update","node_id":"n1","status":"running"}`+"\n",
		`{"type":"node.update","node_id":`+"\n",
		`{"type":"node.update","node_id":"n1","status":"failed"}`+"\n",
	)

	require.Eventually(t, func() bool {
		return nodeStatus(model, "n1") == workflow.NodeFailed
	}, 2*time.Second, 10*time.Millisecond)
	stats := srv.Stats()
	require.EqualValues(t, 1, stats.Malformed)
	require.EqualValues(t, 2, stats.Applied)
}

func TestServer_UnknownTypeIgnored(t *testing.T) {
	srv, model := startServer(t, Config{})
	conn := dial(t, srv)

	send(t, conn,
		`{"type":"gossip","who":"n3"}`+"\n",
		`{"type":"merge.enqueue","branch":"feat-a"}`+"\n",
	)

	require.Eventually(t, func() bool {
		_, ok := model.Branch("feat-a")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, srv.Stats().Unknown)
}

func TestServer_OversizedLineDropped(t *testing.T) {
	srv, model := startServer(t, Config{MaxLine: 64})
	conn := dial(t, srv)

	long := `{"type":"node.update","node_id":"` + strings.Repeat("x", 200) + `","status":"running"}`
	send(t, conn,
		long+"\n",
		`{"type":"node.update","node_id":"ok","status":"passed"}`+"\n",
	)

	require.Eventually(t, func() bool {
		return nodeStatus(model, "ok") == workflow.NodePassed
	}, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, srv.Stats().Oversized)
	require.Len(t, model.Snapshot().Nodes, 1)
}

func TestServer_FinalUnterminatedLineProcessed(t *testing.T) {
	srv, model := startServer(t, Config{})
	conn := dial(t, srv)

	send(t, conn, `{"type":"node.update","node_id":"tail","status":"running"}`)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	require.Eventually(t, func() bool {
		return nodeStatus(model, "tail") == workflow.NodeRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_IndependentConnections(t *testing.T) {
	srv, model := startServer(t, Config{})
	a := dial(t, srv)
	b := dial(t, srv)

	send(t, a, `{"type":"node.update","node_id":"a","status":"running"}`+"\n")
	send(t, b, `{"type":"node.update","node_id":"b","status":"running"}`+"\n")

	require.Eventually(t, func() bool {
		return nodeStatus(model, "a") == workflow.NodeRunning && nodeStatus(model, "b") == workflow.NodeRunning
	}, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 2, srv.Stats().Accepted)
}

func TestServer_RecordsLineSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	srv, model := startServer(t, Config{Tracer: tp.Tracer("test")})
	conn := dial(t, srv)

	send(t, conn,
		`{"type":"node.update","node_id":"n1","status":"running"}`+"\n",
		`not json`+"\n",
	)
	require.Eventually(t, func() bool {
		return nodeStatus(model, "n1") == workflow.NodeRunning && len(recorder.Ended()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	spans := recorder.Ended()
	require.Equal(t, "events.line", spans[0].Name())
	require.Len(t, spans[1].Events(), 1, "malformed line records its error")
}

func TestNewServer_RejectsNonLoopback(t *testing.T) {
	_, err := NewServer(Config{Addr: "0.0.0.0:0"}, workflow.NewModel())
	require.ErrorIs(t, err, netutil.ErrNotLoopback)
}
