package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/cockpit/internal/events"
	"github.com/zjrosen/cockpit/internal/journal"
	"github.com/zjrosen/cockpit/internal/pubsub"
	"github.com/zjrosen/cockpit/internal/session"
	"github.com/zjrosen/cockpit/internal/workflow"
)

// fakeSessions serves a fixed list; Get reports ids in gone as removed.
type fakeSessions struct {
	infos  []session.Info
	gone   map[string]bool
	broker *pubsub.Broker[session.Info]
}

func newFakeSessions(infos ...session.Info) *fakeSessions {
	return &fakeSessions{infos: infos, gone: map[string]bool{}, broker: pubsub.NewBroker[session.Info]()}
}

func (f *fakeSessions) List() []session.Info { return f.infos }

func (f *fakeSessions) Get(id string) (*session.Session, error) {
	if f.gone[id] {
		return nil, fmt.Errorf("session %s: %w", id, session.ErrNotRunning)
	}
	return nil, fmt.Errorf("session %s: %w", id, session.ErrNotFound)
}

func (f *fakeSessions) Subscribe(ctx context.Context) <-chan pubsub.Event[session.Info] {
	return f.broker.Subscribe(ctx)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	sessions := newFakeSessions(
		session.Info{ID: "a", Status: session.StatusRunning},
		session.Info{ID: "b", Status: session.StatusExited},
	)
	model := workflow.NewModel()
	defer model.Close()
	require.NoError(t, model.Apply(workflow.Event{Type: workflow.EventNodeUpdate, NodeID: "n1", Status: "running"}))

	h := NewHandler(HandlerConfig{
		Sessions:   sessions,
		Workflow:   model,
		EventStats: func() events.Stats { return events.Stats{Applied: 1} },
	}).Routes()

	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, 2, resp.Sessions)
	require.Equal(t, 1, resp.Running)
	require.EqualValues(t, 1, resp.WorkflowVersion)
	require.NotNil(t, resp.Events)
	require.EqualValues(t, 1, resp.Events.Applied)
}

func TestSessions_ListAndErrors(t *testing.T) {
	sessions := newFakeSessions(session.Info{ID: "a", Command: "true"})
	sessions.gone["old"] = true
	model := workflow.NewModel()
	defer model.Close()
	h := NewHandler(HandlerConfig{Sessions: sessions, Workflow: model}).Routes()

	rec := get(t, h, "/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]session.Info](t, rec)
	require.Len(t, list, 1)
	require.Equal(t, "true", list[0].Command)

	rec = get(t, h, "/sessions/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)

	rec = get(t, h, "/sessions/old")
	require.Equal(t, http.StatusGone, rec.Code)
	require.Equal(t, "not_running", decode[ErrorResponse](t, rec).Code)
}

func TestWorkflow_Ordered(t *testing.T) {
	model := workflow.NewModel()
	defer model.Close()
	for _, line := range []string{
		`{"type":"plan.load","nodes":[{"id":"b","deps":["a"]},{"id":"a","status":"passed"}]}`,
		`{"type":"merge.enqueue","branch":"second","position":2}`,
		`{"type":"merge.enqueue","branch":"first","position":1}`,
		`{"type":"health.update","ci":"green"}`,
	} {
		ev, err := workflow.Decode([]byte(line))
		require.NoError(t, err)
		require.NoError(t, model.Apply(ev))
	}

	h := NewHandler(HandlerConfig{Sessions: newFakeSessions(), Workflow: model}).Routes()
	rec := get(t, h, "/workflow")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[WorkflowResponse](t, rec)
	require.EqualValues(t, 4, resp.Version)
	require.Equal(t, "a", resp.Nodes[0].ID)
	require.Equal(t, []string{"a"}, resp.Nodes[1].Deps)
	require.Equal(t, "first", resp.Queue[0].ID)
	require.Equal(t, "green", resp.Health["ci"])
}

func TestHistory(t *testing.T) {
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	defer j.Close()
	j.SessionSpawned(session.Info{ID: "s1", Command: "make", Argv: []string{"make"}, CreatedAt: time.Now()})

	model := workflow.NewModel()
	defer model.Close()
	h := NewHandler(HandlerConfig{Sessions: newFakeSessions(), Workflow: model, History: j})
	routes := h.Routes()

	rec := get(t, routes, "/history/s1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, decode[journal.Record](t, rec).ExitCode)

	// Cached until invalidated.
	code := 2
	j.SessionExited(session.Info{ID: "s1", ExitCode: &code})
	require.Nil(t, decode[journal.Record](t, get(t, routes, "/history/s1")).ExitCode)
	h.Invalidate(context.Background(), "s1")
	rec = get(t, routes, "/history/s1")
	require.NotNil(t, decode[journal.Record](t, rec).ExitCode)

	rec = get(t, routes, "/history/ghost")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, routes, "/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]journal.Record](t, rec), 1)

	rec = get(t, routes, "/history?limit=zero")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory_Disabled(t *testing.T) {
	model := workflow.NewModel()
	defer model.Close()
	h := NewHandler(HandlerConfig{Sessions: newFakeSessions(), Workflow: model}).Routes()
	require.Equal(t, http.StatusNotFound, get(t, h, "/history").Code)
	require.Equal(t, http.StatusNotFound, get(t, h, "/history/x").Code)
}

func TestServer_StreamsEventsAndInvalidates(t *testing.T) {
	sessions := newFakeSessions()
	model := workflow.NewModel()
	defer model.Close()

	srv, err := NewServer(ServerConfig{
		Addr:          "127.0.0.1:0",
		HandlerConfig: HandlerConfig{Sessions: sessions, Workflow: model},
	})
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/events", srv.Port()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	next := func() string {
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return ""
				}
				if strings.HasPrefix(line, "event: ") {
					return strings.TrimPrefix(line, "event: ")
				}
			case <-time.After(2 * time.Second):
				return ""
			}
		}
	}

	require.Equal(t, "connected", next())

	// Subscriptions are taken before the connected event is written.
	sessions.broker.Publish(pubsub.SessionSpawned, session.Info{ID: "s1"})
	require.Equal(t, "session.spawned", next())

	require.NoError(t, model.Apply(workflow.Event{Type: workflow.EventMergeEnqueue, Branch: "b1"}))
	require.Equal(t, "workflow.merge.enqueue", next())
}

func TestNewServer_RejectsNonLoopback(t *testing.T) {
	model := workflow.NewModel()
	defer model.Close()
	_, err := NewServer(ServerConfig{Addr: "0.0.0.0:0", HandlerConfig: HandlerConfig{Sessions: newFakeSessions(), Workflow: model}})
	require.Error(t, err)
}
