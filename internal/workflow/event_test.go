package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode_NodeUpdate(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"node.update","node_id":"n2","status":"running"}`))
	require.NoError(t, err)
	require.Equal(t, Event{Type: EventNodeUpdate, NodeID: "n2", Status: "running"}, ev)
}

func TestDecode_PlanLoadDefaultsStatus(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"plan.load","nodes":[{"id":"a"},{"id":"b","status":"passed","deps":["a"]}]}`))
	require.NoError(t, err)
	require.Equal(t, []PlanNode{
		{ID: "a", Status: NodeQueued},
		{ID: "b", Status: NodePassed, Deps: []string{"a"}},
	}, ev.Nodes)
}

func TestDecode_Merge(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"merge.enqueue","branch":"feat/x","status":"queued","position":2}`))
	require.NoError(t, err)
	require.Equal(t, "feat/x", ev.Branch)
	require.Equal(t, "queued", ev.Status)
	require.NotNil(t, ev.Position)
	require.Equal(t, 2, *ev.Position)

	ev, err = Decode([]byte(`{"type":"merge.dequeue","branch":"feat/x"}`))
	require.NoError(t, err)
	require.Nil(t, ev.Position)
}

func TestDecode_Health(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"health.update","cost_usd":1.5,"tokens":{"in":10}}`))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"cost_usd": 1.5, "tokens": map[string]any{"in": float64(10)}}, ev.Health)
}

func TestDecode_Malformed(t *testing.T) {
	lines := map[string]string{
		"not json":             `{"type":`,
		"no type":              `{"node_id":"n1"}`,
		"node without id":      `{"type":"node.update","status":"running"}`,
		"bad node status":      `{"type":"node.update","node_id":"n1","status":"done"}`,
		"plan node no id":      `{"type":"plan.load","nodes":[{"status":"queued"}]}`,
		"plan bad status":      `{"type":"plan.load","nodes":[{"id":"a","status":"weird"}]}`,
		"merge without branch": `{"type":"merge.update","status":"testing"}`,
		"negative position":    `{"type":"merge.enqueue","branch":"b","position":-1}`,
		"wrong field type":     `{"type":"node.update","node_id":7,"status":"running"}`,
		"array":                `[1,2,3]`,
	}
	for name, line := range lines {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(line))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecode_UnknownType(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"cost.tick","usd":3}`))
	require.ErrorIs(t, err, ErrUnknownType)
	require.Equal(t, EventType("cost.tick"), ev.Type)
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	pos := 1
	for _, ev := range []Event{
		{Type: EventNodeUpdate, NodeID: "n1", Status: "failed"},
		{Type: EventMergeUpdate, Branch: "b", Status: "testing", Position: &pos},
		{Type: EventHealthUpdate, Health: map[string]any{"ok": true}},
	} {
		line, err := Encode(ev)
		require.NoError(t, err)
		got, err := Decode(line)
		require.NoError(t, err)
		require.Equal(t, ev, got)
	}
}
