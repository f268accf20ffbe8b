package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventType tags a WorkflowEvent.
type EventType string

const (
	EventPlanLoad     EventType = "plan.load"
	EventNodeUpdate   EventType = "node.update"
	EventMergeEnqueue EventType = "merge.enqueue"
	EventMergeUpdate  EventType = "merge.update"
	EventMergeDequeue EventType = "merge.dequeue"
	EventHealthUpdate EventType = "health.update"
)

// NodeStatus is the state of a plan node.
type NodeStatus string

const (
	NodeQueued  NodeStatus = "queued"
	NodeRunning NodeStatus = "running"
	NodePassed  NodeStatus = "passed"
	NodeFailed  NodeStatus = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeQueued, NodeRunning, NodePassed, NodeFailed:
		return true
	}
	return false
}

var (
	// ErrMalformed marks lines that are not a valid event. The line is
	// dropped; the connection and the model stay usable.
	ErrMalformed = errors.New("malformed event")

	// ErrUnknownType marks well-formed events with a type we do not handle.
	ErrUnknownType = errors.New("unknown event type")
)

// PlanNode is one node of a plan.load payload.
type PlanNode struct {
	ID     string     `json:"id"`
	Status NodeStatus `json:"status,omitempty"`
	Deps   []string   `json:"deps,omitempty"`
}

// Event is a decoded WorkflowEvent. Which fields are meaningful depends
// on Type.
type Event struct {
	Type EventType `json:"type"`

	// plan.load
	Nodes []PlanNode `json:"nodes,omitempty"`

	// node.update
	NodeID string `json:"node_id,omitempty"`

	// node.update and merge.*; a NodeStatus for nodes, free-form for merges.
	Status string `json:"status,omitempty"`

	// merge.*
	Branch   string `json:"branch,omitempty"`
	Position *int   `json:"position,omitempty"`

	// health.update: every field except type.
	Health map[string]any `json:"-"`
}

type envelope struct {
	Type EventType `json:"type"`
}

type nodeUpdate struct {
	NodeID string     `json:"node_id"`
	Status NodeStatus `json:"status"`
}

type planLoad struct {
	Nodes []PlanNode `json:"nodes"`
}

type mergeEvent struct {
	Branch   string  `json:"branch"`
	Status   *string `json:"status"`
	Position *int    `json:"position"`
}

// Decode parses one JSON line. Errors wrap ErrMalformed or ErrUnknownType.
func Decode(line []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	ev := Event{Type: env.Type}
	switch env.Type {
	case EventPlanLoad:
		var p planLoad
		if err := json.Unmarshal(line, &p); err != nil {
			return Event{}, malformed(env.Type, err)
		}
		for i, n := range p.Nodes {
			if strings.TrimSpace(n.ID) == "" {
				return Event{}, fmt.Errorf("%w: %s: node %d has no id", ErrMalformed, env.Type, i)
			}
			if n.Status == "" {
				p.Nodes[i].Status = NodeQueued
			} else if !n.Status.Valid() {
				return Event{}, fmt.Errorf("%w: %s: node %s has status %q", ErrMalformed, env.Type, n.ID, n.Status)
			}
		}
		ev.Nodes = p.Nodes

	case EventNodeUpdate:
		var u nodeUpdate
		if err := json.Unmarshal(line, &u); err != nil {
			return Event{}, malformed(env.Type, err)
		}
		if u.NodeID == "" {
			return Event{}, fmt.Errorf("%w: %s: node_id required", ErrMalformed, env.Type)
		}
		if !u.Status.Valid() {
			return Event{}, fmt.Errorf("%w: %s: status %q", ErrMalformed, env.Type, u.Status)
		}
		ev.NodeID, ev.Status = u.NodeID, string(u.Status)

	case EventMergeEnqueue, EventMergeUpdate, EventMergeDequeue:
		var m mergeEvent
		if err := json.Unmarshal(line, &m); err != nil {
			return Event{}, malformed(env.Type, err)
		}
		if m.Branch == "" {
			return Event{}, fmt.Errorf("%w: %s: branch required", ErrMalformed, env.Type)
		}
		if m.Position != nil && *m.Position < 0 {
			return Event{}, fmt.Errorf("%w: %s: negative position", ErrMalformed, env.Type)
		}
		ev.Branch, ev.Position = m.Branch, m.Position
		if m.Status != nil {
			ev.Status = *m.Status
		}

	case EventHealthUpdate:
		var fields map[string]any
		if err := json.Unmarshal(line, &fields); err != nil {
			return Event{}, malformed(env.Type, err)
		}
		delete(fields, "type")
		ev.Health = fields

	default:
		return ev, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return ev, nil
}

func malformed(t EventType, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrMalformed, t, err)
}

// Encode renders ev as one JSON line without the trailing newline.
// health.update fields are flattened next to type.
func Encode(ev Event) ([]byte, error) {
	if ev.Type != EventHealthUpdate {
		return json.Marshal(ev)
	}
	flat := make(map[string]any, len(ev.Health)+1)
	for k, v := range ev.Health {
		flat[k] = v
	}
	flat["type"] = ev.Type
	return json.Marshal(flat)
}
