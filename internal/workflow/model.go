// Package workflow holds the shared DAG-node and merge-queue model that
// the event stream mutates and renderers read.
//
// A Model is created empty with NewModel and discarded with Close; there is
// no package-level instance. It is not persisted.
package workflow

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/pubsub"
)

// ErrClosed is returned by Apply after Close.
var ErrClosed = errors.New("workflow model closed")

// Node is one DAG node.
type Node struct {
	ID     string     `json:"id"`
	Status NodeStatus `json:"status"`
	Deps   []string   `json:"deps,omitempty"`
}

// Branch is one merge-queue entry.
type Branch struct {
	ID       string `json:"branch"`
	Status   string `json:"status,omitempty"`
	Position int    `json:"position"`
}

// State is a deep copy of the model at one version.
type State struct {
	Version   uint64            `json:"version"`
	Nodes     map[string]Node   `json:"nodes"`
	Merges    map[string]Branch `json:"merges"`
	Health    map[string]any    `json:"health"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SortedNodes returns the nodes ordered by id.
func (s State) SortedNodes() []Node {
	nodes := slices.Collect(maps.Values(s.Nodes))
	slices.SortFunc(nodes, func(a, b Node) int { return strings.Compare(a.ID, b.ID) })
	return nodes
}

// Queue returns the merge queue ordered by position, then branch.
func (s State) Queue() []Branch {
	queue := slices.Collect(maps.Values(s.Merges))
	slices.SortFunc(queue, func(a, b Branch) int {
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return strings.Compare(a.ID, b.ID)
	})
	return queue
}

// Change describes one applied event.
type Change struct {
	Version uint64    `json:"version"`
	Type    EventType `json:"type"`
	Key     string    `json:"key,omitempty"`
}

// Model is the process-wide workflow state. All mutation goes through
// Apply, each call holding the lock for exactly one event.
type Model struct {
	mu        sync.RWMutex
	nodes     map[string]Node
	merges    map[string]Branch
	health    map[string]any
	version   uint64
	updatedAt time.Time
	closed    bool

	broker *pubsub.Broker[Change]
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{
		nodes:  make(map[string]Node),
		merges: make(map[string]Branch),
		health: make(map[string]any),
		broker: pubsub.NewBroker[Change](),
	}
}

// Subscribe streams a Change per applied event until ctx ends or the model
// is closed.
func (m *Model) Subscribe(ctx context.Context) <-chan pubsub.Event[Change] {
	return m.broker.Subscribe(ctx)
}

// Apply mutates the model with one event.
//
//   - plan.load replaces the node map wholesale
//   - node.update and merge.update insert unknown ids
//   - merge.enqueue appends at the tail unless a position is given
//   - merge.dequeue removes the branch, unknown branches are ignored
//   - health.update merges keys, last writer wins
func (m *Model) Apply(ev Event) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	change := Change{Type: ev.Type}
	switch ev.Type {
	case EventPlanLoad:
		nodes := make(map[string]Node, len(ev.Nodes))
		for _, n := range ev.Nodes {
			status := n.Status
			if status == "" {
				status = NodeQueued
			}
			nodes[n.ID] = Node{ID: n.ID, Status: status, Deps: slices.Clone(n.Deps)}
		}
		m.nodes = nodes

	case EventNodeUpdate:
		node := m.nodes[ev.NodeID]
		node.ID = ev.NodeID
		node.Status = NodeStatus(ev.Status)
		m.nodes[ev.NodeID] = node
		change.Key = ev.NodeID

	case EventMergeEnqueue, EventMergeUpdate:
		b, known := m.merges[ev.Branch]
		b.ID = ev.Branch
		if ev.Status != "" {
			b.Status = ev.Status
		}
		switch {
		case ev.Position != nil:
			b.Position = *ev.Position
		case !known || ev.Type == EventMergeEnqueue:
			b.Position = m.tailLocked(ev.Branch)
		}
		m.merges[ev.Branch] = b
		change.Key = ev.Branch

	case EventMergeDequeue:
		delete(m.merges, ev.Branch)
		change.Key = ev.Branch

	case EventHealthUpdate:
		for k, v := range ev.Health {
			m.health[k] = v
		}

	default:
		m.mu.Unlock()
		return ErrUnknownType
	}

	m.version++
	m.updatedAt = time.Now()
	change.Version = m.version
	m.mu.Unlock()

	log.Debug(log.CatWorkflow, "applied", "type", ev.Type, "key", change.Key, "version", change.Version)
	m.broker.Publish(pubsub.UpdatedEvent, change)
	return nil
}

// tailLocked returns the position after the last queued branch other than
// skip.
func (m *Model) tailLocked(skip string) int {
	tail := 0
	for id, b := range m.merges {
		if id != skip && b.Position+1 > tail {
			tail = b.Position + 1
		}
	}
	return tail
}

// Version returns the number of events applied.
func (m *Model) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Node returns one node.
func (m *Model) Node(id string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	n.Deps = slices.Clone(n.Deps)
	return n, ok
}

// Branch returns one merge-queue entry.
func (m *Model) Branch(id string) (Branch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.merges[id]
	return b, ok
}

// Snapshot deep-copies the model.
func (m *Model) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodes := make(map[string]Node, len(m.nodes))
	for id, n := range m.nodes {
		n.Deps = slices.Clone(n.Deps)
		nodes[id] = n
	}
	return State{
		Version:   m.version,
		Nodes:     nodes,
		Merges:    maps.Clone(m.merges),
		Health:    deepCopy(m.health).(map[string]any),
		UpdatedAt: m.updatedAt,
	}
}

// Close discards the model's contents and ends subscriptions. Later Apply
// calls return ErrClosed.
func (m *Model) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.nodes = map[string]Node{}
	m.merges = map[string]Branch{}
	m.health = map[string]any{}
	m.mu.Unlock()

	m.broker.Close()
}

// deepCopy copies the maps and slices produced by encoding/json.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
