package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/cockpit/internal/cachemanager"
	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/pubsub"
)

// Observer is told about lifecycle transitions. Calls happen on session
// goroutines and must not block for long.
type Observer interface {
	SessionSpawned(info Info)
	SessionExited(info Info)
}

// Tombstone remembers a removed session so its id keeps answering
// ErrNotRunning instead of ErrNotFound.
type Tombstone struct {
	ID        string    `json:"id"`
	ExitCode  int       `json:"exit_code"`
	RemovedAt time.Time `json:"removed_at"`
}

// Manager is the registry of live and exited sessions.
type Manager struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	tombstones cachemanager.Cache[string, Tombstone]
	observers  []Observer
	broker     *pubsub.Broker[Info]
}

// NewManager creates an empty manager.
func NewManager(opts Options, observers ...Observer) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:       opts,
		sessions:   make(map[string]*Session),
		tombstones: cachemanager.NewInMemory[string, Tombstone]("session-tombstones", opts.TombstoneTTL, cachemanager.DefaultCleanupInterval),
		observers:  observers,
		broker:     pubsub.NewBroker[Info](),
	}
}

// Options returns the effective options, defaults applied.
func (m *Manager) Options() Options { return m.opts }

// Subscribe streams session.spawned, session.exited and session.removed
// events until ctx ends or the manager shuts down.
func (m *Manager) Subscribe(ctx context.Context) <-chan pubsub.Event[Info] {
	return m.broker.Subscribe(ctx)
}

// Spawn starts a session and registers it under a fresh id.
func (m *Manager) Spawn(spec LaunchSpec) (*Session, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}

	s, err := spawn(uuid.NewString(), spec, m.opts, hooks{started: m.started, exited: m.exited})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		// Shutdown won the race; this session never becomes visible.
		_, _ = s.Close(context.Background())
		return nil, ErrManagerClosed
	}
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) started(s *Session) {
	info := s.Info()
	for _, o := range m.observers {
		o.SessionSpawned(info)
	}
	m.broker.Publish(pubsub.SessionSpawned, info)
}

func (m *Manager) exited(s *Session) {
	info := s.Info()
	for _, o := range m.observers {
		o.SessionExited(info)
	}
	m.broker.Publish(pubsub.SessionExited, info)
}

// Get returns the session registered under id. Removed ids yield
// ErrNotRunning while their tombstone lasts; unknown ids ErrNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if _, ok := m.tombstones.Get(context.Background(), id); ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotRunning)
	}
	return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
}

// Tombstone returns the record of a removed session.
func (m *Manager) Tombstone(id string) (Tombstone, bool) {
	return m.tombstones.Get(context.Background(), id)
}

// List describes every registered session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.RUnlock()

	slices.SortFunc(infos, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return infos
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Remove closes the session if needed, unregisters it and leaves a tombstone.
func (m *Manager) Remove(ctx context.Context, id string) (int, error) {
	s, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	code, err := s.Close(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	m.tombstones.Set(ctx, id, Tombstone{ID: id, ExitCode: code, RemovedAt: time.Now()}, m.opts.TombstoneTTL)
	m.broker.Publish(pubsub.SessionRemoved, s.Info())
	log.Info(log.CatSession, "removed", "id", id, "code", code)
	return code, nil
}

// Shutdown closes every session concurrently and refuses new spawns. Each
// pseudo-terminal is released through its session's teardown. ctx bounds
// the whole operation.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	log.Info(log.CatSession, "shutting down", "sessions", len(sessions))

	var wg sync.WaitGroup
	errs := make(chan error, len(sessions))
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Close(ctx); err != nil {
				errs <- fmt.Errorf("close %s: %w", s.ID(), err)
			}
		}()
	}
	wg.Wait()
	close(errs)

	m.broker.Close()

	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
		log.ErrorErr(log.CatSession, "shutdown close failed", err)
	}
	return first
}
