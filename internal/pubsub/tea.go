package pubsub

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Batch is a burst of events delivered to a Bubble Tea model as a single
// message. A renderer that repaints from a snapshot pays for one View per
// burst instead of one per event.
type Batch[T any] struct {
	Events []Event[T]
}

// Last returns the newest event in the batch.
func (b Batch[T]) Last() Event[T] {
	return b.Events[len(b.Events)-1]
}

// Payloads returns the batch payloads in publish order.
func (b Batch[T]) Payloads() []T {
	out := make([]T, len(b.Events))
	for i, e := range b.Events {
		out[i] = e.Payload
	}
	return out
}

// ListenCmd returns a tea.Cmd that yields the next event from ch as a tea.Msg,
// or nil once ctx is cancelled or ch is closed.
func ListenCmd[T any](ctx context.Context, ch <-chan Event[T]) tea.Cmd {
	return func() tea.Msg {
		event, ok := next(ctx, ch)
		if !ok {
			return nil
		}
		return event
	}
}

// BatchCmd waits for the next event on ch like ListenCmd, then takes up to
// limit-1 more that are already queued, and yields them as one Batch. It
// never waits for a second event.
func BatchCmd[T any](ctx context.Context, ch <-chan Event[T], limit int) tea.Cmd {
	limit = max(limit, 1)
	return func() tea.Msg {
		first, ok := next(ctx, ch)
		if !ok {
			return nil
		}
		batch := Batch[T]{Events: []Event[T]{first}}
		for len(batch.Events) < limit {
			select {
			case event, ok := <-ch:
				if !ok {
					return batch
				}
				batch.Events = append(batch.Events, event)
			default:
				return batch
			}
		}
		return batch
	}
}

func next[T any](ctx context.Context, ch <-chan Event[T]) (Event[T], bool) {
	select {
	case <-ctx.Done():
		return Event[T]{}, false
	case event, ok := <-ch:
		return event, ok
	}
}

// ContinuousListener keeps one subscription alive across Bubble Tea updates.
// Re-arm it from Update after each received message.
type ContinuousListener[T any] struct {
	ctx context.Context
	ch  <-chan Event[T]
}

// NewContinuousListener subscribes to broker for the lifetime of ctx.
func NewContinuousListener[T any](ctx context.Context, broker *Broker[T]) *ContinuousListener[T] {
	return &ContinuousListener[T]{
		ctx: ctx,
		ch:  broker.Subscribe(ctx),
	}
}

// Listen returns a tea.Cmd waiting for the next event.
func (l *ContinuousListener[T]) Listen() tea.Cmd {
	return ListenCmd(l.ctx, l.ch)
}

// Batch returns a tea.Cmd waiting for the next burst of up to limit events.
func (l *ContinuousListener[T]) Batch(limit int) tea.Cmd {
	return BatchCmd(l.ctx, l.ch, limit)
}
