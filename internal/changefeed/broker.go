package changefeed

import (
	"context"
	"sync"

	"atelier/internal/models"
	"atelier/internal/observability"
)

// Feed delivers row changes for a table. The returned channel is closed when
// ctx is done. A ChangeResync event naming the table is delivered on every
// subscription; later resyncs carry no table and mean events were lost, either
// because the underlying feed reconnected or the subscriber fell behind.
type Feed interface {
	Subscribe(ctx context.Context, table string, types ...models.ChangeType) (<-chan models.ChangeEvent, error)
}

const defaultBuffer = 64

type subscription struct {
	mu    sync.Mutex
	table string
	types map[models.ChangeType]bool
	ch    chan models.ChangeEvent
}

func (s *subscription) wants(event models.ChangeEvent) bool {
	if event.Type == models.ChangeResync {
		return true
	}
	if event.Table != s.table {
		return false
	}
	return len(s.types) == 0 || s.types[event.Type]
}

// Broker fans change events out to in-process subscribers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	buffer int
}

// NewBroker creates a broker with per-subscriber buffers of the given size.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{subs: make(map[*subscription]struct{}), buffer: buffer}
}

// Subscribe implements Feed.
func (b *Broker) Subscribe(ctx context.Context, table string, types ...models.ChangeType) (<-chan models.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{
		table: table,
		types: make(map[models.ChangeType]bool, len(types)),
		ch:    make(chan models.ChangeEvent, b.buffer),
	}
	for _, t := range types {
		sub.types[t] = true
	}
	sub.ch <- models.ChangeEvent{Table: table, Type: models.ChangeResync}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch, nil
}

// Publish delivers event to every matching subscriber without blocking. A
// subscriber whose buffer is full loses its queued events and gets a single
// ChangeResync in their place.
func (b *Broker) Publish(event models.ChangeEvent) {
	observability.IncChangefeedEvent(event.Table, string(event.Type))

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.wants(event) {
			sub.offer(event)
		}
	}
}

// offer sends event or, on overflow, replaces the buffer with a resync.
// Callers hold the broker's read lock, so ch is not closed underneath.
func (s *subscription) offer(event models.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- event:
		return
	default:
	}

	observability.IncChangefeedOverflow(s.table)
	for drained := false; !drained; {
		select {
		case <-s.ch:
		default:
			drained = true
		}
	}
	select {
	case s.ch <- models.ChangeEvent{Type: models.ChangeResync}:
	default:
	}
}

// Resync tells every subscriber to rebuild from the store.
func (b *Broker) Resync() {
	b.Publish(models.ChangeEvent{Type: models.ChangeResync})
}

// Subscribers reports the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
