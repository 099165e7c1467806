// Package events carries detected bankruptcy events from the pollers to the
// publisher over a bounded in-process queue, and tees them to live ops
// subscribers.
package events

import (
	"errors"
	"sync"

	"github.com/freightdoom/engine/internal/models"
)

var (
	// ErrBusFull means the event was dropped because the queue is at
	// capacity. Producers log and move on; stalling a poll cycle to wait
	// for the consumer would be worse than losing the event.
	ErrBusFull = errors.New("event bus full")
	// ErrBusClosed means the bus no longer accepts events.
	ErrBusClosed = errors.New("event bus closed")
)

// Bus is a bounded multi-producer single-consumer event queue. Capacity is
// fixed at construction.
type Bus struct {
	mu     sync.RWMutex // guards closed; held shared across sends
	ch     chan *models.Event
	closed bool
}

// NewBus creates a bus holding at most capacity undelivered events.
func NewBus(capacity int) *Bus {
	return &Bus{ch: make(chan *models.Event, capacity)}
}

// TrySend enqueues the event without blocking. It returns ErrBusFull when
// the queue is at capacity and ErrBusClosed after Close.
func (b *Bus) TrySend(event *models.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.ch <- event:
		return nil
	default:
		return ErrBusFull
	}
}

// DrainBatch dequeues up to max events without blocking. The second return
// is false once the bus is closed and fully drained; until then it is true,
// even when the batch comes back empty.
func (b *Bus) DrainBatch(max int) ([]*models.Event, bool) {
	batch := make([]*models.Event, 0, max)
	for len(batch) < max {
		select {
		case event, ok := <-b.ch:
			if !ok {
				return batch, false
			}
			batch = append(batch, event)
		default:
			return batch, true
		}
	}
	return batch, true
}

// Close stops accepting events. Events already queued remain readable by
// DrainBatch. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Len returns the number of queued events.
func (b *Bus) Len() int {
	return len(b.ch)
}

// Cap returns the bus capacity.
func (b *Bus) Cap() int {
	return cap(b.ch)
}
