package events

import (
	"sync"

	"github.com/freightdoom/engine/internal/models"
)

const tapBufferSize = 16

// Tap fans published events out to live ops subscribers (the websocket
// stream). Delivery is best effort: when a subscriber's buffer is full the
// event is skipped for that subscriber rather than stalling the publisher.
type Tap struct {
	mu   sync.RWMutex
	subs map[int]chan *models.Event
	next int
}

// NewTap creates an empty tap.
func NewTap() *Tap {
	return &Tap{subs: make(map[int]chan *models.Event)}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function. Cancel closes the channel and may be called more than
// once.
func (t *Tap) Subscribe() (<-chan *models.Event, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.next
	t.next++
	ch := make(chan *models.Event, tapBufferSize)
	t.subs[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with buffer room.
func (t *Tap) Publish(event *models.Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, ch := range t.subs {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up, skip it.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (t *Tap) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
