// Package events fans sync lifecycle notifications out to in-process listeners.
package events

import (
	"sync"
	"time"

	"github.com/kimhsiao/spiritlog/backend/internal/logging"
)

// Event types published by the sync core.
const (
	// OutboxSynced fires after a drain pass that processed at least one record.
	// Listeners refetch their game lists.
	OutboxSynced = "outbox.synced"
	// OutboxChanged fires when records are added to the outbox.
	OutboxChanged = "outbox.changed"

	SyncStarted      = "sync.started"
	SyncCompleted    = "sync.completed"
	SyncNotification = "sync.notification"
)

// Event is a single notification.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Bus is a non-blocking publish/subscribe hub. A subscriber whose buffer
// is full misses the event rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel receiving every subsequent event and a cancel
// function that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers an event of the given type to all subscribers.
func (b *Bus) Publish(eventType string, data map[string]interface{}) {
	b.PublishEvent(Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// PublishEvent delivers e to all subscribers.
func (b *Bus) PublishEvent(e Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			logging.Warn("Event dropped for slow subscriber", map[string]interface{}{
				"type":       e.Type,
				"subscriber": id,
			})
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
