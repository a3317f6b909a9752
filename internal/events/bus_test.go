package events

import (
	"testing"
	"time"
)

// receive waits briefly for one event.
func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// =====================================================
// Bus Tests
// =====================================================

// TestBus_PublishFanOut verifies every subscriber receives the event.
func TestBus_PublishFanOut(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	defer cancelA()
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(OutboxSynced, map[string]interface{}{"synced": 2})

	for _, ch := range []<-chan Event{a, b} {
		e := receive(t, ch)
		if e.Type != OutboxSynced {
			t.Errorf("Type = %q, want %q", e.Type, OutboxSynced)
		}
		if e.Data["synced"] != 2 {
			t.Errorf("Data = %v", e.Data)
		}
		if e.Timestamp == 0 {
			t.Error("Timestamp should be set")
		}
	}
}

// TestBus_slowSubscriberDrops verifies publish never blocks.
func TestBus_slowSubscriberDrops(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		bus.Publish(OutboxChanged, nil)
		bus.Publish(OutboxChanged, nil)
		bus.Publish(OutboxChanged, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if got := len(ch); got != 1 {
		t.Errorf("buffered events = %d, want 1", got)
	}
}

// TestBus_cancel verifies cancel closes the channel and is idempotent.
func TestBus_cancel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}

	bus.Publish(SyncStarted, nil)
}

// TestBus_Close verifies Close ends all subscriptions.
func TestBus_Close(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}

	late, _ := bus.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscribing to a closed bus should return a closed channel")
	}
}

// TestBus_nil verifies publishing on a nil bus is a no-op.
func TestBus_nil(t *testing.T) {
	var bus *Bus
	bus.Publish(SyncCompleted, nil)
}
