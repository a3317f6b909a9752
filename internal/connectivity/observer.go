// Package connectivity reports whether the remote backend is reachable.
package connectivity

import (
	"sync"

	"github.com/kimhsiao/spiritlog/backend/internal/logging"
)

// Observer holds the process-wide online/offline signal.
// It starts online until told otherwise.
type Observer struct {
	mu     sync.RWMutex
	online bool
	nextID int
	subs   map[int]func(bool)
}

// NewObserver creates an Observer that assumes the device is online.
func NewObserver() *Observer {
	return &Observer{
		online: true,
		subs:   make(map[int]func(bool)),
	}
}

// Online returns the current signal.
func (o *Observer) Online() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.online
}

// Set updates the signal. Subscribers are called synchronously, in the
// caller's goroutine, only when the value changes. There is no debouncing.
func (o *Observer) Set(online bool) {
	o.mu.Lock()
	if o.online == online {
		o.mu.Unlock()
		return
	}
	o.online = online
	subs := make([]func(bool), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	logging.Info("Online status changed", map[string]interface{}{
		"is_online": online,
	})

	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers fn for changes and returns a function that removes it.
func (o *Observer) Subscribe(fn func(online bool)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}
