// Package watch notices outbox changes made by other processes sharing the
// same data directory and announces them on the event bus.
package watch

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kimhsiao/spiritlog/backend/internal/events"
	"github.com/kimhsiao/spiritlog/backend/internal/logging"
)

// DefaultSettle is how long the watcher waits for a burst of writes to end.
const DefaultSettle = 250 * time.Millisecond

// Watcher watches the durable store files and publishes outbox.changed.
type Watcher struct {
	watcher *fsnotify.Watcher
	bus     *events.Bus
	dir     string
	names   map[string]bool
	settle  time.Duration

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	fired     int
}

// NewWatcher creates a Watcher for the named files inside dir.
// Journal siblings (-wal, -journal) of each name are watched too.
func NewWatcher(bus *events.Bus, dir string, names ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	set := make(map[string]bool, len(names)*3)
	for _, n := range names {
		base := filepath.Base(n)
		set[base] = true
		set[base+"-wal"] = true
		set[base+"-journal"] = true
	}

	return &Watcher{
		watcher: fw,
		bus:     bus,
		dir:     dir,
		names:   set,
		settle:  DefaultSettle,
		done:    make(chan struct{}),
	}, nil
}

// SetSettle overrides the coalescing window. Zero publishes every event.
func (w *Watcher) SetSettle(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settle = d
}

// Start begins watching. The directory must exist.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch data directory %s: %w", w.dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents(w.settle)

	logging.Info("Outbox watcher started", map[string]interface{}{
		"dir": w.dir,
	})
	return nil
}

// Stop stops watching and blocks until the event loop exits. It also
// releases a watcher that was never started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Fired returns how many outbox.changed events the watcher has published.
func (w *Watcher) Fired() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *Watcher) processEvents(settle time.Duration) {
	defer w.wg.Done()

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		lastHit string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			lastHit = event.Name
			if settle <= 0 {
				w.publish(lastHit)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(settle)
			} else {
				timer.Reset(settle)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.publish(lastHit)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Outbox watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
		return false
	}
	return w.names[filepath.Base(event.Name)]
}

func (w *Watcher) publish(path string) {
	w.mu.Lock()
	w.fired++
	w.mu.Unlock()

	w.bus.Publish(events.OutboxChanged, map[string]interface{}{
		"source": "file",
		"path":   path,
	})
}
