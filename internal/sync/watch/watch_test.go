// Package watch tests for the outbox file watcher.
package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kimhsiao/spiritlog/backend/internal/events"
)

// createTestWatcher starts a watcher on a temp dir for "outbox.db".
func createTestWatcher(t *testing.T, settle time.Duration) (*Watcher, *events.Bus, string) {
	t.Helper()
	dir := t.TempDir()
	bus := events.NewBus()
	w, err := NewWatcher(bus, dir, "outbox.db")
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.SetSettle(settle)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		w.Stop()
		bus.Close()
	})
	return w, bus, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

// =====================================================
// Watcher Tests
// =====================================================

// TestWatcher_publishesOnStoreWrite verifies writes to the store file are announced.
func TestWatcher_publishesOnStoreWrite(t *testing.T) {
	_, bus, dir := createTestWatcher(t, 0)
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	writeFile(t, filepath.Join(dir, "outbox.db"), "x")

	select {
	case e := <-ch:
		if e.Type != events.OutboxChanged {
			t.Errorf("event type = %q, want %q", e.Type, events.OutboxChanged)
		}
		if e.Data["source"] != "file" {
			t.Errorf("source = %v, want file", e.Data["source"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no outbox.changed event")
	}
}

// TestWatcher_journalFile verifies the WAL sibling counts as the store.
func TestWatcher_journalFile(t *testing.T) {
	_, bus, dir := createTestWatcher(t, 0)
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	writeFile(t, filepath.Join(dir, "outbox.db-wal"), "x")

	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("no event for WAL write")
	}
}

// TestWatcher_ignoresOtherFiles verifies unrelated files are ignored.
func TestWatcher_ignoresOtherFiles(t *testing.T) {
	w, _, dir := createTestWatcher(t, 0)

	writeFile(t, filepath.Join(dir, "spiritlog.log"), "x")
	time.Sleep(200 * time.Millisecond)

	if w.Fired() != 0 {
		t.Errorf("Fired() = %d, want 0", w.Fired())
	}
}

// TestWatcher_coalescesBursts verifies a burst inside the settle window publishes once.
func TestWatcher_coalescesBursts(t *testing.T) {
	w, _, dir := createTestWatcher(t, 300*time.Millisecond)
	path := filepath.Join(dir, "outbox.db")

	for i := 0; i < 5; i++ {
		writeFile(t, path, "burst")
	}

	deadline := time.Now().Add(3 * time.Second)
	for w.Fired() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(400 * time.Millisecond)

	if got := w.Fired(); got != 1 {
		t.Errorf("Fired() = %d, want 1", got)
	}
}

// TestWatcher_lifecycle verifies Start and Stop guards.
func TestWatcher_lifecycle(t *testing.T) {
	w, _, _ := createTestWatcher(t, 0)

	if !w.IsRunning() {
		t.Error("watcher should be running")
	}
	if err := w.Start(); err == nil {
		t.Error("second Start() should fail")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher should be stopped")
	}
}

// TestWatcher_missingDir verifies Start fails for a missing directory.
func TestWatcher_missingDir(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	w, err := NewWatcher(bus, filepath.Join(t.TempDir(), "missing"), "outbox.db")
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()
	if err := w.Start(); err == nil {
		t.Error("Start() should fail for a missing directory")
	}
}
