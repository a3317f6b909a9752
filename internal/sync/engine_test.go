// Package sync tests for the outbox drain and its coordinator.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/kimhsiao/spiritlog/backend/internal/connectivity"
	"github.com/kimhsiao/spiritlog/backend/internal/events"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
	"github.com/kimhsiao/spiritlog/backend/internal/remote/remotetest"
	"github.com/kimhsiao/spiritlog/backend/internal/store"
	"github.com/kimhsiao/spiritlog/backend/internal/sync/outbox"
)

// =====================================================
// Test Helpers
// =====================================================

var testIdentity = models.Identity{Authenticated: true, OwnerID: "u1"}

// statusLog wraps a store and records every status written per record key.
type statusLog struct {
	store.Store
	mu      gosync.Mutex
	history map[string][]string
}

func newStatusLog() *statusLog {
	return &statusLog{Store: store.NewMemory(), history: make(map[string][]string)}
}

func (s *statusLog) Put(ctx context.Context, ns, key string, value []byte) error {
	var rec struct {
		SyncStatus string `json:"sync_status"`
	}
	json.Unmarshal(value, &rec)
	s.mu.Lock()
	s.history[key] = append(s.history[key], rec.SyncStatus)
	s.mu.Unlock()
	return s.Store.Put(ctx, ns, key, value)
}

func (s *statusLog) Delete(ctx context.Context, ns, key string) error {
	s.mu.Lock()
	s.history[key] = append(s.history[key], "deleted")
	s.mu.Unlock()
	return s.Store.Delete(ctx, ns, key)
}

func (s *statusLog) of(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history[key]...)
}

type testEnv struct {
	store    *statusLog
	outbox   *outbox.Repository
	remote   *remotetest.Fake
	observer *connectivity.Observer
	bus      *events.Bus
	drainer  *Drainer
}

// createTestEnv wires a Drainer over in-memory collaborators.
func createTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := newStatusLog()
	env := &testEnv{
		store:    s,
		outbox:   outbox.NewRepository(s),
		remote:   remotetest.NewFake(),
		observer: connectivity.NewObserver(),
		bus:      events.NewBus(),
	}
	env.drainer = NewDrainer(env.outbox, env.remote, env.observer, env.bus)
	t.Cleanup(env.bus.Close)
	return env
}

func (e *testEnv) saveCreation(t *testing.T, date string) *models.PendingCreation {
	t.Helper()
	rec, err := e.outbox.SaveCreation(context.Background(), testIdentity.OwnerID, models.GamePayload{
		Date:    date,
		Spirits: []models.SpiritPlay{{SpiritID: "river"}},
	})
	if err != nil {
		t.Fatalf("SaveCreation() error = %v", err)
	}
	return rec
}

func (e *testEnv) saveOperation(t *testing.T, op models.OfflineOperation) *models.OfflineOperation {
	t.Helper()
	rec, err := e.outbox.SaveOperation(context.Background(), testIdentity.OwnerID, op)
	if err != nil {
		t.Fatalf("SaveOperation() error = %v", err)
	}
	return rec
}

func (e *testEnv) counts(t *testing.T) outbox.Counts {
	t.Helper()
	c, err := e.outbox.Counts(context.Background(), testIdentity.OwnerID)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	return c
}

// drainEvents collects buffered events of the given type.
func drainEvents(ch <-chan events.Event, eventType string) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			if e.Type == eventType {
				out = append(out, e)
			}
		default:
			return out
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// =====================================================
// Constructor Tests
// =====================================================

// TestNewDrainer verifies the initial state.
func TestNewDrainer(t *testing.T) {
	env := createTestEnv(t)

	if env.drainer.Status() != DrainStatusIdle {
		t.Errorf("Status() = %v, want idle", env.drainer.Status())
	}
	if env.drainer.LastSync() != nil {
		t.Error("LastSync() should be nil initially")
	}
	if env.drainer.LastResult() != nil {
		t.Error("LastResult() should be nil initially")
	}
	if len(env.drainer.GetErrorHistory()) != 0 {
		t.Error("error history should be empty")
	}
}

// =====================================================
// Entry Condition Tests
// =====================================================

// TestDrain_gated verifies the pass is skipped unless signed in and online.
func TestDrain_gated(t *testing.T) {
	env := createTestEnv(t)
	env.saveCreation(t, "2025-01-01")
	ctx := context.Background()

	if _, ran := env.drainer.Drain(ctx, models.Identity{OwnerID: "u1"}); ran {
		t.Error("Drain() should not run unauthenticated")
	}

	env.observer.Set(false)
	if _, ran := env.drainer.Drain(ctx, testIdentity); ran {
		t.Error("Drain() should not run offline")
	}

	if len(env.remote.Calls()) != 0 {
		t.Errorf("remote calls = %v, want none", env.remote.Calls())
	}
	if env.counts(t).Total() != 1 {
		t.Error("outbox should be untouched")
	}
}

// TestDrain_emptyOutbox verifies an empty outbox produces no pass and no events.
func TestDrain_emptyOutbox(t *testing.T) {
	env := createTestEnv(t)
	ch, cancel := env.bus.Subscribe(16)
	defer cancel()

	if _, ran := env.drainer.Drain(context.Background(), testIdentity); ran {
		t.Error("Drain() should report false for an empty outbox")
	}
	if len(ch) != 0 {
		t.Errorf("events published = %d, want 0", len(ch))
	}
	if env.drainer.LastSync() != nil {
		t.Error("empty pass should not set LastSync")
	}
}

// =====================================================
// Drain Scenario Tests
// =====================================================

// TestDrain_createThenUpdateThenDelete runs a creation plus an update and
// delete of the same game and checks the remote saw them in order.
func TestDrain_createThenUpdateThenDelete(t *testing.T) {
	env := createTestEnv(t)
	env.remote.PutGame(models.Game{ID: "g1", OwnerID: "u1"})

	env.saveCreation(t, "2025-01-01")
	notes := "x"
	env.saveOperation(t, models.NewUpdateOperation("g1", models.GamePatch{Notes: &notes}))
	env.saveOperation(t, models.NewDeleteOperation("g1"))

	ch, cancel := env.bus.Subscribe(16)
	defer cancel()

	result, ran := env.drainer.Drain(context.Background(), testIdentity)
	if !ran {
		t.Fatal("Drain() did not run")
	}
	if result.Synced != 3 || result.Failed != 0 {
		t.Errorf("result = %+v, want 3 synced", result)
	}

	calls := env.remote.Calls()
	want := []remotetest.Call{
		{Method: "CreateGame", Target: "2025-01-01"},
		{Method: "UpdateGame", Target: "g1"},
		{Method: "DeleteGame", Target: "g1"},
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, calls[i], want[i])
		}
	}

	if env.remote.HasGame("g1") {
		t.Error("g1 should be deleted remotely")
	}
	if env.counts(t).Total() != 0 {
		t.Errorf("outbox not empty: %+v", env.counts(t))
	}
	if len(drainEvents(ch, events.OutboxSynced)) != 1 {
		t.Error("expected exactly one outbox.synced event")
	}
	if env.drainer.Status() != DrainStatusIdle {
		t.Error("drainer should return to idle")
	}
	if env.drainer.LastSync() == nil {
		t.Error("LastSync() should be set")
	}
}

// TestDrain_operationsOldestFirst verifies many edits to one game apply in order.
func TestDrain_operationsOldestFirst(t *testing.T) {
	env := createTestEnv(t)
	env.remote.PutGame(models.Game{ID: "g1", OwnerID: "u1"})

	for _, n := range []string{"one", "two", "three", "four"} {
		notes := n
		env.saveOperation(t, models.NewUpdateOperation("g1", models.GamePatch{Notes: &notes}))
	}

	env.drainer.Drain(context.Background(), testIdentity)

	g, _ := env.remote.Game("g1")
	if g.Notes != "four" {
		t.Errorf("Notes = %q, want the last edit", g.Notes)
	}
	if env.remote.CallCount("UpdateGame") != 4 {
		t.Errorf("UpdateGame calls = %d, want 4", env.remote.CallCount("UpdateGame"))
	}
}

// TestDrain_failingCreate verifies a rejected creation stays queued as failed.
func TestDrain_failingCreate(t *testing.T) {
	env := createTestEnv(t)
	env.remote.Fail("CreateGame", errors.New("server error"))
	rec := env.saveCreation(t, "2025-01-01")

	ch, cancel := env.bus.Subscribe(16)
	defer cancel()

	result, ran := env.drainer.Drain(context.Background(), testIdentity)
	if !ran {
		t.Fatal("Drain() did not run")
	}
	if result.Synced != 0 || result.Failed != 1 {
		t.Errorf("result = %+v, want 1 failed", result)
	}

	creations, _ := env.outbox.ListCreations(context.Background(), "u1")
	if len(creations) != 1 || creations[0].ID != rec.ID || creations[0].SyncStatus != models.SyncStatusFailed {
		t.Fatalf("creations = %+v, want one failed record", creations)
	}

	notes := drainEvents(ch, events.SyncNotification)
	if len(notes) != 1 || notes[0].Data["text"] != "Failed to sync 1 game" {
		t.Errorf("notifications = %+v", notes)
	}
	if len(result.Notifications) != 1 {
		t.Errorf("result notifications = %+v", result.Notifications)
	}

	history := env.drainer.GetErrorHistory()
	if len(history) != 1 || history[0].RecordID != rec.ID || history[0].Operation != "create" {
		t.Errorf("error history = %+v", history)
	}
}

// TestDrain_noShortCircuit verifies one failure does not stop the rest.
func TestDrain_noShortCircuit(t *testing.T) {
	env := createTestEnv(t)
	env.remote.PutGame(models.Game{ID: "g1", OwnerID: "u1"})
	env.remote.PutGame(models.Game{ID: "g2", OwnerID: "u1"})
	env.remote.Fail("UpdateGame", errors.New("boom"))

	env.saveCreation(t, "2025-01-01")
	notes := "x"
	upd := env.saveOperation(t, models.NewUpdateOperation("g1", models.GamePatch{Notes: &notes}))
	env.saveOperation(t, models.NewDeleteOperation("g2"))

	result, _ := env.drainer.Drain(context.Background(), testIdentity)
	if result.Synced != 2 || result.Failed != 1 {
		t.Errorf("result = %+v, want 2 synced 1 failed", result)
	}

	ops, _ := env.outbox.ListOperations(context.Background(), "u1")
	if len(ops) != 1 || ops[0].ID != upd.ID || ops[0].SyncStatus != models.SyncStatusFailed {
		t.Errorf("operations = %+v, want only the failed update", ops)
	}
	if env.remote.HasGame("g2") {
		t.Error("delete after a failed update should still apply")
	}
}

// TestDrain_statusRoundTrip verifies failed records go through syncing again.
func TestDrain_statusRoundTrip(t *testing.T) {
	env := createTestEnv(t)
	env.remote.Fail("CreateGame", errors.New("down"))
	rec := env.saveCreation(t, "2025-01-01")
	ctx := context.Background()

	env.drainer.Drain(ctx, testIdentity)

	env.remote.Fail("CreateGame", nil)
	result, ran := env.drainer.Drain(ctx, testIdentity)
	if !ran || result.Synced != 1 {
		t.Fatalf("second Drain() = %+v, %v", result, ran)
	}

	got := env.store.of("u1/" + rec.ID)
	want := []string{"pending", "syncing", "failed", "syncing", "deleted"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestDrain_malformedOperation verifies undecodable mutations are marked failed.
func TestDrain_malformedOperation(t *testing.T) {
	env := createTestEnv(t)
	ctx := context.Background()

	bad, _ := json.Marshal(models.OfflineOperation{
		ID:         "bad",
		Type:       models.OperationUpdate,
		GameID:     "g1",
		CreatedAt:  1,
		SyncStatus: models.SyncStatusPending,
	})
	env.store.Put(ctx, outbox.NamespaceOperations, "u1/bad", bad)

	result, ran := env.drainer.Drain(ctx, testIdentity)
	if !ran || result.Failed != 1 {
		t.Errorf("Drain() = %+v, %v, want 1 failed", result, ran)
	}
	if len(env.remote.Calls()) != 0 {
		t.Errorf("remote calls = %v, want none", env.remote.Calls())
	}
}

// TestDrain_reentrancy verifies a second trigger during a pass is a no-op.
func TestDrain_reentrancy(t *testing.T) {
	env := createTestEnv(t)
	env.remote.Gate = make(chan struct{})
	env.saveCreation(t, "2025-01-01")

	done := make(chan DrainResult)
	go func() {
		r, _ := env.drainer.Drain(context.Background(), testIdentity)
		done <- r
	}()

	waitFor(t, func() bool { return env.drainer.Status() == DrainStatusDraining })

	for i := 0; i < 3; i++ {
		if _, ran := env.drainer.Drain(context.Background(), testIdentity); ran {
			t.Fatal("concurrent Drain() should be a no-op")
		}
	}

	close(env.remote.Gate)
	result := <-done

	if result.Synced != 1 {
		t.Errorf("result = %+v, want 1 synced", result)
	}
	if env.remote.CallCount("CreateGame") != 1 {
		t.Errorf("CreateGame calls = %d, want exactly 1", env.remote.CallCount("CreateGame"))
	}
}

// TestDrain_ownerPartition verifies only the signed-in owner's records drain.
func TestDrain_ownerPartition(t *testing.T) {
	env := createTestEnv(t)
	env.saveCreation(t, "2025-01-01")
	if _, err := env.outbox.SaveCreation(context.Background(), "u2", models.GamePayload{Date: "2025-02-02"}); err != nil {
		t.Fatalf("SaveCreation() error = %v", err)
	}

	result, _ := env.drainer.Drain(context.Background(), testIdentity)
	if result.Synced != 1 {
		t.Errorf("Synced = %d, want 1", result.Synced)
	}

	other, _ := env.outbox.ListCreations(context.Background(), "u2")
	if len(other) != 1 {
		t.Error("other owner's record should remain")
	}
}

// =====================================================
// Error History Tests
// =====================================================

// TestRecordError verifies the history is capped and copied.
func TestRecordError(t *testing.T) {
	env := createTestEnv(t)

	for i := 0; i < 150; i++ {
		env.drainer.recordError("rec", "create", errors.New("test error"))
	}

	history := env.drainer.GetErrorHistory()
	if len(history) != maxErrorHistory {
		t.Errorf("history length = %d, want %d", len(history), maxErrorHistory)
	}

	history[0] = SyncErrorEntry{}
	if env.drainer.GetErrorHistory()[0].RecordID != "rec" {
		t.Error("modifying returned history affected original")
	}

	env.drainer.ClearErrorHistory()
	if len(env.drainer.GetErrorHistory()) != 0 {
		t.Error("history should be empty after clear")
	}
}
