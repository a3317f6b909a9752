// Package scheduler tests for background cache warming.
package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kimhsiao/spiritlog/backend/internal/cache"
	"github.com/kimhsiao/spiritlog/backend/internal/connectivity"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
	"github.com/kimhsiao/spiritlog/backend/internal/remote/remotetest"
	"github.com/kimhsiao/spiritlog/backend/internal/store"
)

// =====================================================
// Test Helpers
// =====================================================

var testIdentity = models.Identity{Authenticated: true, OwnerID: "u1"}

func testReference() models.ReferenceSet {
	return models.ReferenceSet{
		Spirits: []models.Spirit{
			{ID: "river", Name: "River", Aspects: []string{"sunshine", "travel"}},
			{ID: "lightning", Name: "Lightning"},
			{ID: "earth", Name: "Earth", Aspects: []string{"might"}},
		},
		Adversaries: []models.Adversary{
			{ID: "prussia", Name: "Prussia", Levels: []int{1, 2, 3}},
			{ID: "england", Name: "England", Levels: []int{1}},
		},
		Scenarios: []models.Scenario{{ID: "blitz", Name: "Blitz"}},
	}
}

type testEnv struct {
	remote    *remotetest.Fake
	cache     *cache.QueryCache
	store     *store.Memory
	observer  *connectivity.Observer
	scheduler *Scheduler
}

// createTestScheduler creates a scheduler over in-memory collaborators.
func createTestScheduler(t *testing.T, config *SchedulerConfig) *testEnv {
	t.Helper()
	env := &testEnv{
		remote:   remotetest.NewFake(),
		cache:    cache.NewQueryCache(),
		store:    store.NewMemory(),
		observer: connectivity.NewObserver(),
	}
	env.remote.SetReference(testReference())
	env.scheduler = NewScheduler(env.remote, env.cache, cache.NewPersister(env.store), env.observer, config)
	t.Cleanup(env.scheduler.Stop)
	return env
}

// =====================================================
// Config Tests
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	if config.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want 5", config.BatchSize)
	}
	if d, ok := config.Idle.(DelayStrategy); !ok || d.Delay != 2*time.Second {
		t.Errorf("Idle = %#v, want 2s DelayStrategy", config.Idle)
	}
}

// TestNewScheduler_partialConfig verifies zero fields fall back to defaults.
func TestNewScheduler_partialConfig(t *testing.T) {
	env := createTestScheduler(t, &SchedulerConfig{Idle: ImmediateStrategy{}})

	if env.scheduler.batchSize != 5 {
		t.Errorf("batchSize = %d, want 5", env.scheduler.batchSize)
	}
	if env.scheduler.passTimeout != 5*time.Minute {
		t.Errorf("passTimeout = %v, want 5m", env.scheduler.passTimeout)
	}
}

// =====================================================
// Immediate Pass Tests
// =====================================================

// TestRunImmediate_seedsGames verifies every listed game is cached and persisted.
func TestRunImmediate_seedsGames(t *testing.T) {
	env := createTestScheduler(t, nil)
	env.remote.PutGame(models.Game{ID: "g1", OwnerID: "u1"})
	env.remote.PutGame(models.Game{ID: "g2", OwnerID: "u1"})
	env.remote.PutGame(models.Game{ID: "g3", OwnerID: "someone-else"})

	if !env.scheduler.RunImmediate(context.Background(), testIdentity) {
		t.Fatal("RunImmediate() should complete")
	}

	for _, id := range []string{"g1", "g2"} {
		if !env.cache.Has(cache.GameKey(id)) {
			t.Errorf("game %s not seeded", id)
		}
	}
	if env.cache.Has(cache.GameKey("g3")) {
		t.Error("another owner's game should not be seeded")
	}

	restored := cache.NewQueryCache()
	if n, _ := cache.NewPersister(env.store).RestoreQueryCache(context.Background(), restored); n == 0 {
		t.Error("cache should be persisted after the pass")
	}

	status := env.scheduler.GetStatus()
	if status.ImmediateRuns != 1 || status.LastImmediate == nil {
		t.Errorf("status = %+v", status)
	}
}

// TestRunImmediate_gated verifies offline or signed-out passes do nothing.
func TestRunImmediate_gated(t *testing.T) {
	env := createTestScheduler(t, nil)

	if env.scheduler.RunImmediate(context.Background(), models.Identity{}) {
		t.Error("RunImmediate() should not run signed out")
	}
	env.observer.Set(false)
	if env.scheduler.RunImmediate(context.Background(), testIdentity) {
		t.Error("RunImmediate() should not run offline")
	}
	if len(env.remote.Calls()) != 0 {
		t.Errorf("remote calls = %v, want none", env.remote.Calls())
	}
}

// TestRunImmediate_errorSwallowed verifies failures are recorded not returned.
func TestRunImmediate_errorSwallowed(t *testing.T) {
	env := createTestScheduler(t, nil)
	env.remote.Fail("ListGames", errors.New("down"))

	if env.scheduler.RunImmediate(context.Background(), testIdentity) {
		t.Error("RunImmediate() should report failure")
	}
	if status := env.scheduler.GetStatus(); status.LastError == "" || status.ImmediateRuns != 0 {
		t.Errorf("status = %+v", status)
	}
}

// =====================================================
// Idle Pass Tests
// =====================================================

// TestRunIdle_cacheCompleteness verifies every reference entity resolves
// from the cache after the pass without a network call.
func TestRunIdle_cacheCompleteness(t *testing.T) {
	env := createTestScheduler(t, &SchedulerConfig{BatchSize: 2, Idle: ImmediateStrategy{}})
	ctx := context.Background()

	if !env.scheduler.RunIdle(ctx, testIdentity) {
		t.Fatal("RunIdle() should complete")
	}

	env.remote.ResetCalls()
	ref := testReference()

	for _, sp := range ref.Spirits {
		var got models.Spirit
		err := env.cache.FetchQuery(ctx, cache.SpiritKey(sp.ID), func(ctx context.Context) (interface{}, error) {
			return env.remote.GetSpirit(ctx, sp.ID)
		}, &got)
		if err != nil || got.ID != sp.ID {
			t.Errorf("spirit %s = %+v, %v", sp.ID, got, err)
		}
		for _, a := range sp.Aspects {
			if !env.cache.Has(cache.SpiritAspectKey(sp.ID, a)) {
				t.Errorf("aspect %s/%s not prefetched", sp.ID, a)
			}
		}
	}
	for _, a := range ref.Adversaries {
		if !env.cache.Has(cache.AdversaryKey(a.ID)) {
			t.Errorf("adversary %s not cached", a.ID)
		}
		for _, l := range a.Levels {
			if !env.cache.Has(cache.AdversaryLevelKey(a.ID, l)) {
				t.Errorf("level %s/%d not prefetched", a.ID, l)
			}
		}
	}
	for _, sc := range ref.Scenarios {
		if !env.cache.Has(cache.ScenarioKey(sc.ID)) {
			t.Errorf("scenario %s not cached", sc.ID)
		}
	}

	if calls := env.remote.Calls(); len(calls) != 0 {
		t.Errorf("cache reads hit the network: %v", calls)
	}
}

// TestRunIdle_prefetchFetchesEverything verifies the default pass requests
// every entity and relationship even when the key is already cached.
func TestRunIdle_prefetchFetchesEverything(t *testing.T) {
	env := createTestScheduler(t, &SchedulerConfig{BatchSize: 5, Idle: ImmediateStrategy{}})

	env.scheduler.RunIdle(context.Background(), testIdentity)

	if n := env.remote.CallCount("GetSpirit"); n != 3 {
		t.Errorf("GetSpirit calls = %d, want 3", n)
	}
	if n := env.remote.CallCount("GetSpiritAspect"); n != 3 {
		t.Errorf("GetSpiritAspect calls = %d, want 3", n)
	}
	if n := env.remote.CallCount("GetAdversaryLevel"); n != 4 {
		t.Errorf("GetAdversaryLevel calls = %d, want 4", n)
	}

	status := env.scheduler.GetStatus()
	if status.IdleRuns != 1 || status.Prefetched != 13 || status.PrefetchFresh != 0 || status.PrefetchFailed != 0 {
		t.Errorf("status = %+v", status)
	}
}

// TestRunIdle_refreshesChangedReference verifies a later pass replaces
// relationship entries that changed on the remote.
func TestRunIdle_refreshesChangedReference(t *testing.T) {
	env := createTestScheduler(t, &SchedulerConfig{BatchSize: 5, Idle: ImmediateStrategy{}})
	ctx := context.Background()

	if !env.scheduler.RunIdle(ctx, testIdentity) {
		t.Fatal("first RunIdle() should complete")
	}

	ref := testReference()
	ref.Spirits[0].Name = "River Surges"
	ref.Adversaries[1].Levels = []int{1, 2}
	env.remote.SetReference(ref)
	env.remote.ResetCalls()

	if !env.scheduler.RunIdle(ctx, testIdentity) {
		t.Fatal("second RunIdle() should complete")
	}

	if n := env.remote.CallCount("GetSpiritAspect"); n != 3 {
		t.Errorf("GetSpiritAspect calls = %d, want 3", n)
	}

	var aspect models.SpiritAspect
	if ok, err := env.cache.GetQueryData(cache.SpiritAspectKey("river", "sunshine"), &aspect); !ok || err != nil {
		t.Fatalf("aspect missing: ok=%v err=%v", ok, err)
	}
	if aspect.Name != "River Surges (sunshine)" {
		t.Errorf("aspect name = %q, want refreshed name", aspect.Name)
	}
	if !env.cache.Has(cache.AdversaryLevelKey("england", 2)) {
		t.Error("new adversary level not prefetched")
	}
}

// TestRunIdle_staleTimeKeepsFreshEntries verifies entries younger than the
// stale time are not requested again.
func TestRunIdle_staleTimeKeepsFreshEntries(t *testing.T) {
	env := createTestScheduler(t, &SchedulerConfig{BatchSize: 5, Idle: ImmediateStrategy{}, StaleTime: time.Hour})
	ctx := context.Background()

	env.scheduler.RunIdle(ctx, testIdentity)

	// Entities were just seeded from the lists; relationships were missing.
	if n := env.remote.CallCount("GetSpirit"); n != 0 {
		t.Errorf("GetSpirit calls = %d, want 0", n)
	}
	if n := env.remote.CallCount("GetSpiritAspect"); n != 3 {
		t.Errorf("GetSpiritAspect calls = %d, want 3", n)
	}

	env.remote.ResetCalls()
	env.scheduler.RunIdle(ctx, testIdentity)

	if n := env.remote.CallCount("GetSpiritAspect") + env.remote.CallCount("GetAdversaryLevel"); n != 0 {
		t.Errorf("relationship calls on second pass = %d, want 0", n)
	}

	status := env.scheduler.GetStatus()
	if status.Prefetched != 7 || status.PrefetchFresh != 19 {
		t.Errorf("status = %+v, want prefetched=7 fresh=19", status)
	}
}

// TestRunIdle_prefetchFailuresAdvisory verifies failed prefetches do not fail the pass.
func TestRunIdle_prefetchFailuresAdvisory(t *testing.T) {
	env := createTestScheduler(t, &SchedulerConfig{BatchSize: 2, Idle: ImmediateStrategy{}})
	env.remote.Fail("GetAdversaryLevel", errors.New("rate limited"))

	if !env.scheduler.RunIdle(context.Background(), testIdentity) {
		t.Fatal("RunIdle() should complete despite prefetch failures")
	}
	if got := env.scheduler.GetStatus().PrefetchFailed; got != 4 {
		t.Errorf("PrefetchFailed = %d, want 4", got)
	}
	if !env.cache.Has(cache.SpiritAspectKey("river", "sunshine")) {
		t.Error("other prefetches should still land")
	}
}

// TestRunIdle_referenceFailure verifies a failed list aborts the pass quietly.
func TestRunIdle_referenceFailure(t *testing.T) {
	env := createTestScheduler(t, &SchedulerConfig{Idle: ImmediateStrategy{}})
	env.remote.Fail("ListScenarios", errors.New("down"))

	if env.scheduler.RunIdle(context.Background(), testIdentity) {
		t.Error("RunIdle() should report failure")
	}
	if env.scheduler.GetStatus().LastError == "" {
		t.Error("LastError should be recorded")
	}
}

// =====================================================
// ScheduleIdle Tests
// =====================================================

// TestScheduleIdle_runs verifies a scheduled pass eventually completes.
func TestScheduleIdle_runs(t *testing.T) {
	env := createTestScheduler(t, &SchedulerConfig{Idle: DelayStrategy{Delay: 5 * time.Millisecond}})

	if !env.scheduler.ScheduleIdle(context.Background(), testIdentity) {
		t.Fatal("ScheduleIdle() should accept the pass")
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.scheduler.GetStatus().IdleRuns == 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle pass did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestScheduleIdle_stopCancels verifies Stop drops passes still waiting.
func TestScheduleIdle_stopCancels(t *testing.T) {
	env := createTestScheduler(t, &SchedulerConfig{Idle: DelayStrategy{Delay: time.Hour}})

	env.scheduler.ScheduleIdle(context.Background(), testIdentity)
	if env.scheduler.GetStatus().IdlePending != 1 {
		t.Error("pass should be pending")
	}

	done := make(chan struct{})
	go func() {
		env.scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not cancel the waiting pass")
	}

	if env.scheduler.GetStatus().IdleRuns != 0 {
		t.Error("canceled pass should not run")
	}
	if env.scheduler.ScheduleIdle(context.Background(), testIdentity) {
		t.Error("ScheduleIdle() after Stop should be refused")
	}
}

// TestQueueStrategy verifies passes are admitted one at a time.
func TestQueueStrategy(t *testing.T) {
	q := NewQueueStrategy()
	ctx := context.Background()

	if err := q.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := q.Wait(blocked); err == nil {
		t.Error("second Wait() should block until Done")
	}

	q.Done()
	if err := q.Wait(ctx); err != nil {
		t.Errorf("Wait() after Done error = %v", err)
	}
}

// TestDelayStrategy_canceled verifies a canceled context ends the wait.
func TestDelayStrategy_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := (DelayStrategy{Delay: time.Hour}).Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
	if err := (ImmediateStrategy{}).Wait(context.Background()); err != nil {
		t.Errorf("ImmediateStrategy.Wait() error = %v", err)
	}
}
