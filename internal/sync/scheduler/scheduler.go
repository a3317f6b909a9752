// Package scheduler warms the read cache in the background so game and
// reference views keep working offline.
//
// Two passes exist. The immediate pass refreshes the player's games right
// after connectivity returns. The idle pass waits for the host to be idle,
// then refreshes the reference dataset and prefetches per-entity and
// per-relationship entries in small batches. Both are best-effort: errors
// are logged and never returned.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/spiritlog/backend/internal/cache"
	"github.com/kimhsiao/spiritlog/backend/internal/errors"
	"github.com/kimhsiao/spiritlog/backend/internal/logging"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
	"github.com/kimhsiao/spiritlog/backend/internal/remote"
	"github.com/kimhsiao/spiritlog/backend/internal/telemetry"
)

// Connectivity is the online signal the passes are gated on.
type Connectivity interface {
	Online() bool
}

// Scheduler runs the cache warming passes.
type Scheduler struct {
	reader       remote.Reader
	cache        *cache.QueryCache
	seeder       *cache.Seeder
	persister    *cache.Persister
	connectivity Connectivity
	idle         IdleStrategy
	batchSize    int
	passTimeout  time.Duration
	staleTime    time.Duration

	stopCtx  context.Context
	stopFn   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	status   SchedulerStatus
	inFlight atomic.Int32
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	BatchSize   int           // Prefetch requests per batch (default: 5)
	Idle        IdleStrategy  // When idle passes may start (default: 2s delay)
	PassTimeout time.Duration // Upper bound on one pass (default: 5 minutes)
	StaleTime   time.Duration // Prefetched entries younger than this are kept (default: 0, always refetch)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		BatchSize:   5,
		Idle:        DelayStrategy{Delay: 2 * time.Second},
		PassTimeout: 5 * time.Minute,
	}
}

// SchedulerStatus is a snapshot of pass activity.
type SchedulerStatus struct {
	LastImmediate  *time.Time `json:"last_immediate,omitempty"`
	LastIdle       *time.Time `json:"last_idle,omitempty"`
	ImmediateRuns  int        `json:"immediate_runs"`
	IdleRuns       int        `json:"idle_runs"`
	Prefetched     int        `json:"prefetched"`
	PrefetchFresh  int        `json:"prefetch_fresh"`
	PrefetchFailed int        `json:"prefetch_failed"`
	IdlePending    int        `json:"idle_pending"`
	LastError      string     `json:"last_error,omitempty"`
}

// NewScheduler creates a new Scheduler.
func NewScheduler(reader remote.Reader, qc *cache.QueryCache, persister *cache.Persister, conn Connectivity, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Idle == nil {
		config.Idle = defaults.Idle
	}
	if config.PassTimeout <= 0 {
		config.PassTimeout = defaults.PassTimeout
	}

	stopCtx, stopFn := context.WithCancel(context.Background())
	return &Scheduler{
		reader:       reader,
		cache:        qc,
		seeder:       cache.NewSeeder(qc),
		persister:    persister,
		connectivity: conn,
		idle:         config.Idle,
		batchSize:    config.BatchSize,
		passTimeout:  config.PassTimeout,
		staleTime:    config.StaleTime,
		stopCtx:      stopCtx,
		stopFn:       stopFn,
	}
}

// gate reports whether a pass may run for identity.
func (s *Scheduler) gate(identity models.Identity) bool {
	return identity.Ready() && s.connectivity.Online()
}

// RunImmediate refreshes the owner's games, seeds each one under its own
// key and persists the cache. It reports whether the pass completed.
func (s *Scheduler) RunImmediate(ctx context.Context, identity models.Identity) bool {
	if !s.gate(identity) {
		logging.Debug("Skipping immediate pass", map[string]interface{}{
			"authenticated": identity.Authenticated,
		})
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "sync.immediate", attribute.String("owner", identity.OwnerID))
	err := s.runImmediate(ctx, identity)
	telemetry.EndSpan(span, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status.LastError = err.Error()
		logging.ErrorWithCode("Immediate pass failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"owner": identity.OwnerID})
		return false
	}
	now := time.Now()
	s.status.LastImmediate = &now
	s.status.ImmediateRuns++
	return true
}

func (s *Scheduler) runImmediate(ctx context.Context, identity models.Identity) error {
	games, err := s.reader.ListGames(ctx, identity.OwnerID)
	if err != nil {
		return err
	}
	if err := s.seeder.SeedGames(identity.OwnerID, games); err != nil {
		return err
	}
	if err := s.persister.PersistQueryCache(ctx, s.cache); err != nil {
		return err
	}

	logging.Info("Immediate pass completed", map[string]interface{}{
		"owner": identity.OwnerID,
		"games": len(games),
	})
	return nil
}

// ScheduleIdle queues an idle pass. The pass waits on the idle strategy
// and is dropped if ctx is canceled or the scheduler stops first.
func (s *Scheduler) ScheduleIdle(ctx context.Context, identity models.Identity) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.inFlight.Add(1)
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.stopCtx, cancel)

	go func() {
		defer s.wg.Done()
		defer s.inFlight.Add(-1)
		defer cancel()
		defer stop()

		if err := s.idle.Wait(ctx); err != nil {
			logging.Debug("Idle pass dropped", map[string]interface{}{"reason": err.Error()})
			return
		}
		if q, ok := s.idle.(interface{ Done() }); ok {
			defer q.Done()
		}
		s.RunIdle(ctx, identity)
	}()
	return true
}

// RunIdle refreshes the reference dataset, prefetches per-entity and
// per-relationship entries and persists the cache. It reports whether
// the pass completed; individual prefetch failures do not fail the pass.
func (s *Scheduler) RunIdle(ctx context.Context, identity models.Identity) bool {
	if !s.gate(identity) {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "sync.idle")
	result, err := s.runIdle(ctx)
	telemetry.EndSpan(span, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Prefetched += result.fetched
	s.status.PrefetchFresh += result.fresh
	s.status.PrefetchFailed += result.failed
	if err != nil {
		s.status.LastError = err.Error()
		logging.ErrorWithCode("Idle pass failed", string(errors.ErrSyncFailed), err, nil)
		return false
	}
	now := time.Now()
	s.status.LastIdle = &now
	s.status.IdleRuns++
	return true
}

func (s *Scheduler) runIdle(ctx context.Context) (prefetchResult, error) {
	set, err := s.fetchReference(ctx)
	if err != nil {
		return prefetchResult{}, err
	}
	if err := s.seeder.SeedReference(set); err != nil {
		return prefetchResult{}, err
	}

	tasks := s.prefetchTasks(set)
	result := s.prefetch(ctx, tasks)

	if err := s.persister.PersistQueryCache(ctx, s.cache); err != nil {
		return result, err
	}

	logging.Info("Idle pass completed", map[string]interface{}{
		"reference": set.Len(),
		"prefetch":  len(tasks),
		"fetched":   result.fetched,
		"fresh":     result.fresh,
		"failed":    result.failed,
	})
	return result, nil
}

// fetchReference loads the three reference lists concurrently.
func (s *Scheduler) fetchReference(ctx context.Context) (models.ReferenceSet, error) {
	var set models.ReferenceSet
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		spirits, err := s.reader.ListSpirits(gctx)
		set.Spirits = spirits
		return err
	})
	g.Go(func() error {
		adversaries, err := s.reader.ListAdversaries(gctx)
		set.Adversaries = adversaries
		return err
	})
	g.Go(func() error {
		scenarios, err := s.reader.ListScenarios(gctx)
		set.Scenarios = scenarios
		return err
	})

	if err := g.Wait(); err != nil {
		return models.ReferenceSet{}, err
	}
	return set, nil
}

type prefetchResult struct {
	fetched int
	fresh   int
	failed  int
}

type prefetchTask struct {
	key   cache.Key
	fetch cache.Fetcher
}

// prefetchTasks lists the single-entity and relationship keys for set.
func (s *Scheduler) prefetchTasks(set models.ReferenceSet) []prefetchTask {
	var tasks []prefetchTask

	for _, sp := range set.Spirits {
		id := sp.ID
		tasks = append(tasks, prefetchTask{cache.SpiritKey(id), func(ctx context.Context) (interface{}, error) {
			return s.reader.GetSpirit(ctx, id)
		}})
		for _, aspect := range sp.Aspects {
			aspect := aspect
			tasks = append(tasks, prefetchTask{cache.SpiritAspectKey(id, aspect), func(ctx context.Context) (interface{}, error) {
				return s.reader.GetSpiritAspect(ctx, id, aspect)
			}})
		}
	}

	for _, a := range set.Adversaries {
		id := a.ID
		tasks = append(tasks, prefetchTask{cache.AdversaryKey(id), func(ctx context.Context) (interface{}, error) {
			return s.reader.GetAdversary(ctx, id)
		}})
		for _, level := range a.Levels {
			level := level
			tasks = append(tasks, prefetchTask{cache.AdversaryLevelKey(id, level), func(ctx context.Context) (interface{}, error) {
				return s.reader.GetAdversaryLevel(ctx, id, level)
			}})
		}
	}

	for _, sc := range set.Scenarios {
		id := sc.ID
		tasks = append(tasks, prefetchTask{cache.ScenarioKey(id), func(ctx context.Context) (interface{}, error) {
			return s.reader.GetScenario(ctx, id)
		}})
	}

	return tasks
}

// prefetch runs tasks in sequential batches, parallel within a batch.
// Every key is refetched unless its entry is younger than staleTime.
func (s *Scheduler) prefetch(ctx context.Context, tasks []prefetchTask) prefetchResult {
	var done, fresh, failed atomic.Int32

	for start := 0; start < len(tasks); start += s.batchSize {
		if ctx.Err() != nil {
			failed.Add(int32(len(tasks) - start))
			break
		}

		end := start + s.batchSize
		if end > len(tasks) {
			end = len(tasks)
		}

		var g errgroup.Group
		for _, task := range tasks[start:end] {
			task := task
			g.Go(func() error {
				fetched, err := s.cache.PrefetchQuery(ctx, task.key, task.fetch, s.staleTime)
				if err != nil {
					failed.Add(1)
					logging.Debug("Prefetch failed", map[string]interface{}{
						"key":   task.key.String(),
						"error": err.Error(),
					})
					return nil
				}
				if fetched {
					done.Add(1)
				} else {
					fresh.Add(1)
				}
				return nil
			})
		}
		g.Wait()
	}

	return prefetchResult{
		fetched: int(done.Load()),
		fresh:   int(fresh.Load()),
		failed:  int(failed.Load()),
	}
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := s.status
	if s.status.LastImmediate != nil {
		t := *s.status.LastImmediate
		status.LastImmediate = &t
	}
	if s.status.LastIdle != nil {
		t := *s.status.LastIdle
		status.LastIdle = &t
	}
	status.IdlePending = int(s.inFlight.Load())
	return status
}

// Stop cancels queued idle passes and waits for running ones to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.stopFn()
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// String implements fmt.Stringer for log output.
func (st SchedulerStatus) String() string {
	return fmt.Sprintf("immediate=%d idle=%d prefetched=%d fresh=%d failed=%d pending=%d",
		st.ImmediateRuns, st.IdleRuns, st.Prefetched, st.PrefetchFresh, st.PrefetchFailed, st.IdlePending)
}
