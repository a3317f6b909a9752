// Package app assembles the sync core from configuration.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	gosync "sync"

	"github.com/kimhsiao/spiritlog/backend/internal/cache"
	"github.com/kimhsiao/spiritlog/backend/internal/config"
	"github.com/kimhsiao/spiritlog/backend/internal/connectivity"
	"github.com/kimhsiao/spiritlog/backend/internal/db"
	"github.com/kimhsiao/spiritlog/backend/internal/events"
	"github.com/kimhsiao/spiritlog/backend/internal/logging"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
	"github.com/kimhsiao/spiritlog/backend/internal/remote"
	"github.com/kimhsiao/spiritlog/backend/internal/services"
	"github.com/kimhsiao/spiritlog/backend/internal/store"
	"github.com/kimhsiao/spiritlog/backend/internal/store/bolt"
	"github.com/kimhsiao/spiritlog/backend/internal/sync"
	"github.com/kimhsiao/spiritlog/backend/internal/sync/outbox"
	"github.com/kimhsiao/spiritlog/backend/internal/sync/scheduler"
	"github.com/kimhsiao/spiritlog/backend/internal/sync/watch"
)

// Options override parts of the assembly. The zero value builds
// everything from Config.
type Options struct {
	// Remote replaces the HTTP client.
	Remote remote.API
	// Store replaces the configured store backend.
	Store store.Store
	// NoProbe leaves connectivity under manual control.
	NoProbe bool
}

// App holds the wired components of the sync core.
type App struct {
	Config *config.Config

	Store       store.Store
	StorePath   string
	Bus         *events.Bus
	Observer    *connectivity.Observer
	Prober      *connectivity.Prober
	Outbox      *outbox.Repository
	Remote      remote.API
	Cache       *cache.QueryCache
	Persister   *cache.Persister
	Drainer     *sync.Drainer
	Scheduler   *scheduler.Scheduler
	Coordinator *sync.Coordinator
	Games       *services.GameService
	Watcher     *watch.Watcher

	mu      gosync.Mutex
	started bool
}

// OpenStore opens the configured store backend. The returned path is
// empty for the memory backend.
func OpenStore(cfg *config.Config) (store.Store, string, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		repo, err := db.OpenRepository(cfg.DataDir)
		if err != nil {
			return nil, "", err
		}
		return repo, repo.Path(), nil
	case config.StoreBolt:
		s, err := bolt.Open(cfg.DataDir)
		if err != nil {
			return nil, "", err
		}
		return s, s.Path(), nil
	case config.StoreMemory:
		return store.NewMemory(), "", nil
	default:
		return nil, "", fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// New builds an App. The persisted read cache is restored before New returns.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	if opts.Store != nil {
		a.Store = opts.Store
	} else {
		s, path, err := OpenStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.Store, a.StorePath = s, path
	}

	if opts.Remote != nil {
		a.Remote = opts.Remote
	} else {
		client, err := remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL: cfg.RemoteURL,
			Token:   cfg.RemoteToken,
			Timeout: cfg.RequestTimeout,
		})
		if err != nil {
			a.Store.Close()
			return nil, err
		}
		a.Remote = client
	}

	a.Bus = events.NewBus()
	a.Observer = connectivity.NewObserver()
	if !opts.NoProbe && cfg.ProbeURL != "" {
		a.Prober = connectivity.NewProber(a.Observer, cfg.ProbeURL, cfg.ProbeInterval)
	}

	a.Outbox = outbox.NewRepository(a.Store)
	a.Cache = cache.NewQueryCache()
	a.Persister = cache.NewPersister(a.Store)
	if n, err := a.Persister.RestoreQueryCache(ctx, a.Cache); err != nil {
		logging.Warn("Failed to restore query cache", map[string]interface{}{
			"error": err.Error(),
		})
	} else if n > 0 {
		logging.Info("Restored query cache", map[string]interface{}{
			"entries": n,
		})
	}

	a.Drainer = sync.NewDrainer(a.Outbox, a.Remote, a.Observer, a.Bus)
	a.Scheduler = scheduler.NewScheduler(a.Remote, a.Cache, a.Persister, a.Observer, &scheduler.SchedulerConfig{
		BatchSize: cfg.PrefetchBatchSize,
		Idle:      scheduler.DelayStrategy{Delay: cfg.IdleDelay},
		StaleTime: cfg.PrefetchStaleTime,
	})
	a.Coordinator = sync.NewCoordinator(a.Observer, a.Outbox, a.Drainer, a.Scheduler)
	a.Games = services.NewGameService(a.Remote, a.Outbox, a.Observer, a.Cache, a.Bus)

	if cfg.WatchStore && a.StorePath != "" {
		w, err := watch.NewWatcher(a.Bus, filepath.Dir(a.StorePath), filepath.Base(a.StorePath))
		if err != nil {
			logging.Warn("Outbox watcher unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			a.Watcher = w
		}
	}

	return a, nil
}

// Identity returns the identity configured for this process.
func (a *App) Identity() models.Identity {
	return models.Identity{
		Authenticated: a.Config.OwnerID != "",
		OwnerID:       a.Config.OwnerID,
	}
}

// Start runs the background components: prober, watcher and coordinator.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	if a.Prober != nil {
		a.Prober.Start(ctx)
	}
	if a.Watcher != nil {
		if err := a.Watcher.Start(); err != nil {
			logging.Warn("Failed to start outbox watcher", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	a.Coordinator.SetIdentity(a.Identity())
	if err := a.Coordinator.Start(ctx); err != nil {
		if a.Prober != nil {
			a.Prober.Stop()
		}
		return err
	}

	a.started = true
	return nil
}

// Close stops background work, persists the read cache and releases the store.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.started {
		a.Coordinator.Stop()
		if a.Prober != nil {
			a.Prober.Stop()
		}
		a.started = false
	}
	if a.Watcher != nil {
		if err := a.Watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.Persister.PersistQueryCache(context.Background(), a.Cache); err != nil {
		errs = append(errs, fmt.Errorf("persist query cache: %w", err))
	}
	a.Bus.Close()
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return stderrors.Join(errs...)
}
