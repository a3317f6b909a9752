package sync

import (
	"context"
	gosync "sync"

	"github.com/kimhsiao/spiritlog/backend/internal/connectivity"
	"github.com/kimhsiao/spiritlog/backend/internal/logging"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
	"github.com/kimhsiao/spiritlog/backend/internal/sync/outbox"
)

// CachePasses is the cache-warming side the Coordinator triggers.
type CachePasses interface {
	RunImmediate(ctx context.Context, identity models.Identity) bool
	ScheduleIdle(ctx context.Context, identity models.Identity) bool
	Stop()
}

// Coordinator starts the drain and the cache passes whenever the process
// becomes both signed in and online. The three flows run independently
// and may interleave.
type Coordinator struct {
	observer *connectivity.Observer
	outbox   *outbox.Repository
	drainer  DrainEngine
	passes   CachePasses

	mu          gosync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	identity    models.Identity
	ready       bool
	readyOwner  string
	running     bool
	unsubscribe func()
	wg          gosync.WaitGroup
}

// NewCoordinator creates a Coordinator. passes may be nil.
func NewCoordinator(observer *connectivity.Observer, repo *outbox.Repository, drainer DrainEngine, passes CachePasses) *Coordinator {
	return &Coordinator{
		observer: observer,
		outbox:   repo,
		drainer:  drainer,
		passes:   passes,
	}
}

// Start recovers records an interrupted drain left in syncing, then begins
// reacting to connectivity changes. If the process is already signed in
// and online the flows start right away.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if n, err := c.outbox.RecoverStale(ctx); err != nil {
		logging.Error("Failed to recover stale outbox records", err)
		c.mu.Lock()
		c.running = false
		c.cancel()
		c.mu.Unlock()
		return err
	} else if n > 0 {
		logging.Info("Recovered stale outbox records", map[string]interface{}{"count": n})
	}

	unsubscribe := c.observer.Subscribe(func(bool) { c.evaluate() })
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	logging.Info("Sync coordinator started", nil)
	c.evaluate()
	return nil
}

// SetIdentity updates the signed-in identity.
func (c *Coordinator) SetIdentity(identity models.Identity) {
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
	c.evaluate()
}

// Identity returns the current identity.
func (c *Coordinator) Identity() models.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// evaluate fires the flows on a transition into signed-in and online, and
// again when a different owner signs in while already online.
func (c *Coordinator) evaluate() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	ready := c.identity.Ready() && c.observer.Online()
	fire := ready && (!c.ready || c.identity.OwnerID != c.readyOwner)
	c.ready = ready
	if ready {
		c.readyOwner = c.identity.OwnerID
	} else {
		c.readyOwner = ""
	}
	identity := c.identity
	c.mu.Unlock()

	if fire {
		c.launch(identity, true)
	}
}

// TriggerSync starts a drain for the current identity outside of a
// connectivity transition, for an explicit retry from the user.
// It reports false when the process is not signed in and online.
func (c *Coordinator) TriggerSync() bool {
	c.mu.Lock()
	running := c.running
	identity := c.identity
	c.mu.Unlock()

	if !running || !identity.Ready() || !c.observer.Online() {
		return false
	}
	c.launch(identity, false)
	return true
}

func (c *Coordinator) launch(identity models.Identity, withPasses bool) {
	withPasses = withPasses && c.passes != nil

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	if withPasses {
		c.wg.Add(2)
	} else {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	logging.Info("Sync triggered", map[string]interface{}{
		"owner":  identity.OwnerID,
		"passes": withPasses,
	})

	go func() {
		defer c.wg.Done()
		c.drainer.Drain(ctx, identity)
	}()

	if !withPasses {
		return
	}

	go func() {
		defer c.wg.Done()
		c.passes.RunImmediate(ctx, identity)
	}()
	c.passes.ScheduleIdle(ctx, identity)
}

// Stop stops reacting to changes, cancels the flows' context and waits
// for them to return.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.ready = false
	c.readyOwner = ""
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if c.passes != nil {
		c.passes.Stop()
	}
	c.cancel()
	c.wg.Wait()

	logging.Info("Sync coordinator stopped", nil)
}
