package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kimhsiao/spiritlog/backend/internal/logging"
)

// Prober stands in for platform network events: it polls a health endpoint
// and feeds the result into an Observer.
type Prober struct {
	observer   *Observer
	url        string
	interval   time.Duration
	httpClient *http.Client

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewProber creates a Prober for url. The probe request timeout is bounded
// by interval so a hung request cannot stall the loop.
func NewProber(observer *Observer, url string, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		observer: observer,
		url:      url,
		interval: interval,
		httpClient: &http.Client{
			Timeout: interval,
		},
	}
}

// Probe performs a single check and updates the observer.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	p.observer.Set(online)
	return online
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		logging.Error("Invalid probe request", err, map[string]interface{}{"url": p.url})
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		logging.Debug("Probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

// Start probes immediately and then every interval until Stop or ctx is done.
// A stopped Prober may be started again.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.wg.Add(1)
	p.mu.Unlock()

	go p.loop(ctx, stopCh)
}

// Stop stops the probe loop and waits for it to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Prober) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer p.wg.Done()

	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
