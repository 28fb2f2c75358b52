package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kimhsiao/homeinventory/internal/logging"
)

// Prober polls a health URL and feeds the result to an Observer. It covers
// platforms whose reachability signal is missing or unreliable.
type Prober struct {
	url      string
	interval time.Duration
	client   *http.Client
	observer *Observer
	limiter  *rate.Limiter
	log      *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// ProberConfig configures a Prober.
type ProberConfig struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	// MinGap bounds how often Probe actually hits the network.
	MinGap time.Duration
}

// NewProber creates a Prober.
func NewProber(observer *Observer, cfg ProberConfig) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = time.Second
	}
	return &Prober{
		url:      cfg.URL,
		interval: cfg.Interval,
		client:   &http.Client{Timeout: cfg.Timeout},
		observer: observer,
		limiter:  rate.NewLimiter(rate.Every(cfg.MinGap), 1),
		log:      logging.Get().Component("connectivity"),
		stopCh:   make(chan struct{}),
	}
}

// Start probes once, then on every interval until Stop or ctx ends.
func (p *Prober) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.Probe(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.Probe(ctx)
			}
		}
	}()
}

// Stop ends the polling loop and waits for it.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Probe checks the health URL now and updates the observer. Calls closer
// together than MinGap return the current belief without a request.
func (p *Prober) Probe(ctx context.Context) bool {
	if !p.limiter.Allow() {
		return p.observer.IsOnline()
	}

	online := p.check(ctx)
	if ctx.Err() != nil {
		// shutting down; keep the last belief
		return p.observer.IsOnline()
	}
	p.observer.SetOnline(online)
	return online
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.log.Warn("invalid probe url", map[string]interface{}{"url": p.url, "error": err.Error()})
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
