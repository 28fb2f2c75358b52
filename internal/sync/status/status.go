// Package status derives the sync banner state from the queue, the engine and
// connectivity.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/homeinventory/internal/logging"
)

// State is what the banner shows.
type State string

const (
	StateOffline State = "offline"
	StateSyncing State = "syncing"
	StateSynced  State = "synced"
)

// Status is a snapshot of the sync surface. FailedCount > 0 means the user
// has poisoned entries to retry or discard.
type Status struct {
	State        State     `json:"state"`
	PendingCount int       `json:"pending_count"`
	FailedCount  int       `json:"failed_count"`
	Online       bool      `json:"online"`
	Draining     bool      `json:"draining"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Derive computes the status. It holds no state of its own.
func Derive(online bool, pending int, draining bool, failures int) Status {
	s := Status{
		PendingCount: pending,
		FailedCount:  failures,
		Online:       online,
		Draining:     draining,
	}
	switch {
	case !online:
		s.State = StateOffline
	case pending > 0 || draining:
		s.State = StateSyncing
	default:
		s.State = StateSynced
	}
	return s
}

func (s Status) equal(o Status) bool {
	return s.State == o.State && s.PendingCount == o.PendingCount && s.FailedCount == o.FailedCount &&
		s.Online == o.Online && s.Draining == o.Draining
}

// Counter reads queue depths from the store.
type Counter interface {
	CountPending() (int, error)
	CountFailures() (int, error)
}

// DrainState reports whether a drain cycle is running.
type DrainState interface {
	IsDraining() bool
}

// Connectivity reports the online belief.
type Connectivity interface {
	IsOnline() bool
}

// DefaultRefreshInterval is the safety-net poll period.
const DefaultRefreshInterval = 5 * time.Second

// Watcher recomputes the status when told something changed, and on a timer
// in case a change went unannounced. Subscribers only hear real changes.
type Watcher struct {
	counter  Counter
	drain    DrainState
	conn     Connectivity
	interval time.Duration
	log      *logging.Logger

	mu      sync.Mutex
	current Status
	subs    map[int]func(Status)
	nextID  int

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a Watcher and computes the initial status.
func NewWatcher(counter Counter, drain DrainState, conn Connectivity, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	w := &Watcher{
		counter:  counter,
		drain:    drain,
		conn:     conn,
		interval: interval,
		log:      logging.Get().Component("status"),
		subs:     make(map[int]func(Status)),
		stopCh:   make(chan struct{}),
	}
	w.current = w.compute(Status{})
	return w
}

// Current returns the last computed status.
func (w *Watcher) Current() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Subscribe registers fn for status changes and returns a function that removes it.
func (w *Watcher) Subscribe(fn func(Status)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

// Refresh recomputes the status and publishes it if it changed.
func (w *Watcher) Refresh() Status {
	w.mu.Lock()
	next := w.compute(w.current)
	changed := !next.equal(w.current)
	if !changed {
		w.mu.Unlock()
		return next
	}
	w.current = next
	subs := make([]func(Status), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	w.log.Debug("status changed", map[string]interface{}{
		"state":   string(next.State),
		"pending": next.PendingCount,
		"failed":  next.FailedCount,
	})
	for _, fn := range subs {
		fn(next)
	}
	return next
}

// compute reads every input. Counts that cannot be read keep their previous value.
func (w *Watcher) compute(prev Status) Status {
	pending, err := w.counter.CountPending()
	if err != nil {
		w.log.Warn("failed to count pending entries", map[string]interface{}{"error": err.Error()})
		pending = prev.PendingCount
	}
	failures, err := w.counter.CountFailures()
	if err != nil {
		w.log.Warn("failed to count failures", map[string]interface{}{"error": err.Error()})
		failures = prev.FailedCount
	}

	online := w.conn == nil || w.conn.IsOnline()
	draining := w.drain != nil && w.drain.IsDraining()

	s := Derive(online, pending, draining, failures)
	s.UpdatedAt = time.Now()
	return s
}

// Start runs the safety-net poll until Stop or ctx ends.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.Refresh()
			}
		}
	}()
}

// Stop ends the poll and waits for it.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}
