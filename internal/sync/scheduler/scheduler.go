// Package scheduler decides when the sync engine drains: on enqueue, on the
// offline to online transition, on a periodic safety-net tick and on request.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/homeinventory/internal/logging"
	syncpkg "github.com/kimhsiao/homeinventory/internal/sync"
	"github.com/kimhsiao/homeinventory/internal/sync/queue"
)

// Trigger reasons, recorded in the scheduler status and logs.
const (
	ReasonStartup   = "startup"
	ReasonEnqueue   = "enqueue"
	ReasonReconnect = "reconnect"
	ReasonPeriodic  = "periodic"
	ReasonManual    = "manual"
)

// QueueEvents announces queue changes.
type QueueEvents interface {
	Subscribe(fn queue.Listener) func()
}

// TransitionEvents announces offline to online transitions.
type TransitionEvents interface {
	OnTransition(fn func()) func()
}

// Scheduler manages background sync triggers.
type Scheduler struct {
	engine      syncpkg.SyncEngineInterface
	queue       QueueEvents
	transitions TransitionEvents
	interval    time.Duration
	log         *logging.Logger

	mu          sync.RWMutex
	isRunning   bool
	ctx         context.Context
	cancel      context.CancelFunc
	stopCh      chan struct{}
	wg          sync.WaitGroup
	unsubscribe []func()

	lastTrigger       time.Time
	lastTriggerReason string
	started           int
	coalesced         int
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Interval time.Duration // periodic safety-net trigger (default: 1 minute)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{Interval: time.Minute}
}

// NewScheduler creates a new Scheduler. queue and transitions may be nil.
func NewScheduler(engine syncpkg.SyncEngineInterface, q QueueEvents, transitions TransitionEvents, config *SchedulerConfig) *Scheduler {
	if config == nil || config.Interval <= 0 {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		engine:      engine,
		queue:       q,
		transitions: transitions,
		interval:    config.Interval,
		log:         logging.Get().Component("scheduler"),
	}
}

// Start subscribes to queue and connectivity events, begins the periodic
// loop and drains whatever an earlier run left behind. Drains started by the
// scheduler run under a context derived from ctx, not the caller's request.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stopCh = make(chan struct{})

	if s.queue != nil {
		s.unsubscribe = append(s.unsubscribe, s.queue.Subscribe(func(c queue.Change) {
			if c.Kind == queue.ChangeEnqueued || c.Kind == queue.ChangeRequeued {
				s.trigger(ReasonEnqueue)
			}
		}))
	}
	if s.transitions != nil {
		s.unsubscribe = append(s.unsubscribe, s.transitions.OnTransition(func() {
			s.trigger(ReasonReconnect)
		}))
	}

	s.wg.Add(1)
	go s.periodicLoop(s.ctx, s.stopCh)
	s.mu.Unlock()

	s.log.Info("sync scheduler started", map[string]interface{}{"interval": s.interval.String()})
	s.trigger(ReasonStartup)
}

// Stop unsubscribes, cancels any running drain and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	close(s.stopCh)
	s.cancel()
	s.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	s.wg.Wait()
	if w, ok := s.engine.(interface{ Wait() }); ok {
		w.Wait()
	}

	s.log.Info("sync scheduler stopped", nil)
}

func (s *Scheduler) periodicLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.trigger(ReasonPeriodic)
		}
	}
}

// trigger asks the engine for a background drain. The engine ignores the
// request while offline and folds it into the running cycle while draining.
func (s *Scheduler) trigger(reason string) bool {
	s.mu.RLock()
	ctx := s.ctx
	running := s.isRunning
	s.mu.RUnlock()
	if !running {
		return false
	}

	started := s.engine.Trigger(ctx)

	s.mu.Lock()
	s.lastTrigger = time.Now()
	s.lastTriggerReason = reason
	if started {
		s.started++
	} else {
		s.coalesced++
	}
	s.mu.Unlock()

	s.log.Debug("drain triggered", map[string]interface{}{
		"reason":  reason,
		"started": started,
	})
	return started
}

// TriggerNow is the manual "retry now": it fires the same trigger as any
// other event. It reports whether a new cycle started.
func (s *Scheduler) TriggerNow() bool {
	return s.trigger(ReasonManual)
}

// SyncNow runs one drain in the foreground and waits for completion.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.DrainResult, error) {
	result, err := s.engine.Drain(ctx)
	if err != nil {
		return result, err
	}

	s.log.Info("manual sync completed", map[string]interface{}{
		"synced":    result.Synced,
		"poisoned":  result.Poisoned,
		"remaining": result.Remaining,
		"halted":    result.Halted,
	})
	return result, nil
}

// SchedulerStatus reports trigger activity.
type SchedulerStatus struct {
	IsRunning         bool       `json:"is_running"`
	Interval          string     `json:"interval"`
	LastTrigger       *time.Time `json:"last_trigger,omitempty"`
	LastTriggerReason string     `json:"last_trigger_reason,omitempty"`
	CyclesStarted     int        `json:"cycles_started"`
	Coalesced         int        `json:"coalesced"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:         s.isRunning,
		Interval:          s.interval.String(),
		LastTriggerReason: s.lastTriggerReason,
		CyclesStarted:     s.started,
		Coalesced:         s.coalesced,
	}
	if !s.lastTrigger.IsZero() {
		t := s.lastTrigger
		status.LastTrigger = &t
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
