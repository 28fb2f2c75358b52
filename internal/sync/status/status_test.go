package status

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name     string
		online   bool
		pending  int
		draining bool
		failures int
		want     State
	}{
		{"offline wins over pending", false, 3, false, 0, StateOffline},
		{"offline while draining", false, 0, true, 0, StateOffline},
		{"pending", true, 2, false, 0, StateSyncing},
		{"draining with empty queue", true, 0, true, 0, StateSyncing},
		{"idle", true, 0, false, 0, StateSynced},
		{"failures alone are still synced", true, 0, false, 4, StateSynced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.online, tt.pending, tt.draining, tt.failures)
			if got.State != tt.want {
				t.Errorf("State = %s, want %s", got.State, tt.want)
			}
			if got.PendingCount != tt.pending || got.FailedCount != tt.failures {
				t.Errorf("counts = %d/%d", got.PendingCount, got.FailedCount)
			}
		})
	}
}

type fakeCounter struct {
	mu       sync.Mutex
	pending  int
	failures int
	err      error
}

func (f *fakeCounter) set(pending, failures int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending, f.failures, f.err = pending, failures, err
}

func (f *fakeCounter) CountPending() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, f.err
}

func (f *fakeCounter) CountFailures() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures, f.err
}

type flag struct{ v atomic.Bool }

func (f *flag) IsOnline() bool   { return f.v.Load() }
func (f *flag) IsDraining() bool { return f.v.Load() }

func TestWatcher_Refresh(t *testing.T) {
	counter := &fakeCounter{}
	online := &flag{}
	online.v.Store(true)
	w := NewWatcher(counter, nil, online, time.Hour)

	if w.Current().State != StateSynced {
		t.Fatalf("initial = %+v", w.Current())
	}

	var published []Status
	w.Subscribe(func(s Status) { published = append(published, s) })

	counter.set(2, 0, nil)
	if got := w.Refresh(); got.State != StateSyncing || got.PendingCount != 2 {
		t.Errorf("Refresh() = %+v", got)
	}
	w.Refresh()
	if len(published) != 1 {
		t.Errorf("published %d times, want 1 for an unchanged status", len(published))
	}

	online.v.Store(false)
	w.Refresh()
	if len(published) != 2 || published[1].State != StateOffline {
		t.Errorf("published = %+v", published)
	}
}

func TestWatcher_countErrorKeepsLastValue(t *testing.T) {
	counter := &fakeCounter{pending: 3, failures: 1}
	w := NewWatcher(counter, nil, nil, time.Hour)

	counter.set(0, 0, errors.New("database is locked"))
	got := w.Refresh()
	if got.PendingCount != 3 || got.FailedCount != 1 {
		t.Errorf("got %+v, want previous counts kept", got)
	}
}

func TestWatcher_draining(t *testing.T) {
	draining := &flag{}
	draining.v.Store(true)
	w := NewWatcher(&fakeCounter{}, draining, nil, time.Hour)
	if w.Current().State != StateSyncing || !w.Current().Draining {
		t.Errorf("Current() = %+v", w.Current())
	}
}

func TestWatcher_poll(t *testing.T) {
	counter := &fakeCounter{}
	w := NewWatcher(counter, nil, nil, 10*time.Millisecond)

	changed := make(chan Status, 1)
	unsubscribe := w.Subscribe(func(s Status) {
		select {
		case changed <- s:
		default:
		}
	})
	defer unsubscribe()

	w.Start(context.Background())
	defer w.Stop()

	counter.set(5, 0, nil)
	select {
	case s := <-changed:
		if s.PendingCount != 5 {
			t.Errorf("PendingCount = %d, want 5", s.PendingCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not pick up the unannounced change")
	}
}
