package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestObserver_SetOnline(t *testing.T) {
	o := NewObserver(false)
	if o.IsOnline() {
		t.Fatal("expected offline initially")
	}

	var changes []bool
	var transitions int
	o.Subscribe(func(online bool) { changes = append(changes, online) })
	o.OnTransition(func() { transitions++ })

	if !o.SetOnline(true) {
		t.Error("SetOnline(true) should report a change")
	}
	if o.SetOnline(true) {
		t.Error("repeating the same value is not a change")
	}
	o.SetOnline(false)
	o.SetOnline(true)

	if len(changes) != 3 || !changes[0] || changes[1] || !changes[2] {
		t.Errorf("changes = %v, want [true false true]", changes)
	}
	if transitions != 2 {
		t.Errorf("transitions = %d, want 2", transitions)
	}
}

func TestObserver_unsubscribe(t *testing.T) {
	o := NewObserver(true)

	var calls int
	unsubscribe := o.Subscribe(func(bool) { calls++ })
	removeTransition := o.OnTransition(func() { calls++ })

	o.SetOnline(false)
	unsubscribe()
	removeTransition()
	o.SetOnline(true)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestProber_Probe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	o := NewObserver(false)
	p := NewProber(o, ProberConfig{URL: server.URL, MinGap: time.Nanosecond})

	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"healthy", http.StatusOK, true},
		{"not found still reachable", http.StatusNotFound, true},
		{"unavailable", http.StatusServiceUnavailable, false},
		{"back", http.StatusNoContent, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status.Store(int32(tt.status))
			time.Sleep(time.Millisecond)
			if got := p.Probe(context.Background()); got != tt.want {
				t.Errorf("Probe() = %v, want %v", got, tt.want)
			}
			if o.IsOnline() != tt.want {
				t.Errorf("IsOnline() = %v, want %v", o.IsOnline(), tt.want)
			}
		})
	}
}

func TestProber_unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	o := NewObserver(true)
	p := NewProber(o, ProberConfig{URL: url, Timeout: time.Second})
	if p.Probe(context.Background()) {
		t.Error("Probe() = true for a closed server")
	}
	if o.IsOnline() {
		t.Error("observer should be offline")
	}
}

func TestProber_rateLimited(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	p := NewProber(NewObserver(false), ProberConfig{URL: server.URL, MinGap: time.Hour})
	for i := 0; i < 5; i++ {
		p.Probe(context.Background())
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestProber_StartStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	o := NewObserver(false)
	online := make(chan struct{})
	o.OnTransition(func() { close(online) })

	p := NewProber(o, ProberConfig{URL: server.URL, Interval: time.Hour})
	p.Start(context.Background())

	select {
	case <-online:
	case <-time.After(2 * time.Second):
		t.Fatal("initial probe did not bring the observer online")
	}
	p.Stop()
	p.Stop()
}
