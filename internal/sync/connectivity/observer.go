// Package connectivity tracks whether the remote service is believed reachable.
package connectivity

import (
	"sync"
	"sync/atomic"

	"github.com/kimhsiao/homeinventory/internal/logging"
)

// Observer holds the current online belief. Platform signals and the prober
// both feed SetOnline.
type Observer struct {
	online atomic.Bool
	log    *logging.Logger

	mu          sync.RWMutex
	nextID      int
	transitions map[int]func()
	subscribers map[int]func(online bool)
}

// NewObserver creates an Observer with an initial belief.
func NewObserver(online bool) *Observer {
	o := &Observer{
		log:         logging.Get().Component("connectivity"),
		transitions: make(map[int]func()),
		subscribers: make(map[int]func(bool)),
	}
	o.online.Store(online)
	return o
}

// IsOnline reports the current belief.
func (o *Observer) IsOnline() bool {
	return o.online.Load()
}

// SetOnline records a new belief and reports whether it changed. Subscribers
// hear every change; transition callbacks run only on offline to online.
func (o *Observer) SetOnline(online bool) bool {
	if o.online.Swap(online) == online {
		return false
	}

	o.log.Info("connectivity changed", map[string]interface{}{"online": online})

	o.mu.RLock()
	subs := make([]func(bool), 0, len(o.subscribers))
	for _, fn := range o.subscribers {
		subs = append(subs, fn)
	}
	var trans []func()
	if online {
		trans = make([]func(), 0, len(o.transitions))
		for _, fn := range o.transitions {
			trans = append(trans, fn)
		}
	}
	o.mu.RUnlock()

	for _, fn := range subs {
		fn(online)
	}
	for _, fn := range trans {
		fn()
	}
	return true
}

// OnTransition registers fn for offline to online transitions and returns a
// function that removes it.
func (o *Observer) OnTransition(fn func()) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.transitions[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.transitions, id)
	}
}

// Subscribe registers fn for every change and returns a function that removes it.
func (o *Observer) Subscribe(fn func(online bool)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.subscribers[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subscribers, id)
	}
}
