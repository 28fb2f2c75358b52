// Package queue appends user intents to the durable mutation queue and tells
// interested parties when the queue changes.
package queue

import (
	"encoding/json"
	"sync"

	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
	"github.com/kimhsiao/homeinventory/internal/logging"
	"github.com/kimhsiao/homeinventory/internal/models"
	"github.com/kimhsiao/homeinventory/internal/uuid"
)

// Store is the part of the local store the queue writes to.
type Store interface {
	Enqueue(entry *models.PendingSyncEntry) error
	ListPending() ([]*models.PendingSyncEntry, error)
	CountPending() (int, error)
	ListFailures() ([]*models.SyncFailure, error)
	CountFailures() (int, error)
	RequeueFailures(table models.Table, id string) (int, error)
	DiscardFailures(table models.Table, id string) (int, error)
}

// ChangeKind says what happened to the queue.
type ChangeKind string

const (
	ChangeEnqueued  ChangeKind = "enqueued"
	ChangeRequeued  ChangeKind = "requeued"
	ChangeDiscarded ChangeKind = "discarded"
)

// Change describes one queue mutation. Entry is set for ChangeEnqueued.
type Change struct {
	Kind     ChangeKind
	Table    models.Table
	EntityID string
	Entry    *models.PendingSyncEntry
	Count    int
}

// Listener is called synchronously after the store write commits.
type Listener func(Change)

// Queue is the append side of the mutation queue.
type Queue struct {
	store Store
	ids   uuid.Generator
	log   *logging.Logger

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// New creates a Queue. A nil generator uses random UUIDs.
func New(store Store, ids uuid.Generator) *Queue {
	if ids == nil {
		ids = uuid.Random{}
	}
	return &Queue{
		store:     store,
		ids:       ids,
		log:       logging.Get().Component("queue"),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers fn for every queue change and returns a function that
// removes it.
func (q *Queue) Subscribe(fn Listener) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextID
	q.nextID++
	q.listeners[id] = fn

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.listeners, id)
	}
}

func (q *Queue) notify(c Change) {
	q.mu.RLock()
	fns := make([]Listener, 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Enqueue records an intent for the entity. The entry is durable when Enqueue
// returns nil; a failed write comes back as ErrQueueWrite and nothing is
// announced.
func (q *Queue) Enqueue(action models.Action, table models.Table, entityID string, payload json.RawMessage) (*models.PendingSyncEntry, error) {
	entry := &models.PendingSyncEntry{
		ID:       q.ids.NewID(),
		Action:   action,
		Table:    table,
		EntityID: entityID,
		Payload:  payload,
	}

	if err := q.store.Enqueue(entry); err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrInternal {
			err = apperrors.Wrap(apperrors.ErrQueueWrite, "failed to enqueue mutation", err)
		}
		q.log.Error("enqueue failed", err, map[string]interface{}{
			"action":    string(action),
			"table":     table.String(),
			"entity_id": entityID,
		})
		return nil, err
	}

	q.log.Debug("enqueued", map[string]interface{}{
		"entry_id":  entry.ID,
		"seq":       entry.Seq,
		"action":    string(action),
		"table":     table.String(),
		"entity_id": entityID,
	})

	q.notify(Change{Kind: ChangeEnqueued, Table: table, EntityID: entityID, Entry: entry, Count: 1})
	return entry, nil
}

// Pending returns queued entries in sequence order.
func (q *Queue) Pending() ([]*models.PendingSyncEntry, error) {
	return q.store.ListPending()
}

// Size returns the queue depth.
func (q *Queue) Size() (int, error) {
	return q.store.CountPending()
}

// Failures returns poisoned entries.
func (q *Queue) Failures() ([]*models.SyncFailure, error) {
	return q.store.ListFailures()
}

// FailureCount returns the number of poisoned entries.
func (q *Queue) FailureCount() (int, error) {
	return q.store.CountFailures()
}

// Retry puts an entity's poisoned entries back at the tail of the queue.
func (q *Queue) Retry(table models.Table, entityID string) (int, error) {
	n, err := q.store.RequeueFailures(table, entityID)
	if err != nil {
		return 0, err
	}

	q.log.Info("failures requeued", map[string]interface{}{
		"table":     table.String(),
		"entity_id": entityID,
		"count":     n,
	})
	q.notify(Change{Kind: ChangeRequeued, Table: table, EntityID: entityID, Count: n})
	return n, nil
}

// Discard drops an entity's poisoned entries.
func (q *Queue) Discard(table models.Table, entityID string) (int, error) {
	n, err := q.store.DiscardFailures(table, entityID)
	if err != nil {
		return 0, err
	}

	q.log.Info("failures discarded", map[string]interface{}{
		"table":     table.String(),
		"entity_id": entityID,
		"count":     n,
	})
	q.notify(Change{Kind: ChangeDiscarded, Table: table, EntityID: entityID, Count: n})
	return n, nil
}

// Stats returns queue statistics.
func (q *Queue) Stats() (map[string]int, error) {
	pending, err := q.store.CountPending()
	if err != nil {
		return nil, err
	}
	failed, err := q.store.CountFailures()
	if err != nil {
		return nil, err
	}
	return map[string]int{
		"pending": pending,
		"failed":  failed,
	}, nil
}
