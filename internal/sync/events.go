package sync

import (
	"time"

	"github.com/kimhsiao/homeinventory/internal/models"
)

// SyncEventType identifies a sync notification.
type SyncEventType string

const (
	SyncEventStarted       SyncEventType = "sync_started"
	SyncEventCompleted     SyncEventType = "sync_completed"
	SyncEventHalted        SyncEventType = "sync_halted"
	SyncEventEntrySynced   SyncEventType = "entry_synced"
	SyncEventEntryFailed   SyncEventType = "entry_failed"
	SyncEventEntryPoisoned SyncEventType = "entry_poisoned"
	SyncEventImageUploaded SyncEventType = "image_uploaded"
	SyncEventImageFailed   SyncEventType = "image_failed"
)

// SyncEvent is emitted while a drain cycle runs.
type SyncEvent struct {
	Type      SyncEventType `json:"type"`
	Table     models.Table  `json:"table,omitempty"`
	EntityID  string        `json:"entity_id,omitempty"`
	EntryID   string        `json:"entry_id,omitempty"`
	Action    models.Action `json:"action,omitempty"`
	Retries   int           `json:"retries,omitempty"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// SyncEventHandler receives sync events. Handlers are called on the drain
// goroutine and must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent calls f(event).
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) {
	f(event)
}

// MultiHandler fans an event out to several handlers in order.
type MultiHandler []SyncEventHandler

// OnSyncEvent forwards event to every non-nil handler.
func (m MultiHandler) OnSyncEvent(event SyncEvent) {
	for _, h := range m {
		if h != nil {
			h.OnSyncEvent(event)
		}
	}
}

// SyncErrorEntry records a failed entry or image step.
type SyncErrorEntry struct {
	Table     models.Table `json:"table"`
	EntityID  string       `json:"entity_id"`
	Operation string       `json:"operation"`
	Error     string       `json:"error"`
	Timestamp time.Time    `json:"timestamp"`
}

// maxErrorHistory caps the in-memory error history.
const maxErrorHistory = 50
