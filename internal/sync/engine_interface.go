// Package sync drains the mutation queue to the remote service.
package sync

import (
	"context"
	"encoding/json"

	"github.com/kimhsiao/homeinventory/internal/models"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// Drain runs one drain cycle to completion and returns its result.
	// It returns ErrDrainInProgress if a cycle is already running.
	Drain(ctx context.Context) (*DrainResult, error)

	// Trigger starts a drain cycle in the background if online and idle.
	// It reports whether a cycle was started.
	Trigger(ctx context.Context) bool

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// State returns whether a cycle is running.
	State() State

	// LastResult returns the result of the most recent cycle, or nil.
	LastResult() *DrainResult

	// LastError returns the error that ended the most recent cycle, if any.
	LastError() error
}

// Store is the part of the local store the engine reads and writes.
type Store interface {
	NextPending() (*models.PendingSyncEntry, error)
	CountPending() (int, error)
	BumpRetry(id, lastErr string) (int, error)
	CompleteEntry(entry *models.PendingSyncEntry, remoteID string) error
	PoisonEntry(entry *models.PendingSyncEntry, reason string, permanent bool) error
	GetItem(id string) (*models.Item, error)
	ItemsAwaitingImageUpload() ([]*models.Item, error)
	AttachRemoteImage(id string, uploaded []byte, ref models.ImageRef) (bool, error)
}

// RemoteService applies mutations remotely. Entities are addressed by their
// client-assigned id; Create returns the id the service assigned.
type RemoteService interface {
	Create(ctx context.Context, table models.Table, entityID string, payload json.RawMessage) (string, error)
	Update(ctx context.Context, table models.Table, entityID string, payload json.RawMessage) error
	Delete(ctx context.Context, table models.Table, entityID string) error
}

// ImageService stores a photo remotely and returns where it lives.
type ImageService interface {
	Upload(ctx context.Context, data []byte, mime, entityID string) (models.ImageRef, error)
}

// Connectivity reports whether the remote service is believed reachable.
type Connectivity interface {
	IsOnline() bool
}
