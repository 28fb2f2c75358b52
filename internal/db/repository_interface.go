package db

import (
	"github.com/kimhsiao/homeinventory/internal/models"
)

// ItemRepository defines operations for item persistence.
type ItemRepository interface {
	CreateItem(item *models.Item) error
	GetItem(id string) (*models.Item, error)
	ListItems(filter ItemFilter) ([]*models.Item, error)
	UpdateItem(id string, patch models.ItemPatch) (*models.Item, error)
	SetItemImage(id string, data []byte, mime string) error
}

// LocationRepository defines operations for location persistence.
type LocationRepository interface {
	CreateLocation(loc *models.Location) error
	GetLocation(id string) (*models.Location, error)
	ListLocations(filter LocationFilter) ([]*models.Location, error)
	UpdateLocation(id string, patch models.LocationPatch) (*models.Location, error)
}

// CategoryRepository defines operations for category persistence.
type CategoryRepository interface {
	CreateCategory(cat *models.Category) error
	GetCategory(id string) (*models.Category, error)
	ListCategories() ([]*models.Category, error)
	UpdateCategory(id string, patch models.CategoryPatch) (*models.Category, error)
}

// EntityStateRepository covers the table-generic tombstone and status writes.
type EntityStateRepository interface {
	MarkDeleted(table models.Table, id string) error
	HardDelete(table models.Table, id string) error
	SetSyncStatus(table models.Table, id string, status models.SyncStatus) error
	MarkSynced(table models.Table, id string) (bool, error)
	ReassertPending(table models.Table, id string) (bool, error)
	ConfirmCreate(table models.Table, id, remoteID string) error
}

// QueueRepository defines the mutation queue operations.
type QueueRepository interface {
	Enqueue(entry *models.PendingSyncEntry) error
	ListPending() ([]*models.PendingSyncEntry, error)
	NextPending() (*models.PendingSyncEntry, error)
	RemoveFromQueue(id string) error
	BumpRetry(id, lastErr string) (int, error)
	HasPendingFor(table models.Table, id string) (bool, error)
	CountPending() (int, error)
	CompleteEntry(entry *models.PendingSyncEntry, remoteID string) error
	PoisonEntry(entry *models.PendingSyncEntry, reason string, permanent bool) error
}

// FailureRepository defines operations over poisoned entries.
type FailureRepository interface {
	ListFailures() ([]*models.SyncFailure, error)
	FailuresFor(table models.Table, id string) ([]*models.SyncFailure, error)
	CountFailures() (int, error)
	RequeueFailures(table models.Table, id string) (int, error)
	DiscardFailures(table models.Table, id string) (int, error)
}

// ImageRepository covers the photo side channel.
type ImageRepository interface {
	ItemsAwaitingImageUpload() ([]*models.Item, error)
	AttachRemoteImage(id string, uploaded []byte, ref models.ImageRef) (bool, error)
}

// InventoryRepository groups everything the inventory service touches.
type InventoryRepository interface {
	ItemRepository
	LocationRepository
	CategoryRepository
	EntityStateRepository
	FailureRepository
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ ItemRepository        = (*Repository)(nil)
	_ LocationRepository    = (*Repository)(nil)
	_ CategoryRepository    = (*Repository)(nil)
	_ EntityStateRepository = (*Repository)(nil)
	_ QueueRepository       = (*Repository)(nil)
	_ FailureRepository     = (*Repository)(nil)
	_ ImageRepository       = (*Repository)(nil)
	_ InventoryRepository   = (*Repository)(nil)
)
