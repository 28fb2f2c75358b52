// Package inventory is the write path the UI calls: every change lands in the
// local store first and is then appended to the mutation queue.
package inventory

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/kimhsiao/homeinventory/internal/db"
	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
	"github.com/kimhsiao/homeinventory/internal/logging"
	"github.com/kimhsiao/homeinventory/internal/media"
	"github.com/kimhsiao/homeinventory/internal/models"
	"github.com/kimhsiao/homeinventory/internal/uuid"
)

// Store is the local store as the service sees it.
type Store interface {
	db.InventoryRepository
	SearchItems(opts *db.SearchOptions) (*db.SearchResponse, error)
}

// Queue appends intents and manages poisoned entries.
type Queue interface {
	Enqueue(action models.Action, table models.Table, entityID string, payload json.RawMessage) (*models.PendingSyncEntry, error)
	Retry(table models.Table, entityID string) (int, error)
	Discard(table models.Table, entityID string) (int, error)
}

// Service performs optimistic writes.
type Service struct {
	store Store
	queue Queue
	ids   uuid.Generator
	log   *logging.Logger

	mu      sync.RWMutex
	trigger func() bool
}

// NewService creates a Service. A nil generator uses random UUIDs.
func NewService(store Store, q Queue, ids uuid.Generator) *Service {
	if ids == nil {
		ids = uuid.Random{}
	}
	return &Service{
		store: store,
		queue: q,
		ids:   ids,
		log:   logging.Get().Component("inventory"),
	}
}

// SetTrigger sets the function used to request a drain for work that does
// not go through the queue, such as a photo added to a synced item.
func (s *Service) SetTrigger(fn func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trigger = fn
}

func (s *Service) requestDrain() {
	s.mu.RLock()
	fn := s.trigger
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func validation(err error) error {
	return apperrors.Wrap(apperrors.ErrValidation, err.Error(), err)
}

// =====================================================
// Items
// =====================================================

// CreateItem stores a new item and queues its create. photo is optional raw
// image bytes; it is compressed and buffered until the create is confirmed.
func (s *Service) CreateItem(item *models.Item, photo []byte) (*models.Item, error) {
	if err := item.Validate(); err != nil {
		return nil, validation(err)
	}
	if err := s.checkReferences(item.CategoryID, item.LocationID); err != nil {
		return nil, err
	}

	if len(photo) > 0 {
		compressed, err := media.Compress(bytes.NewReader(photo))
		if err != nil {
			return nil, err
		}
		item.ImageBlob = compressed.Data
		item.ImageMIME = compressed.MIME
	}

	item.ID = s.ids.NewID()
	item.ClientID = item.ID
	item.RemoteID = ""
	item.ImageURL = ""
	item.ThumbnailURL = ""
	item.IsDeleted = false
	item.SyncStatus = models.StatusPending

	if err := s.store.CreateItem(item); err != nil {
		return nil, err
	}

	payload, err := item.Payload()
	if err != nil {
		s.undoCreate(models.TableItems, item.ID)
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode item", err)
	}
	if _, err := s.queue.Enqueue(models.ActionCreate, models.TableItems, item.ID, payload); err != nil {
		s.undoCreate(models.TableItems, item.ID)
		return nil, err
	}

	s.log.Info("item created", map[string]interface{}{
		"id":        item.ID,
		"has_photo": item.HasImageBuffer(),
	})
	return item, nil
}

// undoCreate removes a row whose create could not be queued, so nothing is
// left locally that would never reach the remote.
func (s *Service) undoCreate(table models.Table, id string) {
	if err := s.store.HardDelete(table, id); err != nil {
		s.log.Error("failed to remove unqueued create", err, map[string]interface{}{
			"table": table.String(),
			"id":    id,
		})
	}
}

// GetItem returns a live item.
func (s *Service) GetItem(id string) (*models.Item, error) {
	return s.store.GetItem(id)
}

// ListItems returns live items matching filter.
func (s *Service) ListItems(filter db.ItemFilter) ([]*models.Item, error) {
	return s.store.ListItems(filter)
}

// SearchItems runs a full-text search over live items.
func (s *Service) SearchItems(opts *db.SearchOptions) (*db.SearchResponse, error) {
	return s.store.SearchItems(opts)
}

// UpdateItem applies patch locally and queues it. The patch itself is the payload.
func (s *Service) UpdateItem(id string, patch models.ItemPatch) (*models.Item, error) {
	if err := patch.Validate(); err != nil {
		return nil, validation(err)
	}
	var categoryID, locationID string
	if patch.CategoryID != nil {
		categoryID = *patch.CategoryID
	}
	if patch.LocationID != nil {
		locationID = *patch.LocationID
	}
	if err := s.checkReferences(categoryID, locationID); err != nil {
		return nil, err
	}

	item, err := s.store.UpdateItem(id, patch)
	if err != nil {
		return nil, err
	}
	if err := s.enqueuePatch(models.TableItems, id, patch); err != nil {
		return nil, err
	}
	return item, nil
}

// SetItemPhoto compresses photo and buffers it on the item, replacing any
// earlier photo. Upload happens once the item's create is confirmed.
func (s *Service) SetItemPhoto(id string, photo []byte) (*models.Item, error) {
	compressed, err := media.Compress(bytes.NewReader(photo))
	if err != nil {
		return nil, err
	}
	if err := s.store.SetItemImage(id, compressed.Data, compressed.MIME); err != nil {
		return nil, err
	}

	s.log.Info("item photo buffered", map[string]interface{}{
		"id":      id,
		"bytes":   len(compressed.Data),
		"quality": compressed.Quality,
	})
	s.requestDrain()
	return s.store.GetItem(id)
}

// DeleteItem tombstones the item and queues its delete.
func (s *Service) DeleteItem(id string) error {
	if _, err := s.store.GetItem(id); err != nil {
		return err
	}
	return s.delete(models.TableItems, id)
}

// =====================================================
// Locations
// =====================================================

// CreateLocation stores a new location and queues its create. Rooms hang
// under properties and spots under rooms.
func (s *Service) CreateLocation(loc *models.Location) (*models.Location, error) {
	if err := loc.Validate(); err != nil {
		return nil, validation(err)
	}
	if err := s.checkParent(loc.Type, loc.ParentID, ""); err != nil {
		return nil, err
	}

	loc.ID = s.ids.NewID()
	loc.RemoteID = ""
	loc.IsDeleted = false
	loc.SyncStatus = models.StatusPending

	if err := s.store.CreateLocation(loc); err != nil {
		return nil, err
	}
	payload, err := loc.Payload()
	if err != nil {
		s.undoCreate(models.TableLocations, loc.ID)
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode location", err)
	}
	if _, err := s.queue.Enqueue(models.ActionCreate, models.TableLocations, loc.ID, payload); err != nil {
		s.undoCreate(models.TableLocations, loc.ID)
		return nil, err
	}
	return loc, nil
}

// GetLocation returns a live location.
func (s *Service) GetLocation(id string) (*models.Location, error) {
	return s.store.GetLocation(id)
}

// ListLocations returns live locations matching filter.
func (s *Service) ListLocations(filter db.LocationFilter) ([]*models.Location, error) {
	return s.store.ListLocations(filter)
}

// UpdateLocation applies patch locally and queues it.
func (s *Service) UpdateLocation(id string, patch models.LocationPatch) (*models.Location, error) {
	if err := patch.Validate(); err != nil {
		return nil, validation(err)
	}
	if patch.ParentID != nil {
		current, err := s.store.GetLocation(id)
		if err != nil {
			return nil, err
		}
		if err := s.checkParent(current.Type, *patch.ParentID, id); err != nil {
			return nil, err
		}
	}

	loc, err := s.store.UpdateLocation(id, patch)
	if err != nil {
		return nil, err
	}
	if err := s.enqueuePatch(models.TableLocations, id, patch); err != nil {
		return nil, err
	}
	return loc, nil
}

// DeleteLocation tombstones the location and queues its delete.
func (s *Service) DeleteLocation(id string) error {
	if _, err := s.store.GetLocation(id); err != nil {
		return err
	}
	return s.delete(models.TableLocations, id)
}

func (s *Service) checkParent(typ models.LocationType, parentID, selfID string) error {
	want := typ.ParentType()
	if want == "" {
		if parentID != "" {
			return apperrors.New(apperrors.ErrValidation, "a property cannot have a parent")
		}
		return nil
	}
	if parentID == "" || parentID == selfID {
		return apperrors.New(apperrors.ErrValidation, string(typ)+" requires a parent "+string(want))
	}
	parent, err := s.store.GetLocation(parentID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return apperrors.Wrap(apperrors.ErrValidation, "parent location "+parentID+" does not exist", err)
	}
	if err != nil {
		return err
	}
	if parent.Type != want {
		return apperrors.New(apperrors.ErrValidation,
			"a "+string(typ)+" must be placed in a "+string(want)+", not a "+string(parent.Type))
	}
	return nil
}

// =====================================================
// Categories
// =====================================================

// CreateCategory stores a new category and queues its create.
func (s *Service) CreateCategory(cat *models.Category) (*models.Category, error) {
	if err := cat.Validate(); err != nil {
		return nil, validation(err)
	}

	cat.ID = s.ids.NewID()
	cat.RemoteID = ""
	cat.IsDeleted = false
	cat.SyncStatus = models.StatusPending

	if err := s.store.CreateCategory(cat); err != nil {
		return nil, err
	}
	payload, err := cat.Payload()
	if err != nil {
		s.undoCreate(models.TableCategories, cat.ID)
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode category", err)
	}
	if _, err := s.queue.Enqueue(models.ActionCreate, models.TableCategories, cat.ID, payload); err != nil {
		s.undoCreate(models.TableCategories, cat.ID)
		return nil, err
	}
	return cat, nil
}

// GetCategory returns a live category.
func (s *Service) GetCategory(id string) (*models.Category, error) {
	return s.store.GetCategory(id)
}

// ListCategories returns live categories.
func (s *Service) ListCategories() ([]*models.Category, error) {
	return s.store.ListCategories()
}

// UpdateCategory applies patch locally and queues it.
func (s *Service) UpdateCategory(id string, patch models.CategoryPatch) (*models.Category, error) {
	if err := patch.Validate(); err != nil {
		return nil, validation(err)
	}
	cat, err := s.store.UpdateCategory(id, patch)
	if err != nil {
		return nil, err
	}
	if err := s.enqueuePatch(models.TableCategories, id, patch); err != nil {
		return nil, err
	}
	return cat, nil
}

// DeleteCategory tombstones the category and queues its delete.
func (s *Service) DeleteCategory(id string) error {
	if _, err := s.store.GetCategory(id); err != nil {
		return err
	}
	return s.delete(models.TableCategories, id)
}

// =====================================================
// Shared
// =====================================================

func (s *Service) checkReferences(categoryID, locationID string) error {
	if categoryID != "" {
		if _, err := s.store.GetCategory(categoryID); apperrors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Wrap(apperrors.ErrValidation, "category "+categoryID+" does not exist", err)
		} else if err != nil {
			return err
		}
	}
	if locationID != "" {
		if _, err := s.store.GetLocation(locationID); apperrors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Wrap(apperrors.ErrValidation, "location "+locationID+" does not exist", err)
		} else if err != nil {
			return err
		}
	}
	return nil
}

// enqueuePatch queues an update after the local write. A failed enqueue
// leaves the local edit in place, pending, and is reported to the caller.
// A drain finishing an older entry between the write and the enqueue may
// have marked the entity synced, so pending is reasserted once queued.
func (s *Service) enqueuePatch(table models.Table, id string, patch interface{}) error {
	payload, err := json.Marshal(patch)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode patch", err)
	}
	if _, err := s.queue.Enqueue(models.ActionUpdate, table, id, payload); err != nil {
		s.log.Error("local edit not queued", err, map[string]interface{}{
			"table": table.String(),
			"id":    id,
		})
		return err
	}
	if _, err := s.store.ReassertPending(table, id); err != nil {
		return err
	}
	return nil
}

// delete queues the intent before tombstoning, so a row never disappears
// from view without a delete on its way to the remote.
func (s *Service) delete(table models.Table, id string) error {
	if _, err := s.queue.Enqueue(models.ActionDelete, table, id, nil); err != nil {
		return err
	}
	// A drain may already have confirmed the delete and removed the row.
	if err := s.store.MarkDeleted(table, id); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	s.log.Info("entity deleted", map[string]interface{}{"table": table.String(), "id": id})
	return nil
}

// =====================================================
// Failures
// =====================================================

// ListFailures returns poisoned entries, oldest first.
func (s *Service) ListFailures() ([]*models.SyncFailure, error) {
	return s.store.ListFailures()
}

// RetryFailed requeues an entity's poisoned entries. The queue announces the
// requeue, which triggers a drain.
func (s *Service) RetryFailed(table models.Table, id string) (int, error) {
	return s.queue.Retry(table, id)
}

// DiscardFailed drops an entity's poisoned entries.
func (s *Service) DiscardFailed(table models.Table, id string) (int, error) {
	return s.queue.Discard(table, id)
}
