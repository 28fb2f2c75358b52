// Package db provides unit tests for CRUD repository operations.
package db

import (
	"database/sql"
	stderrors "errors"
	"testing"

	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
	"github.com/kimhsiao/homeinventory/internal/models"
)

// setupTestRepo creates a migrated in-memory database for testing.
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	repo := NewRepository(db.DB)
	t.Cleanup(func() {
		repo.Close()
		db.Close()
	})
	return repo
}

func strPtr(s string) *string { return &s }

// =====================================================
// Item Tests
// =====================================================

// TestCreateItem_getRoundTrip verifies every column survives storage.
func TestCreateItem_getRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	value := 249.99
	year := 2021
	item := &models.Item{
		ID:             "item-1",
		Name:           "Espresso machine",
		CategoryID:     "cat-1",
		LocationID:     "loc-1",
		Brand:          "Gaggia",
		EstimatedValue: &value,
		PurchaseYear:   &year,
		Condition:      "good",
		Tags:           []string{"kitchen", "coffee"},
		ImageBlob:      []byte{0xff, 0xd8, 0xff},
		ImageMIME:      "image/jpeg",
	}

	if err := repo.CreateItem(item); err != nil {
		t.Fatalf("CreateItem() error = %v", err)
	}
	if item.ClientID != "item-1" || item.SyncStatus != models.StatusPending || item.CreatedAt == 0 {
		t.Errorf("defaults not applied: %+v", item)
	}

	got, err := repo.GetItem("item-1")
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if got.Name != item.Name || got.Brand != "Gaggia" || got.CategoryID != "cat-1" {
		t.Errorf("GetItem() = %+v", got)
	}
	if got.EstimatedValue == nil || *got.EstimatedValue != 249.99 {
		t.Errorf("EstimatedValue = %v", got.EstimatedValue)
	}
	if got.PurchaseYear == nil || *got.PurchaseYear != 2021 {
		t.Errorf("PurchaseYear = %v", got.PurchaseYear)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "coffee" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if !got.HasImageBuffer() || got.ImageMIME != "image/jpeg" {
		t.Error("image buffer should be stored")
	}
	if got.Model != "" || got.RemoteID != "" {
		t.Errorf("NULL columns should scan as empty strings: %+v", got)
	}
}

// TestGetItem_notFound verifies the error carries both the code and sql.ErrNoRows.
func TestGetItem_notFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.GetItem("missing")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows in chain, got %v", err)
	}
}

// TestListItems_filters covers category, status and text filters.
func TestListItems_filters(t *testing.T) {
	repo := setupTestRepo(t)
	mustCreate := func(item *models.Item) {
		t.Helper()
		if err := repo.CreateItem(item); err != nil {
			t.Fatalf("CreateItem(%s) error = %v", item.ID, err)
		}
	}
	mustCreate(&models.Item{ID: "a", Name: "Drill", CategoryID: "tools", CreatedAt: 1})
	mustCreate(&models.Item{ID: "b", Name: "Hammer", CategoryID: "tools", CreatedAt: 2, SyncStatus: models.StatusSynced})
	mustCreate(&models.Item{ID: "c", Name: "Blender", CategoryID: "kitchen", Description: "100% smoothie power", CreatedAt: 3})

	tests := []struct {
		name   string
		filter ItemFilter
		want   []string
	}{
		{"all newest first", ItemFilter{}, []string{"c", "b", "a"}},
		{"category", ItemFilter{CategoryID: "tools"}, []string{"b", "a"}},
		{"status", ItemFilter{Status: models.StatusSynced}, []string{"b"}},
		{"query", ItemFilter{Query: "ham"}, []string{"b"}},
		{"query escapes percent", ItemFilter{Query: "100%"}, []string{"c"}},
		{"limit offset", ItemFilter{Limit: 1, Offset: 1}, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := repo.ListItems(tt.filter)
			if err != nil {
				t.Fatalf("ListItems() error = %v", err)
			}
			var ids []string
			for _, it := range items {
				ids = append(ids, it.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ListItems() = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ListItems() = %v, want %v", ids, tt.want)
					break
				}
			}
		})
	}
}

// TestUpdateItem_reentersPending verifies edits reset the status to pending.
func TestUpdateItem_reentersPending(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Drill", SyncStatus: models.StatusSynced}); err != nil {
		t.Fatal(err)
	}

	updated, err := repo.UpdateItem("i1", models.ItemPatch{Brand: strPtr("Makita")})
	if err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}
	if updated.SyncStatus != models.StatusPending || updated.Brand != "Makita" {
		t.Errorf("UpdateItem() = %+v", updated)
	}

	got, _ := repo.GetItem("i1")
	if got.Brand != "Makita" || got.SyncStatus != models.StatusPending || got.Name != "Drill" {
		t.Errorf("stored item = %+v", got)
	}
}

// TestMarkDeleted_tombstone verifies deleted rows are hidden but kept.
func TestMarkDeleted_tombstone(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Drill"}); err != nil {
		t.Fatal(err)
	}

	if err := repo.MarkDeleted(models.TableItems, "i1"); err != nil {
		t.Fatalf("MarkDeleted() error = %v", err)
	}
	if _, err := repo.GetItem("i1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("tombstoned item should be hidden, got %v", err)
	}
	if err := repo.MarkDeleted(models.TableItems, "i1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("second MarkDeleted() should be NOT_FOUND, got %v", err)
	}

	var deleted int
	if err := repo.db.QueryRow("SELECT is_deleted FROM items WHERE id = 'i1'").Scan(&deleted); err != nil {
		t.Fatalf("row should still exist: %v", err)
	}

	if err := repo.HardDelete(models.TableItems, "i1"); err != nil {
		t.Fatalf("HardDelete() error = %v", err)
	}
	if err := repo.db.QueryRow("SELECT is_deleted FROM items WHERE id = 'i1'").Scan(&deleted); !stderrors.Is(err, sql.ErrNoRows) {
		t.Errorf("row should be gone, got %v", err)
	}
}

// TestTableName_invalid verifies out-of-range tables never reach SQL.
func TestTableName_invalid(t *testing.T) {
	repo := setupTestRepo(t)
	err := repo.SetSyncStatus(models.Table(42), "x", models.StatusSynced)
	if !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

// =====================================================
// Location / Category Tests
// =====================================================

// TestLocations_hierarchy verifies ordering and parent filters.
func TestLocations_hierarchy(t *testing.T) {
	repo := setupTestRepo(t)
	for _, loc := range []*models.Location{
		{ID: "s1", Name: "Top shelf", Type: models.LocationSpot, ParentID: "r1"},
		{ID: "r1", Name: "Garage", Type: models.LocationRoom, ParentID: "p1"},
		{ID: "p1", Name: "Home", Type: models.LocationProperty},
	} {
		if err := repo.CreateLocation(loc); err != nil {
			t.Fatalf("CreateLocation(%s) error = %v", loc.ID, err)
		}
	}

	all, err := repo.ListLocations(LocationFilter{})
	if err != nil {
		t.Fatalf("ListLocations() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "p1" || all[1].ID != "r1" || all[2].ID != "s1" {
		t.Errorf("ListLocations() order wrong: %v %v %v", all[0].ID, all[1].ID, all[2].ID)
	}

	children, err := repo.ListLocations(LocationFilter{ParentID: "r1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].ID != "s1" {
		t.Errorf("children of r1 = %v", children)
	}

	if err := repo.CreateLocation(&models.Location{ID: "bad", Name: "x", Type: "building"}); err == nil {
		t.Error("schema should reject unknown location types")
	}

	loc, err := repo.UpdateLocation("r1", models.LocationPatch{Name: strPtr("Workshop")})
	if err != nil {
		t.Fatalf("UpdateLocation() error = %v", err)
	}
	if loc.Name != "Workshop" || loc.Type != models.LocationRoom {
		t.Errorf("UpdateLocation() = %+v", loc)
	}
}

// TestCategories_crud verifies create, list and update.
func TestCategories_crud(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateCategory(&models.Category{ID: "c2", Name: "Tools", Icon: "wrench"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateCategory(&models.Category{ID: "c1", Name: "Electronics"}); err != nil {
		t.Fatal(err)
	}

	cats, err := repo.ListCategories()
	if err != nil {
		t.Fatalf("ListCategories() error = %v", err)
	}
	if len(cats) != 2 || cats[0].Name != "Electronics" {
		t.Errorf("ListCategories() = %v", cats)
	}

	cat, err := repo.UpdateCategory("c2", models.CategoryPatch{Icon: strPtr("hammer")})
	if err != nil {
		t.Fatalf("UpdateCategory() error = %v", err)
	}
	if cat.Icon != "hammer" || cat.SyncStatus != models.StatusPending {
		t.Errorf("UpdateCategory() = %+v", cat)
	}

	if _, err := repo.GetCategory("nope"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("GetCategory(missing) = %v", err)
	}
}

// =====================================================
// Image Side Channel Tests
// =====================================================

// TestImageObligation covers the buffer → remote reference swap.
func TestImageObligation(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Lamp", ImageBlob: []byte("jpeg"), ImageMIME: "image/jpeg"}); err != nil {
		t.Fatal(err)
	}

	// Not eligible until the create is confirmed
	waiting, err := repo.ItemsAwaitingImageUpload()
	if err != nil {
		t.Fatalf("ItemsAwaitingImageUpload() error = %v", err)
	}
	if len(waiting) != 0 {
		t.Fatalf("unconfirmed item should not await upload, got %d", len(waiting))
	}

	if err := repo.ConfirmCreate(models.TableItems, "i1", "remote-1"); err != nil {
		t.Fatalf("ConfirmCreate() error = %v", err)
	}
	item, _ := repo.GetItem("i1")
	if item.RemoteID != "remote-1" || item.SyncStatus != models.StatusPending {
		t.Errorf("item with buffer should stay pending after create: %+v", item)
	}

	waiting, _ = repo.ItemsAwaitingImageUpload()
	if len(waiting) != 1 || waiting[0].ID != "i1" {
		t.Fatalf("confirmed item should await upload, got %v", waiting)
	}

	if _, err := repo.AttachRemoteImage("i1", []byte("jpeg"), models.ImageRef{}); !apperrors.Is(err, apperrors.ErrImageInvalid) {
		t.Errorf("empty reference should be rejected, got %v", err)
	}
	ref := models.ImageRef{URL: "https://cdn.example/items/i1/abc.jpg", ThumbnailURL: "https://cdn.example/items/i1/abc_thumb.jpg"}

	// A buffer other than the one uploaded is left alone
	attached, err := repo.AttachRemoteImage("i1", []byte("older"), ref)
	if err != nil || attached {
		t.Fatalf("AttachRemoteImage(stale) = %v, %v", attached, err)
	}

	attached, err = repo.AttachRemoteImage("i1", []byte("jpeg"), ref)
	if err != nil || !attached {
		t.Fatalf("AttachRemoteImage() = %v, %v", attached, err)
	}
	item, _ = repo.GetItem("i1")
	if item.HasImageBuffer() || item.ImageURL != ref.URL || item.ThumbnailURL != ref.ThumbnailURL || item.SyncStatus != models.StatusSynced {
		t.Errorf("after attach = %+v", item)
	}
	waiting, _ = repo.ItemsAwaitingImageUpload()
	if len(waiting) != 0 {
		t.Error("attached item should not await upload")
	}
}

// TestConfirmCreate_withoutImage marks synced right away.
func TestConfirmCreate_withoutImage(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateCategory(&models.Category{ID: "c1", Name: "Tools"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.ConfirmCreate(models.TableCategories, "c1", ""); err != nil {
		t.Fatalf("ConfirmCreate() error = %v", err)
	}
	cat, _ := repo.GetCategory("c1")
	if cat.SyncStatus != models.StatusSynced || cat.RemoteID != "c1" {
		t.Errorf("category after confirm = %+v", cat)
	}
}

// TestSetItemImage verifies a replacement photo re-opens the obligation.
func TestSetItemImage(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Lamp", RemoteID: "i1", SyncStatus: models.StatusSynced}); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetItemImage("i1", nil, "image/jpeg"); !apperrors.Is(err, apperrors.ErrImageInvalid) {
		t.Errorf("empty buffer should be rejected, got %v", err)
	}
	if err := repo.SetItemImage("i1", []byte("jpeg"), "image/jpeg"); err != nil {
		t.Fatalf("SetItemImage() error = %v", err)
	}
	waiting, _ := repo.ItemsAwaitingImageUpload()
	if len(waiting) != 1 {
		t.Errorf("replacement photo should await upload")
	}
}
