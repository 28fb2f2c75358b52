// Package db provides unit tests for the mutation queue and failure log.
package db

import (
	"encoding/json"
	"testing"

	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
	"github.com/kimhsiao/homeinventory/internal/models"
)

func enqueue(t *testing.T, repo *Repository, id string, action models.Action, table models.Table, entityID string) *models.PendingSyncEntry {
	t.Helper()
	entry := &models.PendingSyncEntry{
		ID:       id,
		Action:   action,
		Table:    table,
		EntityID: entityID,
		Payload:  json.RawMessage(`{"name":"x"}`),
	}
	if err := repo.Enqueue(entry); err != nil {
		t.Fatalf("Enqueue(%s) error = %v", id, err)
	}
	return entry
}

// =====================================================
// Queue Tests
// =====================================================

// TestEnqueue_assignsMonotonicSeq verifies ordering ignores wall-clock timestamps.
func TestEnqueue_assignsMonotonicSeq(t *testing.T) {
	repo := setupTestRepo(t)

	first := &models.PendingSyncEntry{ID: "e1", Action: models.ActionCreate, Table: models.TableItems, EntityID: "i1", EnqueuedAt: 5000}
	second := &models.PendingSyncEntry{ID: "e2", Action: models.ActionUpdate, Table: models.TableItems, EntityID: "i1", EnqueuedAt: 1000} // clock went backwards
	for _, e := range []*models.PendingSyncEntry{first, second} {
		if err := repo.Enqueue(e); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if second.Seq <= first.Seq {
		t.Fatalf("seq not monotonic: %d then %d", first.Seq, second.Seq)
	}

	pending, err := repo.ListPending()
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "e1" || pending[1].ID != "e2" {
		t.Errorf("ListPending() order = %v", pending)
	}

	head, err := repo.NextPending()
	if err != nil {
		t.Fatalf("NextPending() error = %v", err)
	}
	if head.ID != "e1" || head.Table != models.TableItems || head.Action != models.ActionCreate {
		t.Errorf("NextPending() = %+v", head)
	}
}

// TestEnqueue_rejectsInvalid verifies bad entries never reach the queue.
func TestEnqueue_rejectsInvalid(t *testing.T) {
	repo := setupTestRepo(t)

	err := repo.Enqueue(&models.PendingSyncEntry{ID: "e1", Action: "upsert", Table: models.TableItems, EntityID: "i1"})
	if !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("bad action: %v", err)
	}
	err = repo.Enqueue(&models.PendingSyncEntry{ID: "e1", Action: models.ActionCreate, Table: 0, EntityID: "i1"})
	if !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("bad table: %v", err)
	}
}

// TestEnqueue_storeFailure verifies write failures surface as QUEUE_WRITE_FAILED.
func TestEnqueue_storeFailure(t *testing.T) {
	repo := setupTestRepo(t)
	enqueue(t, repo, "dup", models.ActionCreate, models.TableItems, "i1")

	err := repo.Enqueue(&models.PendingSyncEntry{ID: "dup", Action: models.ActionCreate, Table: models.TableItems, EntityID: "i2"})
	if !apperrors.Is(err, apperrors.ErrQueueWrite) {
		t.Errorf("duplicate id should fail with QUEUE_WRITE_FAILED, got %v", err)
	}
}

// TestNextPending_empty returns nil without error.
func TestNextPending_empty(t *testing.T) {
	repo := setupTestRepo(t)
	head, err := repo.NextPending()
	if err != nil || head != nil {
		t.Errorf("NextPending() = (%v, %v), want (nil, nil)", head, err)
	}
}

// TestBumpRetry counts attempts and records the last error.
func TestBumpRetry(t *testing.T) {
	repo := setupTestRepo(t)
	enqueue(t, repo, "e1", models.ActionCreate, models.TableItems, "i1")

	for want := 1; want <= 3; want++ {
		got, err := repo.BumpRetry("e1", "connection refused")
		if err != nil {
			t.Fatalf("BumpRetry() error = %v", err)
		}
		if got != want {
			t.Errorf("BumpRetry() = %d, want %d", got, want)
		}
	}

	head, _ := repo.NextPending()
	if head.Retries != 3 || head.LastError != "connection refused" {
		t.Errorf("head = %+v", head)
	}

	if _, err := repo.BumpRetry("missing", ""); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("BumpRetry(missing) = %v", err)
	}
}

// TestRemoveFromQueue_andCounts covers removal, depth and per-entity checks.
func TestRemoveFromQueue_andCounts(t *testing.T) {
	repo := setupTestRepo(t)
	enqueue(t, repo, "e1", models.ActionCreate, models.TableItems, "i1")
	enqueue(t, repo, "e2", models.ActionCreate, models.TableCategories, "c1")

	if n, _ := repo.CountPending(); n != 2 {
		t.Errorf("CountPending() = %d, want 2", n)
	}
	if ok, _ := repo.HasPendingFor(models.TableItems, "i1"); !ok {
		t.Error("HasPendingFor(items, i1) should be true")
	}
	if ok, _ := repo.HasPendingFor(models.TableLocations, "i1"); ok {
		t.Error("HasPendingFor must match on table too")
	}

	if err := repo.RemoveFromQueue("e1"); err != nil {
		t.Fatalf("RemoveFromQueue() error = %v", err)
	}
	if err := repo.RemoveFromQueue("e1"); err != nil {
		t.Errorf("removing twice should be harmless: %v", err)
	}
	if n, _ := repo.CountPending(); n != 1 {
		t.Errorf("CountPending() = %d, want 1", n)
	}
}

// TestMarkSynced_waitsForNewerEntries verifies a stale success doesn't hide a newer edit.
func TestMarkSynced_waitsForNewerEntries(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateCategory(&models.Category{ID: "c1", Name: "Tools"}); err != nil {
		t.Fatal(err)
	}
	enqueue(t, repo, "e2", models.ActionUpdate, models.TableCategories, "c1")

	changed, err := repo.MarkSynced(models.TableCategories, "c1")
	if err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	if changed {
		t.Error("MarkSynced() must not settle while an update is queued")
	}

	repo.RemoveFromQueue("e2")
	if changed, _ := repo.MarkSynced(models.TableCategories, "c1"); !changed {
		t.Error("MarkSynced() should settle an idle entity")
	}
	cat, _ := repo.GetCategory("c1")
	if cat.SyncStatus != models.StatusSynced {
		t.Errorf("status = %s", cat.SyncStatus)
	}
}

// TestMarkSynced_itemWithPhotoBuffer keeps an item pending until its photo is uploaded.
func TestMarkSynced_itemWithPhotoBuffer(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Bike"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetItemImage("i1", []byte("jpeg"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	update := enqueue(t, repo, "e1", models.ActionUpdate, models.TableItems, "i1")

	if err := repo.CompleteEntry(update, ""); err != nil {
		t.Fatalf("CompleteEntry() error = %v", err)
	}
	item, _ := repo.GetItem("i1")
	if !item.HasImageBuffer() || item.SyncStatus != models.StatusPending {
		t.Errorf("item = %+v, want pending with its buffer", item)
	}
	if changed, _ := repo.MarkSynced(models.TableItems, "i1"); changed {
		t.Error("MarkSynced() must not settle an item holding a photo buffer")
	}

	ok, err := repo.AttachRemoteImage("i1", []byte("jpeg"), models.ImageRef{URL: "https://cdn.test/i1.jpg"})
	if err != nil || !ok {
		t.Fatalf("AttachRemoteImage() = %v, %v", ok, err)
	}
	item, _ = repo.GetItem("i1")
	if item.SyncStatus != models.StatusSynced {
		t.Errorf("status = %s, want synced after upload", item.SyncStatus)
	}
}

// TestReassertPending only touches synced entities with queued work.
func TestReassertPending(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateCategory(&models.Category{ID: "c1", Name: "Tools", SyncStatus: models.StatusSynced}); err != nil {
		t.Fatal(err)
	}

	if changed, err := repo.ReassertPending(models.TableCategories, "c1"); err != nil || changed {
		t.Errorf("ReassertPending() with nothing queued = %v, %v", changed, err)
	}

	enqueue(t, repo, "e1", models.ActionUpdate, models.TableCategories, "c1")
	if changed, err := repo.ReassertPending(models.TableCategories, "c1"); err != nil || !changed {
		t.Errorf("ReassertPending() = %v, %v, want changed", changed, err)
	}
	cat, _ := repo.GetCategory("c1")
	if cat.SyncStatus != models.StatusPending {
		t.Errorf("status = %s, want pending", cat.SyncStatus)
	}

	repo.SetSyncStatus(models.TableCategories, "c1", models.StatusError)
	if changed, _ := repo.ReassertPending(models.TableCategories, "c1"); changed {
		t.Error("ReassertPending() must leave an errored entity alone")
	}
}

// TestCompleteEntry covers the per-action outcome of a confirmed entry.
func TestCompleteEntry(t *testing.T) {
	repo := setupTestRepo(t)
	for _, id := range []string{"i1", "i2", "i3"} {
		if err := repo.CreateItem(&models.Item{ID: id, Name: "Thing " + id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.SetItemImage("i3", []byte("jpeg"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}

	create := enqueue(t, repo, "e1", models.ActionCreate, models.TableItems, "i1")
	update := enqueue(t, repo, "e2", models.ActionUpdate, models.TableItems, "i2")
	if err := repo.MarkDeleted(models.TableItems, "i2"); err != nil {
		t.Fatal(err)
	}
	del := enqueue(t, repo, "e3", models.ActionDelete, models.TableItems, "i2")
	withPhoto := enqueue(t, repo, "e4", models.ActionCreate, models.TableItems, "i3")

	if err := repo.CompleteEntry(create, "srv-1"); err != nil {
		t.Fatalf("CompleteEntry(create) error = %v", err)
	}
	item, _ := repo.GetItem("i1")
	if item.RemoteID != "srv-1" || item.SyncStatus != models.StatusSynced {
		t.Errorf("after create = %+v", item)
	}

	// The delete is still queued, so the update alone does not settle i2
	if err := repo.CompleteEntry(update, ""); err != nil {
		t.Fatalf("CompleteEntry(update) error = %v", err)
	}
	var status string
	repo.db.QueryRow(`SELECT sync_status FROM items WHERE id = 'i2'`).Scan(&status)
	if status != string(models.StatusPending) {
		t.Errorf("i2 status = %s, want pending", status)
	}

	if err := repo.CompleteEntry(del, ""); err != nil {
		t.Fatalf("CompleteEntry(delete) error = %v", err)
	}
	var n int
	repo.db.QueryRow(`SELECT COUNT(*) FROM items WHERE id = 'i2'`).Scan(&n)
	if n != 0 {
		t.Error("confirmed delete should remove the row")
	}

	if err := repo.CompleteEntry(withPhoto, ""); err != nil {
		t.Fatalf("CompleteEntry(create with photo) error = %v", err)
	}
	item, _ = repo.GetItem("i3")
	if item.RemoteID != "i3" || item.SyncStatus != models.StatusPending {
		t.Errorf("item with photo should stay pending: %+v", item)
	}

	if n, _ := repo.CountPending(); n != 0 {
		t.Errorf("CountPending() = %d, want 0", n)
	}
}

// TestCompleteEntry_rollback verifies the entry stays queued when the entity write fails.
func TestCompleteEntry_rollback(t *testing.T) {
	repo := setupTestRepo(t)
	entry := enqueue(t, repo, "e1", models.ActionCreate, models.TableItems, "i1")
	entry.Table = models.Table(99)

	if err := repo.CompleteEntry(entry, ""); err == nil {
		t.Fatal("CompleteEntry() should fail for an unknown table")
	}
	if n, _ := repo.CountPending(); n != 1 {
		t.Errorf("entry should remain queued, CountPending() = %d", n)
	}
}

// =====================================================
// Poison / Failure Log Tests
// =====================================================

// TestPoisonEntry marks the entity error and moves the entry to the failure log.
func TestPoisonEntry(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Drill"}); err != nil {
		t.Fatal(err)
	}
	entry := enqueue(t, repo, "e1", models.ActionCreate, models.TableItems, "i1")
	entry.Retries = 3

	if err := repo.PoisonEntry(entry, "HTTP 503", false); err != nil {
		t.Fatalf("PoisonEntry() error = %v", err)
	}

	item, _ := repo.GetItem("i1")
	if item.SyncStatus != models.StatusError {
		t.Errorf("entity status = %s, want error", item.SyncStatus)
	}
	if n, _ := repo.CountPending(); n != 0 {
		t.Errorf("poisoned entry still queued")
	}

	failures, err := repo.ListFailures()
	if err != nil {
		t.Fatalf("ListFailures() error = %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("ListFailures() = %d entries, want 1", len(failures))
	}
	f := failures[0]
	if f.ID != "e1" || f.Reason != "HTTP 503" || f.Permanent || f.Retries != 3 || string(f.Payload) != `{"name":"x"}` {
		t.Errorf("failure = %+v", f)
	}
	if n, _ := repo.CountFailures(); n != 1 {
		t.Errorf("CountFailures() = %d", n)
	}

	// A later success for the same entity must not hide the error
	if changed, _ := repo.MarkSynced(models.TableItems, "i1"); changed {
		t.Error("MarkSynced() must not clear an entity with failures")
	}
}

// TestRequeueFailures puts entries back at the tail with zero retries.
func TestRequeueFailures(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Drill"}); err != nil {
		t.Fatal(err)
	}
	entry := enqueue(t, repo, "e1", models.ActionCreate, models.TableItems, "i1")
	repo.BumpRetry("e1", "timeout")
	oldSeq := entry.Seq
	if err := repo.PoisonEntry(entry, "timeout", false); err != nil {
		t.Fatal(err)
	}
	enqueue(t, repo, "e2", models.ActionCreate, models.TableCategories, "c1")

	n, err := repo.RequeueFailures(models.TableItems, "i1")
	if err != nil {
		t.Fatalf("RequeueFailures() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RequeueFailures() = %d, want 1", n)
	}

	pending, _ := repo.ListPending()
	if len(pending) != 2 || pending[1].ID != "e1" {
		t.Fatalf("requeued entry should be at the tail: %v", pending)
	}
	if pending[1].Seq <= oldSeq || pending[1].Retries != 0 {
		t.Errorf("requeued entry = %+v", pending[1])
	}
	item, _ := repo.GetItem("i1")
	if item.SyncStatus != models.StatusPending {
		t.Errorf("status = %s, want pending", item.SyncStatus)
	}
	if c, _ := repo.CountFailures(); c != 0 {
		t.Errorf("failure log should be empty, has %d", c)
	}

	if _, err := repo.RequeueFailures(models.TableItems, "i1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("second requeue should be NOT_FOUND, got %v", err)
	}
}

// TestCompleteEntry_deleteClearsFailures drops the failure log of a removed entity.
func TestCompleteEntry_deleteClearsFailures(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Drill"}); err != nil {
		t.Fatal(err)
	}
	create := enqueue(t, repo, "e1", models.ActionCreate, models.TableItems, "i1")
	if err := repo.PoisonEntry(create, "HTTP 400", true); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkDeleted(models.TableItems, "i1"); err != nil {
		t.Fatal(err)
	}
	del := enqueue(t, repo, "e2", models.ActionDelete, models.TableItems, "i1")

	if err := repo.CompleteEntry(del, ""); err != nil {
		t.Fatalf("CompleteEntry(delete) error = %v", err)
	}
	if n, _ := repo.CountFailures(); n != 0 {
		t.Errorf("CountFailures() = %d, want 0 once the entity is gone", n)
	}
	if _, err := repo.RequeueFailures(models.TableItems, "i1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("RequeueFailures() error = %v, want NOT_FOUND", err)
	}
}

// TestRequeueFailures_removedEntity refuses to resend for a row that no longer exists.
func TestRequeueFailures_removedEntity(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Drill"}); err != nil {
		t.Fatal(err)
	}
	create := enqueue(t, repo, "e1", models.ActionCreate, models.TableItems, "i1")
	if err := repo.PoisonEntry(create, "HTTP 400", true); err != nil {
		t.Fatal(err)
	}
	if err := repo.HardDelete(models.TableItems, "i1"); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.RequeueFailures(models.TableItems, "i1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("RequeueFailures() error = %v, want NOT_FOUND", err)
	}
	if n, _ := repo.CountPending(); n != 0 {
		t.Errorf("CountPending() = %d, want nothing requeued", n)
	}
	if n, _ := repo.CountFailures(); n != 1 {
		t.Errorf("CountFailures() = %d, failure should stay for discard", n)
	}
}

// TestRequeueFailures_tombstoned retries a failed delete against the hidden row.
func TestRequeueFailures_tombstoned(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Drill"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkDeleted(models.TableItems, "i1"); err != nil {
		t.Fatal(err)
	}
	del := enqueue(t, repo, "e1", models.ActionDelete, models.TableItems, "i1")
	if err := repo.PoisonEntry(del, "HTTP 503", false); err != nil {
		t.Fatal(err)
	}

	if n, err := repo.RequeueFailures(models.TableItems, "i1"); err != nil || n != 1 {
		t.Errorf("RequeueFailures() = %d, %v, want 1", n, err)
	}
}

// TestDiscardFailures_create removes a record the remote never saw.
func TestDiscardFailures_create(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Drill"}); err != nil {
		t.Fatal(err)
	}
	create := enqueue(t, repo, "e1", models.ActionCreate, models.TableItems, "i1")
	if err := repo.PoisonEntry(create, "HTTP 422", true); err != nil {
		t.Fatal(err)
	}
	enqueue(t, repo, "e2", models.ActionUpdate, models.TableItems, "i1")

	n, err := repo.DiscardFailures(models.TableItems, "i1")
	if err != nil {
		t.Fatalf("DiscardFailures() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DiscardFailures() = %d, want 1", n)
	}
	if _, err := repo.GetItem("i1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("item should be removed, got %v", err)
	}
	if ok, _ := repo.HasPendingFor(models.TableItems, "i1"); ok {
		t.Error("orphaned update should be dropped with the create")
	}
}

// TestDiscardFailures_delete restores the tombstoned row.
func TestDiscardFailures_delete(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Drill", SyncStatus: models.StatusSynced}); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkDeleted(models.TableItems, "i1"); err != nil {
		t.Fatal(err)
	}
	del := enqueue(t, repo, "e1", models.ActionDelete, models.TableItems, "i1")
	if err := repo.PoisonEntry(del, "HTTP 403", true); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.DiscardFailures(models.TableItems, "i1"); err != nil {
		t.Fatalf("DiscardFailures() error = %v", err)
	}
	item, err := repo.GetItem("i1")
	if err != nil {
		t.Fatalf("item should be visible again: %v", err)
	}
	if item.SyncStatus != models.StatusSynced {
		t.Errorf("status = %s, want synced", item.SyncStatus)
	}
}

// TestDiscardFailures_update keeps local values and settles the entity.
func TestDiscardFailures_update(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateLocation(&models.Location{ID: "p1", Name: "Home", Type: models.LocationProperty}); err != nil {
		t.Fatal(err)
	}
	upd := enqueue(t, repo, "e1", models.ActionUpdate, models.TableLocations, "p1")
	if err := repo.PoisonEntry(upd, "HTTP 400", true); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.DiscardFailures(models.TableLocations, "p1"); err != nil {
		t.Fatalf("DiscardFailures() error = %v", err)
	}
	loc, _ := repo.GetLocation("p1")
	if loc.SyncStatus != models.StatusSynced || loc.Name != "Home" {
		t.Errorf("location = %+v", loc)
	}

	if _, err := repo.DiscardFailures(models.TableLocations, "p1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("nothing left to discard, got %v", err)
	}
}

// TestDiscardFailures_updateKeepsPhotoPending leaves an unuploaded photo outstanding.
func TestDiscardFailures_updateKeepsPhotoPending(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CreateItem(&models.Item{ID: "i1", Name: "Bike"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetItemImage("i1", []byte("jpeg"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	upd := enqueue(t, repo, "e1", models.ActionUpdate, models.TableItems, "i1")
	if err := repo.PoisonEntry(upd, "HTTP 400", true); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.DiscardFailures(models.TableItems, "i1"); err != nil {
		t.Fatalf("DiscardFailures() error = %v", err)
	}
	item, _ := repo.GetItem("i1")
	if !item.HasImageBuffer() || item.SyncStatus != models.StatusPending {
		t.Errorf("item = %+v, want pending with its buffer", item)
	}
}
