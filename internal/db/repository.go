package db

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
	"github.com/kimhsiao/homeinventory/internal/models"
)

// Repository provides CRUD operations for the entity tables and the mutation queue.
// Every method is a single statement or a single transaction.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for the queries the drain loop runs on every entry.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If another goroutine stored one first, use it and close ours
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// tableName binds each table variant to its SQL table.
func tableName(t models.Table) (string, error) {
	switch t {
	case models.TableItems:
		return "items", nil
	case models.TableLocations:
		return "locations", nil
	case models.TableCategories:
		return "categories", nil
	}
	return "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown table %d", uint8(t)))
}

func notFound(what, id string) error {
	return apperrors.Wrap(apperrors.ErrNotFound, fmt.Sprintf("%s %s not found", what, id), sql.ErrNoRows)
}

func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return err
	}
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	return apperrors.Wrap(apperrors.ErrDatabase, op, err)
}

// nullString maps "" to NULL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// settledClause is true when the entity has nothing queued and nothing poisoned.
// It takes four arguments: table, id, table, id.
const settledClause = `NOT EXISTS (SELECT 1 FROM sync_queue q WHERE q.target_table = ? AND q.entity_id = ?)
	AND NOT EXISTS (SELECT 1 FROM sync_failures f WHERE f.target_table = ? AND f.entity_id = ?)`

// =====================================================
// Item Operations
// =====================================================

const itemColumns = `id, client_id, name, category_id, location_id, description, brand, model,
	estimated_value, purchase_year, condition, tags, image_blob, image_mime, image_url, thumbnail_url,
	remote_id, is_deleted, created_at, updated_at, sync_status`

// ItemFilter narrows ListItems. Zero values mean "any".
type ItemFilter struct {
	CategoryID string
	LocationID string
	Status     models.SyncStatus
	Query      string // substring match on name, brand and description
	Limit      int
	Offset     int
}

// CreateItem inserts a new item. ID must be set by the caller.
func (r *Repository) CreateItem(item *models.Item) error {
	now := models.NowMillis()
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.ClientID == "" {
		item.ClientID = item.ID
	}
	if item.SyncStatus == "" {
		item.SyncStatus = models.StatusPending
	}

	tags, err := json.Marshal(tagsOrEmpty(item.Tags))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to encode tags", err)
	}

	query := `
	INSERT INTO items (` + itemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query, item.ID, item.ClientID, item.Name,
		nullString(item.CategoryID), nullString(item.LocationID), nullString(item.Description),
		nullString(item.Brand), nullString(item.Model), item.EstimatedValue, item.PurchaseYear,
		nullString(item.Condition), string(tags), blobOrNil(item.ImageBlob), nullString(item.ImageMIME),
		nullString(item.ImageURL), nullString(item.ThumbnailURL), nullString(item.RemoteID),
		item.IsDeleted, item.CreatedAt, item.UpdatedAt, string(item.SyncStatus))
	return dbError("failed to create item", err)
}

// GetItem retrieves a live (not tombstoned) item by ID.
func (r *Repository) GetItem(id string) (*models.Item, error) {
	stmt, err := r.PrepareStmt(`SELECT ` + itemColumns + ` FROM items WHERE id = ? AND is_deleted = 0`)
	if err != nil {
		return nil, dbError("failed to prepare item query", err)
	}
	item, err := scanItem(stmt.QueryRow(id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound("item", id)
	}
	return item, dbError("failed to get item", err)
}

// ListItems returns live items, newest first.
func (r *Repository) ListItems(filter ItemFilter) ([]*models.Item, error) {
	var where []string
	var args []interface{}
	where = append(where, "is_deleted = 0")

	if filter.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.LocationID != "" {
		where = append(where, "location_id = ?")
		args = append(args, filter.LocationID)
	}
	if filter.Status != "" {
		where = append(where, "sync_status = ?")
		args = append(args, string(filter.Status))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + escapeLike(q) + "%"
		where = append(where, `(name LIKE ? ESCAPE '\' OR brand LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	args = append(args, limit, filter.Offset)

	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, dbError("failed to list items", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, dbError("failed to scan item", err)
		}
		items = append(items, item)
	}
	return items, dbError("failed to list items", rows.Err())
}

// UpdateItem applies patch to a live item and marks it pending.
func (r *Repository) UpdateItem(id string, patch models.ItemPatch) (*models.Item, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, dbError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	item, err := scanItem(tx.QueryRow(`SELECT `+itemColumns+` FROM items WHERE id = ? AND is_deleted = 0`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound("item", id)
	}
	if err != nil {
		return nil, dbError("failed to load item", err)
	}

	patch.Apply(item)
	item.UpdatedAt = models.NowMillis()
	item.SyncStatus = models.StatusPending

	tags, err := json.Marshal(tagsOrEmpty(item.Tags))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode tags", err)
	}

	query := `
	UPDATE items
	SET name = ?, category_id = ?, location_id = ?, description = ?, brand = ?, model = ?,
		estimated_value = ?, purchase_year = ?, condition = ?, tags = ?, updated_at = ?, sync_status = ?
	WHERE id = ?
	`
	if _, err := tx.Exec(query, item.Name, nullString(item.CategoryID), nullString(item.LocationID),
		nullString(item.Description), nullString(item.Brand), nullString(item.Model),
		item.EstimatedValue, item.PurchaseYear, nullString(item.Condition), string(tags),
		item.UpdatedAt, string(item.SyncStatus), id); err != nil {
		return nil, dbError("failed to update item", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, dbError("failed to commit item update", err)
	}
	return item, nil
}

// SetItemImage buffers a photo on a live item. The engine uploads it once the
// item's create is confirmed.
func (r *Repository) SetItemImage(id string, data []byte, mime string) error {
	if len(data) == 0 {
		return apperrors.New(apperrors.ErrImageInvalid, "image buffer is empty")
	}
	res, err := r.db.Exec(`
	UPDATE items SET image_blob = ?, image_mime = ?, updated_at = ?, sync_status = 'pending'
	WHERE id = ? AND is_deleted = 0`, data, mime, models.NowMillis(), id)
	if err != nil {
		return dbError("failed to set item image", err)
	}
	return requireOne(res, "item", id)
}

// ItemsAwaitingImageUpload returns live items whose create was confirmed
// remotely but that still hold a local photo buffer.
func (r *Repository) ItemsAwaitingImageUpload() ([]*models.Item, error) {
	rows, err := r.db.Query(`SELECT ` + itemColumns + ` FROM items
	WHERE image_blob IS NOT NULL AND remote_id IS NOT NULL AND is_deleted = 0
	ORDER BY created_at, id`)
	if err != nil {
		return nil, dbError("failed to list image uploads", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, dbError("failed to scan item", err)
		}
		items = append(items, item)
	}
	return items, dbError("failed to list image uploads", rows.Err())
}

// AttachRemoteImage swaps the uploaded buffer for the remote reference and
// reports whether it did. If the photo was replaced while uploading, the newer
// buffer is kept and false is returned. The item becomes synced unless other
// work for it is outstanding.
func (r *Repository) AttachRemoteImage(id string, uploaded []byte, ref models.ImageRef) (bool, error) {
	if ref.URL == "" {
		return false, apperrors.New(apperrors.ErrImageInvalid, "remote image reference is empty")
	}
	table := models.TableItems.String()
	res, err := r.db.Exec(`
	UPDATE items
	SET image_url = ?, thumbnail_url = ?, image_blob = NULL, image_mime = NULL, updated_at = ?,
		sync_status = CASE WHEN `+settledClause+` THEN 'synced' ELSE sync_status END
	WHERE id = ? AND image_blob = ?`,
		ref.URL, nullString(ref.ThumbnailURL), models.NowMillis(), table, id, table, id, id, uploaded)
	if err != nil {
		return false, dbError("failed to attach remote image", err)
	}
	n, err := res.RowsAffected()
	return n > 0, dbError("failed to attach remote image", err)
}

func scanItem(s scanner) (*models.Item, error) {
	var item models.Item
	var categoryID, locationID, description, brand, model, condition sql.NullString
	var imageMIME, imageURL, thumbnailURL, remoteID sql.NullString
	var value sql.NullFloat64
	var year sql.NullInt64
	var tags, status string

	err := s.Scan(
		&item.ID, &item.ClientID, &item.Name, &categoryID, &locationID, &description,
		&brand, &model, &value, &year, &condition, &tags, &item.ImageBlob, &imageMIME,
		&imageURL, &thumbnailURL, &remoteID, &item.IsDeleted, &item.CreatedAt,
		&item.UpdatedAt, &status,
	)
	if err != nil {
		return nil, err
	}

	item.CategoryID = categoryID.String
	item.LocationID = locationID.String
	item.Description = description.String
	item.Brand = brand.String
	item.Model = model.String
	item.Condition = condition.String
	item.ImageMIME = imageMIME.String
	item.ImageURL = imageURL.String
	item.ThumbnailURL = thumbnailURL.String
	item.RemoteID = remoteID.String
	item.SyncStatus = models.SyncStatus(status)
	if value.Valid {
		v := value.Float64
		item.EstimatedValue = &v
	}
	if year.Valid {
		y := int(year.Int64)
		item.PurchaseYear = &y
	}
	if len(item.ImageBlob) == 0 {
		item.ImageBlob = nil
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
			return nil, fmt.Errorf("corrupt tags on item %s: %w", item.ID, err)
		}
	}
	if len(item.Tags) == 0 {
		item.Tags = nil
	}
	return &item, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func blobOrNil(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// =====================================================
// Location Operations
// =====================================================

const locationColumns = `id, name, type, parent_id, remote_id, is_deleted, created_at, updated_at, sync_status`

// LocationFilter narrows ListLocations.
type LocationFilter struct {
	Type     models.LocationType
	ParentID string
}

// CreateLocation inserts a new location. ID must be set by the caller.
func (r *Repository) CreateLocation(loc *models.Location) error {
	now := models.NowMillis()
	if loc.CreatedAt == 0 {
		loc.CreatedAt = now
	}
	loc.UpdatedAt = now
	if loc.SyncStatus == "" {
		loc.SyncStatus = models.StatusPending
	}

	query := `INSERT INTO locations (` + locationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Exec(query, loc.ID, loc.Name, string(loc.Type), nullString(loc.ParentID),
		nullString(loc.RemoteID), loc.IsDeleted, loc.CreatedAt, loc.UpdatedAt, string(loc.SyncStatus))
	return dbError("failed to create location", err)
}

// GetLocation retrieves a live location by ID.
func (r *Repository) GetLocation(id string) (*models.Location, error) {
	loc, err := scanLocation(r.db.QueryRow(`SELECT `+locationColumns+` FROM locations WHERE id = ? AND is_deleted = 0`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound("location", id)
	}
	return loc, dbError("failed to get location", err)
}

// ListLocations returns live locations ordered by type then name.
func (r *Repository) ListLocations(filter LocationFilter) ([]*models.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE is_deleted = 0`
	var args []interface{}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.ParentID != "" {
		query += " AND parent_id = ?"
		args = append(args, filter.ParentID)
	}
	query += ` ORDER BY CASE type WHEN 'property' THEN 0 WHEN 'room' THEN 1 ELSE 2 END, name`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, dbError("failed to list locations", err)
	}
	defer rows.Close()

	var locs []*models.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, dbError("failed to scan location", err)
		}
		locs = append(locs, loc)
	}
	return locs, dbError("failed to list locations", rows.Err())
}

// UpdateLocation applies patch to a live location and marks it pending.
func (r *Repository) UpdateLocation(id string, patch models.LocationPatch) (*models.Location, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, dbError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	loc, err := scanLocation(tx.QueryRow(`SELECT `+locationColumns+` FROM locations WHERE id = ? AND is_deleted = 0`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound("location", id)
	}
	if err != nil {
		return nil, dbError("failed to load location", err)
	}

	patch.Apply(loc)
	loc.UpdatedAt = models.NowMillis()
	loc.SyncStatus = models.StatusPending

	if _, err := tx.Exec(`UPDATE locations SET name = ?, parent_id = ?, updated_at = ?, sync_status = ? WHERE id = ?`,
		loc.Name, nullString(loc.ParentID), loc.UpdatedAt, string(loc.SyncStatus), id); err != nil {
		return nil, dbError("failed to update location", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, dbError("failed to commit location update", err)
	}
	return loc, nil
}

func scanLocation(s scanner) (*models.Location, error) {
	var loc models.Location
	var typ, status string
	var parentID, remoteID sql.NullString
	if err := s.Scan(&loc.ID, &loc.Name, &typ, &parentID, &remoteID, &loc.IsDeleted,
		&loc.CreatedAt, &loc.UpdatedAt, &status); err != nil {
		return nil, err
	}
	loc.Type = models.LocationType(typ)
	loc.ParentID = parentID.String
	loc.RemoteID = remoteID.String
	loc.SyncStatus = models.SyncStatus(status)
	return &loc, nil
}

// =====================================================
// Category Operations
// =====================================================

const categoryColumns = `id, name, icon, remote_id, is_deleted, created_at, updated_at, sync_status`

// CreateCategory inserts a new category. ID must be set by the caller.
func (r *Repository) CreateCategory(cat *models.Category) error {
	now := models.NowMillis()
	if cat.CreatedAt == 0 {
		cat.CreatedAt = now
	}
	cat.UpdatedAt = now
	if cat.SyncStatus == "" {
		cat.SyncStatus = models.StatusPending
	}

	query := `INSERT INTO categories (` + categoryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Exec(query, cat.ID, cat.Name, nullString(cat.Icon), nullString(cat.RemoteID),
		cat.IsDeleted, cat.CreatedAt, cat.UpdatedAt, string(cat.SyncStatus))
	return dbError("failed to create category", err)
}

// GetCategory retrieves a live category by ID.
func (r *Repository) GetCategory(id string) (*models.Category, error) {
	cat, err := scanCategory(r.db.QueryRow(`SELECT `+categoryColumns+` FROM categories WHERE id = ? AND is_deleted = 0`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound("category", id)
	}
	return cat, dbError("failed to get category", err)
}

// ListCategories returns live categories ordered by name.
func (r *Repository) ListCategories() ([]*models.Category, error) {
	rows, err := r.db.Query(`SELECT ` + categoryColumns + ` FROM categories WHERE is_deleted = 0 ORDER BY name`)
	if err != nil {
		return nil, dbError("failed to list categories", err)
	}
	defer rows.Close()

	var cats []*models.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, dbError("failed to scan category", err)
		}
		cats = append(cats, cat)
	}
	return cats, dbError("failed to list categories", rows.Err())
}

// UpdateCategory applies patch to a live category and marks it pending.
func (r *Repository) UpdateCategory(id string, patch models.CategoryPatch) (*models.Category, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, dbError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	cat, err := scanCategory(tx.QueryRow(`SELECT `+categoryColumns+` FROM categories WHERE id = ? AND is_deleted = 0`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound("category", id)
	}
	if err != nil {
		return nil, dbError("failed to load category", err)
	}

	patch.Apply(cat)
	cat.UpdatedAt = models.NowMillis()
	cat.SyncStatus = models.StatusPending

	if _, err := tx.Exec(`UPDATE categories SET name = ?, icon = ?, updated_at = ?, sync_status = ? WHERE id = ?`,
		cat.Name, nullString(cat.Icon), cat.UpdatedAt, string(cat.SyncStatus), id); err != nil {
		return nil, dbError("failed to update category", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, dbError("failed to commit category update", err)
	}
	return cat, nil
}

func scanCategory(s scanner) (*models.Category, error) {
	var cat models.Category
	var status string
	var icon, remoteID sql.NullString
	if err := s.Scan(&cat.ID, &cat.Name, &icon, &remoteID, &cat.IsDeleted,
		&cat.CreatedAt, &cat.UpdatedAt, &status); err != nil {
		return nil, err
	}
	cat.Icon = icon.String
	cat.RemoteID = remoteID.String
	cat.SyncStatus = models.SyncStatus(status)
	return &cat, nil
}

// =====================================================
// Entity State Operations (any table)
// =====================================================

// MarkDeleted tombstones a live entity: hidden from reads, pending until the
// remote confirms the delete.
func (r *Repository) MarkDeleted(table models.Table, id string) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	res, err := r.db.Exec(`UPDATE `+name+` SET is_deleted = 1, sync_status = 'pending', updated_at = ?
	WHERE id = ? AND is_deleted = 0`, models.NowMillis(), id)
	if err != nil {
		return dbError("failed to mark deleted", err)
	}
	return requireOne(res, table.String(), id)
}

// HardDelete removes the row. Missing rows are not an error.
func (r *Repository) HardDelete(table models.Table, id string) error {
	return hardDelete(r.db, table, id)
}

func hardDelete(exec execer, table models.Table, id string) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	_, err = exec.Exec(`DELETE FROM `+name+` WHERE id = ?`, id)
	return dbError("failed to delete", err)
}

// SetSyncStatus overwrites an entity's status, tombstoned rows included.
func (r *Repository) SetSyncStatus(table models.Table, id string, status models.SyncStatus) error {
	return setSyncStatus(r.db, table, id, status)
}

func setSyncStatus(exec execer, table models.Table, id string, status models.SyncStatus) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	_, err = exec.Exec(`UPDATE `+name+` SET sync_status = ? WHERE id = ?`, string(status), id)
	return dbError("failed to set sync status", err)
}

// MarkSynced marks the entity synced when nothing else is queued or poisoned for it
// and, for items, no photo is waiting for upload. It reports whether the status changed.
func (r *Repository) MarkSynced(table models.Table, id string) (bool, error) {
	return markSynced(r.db, table, id)
}

func markSynced(exec execer, table models.Table, id string) (bool, error) {
	name, err := tableName(table)
	if err != nil {
		return false, err
	}
	settled := settledClause
	if table == models.TableItems {
		// only AttachRemoteImage settles an item holding a photo buffer
		settled += " AND image_blob IS NULL"
	}
	t := table.String()
	res, err := exec.Exec(`UPDATE `+name+` SET sync_status = 'synced'
	WHERE id = ? AND sync_status != 'synced' AND `+settled, id, t, id, t, id)
	if err != nil {
		return false, dbError("failed to mark synced", err)
	}
	n, err := res.RowsAffected()
	return n > 0, dbError("failed to mark synced", err)
}

// ReassertPending flips a synced entity back to pending while an entry for it
// is still queued. It reports whether the status changed.
func (r *Repository) ReassertPending(table models.Table, id string) (bool, error) {
	name, err := tableName(table)
	if err != nil {
		return false, err
	}
	res, err := r.db.Exec(`UPDATE `+name+` SET sync_status = 'pending'
	WHERE id = ? AND sync_status = 'synced'
		AND EXISTS (SELECT 1 FROM sync_queue q WHERE q.target_table = ? AND q.entity_id = ?)`,
		id, table.String(), id)
	if err != nil {
		return false, dbError("failed to reassert pending", err)
	}
	n, err := res.RowsAffected()
	return n > 0, dbError("failed to reassert pending", err)
}

// ConfirmCreate records the identity the remote assigned. The entity becomes
// synced when settled; an item still holding a photo buffer stays pending.
func (r *Repository) ConfirmCreate(table models.Table, id, remoteID string) error {
	return confirmCreate(r.db, table, id, remoteID)
}

func confirmCreate(exec execer, table models.Table, id, remoteID string) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	if remoteID == "" {
		remoteID = id
	}
	settled := settledClause
	if table == models.TableItems {
		settled += " AND image_blob IS NULL"
	}
	t := table.String()
	_, err = exec.Exec(`UPDATE `+name+`
	SET remote_id = ?, sync_status = CASE WHEN `+settled+` THEN 'synced' ELSE sync_status END
	WHERE id = ?`, remoteID, t, id, t, id, id)
	return dbError("failed to confirm create", err)
}

func requireOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("failed to read affected rows", err)
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}
