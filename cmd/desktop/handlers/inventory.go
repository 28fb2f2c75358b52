package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kimhsiao/homeinventory/internal/db"
	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
	"github.com/kimhsiao/homeinventory/internal/inventory"
	"github.com/kimhsiao/homeinventory/internal/models"
)

// MaxPhotoBytes caps an uploaded photo before compression.
const MaxPhotoBytes = 20 << 20

// InventoryHandler serves items, locations and categories.
type InventoryHandler struct {
	svc *inventory.Service
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(svc *inventory.Service) *InventoryHandler {
	return &InventoryHandler{svc: svc}
}

// ListItems handles GET /api/items
func (h *InventoryHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 100
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	items, err := h.svc.ListItems(db.ItemFilter{
		CategoryID: q.Get("category_id"),
		LocationID: q.Get("location_id"),
		Status:     models.SyncStatus(q.Get("status")),
		Query:      q.Get("q"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"count":  len(items),
		"limit":  limit,
		"offset": offset,
	})
}

// SearchItems handles GET /api/items/search?q=
func (h *InventoryHandler) SearchItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, apperrors.ErrInvalid, "q is required")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	resp, err := h.svc.SearchItems(&db.SearchOptions{
		Query:      query,
		Limit:      limit,
		CategoryID: q.Get("category_id"),
		LocationID: q.Get("location_id"),
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// CreateItem handles POST /api/items. The optional photo is base64 in JSON.
func (h *InventoryHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		models.Item
		Photo []byte `json:"photo,omitempty"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxPhotoBytes*2)
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := h.svc.CreateItem(&req.Item, req.Photo)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

// GetItem handles GET /api/items/{id}
func (h *InventoryHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetItem(mux.Vars(r)["id"])
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// UpdateItem handles PATCH /api/items/{id}
func (h *InventoryHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch models.ItemPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	item, err := h.svc.UpdateItem(mux.Vars(r)["id"], patch)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// SetItemPhoto handles PUT /api/items/{id}/photo with the raw image as body.
func (h *InventoryHandler) SetItemPhoto(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPhotoBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, apperrors.ErrImageInvalid, "photo too large")
		return
	}
	item, err := h.svc.SetItemPhoto(mux.Vars(r)["id"], data)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// DeleteItem handles DELETE /api/items/{id}
func (h *InventoryHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteItem(mux.Vars(r)["id"]); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListLocations handles GET /api/locations?type=&parent_id=
func (h *InventoryHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	locs, err := h.svc.ListLocations(db.LocationFilter{
		Type:     models.LocationType(q.Get("type")),
		ParentID: q.Get("parent_id"),
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"locations": locs, "count": len(locs)})
}

// CreateLocation handles POST /api/locations
func (h *InventoryHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Location
	if !decodeJSON(w, r, &loc) {
		return
	}
	created, err := h.svc.CreateLocation(&loc)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// GetLocation handles GET /api/locations/{id}
func (h *InventoryHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.svc.GetLocation(mux.Vars(r)["id"])
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, loc)
}

// UpdateLocation handles PATCH /api/locations/{id}
func (h *InventoryHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var patch models.LocationPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	loc, err := h.svc.UpdateLocation(mux.Vars(r)["id"], patch)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, loc)
}

// DeleteLocation handles DELETE /api/locations/{id}
func (h *InventoryHandler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteLocation(mux.Vars(r)["id"]); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCategories handles GET /api/categories
func (h *InventoryHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.svc.ListCategories()
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"categories": cats, "count": len(cats)})
}

// CreateCategory handles POST /api/categories
func (h *InventoryHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var cat models.Category
	if !decodeJSON(w, r, &cat) {
		return
	}
	created, err := h.svc.CreateCategory(&cat)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// GetCategory handles GET /api/categories/{id}
func (h *InventoryHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	cat, err := h.svc.GetCategory(mux.Vars(r)["id"])
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cat)
}

// UpdateCategory handles PATCH /api/categories/{id}
func (h *InventoryHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	var patch models.CategoryPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	cat, err := h.svc.UpdateCategory(mux.Vars(r)["id"], patch)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cat)
}

// DeleteCategory handles DELETE /api/categories/{id}
func (h *InventoryHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteCategory(mux.Vars(r)["id"]); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
