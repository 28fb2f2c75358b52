// Package handlers provides the local REST API the inventory UI talks to.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
	"github.com/kimhsiao/homeinventory/internal/inventory"
	"github.com/kimhsiao/homeinventory/internal/logging"
	"github.com/kimhsiao/homeinventory/internal/models"
	"github.com/kimhsiao/homeinventory/internal/sync/status"
)

// StatusSource reports the current sync banner state.
type StatusSource interface {
	Current() status.Status
}

// SyncTrigger requests a drain cycle.
type SyncTrigger interface {
	TriggerNow() bool
}

// Connectivity receives platform online/offline signals.
type Connectivity interface {
	IsOnline() bool
	SetOnline(online bool) bool
}

// Deps are the components the API needs.
type Deps struct {
	Inventory    *inventory.Service
	Status       StatusSource
	Sync         SyncTrigger
	Connectivity Connectivity
	// Service is reported by the health check.
	Service string
}

// NewRouter registers every API route. The WebSocket endpoint is added by the caller.
func NewRouter(deps Deps) *mux.Router {
	r := mux.NewRouter()

	inv := NewInventoryHandler(deps.Inventory)
	syncH := NewSyncHandler(deps.Inventory, deps.Status, deps.Sync, deps.Connectivity)

	service := deps.Service
	if service == "" {
		service = "homeinventory"
	}
	r.HandleFunc("/api/health", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": service})
	}).Methods(http.MethodGet)

	items := r.PathPrefix("/api/items").Subrouter()
	items.HandleFunc("", inv.ListItems).Methods(http.MethodGet)
	items.HandleFunc("", inv.CreateItem).Methods(http.MethodPost)
	items.HandleFunc("/search", inv.SearchItems).Methods(http.MethodGet)
	items.HandleFunc("/{id}", inv.GetItem).Methods(http.MethodGet)
	items.HandleFunc("/{id}", inv.UpdateItem).Methods(http.MethodPatch)
	items.HandleFunc("/{id}", inv.DeleteItem).Methods(http.MethodDelete)
	items.HandleFunc("/{id}/photo", inv.SetItemPhoto).Methods(http.MethodPut)

	locations := r.PathPrefix("/api/locations").Subrouter()
	locations.HandleFunc("", inv.ListLocations).Methods(http.MethodGet)
	locations.HandleFunc("", inv.CreateLocation).Methods(http.MethodPost)
	locations.HandleFunc("/{id}", inv.GetLocation).Methods(http.MethodGet)
	locations.HandleFunc("/{id}", inv.UpdateLocation).Methods(http.MethodPatch)
	locations.HandleFunc("/{id}", inv.DeleteLocation).Methods(http.MethodDelete)

	categories := r.PathPrefix("/api/categories").Subrouter()
	categories.HandleFunc("", inv.ListCategories).Methods(http.MethodGet)
	categories.HandleFunc("", inv.CreateCategory).Methods(http.MethodPost)
	categories.HandleFunc("/{id}", inv.GetCategory).Methods(http.MethodGet)
	categories.HandleFunc("/{id}", inv.UpdateCategory).Methods(http.MethodPatch)
	categories.HandleFunc("/{id}", inv.DeleteCategory).Methods(http.MethodDelete)

	s := r.PathPrefix("/api/sync").Subrouter()
	s.HandleFunc("/status", syncH.GetStatus).Methods(http.MethodGet)
	s.HandleFunc("/retry", syncH.RetryNow).Methods(http.MethodPost)
	s.HandleFunc("/failures", syncH.ListFailures).Methods(http.MethodGet)
	s.HandleFunc("/failures/{table}/{id}/retry", syncH.RetryFailure).Methods(http.MethodPost)
	s.HandleFunc("/failures/{table}/{id}/discard", syncH.DiscardFailure).Methods(http.MethodPost)

	r.HandleFunc("/api/connectivity", syncH.GetConnectivity).Methods(http.MethodGet)
	r.HandleFunc("/api/connectivity", syncH.SetConnectivity).Methods(http.MethodPost)

	return r
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code apperrors.ErrorCode, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
		"code":  string(code),
	})
}

// respondAppError maps an error code onto an HTTP status.
func respondAppError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrInvalid, apperrors.ErrValidation, apperrors.ErrImageInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrQueueWrite, apperrors.ErrDatabase:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		logging.Get().Component("api").ErrorWithCode("request failed", string(code), err)
	}
	respondError(w, status, code, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, apperrors.ErrInvalid, "invalid request body")
		return false
	}
	return true
}

func tableVar(w http.ResponseWriter, r *http.Request) (models.Table, bool) {
	table, err := models.ParseTable(mux.Vars(r)["table"])
	if err != nil {
		respondError(w, http.StatusBadRequest, apperrors.ErrInvalid, err.Error())
		return 0, false
	}
	return table, true
}
