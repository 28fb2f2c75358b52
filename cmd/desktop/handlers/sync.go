package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
	"github.com/kimhsiao/homeinventory/internal/inventory"
	"github.com/kimhsiao/homeinventory/internal/logging"
	"github.com/kimhsiao/homeinventory/internal/models"
)

// SyncHandler exposes the sync status surface and the failure controls.
type SyncHandler struct {
	svc    *inventory.Service
	status StatusSource
	sync   SyncTrigger
	conn   Connectivity
	log    *logging.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(svc *inventory.Service, status StatusSource, trigger SyncTrigger, conn Connectivity) *SyncHandler {
	return &SyncHandler{
		svc:    svc,
		status: status,
		sync:   trigger,
		conn:   conn,
		log:    logging.Get().Component("api"),
	}
}

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.status.Current())
}

// RetryNow handles POST /api/sync/retry. A drain already running absorbs the
// request; offline it is a no-op.
func (h *SyncHandler) RetryNow(w http.ResponseWriter, r *http.Request) {
	started := h.sync.TriggerNow()
	h.log.Info("manual sync requested", map[string]interface{}{"started": started})
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"started": started,
		"status":  h.status.Current(),
	})
}

// ListFailures handles GET /api/sync/failures
func (h *SyncHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := h.svc.ListFailures()
	if err != nil {
		respondAppError(w, err)
		return
	}
	if failures == nil {
		failures = []*models.SyncFailure{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"failures": failures,
		"count":    len(failures),
	})
}

// RetryFailure handles POST /api/sync/failures/{table}/{id}/retry
func (h *SyncHandler) RetryFailure(w http.ResponseWriter, r *http.Request) {
	h.resolveFailure(w, r, h.svc.RetryFailed, "requeued")
}

// DiscardFailure handles POST /api/sync/failures/{table}/{id}/discard
func (h *SyncHandler) DiscardFailure(w http.ResponseWriter, r *http.Request) {
	h.resolveFailure(w, r, h.svc.DiscardFailed, "discarded")
}

func (h *SyncHandler) resolveFailure(w http.ResponseWriter, r *http.Request,
	fn func(models.Table, string) (int, error), verb string) {
	table, ok := tableVar(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	n, err := fn(table, id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if n == 0 {
		respondError(w, http.StatusNotFound, apperrors.ErrNotFound, "no failed entries for "+table.String()+"/"+id)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		verb:     n,
		"status": h.status.Current(),
	})
}

// GetConnectivity handles GET /api/connectivity
func (h *SyncHandler) GetConnectivity(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"online": h.conn.IsOnline()})
}

// SetConnectivity handles POST /api/connectivity, the platform's online/offline signal.
func (h *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Online == nil {
		respondError(w, http.StatusBadRequest, apperrors.ErrInvalid, "online is required")
		return
	}
	changed := h.conn.SetOnline(*req.Online)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"online":  *req.Online,
		"changed": changed,
	})
}
