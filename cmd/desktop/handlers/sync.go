package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kimhsiao/spiritlog/backend/internal/connectivity"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
	coresync "github.com/kimhsiao/spiritlog/backend/internal/sync"
	"github.com/kimhsiao/spiritlog/backend/internal/sync/scheduler"
)

// SyncHandler reports and controls the background sync flows.
type SyncHandler struct {
	observer    *connectivity.Observer
	drainer     *coresync.Drainer
	scheduler   *scheduler.Scheduler
	coordinator *coresync.Coordinator
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(observer *connectivity.Observer, drainer *coresync.Drainer, sched *scheduler.Scheduler, coordinator *coresync.Coordinator) *SyncHandler {
	return &SyncHandler{
		observer:    observer,
		drainer:     drainer,
		scheduler:   sched,
		coordinator: coordinator,
	}
}

// SyncStatusResponse is the body of GET /api/sync/status.
type SyncStatusResponse struct {
	Online      bool                      `json:"online"`
	Identity    models.Identity           `json:"identity"`
	DrainStatus coresync.DrainStatus      `json:"drain_status"`
	LastSync    *time.Time                `json:"last_sync,omitempty"`
	LastResult  *coresync.DrainResult     `json:"last_result,omitempty"`
	Errors      []coresync.SyncErrorEntry `json:"errors"`
	Cache       scheduler.SchedulerStatus `json:"cache"`
}

// Status handles GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	errs := h.drainer.GetErrorHistory()
	if errs == nil {
		errs = []coresync.SyncErrorEntry{}
	}
	writeJSON(w, http.StatusOK, SyncStatusResponse{
		Online:      h.observer.Online(),
		Identity:    h.coordinator.Identity(),
		DrainStatus: h.drainer.Status(),
		LastSync:    h.drainer.LastSync(),
		LastResult:  h.drainer.LastResult(),
		Errors:      errs,
		Cache:       h.scheduler.GetStatus(),
	})
}

// Trigger handles POST /api/sync/trigger
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"started": h.coordinator.TriggerSync(),
	})
}

// ClearErrors handles DELETE /api/sync/errors
func (h *SyncHandler) ClearErrors(w http.ResponseWriter, r *http.Request) {
	h.drainer.ClearErrorHistory()
	w.WriteHeader(http.StatusNoContent)
}

// SetIdentity handles PUT /api/identity
// The auth layer reports sign-in changes here.
func (h *SyncHandler) SetIdentity(w http.ResponseWriter, r *http.Request) {
	var identity models.Identity
	if err := json.NewDecoder(r.Body).Decode(&identity); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.coordinator.SetIdentity(identity)
	writeJSON(w, http.StatusOK, identity)
}

// SetOnline handles PUT /api/connectivity
// Hosts without a prober report platform online/offline events here.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.observer.Set(request.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{"online": h.observer.Online()})
}
