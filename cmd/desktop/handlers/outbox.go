package handlers

import (
	"net/http"

	"github.com/kimhsiao/spiritlog/backend/internal/models"
	"github.com/kimhsiao/spiritlog/backend/internal/sync/outbox"
)

// OutboxHandler exposes the unsynced writes of the signed-in owner.
type OutboxHandler struct {
	repo     *outbox.Repository
	identity IdentitySource
}

// NewOutboxHandler creates a new OutboxHandler.
func NewOutboxHandler(repo *outbox.Repository, identity IdentitySource) *OutboxHandler {
	return &OutboxHandler{repo: repo, identity: identity}
}

// OutboxResponse is the body of GET /api/outbox.
type OutboxResponse struct {
	Owner      string                    `json:"owner"`
	Creations  []models.PendingCreation  `json:"creations"`
	Operations []models.OfflineOperation `json:"operations"`
	Counts     outbox.Counts             `json:"counts"`
}

// List handles GET /api/outbox
func (h *OutboxHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := h.identity.Identity().OwnerID

	creations, err := h.repo.ListCreations(ctx, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	operations, err := h.repo.ListOperations(ctx, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := h.repo.Counts(ctx, owner)
	if err != nil {
		writeError(w, err)
		return
	}

	if creations == nil {
		creations = []models.PendingCreation{}
	}
	if operations == nil {
		operations = []models.OfflineOperation{}
	}
	writeJSON(w, http.StatusOK, OutboxResponse{
		Owner:      owner,
		Creations:  creations,
		Operations: operations,
		Counts:     counts,
	})
}

// Recover handles POST /api/outbox/recover
// Records left in syncing by an interrupted drain go back to pending.
func (h *OutboxHandler) Recover(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.RecoverStale(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recovered": n})
}
