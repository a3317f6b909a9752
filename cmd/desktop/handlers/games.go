package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/spiritlog/backend/internal/cache"
	"github.com/kimhsiao/spiritlog/backend/internal/errors"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
	"github.com/kimhsiao/spiritlog/backend/internal/remote"
	"github.com/kimhsiao/spiritlog/backend/internal/services"
)

// GamesHandler handles game reads and writes.
type GamesHandler struct {
	games    *services.GameService
	cache    *cache.QueryCache
	reader   remote.Reader
	online   func() bool
	identity IdentitySource
}

// NewGamesHandler creates a new GamesHandler.
func NewGamesHandler(games *services.GameService, qc *cache.QueryCache, reader remote.Reader, online func() bool, identity IdentitySource) *GamesHandler {
	return &GamesHandler{
		games:    games,
		cache:    qc,
		reader:   reader,
		online:   online,
		identity: identity,
	}
}

// List handles GET /api/games
// Served from the read cache; a miss goes to the remote when online.
func (h *GamesHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := h.identity.Identity()
	key := cache.GamesKey(identity.OwnerID)

	var games []models.Game
	if !h.online() {
		found, err := h.cache.GetQueryData(key, &games)
		if err != nil {
			writeError(w, err)
			return
		}
		if !found {
			writeError(w, errors.New(errors.ErrOffline, "games are not cached"))
			return
		}
		writeJSON(w, http.StatusOK, games)
		return
	}

	err := h.cache.FetchQuery(r.Context(), key, func(ctx context.Context) (interface{}, error) {
		return h.reader.ListGames(ctx, identity.OwnerID)
	}, &games)
	if err != nil {
		writeError(w, err)
		return
	}
	if games == nil {
		games = []models.Game{}
	}
	writeJSON(w, http.StatusOK, games)
}

// Create handles POST /api/games
func (h *GamesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload models.GamePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.games.Create(r.Context(), h.identity.Identity(), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, writeStatus(result), result)
}

// Update handles PATCH /api/games/{id}
func (h *GamesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch models.GamePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.games.Update(r.Context(), h.identity.Identity(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, writeStatus(result), result)
}

// Delete handles DELETE /api/games/{id}
func (h *GamesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	result, err := h.games.Delete(r.Context(), h.identity.Identity(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, writeStatus(result), result)
}

// writeStatus is 202 for queued writes and 200 otherwise.
func writeStatus(result *services.WriteResult) int {
	if result.Queued {
		return http.StatusAccepted
	}
	return http.StatusOK
}
