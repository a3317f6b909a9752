// Package handlers provides the REST and WebSocket surface of the desktop host.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/spiritlog/backend/internal/errors"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
)

// IdentitySource supplies the current signed-in identity.
type IdentitySource interface {
	Identity() models.Identity
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error code onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrInvalid, errors.ErrValidation:
		status = http.StatusBadRequest
	case errors.ErrNotFound, errors.ErrRemoteNotFound:
		status = http.StatusNotFound
	case errors.ErrNotAuthenticated:
		status = http.StatusUnauthorized
	case errors.ErrOffline:
		status = http.StatusServiceUnavailable
	case errors.ErrRemoteFailed:
		status = http.StatusBadGateway
	case errors.ErrSyncInProgress:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]interface{}{
		"code":  code,
		"error": err.Error(),
	})
}
