package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kimhsiao/spiritlog/backend/internal/app"
	"github.com/kimhsiao/spiritlog/backend/internal/logging"
)

// ServiceName identifies the host in health responses.
const ServiceName = "spiritlog-desktop"

// NewRouter registers every route of the desktop host.
func NewRouter(a *app.App, hub *WSHub) *http.ServeMux {
	outboxHandler := NewOutboxHandler(a.Outbox, a.Coordinator)
	gamesHandler := NewGamesHandler(a.Games, a.Cache, a.Remote, a.Observer.Online, a.Coordinator)
	syncHandler := NewSyncHandler(a.Observer, a.Drainer, a.Scheduler, a.Coordinator)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", HealthCheck)

	mux.HandleFunc("GET /api/outbox", outboxHandler.List)
	mux.HandleFunc("POST /api/outbox/recover", outboxHandler.Recover)

	mux.HandleFunc("GET /api/games", gamesHandler.List)
	mux.HandleFunc("POST /api/games", gamesHandler.Create)
	mux.HandleFunc("PATCH /api/games/{id}", gamesHandler.Update)
	mux.HandleFunc("DELETE /api/games/{id}", gamesHandler.Delete)

	mux.HandleFunc("GET /api/sync/status", syncHandler.Status)
	mux.HandleFunc("POST /api/sync/trigger", syncHandler.Trigger)
	mux.HandleFunc("DELETE /api/sync/errors", syncHandler.ClearErrors)
	mux.HandleFunc("PUT /api/identity", syncHandler.SetIdentity)
	mux.HandleFunc("PUT /api/connectivity", syncHandler.SetOnline)

	if hub != nil {
		mux.HandleFunc("GET /ws", HandleWebSocket(hub))
	}
	return mux
}

// HealthCheck handles GET /api/health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": ServiceName,
	})
}

// Serve starts the app and the HTTP host on addr and blocks until ctx ends.
func Serve(ctx context.Context, a *app.App, addr string) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	hub := NewWSHub()
	defer hub.Stop()
	hub.Forward(a.Bus)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(a, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Desktop server listening", map[string]interface{}{
			"addr": addr,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
