// Package services provides the game write path used by the UI layer.
//
// While online, writes go straight to the remote API and errors reach the
// caller. While offline they are queued in the outbox and drained later.
package services

import (
	"context"
	"strings"

	"github.com/kimhsiao/spiritlog/backend/internal/cache"
	"github.com/kimhsiao/spiritlog/backend/internal/errors"
	"github.com/kimhsiao/spiritlog/backend/internal/events"
	"github.com/kimhsiao/spiritlog/backend/internal/logging"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
	"github.com/kimhsiao/spiritlog/backend/internal/remote"
	"github.com/kimhsiao/spiritlog/backend/internal/sync/outbox"
)

// Connectivity is the online signal writes are routed on.
type Connectivity interface {
	Online() bool
}

// WriteResult reports where a write went.
type WriteResult struct {
	// Queued is true when the write was stored in the outbox.
	Queued    bool                     `json:"queued"`
	Game      *models.Game             `json:"game,omitempty"`
	Creation  *models.PendingCreation  `json:"creation,omitempty"`
	Operation *models.OfflineOperation `json:"operation,omitempty"`
}

// GameService routes game writes to the remote API or the outbox.
type GameService struct {
	remote       remote.Writer
	outbox       *outbox.Repository
	connectivity Connectivity
	cache        *cache.QueryCache
	bus          *events.Bus
}

// NewGameService creates a new GameService. qc and bus may be nil.
func NewGameService(writer remote.Writer, repo *outbox.Repository, conn Connectivity, qc *cache.QueryCache, bus *events.Bus) *GameService {
	return &GameService{
		remote:       writer,
		outbox:       repo,
		connectivity: conn,
		cache:        qc,
		bus:          bus,
	}
}

// Create records a new game.
func (s *GameService) Create(ctx context.Context, identity models.Identity, payload models.GamePayload) (*WriteResult, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	if !s.connectivity.Online() {
		rec, err := s.outbox.SaveCreation(ctx, identity.OwnerID, payload)
		if err != nil {
			return nil, err
		}
		s.queued(identity.OwnerID, "create", rec.ID)
		return &WriteResult{Queued: true, Creation: rec}, nil
	}

	if !identity.Ready() {
		return nil, errors.New(errors.ErrNotAuthenticated, "sign in to save games")
	}

	game, err := s.remote.CreateGame(ctx, identity.OwnerID, payload)
	if err != nil {
		return nil, err
	}
	s.cacheGame(identity.OwnerID, game)
	return &WriteResult{Game: game}, nil
}

// Update applies patch to an existing game.
func (s *GameService) Update(ctx context.Context, identity models.Identity, gameID string, patch models.GamePatch) (*WriteResult, error) {
	if strings.TrimSpace(gameID) == "" {
		return nil, errors.New(errors.ErrInvalid, "game id is required")
	}
	if patch.IsEmpty() {
		return nil, errors.New(errors.ErrValidation, "nothing to update")
	}

	return s.mutate(ctx, identity, models.NewUpdateOperation(gameID, patch), func() error {
		return s.remote.UpdateGame(ctx, gameID, patch)
	})
}

// Delete removes a game.
func (s *GameService) Delete(ctx context.Context, identity models.Identity, gameID string) (*WriteResult, error) {
	if strings.TrimSpace(gameID) == "" {
		return nil, errors.New(errors.ErrInvalid, "game id is required")
	}

	return s.mutate(ctx, identity, models.NewDeleteOperation(gameID), func() error {
		return s.remote.DeleteGame(ctx, gameID)
	})
}

func (s *GameService) mutate(ctx context.Context, identity models.Identity, op models.OfflineOperation, apply func() error) (*WriteResult, error) {
	if !s.connectivity.Online() {
		rec, err := s.outbox.SaveOperation(ctx, identity.OwnerID, op)
		if err != nil {
			return nil, err
		}
		s.queued(identity.OwnerID, string(op.Type), rec.ID)
		return &WriteResult{Queued: true, Operation: rec}, nil
	}

	if !identity.Ready() {
		return nil, errors.New(errors.ErrNotAuthenticated, "sign in to change games")
	}
	if err := apply(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(cache.GameKey(op.GameID))
		s.cache.Invalidate(cache.GamesKey(identity.OwnerID))
	}
	return &WriteResult{}, nil
}

func (s *GameService) cacheGame(owner string, game *models.Game) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetQueryData(cache.GameKey(game.ID), game); err != nil {
		logging.Warn("Failed to cache created game", map[string]interface{}{
			"game_id": game.ID,
			"error":   err.Error(),
		})
	}
	s.cache.Invalidate(cache.GamesKey(owner))
}

func (s *GameService) queued(owner, operation, id string) {
	if s.bus != nil {
		s.bus.Publish(events.OutboxChanged, map[string]interface{}{
			"owner":     owner,
			"operation": operation,
			"id":        id,
		})
	}
}

func validatePayload(p models.GamePayload) error {
	if strings.TrimSpace(p.Date) == "" {
		return errors.New(errors.ErrValidation, "date is required")
	}
	if len(p.Spirits) == 0 {
		return errors.New(errors.ErrValidation, "at least one spirit is required")
	}
	for _, sp := range p.Spirits {
		if strings.TrimSpace(sp.SpiritID) == "" {
			return errors.New(errors.ErrValidation, "spirit id is required")
		}
	}
	if p.Adversary != nil && (p.Adversary.AdversaryID == "" || p.Adversary.Level < 0) {
		return errors.New(errors.ErrValidation, "invalid adversary")
	}
	return nil
}
