// Package remote is the client side of the remote game and reference API.
package remote

import (
	"context"

	"github.com/kimhsiao/spiritlog/backend/internal/models"
)

// Writer applies game writes to the remote system. Implementations must
// return an error for any write that was not applied.
type Writer interface {
	CreateGame(ctx context.Context, owner string, payload models.GamePayload) (*models.Game, error)
	UpdateGame(ctx context.Context, gameID string, patch models.GamePatch) error
	DeleteGame(ctx context.Context, gameID string) error
}

// Reader fetches games and reference data.
type Reader interface {
	ListGames(ctx context.Context, owner string) ([]models.Game, error)
	GetGame(ctx context.Context, gameID string) (*models.Game, error)

	ListSpirits(ctx context.Context) ([]models.Spirit, error)
	ListAdversaries(ctx context.Context) ([]models.Adversary, error)
	ListScenarios(ctx context.Context) ([]models.Scenario, error)

	GetSpirit(ctx context.Context, id string) (*models.Spirit, error)
	GetAdversary(ctx context.Context, id string) (*models.Adversary, error)
	GetScenario(ctx context.Context, id string) (*models.Scenario, error)

	GetSpiritAspect(ctx context.Context, spiritID, aspect string) (*models.SpiritAspect, error)
	GetAdversaryLevel(ctx context.Context, adversaryID string, level int) (*models.AdversaryLevel, error)
}

// API is the full remote surface.
type API interface {
	Writer
	Reader
}
