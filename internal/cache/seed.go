package cache

import (
	"github.com/kimhsiao/spiritlog/backend/internal/models"
)

// Seeder writes bulk-fetched entities under the keys single-entity reads
// would use, so a detail view resolves offline even if never visited.
type Seeder struct {
	cache *QueryCache
}

// NewSeeder creates a Seeder for c.
func NewSeeder(c *QueryCache) *Seeder {
	return &Seeder{cache: c}
}

// SeedGames caches the owner's game list and each game individually.
func (s *Seeder) SeedGames(owner string, games []models.Game) error {
	for _, g := range games {
		if err := s.cache.SetQueryData(GameKey(g.ID), g); err != nil {
			return err
		}
	}
	if games == nil {
		games = []models.Game{}
	}
	return s.cache.SetQueryData(GamesKey(owner), games)
}

// SeedReference caches the reference lists and every entity in them.
func (s *Seeder) SeedReference(set models.ReferenceSet) error {
	for _, sp := range set.Spirits {
		if err := s.cache.SetQueryData(SpiritKey(sp.ID), sp); err != nil {
			return err
		}
	}
	for _, a := range set.Adversaries {
		if err := s.cache.SetQueryData(AdversaryKey(a.ID), a); err != nil {
			return err
		}
	}
	for _, sc := range set.Scenarios {
		if err := s.cache.SetQueryData(ScenarioKey(sc.ID), sc); err != nil {
			return err
		}
	}

	if err := s.cache.SetQueryData(SpiritsKey(), nonNil(set.Spirits)); err != nil {
		return err
	}
	if err := s.cache.SetQueryData(AdversariesKey(), nonNil(set.Adversaries)); err != nil {
		return err
	}
	return s.cache.SetQueryData(ScenariosKey(), nonNil(set.Scenarios))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
