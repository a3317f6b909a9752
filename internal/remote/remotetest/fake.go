// Package remotetest provides an in-memory remote API for tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kimhsiao/spiritlog/backend/internal/errors"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
)

// Call records one remote invocation.
type Call struct {
	Method string
	Target string
}

// Fake is an in-memory remote.API. It records every call and can be told
// to fail or block specific methods.
type Fake struct {
	mu        sync.Mutex
	games     map[string]models.Game
	reference models.ReferenceSet
	aspects   map[string]models.SpiritAspect
	levels    map[string]models.AdversaryLevel
	calls     []Call
	failures  map[string]error
	nextID    int

	// Gate, when non-nil, blocks every write until it is closed or receives.
	Gate chan struct{}
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{
		games:    make(map[string]models.Game),
		aspects:  make(map[string]models.SpiritAspect),
		levels:   make(map[string]models.AdversaryLevel),
		failures: make(map[string]error),
	}
}

// Fail makes every call to method return err. A nil err clears it.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// PutGame stores a game as if it already existed remotely.
func (f *Fake) PutGame(g models.Game) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.games[g.ID] = g
}

// HasGame reports whether the game exists.
func (f *Fake) HasGame(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.games[id]
	return ok
}

// Game returns a stored game.
func (f *Fake) Game(id string) (models.Game, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[id]
	return g, ok
}

// SetReference replaces the reference dataset and derives aspect and level
// entries from it.
func (f *Fake) SetReference(set models.ReferenceSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reference = set
	for _, s := range set.Spirits {
		for _, a := range s.Aspects {
			f.aspects[s.ID+"/"+a] = models.SpiritAspect{SpiritID: s.ID, Aspect: a, Name: s.Name + " (" + a + ")"}
		}
	}
	for _, a := range set.Adversaries {
		for _, l := range a.Levels {
			f.levels[fmt.Sprintf("%s/%d", a.ID, l)] = models.AdversaryLevel{AdversaryID: a.ID, Level: l, Difficulty: l + 1}
		}
	}
}

// Calls returns a copy of the call log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many times method was called.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) record(method, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Target: target})
	return f.failures[method]
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Gate == nil {
		return nil
	}
	select {
	case <-f.Gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func notFound(what string) error {
	return errors.New(errors.ErrRemoteNotFound, what)
}

// =====================================================
// Writer
// =====================================================

func (f *Fake) CreateGame(ctx context.Context, owner string, payload models.GamePayload) (*models.Game, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if err := f.record("CreateGame", payload.Date); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	g := models.Game{
		ID:          fmt.Sprintf("game-%d", f.nextID),
		OwnerID:     owner,
		GamePayload: payload,
	}
	f.games[g.ID] = g
	return &g, nil
}

func (f *Fake) UpdateGame(ctx context.Context, gameID string, patch models.GamePatch) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	if err := f.record("UpdateGame", gameID); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[gameID]
	if !ok {
		return notFound("game " + gameID)
	}
	g.GamePayload = patch.Apply(g.GamePayload)
	f.games[gameID] = g
	return nil
}

func (f *Fake) DeleteGame(ctx context.Context, gameID string) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	if err := f.record("DeleteGame", gameID); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.games[gameID]; !ok {
		return notFound("game " + gameID)
	}
	delete(f.games, gameID)
	return nil
}

// =====================================================
// Reader
// =====================================================

func (f *Fake) ListGames(ctx context.Context, owner string) ([]models.Game, error) {
	if err := f.record("ListGames", owner); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Game
	for _, g := range f.games {
		if g.OwnerID == owner {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *Fake) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	if err := f.record("GetGame", gameID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[gameID]
	if !ok {
		return nil, notFound("game " + gameID)
	}
	return &g, nil
}

func (f *Fake) ListSpirits(ctx context.Context) ([]models.Spirit, error) {
	if err := f.record("ListSpirits", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Spirit(nil), f.reference.Spirits...), nil
}

func (f *Fake) ListAdversaries(ctx context.Context) ([]models.Adversary, error) {
	if err := f.record("ListAdversaries", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Adversary(nil), f.reference.Adversaries...), nil
}

func (f *Fake) ListScenarios(ctx context.Context) ([]models.Scenario, error) {
	if err := f.record("ListScenarios", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Scenario(nil), f.reference.Scenarios...), nil
}

func (f *Fake) GetSpirit(ctx context.Context, id string) (*models.Spirit, error) {
	if err := f.record("GetSpirit", id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.reference.Spirits {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, notFound("spirit " + id)
}

func (f *Fake) GetAdversary(ctx context.Context, id string) (*models.Adversary, error) {
	if err := f.record("GetAdversary", id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.reference.Adversaries {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, notFound("adversary " + id)
}

func (f *Fake) GetScenario(ctx context.Context, id string) (*models.Scenario, error) {
	if err := f.record("GetScenario", id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.reference.Scenarios {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, notFound("scenario " + id)
}

func (f *Fake) GetSpiritAspect(ctx context.Context, spiritID, aspect string) (*models.SpiritAspect, error) {
	key := spiritID + "/" + aspect
	if err := f.record("GetSpiritAspect", key); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.aspects[key]
	if !ok {
		return nil, notFound("aspect " + key)
	}
	return &a, nil
}

func (f *Fake) GetAdversaryLevel(ctx context.Context, adversaryID string, level int) (*models.AdversaryLevel, error) {
	key := fmt.Sprintf("%s/%d", adversaryID, level)
	if err := f.record("GetAdversaryLevel", key); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.levels[key]
	if !ok {
		return nil, notFound("level " + key)
	}
	return &l, nil
}
