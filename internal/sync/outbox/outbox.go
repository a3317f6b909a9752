// Package outbox provides the durable outbox of writes made while offline.
//
// Two namespaces are kept: pending creations (new games) and offline
// operations (updates and deletes of games the remote already knows).
// Records are keyed by owner so each signed-in player has their own outbox.
package outbox

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kimhsiao/spiritlog/backend/internal/errors"
	"github.com/kimhsiao/spiritlog/backend/internal/logging"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
	"github.com/kimhsiao/spiritlog/backend/internal/store"
)

const (
	NamespaceCreations  = "pending_games"
	NamespaceOperations = "offline_operations"
)

// anonymousOwner partitions records saved without a signed-in owner.
const anonymousOwner = "_"

// Counts summarizes outbox contents by status.
type Counts struct {
	Creations  map[models.SyncStatus]int `json:"creations"`
	Operations map[models.SyncStatus]int `json:"operations"`
}

// Total returns the number of records in both namespaces.
func (c Counts) Total() int {
	total := 0
	for _, n := range c.Creations {
		total += n
	}
	for _, n := range c.Operations {
		total += n
	}
	return total
}

// Repository is the typed accessor over the durable store.
// Mutating calls are serialized and persisted before they return.
type Repository struct {
	store store.Store
	now   func() time.Time
	newID func() string

	mu        sync.Mutex
	lastStamp int64
}

// NewRepository creates a Repository over s.
func NewRepository(s store.Store) *Repository {
	return &Repository{
		store: s,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// =====================================================
// Pending creations
// =====================================================

// SaveCreation stores a new game for later remote creation.
func (r *Repository) SaveCreation(ctx context.Context, owner string, payload models.GamePayload) (*models.PendingCreation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &models.PendingCreation{
		ID:         r.newID(),
		Payload:    payload,
		CreatedAt:  r.stamp(),
		SyncStatus: models.SyncStatusPending,
	}
	if err := r.put(ctx, NamespaceCreations, owner, rec.ID, rec); err != nil {
		return nil, err
	}

	logging.Info("[Outbox] Saved pending creation", map[string]interface{}{
		"id":    rec.ID,
		"owner": owner,
	})
	return rec, nil
}

// ListCreations returns the owner's pending creations, newest first.
func (r *Repository) ListCreations(ctx context.Context, owner string) ([]models.PendingCreation, error) {
	entries, err := r.list(ctx, NamespaceCreations, owner)
	if err != nil {
		return nil, err
	}

	recs := make([]models.PendingCreation, 0, len(entries))
	for _, e := range entries {
		var rec models.PendingCreation
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, errors.Wrap(errors.ErrOutboxStore, "decode pending creation "+e.Key, err)
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt > recs[j].CreatedAt
		}
		return recs[i].ID > recs[j].ID
	})
	return recs, nil
}

// RemoveCreation deletes a pending creation. A missing id is a no-op.
func (r *Repository) RemoveCreation(ctx context.Context, owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(ctx, NamespaceCreations, owner, id)
}

// SetCreationStatus updates a pending creation's status. A missing id is a no-op.
func (r *Repository) SetCreationStatus(ctx context.Context, owner, id string, status models.SyncStatus) error {
	if !status.Valid() {
		return errors.New(errors.ErrInvalid, fmt.Sprintf("invalid sync status %q", status))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var rec models.PendingCreation
	found, err := r.get(ctx, NamespaceCreations, owner, id, &rec)
	if err != nil || !found {
		return err
	}
	rec.SyncStatus = status
	return r.put(ctx, NamespaceCreations, owner, id, &rec)
}

// =====================================================
// Offline operations
// =====================================================

// SaveOperation stores an update or delete for later remote application.
// The ID, CreatedAt and SyncStatus of op are assigned here.
func (r *Repository) SaveOperation(ctx context.Context, owner string, op models.OfflineOperation) (*models.OfflineOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := op
	rec.ID = r.newID()
	if _, err := rec.Mutation(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "invalid offline operation", err)
	}
	rec.CreatedAt = r.stamp()
	rec.SyncStatus = models.SyncStatusPending

	if err := r.put(ctx, NamespaceOperations, owner, rec.ID, &rec); err != nil {
		return nil, err
	}

	logging.Info("[Outbox] Saved offline operation", map[string]interface{}{
		"id":      rec.ID,
		"type":    string(rec.Type),
		"game_id": rec.GameID,
		"owner":   owner,
	})
	return &rec, nil
}

// ListOperations returns the owner's offline operations, oldest first.
func (r *Repository) ListOperations(ctx context.Context, owner string) ([]models.OfflineOperation, error) {
	entries, err := r.list(ctx, NamespaceOperations, owner)
	if err != nil {
		return nil, err
	}

	recs := make([]models.OfflineOperation, 0, len(entries))
	for _, e := range entries {
		var rec models.OfflineOperation
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, errors.Wrap(errors.ErrOutboxStore, "decode offline operation "+e.Key, err)
		}
		recs = append(recs, rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt < recs[j].CreatedAt
		}
		return recs[i].ID < recs[j].ID
	})
	return recs, nil
}

// RemoveOperation deletes an offline operation. A missing id is a no-op.
func (r *Repository) RemoveOperation(ctx context.Context, owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(ctx, NamespaceOperations, owner, id)
}

// SetOperationStatus updates an offline operation's status. A missing id is a no-op.
func (r *Repository) SetOperationStatus(ctx context.Context, owner, id string, status models.SyncStatus) error {
	if !status.Valid() {
		return errors.New(errors.ErrInvalid, fmt.Sprintf("invalid sync status %q", status))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var rec models.OfflineOperation
	found, err := r.get(ctx, NamespaceOperations, owner, id, &rec)
	if err != nil || !found {
		return err
	}
	rec.SyncStatus = status
	return r.put(ctx, NamespaceOperations, owner, id, &rec)
}

// =====================================================
// Maintenance
// =====================================================

// RecoverStale resets records left in syncing by an interrupted drain back to
// pending, across all owners. It returns the number of records reset.
func (r *Repository) RecoverStale(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recovered := 0
	for _, ns := range []string{NamespaceCreations, NamespaceOperations} {
		entries, err := r.store.List(ctx, ns, "")
		if err != nil {
			return recovered, errors.Wrap(errors.ErrOutboxStore, "list "+ns, err)
		}
		for _, e := range entries {
			var status struct {
				SyncStatus models.SyncStatus `json:"sync_status"`
			}
			if err := json.Unmarshal(e.Value, &status); err != nil {
				return recovered, errors.Wrap(errors.ErrOutboxStore, "decode "+e.Key, err)
			}
			if status.SyncStatus != models.SyncStatusSyncing {
				continue
			}

			var raw map[string]json.RawMessage
			if err := json.Unmarshal(e.Value, &raw); err != nil {
				return recovered, errors.Wrap(errors.ErrOutboxStore, "decode "+e.Key, err)
			}
			raw["sync_status"] = json.RawMessage(`"` + models.SyncStatusPending + `"`)
			value, err := json.Marshal(raw)
			if err != nil {
				return recovered, err
			}
			if err := r.store.Put(ctx, ns, e.Key, value); err != nil {
				return recovered, errors.Wrap(errors.ErrOutboxStore, "reset "+e.Key, err)
			}
			recovered++
		}
	}

	if recovered > 0 {
		logging.Warn("[Outbox] Reset stale syncing records", map[string]interface{}{
			"count": recovered,
		})
	}
	return recovered, nil
}

// Counts returns per-status counts for the owner's outbox.
func (r *Repository) Counts(ctx context.Context, owner string) (Counts, error) {
	counts := Counts{
		Creations:  make(map[models.SyncStatus]int),
		Operations: make(map[models.SyncStatus]int),
	}

	creations, err := r.ListCreations(ctx, owner)
	if err != nil {
		return counts, err
	}
	for _, c := range creations {
		counts.Creations[c.SyncStatus]++
	}

	ops, err := r.ListOperations(ctx, owner)
	if err != nil {
		return counts, err
	}
	for _, op := range ops {
		counts.Operations[op.SyncStatus]++
	}
	return counts, nil
}

// =====================================================
// Helpers
// =====================================================

// stamp returns a strictly increasing unix-millis timestamp so that
// operations saved within the same millisecond keep their order.
// Caller holds r.mu.
func (r *Repository) stamp() int64 {
	now := r.now().UnixMilli()
	if now <= r.lastStamp {
		now = r.lastStamp + 1
	}
	r.lastStamp = now
	return now
}

func ownerPrefix(owner string) string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		owner = anonymousOwner
	}
	return url.PathEscape(owner) + "/"
}

func recordKey(owner, id string) string {
	return ownerPrefix(owner) + id
}

func (r *Repository) put(ctx context.Context, ns, owner, id string, rec interface{}) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(errors.ErrOutboxStore, "encode "+ns+" record", err)
	}
	if err := r.store.Put(ctx, ns, recordKey(owner, id), value); err != nil {
		return errors.Wrap(errors.ErrOutboxStore, "save "+ns+" record "+id, err)
	}
	return nil
}

func (r *Repository) get(ctx context.Context, ns, owner, id string, rec interface{}) (bool, error) {
	value, err := r.store.Get(ctx, ns, recordKey(owner, id))
	if stderrors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.ErrOutboxStore, "load "+ns+" record "+id, err)
	}
	if err := json.Unmarshal(value, rec); err != nil {
		return false, errors.Wrap(errors.ErrOutboxStore, "decode "+ns+" record "+id, err)
	}
	return true, nil
}

func (r *Repository) remove(ctx context.Context, ns, owner, id string) error {
	if err := r.store.Delete(ctx, ns, recordKey(owner, id)); err != nil {
		return errors.Wrap(errors.ErrOutboxStore, "remove "+ns+" record "+id, err)
	}
	return nil
}

func (r *Repository) list(ctx context.Context, ns, owner string) ([]store.Entry, error) {
	entries, err := r.store.List(ctx, ns, ownerPrefix(owner))
	if err != nil {
		return nil, errors.Wrap(errors.ErrOutboxStore, "list "+ns, err)
	}
	return entries, nil
}
