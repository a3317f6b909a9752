package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/kimhsiao/spiritlog/backend/internal/errors"
	"github.com/kimhsiao/spiritlog/backend/internal/logging"
	"github.com/kimhsiao/spiritlog/backend/internal/store"
)

const (
	// Namespace holds the persisted query cache blob.
	Namespace   = "query_cache"
	snapshotKey = "snapshot"
)

// Persister saves and loads a QueryCache as a single opaque blob.
type Persister struct {
	store store.Store
}

// NewPersister creates a Persister over s.
func NewPersister(s store.Store) *Persister {
	return &Persister{store: s}
}

// PersistQueryCache writes the current cache contents. Writes are whole-blob
// and last one wins.
func (p *Persister) PersistQueryCache(ctx context.Context, c *QueryCache) error {
	snap := c.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(errors.ErrCacheFailed, "encode snapshot", err)
	}
	if err := p.store.Put(ctx, Namespace, snapshotKey, data); err != nil {
		return errors.Wrap(errors.ErrCacheFailed, "persist snapshot", err)
	}

	logging.Debug("Query cache persisted", map[string]interface{}{
		"entries": len(snap.Entries),
		"bytes":   len(data),
	})
	return nil
}

// RestoreQueryCache loads the persisted cache into c. A missing blob is not an error.
func (p *Persister) RestoreQueryCache(ctx context.Context, c *QueryCache) (int, error) {
	data, err := p.store.Get(ctx, Namespace, snapshotKey)
	if stderrors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(errors.ErrCacheFailed, "load snapshot", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, errors.Wrap(errors.ErrCacheFailed, "decode snapshot", err)
	}
	return c.Restore(snap), nil
}
