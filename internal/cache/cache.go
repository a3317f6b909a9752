// Package cache is the read side of the offline store: an in-process query
// cache that is seeded after every sync pass and persisted so that detail
// views resolve without the network.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kimhsiao/spiritlog/backend/internal/errors"
)

// Fetcher loads the value for a key from the remote system.
type Fetcher func(ctx context.Context) (interface{}, error)

// Entry is one cached query result in its encoded form.
type Entry struct {
	Key       Key             `json:"key"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt int64           `json:"updated_at"`
}

// Snapshot is the serializable state of a QueryCache.
type Snapshot struct {
	Entries []Entry `json:"entries"`
	TakenAt int64   `json:"taken_at"`
}

// QueryCache is a read-through cache keyed by Key. Values are stored as
// JSON so they can be persisted without knowing their concrete types.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	group   singleflight.Group
	now     func() time.Time
}

// NewQueryCache creates an empty QueryCache.
func NewQueryCache() *QueryCache {
	return &QueryCache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// SetQueryData stores value under key, replacing any previous value.
func (c *QueryCache) SetQueryData(key Key, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(errors.ErrCacheFailed, "encode "+key.String(), err)
	}
	c.set(key, data)
	return nil
}

func (c *QueryCache) set(key Key, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = Entry{Key: key, Data: data, UpdatedAt: c.now().UnixMilli()}
}

// GetQueryData decodes the cached value for key into out.
// It reports false when the key is not cached.
func (c *QueryCache) GetQueryData(key Key, out interface{}) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key.String()]
	c.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.Data, out); err != nil {
		return true, errors.Wrap(errors.ErrCacheFailed, "decode "+key.String(), err)
	}
	return true, nil
}

// Has reports whether key is cached.
func (c *QueryCache) Has(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key.String()]
	return ok
}

// Len returns the number of cached keys.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// FetchQuery resolves key from the cache, or on a miss calls fetch once
// (concurrent callers share the call), stores the result and decodes it into out.
func (c *QueryCache) FetchQuery(ctx context.Context, key Key, fetch Fetcher, out interface{}) error {
	if ok, err := c.GetQueryData(key, out); ok {
		return err
	}

	data, err := c.load(ctx, key, fetch)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(errors.ErrCacheFailed, "decode "+key.String(), err)
	}
	return nil
}

// PrefetchQuery fetches key unless it was stored less than staleTime ago.
// A zero staleTime always fetches. It reports whether a fetch ran.
func (c *QueryCache) PrefetchQuery(ctx context.Context, key Key, fetch Fetcher, staleTime time.Duration) (bool, error) {
	if staleTime > 0 && c.fresh(key, staleTime) {
		return false, nil
	}
	if _, err := c.load(ctx, key, fetch); err != nil {
		return true, err
	}
	return true, nil
}

func (c *QueryCache) fresh(key Key, staleTime time.Duration) bool {
	c.mu.RLock()
	entry, ok := c.entries[key.String()]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return c.now().Sub(time.UnixMilli(entry.UpdatedAt)) < staleTime
}

func (c *QueryCache) load(ctx context.Context, key Key, fetch Fetcher) ([]byte, error) {
	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCacheFailed, "encode "+key.String(), err)
		}
		c.set(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops key from the cache.
func (c *QueryCache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key.String())
}

// Snapshot returns a copy of every entry.
func (c *QueryCache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Entries: make([]Entry, 0, len(c.entries)),
		TakenAt: c.now().UnixMilli(),
	}
	for _, e := range c.entries {
		snap.Entries = append(snap.Entries, e)
	}
	return snap
}

// Restore merges snap into the cache. Entries already present and newer
// than the snapshot's are kept.
func (c *QueryCache) Restore(snap Snapshot) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for _, e := range snap.Entries {
		k := e.Key.String()
		if cur, ok := c.entries[k]; ok && cur.UpdatedAt > e.UpdatedAt {
			continue
		}
		c.entries[k] = e
		restored++
	}
	return restored
}
