// Package bolt provides a BoltDB-backed store.Store with one bucket per namespace.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kimhsiao/spiritlog/backend/internal/store"
)

// FileName is the database file created inside the data directory.
const FileName = "spiritlog.bolt"

// Store provides a BoltDB-backed key-value store.
type Store struct {
	db   *bbolt.DB
	path string
}

// Open opens (or creates) the store file in dataDir.
func Open(dataDir string) (*Store, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	path := filepath.Join(filepath.Clean(dataDir), FileName)
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := s.check(ctx, namespace, key); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("create %s bucket: %w", namespace, err)
		}
		return bucket.Put([]byte(key), value)
	})
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := s.check(ctx, namespace, key); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return store.ErrNotFound
		}
		payload := bucket.Get([]byte(key))
		if payload == nil {
			return store.ErrNotFound
		}
		// Bolt values are only valid for the life of the transaction.
		value = append([]byte(nil), payload...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	if err := s.check(ctx, namespace, key); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, namespace, prefix string) ([]store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var entries []store.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		p := []byte(prefix)
		c := bucket.Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			entries = append(entries, store.Entry{
				Key:   string(k),
				Value: append([]byte(nil), v...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) check(ctx context.Context, namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if namespace == "" || key == "" {
		return fmt.Errorf("namespace and key are required")
	}
	return nil
}

var _ store.Store = (*Store)(nil)
