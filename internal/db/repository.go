// Package db provides the SQLite-backed key-value repository.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/spiritlog/backend/internal/store"
)

const (
	queryPut = `
	INSERT INTO kv (namespace, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	queryGet    = `SELECT value FROM kv WHERE namespace = ? AND key = ?`
	queryDelete = `DELETE FROM kv WHERE namespace = ? AND key = ?`
	queryList   = `
	SELECT key, value FROM kv
	WHERE namespace = ? AND substr(key, 1, length(?)) = ?
	ORDER BY key
	`
)

// Repository implements store.Store on the kv table.
type Repository struct {
	db *DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// OpenRepository opens the database in dataDir and returns a repository over it.
// Closing the repository closes the database.
func OpenRepository(dataDir string) (*Repository, error) {
	db, err := Open(dataDir)
	if err != nil {
		return nil, err
	}
	return NewRepository(db), nil
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If already stored by another goroutine, use existing
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Path returns the underlying database file path.
func (r *Repository) Path() string {
	return r.db.Path()
}

// Put implements store.Store.
func (r *Repository) Put(ctx context.Context, namespace, key string, value []byte) error {
	stmt, err := r.PrepareStmt(ctx, queryPut)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, namespace, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get implements store.Store.
func (r *Repository) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	stmt, err := r.PrepareStmt(ctx, queryGet)
	if err != nil {
		return nil, err
	}

	var value []byte
	err = stmt.QueryRowContext(ctx, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Delete implements store.Store.
func (r *Repository) Delete(ctx context.Context, namespace, key string) error {
	stmt, err := r.PrepareStmt(ctx, queryDelete)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, namespace, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// List implements store.Store.
func (r *Repository) List(ctx context.Context, namespace, prefix string) ([]store.Entry, error) {
	stmt, err := r.PrepareStmt(ctx, queryList)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, namespace, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s*: %w", namespace, prefix, err)
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes all cached prepared statements and the database.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	if err := r.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Ensure *Repository implements the interface at compile time.
var _ store.Store = (*Repository)(nil)
