// Package db tests for the key-value repository.
package db

import (
	"context"
	"testing"

	"github.com/kimhsiao/spiritlog/backend/internal/store"
	"github.com/kimhsiao/spiritlog/backend/internal/store/storetest"
)

// createTestRepository opens a repository in a temp directory.
func createTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := OpenRepository(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRepository() failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// TestRepository_Store runs the store conformance suite.
func TestRepository_Store(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return createTestRepository(t)
	})
}

// TestRepository_durableAcrossReopen verifies writes survive closing the database.
func TestRepository_durableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := OpenRepository(dir)
	if err != nil {
		t.Fatalf("OpenRepository() failed: %v", err)
	}
	if err := repo.Put(ctx, "pending_games", "u1/a1", []byte(`{"id":"a1"}`)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	repo, err = OpenRepository(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer repo.Close()

	got, err := repo.Get(ctx, "pending_games", "u1/a1")
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	if string(got) != `{"id":"a1"}` {
		t.Errorf("Get() = %s", got)
	}
}

// TestRepository_PrepareStmtCached verifies statements are reused.
func TestRepository_PrepareStmtCached(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	first, err := repo.PrepareStmt(ctx, queryGet)
	if err != nil {
		t.Fatalf("PrepareStmt() failed: %v", err)
	}
	second, err := repo.PrepareStmt(ctx, queryGet)
	if err != nil {
		t.Fatalf("PrepareStmt() failed: %v", err)
	}
	if first != second {
		t.Error("PrepareStmt() should return the cached statement")
	}
}
