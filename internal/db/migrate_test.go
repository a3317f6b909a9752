// Package db tests for database migration management.
package db

import (
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"
)

// openMemory opens an in-memory database for migration tests.
func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// testMigrations is a two-step migration set.
func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"migrations/V1__widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id TEXT PRIMARY KEY);")},
		"migrations/V1__widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
		"migrations/V2__gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id TEXT PRIMARY KEY);")},
		"migrations/V2__gadgets.down.sql": {Data: []byte("DROP TABLE gadgets;")},
		"migrations/README.md":            {Data: []byte("ignored")},
	}
}

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations())

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	_, err := db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "test_migration", strings.Repeat("a", 64))
	if err != nil {
		t.Errorf("schema_migrations insert failed: %v", err)
	}
}

// TestUp verifies migrations are applied in order and only once.
func TestUp(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations())
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("second Up() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 2 {
		t.Errorf("CurrentVersion() = %d, want 2", version)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 || applied[0].Description != "widgets" || len(applied[1].Checksum) != 64 {
		t.Errorf("applied = %+v", applied)
	}
}

// TestDown verifies the last migration is rolled back.
func TestDown(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations())
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}

	version, _ := m.CurrentVersion()
	if version != 1 {
		t.Errorf("CurrentVersion() = %d, want 1", version)
	}
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='gadgets'").Scan(&name)
	if err != sql.ErrNoRows {
		t.Errorf("gadgets table should be dropped, got err=%v", err)
	}
}

// TestDown_noMigrations verifies rollback on an empty schema fails.
func TestDown_noMigrations(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations())
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Down(); err == nil {
		t.Error("Down() should fail when nothing is applied")
	}
}
