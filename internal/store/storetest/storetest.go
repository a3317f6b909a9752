// Package storetest provides a conformance suite for store.Store backends.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/kimhsiao/spiritlog/backend/internal/store"
)

// Run exercises the Store contract against a fresh store from open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("PutGet", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if err := s.Put(ctx, "ns", "a", []byte("1")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.Put(ctx, "ns", "a", []byte("2")); err != nil {
			t.Fatalf("Put() overwrite error = %v", err)
		}

		got, err := s.Get(ctx, "ns", "a")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "2" {
			t.Errorf("Get() = %q, want 2", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(context.Background(), "ns", "missing")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if err := s.Put(ctx, "ns", "a", []byte("1")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.Delete(ctx, "ns", "a"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := s.Delete(ctx, "ns", "a"); err != nil {
			t.Errorf("Delete() of missing key error = %v", err)
		}
		if err := s.Delete(ctx, "other", "a"); err != nil {
			t.Errorf("Delete() in unused namespace error = %v", err)
		}
		if _, err := s.Get(ctx, "ns", "a"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListPrefixAndNamespaces", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		puts := []struct{ ns, key, value string }{
			{"creations", "u1/b", "b"},
			{"creations", "u1/a", "a"},
			{"creations", "u2/c", "c"},
			{"operations", "u1/z", "z"},
		}
		for _, p := range puts {
			if err := s.Put(ctx, p.ns, p.key, []byte(p.value)); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
		}

		entries, err := s.List(ctx, "creations", "u1/")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 2 || entries[0].Key != "u1/a" || entries[1].Key != "u1/b" {
			t.Fatalf("List() = %+v, want u1/a, u1/b", entries)
		}
		if string(entries[0].Value) != "a" {
			t.Errorf("List()[0].Value = %q, want a", entries[0].Value)
		}

		all, err := s.List(ctx, "creations", "")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(all) != 3 {
			t.Errorf("List() with empty prefix = %d entries, want 3", len(all))
		}

		empty, err := s.List(ctx, "unused", "")
		if err != nil {
			t.Fatalf("List() on unused namespace error = %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("List() on unused namespace = %+v, want empty", empty)
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		s := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := s.Put(ctx, "ns", "a", []byte("1")); err == nil {
			t.Error("Put() with canceled context should fail")
		}
	})
}
