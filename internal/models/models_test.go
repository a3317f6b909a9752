// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
)

// =====================================================
// SyncStatus Tests
// =====================================================

// TestSyncStatus_Valid verifies the status vocabulary.
func TestSyncStatus_Valid(t *testing.T) {
	tests := []struct {
		status SyncStatus
		want   bool
	}{
		{SyncStatusPending, true},
		{SyncStatusSyncing, true},
		{SyncStatusFailed, true},
		{SyncStatus("completed"), false},
		{SyncStatus(""), false},
	}

	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.want {
			t.Errorf("SyncStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

// =====================================================
// OfflineOperation Tests
// =====================================================

// TestOfflineOperation_Mutation verifies decoding into the tagged variants.
func TestOfflineOperation_Mutation(t *testing.T) {
	notes := "x"
	update := NewUpdateOperation("g1", GamePatch{Notes: &notes})
	update.ID = "b1"

	m, err := update.Mutation()
	if err != nil {
		t.Fatalf("Mutation() error = %v", err)
	}
	u, ok := m.(UpdateMutation)
	if !ok {
		t.Fatalf("Mutation() = %T, want UpdateMutation", m)
	}
	if u.Target() != "g1" || u.Patch.Notes == nil || *u.Patch.Notes != "x" {
		t.Errorf("UpdateMutation = %+v, want g1 with notes x", u)
	}

	del := NewDeleteOperation("g1")
	m, err = del.Mutation()
	if err != nil {
		t.Fatalf("Mutation() error = %v", err)
	}
	if _, ok := m.(DeleteMutation); !ok {
		t.Fatalf("Mutation() = %T, want DeleteMutation", m)
	}
}

// TestOfflineOperation_MutationInvalid verifies malformed records are rejected.
func TestOfflineOperation_MutationInvalid(t *testing.T) {
	tests := []struct {
		name string
		op   OfflineOperation
	}{
		{"missing game id", OfflineOperation{ID: "1", Type: OperationDelete}},
		{"update without data", OfflineOperation{ID: "2", Type: OperationUpdate, GameID: "g1"}},
		{"unknown type", OfflineOperation{ID: "3", Type: "merge", GameID: "g1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.op.Mutation(); err == nil {
				t.Error("Mutation() should return error")
			}
		})
	}
}

// TestOfflineOperation_JSON verifies the stored shape omits data for deletes.
func TestOfflineOperation_JSON(t *testing.T) {
	data, err := json.Marshal(NewDeleteOperation("g1"))
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if _, ok := raw["data"]; ok {
		t.Errorf("delete operation should not carry data: %s", data)
	}
	if raw["type"] != "delete" {
		t.Errorf("type = %v, want delete", raw["type"])
	}
}

// =====================================================
// GamePatch Tests
// =====================================================

// TestGamePatch_Apply verifies only set fields change.
func TestGamePatch_Apply(t *testing.T) {
	base := GamePayload{
		Date:    "2025-01-01",
		Spirits: []SpiritPlay{{SpiritID: "river"}},
		Notes:   "before",
		Score:   10,
	}
	notes := "after"
	win := true

	got := GamePatch{Notes: &notes, Win: &win}.Apply(base)

	if got.Notes != "after" || !got.Win {
		t.Errorf("Apply() = %+v, want notes=after win=true", got)
	}
	if got.Date != base.Date || got.Score != base.Score || len(got.Spirits) != 1 {
		t.Errorf("Apply() changed untouched fields: %+v", got)
	}
	if base.Notes != "before" {
		t.Error("Apply() mutated the input payload")
	}
}

// TestGamePatch_IsEmpty verifies empty detection.
func TestGamePatch_IsEmpty(t *testing.T) {
	if !(GamePatch{}).IsEmpty() {
		t.Error("zero patch should be empty")
	}
	score := 3
	if (GamePatch{Score: &score}).IsEmpty() {
		t.Error("patch with score should not be empty")
	}
}

// TestIdentity_Ready verifies the authenticated gate.
func TestIdentity_Ready(t *testing.T) {
	if (Identity{Authenticated: true}).Ready() {
		t.Error("identity without owner should not be ready")
	}
	if (Identity{OwnerID: "u1"}).Ready() {
		t.Error("unauthenticated identity should not be ready")
	}
	if !(Identity{Authenticated: true, OwnerID: "u1"}).Ready() {
		t.Error("authenticated identity with owner should be ready")
	}
}
