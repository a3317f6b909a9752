package models

import "fmt"

// SyncStatus is the outbox status of an unsynced write.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSyncing, SyncStatusFailed:
		return true
	}
	return false
}

// PendingCreation is a new game saved while offline and not yet created remotely.
type PendingCreation struct {
	// ID is a client-side UUID used as the outbox key. It is never sent remotely.
	ID         string      `json:"id"`
	Payload    GamePayload `json:"payload"`
	CreatedAt  int64       `json:"created_at"` // unix millis, display ordering only
	SyncStatus SyncStatus  `json:"sync_status"`
}

// OperationType tags an OfflineOperation.
type OperationType string

const (
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// OfflineOperation is an update or delete against a game the remote already knows.
type OfflineOperation struct {
	ID         string        `json:"id"`
	Type       OperationType `json:"type"`
	GameID     string        `json:"game_id"`
	Data       *GamePatch    `json:"data,omitempty"` // update only
	CreatedAt  int64         `json:"created_at"`     // unix millis, drain order
	SyncStatus SyncStatus    `json:"sync_status"`
}

// Mutation is the decoded form of an OfflineOperation.
// It is either UpdateMutation or DeleteMutation.
type Mutation interface {
	Target() string
	mutation()
}

// UpdateMutation applies a partial patch to a remote game.
type UpdateMutation struct {
	GameID string
	Patch  GamePatch
}

// DeleteMutation removes a remote game.
type DeleteMutation struct {
	GameID string
}

func (m UpdateMutation) Target() string { return m.GameID }
func (m DeleteMutation) Target() string { return m.GameID }
func (UpdateMutation) mutation()        {}
func (DeleteMutation) mutation()        {}

// NewUpdateOperation builds an unsaved update operation.
func NewUpdateOperation(gameID string, patch GamePatch) OfflineOperation {
	p := patch
	return OfflineOperation{Type: OperationUpdate, GameID: gameID, Data: &p}
}

// NewDeleteOperation builds an unsaved delete operation.
func NewDeleteOperation(gameID string) OfflineOperation {
	return OfflineOperation{Type: OperationDelete, GameID: gameID}
}

// Mutation decodes the operation into its tagged variant.
func (op OfflineOperation) Mutation() (Mutation, error) {
	if op.GameID == "" {
		return nil, fmt.Errorf("operation %s has no game id", op.ID)
	}
	switch op.Type {
	case OperationUpdate:
		if op.Data == nil {
			return nil, fmt.Errorf("update operation %s has no data", op.ID)
		}
		return UpdateMutation{GameID: op.GameID, Patch: *op.Data}, nil
	case OperationDelete:
		return DeleteMutation{GameID: op.GameID}, nil
	default:
		return nil, fmt.Errorf("operation %s has unknown type %q", op.ID, op.Type)
	}
}
