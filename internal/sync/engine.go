package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/language"

	"github.com/kimhsiao/spiritlog/backend/internal/errors"
	"github.com/kimhsiao/spiritlog/backend/internal/events"
	"github.com/kimhsiao/spiritlog/backend/internal/logging"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
	"github.com/kimhsiao/spiritlog/backend/internal/remote"
	"github.com/kimhsiao/spiritlog/backend/internal/sync/notify"
	"github.com/kimhsiao/spiritlog/backend/internal/sync/outbox"
	"github.com/kimhsiao/spiritlog/backend/internal/telemetry"
)

// DrainStatus represents the drain state machine.
type DrainStatus string

const (
	DrainStatusIdle     DrainStatus = "idle"
	DrainStatusDraining DrainStatus = "draining"
)

// maxErrorHistory bounds the per-record failure log.
const maxErrorHistory = 100

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Owner         string                `json:"owner"`
	Synced        int                   `json:"synced"`
	Failed        int                   `json:"failed"`
	Started       time.Time             `json:"started"`
	Finished      time.Time             `json:"finished"`
	Notifications []notify.Notification `json:"notifications,omitempty"`
}

// Duration returns how long the pass took.
func (r DrainResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// SyncErrorEntry records one record that failed to apply.
type SyncErrorEntry struct {
	RecordID  string    `json:"record_id"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Drainer applies queued outbox records to the remote system.
// At most one pass runs at a time.
type Drainer struct {
	outbox       *outbox.Repository
	remote       remote.Writer
	connectivity Connectivity
	bus          *events.Bus
	lang         language.Tag

	mu           gosync.Mutex
	busy         bool
	status       DrainStatus
	lastSync     *time.Time
	lastResult   *DrainResult
	errorHistory []SyncErrorEntry
}

// NewDrainer creates a Drainer. bus may be nil.
func NewDrainer(repo *outbox.Repository, writer remote.Writer, conn Connectivity, bus *events.Bus) *Drainer {
	return &Drainer{
		outbox:       repo,
		remote:       writer,
		connectivity: conn,
		bus:          bus,
		lang:         notify.DefaultTag,
		status:       DrainStatusIdle,
	}
}

// SetLanguage selects the language of drain notifications.
func (d *Drainer) SetLanguage(tag language.Tag) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lang = tag
}

// Status returns the current drain state.
func (d *Drainer) Status() DrainStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// LastSync returns the finish time of the last non-empty pass.
func (d *Drainer) LastSync() *time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastSync == nil {
		return nil
	}
	t := *d.lastSync
	return &t
}

// LastResult returns the result of the last non-empty pass.
func (d *Drainer) LastResult() *DrainResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastResult == nil {
		return nil
	}
	r := *d.lastResult
	return &r
}

// GetErrorHistory returns a copy of the recent per-record failures.
func (d *Drainer) GetErrorHistory() []SyncErrorEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	history := make([]SyncErrorEntry, len(d.errorHistory))
	copy(history, d.errorHistory)
	return history
}

// ClearErrorHistory clears the failure log.
func (d *Drainer) ClearErrorHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorHistory = nil
}

func (d *Drainer) recordError(recordID, operation string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.errorHistory = append(d.errorHistory, SyncErrorEntry{
		RecordID:  recordID,
		Operation: operation,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
	if len(d.errorHistory) > maxErrorHistory {
		d.errorHistory = d.errorHistory[len(d.errorHistory)-maxErrorHistory:]
	}
}

// acquire claims the reentrancy guard.
func (d *Drainer) acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return false
	}
	d.busy = true
	return true
}

func (d *Drainer) release(result *DrainResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = false
	d.status = DrainStatusIdle
	if result != nil {
		finished := result.Finished
		d.lastSync = &finished
		d.lastResult = result
	}
}

// Drain applies every queued record for identity to the remote system.
//
// Creations are attempted independently. Operations are applied oldest
// first since updates and deletes of one game must keep their order.
// Each record moves to syncing and is then either removed or marked failed;
// failed records are retried on the next pass like pending ones. Remote and
// store failures never escape: they are counted, logged and reported through
// the events bus.
func (d *Drainer) Drain(ctx context.Context, identity models.Identity) (DrainResult, bool) {
	result := DrainResult{Owner: identity.OwnerID}

	if !identity.Ready() || !d.connectivity.Online() {
		return result, false
	}
	if !d.acquire() {
		logging.Debug("Drain already in progress, skipping", map[string]interface{}{
			"owner": identity.OwnerID,
		})
		return result, false
	}

	owner := identity.OwnerID
	creations, operations, err := d.load(ctx, owner)
	if err != nil || len(creations)+len(operations) == 0 {
		d.release(nil)
		return result, false
	}

	ctx, span := telemetry.StartSpan(ctx, "outbox.drain",
		attribute.String("owner", owner),
		attribute.Int("creations", len(creations)),
		attribute.Int("operations", len(operations)))

	d.mu.Lock()
	d.status = DrainStatusDraining
	lang := d.lang
	d.mu.Unlock()

	result.Started = time.Now()
	d.publish(events.SyncStarted, map[string]interface{}{
		"owner":      owner,
		"creations":  len(creations),
		"operations": len(operations),
	})
	logging.Info("Outbox drain started", map[string]interface{}{
		"owner":      owner,
		"creations":  len(creations),
		"operations": len(operations),
	})

	for _, c := range creations {
		if d.applyCreation(ctx, owner, c) {
			result.Synced++
		} else {
			result.Failed++
		}
	}

	for _, op := range operations {
		if d.applyOperation(ctx, owner, op) {
			result.Synced++
		} else {
			result.Failed++
		}
	}

	result.Finished = time.Now()
	result.Notifications = notify.DrainMessages(lang, result.Synced, result.Failed)

	d.publish(events.OutboxSynced, map[string]interface{}{
		"owner":  owner,
		"synced": result.Synced,
		"failed": result.Failed,
	})
	for _, n := range result.Notifications {
		d.publish(events.SyncNotification, map[string]interface{}{
			"level": string(n.Level),
			"text":  n.Text,
			"count": n.Count,
		})
	}
	d.publish(events.SyncCompleted, map[string]interface{}{
		"owner":    owner,
		"synced":   result.Synced,
		"failed":   result.Failed,
		"duration": result.Duration().Milliseconds(),
	})

	logging.Info("Outbox drain completed", map[string]interface{}{
		"owner":       owner,
		"synced":      result.Synced,
		"failed":      result.Failed,
		"duration_ms": result.Duration().Milliseconds(),
	})

	var spanErr error
	if result.Failed > 0 {
		spanErr = fmt.Errorf("%d records failed", result.Failed)
	}
	telemetry.EndSpan(span, spanErr)

	d.release(&result)
	return result, true
}

func (d *Drainer) load(ctx context.Context, owner string) ([]models.PendingCreation, []models.OfflineOperation, error) {
	creations, err := d.outbox.ListCreations(ctx, owner)
	if err != nil {
		logging.ErrorWithCode("Failed to load pending creations", string(errors.ErrOutboxStore), err,
			map[string]interface{}{"owner": owner})
		return nil, nil, err
	}
	operations, err := d.outbox.ListOperations(ctx, owner)
	if err != nil {
		logging.ErrorWithCode("Failed to load offline operations", string(errors.ErrOutboxStore), err,
			map[string]interface{}{"owner": owner})
		return nil, nil, err
	}
	return creations, operations, nil
}

// applyCreation runs one creation through syncing to removed or failed.
func (d *Drainer) applyCreation(ctx context.Context, owner string, c models.PendingCreation) bool {
	if err := d.outbox.SetCreationStatus(ctx, owner, c.ID, models.SyncStatusSyncing); err != nil {
		d.recordError(c.ID, "create", err)
		logging.Error("Failed to mark creation syncing", err, map[string]interface{}{"id": c.ID})
		return false
	}

	game, err := d.remote.CreateGame(ctx, owner, c.Payload)
	if err != nil {
		d.fail(ctx, owner, c.ID, "create", err, d.outbox.SetCreationStatus)
		return false
	}

	if err := d.outbox.RemoveCreation(ctx, owner, c.ID); err != nil {
		// The game exists remotely; the local record stays syncing and is
		// picked up again after a restart.
		d.recordError(c.ID, "create", err)
		logging.Error("Failed to remove synced creation", err, map[string]interface{}{
			"id":      c.ID,
			"game_id": game.ID,
		})
	}
	return true
}

// applyOperation runs one operation through syncing to removed or failed.
func (d *Drainer) applyOperation(ctx context.Context, owner string, op models.OfflineOperation) bool {
	if err := d.outbox.SetOperationStatus(ctx, owner, op.ID, models.SyncStatusSyncing); err != nil {
		d.recordError(op.ID, string(op.Type), err)
		logging.Error("Failed to mark operation syncing", err, map[string]interface{}{"id": op.ID})
		return false
	}

	mutation, err := op.Mutation()
	if err == nil {
		switch m := mutation.(type) {
		case models.UpdateMutation:
			err = d.remote.UpdateGame(ctx, m.GameID, m.Patch)
		case models.DeleteMutation:
			err = d.remote.DeleteGame(ctx, m.GameID)
		default:
			err = fmt.Errorf("unhandled mutation %T", m)
		}
	}
	if err != nil {
		d.fail(ctx, owner, op.ID, string(op.Type), err, d.outbox.SetOperationStatus)
		return false
	}

	if err := d.outbox.RemoveOperation(ctx, owner, op.ID); err != nil {
		d.recordError(op.ID, string(op.Type), err)
		logging.Error("Failed to remove synced operation", err, map[string]interface{}{
			"id":      op.ID,
			"game_id": op.GameID,
		})
	}
	return true
}

type statusSetter func(ctx context.Context, owner, id string, status models.SyncStatus) error

func (d *Drainer) fail(ctx context.Context, owner, id, operation string, cause error, setStatus statusSetter) {
	d.recordError(id, operation, cause)
	logging.Warn("Outbox record failed to sync", map[string]interface{}{
		"id":        id,
		"operation": operation,
		"error":     cause.Error(),
	})

	if err := setStatus(ctx, owner, id, models.SyncStatusFailed); err != nil {
		logging.Error("Failed to mark record failed", err, map[string]interface{}{"id": id})
	}
}

func (d *Drainer) publish(eventType string, data map[string]interface{}) {
	if d.bus != nil {
		d.bus.Publish(eventType, data)
	}
}
