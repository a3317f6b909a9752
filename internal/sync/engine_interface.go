// Package sync reconciles the local outbox with the remote system.
package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/spiritlog/backend/internal/models"
)

// DrainEngine defines the outbox drain operations the Coordinator depends on.
// This interface allows for fakes in tests and alternative implementations.
type DrainEngine interface {
	// Drain applies every queued record for identity to the remote system.
	// It reports false when the pass did not run: not signed in, offline,
	// another pass in flight, or nothing queued.
	Drain(ctx context.Context, identity models.Identity) (DrainResult, bool)

	// Status returns the current drain state.
	Status() DrainStatus

	// LastSync returns the finish time of the last non-empty pass.
	LastSync() *time.Time
}

// Connectivity is the online signal the sync flows are gated on.
type Connectivity interface {
	Online() bool
}
