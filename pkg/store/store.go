// Package store defines the event/projection store collaborators the
// write-with-proof kernel depends on, plus Postgres, SQLite, and in-memory
// implementations.
//
// The kernel never locks the store. Correctness relies on store-side
// transactional append and the projection's last_event_id, not on mutual
// exclusion in this process.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
)

// ErrIdempotencyConflict reports an idempotency-key collision the append
// transaction could not recover by re-reading the winning row. Recoverable
// collisions never surface it; they produce a WarnIdempotencyRecovered
// warning instead.
var ErrIdempotencyConflict = errors.New("store: idempotency key already used")

// WarnIdempotencyRecovered is the warning code for recovered collisions.
const WarnIdempotencyRecovered = "idempotency_conflict_recovered"

// EventStore appends ordered event batches.
type EventStore interface {
	// AppendEvents appends the candidates for userID in order and returns
	// the durably stored events, positionally matching the candidates.
	// Idempotency-key collisions are resolved inside the append transaction
	// by returning the previously stored event for that key, flagged with a
	// WarnIdempotencyRecovered warning.
	AppendEvents(ctx context.Context, userID string, cands []event.Candidate) ([]event.Event, []event.Warning, error)

	// GetEvent fetches a stored event by id, or nil when absent.
	GetEvent(ctx context.Context, userID, eventID string) (*event.Event, error)
}

// Projection is a derived read model row.
type Projection struct {
	ProjectionType string         `json:"projection_type"`
	Key            string         `json:"key"`
	Data           map[string]any `json:"data"`
	Version        int64          `json:"version"`
	LastEventID    string         `json:"last_event_id"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ProjectionStore reads projections for read-after-write verification.
type ProjectionStore interface {
	// GetProjection returns the projection or nil when absent.
	GetProjection(ctx context.Context, userID, projectionType, key string) (*Projection, error)
}

// PreferenceStore reads user preferences consumed by policy stages.
type PreferenceStore interface {
	// GetPreference returns the preference value and whether it is set.
	GetPreference(ctx context.Context, userID, key string) (string, bool, error)
	// HealthDataConsent reports whether health-data consent was granted.
	HealthDataConsent(ctx context.Context, userID string) (bool, error)
}

// Preference keys the kernel understands.
const (
	PrefConfirmationStrictness = "confirmation_strictness" // always | default | never
	PrefSaveConfirmationMode   = "save_confirmation_mode"  // always | default | never
	PrefVerbosity              = "verbosity"               // terse | normal | verbose
)
