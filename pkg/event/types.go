// Package event defines the kura event data model: candidate events, write
// requests, receipts, and the event-type registry used by preflight.
package event

import (
	"time"
)

// ActionClass categorizes the impact of a write.
type ActionClass string

const (
	ActionLowImpact  ActionClass = "low_impact_write"
	ActionHighImpact ActionClass = "high_impact_write"
)

// ProvisionalPrefix marks draft events materialized by the persist-intent
// engine. Draft events are ordinary events in the store; the prefix is the
// only thing separating them from committed facts.
const ProvisionalPrefix = "provisional."

// Metadata carries per-event bookkeeping supplied by the caller.
type Metadata struct {
	// IdempotencyKey deduplicates replayed appends. Empty means "no dedup".
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Source         string `json:"source,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// Candidate is one event the caller wants appended.
type Candidate struct {
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
	FreeText string         `json:"free_text,omitempty"`
	Metadata Metadata       `json:"metadata"`
}

// Event is a durably appended event as returned by the store.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    string         `json:"user_id"`
	Payload   map[string]any `json:"payload"`
	FreeText  string         `json:"free_text,omitempty"`
	Metadata  Metadata       `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}

// WriteReceipt proves one event was durably appended. Immutable once created.
type WriteReceipt struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	EventTimestamp time.Time `json:"event_timestamp"`
}

// ReadAfterWriteTarget names a projection the caller wants verified after
// the write.
type ReadAfterWriteTarget struct {
	ProjectionType string `json:"projection_type"`
	Key            string `json:"key"`
}

// IntentHandshake carries the caller's declared persistence intent.
type IntentHandshake struct {
	DeclaredIntent string `json:"declared_intent,omitempty"` // save | draft | ask
	Confidence     float64 `json:"confidence,omitempty"`
}

// Confirmation carries a previously issued high-impact confirmation token.
type Confirmation struct {
	Token string `json:"token"`
}

// Attestation is a signed assertion of the runtime model identity.
type Attestation struct {
	Token string `json:"token"`
}

// WriteRequest is the primary boundary input: an ordered batch of candidate
// events plus the proof targets and optional policy artifacts.
type WriteRequest struct {
	UserID        string                 `json:"user_id"`
	ClientID      string                 `json:"client_id,omitempty"`
	Candidates    []Candidate            `json:"events"`
	Targets       []ReadAfterWriteTarget `json:"read_after_write"`
	VerifyTimeout time.Duration          `json:"verify_timeout,omitempty"`
	Intent        *IntentHandshake       `json:"intent,omitempty"`
	Attestation   *Attestation           `json:"attestation,omitempty"`
	Confirmation  *Confirmation          `json:"confirmation,omitempty"`
	Verbosity     string                 `json:"verbosity,omitempty"` // terse | normal | verbose
}

// Warning is a non-fatal note attached to a write (e.g. recovered
// idempotency conflicts).
type Warning struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}
