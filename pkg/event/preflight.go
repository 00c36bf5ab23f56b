package event

import (
	"context"
	"fmt"
)

// Violation is one machine-readable preflight failure.
type Violation struct {
	Code       string `json:"code"`
	EventIndex int    `json:"event_index"` // -1 when the violation is request-level
	Detail     string `json:"detail"`
	Hint       string `json:"hint,omitempty"`
}

// Violation codes.
const (
	CodeUnknownEventType    = "unknown_event_type"
	CodeSchemaViolation     = "schema_violation"
	CodeConsentMissing      = "consent_missing"
	CodeDuplicateIdemKey    = "duplicate_idempotency_key"
	CodeNoEvents            = "no_events"
	CodeMissingUser         = "missing_user"
	CodeMissingTargetFields = "missing_target_fields"
)

// ConsentChecker reports whether a user has granted health-data consent.
// Backed by the preference store collaborator.
type ConsentChecker interface {
	HealthDataConsent(ctx context.Context, userID string) (bool, error)
}

// Preflight validates a WriteRequest before any write is attempted.
// All violations are collected and returned together; callers get one
// response listing everything wrong, not the first failure.
type Preflight struct {
	registry *Registry
	consent  ConsentChecker
}

// NewPreflight builds a preflight gate over the given registry.
func NewPreflight(registry *Registry, consent ConsentChecker) *Preflight {
	return &Preflight{registry: registry, consent: consent}
}

// Check returns every violation found in the request. An empty slice means
// the request may proceed to the autonomy gate.
func (p *Preflight) Check(ctx context.Context, req *WriteRequest) ([]Violation, error) {
	var violations []Violation

	if req.UserID == "" {
		violations = append(violations, Violation{
			Code:       CodeMissingUser,
			EventIndex: -1,
			Detail:     "request has no user id",
		})
	}
	if len(req.Candidates) == 0 {
		violations = append(violations, Violation{
			Code:       CodeNoEvents,
			EventIndex: -1,
			Detail:     "request contains no candidate events",
		})
		return violations, nil
	}

	for i, tgt := range req.Targets {
		if tgt.ProjectionType == "" || tgt.Key == "" {
			violations = append(violations, Violation{
				Code:       CodeMissingTargetFields,
				EventIndex: -1,
				Detail:     fmt.Sprintf("read-after-write target %d missing projection_type or key", i),
				Hint:       "supply both projection_type and key for every target",
			})
		}
	}

	needsConsent := false
	seenKeys := make(map[string]int)
	for i, c := range req.Candidates {
		spec, ok := p.registry.Lookup(c.Type)
		if !ok {
			violations = append(violations, Violation{
				Code:       CodeUnknownEventType,
				EventIndex: i,
				Detail:     fmt.Sprintf("event type %q is not registered", c.Type),
				Hint:       "register the type or correct the type name",
			})
			continue
		}
		if spec.Schema != nil && c.Payload != nil {
			if err := spec.Schema.Validate(toValidatable(c.Payload)); err != nil {
				violations = append(violations, Violation{
					Code:       CodeSchemaViolation,
					EventIndex: i,
					Detail:     fmt.Sprintf("payload for %q: %v", c.Type, err),
				})
			}
		}
		if spec.HealthData {
			needsConsent = true
		}
		if key := c.Metadata.IdempotencyKey; key != "" {
			if prev, dup := seenKeys[key]; dup {
				violations = append(violations, Violation{
					Code:       CodeDuplicateIdemKey,
					EventIndex: i,
					Detail:     fmt.Sprintf("idempotency key %q already used by event %d", key, prev),
					Hint:       "idempotency keys must be unique per requested event",
				})
			} else {
				seenKeys[key] = i
			}
		}
	}

	if needsConsent && req.UserID != "" {
		granted, err := p.consent.HealthDataConsent(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("preflight: consent lookup failed: %w", err)
		}
		if !granted {
			violations = append(violations, Violation{
				Code:       CodeConsentMissing,
				EventIndex: -1,
				Detail:     "request contains health-data events but the user has not granted health-data consent",
				Hint:       "ask the user to grant health-data consent first",
			})
		}
	}

	return violations, nil
}

// toValidatable converts the payload to plain interface values the schema
// validator accepts. Numeric payloads arriving as int must become
// json-compatible values.
func toValidatable(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}
