package persist

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/store"
)

// Lifecycle manages provisional drafts: promote, resolve-as-observation,
// dismiss. All three are atomic two-event transactions (a new event plus a
// retraction of the draft), never a destructive edit.
type Lifecycle struct {
	events store.EventStore
}

// NewLifecycle creates the draft lifecycle manager.
func NewLifecycle(events store.EventStore) *Lifecycle {
	return &Lifecycle{events: events}
}

// Promote turns a draft into the formal event it was drafted for.
func (l *Lifecycle) Promote(ctx context.Context, userID, draftEventID string) ([]event.WriteReceipt, error) {
	return l.transition(ctx, userID, draftEventID, "promoted", true)
}

// ResolveAsObservation retires the draft while keeping its content as a
// plain observation (it informed the record but is not a committed fact).
func (l *Lifecycle) ResolveAsObservation(ctx context.Context, userID, draftEventID string) ([]event.WriteReceipt, error) {
	return l.transition(ctx, userID, draftEventID, "resolved_as_observation", true)
}

// Dismiss retracts the draft without emitting a formal event.
func (l *Lifecycle) Dismiss(ctx context.Context, userID, draftEventID string) ([]event.WriteReceipt, error) {
	return l.transition(ctx, userID, draftEventID, "dismissed", false)
}

func (l *Lifecycle) transition(ctx context.Context, userID, draftEventID, resolution string, emitFormal bool) ([]event.WriteReceipt, error) {
	draft, err := l.events.GetEvent(ctx, userID, draftEventID)
	if err != nil {
		return nil, fmt.Errorf("persist: load draft %s: %w", draftEventID, err)
	}
	if draft == nil {
		return nil, fmt.Errorf("persist: draft %s not found", draftEventID)
	}
	if !strings.HasPrefix(draft.Type, event.ProvisionalPrefix) {
		return nil, fmt.Errorf("persist: event %s is not a draft", draftEventID)
	}

	var cands []event.Candidate
	if emitFormal {
		formalType := strings.TrimPrefix(draft.Type, event.ProvisionalPrefix)
		if resolution == "resolved_as_observation" {
			formalType = "session.completed"
			if draft.Payload == nil {
				draft.Payload = map[string]any{}
			}
			draft.Payload["observed_from_draft"] = draftEventID
		}
		cands = append(cands, event.Candidate{
			Type:     formalType,
			Payload:  draft.Payload,
			FreeText: draft.FreeText,
			Metadata: event.Metadata{
				IdempotencyKey: "lifecycle:" + resolution + ":" + draftEventID,
				Source:         "draft_lifecycle",
				SessionID:      draft.Metadata.SessionID,
			},
		})
	}
	cands = append(cands, event.Candidate{
		Type: "draft.retracted",
		Payload: map[string]any{
			"draft_event_id": draftEventID,
			"resolution":     resolution,
		},
		Metadata: event.Metadata{
			IdempotencyKey: "lifecycle:retract:" + resolution + ":" + draftEventID,
			Source:         "draft_lifecycle",
			SessionID:      draft.Metadata.SessionID,
		},
	})

	// One AppendEvents call is one store transaction: the formal event and
	// the retraction land together or not at all.
	events, _, err := l.events.AppendEvents(ctx, userID, cands)
	if err != nil {
		return nil, fmt.Errorf("persist: %s draft %s: %w", resolution, draftEventID, err)
	}

	receipts := make([]event.WriteReceipt, 0, len(events))
	for _, ev := range events {
		receipts = append(receipts, event.WriteReceipt{
			EventID:        ev.ID,
			EventType:      ev.Type,
			IdempotencyKey: ev.Metadata.IdempotencyKey,
			EventTimestamp: ev.Timestamp,
		})
	}
	return receipts, nil
}
