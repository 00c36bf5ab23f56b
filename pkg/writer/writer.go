// Package writer appends candidate events and produces write receipts,
// recovering transparently from idempotency-key collisions.
package writer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/store"
)

// Result is the outcome of the write stage.
type Result struct {
	Events   []event.Event
	Receipts []event.WriteReceipt
	Warnings []event.Warning
}

// Writer appends through the event store.
type Writer struct {
	events store.EventStore
	logger *slog.Logger
}

// New creates a writer over the given store.
func New(events store.EventStore) *Writer {
	return &Writer{
		events: events,
		logger: slog.Default().With("component", "writer"),
	}
}

// Append writes the candidates in order and returns one receipt per
// candidate, positionally matching the request. Idempotency collisions are
// recovered by the store inside the append transaction and surface only as
// informational warnings; the recovered receipt set equals the original set
// in original request order.
func (w *Writer) Append(ctx context.Context, userID string, cands []event.Candidate) (*Result, error) {
	events, warnings, err := w.events.AppendEvents(ctx, userID, cands)
	if err != nil {
		return nil, fmt.Errorf("writer: append failed: %w", err)
	}
	if len(events) != len(cands) {
		return nil, fmt.Errorf("writer: store returned %d events for %d candidates", len(events), len(cands))
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

	for _, warn := range warnings {
		w.logger.InfoContext(ctx, "append warning", "code", warn.Code, "detail", warn.Detail)
	}

	return &Result{Events: events, Receipts: receipts, Warnings: warnings}, nil
}
