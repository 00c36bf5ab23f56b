package writer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/store"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/writer"
)

func TestAppendReturnsPositionalReceipts(t *testing.T) {
	mem := store.NewMemoryStore()
	w := writer.New(mem)

	result, err := w.Append(context.Background(), "u1", []event.Candidate{
		{Type: "set.logged", Payload: map[string]any{"exercise": "squat"}, Metadata: event.Metadata{IdempotencyKey: "a"}},
		{Type: "set.logged", Payload: map[string]any{"exercise": "bench"}, Metadata: event.Metadata{IdempotencyKey: "b"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Receipts, 2)

	assert.Equal(t, "a", result.Receipts[0].IdempotencyKey)
	assert.Equal(t, "b", result.Receipts[1].IdempotencyKey)
	assert.Equal(t, result.Events[0].ID, result.Receipts[0].EventID)
	assert.False(t, result.Receipts[0].EventTimestamp.IsZero())
}

func TestAppendReplaySameReceipts(t *testing.T) {
	mem := store.NewMemoryStore()
	w := writer.New(mem)
	ctx := context.Background()

	cands := []event.Candidate{
		{Type: "set.logged", Payload: map[string]any{"exercise": "squat"}, Metadata: event.Metadata{IdempotencyKey: "a"}},
		{Type: "set.logged", Payload: map[string]any{"exercise": "bench"}, Metadata: event.Metadata{IdempotencyKey: "b"}},
	}

	first, err := w.Append(ctx, "u1", cands)
	require.NoError(t, err)
	second, err := w.Append(ctx, "u1", cands)
	require.NoError(t, err)

	// Replaying the whole batch recovers the exact original receipt set in
	// request order, flagged with warnings.
	require.Len(t, second.Receipts, 2)
	assert.Equal(t, first.Receipts, second.Receipts)
	assert.Len(t, second.Warnings, 2)
	for _, warn := range second.Warnings {
		assert.Equal(t, store.WarnIdempotencyRecovered, warn.Code)
	}
}
