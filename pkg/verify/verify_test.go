package verify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/store"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/verify"
)

func receipts(ids ...string) []event.WriteReceipt {
	out := make([]event.WriteReceipt, len(ids))
	for i, id := range ids {
		out[i] = event.WriteReceipt{EventID: id, EventType: "set.logged", IdempotencyKey: "k" + id}
	}
	return out
}

func TestVerifyMatchesOnIdentityNotTime(t *testing.T) {
	mem := store.NewMemoryStore()
	e := verify.NewEngine(mem).WithInterval(time.Millisecond)

	// Projection updated by someone else's event: looks current, is not ours.
	mem.ApplyProjection("u1", "training_log", "current", nil, 9, "other-event")

	summary := e.Verify(context.Background(), "u1",
		[]event.ReadAfterWriteTarget{{ProjectionType: "training_log", Key: "current"}},
		receipts("ev-1"), 1, 50*time.Millisecond)

	assert.Equal(t, verify.StatusPending, summary.Status)
	require.Len(t, summary.Checks, 1)
	assert.Equal(t, verify.CheckPending, summary.Checks[0].Status)
}

func TestVerifySucceedsWhenProjectionCatchesUp(t *testing.T) {
	mem := store.NewMemoryStore()
	e := verify.NewEngine(mem).WithInterval(time.Millisecond)

	mem.ApplyProjection("u1", "training_log", "current", nil, 3, "ev-1")

	summary := e.Verify(context.Background(), "u1",
		[]event.ReadAfterWriteTarget{{ProjectionType: "training_log", Key: "current"}},
		receipts("ev-1"), 1, time.Second)

	assert.Equal(t, verify.StatusVerified, summary.Status)
	assert.True(t, summary.ReceiptsComplete)
	assert.Equal(t, "ev-1", summary.Checks[0].ObservedLastEventID)
}

func TestVerifyTimeoutYieldsPendingNotError(t *testing.T) {
	mem := store.NewMemoryStore()
	e := verify.NewEngine(mem).WithInterval(5 * time.Millisecond)

	summary := e.Verify(context.Background(), "u1",
		[]event.ReadAfterWriteTarget{{ProjectionType: "training_log", Key: "current"}},
		receipts("ev-1"), 1, 120*time.Millisecond)

	assert.Equal(t, verify.StatusPending, summary.Status)
	assert.Equal(t, "projection absent", summary.Checks[0].Detail)
	assert.GreaterOrEqual(t, summary.WaitedMS, int64(100))
}

func TestVerifyIncompleteReceiptsIsFailed(t *testing.T) {
	mem := store.NewMemoryStore()
	e := verify.NewEngine(mem).WithInterval(time.Millisecond)
	mem.ApplyProjection("u1", "training_log", "current", nil, 1, "ev-1")

	summary := e.Verify(context.Background(), "u1",
		[]event.ReadAfterWriteTarget{{ProjectionType: "training_log", Key: "current"}},
		receipts("ev-1"), 2, 50*time.Millisecond)

	assert.Equal(t, verify.StatusFailed, summary.Status)
	assert.False(t, summary.ReceiptsComplete)
}

func TestVerifyNoTargets(t *testing.T) {
	mem := store.NewMemoryStore()
	e := verify.NewEngine(mem).WithInterval(time.Millisecond)

	summary := e.Verify(context.Background(), "u1", nil, receipts("ev-1"), 1, 50*time.Millisecond)

	// Nothing to check: verified on receipts alone.
	assert.Equal(t, verify.StatusVerified, summary.Status)
	assert.Empty(t, summary.Checks)
}

func TestVerifyCancellation(t *testing.T) {
	mem := store.NewMemoryStore()
	e := verify.NewEngine(mem).WithInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	summary := e.Verify(ctx, "u1",
		[]event.ReadAfterWriteTarget{{ProjectionType: "training_log", Key: "current"}},
		receipts("ev-1"), 1, 5*time.Second)

	assert.Equal(t, verify.StatusPending, summary.Status)
	assert.Less(t, time.Since(start), time.Second, "cancellation must stop the poll loop early")
}

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, verify.DefaultTimeout},
		{-time.Second, verify.DefaultTimeout},
		{10 * time.Millisecond, verify.MinVerifyWait},
		{time.Second, time.Second},
		{time.Minute, verify.MaxVerifyWait},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, verify.ClampTimeout(tt.in))
	}
}
