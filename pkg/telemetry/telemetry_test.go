package telemetry_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/telemetry"
)

func TestEmitRecordsSignal(t *testing.T) {
	sink := telemetry.NewMemorySink()
	e := telemetry.NewEmitter(sink, []byte("salt"), 100)

	e.Emit(context.Background(), "autonomy_gate", "u1", map[string]any{"decision": "allow"})

	signals := sink.Signals()
	require.Len(t, signals, 1)
	assert.Equal(t, "autonomy_gate", signals[0].Kind)
	assert.Equal(t, telemetry.SignalSchemaVersion, signals[0].SchemaVersion)
	assert.NotEmpty(t, signals[0].ID)
}

func TestPseudonymStableAndOpaque(t *testing.T) {
	e := telemetry.NewEmitter(telemetry.NewMemorySink(), []byte("salt"), 100)

	a := e.Pseudonym("u1")
	b := e.Pseudonym("u1")
	c := e.Pseudonym("u2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotContains(t, a, "u1")

	// Different salts pseudonymize differently.
	other := telemetry.NewEmitter(telemetry.NewMemorySink(), []byte("other-salt"), 100)
	assert.NotEqual(t, a, other.Pseudonym("u1"))
}

type failingSink struct{}

func (failingSink) Emit(context.Context, telemetry.Signal) error {
	return errors.New("sink down")
}

func TestEmitIsFireAndForget(t *testing.T) {
	e := telemetry.NewEmitter(failingSink{}, []byte("salt"), 100)

	// Must not panic or surface the error.
	e.Emit(context.Background(), "persist_intent", "u1", nil)
}

func TestEmitDropsWhenRateLimited(t *testing.T) {
	sink := telemetry.NewMemorySink()
	e := telemetry.NewEmitter(sink, []byte("salt"), 1)

	for i := 0; i < 50; i++ {
		e.Emit(context.Background(), "advisory", "u1", nil)
	}
	assert.Less(t, len(sink.Signals()), 50, "excess signals are dropped, not queued")
}

func TestNilSinkIsNoop(t *testing.T) {
	e := telemetry.NewEmitter(nil, []byte("salt"), 100)
	e.Emit(context.Background(), "claim_guard", "u1", nil)
}

func TestMemorySinkConcurrentEmit(t *testing.T) {
	sink := telemetry.NewMemorySink()
	e := telemetry.NewEmitter(sink, []byte("salt"), 100000)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				e.Emit(context.Background(), "autonomy_gate", "u1", nil)
			}
		}()
	}
	wg.Wait()

	assert.NotEmpty(t, sink.Signals())
}

func TestLogSinkEmits(t *testing.T) {
	var buf bytes.Buffer
	sink := telemetry.NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Emit(context.Background(), telemetry.Signal{Kind: "autonomy_gate", Pseudonym: "ab12"}))

	assert.Contains(t, buf.String(), "autonomy_gate")
	assert.Contains(t, buf.String(), "ab12")
}
