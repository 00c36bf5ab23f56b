// Package telemetry emits pseudonymized, schema-versioned learning signals
// from every policy decision point.
//
// Emission is fire-and-forget: a failing or saturated sink must never turn
// a successful write into a reported failure.
package telemetry

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// SignalSchemaVersion versions the signal payload independently of the
// response schema.
const SignalSchemaVersion = "1.2.0"

// Signal is one learning-telemetry record.
type Signal struct {
	ID            string         `json:"id"`
	SchemaVersion string         `json:"schema_version"`
	Kind          string         `json:"kind"` // decision point, e.g. autonomy_gate, persist_intent
	Pseudonym     string         `json:"pseudonym"`
	At            time.Time      `json:"at"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Sink receives signals. Implementations may drop on pressure.
type Sink interface {
	Emit(ctx context.Context, signal Signal) error
}

// Emitter pseudonymizes and rate-limits signal emission.
type Emitter struct {
	sink    Sink
	salt    []byte
	limiter *rate.Limiter
	logger  *slog.Logger
	clock   func() time.Time
}

// NewEmitter builds an emitter. salt keys the user-id pseudonymization;
// perSecond bounds the emission rate (excess signals are dropped, not
// queued).
func NewEmitter(sink Sink, salt []byte, perSecond float64) *Emitter {
	return &Emitter{
		sink:    sink,
		salt:    salt,
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1),
		logger:  slog.Default().With("component", "telemetry"),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	e.clock = clock
	return e
}

// Pseudonym derives a stable pseudonym for a user id.
func (e *Emitter) Pseudonym(userID string) string {
	mac := hmac.New(sha256.New, e.salt)
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

// Emit sends one signal, best-effort. Errors are logged and swallowed.
func (e *Emitter) Emit(ctx context.Context, kind, userID string, fields map[string]any) {
	if e.sink == nil {
		return
	}
	if !e.limiter.Allow() {
		return
	}
	signal := Signal{
		ID:            uuid.New().String(),
		SchemaVersion: SignalSchemaVersion,
		Kind:          kind,
		Pseudonym:     e.Pseudonym(userID),
		At:            e.clock(),
		Fields:        fields,
	}
	if err := e.sink.Emit(ctx, signal); err != nil {
		e.logger.DebugContext(ctx, "telemetry emit failed", "kind", kind, "error", err)
	}
}

// memorySinkCap bounds retained signals; the oldest are dropped first.
const memorySinkCap = 1024

// MemorySink collects signals in memory for tests and local runs. Safe for
// concurrent use; retention is capped, not unbounded.
type MemorySink struct {
	mu      sync.Mutex
	signals []Signal
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements Sink.
func (s *MemorySink) Emit(ctx context.Context, signal Signal) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.signals) >= memorySinkCap {
		s.signals = s.signals[1:]
	}
	s.signals = append(s.signals, signal)
	return nil
}

// Signals returns a copy of everything retained so far.
func (s *MemorySink) Signals() []Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Signal(nil), s.signals...)
}

// LogSink writes signals to the structured log. It is the sink for
// deployments without a dedicated collector.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink on the given logger, or the default logger when
// nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "telemetry")}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, signal Signal) error {
	s.logger.InfoContext(ctx, "learning signal",
		"kind", signal.Kind,
		"schema_version", signal.SchemaVersion,
		"pseudonym", signal.Pseudonym,
		"fields", signal.Fields,
	)
	return nil
}
