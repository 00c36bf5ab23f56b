package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
)

// MemoryStore is an in-memory EventStore + ProjectionStore + PreferenceStore.
// Used by tests and local development; projections must be applied explicitly
// via ApplyProjection (there is no projector in this process).
type MemoryStore struct {
	mu          sync.RWMutex
	events      []event.Event
	byIdemKey   map[string]int // userID+"\x00"+key -> index into events
	projections map[string]Projection
	prefs       map[string]string
	consents    map[string]bool
	clock       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byIdemKey:   make(map[string]int),
		projections: make(map[string]Projection),
		prefs:       make(map[string]string),
		consents:    make(map[string]bool),
		clock:       time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (m *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	m.clock = clock
	return m
}

func (m *MemoryStore) AppendEvents(ctx context.Context, userID string, cands []event.Candidate) ([]event.Event, []event.Warning, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]event.Event, 0, len(cands))
	var warnings []event.Warning
	for i, c := range cands {
		if key := c.Metadata.IdempotencyKey; key != "" {
			if idx, ok := m.byIdemKey[userID+"\x00"+key]; ok {
				out = append(out, m.events[idx])
				warnings = append(warnings, event.Warning{
					Code:   WarnIdempotencyRecovered,
					Detail: fmt.Sprintf("event %d: idempotency key %q already appended as %s", i, key, m.events[idx].ID),
				})
				continue
			}
		}
		ev := event.Event{
			ID:        uuid.New().String(),
			Type:      c.Type,
			UserID:    userID,
			Payload:   c.Payload,
			FreeText:  c.FreeText,
			Metadata:  c.Metadata,
			Timestamp: m.clock(),
		}
		m.events = append(m.events, ev)
		if key := c.Metadata.IdempotencyKey; key != "" {
			m.byIdemKey[userID+"\x00"+key] = len(m.events) - 1
		}
		out = append(out, ev)
	}
	return out, warnings, nil
}

func (m *MemoryStore) GetEvent(ctx context.Context, userID, eventID string) (*event.Event, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.events {
		if m.events[i].ID == eventID && m.events[i].UserID == userID {
			ev := m.events[i]
			return &ev, nil
		}
	}
	return nil, nil
}

// Events returns a snapshot of all appended events, in append order.
func (m *MemoryStore) Events() []event.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]event.Event, len(m.events))
	copy(out, m.events)
	return out
}

// ApplyProjection installs or replaces a projection row.
func (m *MemoryStore) ApplyProjection(userID, projectionType, key string, data map[string]any, version int64, lastEventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projections[projKey(userID, projectionType, key)] = Projection{
		ProjectionType: projectionType,
		Key:            key,
		Data:           data,
		Version:        version,
		LastEventID:    lastEventID,
		UpdatedAt:      m.clock(),
	}
}

func (m *MemoryStore) GetProjection(ctx context.Context, userID, projectionType, key string) (*Projection, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projections[projKey(userID, projectionType, key)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// SetPreference sets a user preference.
func (m *MemoryStore) SetPreference(userID, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[userID+"\x00"+key] = value
}

func (m *MemoryStore) GetPreference(ctx context.Context, userID, key string) (string, bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.prefs[userID+"\x00"+key]
	return v, ok, nil
}

// SetHealthDataConsent grants or revokes health-data consent.
func (m *MemoryStore) SetHealthDataConsent(userID string, granted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents[userID] = granted
}

func (m *MemoryStore) HealthDataConsent(ctx context.Context, userID string) (bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consents[userID], nil
}

func projKey(userID, projectionType, key string) string {
	return userID + "\x00" + projectionType + "\x00" + key
}
