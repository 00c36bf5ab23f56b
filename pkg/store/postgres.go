package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
)

// PostgresStore is the production EventStore + ProjectionStore +
// PreferenceStore backed by Postgres.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresStore wraps an open Postgres handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (s *PostgresStore) WithClock(clock func() time.Time) *PostgresStore {
	s.clock = clock
	return s
}

// AppendEvents appends the batch in one transaction. A unique index on
// (user_id, idempotency_key) turns replays into no-op inserts; the prior
// event is re-read inside the same transaction so the recovered receipt is
// consistent with what was originally written.
func (s *PostgresStore) AppendEvents(ctx context.Context, userID string, cands []event.Candidate) ([]event.Event, []event.Warning, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]event.Event, 0, len(cands))
	var warnings []event.Warning

	for i, c := range cands {
		ev := event.Event{
			ID:        uuid.New().String(),
			Type:      c.Type,
			UserID:    userID,
			Payload:   c.Payload,
			FreeText:  c.FreeText,
			Metadata:  c.Metadata,
			Timestamp: s.clock(),
		}
		payload, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: marshal payload for event %d: %w", i, err)
		}

		var inserted string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO events (event_id, user_id, event_type, payload, free_text, idempotency_key, source, session_id, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
			ON CONFLICT (user_id, idempotency_key) DO NOTHING
			RETURNING event_id
		`, ev.ID, userID, ev.Type, payload, ev.FreeText, c.Metadata.IdempotencyKey, c.Metadata.Source, c.Metadata.SessionID, ev.Timestamp).Scan(&inserted)

		switch {
		case err == nil:
			out = append(out, ev)
		case errors.Is(err, sql.ErrNoRows):
			// Collision: re-read the original row inside this transaction.
			prior, rerr := s.getByIdemKeyTx(ctx, tx, userID, c.Metadata.IdempotencyKey)
			if errors.Is(rerr, sql.ErrNoRows) {
				// The key conflicted but the winning row is not visible in
				// this transaction. Unrecoverable here; the caller retries.
				return nil, nil, fmt.Errorf("postgres: event %d key %q: %w", i, c.Metadata.IdempotencyKey, ErrIdempotencyConflict)
			}
			if rerr != nil {
				return nil, nil, fmt.Errorf("postgres: recover idempotency conflict for event %d: %w", i, rerr)
			}
			out = append(out, *prior)
			warnings = append(warnings, event.Warning{
				Code:   WarnIdempotencyRecovered,
				Detail: fmt.Sprintf("event %d: idempotency key %q already appended as %s", i, c.Metadata.IdempotencyKey, prior.ID),
			})
		default:
			return nil, nil, fmt.Errorf("postgres: append event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("postgres: commit append tx: %w", err)
	}
	return out, warnings, nil
}

func (s *PostgresStore) getByIdemKeyTx(ctx context.Context, tx *sql.Tx, userID, key string) (*event.Event, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT event_id, event_type, payload, free_text, COALESCE(idempotency_key, ''), source, session_id, created_at
		FROM events
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key)
	return scanEvent(row, userID)
}

func (s *PostgresStore) GetEvent(ctx context.Context, userID, eventID string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, event_type, payload, free_text, COALESCE(idempotency_key, ''), source, session_id, created_at
		FROM events
		WHERE user_id = $1 AND event_id = $2
	`, userID, eventID)
	ev, err := scanEvent(row, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ev, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner, userID string) (*event.Event, error) {
	var ev event.Event
	var payload []byte
	if err := row.Scan(&ev.ID, &ev.Type, &payload, &ev.FreeText, &ev.Metadata.IdempotencyKey, &ev.Metadata.Source, &ev.Metadata.SessionID, &ev.Timestamp); err != nil {
		return nil, err
	}
	ev.UserID = userID
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload for %s: %w", ev.ID, err)
		}
	}
	return &ev, nil
}

func (s *PostgresStore) GetProjection(ctx context.Context, userID, projectionType, key string) (*Projection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data, version, last_event_id, updated_at
		FROM projections
		WHERE user_id = $1 AND projection_type = $2 AND key = $3
	`, userID, projectionType, key)

	p := Projection{ProjectionType: projectionType, Key: key}
	var data []byte
	err := row.Scan(&data, &p.Version, &p.LastEventID, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: read projection %s/%s: %w", projectionType, key, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p.Data); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal projection %s/%s: %w", projectionType, key, err)
		}
	}
	return &p, nil
}

func (s *PostgresStore) GetPreference(ctx context.Context, userID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM user_preferences WHERE user_id = $1 AND key = $2
	`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: read preference %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) HealthDataConsent(ctx context.Context, userID string) (bool, error) {
	v, ok, err := s.GetPreference(ctx, userID, "health_data_consent")
	if err != nil {
		return false, err
	}
	return ok && v == "granted", nil
}
