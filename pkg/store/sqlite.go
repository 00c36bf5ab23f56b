package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
)

// SQLiteStore is the local/dev store. Same contract as PostgresStore.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLiteStore wraps an open SQLite handle and applies migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the clock for deterministic tests.
func (s *SQLiteStore) WithClock(clock func() time.Time) *SQLiteStore {
	s.clock = clock
	return s
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSON,
			free_text TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT,
			source TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_idem
			ON events (user_id, idempotency_key)
			WHERE idempotency_key IS NOT NULL;`,
		`CREATE TABLE IF NOT EXISTS projections (
			user_id TEXT NOT NULL,
			projection_type TEXT NOT NULL,
			key TEXT NOT NULL,
			data JSON,
			version INTEGER NOT NULL DEFAULT 0,
			last_event_id TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, projection_type, key)
		);`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (user_id, key)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, userID string, cands []event.Candidate) ([]event.Event, []event.Warning, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]event.Event, 0, len(cands))
	var warnings []event.Warning

	for i, c := range cands {
		if key := c.Metadata.IdempotencyKey; key != "" {
			prior, err := s.getByIdemKeyTx(ctx, tx, userID, key)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, nil, fmt.Errorf("sqlite: idempotency lookup for event %d: %w", i, err)
			}
			if prior != nil {
				out = append(out, *prior)
				warnings = append(warnings, event.Warning{
					Code:   WarnIdempotencyRecovered,
					Detail: fmt.Sprintf("event %d: idempotency key %q already appended as %s", i, key, prior.ID),
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
			Timestamp: s.clock(),
		}
		payload, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: marshal payload for event %d: %w", i, err)
		}
		var idemKey any
		if c.Metadata.IdempotencyKey != "" {
			idemKey = c.Metadata.IdempotencyKey
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (event_id, user_id, event_type, payload, free_text, idempotency_key, source, session_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ev.ID, userID, ev.Type, payload, ev.FreeText, idemKey, c.Metadata.Source, c.Metadata.SessionID, ev.Timestamp)
		if err != nil {
			if idemKey != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
				// A writer on another connection claimed the key between the
				// lookup and the insert. Recover like a replay.
				prior, rerr := s.getByIdemKeyTx(ctx, tx, userID, c.Metadata.IdempotencyKey)
				if rerr == nil {
					out = append(out, *prior)
					warnings = append(warnings, event.Warning{
						Code:   WarnIdempotencyRecovered,
						Detail: fmt.Sprintf("event %d: idempotency key %q already appended as %s", i, c.Metadata.IdempotencyKey, prior.ID),
					})
					continue
				}
				if errors.Is(rerr, sql.ErrNoRows) {
					return nil, nil, fmt.Errorf("sqlite: event %d key %q: %w", i, c.Metadata.IdempotencyKey, ErrIdempotencyConflict)
				}
			}
			return nil, nil, fmt.Errorf("sqlite: append event %d: %w", i, err)
		}
		out = append(out, ev)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("sqlite: commit append tx: %w", err)
	}
	return out, warnings, nil
}

func (s *SQLiteStore) getByIdemKeyTx(ctx context.Context, tx *sql.Tx, userID, key string) (*event.Event, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT event_id, event_type, payload, free_text, COALESCE(idempotency_key, ''), source, session_id, created_at
		FROM events
		WHERE user_id = ? AND idempotency_key = ?
	`, userID, key)
	ev, err := scanEvent(row, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, userID, eventID string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, event_type, payload, free_text, COALESCE(idempotency_key, ''), source, session_id, created_at
		FROM events
		WHERE user_id = ? AND event_id = ?
	`, userID, eventID)
	ev, err := scanEvent(row, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// UpsertProjection installs or replaces a projection row. Exposed for the
// external projector and for tests.
func (s *SQLiteStore) UpsertProjection(ctx context.Context, userID, projectionType, key string, data map[string]any, version int64, lastEventID string) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sqlite: marshal projection data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projections (user_id, projection_type, key, data, version, last_event_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, projection_type, key) DO UPDATE SET
			data = excluded.data,
			version = excluded.version,
			last_event_id = excluded.last_event_id,
			updated_at = excluded.updated_at
	`, userID, projectionType, key, blob, version, lastEventID, s.clock())
	if err != nil {
		return fmt.Errorf("sqlite: upsert projection %s/%s: %w", projectionType, key, err)
	}
	return nil
}

func (s *SQLiteStore) GetProjection(ctx context.Context, userID, projectionType, key string) (*Projection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data, version, last_event_id, updated_at
		FROM projections
		WHERE user_id = ? AND projection_type = ? AND key = ?
	`, userID, projectionType, key)

	p := Projection{ProjectionType: projectionType, Key: key}
	var data []byte
	err := row.Scan(&data, &p.Version, &p.LastEventID, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read projection %s/%s: %w", projectionType, key, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p.Data); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal projection %s/%s: %w", projectionType, key, err)
		}
	}
	return &p, nil
}

// SetPreference writes a user preference.
func (s *SQLiteStore) SetPreference(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value
	`, userID, key, value)
	if err != nil {
		return fmt.Errorf("sqlite: set preference %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetPreference(ctx context.Context, userID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM user_preferences WHERE user_id = ? AND key = ?
	`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: read preference %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) HealthDataConsent(ctx context.Context, userID string) (bool, error) {
	v, ok, err := s.GetPreference(ctx, userID, "health_data_consent")
	if err != nil {
		return false, err
	}
	return ok && v == "granted", nil
}
