package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/store"
)

func TestPostgresAppendCommitsBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}).AddRow("any"))
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}).AddRow("any"))
	mock.ExpectCommit()

	events, warnings, err := s.AppendEvents(context.Background(), "u1", []event.Candidate{
		{Type: "set.logged", Payload: map[string]any{"exercise": "squat"}},
		{Type: "set.logged", Payload: map[string]any{"exercise": "bench"}},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Empty(t, warnings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendRecoversIdempotencyConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewPostgresStore(db)
	now := time.Now()

	mock.ExpectBegin()
	// ON CONFLICT DO NOTHING yields no rows for the replayed key.
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}))
	// The prior event is re-read inside the same transaction.
	mock.ExpectQuery("SELECT event_id, event_type").
		WithArgs("u1", "req-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"event_id", "event_type", "payload", "free_text", "idempotency_key", "source", "session_id", "created_at",
		}).AddRow("prior-id", "set.logged", []byte(`{"exercise":"squat"}`), "", "req-1", "", "", now))
	mock.ExpectCommit()

	events, warnings, err := s.AppendEvents(context.Background(), "u1", []event.Candidate{
		{Type: "set.logged", Payload: map[string]any{"exercise": "squat"}, Metadata: event.Metadata{IdempotencyKey: "req-1"}},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "prior-id", events[0].ID)
	require.Len(t, warnings, 1)
	assert.Equal(t, store.WarnIdempotencyRecovered, warnings[0].Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendUnrecoverableConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewPostgresStore(db)

	mock.ExpectBegin()
	// The key conflicts but the winning row is not visible in this
	// transaction.
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}))
	mock.ExpectQuery("SELECT event_id, event_type").
		WithArgs("u1", "req-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"event_id", "event_type", "payload", "free_text", "idempotency_key", "source", "session_id", "created_at",
		}))
	mock.ExpectRollback()

	_, _, err = s.AppendEvents(context.Background(), "u1", []event.Candidate{
		{Type: "set.logged", Payload: map[string]any{"exercise": "squat"}, Metadata: event.Metadata{IdempotencyKey: "req-1"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrIdempotencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO events").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, _, err = s.AppendEvents(context.Background(), "u1", []event.Candidate{
		{Type: "set.logged", Payload: map[string]any{"exercise": "squat"}},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetProjectionAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewPostgresStore(db)

	mock.ExpectQuery("SELECT data, version, last_event_id").
		WithArgs("u1", "training_log", "current").
		WillReturnRows(sqlmock.NewRows([]string{"data", "version", "last_event_id", "updated_at"}))

	proj, err := s.GetProjection(context.Background(), "u1", "training_log", "current")
	require.NoError(t, err)
	assert.Nil(t, proj)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHealthDataConsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewPostgresStore(db)

	mock.ExpectQuery("SELECT value FROM user_preferences").
		WithArgs("u1", "health_data_consent").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("granted"))

	granted, err := s.HealthDataConsent(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
