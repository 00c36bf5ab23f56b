package sessionaudit_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/sessionaudit"
)

func setEvent(id, freeText string, payload map[string]any) event.Event {
	if payload == nil {
		payload = map[string]any{"exercise": "squat"}
	}
	return event.Event{
		ID:       id,
		Type:     "set.logged",
		UserID:   "u1",
		Payload:  payload,
		FreeText: freeText,
		Metadata: event.Metadata{SessionID: "s1"},
	}
}

func TestAuditCleanWhenNothingMentioned(t *testing.T) {
	e := sessionaudit.NewEngine()

	out := e.Audit([]event.Event{setEvent("ev-1", "good session today", nil)}, true)
	assert.Equal(t, sessionaudit.StatusClean, out.Summary.Status)
	assert.Zero(t, out.Summary.MismatchesDetected)
}

func TestAuditRepairsMissingRest(t *testing.T) {
	e := sessionaudit.NewEngine()

	out := e.Audit([]event.Event{
		setEvent("ev-1", "rested 90 seconds between sets", nil),
	}, true)

	require.Equal(t, sessionaudit.StatusRepaired, out.Summary.Status)
	require.Len(t, out.Repairs, 1)

	r := out.Repairs[0]
	assert.Equal(t, "ev-1", r.TargetEventID)
	assert.Equal(t, "rest_seconds", r.Field)
	assert.Equal(t, 90, r.Value)
	assert.Equal(t, "correction.applied", r.Correction.Type)
	assert.NotEmpty(t, r.Correction.Metadata.IdempotencyKey)
	assert.Equal(t, "draft.retracted", r.Retraction.Type)

	// Provenance cites the exact quote span.
	assert.Contains(t, strings.ToLower(r.Provenance.Quote), "90 seconds")
}

func TestAuditMinutesNormalizeToSeconds(t *testing.T) {
	e := sessionaudit.NewEngine()

	out := e.Audit([]event.Event{
		setEvent("ev-1", "took 2 min rest before the top set", nil),
	}, true)

	require.Len(t, out.Repairs, 2, "rest and set_type are both repairable here")
	byField := map[string]any{}
	for _, r := range out.Repairs {
		byField[r.Field] = r.Value
	}
	assert.Equal(t, 120, byField["rest_seconds"])
	assert.Equal(t, "top_set", byField["set_type"])
}

func TestAuditConflictingMentionsAskOneQuestion(t *testing.T) {
	e := sessionaudit.NewEngine()

	out := e.Audit([]event.Event{
		setEvent("ev-1", "rested 60 seconds, maybe rested 90 seconds actually", nil),
	}, true)

	require.Equal(t, sessionaudit.StatusNeedsClarification, out.Summary.Status)
	require.Len(t, out.Unresolved, 1)
	assert.Equal(t, sessionaudit.MismatchConflictingValues, out.Unresolved[0].Class)
	assert.ElementsMatch(t, []string{"60", "90"}, out.Unresolved[0].Candidates)
	assert.NotEmpty(t, out.Summary.ClarificationQuestion)
	assert.Empty(t, out.Repairs, "conflicting values are never auto-repaired")
}

func TestAuditValueDisagreement(t *testing.T) {
	e := sessionaudit.NewEngine()

	out := e.Audit([]event.Event{
		setEvent("ev-1", "rested 90 sec", map[string]any{"exercise": "squat", "rest_seconds": 60}),
	}, true)

	require.Equal(t, sessionaudit.StatusNeedsClarification, out.Summary.Status)
	require.Len(t, out.Unresolved, 1)
	assert.Equal(t, sessionaudit.MismatchValueDisagreement, out.Unresolved[0].Class)
	assert.Contains(t, out.Unresolved[0].Candidates, "60")
	assert.Contains(t, out.Unresolved[0].Candidates, "90")
}

func TestAuditAgreementIsClean(t *testing.T) {
	e := sessionaudit.NewEngine()

	out := e.Audit([]event.Event{
		setEvent("ev-1", "rested 90 seconds, 2 rir", map[string]any{"exercise": "squat", "rest_seconds": 90, "rir": 2}),
	}, true)

	assert.Equal(t, sessionaudit.StatusClean, out.Summary.Status)
}

func TestAuditSingleQuestionCoversAllUnresolved(t *testing.T) {
	e := sessionaudit.NewEngine()

	out := e.Audit([]event.Event{
		setEvent("ev-1", "rested 60 sec no wait rested 90 sec", nil),
		setEvent("ev-2", "rir 2", map[string]any{"exercise": "bench", "rir": 3}),
	}, true)

	require.Equal(t, sessionaudit.StatusNeedsClarification, out.Summary.Status)
	require.Len(t, out.Unresolved, 2)

	// Exactly one question, and it mentions both items.
	q := out.Summary.ClarificationQuestion
	assert.Equal(t, 1, strings.Count(q, "What should I record?"))
	assert.Contains(t, q, "rest_seconds")
	assert.Contains(t, q, "rir")
}

func TestAuditScaleViolationNeverRepaired(t *testing.T) {
	e := sessionaudit.NewEngine()

	out := e.Audit([]event.Event{
		setEvent("ev-1", "", map[string]any{"exercise": "squat", "exertion": 14}),
	}, true)

	require.Equal(t, sessionaudit.StatusNeedsClarification, out.Summary.Status)
	require.Len(t, out.Unresolved, 1)
	assert.Equal(t, sessionaudit.MismatchScaleViolation, out.Unresolved[0].Class)
	assert.Empty(t, out.Repairs)
}

func TestAuditSemanticContradiction(t *testing.T) {
	e := sessionaudit.NewEngine()

	out := e.Audit([]event.Event{
		setEvent("ev-1", "totally spent after that last set", map[string]any{"exercise": "squat", "exertion": 3}),
	}, true)

	require.Equal(t, sessionaudit.StatusNeedsClarification, out.Summary.Status)
	require.Len(t, out.Unresolved, 1)
	assert.Equal(t, sessionaudit.MismatchContradiction, out.Unresolved[0].Class)
}

func TestAuditRepairDisabledByPolicy(t *testing.T) {
	e := sessionaudit.NewEngine()

	out := e.Audit([]event.Event{
		setEvent("ev-1", "rested 90 seconds", nil),
	}, false)

	require.Equal(t, sessionaudit.StatusNeedsClarification, out.Summary.Status)
	require.Len(t, out.Unresolved, 1)
	assert.Equal(t, sessionaudit.MismatchRepairDisabled, out.Unresolved[0].Class)
	assert.Empty(t, out.Repairs)
}

func TestAuditRepairKeysDeterministic(t *testing.T) {
	e := sessionaudit.NewEngine()
	ev := setEvent("ev-1", "rested 90 seconds", nil)

	a := e.Audit([]event.Event{ev}, true)
	b := e.Audit([]event.Event{ev}, true)
	require.Len(t, a.Repairs, 1)
	require.Len(t, b.Repairs, 1)
	assert.Equal(t, a.Repairs[0].Correction.Metadata.IdempotencyKey, b.Repairs[0].Correction.Metadata.IdempotencyKey,
		"re-running the audit must produce the same repair key so the append stays idempotent")
}

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		field string
		value any
	}{
		{"rest seconds", "rested 90 seconds", "rest_seconds", 90},
		{"rest minutes", "rest for 3 minutes", "rest_seconds", 180},
		{"trailing rest", "90 sec rest", "rest_seconds", 90},
		{"rir suffix", "left 2 rir", "rir", 2},
		{"reps in reserve", "2 reps in reserve", "rir", 2},
		{"rir prefix", "rir: 3", "rir", 3},
		{"tempo keyword", "tempo 3-1-1", "tempo", "311"},
		{"plain tempo", "did a 3-0-3 tempo", "tempo", "303"},
		{"drop set", "finished with a drop set", "set_type", "drop_set"},
		{"amrap", "last one was an AMRAP", "set_type", "amrap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mentions := sessionaudit.ExtractMentions(tt.text)
			require.NotEmpty(t, mentions)
			found := false
			for _, m := range mentions {
				if m.Field == tt.field && m.Value == tt.value {
					found = true
					assert.Equal(t, tt.text[m.Span.Start:m.Span.End], m.Quote)
				}
			}
			assert.True(t, found, "expected %s=%v in %v", tt.field, tt.value, mentions)
		})
	}
}
