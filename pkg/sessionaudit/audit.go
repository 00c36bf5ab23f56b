// Package sessionaudit reconciles free-text mentions against structured
// event fields, auto-repairing unambiguous gaps and raising a single
// clarification question for everything else.
//
// Invariants:
//   - Repairs are append-only correction events; the original event is
//     never mutated.
//   - At most one clarification question per request, covering all
//     unresolved items.
//   - Scale violations and semantic contradictions are never auto-repaired.
package sessionaudit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/canonical"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
)

// Status is the audit outcome for a request.
type Status string

const (
	StatusClean              Status = "clean"
	StatusRepaired           Status = "repaired"
	StatusNeedsClarification Status = "needs_clarification"
)

// MismatchClass categorizes a detected mismatch.
type MismatchClass string

const (
	MismatchMissingField      MismatchClass = "missing_field"
	MismatchConflictingValues MismatchClass = "conflicting_values"
	MismatchValueDisagreement MismatchClass = "value_disagreement"
	MismatchScaleViolation    MismatchClass = "scale_violation"
	MismatchContradiction     MismatchClass = "semantic_contradiction"
	MismatchRepairDisabled    MismatchClass = "repair_disabled_by_policy"
)

// Repair is one correction the engine wants to append. The correction is a
// new event bound to the original event id; Retraction is the deterministic
// template that undoes it.
type Repair struct {
	TargetEventID string          `json:"target_event_id"`
	Field         string          `json:"field"`
	Value         any             `json:"value"`
	Confidence    float64         `json:"confidence"`
	Scope         string          `json:"scope"`
	Provenance    Mention         `json:"provenance"`
	Correction    event.Candidate `json:"-"`
	Retraction    event.Candidate `json:"-"`
}

// Unresolved is one item the engine could not repair.
type Unresolved struct {
	EventID    string        `json:"event_id"`
	Field      string        `json:"field"`
	Class      MismatchClass `json:"class"`
	Candidates []string      `json:"candidates,omitempty"`
	Detail     string        `json:"detail"`
}

// Summary is the per-request session-audit result.
type Summary struct {
	Status                Status          `json:"status"`
	MismatchesDetected    int             `json:"mismatches_detected"`
	MismatchesRepaired    int             `json:"mismatches_repaired"`
	MismatchesUnresolved  int             `json:"mismatches_unresolved"`
	MismatchClasses       []MismatchClass `json:"mismatch_classes,omitempty"`
	ClarificationQuestion string          `json:"clarification_question,omitempty"`
}

// Outcome bundles the summary with the repair plan the kernel must append.
type Outcome struct {
	Summary    Summary
	Repairs    []Repair
	Unresolved []Unresolved
}

// auditedFields are the structured fields reconciled against mentions.
var auditedFields = []string{"rest_seconds", "rir", "tempo", "set_type"}

// exertionScale bounds the numeric feedback field.
const (
	exertionMin = 1
	exertionMax = 10
	// exertionLowBand: a rating at or below this contradicts narrative
	// exhaustion.
	exertionLowBand = 4
)

// Engine reconciles free text against structured fields.
type Engine struct{}

// NewEngine creates the audit engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Audit inspects the written events. autoRepairAllowed comes from the
// active autonomy policy; when false every repairable gap degrades to the
// clarification question instead.
func (e *Engine) Audit(events []event.Event, autoRepairAllowed bool) *Outcome {
	out := &Outcome{}
	classSet := make(map[MismatchClass]bool)

	for _, ev := range events {
		e.auditEvent(ev, autoRepairAllowed, out, classSet)
	}

	for class := range classSet {
		out.Summary.MismatchClasses = append(out.Summary.MismatchClasses, class)
	}
	sort.Slice(out.Summary.MismatchClasses, func(i, j int) bool {
		return out.Summary.MismatchClasses[i] < out.Summary.MismatchClasses[j]
	})

	out.Summary.MismatchesRepaired = len(out.Repairs)
	out.Summary.MismatchesUnresolved = len(out.Unresolved)
	out.Summary.MismatchesDetected = len(out.Repairs) + len(out.Unresolved)

	switch {
	case len(out.Unresolved) > 0:
		out.Summary.Status = StatusNeedsClarification
		out.Summary.ClarificationQuestion = QuestionFromUnresolved(out.Unresolved)
	case len(out.Repairs) > 0:
		out.Summary.Status = StatusRepaired
	default:
		out.Summary.Status = StatusClean
	}
	return out
}

func (e *Engine) auditEvent(ev event.Event, autoRepairAllowed bool, out *Outcome, classSet map[MismatchClass]bool) {
	// Only structured-but-partially-free-text events are audited.
	if ev.FreeText == "" && ev.Payload == nil {
		return
	}

	e.checkExertion(ev, out, classSet)

	if ev.FreeText == "" {
		return
	}
	mentions := ExtractMentions(ev.FreeText)
	if len(mentions) == 0 {
		return
	}

	byField := make(map[string][]Mention)
	for _, m := range mentions {
		byField[m.Field] = append(byField[m.Field], m)
	}

	for _, field := range auditedFields {
		fieldMentions := byField[field]
		if len(fieldMentions) == 0 {
			continue
		}

		structured, present := ev.Payload[field]
		distinct := distinctValues(fieldMentions)

		switch {
		case !present && len(distinct) == 1:
			if autoRepairAllowed {
				out.Repairs = append(out.Repairs, buildRepair(ev, field, fieldMentions[0]))
				classSet[MismatchMissingField] = true
			} else {
				out.Unresolved = append(out.Unresolved, Unresolved{
					EventID:    ev.ID,
					Field:      field,
					Class:      MismatchRepairDisabled,
					Candidates: distinct,
					Detail:     fmt.Sprintf("%s mentioned as %s but auto-repair is disabled by policy", field, distinct[0]),
				})
				classSet[MismatchRepairDisabled] = true
			}

		case !present && len(distinct) > 1:
			out.Unresolved = append(out.Unresolved, Unresolved{
				EventID:    ev.ID,
				Field:      field,
				Class:      MismatchConflictingValues,
				Candidates: distinct,
				Detail:     fmt.Sprintf("%s mentioned with conflicting values: %s", field, strings.Join(distinct, " and ")),
			})
			classSet[MismatchConflictingValues] = true

		case present && !mentionsAgree(structured, fieldMentions):
			candidates := append([]string{fmt.Sprintf("%v", structured)}, distinct...)
			out.Unresolved = append(out.Unresolved, Unresolved{
				EventID:    ev.ID,
				Field:      field,
				Class:      MismatchValueDisagreement,
				Candidates: candidates,
				Detail:     fmt.Sprintf("%s recorded as %v but text says %s", field, structured, strings.Join(distinct, " / ")),
			})
			classSet[MismatchValueDisagreement] = true
		}
	}
}

// checkExertion flags out-of-scale ratings and narrative contradictions.
// Neither is ever auto-repaired; a human has to resolve semantics.
func (e *Engine) checkExertion(ev event.Event, out *Outcome, classSet map[MismatchClass]bool) {
	raw, ok := ev.Payload["exertion"]
	if !ok {
		return
	}
	rating, ok := asInt(raw)
	if !ok {
		return
	}

	if rating < exertionMin || rating > exertionMax {
		out.Unresolved = append(out.Unresolved, Unresolved{
			EventID: ev.ID,
			Field:   "exertion",
			Class:   MismatchScaleViolation,
			Detail:  fmt.Sprintf("exertion %d is outside the %d-%d scale", rating, exertionMin, exertionMax),
		})
		classSet[MismatchScaleViolation] = true
		return
	}

	if rating <= exertionLowBand && impliesExhaustion(ev.FreeText) {
		out.Unresolved = append(out.Unresolved, Unresolved{
			EventID: ev.ID,
			Field:   "exertion",
			Class:   MismatchContradiction,
			Detail:  fmt.Sprintf("text reads as exhaustion but exertion is rated %d", rating),
		})
		classSet[MismatchContradiction] = true
	}
}

func buildRepair(ev event.Event, field string, mention Mention) Repair {
	payload := map[string]any{
		"target_event_id": ev.ID,
		"field":           field,
		"value":           mention.Value,
		"confidence":      0.9,
		"scope":           "single_event",
		"provenance": map[string]any{
			"quote":      mention.Quote,
			"span_start": mention.Span.Start,
			"span_end":   mention.Span.End,
		},
	}
	// Deterministic keys make the repair batch idempotent and the
	// retraction template stable.
	correctionKey := repairKey(ev.ID, field, mention.Value, "apply")
	retractionKey := repairKey(ev.ID, field, mention.Value, "retract")

	return Repair{
		TargetEventID: ev.ID,
		Field:         field,
		Value:         mention.Value,
		Confidence:    0.9,
		Scope:         "single_event",
		Provenance:    mention,
		Correction: event.Candidate{
			Type:    "correction.applied",
			Payload: payload,
			Metadata: event.Metadata{
				IdempotencyKey: correctionKey,
				Source:         "session_audit",
				SessionID:      ev.Metadata.SessionID,
			},
		},
		Retraction: event.Candidate{
			Type: "draft.retracted",
			Payload: map[string]any{
				"draft_event_id": ev.ID,
				"resolution":     "correction_retracted",
				"field":          field,
			},
			Metadata: event.Metadata{
				IdempotencyKey: retractionKey,
				Source:         "session_audit",
				SessionID:      ev.Metadata.SessionID,
			},
		},
	}
}

func repairKey(eventID, field string, value any, op string) string {
	digest := canonical.HashStrings([]string{eventID, field, fmt.Sprintf("%v", value), op})
	return "repair:" + strings.TrimPrefix(digest, canonical.DigestPrefix)[:32]
}

// QuestionFromUnresolved folds every unresolved item into exactly one
// question. One question per request, never one per field.
func QuestionFromUnresolved(items []Unresolved) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, item.Detail)
	}
	return fmt.Sprintf("Before I lock this in, help me resolve: %s. What should I record?", strings.Join(parts, "; "))
}

func distinctValues(mentions []Mention) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range mentions {
		s := fmt.Sprintf("%v", m.Value)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func mentionsAgree(structured any, mentions []Mention) bool {
	sv := fmt.Sprintf("%v", structured)
	if n, ok := asInt(structured); ok {
		sv = fmt.Sprintf("%d", n)
	}
	for _, m := range mentions {
		if fmt.Sprintf("%v", m.Value) != sv {
			return false
		}
	}
	return true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
