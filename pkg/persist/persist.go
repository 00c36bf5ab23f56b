// Package persist decides whether a write is kept outright, kept as a
// provisional draft, or held behind a user question, and manages the draft
// lifecycle.
package persist

import (
	"github.com/jonzim-cmd/kura-training-sub000/pkg/autonomy"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/claim"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
)

// Mode is the persist-intent decision.
type Mode string

const (
	ModeAutoSave  Mode = "auto_save"
	ModeAutoDraft Mode = "auto_draft"
	ModeAskFirst  Mode = "ask_first"
)

// Status labels shown to the user.
const (
	LabelSaved    = "saved"
	LabelDraft    = "draft"
	LabelNotSaved = "not_saved"
)

// Decision is the finalized persist intent for one request.
type Decision struct {
	Mode                Mode   `json:"mode"`
	StatusLabel         string `json:"status_label"`
	DraftEventCount     int    `json:"draft_event_count"`
	DraftPersistedCount int    `json:"draft_persisted_count"`
	// UserPrompt is the single user-facing question. Exactly one prompt is
	// produced even when multiple reasons justify asking.
	UserPrompt string `json:"user_prompt,omitempty"`
}

// Plan is the pre-write materialization choice. When the plan is not
// auto_save the candidates are written under the provisional dimension
// prefix, so nothing the user said is lost while nothing is claimed.
func Plan(policy *autonomy.Policy, intent *event.IntentHandshake) Mode {
	if intent != nil {
		switch intent.DeclaredIntent {
		case "draft":
			return ModeAutoDraft
		case "ask":
			return ModeAskFirst
		}
		if intent.Confidence > 0 && intent.Confidence < 0.5 {
			return ModeAutoDraft
		}
	}
	if policy.SaveConfirmationMode == "always" {
		return ModeAskFirst
	}
	return ModeAutoSave
}

// MaterializeDrafts rewrites candidates to their provisional draft form.
// Draft events are ordinary events owned by the requesting user until
// promoted, resolved, or dismissed.
func MaterializeDrafts(cands []event.Candidate) []event.Candidate {
	out := make([]event.Candidate, len(cands))
	for i, c := range cands {
		out[i] = c
		out[i].Type = event.ProvisionalPrefix + c.Type
	}
	return out
}

// Finalize derives the decision after verification and claim derivation.
//
// Safety floor: a high-impact action never finalizes as auto_save when it is
// not provably saved, or when save_confirmation_mode is "never". The "never"
// preference opts out of confirmation prompts, not of the floor.
func Finalize(planned Mode, class event.ActionClass, guard *claim.Guard, policy *autonomy.Policy, draftCount, draftPersisted int) Decision {
	d := Decision{
		Mode:                planned,
		DraftEventCount:     draftCount,
		DraftPersistedCount: draftPersisted,
	}

	saved := guard.ClaimStatus == claim.StatusSavedVerified && guard.AllowSavedClaim

	switch {
	case class == event.ActionHighImpact && !saved:
		d.Mode = ModeAskFirst
		d.StatusLabel = LabelNotSaved
		d.UserPrompt = "This change is high-impact and I couldn't verify it was saved. Should I retry and confirm it with you before relying on it?"

	case class == event.ActionHighImpact && policy.SaveConfirmationMode == "never":
		d.Mode = ModeAskFirst
		d.StatusLabel = LabelNotSaved
		d.UserPrompt = "This change is high-impact, so I need your explicit go-ahead before treating it as saved, even with save confirmations turned off."

	case planned == ModeAskFirst:
		d.StatusLabel = LabelDraft
		d.UserPrompt = "I've kept this as a draft. Do you want me to save it for real?"

	case planned == ModeAutoDraft:
		d.StatusLabel = LabelDraft
		d.UserPrompt = "I saved this as a draft because I wasn't confident enough to commit it. Promote it when you're ready."

	case saved:
		d.Mode = ModeAutoSave
		d.StatusLabel = LabelSaved

	default:
		// Written but not provably saved, low impact: keep it provisional.
		d.Mode = ModeAutoDraft
		d.StatusLabel = LabelDraft
		d.UserPrompt = "The write hasn't verified yet, so I'm treating it as a draft until it does."
	}

	return d
}
