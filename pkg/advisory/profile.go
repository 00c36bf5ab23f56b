package advisory

import (
	"context"
	"fmt"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/autonomy"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/store"
)

// FailureProfile summarizes how this user's past plans have failed, so
// recommendations can steer around recurring failure modes.
type FailureProfile struct {
	DominantFailureMode string  `json:"dominant_failure_mode,omitempty"` // e.g. overreach, skipped_rest, abandoned_plan
	FailureRate         float64 `json:"failure_rate"`
	SampleCount         int     `json:"sample_count"`
	NudgeOnly           bool    `json:"nudge_only"` // always true
}

// ProjectionFailureProfile is the read-model key for the profile.
const ProjectionFailureProfile = "failure_profile"

// LoadFailureProfile reads the personal failure profile projection. Absent
// history yields an empty profile, never an error surfaced to the caller.
func LoadFailureProfile(ctx context.Context, projections store.ProjectionStore, userID string) *FailureProfile {
	profile := &FailureProfile{NudgeOnly: true}
	proj, err := projections.GetProjection(ctx, userID, ProjectionFailureProfile, autonomy.KeyCurrent)
	if err != nil || proj == nil {
		return profile
	}
	if v, ok := proj.Data["dominant_failure_mode"].(string); ok {
		profile.DominantFailureMode = v
	}
	if v, ok := proj.Data["failure_rate"].(float64); ok {
		profile.FailureRate = v
	}
	if v, ok := proj.Data["sample_count"].(float64); ok {
		profile.SampleCount = int(v)
	}
	return profile
}

// Alternative is one counterfactual recommendation.
type Alternative struct {
	Summary string `json:"summary"`
	Reason  string `json:"reason"`
}

// Counterfactual offers at most two alternatives plus one challenge
// question. Always advisory.
type Counterfactual struct {
	Alternatives      []Alternative `json:"alternatives,omitempty"` // max 2
	ChallengeQuestion string        `json:"challenge_question"`
	NudgeOnly         bool          `json:"nudge_only"` // always true
}

// BuildCounterfactual derives alternatives from the failure profile and the
// evidence level. At most two alternatives are ever offered, and a challenge
// question is always present.
func BuildCounterfactual(profile *FailureProfile, evidence float64, mode ResponseMode) *Counterfactual {
	cf := &Counterfactual{NudgeOnly: true}

	if profile != nil && profile.DominantFailureMode != "" && profile.FailureRate > 0.3 {
		cf.Alternatives = append(cf.Alternatives, Alternative{
			Summary: fmt.Sprintf("Adjust the plan to counter your most common failure mode (%s).", profile.DominantFailureMode),
			Reason:  fmt.Sprintf("past failure rate %.0f%%", profile.FailureRate*100),
		})
	}
	if evidence < 0.5 && len(cf.Alternatives) < 2 {
		cf.Alternatives = append(cf.Alternatives, Alternative{
			Summary: "Hold off and re-verify before building on this write.",
			Reason:  "evidence for the current state is weak",
		})
	}
	if mode == ModeGeneralGuidance && len(cf.Alternatives) < 2 {
		cf.Alternatives = append(cf.Alternatives, Alternative{
			Summary: "Ask the user to confirm the logged values before personalizing advice.",
			Reason:  "response mode fell back to general guidance",
		})
	}
	if len(cf.Alternatives) > 2 {
		cf.Alternatives = cf.Alternatives[:2]
	}

	cf.ChallengeQuestion = challengeQuestion(profile, evidence)
	return cf
}

func challengeQuestion(profile *FailureProfile, evidence float64) string {
	if profile != nil && profile.DominantFailureMode != "" {
		return fmt.Sprintf("Given that %s has derailed past plans, what would make this time different?", profile.DominantFailureMode)
	}
	if evidence < 0.5 {
		return "What evidence would change your mind about relying on this entry?"
	}
	return "Is there anything about today's session this entry doesn't capture?"
}

// RiskScores derives the advisory risk and confidence pair.
func RiskScores(evidence float64, regret *RegretScore, signals autonomy.QualitySignals) (risk, confidence float64) {
	risk = 1 - evidence
	if regret != nil {
		risk = (risk + regret.Score) / 2
	}
	confidence = evidence
	if signals.Calibration == autonomy.SignalOK {
		confidence = clamp01(confidence + 0.05)
	}
	return clamp01(risk), confidence
}
