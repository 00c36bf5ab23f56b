// Package advisory computes the nudge-only scoring layer that rides on top
// of a verified write: evidence score, response mode, retrieval regret,
// failure profile, counterfactuals, and advisory risk scores.
//
// Hard architectural invariant: everything in this package is advisory.
// Its outputs are standalone value types; nothing here can change the claim
// guard's decision or block autonomy.
package advisory

import (
	"github.com/jonzim-cmd/kura-training-sub000/pkg/autonomy"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/claim"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/verify"
)

// ResponseMode selects how personalized the agent's answer may be.
type ResponseMode string

const (
	ModeGroundedPersonalized   ResponseMode = "grounded_personalized"  // A
	ModeHypothesisPersonalized ResponseMode = "hypothesis_personalized" // B
	ModeGeneralGuidance        ResponseMode = "general_guidance"        // C
)

// Tuning holds the adaptive-threshold constants. These are policy knobs,
// not structure: thresholds tighten under degraded signals, relax under
// strong stable outcomes, and never move below floor or above ceiling.
type Tuning struct {
	BaseUpper float64 // default A/B boundary
	BaseLower float64 // default B/C boundary

	TightenChallenge     float64 // added when challenge rate is high
	TightenRegret        float64 // added when regret rate is high
	TightenFollowThrough float64 // added when follow-through is low
	RelaxStable          float64 // subtracted when outcomes are stable

	Floor   float64 // thresholds never drop below
	Ceiling float64 // thresholds never rise above

	// MinSampleSize locks thresholds at defaults until enough history
	// exists ("insufficient sample" state).
	MinSampleSize int

	HighChallengeRate float64
	HighRegretRate    float64
	LowFollowThrough  float64
	StableQuality     float64
}

// DefaultTuning returns the shipped constants.
func DefaultTuning() Tuning {
	return Tuning{
		BaseUpper:            0.75,
		BaseLower:            0.45,
		TightenChallenge:     0.08,
		TightenRegret:        0.08,
		TightenFollowThrough: 0.05,
		RelaxStable:          0.05,
		Floor:                0.30,
		Ceiling:              0.92,
		MinSampleSize:        20,
		HighChallengeRate:    0.25,
		HighRegretRate:       0.2,
		LowFollowThrough:     0.5,
		StableQuality:        0.8,
	}
}

// Thresholds are the resolved mode boundaries for one request.
type Thresholds struct {
	Upper              float64 `json:"upper"`
	Lower              float64 `json:"lower"`
	InsufficientSample bool    `json:"insufficient_sample"`
	Adjustments        []string `json:"adjustments,omitempty"`
}

// Report is the full advisory layer for one response. Advisory only; the
// claim guard never reads it.
type Report struct {
	AdvisoryOnly  bool         `json:"advisory_only"` // always true
	EvidenceScore float64      `json:"evidence_score"`
	ResponseMode  ResponseMode `json:"response_mode"`
	Thresholds    Thresholds   `json:"thresholds"`

	RetrievalRegret *RegretScore     `json:"retrieval_regret,omitempty"`
	JudgeOpinion    *JudgeOpinion    `json:"judge_opinion,omitempty"`
	FailureProfile  *FailureProfile  `json:"failure_profile,omitempty"`
	Counterfactual  *Counterfactual  `json:"counterfactual,omitempty"`
	RiskScore       float64          `json:"risk_score"`
	ConfidenceScore float64          `json:"confidence_score"`
}

// EvidenceScore fuses verification coverage, claim status, and live quality
// signals into [0,1].
func EvidenceScore(guard *claim.Guard, summary *verify.Summary, signals autonomy.QualitySignals) float64 {
	score := 0.0

	switch guard.ClaimStatus {
	case claim.StatusSavedVerified:
		score += 0.5
	case claim.StatusPending:
		score += 0.2
	}

	if len(summary.Checks) > 0 {
		verified := 0
		for _, c := range summary.Checks {
			if c.Status == verify.CheckVerified {
				verified++
			}
		}
		score += 0.25 * float64(verified) / float64(len(summary.Checks))
	}

	switch signals.IntegritySLO {
	case autonomy.SignalOK:
		score += 0.15
	case autonomy.SignalMonitor:
		score += 0.07
	}
	switch signals.Calibration {
	case autonomy.SignalOK:
		score += 0.10
	case autonomy.SignalMonitor:
		score += 0.05
	}

	return clamp01(score)
}

// ResolveThresholds adapts the mode boundaries to recent outcomes.
func ResolveThresholds(tuning Tuning, signals autonomy.QualitySignals) Thresholds {
	t := Thresholds{Upper: tuning.BaseUpper, Lower: tuning.BaseLower}

	if signals.SampleCount < tuning.MinSampleSize {
		t.InsufficientSample = true
		return t
	}

	adjust := 0.0
	if signals.ChallengeRate >= tuning.HighChallengeRate {
		adjust += tuning.TightenChallenge
		t.Adjustments = append(t.Adjustments, "tighten:challenge_rate")
	}
	if signals.FollowThrough > 0 && signals.FollowThrough < tuning.LowFollowThrough {
		adjust += tuning.TightenFollowThrough
		t.Adjustments = append(t.Adjustments, "tighten:follow_through")
	}
	if signals.IntegritySLO == autonomy.SignalDegraded || signals.Calibration == autonomy.SignalDegraded {
		adjust += tuning.TightenRegret
		t.Adjustments = append(t.Adjustments, "tighten:degraded_signals")
	}
	if adjust == 0 && signals.RollingQuality >= tuning.StableQuality {
		adjust -= tuning.RelaxStable
		t.Adjustments = append(t.Adjustments, "relax:stable_outcomes")
	}

	t.Upper = clampRange(t.Upper+adjust, tuning.Floor, tuning.Ceiling)
	t.Lower = clampRange(t.Lower+adjust, tuning.Floor, tuning.Ceiling)
	if t.Lower > t.Upper {
		t.Lower = t.Upper
	}
	return t
}

// SelectMode maps the evidence score onto a response mode.
func SelectMode(score float64, t Thresholds) ResponseMode {
	switch {
	case score >= t.Upper:
		return ModeGroundedPersonalized
	case score >= t.Lower:
		return ModeHypothesisPersonalized
	default:
		return ModeGeneralGuidance
	}
}

func clamp01(v float64) float64 {
	return clampRange(v, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
