package advisory

import (
	"context"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/autonomy"
)

// RegretScore estimates the cost of acting on currently available evidence.
type RegretScore struct {
	Score     float64 `json:"score"` // 0 = act freely, 1 = acting now is likely regretted
	Basis     string  `json:"basis"`
	NudgeOnly bool    `json:"nudge_only"` // always true
}

// ScoreRetrievalRegret derives regret from the evidence score and live
// signals. High regret nudges the agent toward hedged responses; it never
// blocks anything.
func ScoreRetrievalRegret(evidence float64, signals autonomy.QualitySignals) *RegretScore {
	regret := 1 - evidence

	if signals.Calibration == autonomy.SignalDegraded {
		regret += 0.15
	}
	if signals.ChallengeRate > 0.25 {
		regret += 0.1
	}
	regret = clamp01(regret)

	basis := "inverse_evidence"
	if regret > 0.6 {
		basis = "weak_evidence_and_degraded_signals"
	}
	return &RegretScore{Score: regret, Basis: basis, NudgeOnly: true}
}

// JudgeOpinion is the result of the optional LLM-judge sidecar.
type JudgeOpinion struct {
	Verdict   string  `json:"verdict"` // sound | questionable | unsound
	Rationale string  `json:"rationale,omitempty"`
	Weight    float64 `json:"weight"` // how much the caller should care
	NudgeOnly bool    `json:"nudge_only"` // always true
}

// Judge is the sidecar interface. Implementations call out to a model; the
// kernel only ever treats the opinion as advisory and tolerates failure.
type Judge interface {
	Assess(ctx context.Context, summary string) (*JudgeOpinion, error)
}

// JudgeFunc adapts a function to the Judge interface.
type JudgeFunc func(ctx context.Context, summary string) (*JudgeOpinion, error)

// Assess implements Judge.
func (f JudgeFunc) Assess(ctx context.Context, summary string) (*JudgeOpinion, error) {
	return f(ctx, summary)
}

// RunJudge runs the sidecar and swallows failures: a broken judge yields no
// opinion, never a broken response.
func RunJudge(ctx context.Context, judge Judge, summary string) *JudgeOpinion {
	if judge == nil {
		return nil
	}
	opinion, err := judge.Assess(ctx, summary)
	if err != nil || opinion == nil {
		return nil
	}
	opinion.NudgeOnly = true
	return opinion
}
