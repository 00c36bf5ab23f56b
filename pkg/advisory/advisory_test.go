package advisory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/advisory"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/autonomy"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/claim"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/store"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/verify"
)

func okSignals(sample int) autonomy.QualitySignals {
	return autonomy.QualitySignals{
		IntegritySLO: autonomy.SignalOK,
		Calibration:  autonomy.SignalOK,
		SampleCount:  sample,
	}
}

func TestEvidenceScoreOrdering(t *testing.T) {
	summary := &verify.Summary{Checks: []verify.Check{{Status: verify.CheckVerified}}}

	saved := advisory.EvidenceScore(&claim.Guard{ClaimStatus: claim.StatusSavedVerified}, summary, okSignals(0))
	pending := advisory.EvidenceScore(&claim.Guard{ClaimStatus: claim.StatusPending}, summary, okSignals(0))
	failed := advisory.EvidenceScore(&claim.Guard{ClaimStatus: claim.StatusFailed}, summary, okSignals(0))

	assert.Greater(t, saved, pending)
	assert.Greater(t, pending, failed)
	assert.LessOrEqual(t, saved, 1.0)
	assert.GreaterOrEqual(t, failed, 0.0)
}

func TestThresholdsLockedBelowMinSample(t *testing.T) {
	tuning := advisory.DefaultTuning()
	signals := okSignals(tuning.MinSampleSize - 1)
	signals.ChallengeRate = 0.9 // would tighten if the sample were large enough

	thr := advisory.ResolveThresholds(tuning, signals)
	assert.True(t, thr.InsufficientSample)
	assert.Equal(t, tuning.BaseUpper, thr.Upper)
	assert.Equal(t, tuning.BaseLower, thr.Lower)
	assert.Empty(t, thr.Adjustments)
}

func TestThresholdsTighten(t *testing.T) {
	tuning := advisory.DefaultTuning()
	signals := okSignals(100)
	signals.ChallengeRate = 0.4
	signals.Calibration = autonomy.SignalDegraded

	thr := advisory.ResolveThresholds(tuning, signals)
	assert.Greater(t, thr.Upper, tuning.BaseUpper)
	assert.Contains(t, thr.Adjustments, "tighten:challenge_rate")
	assert.Contains(t, thr.Adjustments, "tighten:degraded_signals")
	assert.LessOrEqual(t, thr.Upper, tuning.Ceiling)
}

func TestThresholdsRelaxOnlyWhenStable(t *testing.T) {
	tuning := advisory.DefaultTuning()

	stable := okSignals(100)
	stable.RollingQuality = 0.9
	thr := advisory.ResolveThresholds(tuning, stable)
	assert.Less(t, thr.Upper, tuning.BaseUpper)
	assert.Contains(t, thr.Adjustments, "relax:stable_outcomes")

	// Any tightening pressure wins over relaxation.
	mixed := okSignals(100)
	mixed.RollingQuality = 0.9
	mixed.ChallengeRate = 0.4
	thr = advisory.ResolveThresholds(tuning, mixed)
	assert.NotContains(t, thr.Adjustments, "relax:stable_outcomes")
}

func TestSelectMode(t *testing.T) {
	thr := advisory.Thresholds{Upper: 0.75, Lower: 0.45}

	assert.Equal(t, advisory.ModeGroundedPersonalized, advisory.SelectMode(0.8, thr))
	assert.Equal(t, advisory.ModeHypothesisPersonalized, advisory.SelectMode(0.6, thr))
	assert.Equal(t, advisory.ModeGeneralGuidance, advisory.SelectMode(0.2, thr))
}

func TestScoreRetrievalRegret(t *testing.T) {
	low := advisory.ScoreRetrievalRegret(0.9, okSignals(0))
	assert.Less(t, low.Score, 0.3)
	assert.True(t, low.NudgeOnly)

	degraded := okSignals(0)
	degraded.Calibration = autonomy.SignalDegraded
	degraded.ChallengeRate = 0.5
	high := advisory.ScoreRetrievalRegret(0.2, degraded)
	assert.Greater(t, high.Score, 0.8)
	assert.Equal(t, "weak_evidence_and_degraded_signals", high.Basis)
}

func TestRunJudgeSwallowsFailures(t *testing.T) {
	broken := advisory.JudgeFunc(func(context.Context, string) (*advisory.JudgeOpinion, error) {
		return nil, errors.New("model unavailable")
	})
	assert.Nil(t, advisory.RunJudge(context.Background(), broken, "summary"))
	assert.Nil(t, advisory.RunJudge(context.Background(), nil, "summary"))

	working := advisory.JudgeFunc(func(context.Context, string) (*advisory.JudgeOpinion, error) {
		return &advisory.JudgeOpinion{Verdict: "sound", Weight: 0.4}, nil
	})
	opinion := advisory.RunJudge(context.Background(), working, "summary")
	require.NotNil(t, opinion)
	assert.True(t, opinion.NudgeOnly)
}

func TestLoadFailureProfile(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()

	profile := advisory.LoadFailureProfile(ctx, mem, "u1")
	require.NotNil(t, profile)
	assert.Empty(t, profile.DominantFailureMode)
	assert.True(t, profile.NudgeOnly)

	mem.ApplyProjection("u1", advisory.ProjectionFailureProfile, autonomy.KeyCurrent, map[string]any{
		"dominant_failure_mode": "overreach",
		"failure_rate":          0.4,
		"sample_count":          12.0,
	}, 1, "ev-1")
	profile = advisory.LoadFailureProfile(ctx, mem, "u1")
	assert.Equal(t, "overreach", profile.DominantFailureMode)
	assert.InDelta(t, 0.4, profile.FailureRate, 1e-9)
}

func TestBuildCounterfactualCapsAlternatives(t *testing.T) {
	profile := &advisory.FailureProfile{DominantFailureMode: "overreach", FailureRate: 0.5}

	cf := advisory.BuildCounterfactual(profile, 0.2, advisory.ModeGeneralGuidance)
	assert.LessOrEqual(t, len(cf.Alternatives), 2)
	assert.NotEmpty(t, cf.ChallengeQuestion)
	assert.True(t, cf.NudgeOnly)

	// Even with nothing to suggest, the challenge question is present.
	cf = advisory.BuildCounterfactual(nil, 0.9, advisory.ModeGroundedPersonalized)
	assert.Empty(t, cf.Alternatives)
	assert.NotEmpty(t, cf.ChallengeQuestion)
}

func TestRiskScores(t *testing.T) {
	regret := &advisory.RegretScore{Score: 0.8}
	risk, confidence := advisory.RiskScores(0.2, regret, okSignals(0))

	assert.Greater(t, risk, 0.5)
	assert.Less(t, confidence, 0.5)

	risk2, confidence2 := advisory.RiskScores(0.9, &advisory.RegretScore{Score: 0.1}, okSignals(0))
	assert.Less(t, risk2, risk)
	assert.Greater(t, confidence2, confidence)
}
