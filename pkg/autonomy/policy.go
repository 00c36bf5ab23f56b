package autonomy

import (
	"context"
	"fmt"
	"time"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/attest"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/store"
)

// SignalStatus is the health of a live quality signal.
type SignalStatus string

const (
	SignalOK       SignalStatus = "ok"
	SignalMonitor  SignalStatus = "monitor"
	SignalDegraded SignalStatus = "degraded"
)

// QualitySignals is the live quality snapshot read from the quality-health
// projection.
type QualitySignals struct {
	IntegritySLO   SignalStatus `json:"integrity_slo_status"`
	Calibration    SignalStatus `json:"calibration_status"`
	RollingQuality float64      `json:"rolling_quality"`
	ChallengeRate  float64      `json:"challenge_rate"`
	FollowThrough  float64      `json:"follow_through"`
	SampleCount    int          `json:"sample_count"`
}

// Policy is the autonomy snapshot derived per request. It is never cached
// across requests; tier hysteresis is the only carried-forward state.
type Policy struct {
	Tier                   Tier           `json:"tier"`
	Model                  string         `json:"model"`
	Attested               bool           `json:"attested"`
	Signals                QualitySignals `json:"signals"`
	ConfirmationStrictness string         `json:"confirmation_strictness"` // always | default | never
	SaveConfirmationMode   string         `json:"save_confirmation_mode"`  // always | default | never
	AutoRepairEnabled      bool           `json:"auto_repair_enabled"`
	// PrinciplesFresh reports whether long-lived personal context of the
	// principles tier is present and not stale (memory guard input).
	PrinciplesFresh bool `json:"principles_fresh"`
}

// Projection/key constants for the collaborating read models.
const (
	ProjectionQualityHealth = "quality_health"
	ProjectionMemoryHealth  = "memory_health"
	KeyCurrent              = "current"
)

// PrinciplesMaxAge bounds how stale the principles-tier memory may be
// before the memory guard engages.
const PrinciplesMaxAge = 30 * 24 * time.Hour

// PolicyBuilder recomputes the autonomy policy for every request from the
// quality-health projection, user preferences, and the tier tracker.
type PolicyBuilder struct {
	projections store.ProjectionStore
	prefs       store.PreferenceStore
	tiers       *TierTracker
	clock       func() time.Time
}

// NewPolicyBuilder wires the policy builder.
func NewPolicyBuilder(projections store.ProjectionStore, prefs store.PreferenceStore, tiers *TierTracker) *PolicyBuilder {
	return &PolicyBuilder{
		projections: projections,
		prefs:       prefs,
		tiers:       tiers,
		clock:       time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (b *PolicyBuilder) WithClock(clock func() time.Time) *PolicyBuilder {
	b.clock = clock
	return b
}

// Build computes the policy snapshot for this request.
func (b *PolicyBuilder) Build(ctx context.Context, userID string, identity attest.Identity) (*Policy, error) {
	signals, err := b.readQualitySignals(ctx, userID)
	if err != nil {
		return nil, err
	}

	tier := b.tiers.Current(userID, identity.Model)
	// An unknown or unverifiable identity never operates above strict.
	if identity.Model == "unknown" || identity.ReasonCode == attest.ReasonAttestationFail {
		tier = TierStrict
	}

	strictness := b.prefOrDefault(ctx, userID, store.PrefConfirmationStrictness, "default")
	saveMode := b.prefOrDefault(ctx, userID, store.PrefSaveConfirmationMode, "default")

	principlesFresh, err := b.principlesFresh(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Auto-repair requires a tier above strict and healthy integrity.
	autoRepair := tier != TierStrict && signals.IntegritySLO != SignalDegraded

	return &Policy{
		Tier:                   tier,
		Model:                  identity.Model,
		Attested:               identity.Attested,
		Signals:                signals,
		ConfirmationStrictness: strictness,
		SaveConfirmationMode:   saveMode,
		AutoRepairEnabled:      autoRepair,
		PrinciplesFresh:        principlesFresh,
	}, nil
}

func (b *PolicyBuilder) prefOrDefault(ctx context.Context, userID, key, def string) string {
	v, ok, err := b.prefs.GetPreference(ctx, userID, key)
	if err != nil || !ok {
		return def
	}
	return v
}

func (b *PolicyBuilder) readQualitySignals(ctx context.Context, userID string) (QualitySignals, error) {
	// Absent projection means no history: treat signals as monitor, not ok.
	signals := QualitySignals{IntegritySLO: SignalMonitor, Calibration: SignalMonitor}

	proj, err := b.projections.GetProjection(ctx, userID, ProjectionQualityHealth, KeyCurrent)
	if err != nil {
		return signals, fmt.Errorf("autonomy: read quality-health projection: %w", err)
	}
	if proj == nil {
		return signals, nil
	}

	if v, ok := proj.Data["integrity_slo_status"].(string); ok {
		signals.IntegritySLO = SignalStatus(v)
	}
	if v, ok := proj.Data["calibration_status"].(string); ok {
		signals.Calibration = SignalStatus(v)
	}
	if v, ok := proj.Data["rolling_quality"].(float64); ok {
		signals.RollingQuality = v
	}
	if v, ok := proj.Data["challenge_rate"].(float64); ok {
		signals.ChallengeRate = v
	}
	if v, ok := proj.Data["follow_through"].(float64); ok {
		signals.FollowThrough = v
	}
	if v, ok := proj.Data["sample_count"].(float64); ok {
		signals.SampleCount = int(v)
	}
	return signals, nil
}

func (b *PolicyBuilder) principlesFresh(ctx context.Context, userID string) (bool, error) {
	proj, err := b.projections.GetProjection(ctx, userID, ProjectionMemoryHealth, KeyCurrent)
	if err != nil {
		return false, fmt.Errorf("autonomy: read memory-health projection: %w", err)
	}
	if proj == nil {
		return false, nil
	}
	updatedAt, ok := proj.Data["principles_updated_at"].(string)
	if !ok {
		return false, nil
	}
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return false, nil
	}
	return b.clock().Sub(ts) <= PrinciplesMaxAge, nil
}
