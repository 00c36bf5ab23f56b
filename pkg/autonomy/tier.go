// Package autonomy implements the model-tier and autonomy gate: the policy
// kernel that decides allow / confirm_first / block for each write.
package autonomy

import (
	"sync"
)

// Tier is the trust tier of a writing model for a given user.
type Tier string

const (
	TierStrict   Tier = "strict"
	TierModerate Tier = "moderate"
	TierAdvanced Tier = "advanced"
)

// TierConfig tunes the hysteresis. Constants are policy, not structure.
type TierConfig struct {
	// UpgradeThreshold is the rolling quality above which an observation
	// counts toward an upgrade.
	UpgradeThreshold float64
	// DowngradeThreshold is the rolling quality below which the tier drops
	// one level immediately.
	DowngradeThreshold float64
	// SustainedUpgradeCount is how many consecutive above-threshold
	// observations are required before an upgrade is applied.
	SustainedUpgradeCount int
}

// DefaultTierConfig returns the default hysteresis tuning.
func DefaultTierConfig() TierConfig {
	return TierConfig{
		UpgradeThreshold:      0.85,
		DowngradeThreshold:    0.6,
		SustainedUpgradeCount: 5,
	}
}

type tierState struct {
	tier      Tier
	goodCount int
}

// TierTracker carries the only cross-request autonomy state: the current
// tier per user+model, with hysteresis. Downgrades are immediate; upgrades
// require sustained improvement, preventing oscillation.
type TierTracker struct {
	mu     sync.Mutex
	states map[string]*tierState
	cfg    TierConfig
}

// NewTierTracker creates a tracker with the given tuning.
func NewTierTracker(cfg TierConfig) *TierTracker {
	return &TierTracker{
		states: make(map[string]*tierState),
		cfg:    cfg,
	}
}

func (t *TierTracker) state(userID, model string) *tierState {
	key := userID + "\x00" + model
	st, ok := t.states[key]
	if !ok {
		st = &tierState{tier: TierModerate}
		t.states[key] = st
	}
	return st
}

// Current returns the tier for user+model. New pairs start at moderate.
func (t *TierTracker) Current(userID, model string) Tier {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state(userID, model).tier
}

// Observe records a rolling quality observation and returns the resulting
// tier.
func (t *TierTracker) Observe(userID, model string, quality float64) Tier {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(userID, model)

	if quality < t.cfg.DowngradeThreshold {
		st.tier = downgrade(st.tier)
		st.goodCount = 0
		return st.tier
	}

	if quality >= t.cfg.UpgradeThreshold {
		st.goodCount++
		if st.goodCount >= t.cfg.SustainedUpgradeCount {
			st.tier = upgrade(st.tier)
			st.goodCount = 0
		}
	} else {
		// Mid-band observations break an upgrade streak but do not demote.
		st.goodCount = 0
	}
	return st.tier
}

// Reset forces a tier. Used when a model arrives with no history but a
// failed attestation (strict until it earns trust).
func (t *TierTracker) Reset(userID, model string, tier Tier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(userID, model)
	st.tier = tier
	st.goodCount = 0
}

func downgrade(tier Tier) Tier {
	switch tier {
	case TierAdvanced:
		return TierModerate
	default:
		return TierStrict
	}
}

func upgrade(tier Tier) Tier {
	switch tier {
	case TierStrict:
		return TierModerate
	default:
		return TierAdvanced
	}
}
