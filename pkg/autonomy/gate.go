package autonomy

import (
	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
)

// Decision is the gate outcome for one request.
type Decision string

const (
	DecisionAllow        Decision = "allow"
	DecisionConfirmFirst Decision = "confirm_first"
	DecisionBlock        Decision = "block"
)

// severity orders decisions; policy composition always takes the max.
func severity(d Decision) int {
	switch d {
	case DecisionAllow:
		return 0
	case DecisionConfirmFirst:
		return 1
	default:
		return 2
	}
}

func stricter(a, b Decision) Decision {
	if severity(a) >= severity(b) {
		return a
	}
	return b
}

// Gate is the autonomy decision for one request.
type Gate struct {
	Decision    Decision `json:"decision"`
	ActionClass string   `json:"action_class"`
	Reasons     []string `json:"reasons"`
	// FloorApplied reports that a user preference tried to relax below the
	// tier floor and was overridden.
	FloorApplied bool `json:"floor_applied,omitempty"`
	// MemoryGuard reports the memory-guard overlay engaged.
	MemoryGuard bool `json:"memory_guard,omitempty"`
}

// Evaluate applies the deterministic decision table, strictness floors, the
// memory-guard overlay, and any override rules. The table is total: every
// (class, tier, slo, calibration) combination yields a defined decision.
func Evaluate(policy *Policy, class event.ActionClass, overrides *OverrideSet, facts OverrideFacts) Gate {
	gate := Gate{ActionClass: string(class)}

	base := tableDecision(class, policy.Tier, policy.Signals.IntegritySLO, policy.Signals.Calibration)
	gate.Decision = base
	gate.Reasons = append(gate.Reasons, "table:"+string(base))

	floor := tierFloor(policy.Tier, class)

	// Preferences adjust around the table but never below the floor and
	// never below a quality-forced confirm_first.
	switch policy.ConfirmationStrictness {
	case "always":
		if severity(gate.Decision) < severity(DecisionConfirmFirst) {
			gate.Decision = DecisionConfirmFirst
			gate.Reasons = append(gate.Reasons, "pref:confirmation_strictness=always")
		}
	case "never":
		relaxed := DecisionAllow
		if qualityForced(policy.Signals) || policy.Tier == TierStrict {
			relaxed = DecisionConfirmFirst
		}
		relaxed = stricter(relaxed, floor)
		if severity(relaxed) < severity(gate.Decision) && gate.Decision != DecisionBlock {
			gate.Decision = relaxed
			gate.Reasons = append(gate.Reasons, "pref:confirmation_strictness=never")
		}
		if severity(relaxed) > severity(DecisionAllow) {
			gate.FloorApplied = true
		}
	}

	// Hard safety floor: the preference can never take us below it.
	if severity(gate.Decision) < severity(floor) {
		gate.Decision = floor
		gate.FloorApplied = true
		gate.Reasons = append(gate.Reasons, "floor:"+string(floor))
	}

	// Memory guard: high-impact writes need fresh principles-tier context.
	if class == event.ActionHighImpact && !policy.PrinciplesFresh {
		if severity(gate.Decision) < severity(DecisionConfirmFirst) {
			gate.Decision = DecisionConfirmFirst
		}
		gate.MemoryGuard = true
		gate.Reasons = append(gate.Reasons, "memory_guard:principles_stale")
	}

	// Operator overrides may only tighten.
	if overrides != nil {
		decision, matched := overrides.Apply(gate.Decision, facts)
		if len(matched) > 0 {
			gate.Decision = decision
			for _, name := range matched {
				gate.Reasons = append(gate.Reasons, "override:"+name)
			}
		}
	}

	return gate
}

// tableDecision is the deterministic base table.
func tableDecision(class event.ActionClass, tier Tier, slo, cal SignalStatus) Decision {
	// Strict tier never auto-allows; degraded signals on high impact block.
	if tier == TierStrict {
		if class == event.ActionHighImpact && (slo == SignalDegraded || cal == SignalDegraded) {
			return DecisionBlock
		}
		return DecisionConfirmFirst
	}

	// Unhealthy signals always force confirm_first or stricter.
	if slo != SignalOK || cal != SignalOK {
		if class == event.ActionHighImpact && slo == SignalDegraded && tier == TierModerate {
			return DecisionBlock
		}
		return DecisionConfirmFirst
	}

	switch tier {
	case TierAdvanced:
		return DecisionAllow
	default: // moderate
		if class == event.ActionHighImpact {
			return DecisionConfirmFirst
		}
		return DecisionAllow
	}
}

// tierFloor is the minimum decision a preference can relax to.
func tierFloor(tier Tier, class event.ActionClass) Decision {
	if tier == TierStrict {
		return DecisionConfirmFirst
	}
	if tier == TierModerate && class == event.ActionHighImpact {
		return DecisionConfirmFirst
	}
	return DecisionAllow
}

func qualityForced(signals QualitySignals) bool {
	return signals.IntegritySLO != SignalOK || signals.Calibration != SignalOK
}
