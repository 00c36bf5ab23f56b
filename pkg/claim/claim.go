// Package claim derives the claim guard: the single authoritative answer to
// whether the agent may tell the user "this was saved".
//
// The guard is a pure function of receipts, verification, warnings, and the
// autonomy decision. It is derived per request and never stored.
package claim

import (
	"fmt"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/autonomy"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/verify"
)

// Status is the only set of statuses a caller may present as "saved".
type Status string

const (
	StatusSavedVerified Status = "saved_verified"
	StatusPending       Status = "pending"
	StatusFailed        Status = "failed"
)

// Guard is the fused decision.
type Guard struct {
	AllowSavedClaim    bool             `json:"allow_saved_claim"`
	ClaimStatus        Status           `json:"claim_status"`
	UncertaintyMarkers []string         `json:"uncertainty_markers,omitempty"`
	DeferredMarkers    []string         `json:"deferred_markers,omitempty"`
	RecommendedPhrase  string           `json:"recommended_phrase"`
	AutonomyGate       autonomy.Gate    `json:"autonomy_gate"`
	AutonomyPolicy     *autonomy.Policy `json:"autonomy_policy"`
}

// Derive computes the guard.
//
// claim_status is saved_verified iff receipts are complete AND every
// idempotency key is non-empty AND verification is verified AND the autonomy
// decision is not block; allow_saved_claim holds exactly when the status is
// saved_verified. Everything else is honest uncertainty, not an error.
func Derive(receipts []event.WriteReceipt, requested int, summary *verify.Summary, warnings []event.Warning, policy *autonomy.Policy, gate autonomy.Gate, verbosity string) *Guard {
	g := &Guard{
		AutonomyGate:   gate,
		AutonomyPolicy: policy,
	}

	receiptsComplete := len(receipts) == requested && requested > 0
	allKeyed := true
	for _, r := range receipts {
		if r.IdempotencyKey == "" {
			allKeyed = false
		}
	}

	switch {
	case !receiptsComplete:
		g.ClaimStatus = StatusFailed
		g.UncertaintyMarkers = append(g.UncertaintyMarkers,
			fmt.Sprintf("receipts_incomplete:%d_of_%d", len(receipts), requested))
	case summary.Status == verify.StatusVerified && allKeyed && gate.Decision != autonomy.DecisionBlock:
		g.ClaimStatus = StatusSavedVerified
	default:
		g.ClaimStatus = StatusPending
		for _, c := range summary.Checks {
			if c.Status != verify.CheckVerified {
				g.UncertaintyMarkers = append(g.UncertaintyMarkers,
					fmt.Sprintf("unverified:%s/%s", c.ProjectionType, c.Key))
			}
		}
	}

	if !allKeyed {
		g.UncertaintyMarkers = append(g.UncertaintyMarkers, "unkeyed_receipts")
	}
	for _, w := range warnings {
		g.DeferredMarkers = append(g.DeferredMarkers, w.Code)
	}
	if gate.Decision == autonomy.DecisionBlock {
		g.DeferredMarkers = append(g.DeferredMarkers, "autonomy_blocked")
	}

	g.AllowSavedClaim = g.ClaimStatus == StatusSavedVerified

	g.RecommendedPhrase = phrase(g, verbosity)
	return g
}

func phrase(g *Guard, verbosity string) string {
	switch g.ClaimStatus {
	case StatusSavedVerified:
		if verbosity == "verbose" {
			return "Saved and verified: the projection reflects exactly what was written."
		}
		return "Saved and verified."
	case StatusPending:
		if verbosity == "terse" {
			return "Write pending verification."
		}
		return "The write was accepted but I can't yet confirm it as saved. I'll treat it as pending."
	default:
		if verbosity == "terse" {
			return "Write failed."
		}
		return "The write did not fully go through; nothing should be claimed as saved."
	}
}
