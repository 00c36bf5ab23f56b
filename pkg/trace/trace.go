// Package trace produces the deterministic audit digest of a
// write-with-proof transaction and the post-task reflection.
package trace

import (
	"fmt"
	"sort"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/canonical"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/claim"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/sessionaudit"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/verify"
)

// Digest is the stable correlation id for one transaction.
type Digest struct {
	ActionID string `json:"action_id"`
}

// ComputeDigest hashes sorted receipt ids plus the terminal statuses.
// Receipt order in the request does not change the digest.
func ComputeDigest(receipts []event.WriteReceipt, verification verify.SummaryStatus, claimStatus claim.Status, workflowStatus string, auditStatus sessionaudit.Status) (Digest, error) {
	ids := make([]string, 0, len(receipts))
	for _, r := range receipts {
		ids = append(ids, r.EventID)
	}
	sort.Strings(ids)

	hash, err := canonical.Hash(struct {
		ReceiptIDs   []string `json:"receipt_ids"`
		Verification string   `json:"verification"`
		Claim        string   `json:"claim"`
		Workflow     string   `json:"workflow"`
		Audit        string   `json:"audit"`
	}{ids, string(verification), string(claimStatus), workflowStatus, string(auditStatus)})
	if err != nil {
		return Digest{}, fmt.Errorf("trace: digest: %w", err)
	}
	return Digest{ActionID: hash}, nil
}

// Certainty classifies the overall outcome.
type Certainty string

const (
	CertaintyConfirmed  Certainty = "confirmed"
	CertaintyPartial    Certainty = "partial"
	CertaintyUnresolved Certainty = "unresolved"
)

// Reflection is the post-task self-assessment. It never declares success
// while any input signal is non-terminal.
type Reflection struct {
	Certainty Certainty `json:"certainty"`
	NextStep  string    `json:"next_step,omitempty"`
}

// Reflect derives certainty and a concrete next step from verification and
// session-audit status.
func Reflect(verification verify.SummaryStatus, auditSummary sessionaudit.Summary) Reflection {
	switch {
	case verification == verify.StatusVerified && auditSummary.Status != sessionaudit.StatusNeedsClarification:
		return Reflection{Certainty: CertaintyConfirmed}

	case auditSummary.Status == sessionaudit.StatusNeedsClarification:
		certainty := CertaintyPartial
		if verification != verify.StatusVerified {
			certainty = CertaintyUnresolved
		}
		return Reflection{
			Certainty: certainty,
			NextStep:  "ask the pending clarification question: " + auditSummary.ClarificationQuestion,
		}

	case verification == verify.StatusPending:
		return Reflection{
			Certainty: CertaintyPartial,
			NextStep:  "retry read-after-write verification",
		}

	default:
		return Reflection{
			Certainty: CertaintyUnresolved,
			NextStep:  "retry the write; receipts were incomplete",
		}
	}
}
