package kernel

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/advisory"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/claim"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/persist"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/sessionaudit"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/trace"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/verify"
)

// Response section schema versions. Each section is versioned independently
// so clients can adopt incrementally.
var SectionVersions = map[string]string{
	"receipts":      "1.0.0",
	"verification":  "1.1.0",
	"claim_guard":   "1.2.0",
	"session_audit": "1.1.0",
	"persist_intent": "1.0.0",
	"advisory":      "2.0.0",
	"trace":         "1.0.0",
}

// SectionCompatible reports whether a client built against clientVersion
// can read the current section schema (same major, server not older).
func SectionCompatible(section, clientVersion string) (bool, error) {
	current, ok := SectionVersions[section]
	if !ok {
		return false, fmt.Errorf("kernel: unknown response section %q", section)
	}
	cv, err := semver.NewVersion(clientVersion)
	if err != nil {
		return false, fmt.Errorf("kernel: parse client version %q: %w", clientVersion, err)
	}
	sv := semver.MustParse(current)
	return cv.Major() == sv.Major() && !sv.LessThan(cv), nil
}

// Blocker is one machine-readable policy rejection.
type Blocker struct {
	Code        string `json:"code"`
	Detail      string `json:"detail"`
	Remediation string `json:"remediation,omitempty"`
}

// Blocker codes.
const (
	BlockerAutonomyBlock       = "autonomy_block"
	BlockerConfirmationInvalid = "confirmation_invalid"
	BlockerValidation          = "validation_failed"
)

// Response is the write-with-proof result.
type Response struct {
	SchemaVersions map[string]string `json:"schema_versions"`

	// Accepted is false when the request was rejected before any write.
	Accepted   bool              `json:"accepted"`
	Violations []event.Violation `json:"violations,omitempty"`
	Blockers   []Blocker         `json:"blockers,omitempty"`

	Receipts     []event.WriteReceipt  `json:"receipts,omitempty"`
	Warnings     []event.Warning       `json:"warnings,omitempty"`
	Verification *verify.Summary       `json:"verification,omitempty"`
	ClaimGuard   *claim.Guard          `json:"claim_guard,omitempty"`
	SessionAudit *sessionaudit.Summary `json:"session_audit,omitempty"`
	// RepairReceipts are the receipts of correction events written by the
	// session-audit engine.
	RepairReceipts []event.WriteReceipt `json:"repair_receipts,omitempty"`
	PersistIntent  *persist.Decision    `json:"persist_intent,omitempty"`
	Advisory       *advisory.Report     `json:"advisory,omitempty"`
	Trace          *trace.Digest        `json:"trace,omitempty"`
	Reflection     *trace.Reflection    `json:"reflection,omitempty"`
}

func newResponse() *Response {
	return &Response{SchemaVersions: SectionVersions}
}
