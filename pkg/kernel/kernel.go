// Package kernel orchestrates the write-with-proof pipeline: preflight,
// identity, autonomy gating, confirmation, append, session audit,
// read-after-write verification, claim derivation, persist intent, the
// advisory layer, and the trace digest.
//
// Each request runs as one task; concurrent requests are independent except
// through the shared store. The only intentional blocking point is the
// verification poll loop.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/advisory"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/attest"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/autonomy"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/canonical"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/claim"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/confirm"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/observability"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/persist"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/sessionaudit"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/store"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/telemetry"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/trace"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/verify"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/writer"
)

// Deps wires the kernel's collaborators.
type Deps struct {
	Registry     *event.Registry
	Events       store.EventStore
	Projections  store.ProjectionStore
	Preferences  store.PreferenceStore
	Resolver     *attest.Resolver
	Tiers        *autonomy.TierTracker
	Overrides    *autonomy.OverrideSet
	Confirmation *confirm.Protocol
	Judge        advisory.Judge // optional
	Tuning       advisory.Tuning
	Telemetry    *telemetry.Emitter     // optional
	Obs          *observability.Provider // optional
}

// Kernel is the write-with-proof orchestrator.
type Kernel struct {
	registry  *event.Registry
	preflight *event.Preflight
	resolver  *attest.Resolver
	policies  *autonomy.PolicyBuilder
	overrides *autonomy.OverrideSet
	tiers     *autonomy.TierTracker
	confirmer *confirm.Protocol
	writer    *writer.Writer
	auditor   *sessionaudit.Engine
	verifier  *verify.Engine
	lifecycle *persist.Lifecycle
	judge     advisory.Judge
	tuning    advisory.Tuning
	prefs     store.PreferenceStore
	projs     store.ProjectionStore
	emitter   *telemetry.Emitter
	obs       *observability.Provider
	logger    *slog.Logger
}

// New builds the kernel.
func New(deps Deps) *Kernel {
	return &Kernel{
		registry:  deps.Registry,
		preflight: event.NewPreflight(deps.Registry, deps.Preferences),
		resolver:  deps.Resolver,
		policies:  autonomy.NewPolicyBuilder(deps.Projections, deps.Preferences, deps.Tiers),
		overrides: deps.Overrides,
		tiers:     deps.Tiers,
		confirmer: deps.Confirmation,
		writer:    writer.New(deps.Events),
		auditor:   sessionaudit.NewEngine(),
		verifier:  verify.NewEngine(deps.Projections),
		lifecycle: persist.NewLifecycle(deps.Events),
		judge:     deps.Judge,
		tuning:    deps.Tuning,
		prefs:     deps.Preferences,
		projs:     deps.Projections,
		emitter:   deps.Telemetry,
		obs:       deps.Obs,
		logger:    slog.Default().With("component", "kernel"),
	}
}

// Drafts exposes the draft lifecycle (promote / resolve / dismiss).
func (k *Kernel) Drafts() *persist.Lifecycle {
	return k.lifecycle
}

// RequestConfirmation issues a confirmation token for a request that has
// already passed preflight. Issuing before preflight would waste the
// single-use token once the payload is corrected, because the digest
// changes.
func (k *Kernel) RequestConfirmation(ctx context.Context, req *event.WriteRequest) (string, error) {
	violations, err := k.preflight.Check(ctx, req)
	if err != nil {
		return "", err
	}
	if len(violations) > 0 {
		return "", fmt.Errorf("kernel: request has %d preflight violations; fix them before requesting confirmation", len(violations))
	}
	digest, err := canonical.Hash(req.Candidates)
	if err != nil {
		return "", err
	}
	class := k.registry.ClassifyBatch(req.Candidates)
	return k.confirmer.Issue(req.UserID, string(class), digest)
}

// WriteWithProof runs the full pipeline.
func (k *Kernel) WriteWithProof(ctx context.Context, req *event.WriteRequest) (*Response, error) {
	start := time.Now()
	ctx, span := k.startSpan(ctx, req)
	defer span.End()

	resp := newResponse()

	// Stage 1-2: preflight. All violations batched, no partial effects.
	violations, err := k.preflight.Check(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("kernel: preflight: %w", err)
	}
	if len(violations) > 0 {
		resp.Violations = violations
		resp.Blockers = append(resp.Blockers, Blocker{
			Code:        BlockerValidation,
			Detail:      fmt.Sprintf("%d validation violations", len(violations)),
			Remediation: "correct the listed violations and resubmit",
		})
		k.finishRequest(ctx, span, resp, start, time.Time{})
		return resp, nil
	}

	payloadDigest, err := canonical.Hash(req.Candidates)
	if err != nil {
		return nil, fmt.Errorf("kernel: payload digest: %w", err)
	}

	// Stage 3: identity + autonomy policy + gate.
	var attestToken string
	if req.Attestation != nil {
		attestToken = req.Attestation.Token
	}
	identity := k.resolver.Resolve(ctx, attestToken, req.ClientID, payloadDigest, req.UserID)

	policy, err := k.policies.Build(ctx, req.UserID, identity)
	if err != nil {
		return nil, fmt.Errorf("kernel: build policy: %w", err)
	}

	class := k.registry.ClassifyBatch(req.Candidates)
	gate := autonomy.Evaluate(policy, class, k.overrides, k.gateFacts(req, policy, identity, class))
	k.emit(ctx, "autonomy_gate", req.UserID, map[string]any{
		"decision": gate.Decision, "tier": policy.Tier, "action_class": class,
	})

	if gate.Decision == autonomy.DecisionBlock {
		resp.Blockers = append(resp.Blockers, Blocker{
			Code:        BlockerAutonomyBlock,
			Detail:      fmt.Sprintf("autonomy policy blocks this write (tier=%s, reasons=%v)", policy.Tier, gate.Reasons),
			Remediation: "wait for quality signals to recover or have the user perform this change directly",
		})
		k.finishRequest(ctx, span, resp, start, time.Time{})
		return resp, nil
	}

	// Stage 4: confirmation for confirm-first decisions. Never silently
	// downgraded.
	if gate.Decision == autonomy.DecisionConfirmFirst {
		var token string
		if req.Confirmation != nil {
			token = req.Confirmation.Token
		}
		if err := k.confirmer.Verify(ctx, token, req.UserID, string(class), payloadDigest); err != nil {
			if isConfirmRejection(err) {
				resp.Blockers = append(resp.Blockers, Blocker{
					Code:        BlockerConfirmationInvalid,
					Detail:      err.Error(),
					Remediation: "request a fresh confirmation token bound to this exact payload",
				})
				k.finishRequest(ctx, span, resp, start, time.Time{})
				return resp, nil
			}
			return nil, fmt.Errorf("kernel: confirmation check: %w", err)
		}
	}

	// Stage 5: persist plan + write. Non-auto_save plans materialize the
	// candidates as provisional drafts so nothing is lost and nothing is
	// claimed.
	plannedMode := persist.Plan(policy, req.Intent)
	cands := req.Candidates
	draftCount := 0
	if plannedMode != persist.ModeAutoSave {
		cands = persist.MaterializeDrafts(cands)
		draftCount = len(cands)
	}

	resp.Accepted = true
	writeResult, err := k.writer.Append(ctx, req.UserID, cands)
	if err != nil {
		return nil, fmt.Errorf("kernel: write: %w", err)
	}
	resp.Receipts = writeResult.Receipts
	resp.Warnings = writeResult.Warnings

	// Stage 6: session audit. Repair events are ordinary writes; a failed
	// repair append degrades to the clarification question, never blocks
	// the underlying write.
	auditOutcome := k.auditor.Audit(writeResult.Events, policy.AutoRepairEnabled)
	resp.SessionAudit = &auditOutcome.Summary
	if len(auditOutcome.Repairs) > 0 {
		repairCands := make([]event.Candidate, 0, len(auditOutcome.Repairs))
		for _, r := range auditOutcome.Repairs {
			repairCands = append(repairCands, r.Correction)
		}
		repairResult, err := k.writer.Append(ctx, req.UserID, repairCands)
		if err != nil {
			k.logger.WarnContext(ctx, "repair append failed; degrading to clarification", "error", err)
			downgradeRepairs(auditOutcome)
		} else {
			resp.RepairReceipts = repairResult.Receipts
		}
	}

	// Stage 7: read-after-write verification.
	verifyStart := time.Now()
	summary := k.verifier.Verify(ctx, req.UserID, req.Targets, resp.Receipts, len(req.Candidates), req.VerifyTimeout)
	resp.Verification = summary

	// Stage 8: claim guard.
	verbosity := req.Verbosity
	if verbosity == "" {
		verbosity, _, _ = k.prefs.GetPreference(ctx, req.UserID, store.PrefVerbosity)
	}
	guard := claim.Derive(resp.Receipts, len(req.Candidates), summary, resp.Warnings, policy, gate, verbosity)
	resp.ClaimGuard = guard
	k.emit(ctx, "claim_guard", req.UserID, map[string]any{
		"claim_status": guard.ClaimStatus, "allow_saved_claim": guard.AllowSavedClaim,
	})

	// Stage 9: persist intent.
	decision := persist.Finalize(plannedMode, class, guard, policy, draftCount, len(resp.Receipts))
	if plannedMode == persist.ModeAutoSave {
		decision.DraftPersistedCount = 0
	}
	resp.PersistIntent = &decision
	k.emit(ctx, "persist_intent", req.UserID, map[string]any{"mode": decision.Mode})

	// Stage 10: advisory layer. Nudge-only; nothing below this line may
	// change the claim guard or the gate.
	resp.Advisory = k.buildAdvisory(ctx, req.UserID, guard, summary, policy)

	// Stage 11: trace digest + reflection.
	digest, err := trace.ComputeDigest(resp.Receipts, summary.Status, guard.ClaimStatus, workflowStatus(resp), auditOutcome.Summary.Status)
	if err != nil {
		return nil, fmt.Errorf("kernel: trace digest: %w", err)
	}
	resp.Trace = &digest
	reflection := trace.Reflect(summary.Status, auditOutcome.Summary)
	resp.Reflection = &reflection

	// Outcome quality feeds tier hysteresis.
	k.tiers.Observe(req.UserID, policy.Model, outcomeQuality(guard, &auditOutcome.Summary))

	k.finishRequest(ctx, span, resp, start, verifyStart)
	return resp, nil
}

func (k *Kernel) buildAdvisory(ctx context.Context, userID string, guard *claim.Guard, summary *verify.Summary, policy *autonomy.Policy) *advisory.Report {
	evidence := advisory.EvidenceScore(guard, summary, policy.Signals)
	thresholds := advisory.ResolveThresholds(k.tuning, policy.Signals)
	mode := advisory.SelectMode(evidence, thresholds)
	regret := advisory.ScoreRetrievalRegret(evidence, policy.Signals)
	profile := advisory.LoadFailureProfile(ctx, k.projs, userID)
	counterfactual := advisory.BuildCounterfactual(profile, evidence, mode)
	risk, confidence := advisory.RiskScores(evidence, regret, policy.Signals)

	report := &advisory.Report{
		AdvisoryOnly:    true,
		EvidenceScore:   evidence,
		ResponseMode:    mode,
		Thresholds:      thresholds,
		RetrievalRegret: regret,
		FailureProfile:  profile,
		Counterfactual:  counterfactual,
		RiskScore:       risk,
		ConfidenceScore: confidence,
	}
	report.JudgeOpinion = advisory.RunJudge(ctx, k.judge,
		fmt.Sprintf("claim=%s evidence=%.2f mode=%s", guard.ClaimStatus, evidence, mode))

	k.emit(ctx, "advisory", userID, map[string]any{
		"evidence_score": evidence, "response_mode": mode, "risk": risk,
	})
	return report
}

func (k *Kernel) gateFacts(req *event.WriteRequest, policy *autonomy.Policy, identity attest.Identity, class event.ActionClass) autonomy.OverrideFacts {
	types := make([]string, 0, len(req.Candidates))
	scope := ""
	for _, c := range req.Candidates {
		types = append(types, c.Type)
		if s, _ := c.Payload["scope"].(string); s != "" && scope == "" {
			scope = s
		}
	}
	return autonomy.OverrideFacts{
		ActionClass:  string(class),
		Tier:         string(policy.Tier),
		Model:        identity.Model,
		Attested:     identity.Attested,
		IntegritySLO: string(policy.Signals.IntegritySLO),
		Calibration:  string(policy.Signals.Calibration),
		EventTypes:   types,
		Scope:        scope,
	}
}

func (k *Kernel) startSpan(ctx context.Context, req *event.WriteRequest) (context.Context, oteltrace.Span) {
	if k.obs == nil {
		return noop.NewTracerProvider().Tracer("kura.write-kernel").Start(ctx, "write_with_proof")
	}
	return k.obs.Tracer().Start(ctx, "write_with_proof",
		oteltrace.WithAttributes(
			attribute.Int("kura.event_count", len(req.Candidates)),
			attribute.Int("kura.target_count", len(req.Targets)),
		),
	)
}

func (k *Kernel) finishRequest(ctx context.Context, span oteltrace.Span, resp *Response, start, verifyStart time.Time) {
	status := "rejected"
	verifyWait := time.Duration(0)
	failed := !resp.Accepted
	if resp.ClaimGuard != nil {
		status = string(resp.ClaimGuard.ClaimStatus)
		failed = resp.ClaimGuard.ClaimStatus == claim.StatusFailed
	}
	if !verifyStart.IsZero() && resp.Verification != nil {
		verifyWait = time.Duration(resp.Verification.WaitedMS) * time.Millisecond
	}
	span.SetAttributes(attribute.String("kura.claim_status", status))
	if k.obs != nil {
		k.obs.RecordRequest(ctx, status, time.Since(start), verifyWait, failed)
	}
}

func (k *Kernel) emit(ctx context.Context, kind, userID string, fields map[string]any) {
	if k.emitter != nil {
		k.emitter.Emit(ctx, kind, userID, fields)
	}
}

// downgradeRepairs converts a repaired outcome into a clarification when the
// repair write itself failed.
func downgradeRepairs(out *sessionaudit.Outcome) {
	for _, r := range out.Repairs {
		out.Unresolved = append(out.Unresolved, sessionaudit.Unresolved{
			EventID: r.TargetEventID,
			Field:   r.Field,
			Class:   sessionaudit.MismatchMissingField,
			Detail:  fmt.Sprintf("%s mentioned as %v but the correction could not be written", r.Field, r.Value),
		})
	}
	out.Repairs = nil
	out.Summary.Status = sessionaudit.StatusNeedsClarification
	out.Summary.MismatchesRepaired = 0
	out.Summary.MismatchesUnresolved = len(out.Unresolved)
	out.Summary.ClarificationQuestion = sessionaudit.QuestionFromUnresolved(out.Unresolved)
}

func workflowStatus(resp *Response) string {
	if !resp.Accepted {
		return "rejected"
	}
	return "completed"
}

// outcomeQuality maps the request outcome onto the rolling-quality scale
// consumed by tier hysteresis.
func outcomeQuality(guard *claim.Guard, audit *sessionaudit.Summary) float64 {
	q := 0.0
	switch guard.ClaimStatus {
	case claim.StatusSavedVerified:
		q = 1.0
	case claim.StatusPending:
		q = 0.7
	}
	if audit.Status == sessionaudit.StatusNeedsClarification {
		q -= 0.2
	}
	if q < 0 {
		q = 0
	}
	return q
}

func isConfirmRejection(err error) bool {
	for _, target := range []error{
		confirm.ErrMissingToken, confirm.ErrDigestMismatch, confirm.ErrExpired,
		confirm.ErrReplayed, confirm.ErrUserMismatch, confirm.ErrActionMismatch,
		confirm.ErrMalformed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
