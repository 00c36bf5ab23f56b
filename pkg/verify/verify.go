// Package verify implements read-after-write verification: polling target
// projections until they provably reflect the events just written.
//
// The correctness signal is identity, not time: a check is verified once the
// projection's last-applied-event-id is one of this request's receipt ids.
// A stale read that merely looks current never counts.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/store"
)

// CheckStatus is the per-target verification status.
type CheckStatus string

const (
	CheckVerified CheckStatus = "verified"
	CheckPending  CheckStatus = "pending"
)

// SummaryStatus aggregates all checks plus receipt completeness.
type SummaryStatus string

const (
	StatusVerified SummaryStatus = "verified"
	StatusPending  SummaryStatus = "pending"
	StatusFailed   SummaryStatus = "failed"
)

// Poll tuning. The interval is fixed; the timeout is caller-supplied but
// clamped to a safe range.
const (
	PollInterval   = 100 * time.Millisecond
	MinVerifyWait  = 100 * time.Millisecond
	MaxVerifyWait  = 10 * time.Second
	DefaultTimeout = 2 * time.Second
)

// Check is the observation for one read-after-write target.
type Check struct {
	ProjectionType      string      `json:"projection_type"`
	Key                 string      `json:"key"`
	Status              CheckStatus `json:"status"`
	ObservedVersion     int64       `json:"observed_version"`
	ObservedLastEventID string      `json:"observed_last_event_id,omitempty"`
	Detail              string      `json:"detail,omitempty"`
}

// Summary aggregates the verification outcome for one request.
// Owned by the request lifecycle; never persisted.
type Summary struct {
	Status           SummaryStatus `json:"status"`
	Checks           []Check       `json:"checks"`
	ReceiptsComplete bool          `json:"receipts_complete"`
	WaitedMS         int64         `json:"waited_ms"`
}

// Engine polls projections against receipt ids.
type Engine struct {
	projections store.ProjectionStore
	interval    time.Duration
	clock       func() time.Time
}

// NewEngine creates a verification engine.
func NewEngine(projections store.ProjectionStore) *Engine {
	return &Engine{
		projections: projections,
		interval:    PollInterval,
		clock:       time.Now,
	}
}

// WithInterval overrides the poll interval for tests.
func (e *Engine) WithInterval(d time.Duration) *Engine {
	e.interval = d
	return e
}

// ClampTimeout bounds a caller-supplied timeout to the safe range.
func ClampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	if d < MinVerifyWait {
		return MinVerifyWait
	}
	if d > MaxVerifyWait {
		return MaxVerifyWait
	}
	return d
}

// Verify polls the targets until every check is verified or the timeout
// elapses. On timeout or caller cancellation the best-known (possibly
// all-pending) checks are returned; nothing is rolled back. The summary is
// verified only if receipts are complete AND all checks verified; failed if
// receipts are incomplete; pending otherwise.
func (e *Engine) Verify(ctx context.Context, userID string, targets []event.ReadAfterWriteTarget, receipts []event.WriteReceipt, requested int, timeout time.Duration) *Summary {
	start := e.clock()
	receiptsComplete := len(receipts) == requested && requested > 0

	receiptIDs := make(map[string]bool, len(receipts))
	for _, r := range receipts {
		receiptIDs[r.EventID] = true
	}

	checks := make([]Check, len(targets))
	for i, tgt := range targets {
		checks[i] = Check{
			ProjectionType: tgt.ProjectionType,
			Key:            tgt.Key,
			Status:         CheckPending,
			Detail:         "not yet observed",
		}
	}

	deadline := start.Add(ClampTimeout(timeout))
	for {
		allVerified := e.pollOnce(ctx, userID, targets, receiptIDs, checks)
		if allVerified {
			break
		}
		now := e.clock()
		if !now.Before(deadline) {
			break
		}

		// Suspend this request between polls without blocking others.
		wait := e.interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return e.summarize(checks, receiptsComplete, start)
		case <-timer.C:
		}
	}

	return e.summarize(checks, receiptsComplete, start)
}

func (e *Engine) pollOnce(ctx context.Context, userID string, targets []event.ReadAfterWriteTarget, receiptIDs map[string]bool, checks []Check) bool {
	allVerified := len(targets) > 0
	for i, tgt := range targets {
		if checks[i].Status == CheckVerified {
			continue
		}
		proj, err := e.projections.GetProjection(ctx, userID, tgt.ProjectionType, tgt.Key)
		if err != nil {
			checks[i].Detail = fmt.Sprintf("projection read failed: %v", err)
			allVerified = false
			continue
		}
		if proj == nil {
			checks[i].Detail = "projection absent"
			allVerified = false
			continue
		}
		checks[i].ObservedVersion = proj.Version
		checks[i].ObservedLastEventID = proj.LastEventID
		if receiptIDs[proj.LastEventID] {
			checks[i].Status = CheckVerified
			checks[i].Detail = "last_event_id matches receipt"
		} else {
			checks[i].Detail = "projection not yet caught up"
			allVerified = false
		}
	}
	if len(targets) == 0 {
		return true
	}
	return allVerified
}

func (e *Engine) summarize(checks []Check, receiptsComplete bool, start time.Time) *Summary {
	s := &Summary{
		Checks:           checks,
		ReceiptsComplete: receiptsComplete,
		WaitedMS:         e.clock().Sub(start).Milliseconds(),
	}

	switch {
	case !receiptsComplete:
		s.Status = StatusFailed
	case allVerified(checks):
		s.Status = StatusVerified
	default:
		s.Status = StatusPending
	}
	return s
}

func allVerified(checks []Check) bool {
	for _, c := range checks {
		if c.Status != CheckVerified {
			return false
		}
	}
	return true
}
