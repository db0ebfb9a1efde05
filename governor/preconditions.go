// Package governor decides when a loop may start its next iteration. Every
// decision, including declines, is recorded with the precondition snapshot
// that produced it so the trail can be audited after the fact.
package governor

import (
	"context"
	"fmt"
	"time"

	sr "github.com/solver-ralph/sr"
)

// Precondition names. All must hold before an iteration starts.
const (
	PrecondLoopActive            = "loop_active"
	PrecondNoIncompleteIteration = "no_incomplete_iteration"
	PrecondBudgetAvailable       = "budget_available"
	PrecondDelayElapsed          = "delay_elapsed"
	PrecondNoStopTriggers        = "no_stop_triggers"
	PrecondApprovalsSatisfied    = "approvals_satisfied"
)

// Snapshot is the evaluated state of every precondition for one loop at one
// point in time, with reasons for any that failed.
type Snapshot struct {
	LoopID        string
	Preconditions map[string]bool
	Reasons       []string
	NextSequence  int
}

// AllSatisfied reports whether every precondition holds.
func (s *Snapshot) AllSatisfied() bool {
	for _, ok := range s.Preconditions {
		if !ok {
			return false
		}
	}
	return true
}

// Evaluate computes the precondition snapshot for a loop from its read models.
func Evaluate(ctx context.Context, reads sr.Projections, loopID string, minDelay time.Duration, now time.Time) (*Snapshot, error) {
	loop, err := reads.GetLoop(ctx, loopID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		LoopID:        loopID,
		Preconditions: make(map[string]bool, 6),
	}
	fail := func(name, reason string) {
		snap.Preconditions[name] = false
		snap.Reasons = append(snap.Reasons, reason)
	}

	snap.Preconditions[PrecondLoopActive] = loop.State == sr.LoopActive
	if loop.State != sr.LoopActive {
		fail(PrecondLoopActive, fmt.Sprintf("loop is %s", loop.State))
	}

	iterations, err := reads.ListIterations(ctx, loopID)
	if err != nil {
		return nil, err
	}
	snap.NextSequence = len(iterations) + 1
	snap.Preconditions[PrecondNoIncompleteIteration] = true
	var lastCompleted *time.Time
	for _, it := range iterations {
		if it.State == sr.IterationStarted {
			fail(PrecondNoIncompleteIteration, fmt.Sprintf("iteration %s is still in progress", it.IterationID))
		}
		if it.CompletedAt != nil && (lastCompleted == nil || it.CompletedAt.After(*lastCompleted)) {
			lastCompleted = it.CompletedAt
		}
	}

	snap.Preconditions[PrecondBudgetAvailable] = true
	if max := loop.Budgets.MaxIterations; max > 0 && uint32(len(iterations)) >= max {
		fail(PrecondBudgetAvailable, fmt.Sprintf("iteration budget exhausted (%d of %d)", len(iterations), max))
	}
	if hours := loop.Budgets.MaxWallclockHours; hours > 0 {
		deadline := loop.CreatedAt.Add(time.Duration(hours) * time.Hour)
		if now.After(deadline) {
			fail(PrecondBudgetAvailable, fmt.Sprintf("wallclock budget of %dh exhausted", hours))
		}
	}

	snap.Preconditions[PrecondDelayElapsed] = true
	if minDelay > 0 && lastCompleted != nil && now.Before(lastCompleted.Add(minDelay)) {
		fail(PrecondDelayElapsed, fmt.Sprintf("minimum delay of %s since last iteration has not elapsed", minDelay))
	}

	triggers, err := reads.ListStopTriggers(ctx, loopID, true)
	if err != nil {
		return nil, err
	}
	snap.Preconditions[PrecondNoStopTriggers] = len(triggers) == 0
	for _, t := range triggers {
		fail(PrecondNoStopTriggers, fmt.Sprintf("active stop trigger %s (%s)", t.TriggerID, t.Type))
	}

	approvals, err := reads.ListApprovals(ctx, loopID)
	if err != nil {
		return nil, err
	}
	snap.Preconditions[PrecondApprovalsSatisfied] = true
	if n := len(approvals); n > 0 && approvals[n-1].Decision == "REJECTED" {
		fail(PrecondApprovalsSatisfied, fmt.Sprintf("latest approval %s was rejected", approvals[n-1].ApprovalID))
	}

	return snap, nil
}
