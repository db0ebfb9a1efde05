package governor

import (
	"context"
	"fmt"
	"time"

	log "log/slog"

	sr "github.com/solver-ralph/sr"
)

// Decision outcomes.
const (
	DecisionStarted = "STARTED"
	DecisionSkipped = "SKIPPED"
	DecisionBlocked = "BLOCKED"
)

// SystemActor attributes governor-emitted events. IterationStarted is only
// ever emitted with a SYSTEM actor; humans and agents go through the API's
// governor-gated start operation.
var SystemActor = sr.ActorID{Kind: sr.ActorSystem, ID: "sr-governor"}

// Reads is the projection surface the governor consumes, plus the audited
// decision trail it writes.
type Reads interface {
	sr.Projections
	RecordGovernorDecision(ctx context.Context, d sr.GovernorDecisionRecord) error
}

// Governor evaluates loops and starts iterations when preconditions hold.
type Governor struct {
	store    sr.EventStore
	reads    Reads
	clock    sr.Clock
	minDelay time.Duration
	dryRun   bool
}

func New(store sr.EventStore, reads Reads, clock sr.Clock, minDelay time.Duration, dryRun bool) *Governor {
	if clock == nil {
		clock = sr.SystemClock{}
	}
	return &Governor{
		store:    store,
		reads:    reads,
		clock:    clock,
		minDelay: minDelay,
		dryRun:   dryRun,
	}
}

// Tick evaluates every active loop once. Returns how many iterations started.
func (g *Governor) Tick(ctx context.Context) (int, error) {
	loops, err := g.reads.ListLoops(ctx, sr.LoopFilter{State: sr.LoopActive})
	if err != nil {
		return 0, fmt.Errorf("list active loops, details: %v", err)
	}
	started := 0
	for _, loop := range loops {
		ok, err := g.EvaluateAndStart(ctx, loop.LoopID)
		if err != nil {
			log.Warn("loop evaluation failed", "loop_id", loop.LoopID, "error", err.Error())
			continue
		}
		if ok {
			started++
		}
	}
	return started, nil
}

// EvaluateAndStart evaluates one loop's preconditions and, when they all hold
// and dry-run is off, starts the next iteration. The decision is recorded
// either way.
func (g *Governor) EvaluateAndStart(ctx context.Context, loopID string) (bool, error) {
	now := g.clock.Now()
	snap, err := Evaluate(ctx, g.reads, loopID, g.minDelay, now)
	if err != nil {
		return false, err
	}

	record := sr.GovernorDecisionRecord{
		DecisionID:    sr.NewDecisionID(),
		LoopID:        loopID,
		Preconditions: snap.Preconditions,
		Reasons:       snap.Reasons,
		DryRun:        g.dryRun,
		DecidedAt:     now,
	}

	if !snap.AllSatisfied() {
		record.Decision = DecisionBlocked
		if err := g.reads.RecordGovernorDecision(ctx, record); err != nil {
			return false, err
		}
		return false, nil
	}

	if g.dryRun {
		record.Decision = DecisionSkipped
		record.Reasons = append(record.Reasons, "dry-run: iteration not started")
		if err := g.reads.RecordGovernorDecision(ctx, record); err != nil {
			return false, err
		}
		log.Info("dry-run: would start iteration", "loop_id", loopID, "sequence", snap.NextSequence)
		return false, nil
	}

	if err := g.StartIteration(ctx, loopID, snap.NextSequence); err != nil {
		return false, err
	}
	record.Decision = DecisionStarted
	if err := g.reads.RecordGovernorDecision(ctx, record); err != nil {
		return false, err
	}
	log.Info("iteration started", "loop_id", loopID, "sequence", snap.NextSequence)
	return true, nil
}

// StartIteration appends an IterationStarted event on a fresh iteration
// stream, attributed to the SYSTEM actor.
func (g *Governor) StartIteration(ctx context.Context, loopID string, sequence int) error {
	iterationID := sr.NewIterationID()
	e, err := sr.NewEvent(iterationID, 1, sr.EventIterationStarted, SystemActor, sr.IterationStartedPayload{
		IterationID: iterationID,
		LoopID:      loopID,
		Sequence:    sequence,
	})
	if err != nil {
		return err
	}
	e.Refs = []sr.TypedRef{{Kind: sr.RefKindLoop, ID: loopID, Rel: "parent"}}
	_, err = g.store.Append(ctx, iterationID, 0, []sr.EventEnvelope{e})
	return err
}

// StopTrigger describes why a loop must pause and how to get it moving again.
type StopTrigger struct {
	Type              string
	Reason            string
	RecommendedPortal string
	RequiredActions   []string
	AllowRetry        bool
}

// TriggerStop records a StopTriggered event and pauses the loop. The two
// appends share the loop stream so the pause cannot land without the trigger.
func TriggerStop(ctx context.Context, store sr.EventStore, reads sr.Projections, loopID string, trigger StopTrigger, actor sr.ActorID) (string, error) {
	loop, err := reads.GetLoop(ctx, loopID)
	if err != nil {
		return "", err
	}
	if _, err := sr.NextLoopState(loop.State, sr.TransitionStop); err != nil {
		return "", err
	}

	triggerID := sr.NewTriggerID()
	version := uint64(loop.Version)
	stopEvent, err := sr.NewEvent(loopID, version+1, sr.EventStopTriggered, actor, sr.StopTriggeredPayload{
		TriggerID:         triggerID,
		LoopID:            loopID,
		Type:              trigger.Type,
		Reason:            trigger.Reason,
		RecommendedPortal: trigger.RecommendedPortal,
		RequiredActions:   trigger.RequiredActions,
		AllowRetry:        trigger.AllowRetry,
	})
	if err != nil {
		return "", err
	}
	pauseEvent, err := sr.NewEvent(loopID, version+2, sr.EventLoopPaused, actor, sr.LoopTransitionPayload{
		Reason: fmt.Sprintf("stop trigger %s: %s", trigger.Type, trigger.Reason),
	})
	if err != nil {
		return "", err
	}
	pauseEvent.CausationID = stopEvent.EventID

	if _, err := store.Append(ctx, loopID, version, []sr.EventEnvelope{stopEvent, pauseEvent}); err != nil {
		return "", err
	}
	return triggerID, nil
}
