package governor

import (
	"context"
	"testing"
	"time"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/inmemory"
)

var ctx = context.Background()

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newHarness(t *testing.T) (*inmemory.EventStore, *inmemory.Projections) {
	t.Helper()
	store := inmemory.NewEventStore()
	proj := inmemory.NewProjections()
	store.AppendHook = func(e sr.EventEnvelope) {
		if err := proj.Apply(ctx, e); err != nil {
			t.Fatalf("projection apply failed: %v", err)
		}
	}
	return store, proj
}

func createActiveLoop(t *testing.T, store *inmemory.EventStore, budgets sr.LoopBudgets) string {
	t.Helper()
	loopID := sr.NewLoopID()
	actor := sr.ActorID{Kind: sr.ActorHuman, ID: "owner"}
	created, err := sr.NewEvent(loopID, 1, sr.EventLoopCreated, actor, sr.LoopCreatedPayload{Title: "t", Budgets: budgets})
	if err != nil {
		t.Fatal(err)
	}
	activated, err := sr.NewEvent(loopID, 2, sr.EventLoopActivated, actor, sr.LoopTransitionPayload{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, loopID, 0, []sr.EventEnvelope{created, activated}); err != nil {
		t.Fatal(err)
	}
	return loopID
}

func TestGovernorStartsIteration(t *testing.T) {
	store, proj := newHarness(t)
	loopID := createActiveLoop(t, store, sr.DefaultLoopBudgets())

	g := New(store, proj, fixedClock{now: time.Now().UTC()}, 0, false)
	started, err := g.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if started != 1 {
		t.Fatalf("expected 1 iteration started, got %d", started)
	}

	iters, _ := proj.ListIterations(ctx, loopID)
	if len(iters) != 1 || iters[0].Sequence != 1 {
		t.Fatalf("unexpected iterations: %+v", iters)
	}

	// The started iteration must carry the SYSTEM actor.
	events, err := store.ReadStream(ctx, iters[0].IterationID, 0, 0)
	if err != nil || len(events) != 1 {
		t.Fatalf("ReadStream = (%d, %v)", len(events), err)
	}
	if events[0].ActorKind != sr.ActorSystem {
		t.Errorf("iteration started by %s, want SYSTEM", events[0].ActorKind)
	}

	decisions, _ := proj.ListGovernorDecisions(ctx, loopID, 10)
	if len(decisions) != 1 || decisions[0].Decision != DecisionStarted {
		t.Errorf("unexpected decision trail: %+v", decisions)
	}
}

func TestGovernorBlocksOnIncompleteIteration(t *testing.T) {
	store, proj := newHarness(t)
	loopID := createActiveLoop(t, store, sr.DefaultLoopBudgets())

	g := New(store, proj, fixedClock{now: time.Now().UTC()}, 0, false)
	if _, err := g.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	// Second tick: the first iteration is still running.
	started, err := g.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if started != 0 {
		t.Error("governor started an iteration while one was incomplete")
	}

	decisions, _ := proj.ListGovernorDecisions(ctx, loopID, 10)
	var blocked *sr.GovernorDecisionRecord
	for i := range decisions {
		if decisions[i].Decision == DecisionBlocked {
			blocked = &decisions[i]
		}
	}
	if blocked == nil {
		t.Fatal("no BLOCKED decision recorded")
	}
	if blocked.Preconditions[PrecondNoIncompleteIteration] {
		t.Error("blocked decision should flag the incomplete iteration precondition")
	}
}

func TestGovernorRespectsIterationBudget(t *testing.T) {
	store, proj := newHarness(t)
	budgets := sr.LoopBudgets{MaxIterations: 1, MaxOracleRuns: 25, MaxWallclockHours: 16}
	loopID := createActiveLoop(t, store, budgets)

	g := New(store, proj, fixedClock{now: time.Now().UTC()}, 0, false)
	if _, err := g.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	// Complete the iteration, then the budget of one is spent.
	iters, _ := proj.ListIterations(ctx, loopID)
	iterID := iters[0].IterationID
	completed, _ := sr.NewEvent(iterID, 2, sr.EventIterationCompleted, SystemActor, sr.IterationCompletedPayload{
		IterationID: iterID, LoopID: loopID, Outcome: "COMPLETED",
	})
	if _, err := store.Append(ctx, iterID, 1, []sr.EventEnvelope{completed}); err != nil {
		t.Fatal(err)
	}

	started, err := g.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if started != 0 {
		t.Error("governor exceeded the iteration budget")
	}
}

func TestGovernorDryRun(t *testing.T) {
	store, proj := newHarness(t)
	loopID := createActiveLoop(t, store, sr.DefaultLoopBudgets())

	g := New(store, proj, fixedClock{now: time.Now().UTC()}, 0, true)
	started, err := g.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if started != 0 {
		t.Error("dry-run governor started an iteration")
	}
	iters, _ := proj.ListIterations(ctx, loopID)
	if len(iters) != 0 {
		t.Error("dry-run governor emitted IterationStarted")
	}
	decisions, _ := proj.ListGovernorDecisions(ctx, loopID, 10)
	if len(decisions) != 1 || decisions[0].Decision != DecisionSkipped || !decisions[0].DryRun {
		t.Errorf("unexpected decision trail: %+v", decisions)
	}
}

func TestTriggerStopPausesLoop(t *testing.T) {
	store, proj := newHarness(t)
	loopID := createActiveLoop(t, store, sr.DefaultLoopBudgets())

	triggerID, err := TriggerStop(ctx, store, proj, loopID, StopTrigger{
		Type:              "ORACLE_TAMPER",
		Reason:            "stored bundle hash mismatch",
		RecommendedPortal: "INTEGRITY_REVIEW",
		RequiredActions:   []string{"re-run oracle suite"},
	}, SystemActor)
	if err != nil {
		t.Fatalf("TriggerStop failed: %v", err)
	}

	loop, _ := proj.GetLoop(ctx, loopID)
	if loop.State != sr.LoopPaused {
		t.Errorf("loop state = %s, want PAUSED", loop.State)
	}
	triggers, _ := proj.ListStopTriggers(ctx, loopID, true)
	if len(triggers) != 1 || triggers[0].TriggerID != triggerID {
		t.Fatalf("unexpected triggers: %+v", triggers)
	}
	if triggers[0].Type != "ORACLE_TAMPER" {
		t.Errorf("unexpected trigger type: %s", triggers[0].Type)
	}

	// A paused loop cannot be stop-triggered again.
	if _, err := TriggerStop(ctx, store, proj, loopID, StopTrigger{Type: "ORACLE_GAP", Reason: "x"}, SystemActor); err == nil {
		t.Error("expected an invalid transition error on a paused loop")
	}

	// The governor must not start iterations while the trigger is active.
	g := New(store, proj, fixedClock{now: time.Now().UTC()}, 0, false)
	started, _ := g.Tick(ctx)
	if started != 0 {
		t.Error("governor started an iteration on a paused loop")
	}
}
