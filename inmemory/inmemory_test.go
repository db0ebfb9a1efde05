package inmemory

import (
	"context"
	"testing"

	sr "github.com/solver-ralph/sr"
)

var ctx = context.Background()

func appendOne(t *testing.T, store *EventStore, streamID string, version uint64, eventType string, payload any) sr.EventEnvelope {
	t.Helper()
	e, err := sr.NewEvent(streamID, version+1, eventType, sr.ActorID{Kind: sr.ActorHuman, ID: "tester"}, payload)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if _, err := store.Append(ctx, streamID, version, []sr.EventEnvelope{e}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	return e
}

func TestEventStoreOptimisticConcurrency(t *testing.T) {
	store := NewEventStore()
	loopID := sr.NewLoopID()

	appendOne(t, store, loopID, 0, sr.EventLoopCreated, sr.LoopCreatedPayload{Title: "t", Budgets: sr.DefaultLoopBudgets()})

	// Stale expected version must conflict.
	e, _ := sr.NewEvent(loopID, 1, sr.EventLoopActivated, sr.ActorID{Kind: sr.ActorHuman, ID: "tester"}, sr.LoopTransitionPayload{})
	if _, err := store.Append(ctx, loopID, 0, []sr.EventEnvelope{e}); sr.CodeOf(err) != sr.ConcurrencyConflict {
		t.Errorf("expected ConcurrencyConflict, got %v", err)
	}

	// Appending to an unknown stream with nonzero version is not found.
	if _, err := store.Append(ctx, "loop_missing", 3, []sr.EventEnvelope{e}); sr.CodeOf(err) != sr.StreamNotFound {
		t.Errorf("expected StreamNotFound, got %v", err)
	}
}

// An envelope whose stream_seq does not follow the stream's version is
// rejected, the same as the Postgres store, not silently renumbered.
func TestEventStoreRejectsSequenceMismatch(t *testing.T) {
	store := NewEventStore()
	loopID := sr.NewLoopID()
	appendOne(t, store, loopID, 0, sr.EventLoopCreated, sr.LoopCreatedPayload{Title: "t", Budgets: sr.DefaultLoopBudgets()})

	e, _ := sr.NewEvent(loopID, 5, sr.EventLoopActivated, sr.ActorID{Kind: sr.ActorHuman, ID: "tester"}, sr.LoopTransitionPayload{})
	if _, err := store.Append(ctx, loopID, 1, []sr.EventEnvelope{e}); sr.CodeOf(err) != sr.InvariantViolation {
		t.Errorf("expected InvariantViolation, got %v", err)
	}
	if v := store.Version(loopID); v != 1 {
		t.Errorf("version after rejected append = %d, want 1", v)
	}
	events, err := store.ReadStream(ctx, loopID, 0, 0)
	if err != nil || len(events) != 1 {
		t.Errorf("stream has %d events, err %v", len(events), err)
	}
}

func TestEventStoreReplayOrder(t *testing.T) {
	store := NewEventStore()
	a, b := sr.NewLoopID(), sr.NewLoopID()
	appendOne(t, store, a, 0, sr.EventLoopCreated, sr.LoopCreatedPayload{Title: "a", Budgets: sr.DefaultLoopBudgets()})
	appendOne(t, store, b, 0, sr.EventLoopCreated, sr.LoopCreatedPayload{Title: "b", Budgets: sr.DefaultLoopBudgets()})
	appendOne(t, store, a, 1, sr.EventLoopActivated, sr.LoopTransitionPayload{})

	all, err := store.ReplayAll(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ReplayAll failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].GlobalSeq <= all[i-1].GlobalSeq {
			t.Error("replay not in global order")
		}
	}

	tail, err := store.ReplayAll(ctx, all[0].GlobalSeq, 0)
	if err != nil || len(tail) != 2 {
		t.Errorf("replay from checkpoint returned %d events, err %v", len(tail), err)
	}

	if _, err := store.ReadStream(ctx, "loop_absent", 0, 0); sr.CodeOf(err) != sr.StreamNotFound {
		t.Errorf("expected StreamNotFound, got %v", err)
	}
}

func TestProjectionsFold(t *testing.T) {
	store := NewEventStore()
	proj := NewProjections()
	store.AppendHook = func(e sr.EventEnvelope) {
		if err := proj.Apply(ctx, e); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}

	loopID := sr.NewLoopID()
	appendOne(t, store, loopID, 0, sr.EventLoopCreated, sr.LoopCreatedPayload{Title: "demo", Goal: "g", Budgets: sr.DefaultLoopBudgets()})
	appendOne(t, store, loopID, 1, sr.EventLoopActivated, sr.LoopTransitionPayload{})

	iterID := sr.NewIterationID()
	appendOne(t, store, iterID, 0, sr.EventIterationStarted, sr.IterationStartedPayload{
		IterationID: iterID, LoopID: loopID, Sequence: 1,
	})

	loop, err := proj.GetLoop(ctx, loopID)
	if err != nil {
		t.Fatalf("GetLoop failed: %v", err)
	}
	if loop.State != sr.LoopActive || loop.Title != "demo" {
		t.Errorf("unexpected loop projection: %+v", loop)
	}

	iters, err := proj.ListIterations(ctx, loopID)
	if err != nil || len(iters) != 1 {
		t.Fatalf("ListIterations = (%d, %v)", len(iters), err)
	}
	if iters[0].State != sr.IterationStarted {
		t.Errorf("unexpected iteration state: %s", iters[0].State)
	}

	appendOne(t, store, iterID, 1, sr.EventIterationCompleted, sr.IterationCompletedPayload{
		IterationID: iterID, LoopID: loopID, Outcome: "COMPLETED",
	})
	it, _ := proj.GetIteration(ctx, iterID)
	if it.State != sr.IterationCompleted || it.CompletedAt == nil {
		t.Errorf("iteration not completed: %+v", it)
	}
}

func TestProjectionsReplayDeterminism(t *testing.T) {
	store := NewEventStore()
	loopID := sr.NewLoopID()
	appendOne(t, store, loopID, 0, sr.EventLoopCreated, sr.LoopCreatedPayload{Title: "d", Budgets: sr.DefaultLoopBudgets()})
	appendOne(t, store, loopID, 1, sr.EventLoopActivated, sr.LoopTransitionPayload{})
	appendOne(t, store, loopID, 2, sr.EventLoopPaused, sr.LoopTransitionPayload{Reason: "stop"})

	rebuild := func() string {
		proj := NewProjections()
		events, err := store.ReplayAll(ctx, 0, 0)
		if err != nil {
			t.Fatalf("ReplayAll failed: %v", err)
		}
		for _, e := range events {
			if err := proj.Apply(ctx, e); err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
		}
		return proj.StateHash()
	}
	if rebuild() != rebuild() {
		t.Error("rebuilding the same log twice produced different state hashes")
	}
}

func TestEvidenceStoreImmutability(t *testing.T) {
	store := NewEvidenceStore()
	manifest := []byte(`{"version":"1"}`)
	blobs := map[string][]byte{"out.log": []byte("hello")}

	h1, err := store.Store(ctx, manifest, blobs)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	h2, err := store.Store(ctx, manifest, blobs)
	if err != nil || h1 != h2 {
		t.Errorf("re-storing identical content changed the address: %s vs %s", h1, h2)
	}

	got, err := store.Retrieve(ctx, h1)
	if err != nil || string(got) != string(manifest) {
		t.Errorf("Retrieve = (%q, %v)", got, err)
	}
	blob, err := store.RetrieveBlob(ctx, h1, "out.log")
	if err != nil || string(blob) != "hello" {
		t.Errorf("RetrieveBlob = (%q, %v)", blob, err)
	}
	if _, err := store.Retrieve(ctx, "deadbeef"); sr.CodeOf(err) != sr.EvidenceNotFound {
		t.Errorf("expected EvidenceNotFound, got %v", err)
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe(ctx, sr.SubjectLoopEvents)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := bus.Publish(ctx, sr.SubjectLoopEvents, []byte("m1")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	msg, ok := sub.Next(ctx)
	if !ok || string(msg) != "m1" {
		t.Errorf("Next = (%q, %v)", msg, ok)
	}
	if len(bus.Published) != 1 {
		t.Errorf("expected 1 recorded message, got %d", len(bus.Published))
	}
}
