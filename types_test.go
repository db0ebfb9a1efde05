package sr

import (
	"strings"
	"testing"
)

func TestPrefixedIDs(t *testing.T) {
	if !strings.HasPrefix(NewLoopID(), "loop_") {
		t.Error("loop ID missing prefix")
	}
	if !strings.HasPrefix(NewIterationID(), "iter_") {
		t.Error("iteration ID missing prefix")
	}
	if !strings.HasPrefix(NewRunID(), "run_") {
		t.Error("run ID missing prefix")
	}
	if NewEventID() == NewEventID() {
		t.Error("event IDs should be unique")
	}
}

func TestNewCandidateID(t *testing.T) {
	id := NewCandidateID("abc123", "deadbeef")
	if !strings.HasPrefix(id, "git:abc123|sha256:deadbeef|cand_") {
		t.Errorf("unexpected candidate ID shape: %s", id)
	}

	id = NewCandidateID("", "deadbeef")
	if strings.Contains(id, "git:") {
		t.Errorf("candidate ID should omit git segment when no commit: %s", id)
	}
	if !strings.HasPrefix(id, "sha256:deadbeef|cand_") {
		t.Errorf("unexpected candidate ID shape: %s", id)
	}
}

func TestInferStreamKind(t *testing.T) {
	cases := []struct {
		streamID string
		want     StreamKind
	}{
		{NewLoopID(), StreamLoop},
		{NewIterationID(), StreamIteration},
		{NewCandidateID("abc", "def"), StreamCandidate},
		{NewRunID(), StreamRun},
		{NewApprovalID(), StreamApproval},
		{NewDecisionID(), StreamDecision},
		{"suite_conformance", StreamOracleSuite},
		{"freeze_2026q1", StreamFreeze},
		{"something-else", StreamGovernance},
	}
	for _, c := range cases {
		if got := InferStreamKind(c.streamID); got != c.want {
			t.Errorf("InferStreamKind(%s) = %s, want %s", c.streamID, got, c.want)
		}
	}
}

func TestParseActorKind(t *testing.T) {
	if ParseActorKind("agent") != ActorAgent {
		t.Error("expected AGENT")
	}
	if ParseActorKind("SYSTEM") != ActorSystem {
		t.Error("expected SYSTEM")
	}
	if ParseActorKind("bogus") != ActorHuman {
		t.Error("unknown kinds should default to HUMAN")
	}
}

func TestDefaultLoopBudgets(t *testing.T) {
	b := DefaultLoopBudgets()
	if b.MaxIterations != 5 || b.MaxOracleRuns != 25 || b.MaxWallclockHours != 16 {
		t.Errorf("unexpected default budgets: %+v", b)
	}
}
