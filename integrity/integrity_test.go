package integrity

import (
	"context"
	"strings"
	"testing"
	"time"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/evidence"
	"github.com/solver-ralph/sr/inmemory"
	"github.com/solver-ralph/sr/oracles"
)

var ctx = context.Background()

func testSuite() *oracles.SuiteDefinition {
	return &oracles.SuiteDefinition{
		SuiteID: "suite_conformance",
		Name:    "conformance",
		Version: "1.0.0",
		Oracles: []oracles.OracleDefinition{
			{ID: "oracle_a", Name: "a", Command: []string{"true"}, Required: true},
			{ID: "oracle_b", Name: "b", Command: []string{"true"}, Required: true},
		},
	}
}

// completeRun executes the suite through the real runner and folds the events
// so the checker sees a coherent run.
func completeRun(t *testing.T, events *inmemory.EventStore, evStore *inmemory.EvidenceStore, proj *inmemory.Projections) string {
	t.Helper()
	events.AppendHook = func(e sr.EventEnvelope) {
		if err := proj.Apply(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	runID := sr.NewRunID()
	suite := testSuite()
	suiteHash, _ := suite.Hash()
	actor := sr.ActorID{Kind: sr.ActorAgent, ID: "agent1"}
	started, _ := sr.NewEvent(runID, 1, sr.EventRunStarted, actor, sr.RunStartedPayload{
		RunID: runID, SuiteID: suite.SuiteID, SuiteHash: suiteHash, CandidateID: "sha256:abc|cand_1",
	})
	if _, err := events.Append(ctx, runID, 0, []sr.EventEnvelope{started}); err != nil {
		t.Fatal(err)
	}

	runner := oracles.NewRunner(evStore, oracles.DefaultFlakePolicy(), t.TempDir())
	result, err := runner.RunSuite(ctx, runID, "sha256:abc|cand_1", suite)
	if err != nil {
		t.Fatal(err)
	}

	recorded, _ := sr.NewEvent(runID, 2, sr.EventEvidenceBundleRecorded, actor, sr.EvidenceBundleRecordedPayload{
		BundleHash: result.BundleHash, RunID: runID, CandidateID: "sha256:abc|cand_1", Verdict: string(result.Verdict),
	})
	completed, _ := sr.NewEvent(runID, 3, sr.EventRunCompleted, actor, sr.RunCompletedPayload{
		RunID: runID, Verdict: string(result.Verdict), BundleHash: result.BundleHash,
		EnvDigest: result.EnvironmentFingerprint,
	})
	if _, err := events.Append(ctx, runID, 1, []sr.EventEnvelope{recorded, completed}); err != nil {
		t.Fatal(err)
	}
	return runID
}

func TestCheckRunClean(t *testing.T) {
	events := inmemory.NewEventStore()
	evStore := inmemory.NewEvidenceStore()
	proj := inmemory.NewProjections()
	runID := completeRun(t, events, evStore, proj)

	checker := NewChecker(evStore, proj)
	violations, err := checker.CheckRun(ctx, runID, testSuite())
	if err != nil {
		t.Fatalf("CheckRun failed: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("clean run reported violations: %+v", violations)
	}
}

func TestCheckRunEvidenceMissing(t *testing.T) {
	events := inmemory.NewEventStore()
	proj := inmemory.NewProjections()
	runID := completeRun(t, events, inmemory.NewEvidenceStore(), proj)

	// Point the checker at an empty store: the recorded bundle is gone.
	checker := NewChecker(inmemory.NewEvidenceStore(), proj)
	violations, err := checker.CheckRun(ctx, runID, testSuite())
	if err != nil {
		t.Fatalf("CheckRun failed: %v", err)
	}
	if len(violations) != 1 || violations[0].Condition != ConditionEvidenceMissing {
		t.Errorf("expected EVIDENCE_MISSING, got %+v", violations)
	}
}

func TestCheckBundleArtifactTamper(t *testing.T) {
	events := inmemory.NewEventStore()
	evStore := inmemory.NewEvidenceStore()
	proj := inmemory.NewProjections()
	events.AppendHook = func(e sr.EventEnvelope) {
		if err := proj.Apply(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	runID := sr.NewRunID()
	now := time.Now().UTC()
	manifest, blobs, err := evidence.NewBuilder(runID, "sha256:abc|cand_1", "suite_conformance", "sha256:0").
		SetWindow(now.Add(-time.Minute), now).
		SetEnvironmentFingerprint("os=linux;arch=amd64;network=none;image=;env=").
		AddResult(evidence.OracleResult{OracleID: "oracle_a", Name: "a", Status: evidence.StatusPass}).
		AddArtifact("oracle_a.log", "text/plain", "oracle output", []byte("all good\n")).
		Finalize()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := evidence.CanonicalJSON(manifest)
	if err != nil {
		t.Fatal(err)
	}

	// Swap the blob bytes under the unchanged manifest before storing.
	blobs["oracle_a.log"] = []byte("rewritten after the fact\n")
	bundleHash, err := evStore.Store(ctx, raw, blobs)
	if err != nil {
		t.Fatal(err)
	}

	actor := sr.ActorID{Kind: sr.ActorAgent, ID: "agent1"}
	started, _ := sr.NewEvent(runID, 1, sr.EventRunStarted, actor, sr.RunStartedPayload{
		RunID: runID, SuiteID: "suite_conformance", SuiteHash: "sha256:0", CandidateID: "sha256:abc|cand_1",
	})
	completed, _ := sr.NewEvent(runID, 2, sr.EventRunCompleted, actor, sr.RunCompletedPayload{
		RunID: runID, Verdict: string(manifest.Verdict), BundleHash: bundleHash,
	})
	if _, err := events.Append(ctx, runID, 0, []sr.EventEnvelope{started, completed}); err != nil {
		t.Fatal(err)
	}

	checker := NewChecker(evStore, proj)
	violations, err := checker.CheckRun(ctx, runID, nil)
	if err != nil {
		t.Fatalf("CheckRun failed: %v", err)
	}
	if len(violations) != 1 || violations[0].Condition != ConditionOracleTamper {
		t.Fatalf("expected one ORACLE_TAMPER, got %+v", violations)
	}
	if !strings.Contains(violations[0].Detail, "oracle_a.log") {
		t.Errorf("violation does not name the artifact: %s", violations[0].Detail)
	}
}

func TestCheckGap(t *testing.T) {
	suite := testSuite()
	results := []evidence.OracleResult{
		{OracleID: "oracle_a", Status: evidence.StatusPass},
	}
	violations := CheckGap("run_1", suite, results)
	if len(violations) != 1 || violations[0].Condition != ConditionOracleGap {
		t.Fatalf("expected one ORACLE_GAP, got %+v", violations)
	}

	// A skipped required oracle is still a gap.
	results = append(results, evidence.OracleResult{OracleID: "oracle_b", Status: evidence.StatusSkipped})
	if got := CheckGap("run_1", suite, results); len(got) != 1 {
		t.Errorf("skipped required oracle should be a gap, got %+v", got)
	}

	results[1].Status = evidence.StatusFail
	if got := CheckGap("run_1", suite, results); len(got) != 0 {
		t.Errorf("failing result still covers the oracle, got %+v", got)
	}
}

func TestCheckEnvironment(t *testing.T) {
	suite := testSuite()
	good := oracles.Fingerprint(suite.Environment)
	if got := CheckEnvironment("run_1", suite, good); len(got) != 0 {
		t.Errorf("matching fingerprint flagged: %+v", got)
	}
	if got := CheckEnvironment("run_1", suite, "os=plan9;arch=mips"); len(got) != 1 ||
		got[0].Condition != ConditionOracleEnvMismatch {
		t.Errorf("expected ORACLE_ENV_MISMATCH, got %+v", got)
	}
}

func TestRecommendStopTrigger(t *testing.T) {
	v := Violation{Condition: ConditionOracleFlake, RunID: "run_1", Detail: "oracle flipped"}
	trigger := RecommendStopTrigger(v)
	if trigger.Type != ConditionOracleFlake {
		t.Errorf("trigger type = %s", trigger.Type)
	}
	if !trigger.AllowRetry {
		t.Error("flakes should allow retry")
	}
	if trigger.RecommendedPortal != "INTEGRITY_REVIEW" {
		t.Errorf("portal = %s", trigger.RecommendedPortal)
	}

	tamper := RecommendStopTrigger(Violation{Condition: ConditionOracleTamper})
	if tamper.AllowRetry {
		t.Error("tamper must not allow retry")
	}
	if len(tamper.RequiredActions) == 0 {
		t.Error("tamper trigger should demand actions")
	}
}

func TestStopTriggerPortalRouting(t *testing.T) {
	// Portals come from the routing predicates, not per-condition constants.
	cases := map[string]string{
		ConditionOracleTamper:    "INTEGRITY_REVIEW",
		ConditionEvidenceMissing: "INTEGRITY_REVIEW",
		ConditionManifestInvalid: "INTEGRITY_REVIEW",
		"CUSTOM_CONDITION":       "OPERATOR_REVIEW",
	}
	for condition, portal := range cases {
		trigger := RecommendStopTrigger(Violation{Condition: condition, RunID: "run_1"})
		if trigger.RecommendedPortal != portal {
			t.Errorf("%s routed to %s, want %s", condition, trigger.RecommendedPortal, portal)
		}
	}
}
