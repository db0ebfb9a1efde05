package oracles

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/evidence"
	"github.com/solver-ralph/sr/inmemory"
)

var ctx = context.Background()

func testSuite() *SuiteDefinition {
	return &SuiteDefinition{
		SuiteID: "suite_conformance",
		Name:    "conformance",
		Version: "1.0.0",
		Oracles: []OracleDefinition{
			{ID: "oracle_true", Name: "always passes", Command: []string{"true"},
				Classification: ClassDeterministic, Required: true},
			{ID: "oracle_false", Name: "always fails", Command: []string{"false"},
				Classification: ClassDeterministic, Required: true},
		},
	}
}

func TestSuiteValidateAndHash(t *testing.T) {
	suite := testSuite()
	if err := suite.Validate(); err != nil {
		t.Fatalf("valid suite rejected: %v", err)
	}

	h1, err := suite.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(h1, "sha256:") {
		t.Errorf("hash missing prefix: %s", h1)
	}
	h2, _ := suite.Hash()
	if h1 != h2 {
		t.Error("suite hash is not deterministic")
	}

	suite.Version = "1.0.1"
	h3, _ := suite.Hash()
	if h3 == h1 {
		t.Error("hash should change with content")
	}

	bad := &SuiteDefinition{SuiteID: "s", Oracles: []OracleDefinition{{ID: "a", Command: []string{"true"}}, {ID: "a", Command: []string{"true"}}}}
	if err := bad.Validate(); err == nil {
		t.Error("duplicate oracle ids accepted")
	}
	if err := (&SuiteDefinition{SuiteID: "s"}).Validate(); err == nil {
		t.Error("empty suite accepted")
	}
}

func TestRequiredOracleIDs(t *testing.T) {
	suite := testSuite()
	suite.Oracles = append(suite.Oracles, OracleDefinition{
		ID: "oracle_opt", Name: "optional", Command: []string{"true"}, Required: false,
	})
	required := suite.RequiredOracleIDs()
	if len(required) != 2 {
		t.Errorf("expected 2 required oracles, got %v", required)
	}
}

func TestRunWithRetryRecordsAttempts(t *testing.T) {
	policy := FlakePolicy{MaxRetries: 3, Backoff: time.Millisecond}
	calls := 0
	result, attempts := RunWithRetry(ctx, policy, func(context.Context) evidence.OracleResult {
		calls++
		if calls < 3 {
			return evidence.OracleResult{OracleID: "o", Status: evidence.StatusError, ErrorMessage: "transient"}
		}
		return evidence.OracleResult{OracleID: "o", Status: evidence.StatusPass}
	})
	if result.Status != evidence.StatusPass {
		t.Errorf("final status = %s, want PASS", result.Status)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", len(attempts))
	}
	if attempts[0].Status != evidence.StatusError || attempts[2].Status != evidence.StatusPass {
		t.Errorf("attempt record wrong: %+v", attempts)
	}
}

func TestRunWithRetryDoesNotRetryFailByDefault(t *testing.T) {
	calls := 0
	_, attempts := RunWithRetry(ctx, DefaultFlakePolicy(), func(context.Context) evidence.OracleResult {
		calls++
		return evidence.OracleResult{OracleID: "o", Status: evidence.StatusFail}
	})
	if calls != 1 || len(attempts) != 1 {
		t.Errorf("FAIL was retried: %d calls", calls)
	}
}

func TestIsFlaky(t *testing.T) {
	flaky := []Attempt{
		{Number: 1, Status: evidence.StatusFail},
		{Number: 2, Status: evidence.StatusPass},
	}
	if !IsFlaky(flaky) {
		t.Error("pass/fail flip not detected as flaky")
	}
	steady := []Attempt{
		{Number: 1, Status: evidence.StatusError},
		{Number: 2, Status: evidence.StatusPass},
	}
	if IsFlaky(steady) {
		t.Error("error-then-pass is recovery, not flake")
	}
}

func TestRunnerRunSuite(t *testing.T) {
	store := inmemory.NewEvidenceStore()
	runner := NewRunner(store, DefaultFlakePolicy(), t.TempDir())

	runID := sr.NewRunID()
	result, err := runner.RunSuite(ctx, runID, "sha256:abc|cand_1", testSuite())
	if err != nil {
		t.Fatalf("RunSuite failed: %v", err)
	}
	// One passing and one failing oracle: the run verdict is FAIL.
	if result.Verdict != evidence.VerdictFail {
		t.Errorf("verdict = %s, want FAIL", result.Verdict)
	}
	if result.BundleHash == "" {
		t.Fatal("no bundle hash returned")
	}

	exists, err := store.Exists(ctx, result.BundleHash)
	if err != nil || !exists {
		t.Fatalf("bundle not stored: exists=%v err=%v", exists, err)
	}
	manifestJSON, err := store.Retrieve(ctx, result.BundleHash)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if !strings.Contains(string(manifestJSON), runID) {
		t.Error("manifest does not reference the run")
	}
	if _, err := store.RetrieveBlob(ctx, result.BundleHash, "attempts.json"); err != nil {
		t.Errorf("attempts artifact missing: %v", err)
	}
}

type staticSuiteSource struct{ suite *SuiteDefinition }

func (s staticSuiteSource) GetSuite(ctx context.Context, suiteID string) (*SuiteDefinition, error) {
	return s.suite, nil
}

func TestWorkerHandle(t *testing.T) {
	events := inmemory.NewEventStore()
	evStore := inmemory.NewEvidenceStore()
	bus := inmemory.NewBus()
	runner := NewRunner(evStore, DefaultFlakePolicy(), t.TempDir())
	worker := NewWorker(bus, events, runner, staticSuiteSource{suite: testSuite()}, nil, 1)

	// Seed the run stream with RunStarted, as the API does on POST /runs.
	runID := sr.NewRunID()
	suiteHash, _ := testSuite().Hash()
	started, _ := sr.NewEvent(runID, 1, sr.EventRunStarted, sr.ActorID{Kind: sr.ActorAgent, ID: "agent1"}, sr.RunStartedPayload{
		RunID: runID, SuiteID: "suite_conformance", SuiteHash: suiteHash, CandidateID: "sha256:abc|cand_1",
	})
	if _, err := events.Append(ctx, runID, 0, []sr.EventEnvelope{started}); err != nil {
		t.Fatal(err)
	}

	cmd := RunCommand{RunID: runID, CandidateID: "sha256:abc|cand_1", SuiteID: "suite_conformance", CommandID: "cmd_1"}
	payload, _ := json.Marshal(cmd)
	if err := worker.Handle(ctx, payload); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	all, err := events.ReadStream(ctx, runID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events on the run stream, got %d", len(all))
	}
	if all[1].EventType != sr.EventEvidenceBundleRecorded || all[2].EventType != sr.EventRunCompleted {
		t.Errorf("unexpected event order: %s, %s", all[1].EventType, all[2].EventType)
	}
	if all[2].ActorKind != sr.ActorSystem {
		t.Error("run completion must be SYSTEM attributed")
	}
}
