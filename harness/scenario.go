package harness

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	log "log/slog"

	"github.com/solver-ralph/sr/evidence"
	"github.com/solver-ralph/sr/oracles"
)

// HappyPath runs the full governance flow against a live API and records
// every step and invariant in the transcript: create loop, activate, start
// iteration as SYSTEM, materialize a candidate, run the gate suite, store and
// verify evidence, complete the run and iteration, close the loop.
func HappyPath(ctx context.Context, client *Client, transcript *Transcript) error {
	loopID, err := client.CreateLoop(ctx, "harness happy path", "prove the governance flow end to end")
	if err != nil {
		transcript.Fail("create_loop", "create loop", err)
		return err
	}
	transcript.Record("create_loop", "create loop", loopID)

	state, err := client.TransitionLoop(ctx, loopID, "activate", "")
	if err != nil {
		transcript.Fail("activate_loop", "activate loop", err)
		return err
	}
	transcript.Record("activate_loop", "activate loop", loopID)
	transcript.Check("loop_activated", state == "ACTIVE", "state after activate: "+state)

	iterationID, err := client.StartIteration(ctx, loopID)
	if err != nil {
		transcript.Fail("start_iteration", "start iteration as SYSTEM", err)
		return err
	}
	transcript.Record("start_iteration", "start iteration as SYSTEM", iterationID)

	candidateID, err := client.CreateCandidate(ctx, iterationID, "a1b2c3d4", "f00dfeed")
	if err != nil {
		transcript.Fail("create_candidate", "materialize candidate", err)
		return err
	}
	transcript.Record("create_candidate", "materialize candidate", candidateID)

	suite := oracles.SuiteDefinition{
		SuiteID: "harness-gate",
		Name:    "harness gate suite",
		Oracles: []oracles.OracleDefinition{{
			ID:             "unit",
			Name:           "unit tests",
			Command:        []string{"true"},
			Classification: oracles.ClassDeterministic,
			Required:       true,
		}},
	}
	suiteHash, err := client.RegisterSuite(ctx, suite)
	if err != nil {
		transcript.Fail("register_suite", "register oracle suite", err)
		return err
	}
	transcript.Record("register_suite", "register oracle suite", suite.SuiteID)

	runID, err := client.CreateRun(ctx, candidateID, suite.SuiteID)
	if err != nil {
		transcript.Fail("create_run", "start oracle run", err)
		return err
	}
	transcript.Record("create_run", "start oracle run", runID)

	// Build and upload the gate packet for the run.
	now := time.Now().UTC()
	manifest, blobs, err := evidence.NewBuilder(runID, candidateID, suite.SuiteID, suiteHash).
		SetWindow(now.Add(-time.Second), now).
		SetEnvironmentFingerprint(oracles.Fingerprint(suite.Environment)).
		AddResult(evidence.OracleResult{OracleID: "unit", Name: "unit tests", Status: evidence.StatusPass}).
		AddArtifact("unit.log", "text/plain", "unit test log", []byte("all green\n")).
		Finalize()
	if err != nil {
		transcript.Fail("build_evidence", "build gate packet", err)
		return err
	}
	rawManifest, err := json.Marshal(manifest)
	if err != nil {
		transcript.Fail("build_evidence", "serialize gate packet", err)
		return err
	}
	encodedBlobs := make(map[string]string, len(blobs))
	for name, data := range blobs {
		encodedBlobs[name] = base64.StdEncoding.EncodeToString(data)
	}
	stored, err := client.StoreEvidence(ctx, rawManifest, encodedBlobs)
	if err != nil {
		transcript.Fail("store_evidence", "store gate packet", err)
		return err
	}
	transcript.Record("store_evidence", "store gate packet", stored.ContentHash)
	transcript.Check("evidence_has_size", stored.SizeBytes > 0,
		fmt.Sprintf("stored %d bytes", stored.SizeBytes))

	// Hash round-trip: the stored bundle must come back verbatim and verify.
	roundTrip, err := client.GetEvidence(ctx, stored.ContentHash)
	if err != nil {
		transcript.Fail("verify_evidence", "retrieve gate packet", err)
		return err
	}
	var retrieved evidence.Manifest
	if err := json.Unmarshal(roundTrip, &retrieved); err != nil {
		transcript.Fail("verify_evidence", "parse retrieved gate packet", err)
		return err
	}
	transcript.Check("evidence_round_trip", retrieved.BundleID == manifest.BundleID,
		"retrieved bundle "+retrieved.BundleID)
	verified, err := client.VerifyEvidence(ctx, stored.ContentHash)
	if err != nil {
		transcript.Fail("verify_evidence", "verify gate packet", err)
		return err
	}
	transcript.Check("evidence_verifies", verified.Valid, fmt.Sprintf("issues: %v", verified.Issues))
	transcript.Record("verify_evidence", "verify gate packet", stored.ContentHash)

	completed, err := client.CompleteRun(ctx, runID, string(evidence.VerdictPass), stored.ContentHash)
	if err != nil {
		transcript.Fail("complete_run", "complete oracle run", err)
		return err
	}
	transcript.Record("complete_run", "complete oracle run", runID)
	transcript.Check("run_verdict_pass", completed.Verdict == "PASS", "verdict "+completed.Verdict)
	transcript.Check("verification_computed",
		completed.Verification != nil && completed.Verification.Status == "VERIFIED",
		fmt.Sprintf("verification %+v", completed.Verification))

	candidate, err := client.GetCandidate(ctx, candidateID)
	if err != nil {
		transcript.Fail("check_candidate", "read candidate verification", err)
		return err
	}
	transcript.Check("candidate_verified", candidate.Verified, "candidate "+candidate.CandidateID)

	if err := client.CompleteIteration(ctx, iterationID, "COMPLETED", candidateID); err != nil {
		transcript.Fail("complete_iteration", "complete iteration", err)
		return err
	}
	transcript.Record("complete_iteration", "complete iteration", iterationID)

	state, err = client.TransitionLoop(ctx, loopID, "close", "happy path complete")
	if err != nil {
		transcript.Fail("close_loop", "close loop", err)
		return err
	}
	transcript.Record("close_loop", "close loop", loopID)
	transcript.Check("loop_closed", state == "CLOSED", "state after close: "+state)

	log.Info("happy path complete", "loop_id", loopID, "run_id", runID,
		"invariants", len(transcript.Invariants))
	return nil
}
