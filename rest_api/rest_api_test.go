package rest_api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/evidence"
	"github.com/solver-ralph/sr/governor"
	"github.com/solver-ralph/sr/inmemory"
	"github.com/solver-ralph/sr/oracles"
)

var ctx = context.Background()

const (
	humanToken  = "HUMAN:alice"
	systemToken = "SYSTEM:sr-governor"
)

type testEnv struct {
	router *gin.Engine
	store  *inmemory.EventStore
	proj   *inmemory.Projections
	evid   *inmemory.EvidenceStore
	bus    *inmemory.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := inmemory.NewEventStore()
	proj := inmemory.NewProjections()
	store.AppendHook = func(e sr.EventEnvelope) {
		if err := proj.Apply(ctx, e); err != nil {
			t.Fatalf("projection apply failed: %v", err)
		}
	}
	evid := inmemory.NewEvidenceStore()
	bus := inmemory.NewBus()
	api := &API{
		Store:    store,
		Reads:    proj,
		Evidence: evid,
		Suites:   inmemory.NewSuiteRegistry(),
		Bus:      bus,
		Governor: governor.New(store, proj, sr.SystemClock{}, 0, false),
		Clock:    sr.SystemClock{},
	}
	return &testEnv{
		router: NewRouter(api, InsecureProvider{}),
		store:  store,
		proj:   proj,
		evid:   evid,
		bus:    bus,
	}
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	env.router.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return body
}

func (env *testEnv) createLoop(t *testing.T) string {
	t.Helper()
	resp := env.do(t, http.MethodPost, "/api/v1/loops", humanToken,
		map[string]any{"title": "fix flaky gate", "goal": "green suite"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create loop: status %d body %s", resp.Code, resp.Body.String())
	}
	return decodeBody(t, resp)["loop_id"].(string)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	if resp := env.do(t, http.MethodGet, "/api/v1/loops", "", nil); resp.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status %d", resp.Code)
	}
	if resp := env.do(t, http.MethodGet, "/health", "", nil); resp.Code != http.StatusOK {
		t.Errorf("health should be open: status %d", resp.Code)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/info", "", nil); resp.Code != http.StatusOK {
		t.Errorf("info should be open: status %d", resp.Code)
	}
}

func TestLoopLifecycle(t *testing.T) {
	env := newTestEnv(t)
	loopID := env.createLoop(t)

	if resp := env.do(t, http.MethodGet, "/api/v1/loops/"+loopID, humanToken, nil); resp.Code != http.StatusOK {
		t.Fatalf("get loop: status %d", resp.Code)
	}

	if resp := env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/activate", humanToken, nil); resp.Code != http.StatusOK {
		t.Fatalf("activate: status %d body %s", resp.Code, resp.Body.String())
	}

	// Pausing a paused loop is rejected with 422.
	if resp := env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/pause", humanToken, nil); resp.Code != http.StatusOK {
		t.Fatalf("pause: status %d", resp.Code)
	}
	resp := env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/pause", humanToken, nil)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("double pause: status %d, want 422", resp.Code)
	}
	if decodeBody(t, resp)["code"] != "INVALID_TRANSITION" {
		t.Errorf("double pause code = %v", decodeBody(t, resp)["code"])
	}

	if resp := env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/resume", humanToken, nil); resp.Code != http.StatusOK {
		t.Fatalf("resume: status %d", resp.Code)
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/close", humanToken, nil); resp.Code != http.StatusOK {
		t.Fatalf("close: status %d", resp.Code)
	}

	loop, err := env.proj.GetLoop(ctx, loopID)
	if err != nil {
		t.Fatalf("GetLoop: %v", err)
	}
	if loop.State != sr.LoopClosed {
		t.Errorf("final state = %s", loop.State)
	}
}

// Transitions on a loop with more events than a single ReadStream page must
// still see the true head version, or every write 409s forever.
func TestLoopTransitionOnLongStream(t *testing.T) {
	env := newTestEnv(t)
	loopID := env.createLoop(t)
	env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/activate", humanToken, nil)

	// Grow the stream well past one page, ending in an ACTIVE state.
	actor := sr.ActorID{Kind: sr.ActorHuman, ID: "alice"}
	var batch []sr.EventEnvelope
	for i := 0; i < 1100; i++ {
		eventType := sr.EventLoopPaused
		if i%2 == 1 {
			eventType = sr.EventLoopResumed
		}
		e, err := sr.NewEvent(loopID, uint64(3+i), eventType, actor,
			sr.LoopTransitionPayload{Reason: "cycling"})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		batch = append(batch, e)
	}
	if _, err := env.store.Append(ctx, loopID, 2, batch); err != nil {
		t.Fatalf("append long stream: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/pause", humanToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("pause on long stream: status %d body %s", resp.Code, resp.Body.String())
	}
	loop, err := env.proj.GetLoop(ctx, loopID)
	if err != nil {
		t.Fatalf("GetLoop: %v", err)
	}
	if loop.State != sr.LoopPaused {
		t.Errorf("state after pause = %s", loop.State)
	}
}

func TestUnknownLoopIs404(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/loops/loop_missing", humanToken, nil)
	if resp.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", resp.Code)
	}
	if decodeBody(t, resp)["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", decodeBody(t, resp)["code"])
	}
}

func TestGovernorGatedStart(t *testing.T) {
	env := newTestEnv(t)
	loopID := env.createLoop(t)

	// Not ACTIVE yet: the governor refuses with the decision attached.
	resp := env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/start", humanToken, nil)
	if resp.Code != http.StatusPreconditionFailed {
		t.Fatalf("start before activate: status %d body %s", resp.Code, resp.Body.String())
	}

	env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/activate", humanToken, nil)
	resp = env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/start", humanToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("start: status %d body %s", resp.Code, resp.Body.String())
	}

	iterations, err := env.proj.ListIterations(ctx, loopID)
	if err != nil || len(iterations) != 1 {
		t.Fatalf("iterations = %v, err %v", iterations, err)
	}

	// The IterationStarted event is SYSTEM-attributed regardless of the caller.
	events, err := env.store.ReadStream(ctx, iterations[0].IterationID, 0, 0)
	if err != nil || len(events) != 1 {
		t.Fatalf("iteration stream: %v, err %v", events, err)
	}
	if events[0].ActorKind != sr.ActorSystem {
		t.Errorf("iteration started by %s, want SYSTEM", events[0].ActorKind)
	}

	// A second start is blocked while the iteration is incomplete.
	resp = env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/start", humanToken, nil)
	if resp.Code != http.StatusPreconditionFailed {
		t.Errorf("second start: status %d, want 412", resp.Code)
	}
}

func TestDirectIterationStartIsSystemOnly(t *testing.T) {
	env := newTestEnv(t)
	loopID := env.createLoop(t)
	env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/activate", humanToken, nil)

	resp := env.do(t, http.MethodPost, "/api/v1/iterations", humanToken, map[string]any{"loop_id": loopID})
	if resp.Code != http.StatusForbidden {
		t.Errorf("human direct start: status %d, want 403", resp.Code)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/iterations", systemToken, map[string]any{"loop_id": loopID})
	if resp.Code != http.StatusCreated {
		t.Errorf("system direct start: status %d body %s", resp.Code, resp.Body.String())
	}
}

func startIteration(t *testing.T, env *testEnv, loopID string) string {
	t.Helper()
	resp := env.do(t, http.MethodPost, "/api/v1/iterations", systemToken, map[string]any{"loop_id": loopID})
	if resp.Code != http.StatusCreated {
		t.Fatalf("start iteration: status %d body %s", resp.Code, resp.Body.String())
	}
	return decodeBody(t, resp)["iteration_id"].(string)
}

func TestCandidateAndRunFlow(t *testing.T) {
	env := newTestEnv(t)
	loopID := env.createLoop(t)
	env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/activate", humanToken, nil)
	iterationID := startIteration(t, env, loopID)

	resp := env.do(t, http.MethodPost, "/api/v1/candidates", humanToken, map[string]any{
		"iteration_id": iterationID,
		"git_sha":      "0123abcd",
		"content_hash": "deadbeef",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create candidate: status %d body %s", resp.Code, resp.Body.String())
	}
	candidateID := decodeBody(t, resp)["candidate_id"].(string)

	// Register a suite, then start a run against the candidate.
	suite := oracles.SuiteDefinition{
		SuiteID: "gate",
		Name:    "gate suite",
		Oracles: []oracles.OracleDefinition{{
			ID:             "unit",
			Name:           "unit tests",
			Command:        []string{"true"},
			Classification: oracles.ClassDeterministic,
			Required:       true,
		}},
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/oracle-suites", humanToken, suite); resp.Code != http.StatusCreated {
		t.Fatalf("register suite: status %d body %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodPost, "/api/v1/runs", humanToken, map[string]any{
		"candidate_id": candidateID,
		"suite_id":     "gate",
	})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("create run: status %d body %s", resp.Code, resp.Body.String())
	}
	runID := decodeBody(t, resp)["run_id"].(string)

	// The run command went out on the bus.
	found := false
	for _, m := range env.bus.Published {
		if m.Subject == sr.SubjectRunOracleCommand {
			found = true
		}
	}
	if !found {
		t.Error("no run command published")
	}

	// Completing without an evidence bundle is allowed but immediately flagged:
	// EVIDENCE_MISSING pauses the loop and no verification is computed.
	resp = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/complete", systemToken, map[string]any{
		"verdict": "PASS",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("complete run: status %d body %s", resp.Code, resp.Body.String())
	}
	completion := decodeBody(t, resp)
	if completion["violations"] == nil {
		t.Error("bundle-less completion reported no violations")
	}
	if completion["verification"] != nil {
		t.Error("verification computed despite missing evidence")
	}
	loop, err := env.proj.GetLoop(ctx, loopID)
	if err != nil {
		t.Fatalf("get loop: %v", err)
	}
	if loop.State != sr.LoopPaused {
		t.Errorf("loop state = %s, want PAUSED", loop.State)
	}
	triggers, err := env.proj.ListStopTriggers(ctx, loopID, true)
	if err != nil {
		t.Fatalf("list stop triggers: %v", err)
	}
	if len(triggers) != 1 || triggers[0].Type != "EVIDENCE_MISSING" {
		t.Errorf("stop triggers = %+v, want one EVIDENCE_MISSING", triggers)
	}
	runEvents, err := env.store.ReadStream(ctx, runID, 0, 0)
	if err != nil {
		t.Fatalf("read run stream: %v", err)
	}
	foundGap := false
	for _, e := range runEvents {
		if e.EventType == sr.EventEvidenceMissing {
			foundGap = true
		}
	}
	if !foundGap {
		t.Error("EvidenceMissingDetected not recorded on the run stream")
	}
	// Completing twice is invalid.
	resp = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/complete", systemToken, map[string]any{
		"verdict": "PASS",
	})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("double complete: status %d, want 422", resp.Code)
	}
}

func TestEvidenceStoreAndVerify(t *testing.T) {
	env := newTestEnv(t)
	loopID := env.createLoop(t)
	env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/activate", humanToken, nil)
	iterationID := startIteration(t, env, loopID)

	resp := env.do(t, http.MethodPost, "/api/v1/candidates", humanToken, map[string]any{
		"iteration_id": iterationID,
		"content_hash": "cafe",
	})
	candidateID := decodeBody(t, resp)["candidate_id"].(string)

	runID := sr.NewRunID()
	started, _ := sr.NewEvent(runID, 1, sr.EventRunStarted, governor.SystemActor, sr.RunStartedPayload{
		RunID: runID, SuiteID: "gate", SuiteHash: "sha256:0", CandidateID: candidateID, LoopID: loopID,
	})
	if _, err := env.store.Append(ctx, runID, 0, []sr.EventEnvelope{started}); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	now := time.Now().UTC()
	manifest, blobs, err := evidence.NewBuilder(runID, candidateID, "gate", "sha256:0").
		SetWindow(now.Add(-time.Minute), now).
		SetEnvironmentFingerprint("os=linux;arch=amd64;network=none;image=;env=").
		AddResult(evidence.OracleResult{OracleID: "unit", Name: "unit tests", Status: evidence.StatusPass}).
		AddArtifact("unit.log", "text/plain", "test log", []byte("ok\n")).
		Finalize()
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	rawManifest, _ := json.Marshal(manifest)
	encodedBlobs := make(map[string]string, len(blobs))
	for name, data := range blobs {
		encodedBlobs[name] = base64.StdEncoding.EncodeToString(data)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/evidence", systemToken, map[string]any{
		"manifest": json.RawMessage(rawManifest),
		"blobs":    encodedBlobs,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("store evidence: status %d body %s", resp.Code, resp.Body.String())
	}
	body := decodeBody(t, resp)
	contentHash := body["content_hash"].(string)
	if body["size_bytes"].(float64) <= 0 {
		t.Error("size_bytes not reported")
	}

	resp = env.do(t, http.MethodGet, "/api/v1/evidence/"+contentHash, humanToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get evidence: status %d", resp.Code)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/evidence/"+contentHash+"/verify", humanToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("verify evidence: status %d", resp.Code)
	}
	verify := decodeBody(t, resp)
	if verify["valid"] != true {
		t.Errorf("bundle reported invalid: %v", verify["issues"])
	}

	resp = env.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/evidence", humanToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("run evidence: status %d body %s", resp.Code, resp.Body.String())
	}

	if resp := env.do(t, http.MethodGet, "/api/v1/evidence/0000/verify", humanToken, nil); resp.Code != http.StatusNotFound {
		t.Errorf("missing bundle verify: status %d, want 404", resp.Code)
	}
}

// A failed required oracle covered by a request-supplied waiver verifies the
// candidate with waivers instead of failing it.
func TestCompleteRunAppliesWaivers(t *testing.T) {
	env := newTestEnv(t)
	loopID := env.createLoop(t)
	env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/activate", humanToken, nil)
	iterationID := startIteration(t, env, loopID)

	resp := env.do(t, http.MethodPost, "/api/v1/candidates", humanToken, map[string]any{
		"iteration_id": iterationID,
		"content_hash": "beef",
	})
	candidateID := decodeBody(t, resp)["candidate_id"].(string)

	suite := oracles.SuiteDefinition{
		SuiteID: "gate",
		Name:    "gate suite",
		Oracles: []oracles.OracleDefinition{{
			ID:             "unit",
			Name:           "unit tests",
			Command:        []string{"true"},
			Classification: oracles.ClassDeterministic,
			Required:       true,
		}},
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/oracle-suites", humanToken, suite); resp.Code != http.StatusCreated {
		t.Fatalf("register suite: status %d body %s", resp.Code, resp.Body.String())
	}
	resp = env.do(t, http.MethodPost, "/api/v1/runs", humanToken, map[string]any{
		"candidate_id": candidateID,
		"suite_id":     "gate",
	})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("create run: status %d body %s", resp.Code, resp.Body.String())
	}
	created := decodeBody(t, resp)
	runID := created["run_id"].(string)
	suiteHash := created["suite_hash"].(string)

	now := time.Now().UTC()
	manifest, blobs, err := evidence.NewBuilder(runID, candidateID, "gate", suiteHash).
		SetWindow(now.Add(-time.Minute), now).
		SetEnvironmentFingerprint(oracles.Fingerprint(suite.Environment)).
		AddResult(evidence.OracleResult{OracleID: "unit", Name: "unit tests", Status: evidence.StatusFail}).
		AddArtifact("unit.log", "text/plain", "test log", []byte("1 test failed\n")).
		Finalize()
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	rawManifest, _ := json.Marshal(manifest)
	encodedBlobs := make(map[string]string, len(blobs))
	for name, data := range blobs {
		encodedBlobs[name] = base64.StdEncoding.EncodeToString(data)
	}
	resp = env.do(t, http.MethodPost, "/api/v1/evidence", systemToken, map[string]any{
		"manifest": json.RawMessage(rawManifest),
		"blobs":    encodedBlobs,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("store evidence: status %d body %s", resp.Code, resp.Body.String())
	}
	bundleHash := decodeBody(t, resp)["content_hash"].(string)

	resp = env.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/complete", systemToken, map[string]any{
		"verdict":     string(manifest.Verdict),
		"bundle_hash": bundleHash,
		"waivers": []map[string]any{{
			"waiver_id":     "wv-unit-known-failure",
			"justification": "regression tracked elsewhere",
			"applicability": `oracle_id == "unit"`,
			"granted_by":    "alice",
		}},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("complete run: status %d body %s", resp.Code, resp.Body.String())
	}
	completion := decodeBody(t, resp)
	if completion["violations"] != nil {
		t.Fatalf("unexpected violations: %v", completion["violations"])
	}
	verification, ok := completion["verification"].(map[string]any)
	if !ok {
		t.Fatalf("no verification in response: %v", completion)
	}
	if verification["status"] != "VERIFIED_WITH_WAIVERS" {
		t.Errorf("verification status = %v, want VERIFIED_WITH_WAIVERS", verification["status"])
	}
	applied, _ := verification["waivers_applied"].([]any)
	if len(applied) != 1 || applied[0] != "wv-unit-known-failure" {
		t.Errorf("waivers_applied = %v", applied)
	}
}

func TestInvalidManifestRejected(t *testing.T) {
	env := newTestEnv(t)
	manifest := map[string]any{
		"version":       "1",
		"artifact_type": "evidence.gate_packet",
		// missing ids and results
	}
	raw, _ := json.Marshal(manifest)
	resp := env.do(t, http.MethodPost, "/api/v1/evidence", systemToken, map[string]any{
		"manifest": json.RawMessage(raw),
	})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("invalid manifest: status %d, want 400", resp.Code)
	}
}

func TestApprovalsAreHumanOnly(t *testing.T) {
	env := newTestEnv(t)
	loopID := env.createLoop(t)

	body := map[string]any{
		"loop_id":     loopID,
		"portal_kind": "OPERATOR_REVIEW",
		"decision":    "APPROVED",
		"rationale":   "reviewed the evidence",
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/approvals", systemToken, body); resp.Code != http.StatusForbidden {
		t.Errorf("system approval: status %d, want 403", resp.Code)
	}
	resp := env.do(t, http.MethodPost, "/api/v1/approvals", humanToken, body)
	if resp.Code != http.StatusCreated {
		t.Fatalf("human approval: status %d body %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodGet, "/api/v1/portals/OPERATOR_REVIEW/approvals", humanToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("portal approvals: status %d", resp.Code)
	}
	approvals := decodeBody(t, resp)["approvals"].([]any)
	if len(approvals) != 1 {
		t.Errorf("portal approvals = %d, want 1", len(approvals))
	}
}

func TestDecisionWithResume(t *testing.T) {
	env := newTestEnv(t)
	loopID := env.createLoop(t)
	env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/activate", humanToken, nil)
	env.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/pause", humanToken, nil)

	resp := env.do(t, http.MethodPost, "/api/v1/decisions", humanToken, map[string]any{
		"loop_id": loopID,
		"kind":    "RESUME_AFTER_REVIEW",
		"resume":  true,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("decision: status %d body %s", resp.Code, resp.Body.String())
	}

	loop, err := env.proj.GetLoop(ctx, loopID)
	if err != nil {
		t.Fatalf("GetLoop: %v", err)
	}
	if loop.State != sr.LoopActive {
		t.Errorf("state after resume decision = %s", loop.State)
	}

	// Resuming an already active loop via decision is rejected.
	resp = env.do(t, http.MethodPost, "/api/v1/decisions", humanToken, map[string]any{
		"loop_id": loopID,
		"kind":    "RESUME_AFTER_REVIEW",
		"resume":  true,
	})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("resume active loop: status %d, want 422", resp.Code)
	}
}

func TestSuitePinning(t *testing.T) {
	env := newTestEnv(t)
	suite := oracles.SuiteDefinition{
		SuiteID: "gate",
		Name:    "gate suite",
		Oracles: []oracles.OracleDefinition{{
			ID:             "unit",
			Name:           "unit tests",
			Command:        []string{"true"},
			Classification: oracles.ClassDeterministic,
			Required:       true,
		}},
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/oracle-suites", humanToken, suite); resp.Code != http.StatusCreated {
		t.Fatalf("register: status %d", resp.Code)
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/oracle-suites/gate/pin", humanToken, nil); resp.Code != http.StatusOK {
		t.Fatalf("pin: status %d", resp.Code)
	}

	// Re-registering the pinned suite with different content conflicts.
	suite.Oracles[0].Command = []string{"false"}
	resp := env.do(t, http.MethodPost, "/api/v1/oracle-suites", humanToken, suite)
	if resp.Code != http.StatusConflict {
		t.Errorf("pinned re-register: status %d, want 409", resp.Code)
	}
}
