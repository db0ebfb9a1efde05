package rest_api

import (
	"encoding/json"
	"net/http"

	log "log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/evidence"
	"github.com/solver-ralph/sr/governor"
	"github.com/solver-ralph/sr/integrity"
	"github.com/solver-ralph/sr/oracles"
	"github.com/solver-ralph/sr/policy"
)

type createRunRequest struct {
	CandidateID string `json:"candidate_id" binding:"required"`
	SuiteID     string `json:"suite_id" binding:"required"`
}

// CreateRun appends RunStarted and dispatches the run command to an oracle
// worker over the bus. The worker reports back by appending to the same run
// stream.
func (a *API) CreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	candidate, err := a.Reads.GetCandidate(c.Request.Context(), req.CandidateID)
	if err != nil {
		writeError(c, err)
		return
	}
	suite, err := a.Suites.Get(c.Request.Context(), req.SuiteID)
	if err != nil {
		writeError(c, err)
		return
	}

	runID := sr.NewRunID()
	e, err := sr.NewEvent(runID, 1, sr.EventRunStarted, actorFrom(c), sr.RunStartedPayload{
		RunID:       runID,
		SuiteID:     suite.SuiteID,
		SuiteHash:   suite.SuiteHash,
		CandidateID: req.CandidateID,
		LoopID:      candidate.LoopID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	e.Refs = []sr.TypedRef{
		{Kind: sr.RefKindCandidate, ID: req.CandidateID, Rel: "verifies"},
		{Kind: sr.RefKindOracleSuite, ID: suite.SuiteID, Rel: "executes"},
	}
	if _, err := a.Store.Append(c.Request.Context(), runID, 0, []sr.EventEnvelope{e}); err != nil {
		writeError(c, err)
		return
	}

	command := oracles.RunCommand{
		RunID:       runID,
		CandidateID: req.CandidateID,
		SuiteID:     suite.SuiteID,
		CommandID:   uuid.NewString(),
	}
	payload, err := json.Marshal(command)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := a.Bus.Publish(c.Request.Context(), sr.SubjectRunOracleCommand, payload); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"run_id":     runID,
		"suite_id":   suite.SuiteID,
		"suite_hash": suite.SuiteHash,
		"state":      sr.RunStarted,
	})
}

func (a *API) GetRun(c *gin.Context) {
	run, err := a.Reads.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (a *API) ListRuns(c *gin.Context) {
	runs, err := a.Reads.ListRuns(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

type completeRunRequest struct {
	Verdict      string `json:"verdict" binding:"required"`
	BundleHash   string `json:"bundle_hash"`
	EnvDigest    string `json:"env_digest"`
	AttemptCount int    `json:"attempt_count"`
	// Waivers are applied to failed results when computing the candidate's
	// verification. Non-waivable conditions ignore them.
	Waivers []policy.Waiver `json:"waivers"`
}

// CompleteRun records the outcome of a run executed outside a worker. Runs
// complete exactly once.
func (a *API) CompleteRun(c *gin.Context) {
	var req completeRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	runID := c.Param("id")
	run, err := a.Reads.GetRun(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err)
		return
	}
	if run.State != sr.RunStarted {
		writeError(c, sr.TransitionError(string(run.State), "Complete"))
		return
	}
	version, err := a.streamVersion(c, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	e, err := sr.NewEvent(runID, version+1, sr.EventRunCompleted, actorFrom(c), sr.RunCompletedPayload{
		RunID:        runID,
		Verdict:      req.Verdict,
		BundleHash:   req.BundleHash,
		EnvDigest:    req.EnvDigest,
		AttemptCount: req.AttemptCount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if req.BundleHash != "" {
		e.Refs = []sr.TypedRef{{Kind: sr.RefKindEvidenceBundle, ID: req.BundleHash, Rel: "evidenced_by"}}
	}
	if _, err := a.Store.Append(c.Request.Context(), runID, version, []sr.EventEnvelope{e}); err != nil {
		writeError(c, err)
		return
	}

	// Integrity checks run against the outcome just recorded, not the read
	// models, which may still trail this append. A violation pauses the
	// owning loop; the candidate is not verified off tainted evidence.
	completed := *run
	completed.State = sr.RunCompleted
	completed.Verdict = req.Verdict
	completed.BundleHash = req.BundleHash
	completed.EnvDigest = req.EnvDigest
	violations := a.checkIntegrity(c, &completed)
	if len(violations) > 0 {
		a.recordEvidenceMissing(c, &completed, violations)
		triggerID := a.stopForViolation(c, run.LoopID, violations[0])
		c.JSON(http.StatusOK, gin.H{
			"run_id":     runID,
			"verdict":    req.Verdict,
			"violations": violations,
			"trigger_id": triggerID,
		})
		return
	}

	verification := a.computeVerification(c, run, req, e.EventID)
	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"verdict":      req.Verdict,
		"verification": verification,
	})
}

// checkIntegrity re-verifies the completed run's evidence. Check failures are
// logged, not surfaced: the run completion itself already committed.
func (a *API) checkIntegrity(c *gin.Context, run *sr.RunProjection) []integrity.Violation {
	definition := a.suiteDefinition(c, run.SuiteID)
	checker := integrity.NewChecker(a.Evidence, a.Reads)
	violations, err := checker.CheckBundle(c.Request.Context(), run, definition)
	if err != nil {
		log.Warn("integrity check failed", "run_id", run.RunID, "error", err)
		return nil
	}
	return violations
}

// recordEvidenceMissing appends EvidenceMissingDetected to the run stream when
// a completed run has no retrievable bundle. Best effort; the stop trigger is
// what actually halts the loop.
func (a *API) recordEvidenceMissing(c *gin.Context, run *sr.RunProjection, violations []integrity.Violation) {
	for _, v := range violations {
		if v.Condition != integrity.ConditionEvidenceMissing {
			continue
		}
		version, err := a.streamVersion(c, run.RunID)
		if err != nil {
			log.Warn("evidence gap not recorded", "run_id", run.RunID, "error", err)
			return
		}
		e, err := sr.NewEvent(run.RunID, version+1, sr.EventEvidenceMissing,
			sr.ActorID{Kind: sr.ActorSystem, ID: "sr-integrity"}, sr.EvidenceMissingDetectedPayload{
				RunID:  run.RunID,
				LoopID: run.LoopID,
				Detail: v.Detail,
			})
		if err != nil {
			log.Warn("evidence gap not recorded", "run_id", run.RunID, "error", err)
			return
		}
		if _, err := a.Store.Append(c.Request.Context(), run.RunID, version, []sr.EventEnvelope{e}); err != nil {
			log.Warn("evidence gap not recorded", "run_id", run.RunID, "error", err)
		}
		return
	}
}

// stopForViolation pauses the loop with a stop trigger recommended for the
// violation. Returns the trigger id, or empty when the pause could not land
// (the loop may already be paused).
func (a *API) stopForViolation(c *gin.Context, loopID string, v integrity.Violation) string {
	trigger := integrity.RecommendStopTrigger(v)
	triggerID, err := governor.TriggerStop(c.Request.Context(), a.Store, a.Reads, loopID,
		trigger, sr.ActorID{Kind: sr.ActorSystem, ID: "sr-integrity"})
	if err != nil {
		log.Warn("stop trigger not recorded", "loop_id", loopID, "condition", v.Condition, "error", err)
		return ""
	}
	log.Info("loop paused on integrity violation",
		"loop_id", loopID, "condition", v.Condition, "trigger_id", triggerID)
	return triggerID
}

// suiteDefinition resolves the registered definition, or nil when the suite
// cannot be decoded. Gap and environment checks are skipped without one.
func (a *API) suiteDefinition(c *gin.Context, suiteID string) *oracles.SuiteDefinition {
	record, err := a.Suites.Get(c.Request.Context(), suiteID)
	if err != nil {
		return nil
	}
	var definition oracles.SuiteDefinition
	if err := json.Unmarshal(record.Definition, &definition); err != nil {
		return nil
	}
	return &definition
}

// computeVerification derives the candidate's verification from the completed
// run and appends CandidateVerificationComputed. When the run recorded an
// evidence bundle the manifest results decide; a bare verdict decides
// otherwise. Failures here are reported but do not undo the completed run.
func (a *API) computeVerification(c *gin.Context, run *sr.RunProjection, req completeRunRequest, causationID string) *policy.Verification {
	verification := &policy.Verification{Status: policy.StatusFailed}
	if req.Verdict == string(evidence.VerdictPass) {
		verification.Status = policy.StatusVerified
	}

	if req.BundleHash != "" {
		raw, err := a.Evidence.Retrieve(c.Request.Context(), req.BundleHash)
		if err == nil {
			var manifest evidence.Manifest
			if json.Unmarshal(raw, &manifest) == nil {
				var requiredIDs []string
				if definition := a.suiteDefinition(c, run.SuiteID); definition != nil {
					requiredIDs = definition.RequiredOracleIDs()
				}
				if computed, err := policy.ComputeVerification(
					run.SuiteID, "gate", manifest.Results, requiredIDs, req.Waivers); err == nil {
					verification = computed
				}
			}
		}
	}

	candidateVersion, err := a.streamVersion(c, run.CandidateID)
	if err != nil {
		log.Warn("verification not recorded", "candidate_id", run.CandidateID, "error", err)
		return verification
	}
	e, err := sr.NewEvent(run.CandidateID, candidateVersion+1, sr.EventCandidateVerificationComputed,
		actorFrom(c), sr.CandidateVerificationComputedPayload{
			CandidateID:    run.CandidateID,
			Status:         verification.Status,
			WaiversApplied: verification.WaiversApplied,
		})
	if err != nil {
		log.Warn("verification not recorded", "candidate_id", run.CandidateID, "error", err)
		return verification
	}
	e.CausationID = causationID
	e.Refs = []sr.TypedRef{{Kind: sr.RefKindRun, ID: run.RunID, Rel: "verified_by"}}
	if _, err := a.Store.Append(c.Request.Context(), run.CandidateID, candidateVersion, []sr.EventEnvelope{e}); err != nil {
		log.Warn("verification not recorded", "candidate_id", run.CandidateID, "error", err)
	}
	return verification
}
