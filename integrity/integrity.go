// Package integrity re-verifies completed runs. Its conditions are
// non-waivable: a violation always yields a stop trigger recommendation, and
// no policy waiver can cover one.
package integrity

import (
	"context"
	"encoding/json"
	"fmt"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/evidence"
	"github.com/solver-ralph/sr/governor"
	"github.com/solver-ralph/sr/oracles"
	"github.com/solver-ralph/sr/policy"
)

// Condition names. These map one-to-one onto stop trigger types.
const (
	ConditionOracleTamper      = "ORACLE_TAMPER"
	ConditionOracleGap         = "ORACLE_GAP"
	ConditionOracleEnvMismatch = "ORACLE_ENV_MISMATCH"
	ConditionOracleFlake       = "ORACLE_FLAKE"
	ConditionEvidenceMissing   = "EVIDENCE_MISSING"
	ConditionManifestInvalid   = "MANIFEST_INVALID"
)

// Violation is one detected integrity condition on a run.
type Violation struct {
	Condition string `json:"condition"`
	RunID     string `json:"run_id"`
	Detail    string `json:"detail"`
}

// Checker re-verifies completed runs against their stored evidence.
type Checker struct {
	store sr.EvidenceStore
	reads sr.Projections
}

func NewChecker(store sr.EvidenceStore, reads sr.Projections) *Checker {
	return &Checker{store: store, reads: reads}
}

// CheckRun runs every integrity check against a completed run and returns the
// violations found. A nil slice means the run is clean.
func (c *Checker) CheckRun(ctx context.Context, runID string, suite *oracles.SuiteDefinition) ([]Violation, error) {
	run, err := c.reads.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return c.CheckBundle(ctx, run, suite)
}

// CheckBundle checks a run against its stored evidence given a run view the
// caller already holds, so a command handler can check before its own append
// has reached the read models.
func (c *Checker) CheckBundle(ctx context.Context, run *sr.RunProjection, suite *oracles.SuiteDefinition) ([]Violation, error) {
	runID := run.RunID
	if run.BundleHash == "" {
		return []Violation{{
			Condition: ConditionEvidenceMissing,
			RunID:     runID,
			Detail:    "completed run has no evidence bundle recorded",
		}}, nil
	}

	exists, err := c.store.Exists(ctx, run.BundleHash)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []Violation{{
			Condition: ConditionEvidenceMissing,
			RunID:     runID,
			Detail:    fmt.Sprintf("bundle %s is not in the evidence store", run.BundleHash),
		}}, nil
	}

	manifestJSON, err := c.store.Retrieve(ctx, run.BundleHash)
	if err != nil {
		return nil, err
	}
	var manifest evidence.Manifest
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return []Violation{{
			Condition: ConditionManifestInvalid,
			RunID:     runID,
			Detail:    fmt.Sprintf("stored manifest does not parse: %v", err),
		}}, nil
	}

	var violations []Violation
	if err := manifest.Validate(); err != nil {
		violations = append(violations, Violation{
			Condition: ConditionManifestInvalid,
			RunID:     runID,
			Detail:    err.Error(),
		})
	}
	violations = append(violations, checkTamper(runID, run, &manifest, manifestJSON)...)
	artifactViolations, err := c.checkArtifacts(ctx, runID, run.BundleHash, &manifest)
	if err != nil {
		return nil, err
	}
	violations = append(violations, artifactViolations...)
	if suite != nil {
		violations = append(violations, CheckGap(runID, suite, manifest.Results)...)
		violations = append(violations, CheckEnvironment(runID, suite, manifest.EnvironmentFingerprint)...)
	}
	flakes, err := c.checkFlake(ctx, runID, run.BundleHash)
	if err != nil {
		return nil, err
	}
	violations = append(violations, flakes...)
	return violations, nil
}

// checkTamper recomputes what the stored bytes say against what the event log
// recorded for the run.
func checkTamper(runID string, run *sr.RunProjection, manifest *evidence.Manifest, manifestJSON []byte) []Violation {
	var violations []Violation
	if manifest.RunID != runID {
		violations = append(violations, Violation{
			Condition: ConditionOracleTamper,
			RunID:     runID,
			Detail:    fmt.Sprintf("stored manifest belongs to run %s", manifest.RunID),
		})
	}
	if run.Verdict != "" && string(manifest.Verdict) != run.Verdict {
		violations = append(violations, Violation{
			Condition: ConditionOracleTamper,
			RunID:     runID,
			Detail: fmt.Sprintf("recorded verdict %s disagrees with stored manifest verdict %s",
				run.Verdict, manifest.Verdict),
		})
	}
	if computed := evidence.ComputeVerdict(manifest.Results); computed != manifest.Verdict {
		violations = append(violations, Violation{
			Condition: ConditionOracleTamper,
			RunID:     runID,
			Detail:    fmt.Sprintf("manifest verdict %s does not follow from its results (%s)", manifest.Verdict, computed),
		})
	}
	return violations
}

// checkArtifacts re-hashes every stored blob against the hash the manifest
// declares for it. A blob swapped under an unchanged manifest is tampering.
func (c *Checker) checkArtifacts(ctx context.Context, runID, bundleHash string, manifest *evidence.Manifest) ([]Violation, error) {
	var violations []Violation
	for _, artifact := range manifest.Artifacts {
		blob, err := c.store.RetrieveBlob(ctx, bundleHash, artifact.Name)
		if err != nil {
			if sr.CodeOf(err) == sr.EvidenceNotFound {
				violations = append(violations, Violation{
					Condition: ConditionEvidenceMissing,
					RunID:     runID,
					Detail:    fmt.Sprintf("artifact %s is not in the stored bundle", artifact.Name),
				})
				continue
			}
			return nil, err
		}
		if computed := sr.ContentHash(evidence.HashBlob(blob)); computed != artifact.ContentHash {
			violations = append(violations, Violation{
				Condition: ConditionOracleTamper,
				RunID:     runID,
				Detail: fmt.Sprintf("artifact %s hash mismatch: manifest %s, stored %s",
					artifact.Name, artifact.ContentHash, computed),
			})
		}
	}
	return violations, nil
}

// CheckGap verifies every required oracle of the suite has a result.
func CheckGap(runID string, suite *oracles.SuiteDefinition, results []evidence.OracleResult) []Violation {
	present := make(map[string]bool, len(results))
	for _, r := range results {
		if r.Status != evidence.StatusSkipped {
			present[r.OracleID] = true
		}
	}
	var violations []Violation
	for _, id := range suite.RequiredOracleIDs() {
		if !present[id] {
			violations = append(violations, Violation{
				Condition: ConditionOracleGap,
				RunID:     runID,
				Detail:    fmt.Sprintf("required oracle %s has no result", id),
			})
		}
	}
	return violations
}

// CheckEnvironment compares the run's recorded fingerprint against what the
// suite's constraints demand.
func CheckEnvironment(runID string, suite *oracles.SuiteDefinition, fingerprint string) []Violation {
	expected := oracles.Fingerprint(suite.Environment)
	if fingerprint == expected {
		return nil
	}
	return []Violation{{
		Condition: ConditionOracleEnvMismatch,
		RunID:     runID,
		Detail:    fmt.Sprintf("fingerprint %q does not match suite constraints %q", fingerprint, expected),
	}}
}

// checkFlake inspects the recorded attempts artifact for pass/fail flips.
func (c *Checker) checkFlake(ctx context.Context, runID, bundleHash string) ([]Violation, error) {
	raw, err := c.store.RetrieveBlob(ctx, bundleHash, "attempts.json")
	if err != nil {
		if sr.CodeOf(err) == sr.EvidenceNotFound {
			// No attempts artifact means no retries were recorded.
			return nil, nil
		}
		return nil, err
	}
	var attempts map[string][]oracles.Attempt
	if err := json.Unmarshal(raw, &attempts); err != nil {
		return []Violation{{
			Condition: ConditionManifestInvalid,
			RunID:     runID,
			Detail:    fmt.Sprintf("attempts artifact does not parse: %v", err),
		}}, nil
	}
	var violations []Violation
	for oracleID, tries := range attempts {
		if oracles.IsFlaky(tries) {
			violations = append(violations, Violation{
				Condition: ConditionOracleFlake,
				RunID:     runID,
				Detail:    fmt.Sprintf("oracle %s flipped between PASS and FAIL across %d attempts", oracleID, len(tries)),
			})
		}
	}
	return violations, nil
}

// stopRouter selects the portal a violation escalates to. The default rules
// send integrity conditions to integrity review; anything unmatched falls
// back to operator review.
var stopRouter = policy.DefaultRouter()

// RecommendStopTrigger turns a violation into the stop trigger that should
// pause the owning loop. Integrity conditions never allow waivers; retry is
// only offered for flakes, which a re-run can legitimately clear.
func RecommendStopTrigger(v Violation) governor.StopTrigger {
	portal, err := stopRouter.Portal(policy.Outcome{Condition: v.Condition})
	if err != nil {
		portal = "OPERATOR_REVIEW"
	}
	trigger := governor.StopTrigger{
		Type:              v.Condition,
		Reason:            v.Detail,
		RecommendedPortal: portal,
		AllowRetry:        v.Condition == ConditionOracleFlake,
	}
	switch v.Condition {
	case ConditionOracleTamper:
		trigger.RequiredActions = []string{"audit the evidence store", "re-run the oracle suite"}
	case ConditionOracleGap:
		trigger.RequiredActions = []string{"re-run the oracle suite with full coverage"}
	case ConditionOracleEnvMismatch:
		trigger.RequiredActions = []string{"rebuild the execution environment to the suite constraints"}
	case ConditionOracleFlake:
		trigger.RequiredActions = []string{"stabilize the flaky oracle", "re-run the oracle suite"}
	case ConditionEvidenceMissing:
		trigger.RequiredActions = []string{"locate or regenerate the evidence bundle"}
	case ConditionManifestInvalid:
		trigger.RequiredActions = []string{"regenerate the evidence bundle"}
	}
	return trigger
}
