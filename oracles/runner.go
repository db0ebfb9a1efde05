package oracles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	log "log/slog"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/evidence"
)

// RunResult is what a full suite execution produces: the stored bundle, its
// verdict, and the recorded attempts per oracle.
type RunResult struct {
	RunID                  string                  `json:"run_id"`
	BundleHash             string                  `json:"bundle_hash"`
	Verdict                evidence.Verdict        `json:"verdict"`
	EnvironmentFingerprint string                  `json:"environment_fingerprint"`
	Attempts               map[string][]Attempt    `json:"attempts"`
	Results                []evidence.OracleResult `json:"results"`
}

// Runner executes suites locally via os/exec and stores the evidence bundle.
type Runner struct {
	store   sr.EvidenceStore
	policy  FlakePolicy
	workDir string
	// defaultTimeout applies to oracles that don't declare one.
	defaultTimeout time.Duration
}

func NewRunner(store sr.EvidenceStore, policy FlakePolicy, workDir string) *Runner {
	return &Runner{
		store:          store,
		policy:         policy,
		workDir:        workDir,
		defaultTimeout: 5 * time.Minute,
	}
}

// SetDefaultTimeout overrides the timeout applied to oracles that do not
// declare one.
func (r *Runner) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		r.defaultTimeout = d
	}
}

// RunSuite executes every oracle of the suite in order, assembles the gate
// packet, stores it, and returns the run result. Execution errors of single
// oracles become ERROR results, not Go errors; only storage failures abort.
func (r *Runner) RunSuite(ctx context.Context, runID, candidateID string, suite *SuiteDefinition) (*RunResult, error) {
	if err := suite.Validate(); err != nil {
		return nil, err
	}
	suiteHash, err := suite.Hash()
	if err != nil {
		return nil, err
	}

	startedAt := time.Now().UTC()
	fingerprint := Fingerprint(suite.Environment)
	builder := evidence.NewBuilder(runID, candidateID, suite.SuiteID, suiteHash)
	attempts := make(map[string][]Attempt, len(suite.Oracles))
	var results []evidence.OracleResult

	for _, oracle := range suite.Oracles {
		oracle := oracle
		result, tries := RunWithRetry(ctx, r.policy, func(ctx context.Context) evidence.OracleResult {
			return r.executeOnce(ctx, oracle, suite.Environment)
		})
		attempts[oracle.ID] = tries
		results = append(results, result)
		builder.AddResult(result)
		log.Debug("oracle executed", "run_id", runID, "oracle_id", oracle.ID,
			"status", string(result.Status), "attempts", len(tries))
	}

	attemptsDoc, err := json.Marshal(attempts)
	if err != nil {
		return nil, fmt.Errorf("marshal attempts, details: %v", err)
	}
	builder.AddArtifact("attempts.json", "application/json", "recorded retry attempts per oracle", attemptsDoc)
	builder.SetWindow(startedAt, time.Now().UTC())
	builder.SetEnvironmentFingerprint(fingerprint)

	manifest, blobs, err := builder.Finalize()
	if err != nil {
		return nil, err
	}
	manifestJSON, err := evidence.CanonicalJSON(manifest)
	if err != nil {
		return nil, err
	}
	bundleHash, err := r.store.Store(ctx, manifestJSON, blobs)
	if err != nil {
		return nil, fmt.Errorf("store evidence bundle of %s, details: %v", runID, err)
	}

	return &RunResult{
		RunID:                  runID,
		BundleHash:             bundleHash,
		Verdict:                manifest.Verdict,
		EnvironmentFingerprint: fingerprint,
		Attempts:               attempts,
		Results:                results,
	}, nil
}

func (r *Runner) executeOnce(ctx context.Context, oracle OracleDefinition, env EnvironmentConstraints) evidence.OracleResult {
	timeout := r.defaultTimeout
	if oracle.TimeoutSeconds > 0 {
		timeout = time.Duration(oracle.TimeoutSeconds) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, oracle.Command[0], oracle.Command[1:]...)
	cmd.Dir = r.workDir
	cmd.Env = allowedEnv(env.EnvAllowlist)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start).Milliseconds()

	result := evidence.OracleResult{
		OracleID:   oracle.ID,
		Name:       oracle.Name,
		DurationMS: duration,
		Output:     truncate(stdout.String(), 64*1024),
	}
	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		result.Status = evidence.StatusError
		result.ErrorMessage = fmt.Sprintf("timed out after %s", timeout)
	case err == nil:
		result.Status = evidence.StatusPass
	default:
		if _, isExit := err.(*exec.ExitError); isExit {
			// The command ran and judged the candidate.
			result.Status = evidence.StatusFail
			result.ErrorMessage = truncate(stderr.String(), 8*1024)
		} else {
			// The command could not run at all.
			result.Status = evidence.StatusError
			result.ErrorMessage = err.Error()
		}
	}
	return result
}

func allowedEnv(allowlist []string) []string {
	if len(allowlist) == 0 {
		return []string{}
	}
	var out []string
	for _, name := range allowlist {
		if value, ok := os.LookupEnv(name); ok {
			out = append(out, name+"="+value)
		}
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
