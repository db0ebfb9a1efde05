// Package evidence defines the gate packet manifest: the canonical, hashable
// record an oracle run leaves behind. Manifests are validated before storage
// and their declared verdict must match the verdict computed from the results.
package evidence

import (
	"fmt"
	"time"
)

// ManifestVersion is the only schema version this codebase reads or writes.
const ManifestVersion = "1"

// ArtifactType identifies a gate packet manifest among other stored JSON documents.
const ArtifactType = "evidence.gate_packet"

// OracleStatus is the outcome of one oracle within a run.
type OracleStatus string

const (
	StatusPass    OracleStatus = "PASS"
	StatusFail    OracleStatus = "FAIL"
	StatusError   OracleStatus = "ERROR"
	StatusSkipped OracleStatus = "SKIPPED"
)

// Verdict is the aggregate outcome of a run.
type Verdict string

const (
	VerdictPass  Verdict = "PASS"
	VerdictFail  Verdict = "FAIL"
	VerdictError Verdict = "ERROR"
)

// OracleResult records one oracle execution inside a run.
type OracleResult struct {
	OracleID     string       `json:"oracle_id"`
	Name         string       `json:"name"`
	Status       OracleStatus `json:"status"`
	DurationMS   int64        `json:"duration_ms"`
	ErrorMessage string       `json:"error_message,omitempty"`
	ArtifactRefs []string     `json:"artifact_refs,omitempty"`
	Output       string       `json:"output,omitempty"`
}

// ArtifactRef describes one named blob stored next to the manifest.
type ArtifactRef struct {
	Name        string `json:"name"`
	ContentHash string `json:"content_hash"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Description string `json:"description,omitempty"`
}

// Manifest is the gate packet: everything needed to audit a run after the fact.
type Manifest struct {
	Version                string            `json:"version"`
	ArtifactType           string            `json:"artifact_type"`
	BundleID               string            `json:"bundle_id"`
	RunID                  string            `json:"run_id"`
	CandidateID            string            `json:"candidate_id"`
	OracleSuiteID          string            `json:"oracle_suite_id"`
	OracleSuiteHash        string            `json:"oracle_suite_hash"`
	RunStartedAt           time.Time         `json:"run_started_at"`
	RunCompletedAt         time.Time         `json:"run_completed_at"`
	EnvironmentFingerprint string            `json:"environment_fingerprint"`
	Results                []OracleResult    `json:"results"`
	Verdict                Verdict           `json:"verdict"`
	Artifacts              []ArtifactRef     `json:"artifacts,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}

// ComputeVerdict derives the aggregate verdict from individual results.
// A run with no results proves nothing and is an ERROR. Any ERROR dominates,
// then any FAIL; SKIPPED results do not affect the verdict.
func ComputeVerdict(results []OracleResult) Verdict {
	if len(results) == 0 {
		return VerdictError
	}
	verdict := VerdictPass
	for _, r := range results {
		switch r.Status {
		case StatusError:
			return VerdictError
		case StatusFail:
			verdict = VerdictFail
		}
	}
	return verdict
}

// Validate checks structural rules. A manifest that fails validation must not
// be stored or recorded in the event log.
func (m *Manifest) Validate() error {
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %q", m.Version)
	}
	if m.ArtifactType != ArtifactType {
		return fmt.Errorf("unexpected artifact type %q", m.ArtifactType)
	}
	if m.BundleID == "" {
		return fmt.Errorf("bundle_id is required")
	}
	if m.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if m.CandidateID == "" {
		return fmt.Errorf("candidate_id is required")
	}
	if m.OracleSuiteID == "" {
		return fmt.Errorf("oracle_suite_id is required")
	}
	if m.OracleSuiteHash == "" {
		return fmt.Errorf("oracle_suite_hash is required")
	}
	if m.RunCompletedAt.Before(m.RunStartedAt) {
		return fmt.Errorf("run_completed_at precedes run_started_at")
	}
	seen := make(map[string]bool, len(m.Artifacts))
	for _, a := range m.Artifacts {
		if a.Name == "" {
			return fmt.Errorf("artifact with empty name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate artifact name %q", a.Name)
		}
		seen[a.Name] = true
	}
	if computed := ComputeVerdict(m.Results); m.Verdict != computed {
		return fmt.Errorf("declared verdict %s does not match computed verdict %s", m.Verdict, computed)
	}
	return nil
}
