// Package oracles defines verification suites and executes them. An oracle is
// one checked command; a suite is the pinned set of oracles a candidate must
// face, together with the environment constraints the run has to honor.
package oracles

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Classification of an oracle's determinism.
type Classification string

const (
	ClassDeterministic Classification = "DETERMINISTIC"
	ClassIntegration   Classification = "INTEGRATION"
	ClassSemantic      Classification = "SEMANTIC"
)

// OracleDefinition describes one checked command within a suite.
type OracleDefinition struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Command        []string       `json:"command"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Classification Classification `json:"classification"`
	Required       bool           `json:"required"`
	// ExpectedOutputs lists artifact names the oracle is expected to produce.
	ExpectedOutputs []string `json:"expected_outputs,omitempty"`
}

// EnvironmentConstraints pin what the execution environment must look like.
type EnvironmentConstraints struct {
	// NetworkMode is "none" or "full".
	NetworkMode string `json:"network_mode,omitempty"`
	// EnvAllowlist names the only environment variables passed through.
	EnvAllowlist []string `json:"env_allowlist,omitempty"`
	// Image names the expected execution image, informational for local exec.
	Image string `json:"image,omitempty"`
}

// SuiteDefinition is the full, hashable definition of a verification suite.
type SuiteDefinition struct {
	SuiteID     string                 `json:"suite_id"`
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Oracles     []OracleDefinition     `json:"oracles"`
	Environment EnvironmentConstraints `json:"environment"`
}

// Validate checks structural rules on a suite definition.
func (s *SuiteDefinition) Validate() error {
	if s.SuiteID == "" {
		return fmt.Errorf("suite_id is required")
	}
	if len(s.Oracles) == 0 {
		return fmt.Errorf("suite %s has no oracles", s.SuiteID)
	}
	seen := make(map[string]bool, len(s.Oracles))
	for _, o := range s.Oracles {
		if o.ID == "" {
			return fmt.Errorf("oracle with empty id in suite %s", s.SuiteID)
		}
		if seen[o.ID] {
			return fmt.Errorf("duplicate oracle id %s in suite %s", o.ID, s.SuiteID)
		}
		seen[o.ID] = true
		if len(o.Command) == 0 {
			return fmt.Errorf("oracle %s has no command", o.ID)
		}
	}
	return nil
}

// Hash returns the suite's content hash over its canonical JSON form,
// prefixed "sha256:". Pinning freezes a suite at this hash.
func (s *SuiteDefinition) Hash() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal suite %s, details: %v", s.SuiteID, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// RequiredOracleIDs returns the ids of oracles that must have a result in
// every complete run of this suite.
func (s *SuiteDefinition) RequiredOracleIDs() []string {
	var out []string
	for _, o := range s.Oracles {
		if o.Required {
			out = append(out, o.ID)
		}
	}
	return out
}

// Fingerprint summarizes the actual execution environment of a run. Integrity
// checks compare it against the suite's constraints.
func Fingerprint(constraints EnvironmentConstraints) string {
	parts := []string{
		"os=" + runtime.GOOS,
		"arch=" + runtime.GOARCH,
	}
	if constraints.NetworkMode != "" {
		parts = append(parts, "network="+constraints.NetworkMode)
	}
	if constraints.Image != "" {
		parts = append(parts, "image="+constraints.Image)
	}
	if len(constraints.EnvAllowlist) > 0 {
		allow := append([]string(nil), constraints.EnvAllowlist...)
		sort.Strings(allow)
		parts = append(parts, "env="+strings.Join(allow, ","))
	}
	return strings.Join(parts, ";")
}
