package policy

import (
	"fmt"

	"github.com/solver-ralph/sr/evidence"
)

// Verification statuses for a candidate.
const (
	StatusVerified            = "VERIFIED"
	StatusVerifiedWithWaivers = "VERIFIED_WITH_WAIVERS"
	StatusFailed              = "FAILED"
)

// Verification is the computed verification of a candidate against a suite
// run: which required outcomes failed, and which of those a waiver covered.
type Verification struct {
	Status         string   `json:"status"`
	FailedOracles  []string `json:"failed_oracles,omitempty"`
	WaiversApplied []string `json:"waivers_applied,omitempty"`
}

// ComputeVerification derives a candidate's verification from the run's
// results. Every failed required outcome must either be covered by an
// applicable waiver or the verification fails. Error outcomes are never
// waivable through this path; they surface as integrity conditions instead.
func ComputeVerification(suiteID, stage string, results []evidence.OracleResult, requiredIDs []string, waivers []Waiver) (*Verification, error) {
	required := make(map[string]bool, len(requiredIDs))
	for _, id := range requiredIDs {
		required[id] = true
	}

	v := &Verification{Status: StatusVerified}
	for _, r := range results {
		if !required[r.OracleID] {
			continue
		}
		if r.Status == evidence.StatusError {
			v.Status = StatusFailed
			v.FailedOracles = append(v.FailedOracles, r.OracleID)
			continue
		}
		if r.Status != evidence.StatusFail {
			continue
		}

		outcome := Outcome{
			Condition: "ORACLE_FAILED",
			OracleID:  r.OracleID,
			SuiteID:   suiteID,
			Stage:     stage,
		}
		waived := false
		for i := range waivers {
			applies, err := waivers[i].Applies(outcome)
			if err != nil {
				return nil, fmt.Errorf("evaluate waiver %s, details: %v", waivers[i].WaiverID, err)
			}
			if applies {
				waived = true
				v.WaiversApplied = append(v.WaiversApplied, waivers[i].WaiverID)
				break
			}
		}
		if waived {
			if v.Status == StatusVerified {
				v.Status = StatusVerifiedWithWaivers
			}
			continue
		}
		v.Status = StatusFailed
		v.FailedOracles = append(v.FailedOracles, r.OracleID)
	}
	return v, nil
}
