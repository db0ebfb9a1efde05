package sr

import "encoding/json"

// Typed payloads for the event types this codebase emits. Payloads travel as
// raw JSON in the envelope; these shapes are the contract between emitters
// (handlers, governor, worker) and consumers (projections, harness).

type LoopCreatedPayload struct {
	Title         string          `json:"title"`
	Goal          string          `json:"goal,omitempty"`
	Budgets       LoopBudgets     `json:"budgets"`
	PolicyProfile json.RawMessage `json:"policy_profile,omitempty"`
}

// LoopTransitionPayload accompanies LoopActivated/Paused/Resumed/Closed.
type LoopTransitionPayload struct {
	Reason string `json:"reason,omitempty"`
}

type IterationStartedPayload struct {
	IterationID string `json:"iteration_id"`
	LoopID      string `json:"loop_id"`
	Sequence    int    `json:"sequence"`
}

type IterationCompletedPayload struct {
	IterationID string `json:"iteration_id"`
	LoopID      string `json:"loop_id"`
	Outcome     string `json:"outcome"`
	CandidateID string `json:"candidate_id,omitempty"`
}

type StopTriggeredPayload struct {
	TriggerID         string   `json:"trigger_id"`
	LoopID            string   `json:"loop_id"`
	Type              string   `json:"type"`
	Reason            string   `json:"reason"`
	RecommendedPortal string   `json:"recommended_portal,omitempty"`
	RequiredActions   []string `json:"required_actions,omitempty"`
	AllowRetry        bool     `json:"allow_retry"`
}

type CandidateMaterializedPayload struct {
	CandidateID string `json:"candidate_id"`
	LoopID      string `json:"loop_id"`
	IterationID string `json:"iteration_id"`
	Description string `json:"description,omitempty"`
}

type CandidateVerificationComputedPayload struct {
	CandidateID    string   `json:"candidate_id"`
	Status         string   `json:"status"` // VERIFIED, VERIFIED_WITH_WAIVERS, FAILED
	WaiversApplied []string `json:"waivers_applied,omitempty"`
}

type RunStartedPayload struct {
	RunID       string `json:"run_id"`
	SuiteID     string `json:"suite_id"`
	SuiteHash   string `json:"suite_hash"`
	CandidateID string `json:"candidate_id"`
	LoopID      string `json:"loop_id,omitempty"`
}

type RunCompletedPayload struct {
	RunID        string `json:"run_id"`
	Verdict      string `json:"verdict"`
	BundleHash   string `json:"bundle_hash,omitempty"`
	EnvDigest    string `json:"env_digest,omitempty"`
	AttemptCount int    `json:"attempt_count,omitempty"`
}

type EvidenceBundleRecordedPayload struct {
	BundleHash  string `json:"bundle_hash"`
	RunID       string `json:"run_id"`
	CandidateID string `json:"candidate_id"`
	Verdict     string `json:"verdict"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

type EvidenceMissingDetectedPayload struct {
	RunID  string `json:"run_id"`
	LoopID string `json:"loop_id"`
	Detail string `json:"detail"`
}

type OracleSuiteRegisteredPayload struct {
	SuiteID    string          `json:"suite_id"`
	SuiteHash  string          `json:"suite_hash"`
	Definition json.RawMessage `json:"definition"`
}

type OracleSuitePinnedPayload struct {
	SuiteID   string `json:"suite_id"`
	SuiteHash string `json:"suite_hash"`
}

type ApprovalRecordedPayload struct {
	ApprovalID  string `json:"approval_id"`
	LoopID      string `json:"loop_id"`
	CandidateID string `json:"candidate_id,omitempty"`
	PortalKind  string `json:"portal_kind"`
	Decision    string `json:"decision"` // APPROVED, REJECTED
	Rationale   string `json:"rationale,omitempty"`
}

type DecisionRecordedPayload struct {
	DecisionID string          `json:"decision_id"`
	LoopID     string          `json:"loop_id"`
	Kind       string          `json:"kind"`
	Subject    string          `json:"subject,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Resume     bool            `json:"resume,omitempty"`
}
