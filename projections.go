package sr

import (
	"context"
	"encoding/json"
	"time"
)

// Read models rebuilt from the event log. Every row here is derivable by
// replaying es.events from global_seq zero; nothing in a projection is
// authoritative on its own.

type LoopProjection struct {
	LoopID        string          `json:"loop_id"`
	Title         string          `json:"title"`
	Goal          string          `json:"goal"`
	State         LoopState       `json:"state"`
	Budgets       LoopBudgets     `json:"budgets"`
	PolicyProfile json.RawMessage `json:"policy_profile,omitempty"`
	CreatedBy     ActorID         `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int64           `json:"version"`
}

type IterationProjection struct {
	IterationID string         `json:"iteration_id"`
	LoopID      string         `json:"loop_id"`
	Sequence    int            `json:"sequence"`
	State       IterationState `json:"state"`
	CandidateID string         `json:"candidate_id,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Outcome     string         `json:"outcome,omitempty"`
}

type CandidateProjection struct {
	CandidateID string     `json:"candidate_id"`
	LoopID      string     `json:"loop_id"`
	IterationID string     `json:"iteration_id"`
	Description string     `json:"description,omitempty"`
	SubmittedBy ActorID    `json:"submitted_by"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

type RunProjection struct {
	RunID        string     `json:"run_id"`
	SuiteID      string     `json:"suite_id"`
	SuiteHash    string     `json:"suite_hash"`
	CandidateID  string     `json:"candidate_id"`
	LoopID       string     `json:"loop_id"`
	State        RunState   `json:"state"`
	Verdict      string     `json:"verdict,omitempty"`
	BundleHash   string     `json:"bundle_hash,omitempty"`
	EnvDigest    string     `json:"env_digest,omitempty"`
	RequestedBy  ActorID    `json:"requested_by"`
	RequestedAt  time.Time  `json:"requested_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	AttemptCount int        `json:"attempt_count"`
}

type EvidenceProjection struct {
	BundleHash  string    `json:"bundle_hash"`
	RunID       string    `json:"run_id"`
	CandidateID string    `json:"candidate_id"`
	Verdict     string    `json:"verdict"`
	StoredAt    time.Time `json:"stored_at"`
	SizeBytes   int64     `json:"size_bytes"`
}

type ApprovalProjection struct {
	ApprovalID  string    `json:"approval_id"`
	LoopID      string    `json:"loop_id"`
	CandidateID string    `json:"candidate_id,omitempty"`
	PortalKind  string    `json:"portal_kind"`
	Decision    string    `json:"decision"`
	Rationale   string    `json:"rationale,omitempty"`
	DecidedBy   ActorID   `json:"decided_by"`
	DecidedAt   time.Time `json:"decided_at"`
}

type DecisionProjection struct {
	DecisionID string          `json:"decision_id"`
	LoopID     string          `json:"loop_id"`
	Kind       string          `json:"kind"`
	Subject    string          `json:"subject,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RecordedBy ActorID         `json:"recorded_by"`
	RecordedAt time.Time       `json:"recorded_at"`
}

type StopTriggerProjection struct {
	TriggerID         string     `json:"trigger_id"`
	LoopID            string     `json:"loop_id"`
	Type              string     `json:"type"`
	Reason            string     `json:"reason"`
	RecommendedPortal string     `json:"recommended_portal,omitempty"`
	RequiredActions   []string   `json:"required_actions,omitempty"`
	AllowRetry        bool       `json:"allow_retry"`
	RaisedAt          time.Time  `json:"raised_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

type GovernorDecisionRecord struct {
	DecisionID    string          `json:"decision_id"`
	LoopID        string          `json:"loop_id"`
	Decision      string          `json:"decision"` // STARTED, SKIPPED, BLOCKED
	Reasons       []string        `json:"reasons,omitempty"`
	Preconditions map[string]bool `json:"preconditions"`
	DryRun        bool            `json:"dry_run"`
	DecidedAt     time.Time       `json:"decided_at"`
}

// LoopFilter narrows ListLoops. Zero value matches everything.
type LoopFilter struct {
	State  LoopState
	Limit  int
	Offset int
}

// Projections is the read side consumed by the REST handlers and the
// governor. Implementations rebuild state by applying events in global_seq
// order; see ProjectionApplier.
type Projections interface {
	GetLoop(ctx context.Context, loopID string) (*LoopProjection, error)
	ListLoops(ctx context.Context, filter LoopFilter) ([]LoopProjection, error)
	GetIteration(ctx context.Context, iterationID string) (*IterationProjection, error)
	ListIterations(ctx context.Context, loopID string) ([]IterationProjection, error)
	GetCandidate(ctx context.Context, candidateID string) (*CandidateProjection, error)
	ListCandidates(ctx context.Context, loopID string) ([]CandidateProjection, error)
	GetRun(ctx context.Context, runID string) (*RunProjection, error)
	ListRuns(ctx context.Context, candidateID string) ([]RunProjection, error)
	GetEvidence(ctx context.Context, bundleHash string) (*EvidenceProjection, error)
	ListApprovals(ctx context.Context, loopID string) ([]ApprovalProjection, error)
	ListApprovalsByPortal(ctx context.Context, portalKind string) ([]ApprovalProjection, error)
	ListDecisions(ctx context.Context, loopID string) ([]DecisionProjection, error)
	ListStopTriggers(ctx context.Context, loopID string, unresolvedOnly bool) ([]StopTriggerProjection, error)
	ListGovernorDecisions(ctx context.Context, loopID string, limit int) ([]GovernorDecisionRecord, error)
}

// ProjectionApplier folds one event into the read model. Checkpointing of
// global_seq is the implementation's responsibility.
type ProjectionApplier interface {
	Apply(ctx context.Context, event EventEnvelope) error
	Checkpoint(ctx context.Context) (int64, error)
}
