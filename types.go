package sr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ActorKind classifies who (or what) performed an action.
type ActorKind string

const (
	ActorHuman  ActorKind = "HUMAN"
	ActorAgent  ActorKind = "AGENT"
	ActorSystem ActorKind = "SYSTEM"
)

// ParseActorKind converts a string to an ActorKind, defaulting unknown values to HUMAN.
func ParseActorKind(s string) ActorKind {
	switch strings.ToUpper(s) {
	case string(ActorAgent):
		return ActorAgent
	case string(ActorSystem):
		return ActorSystem
	default:
		return ActorHuman
	}
}

// ActorID identifies an actor: kind plus a stable identifier (OIDC subject, service name).
type ActorID struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
}

// Prefixed identifier constructors. IDs are a short entity prefix plus a random UUID,
// e.g. "loop_4f0c...". The prefix makes stream IDs self-describing in logs and tables.

func newPrefixedID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// NewLoopID returns a new loop identifier.
func NewLoopID() string { return newPrefixedID("loop") }

// NewIterationID returns a new iteration identifier.
func NewIterationID() string { return newPrefixedID("iter") }

// NewEventID returns a new event identifier.
func NewEventID() string { return newPrefixedID("evt") }

// NewRunID returns a new oracle run identifier.
func NewRunID() string { return newPrefixedID("run") }

// NewDecisionID returns a new decision identifier.
func NewDecisionID() string { return newPrefixedID("dec") }

// NewApprovalID returns a new approval identifier.
func NewApprovalID() string { return newPrefixedID("appr") }

// NewBundleID returns a new evidence bundle identifier.
func NewBundleID() string { return newPrefixedID("bundle") }

// NewTriggerID returns a new stop trigger identifier.
func NewTriggerID() string { return newPrefixedID("trig") }

// NewProofID returns a new replay proof identifier.
func NewProofID() string { return newPrefixedID("proof") }

// NewCandidateID builds a candidate identifier from its provenance parts:
// "git:<commit_sha>|sha256:<manifest_hash>|cand_<uuid>". The git segment is
// omitted when no commit is associated.
func NewCandidateID(gitSHA, contentHashHex string) string {
	parts := make([]string, 0, 3)
	if gitSHA != "" {
		parts = append(parts, "git:"+gitSHA)
	}
	parts = append(parts, "sha256:"+contentHashHex)
	parts = append(parts, newPrefixedID("cand"))
	return strings.Join(parts, "|")
}

// ContentHash formats a hex digest as a content hash reference: "sha256:<hex>".
func ContentHash(hexDigest string) string {
	return "sha256:" + hexDigest
}

// TypedRef is a typed, relational reference between governed entities.
// Kind names the target entity type (Loop, Candidate, EvidenceBundle, OracleSuite,
// Directive, ...), Rel names the relationship (self, parent, governs, produced_by, ...).
type TypedRef struct {
	Kind string          `json:"kind"`
	ID   string          `json:"id"`
	Rel  string          `json:"rel"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

// Well known ref kinds.
const (
	RefKindLoop           = "Loop"
	RefKindIteration      = "Iteration"
	RefKindCandidate      = "Candidate"
	RefKindRun            = "Run"
	RefKindEvidenceBundle = "EvidenceBundle"
	RefKindOracleSuite    = "OracleSuite"
	RefKindApproval       = "Approval"
	RefKindDirective      = "Directive"
	RefKindGovernedDoc    = "GovernedArtifact"
)

// StreamKind identifies which entity family an event stream belongs to.
type StreamKind string

const (
	StreamLoop        StreamKind = "LOOP"
	StreamIteration   StreamKind = "ITERATION"
	StreamCandidate   StreamKind = "CANDIDATE"
	StreamRun         StreamKind = "RUN"
	StreamApproval    StreamKind = "APPROVAL"
	StreamDecision    StreamKind = "DECISION"
	StreamGovernance  StreamKind = "GOVERNANCE"
	StreamException   StreamKind = "EXCEPTION"
	StreamOracleSuite StreamKind = "ORACLE_SUITE"
	StreamFreeze      StreamKind = "FREEZE"
)

// InferStreamKind derives the stream kind from a prefixed stream identifier.
func InferStreamKind(streamID string) StreamKind {
	switch {
	case strings.HasPrefix(streamID, "loop_"):
		return StreamLoop
	case strings.HasPrefix(streamID, "iter_"):
		return StreamIteration
	case strings.HasPrefix(streamID, "git:"), strings.HasPrefix(streamID, "sha256:"), strings.Contains(streamID, "cand_"):
		return StreamCandidate
	case strings.HasPrefix(streamID, "run_"):
		return StreamRun
	case strings.HasPrefix(streamID, "appr_"):
		return StreamApproval
	case strings.HasPrefix(streamID, "dec_"):
		return StreamDecision
	case strings.HasPrefix(streamID, "suite_"):
		return StreamOracleSuite
	case strings.HasPrefix(streamID, "freeze_"):
		return StreamFreeze
	default:
		return StreamGovernance
	}
}

// LoopState per the loop state machine.
type LoopState string

const (
	LoopCreated LoopState = "CREATED"
	LoopActive  LoopState = "ACTIVE"
	LoopPaused  LoopState = "PAUSED"
	LoopClosed  LoopState = "CLOSED"
)

// IterationState within a loop.
type IterationState string

const (
	IterationStarted   IterationState = "STARTED"
	IterationCompleted IterationState = "COMPLETED"
	IterationFailed    IterationState = "FAILED"
)

// RunState of an oracle run.
type RunState string

const (
	RunStarted   RunState = "STARTED"
	RunCompleted RunState = "COMPLETED"
)

// LoopBudgets caps the resources a loop may consume. Zero means unlimited.
type LoopBudgets struct {
	MaxIterations     uint32 `json:"max_iterations"`
	MaxOracleRuns     uint32 `json:"max_oracle_runs"`
	MaxWallclockHours uint32 `json:"max_wallclock_hours"`
}

// DefaultLoopBudgets returns the default conservative budget.
func DefaultLoopBudgets() LoopBudgets {
	return LoopBudgets{
		MaxIterations:     5,
		MaxOracleRuns:     25,
		MaxWallclockHours: 16,
	}
}
