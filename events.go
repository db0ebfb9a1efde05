package sr

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Event type names. The event log stores these as plain strings so that unknown
// (future) types replay without loss.
const (
	EventLoopCreated   = "LoopCreated"
	EventLoopActivated = "LoopActivated"
	EventLoopPaused    = "LoopPaused"
	EventLoopResumed   = "LoopResumed"
	EventLoopClosed    = "LoopClosed"

	EventIterationStarted   = "IterationStarted"
	EventIterationCompleted = "IterationCompleted"
	EventStopTriggered      = "StopTriggered"

	EventCandidateMaterialized         = "CandidateMaterialized"
	EventCandidateVerificationComputed = "CandidateVerificationComputed"

	EventRunStarted             = "RunStarted"
	EventRunCompleted           = "RunCompleted"
	EventEvidenceBundleRecorded = "EvidenceBundleRecorded"
	EventEvidenceMissing        = "EvidenceMissingDetected"

	EventOracleSuiteRegistered = "OracleSuiteRegistered"
	EventOracleSuitePinned     = "OracleSuitePinned"

	EventApprovalRecorded = "ApprovalRecorded"
	EventDecisionRecorded = "DecisionRecorded"
)

// EventEnvelope is the wire and storage shape of every domain event.
//
// StreamSeq is the 1-based position within the stream; GlobalSeq is assigned by
// the event store on append (0 until persisted). Payload is opaque JSON owned by
// the event type. EnvelopeHash covers the identity fields for tamper detection.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	StreamID      string          `json:"stream_id"`
	StreamKind    StreamKind      `json:"stream_kind"`
	StreamSeq     uint64          `json:"stream_seq"`
	GlobalSeq     uint64          `json:"global_seq,omitempty"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	ActorKind     ActorKind       `json:"actor_kind"`
	ActorID       string          `json:"actor_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	Supersedes    []string        `json:"supersedes,omitempty"`
	Refs          []TypedRef      `json:"refs,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	EnvelopeHash  string          `json:"envelope_hash"`
}

// ComputeEnvelopeHash hashes the identity fields of an envelope. The hash is
// computed before append and stored alongside the event; integrity checks
// recompute it to detect tampering. GlobalSeq is excluded since it is assigned
// by the store after hashing.
func ComputeEnvelopeHash(e *EventEnvelope) string {
	h := sha256.New()
	h.Write([]byte(e.EventID))
	h.Write([]byte{0})
	h.Write([]byte(e.StreamID))
	h.Write([]byte{0})
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], e.StreamSeq)
	h.Write(seq[:])
	h.Write([]byte{0})
	h.Write([]byte(e.EventType))
	h.Write([]byte{0})
	h.Write([]byte(e.ActorID))
	h.Write([]byte{0})
	h.Write(e.Payload)
	return ContentHash(hex.EncodeToString(h.Sum(nil)))
}

// NewEvent builds an envelope with a fresh event ID, the current time, and a
// computed envelope hash. Callers set correlation/causation/refs afterwards if
// needed and must recompute the hash only when the payload changes.
func NewEvent(streamID string, seq uint64, eventType string, actor ActorID, payload any) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, err
	}
	e := EventEnvelope{
		EventID:    NewEventID(),
		StreamID:   streamID,
		StreamKind: InferStreamKind(streamID),
		StreamSeq:  seq,
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		ActorKind:  actor.Kind,
		ActorID:    actor.ID,
		Payload:    raw,
	}
	e.EnvelopeHash = ComputeEnvelopeHash(&e)
	return e, nil
}

// TopicForEvent maps an event type to its message bus subject.
func TopicForEvent(eventType string) string {
	switch eventType {
	case EventLoopCreated, EventLoopActivated, EventLoopPaused, EventLoopResumed, EventLoopClosed:
		return SubjectLoopEvents
	case EventIterationStarted, EventIterationCompleted, EventStopTriggered:
		return SubjectIterationEvents
	case EventCandidateMaterialized, EventCandidateVerificationComputed:
		return SubjectCandidateEvents
	case EventRunStarted, EventRunCompleted, EventEvidenceBundleRecorded, EventEvidenceMissing:
		return SubjectRunEvents
	case EventOracleSuiteRegistered, EventOracleSuitePinned:
		return SubjectOracleEvents
	case EventApprovalRecorded:
		return SubjectApprovalEvents
	case EventDecisionRecorded:
		return SubjectDecisionEvents
	default:
		return SubjectOtherEvents
	}
}

// Message bus subject taxonomy. Events fan out per entity family; commands are
// point-to-point work requests.
const (
	SubjectLoopEvents      = "sr.events.loop"
	SubjectIterationEvents = "sr.events.iteration"
	SubjectCandidateEvents = "sr.events.candidate"
	SubjectRunEvents       = "sr.events.run"
	SubjectOracleEvents    = "sr.events.oracle"
	SubjectApprovalEvents  = "sr.events.approval"
	SubjectDecisionEvents  = "sr.events.decision"
	SubjectOtherEvents     = "sr.events.other"

	SubjectRunOracleCommand = "sr.commands.oracle.run"
)

// AllEventSubjects lists every event subject, for consumers binding wildcard-free
// subscriptions.
func AllEventSubjects() []string {
	return []string{
		SubjectLoopEvents,
		SubjectIterationEvents,
		SubjectCandidateEvents,
		SubjectRunEvents,
		SubjectOracleEvents,
		SubjectApprovalEvents,
		SubjectDecisionEvents,
		SubjectOtherEvents,
	}
}
