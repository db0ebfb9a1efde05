package sr

import (
	"strings"
	"testing"
)

func TestNewEvent(t *testing.T) {
	loopID := NewLoopID()
	actor := ActorID{Kind: ActorHuman, ID: "user1"}
	e, err := NewEvent(loopID, 1, EventLoopCreated, actor, map[string]string{"title": "demo"})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if e.StreamID != loopID || e.StreamSeq != 1 {
		t.Error("stream identity not set")
	}
	if e.StreamKind != StreamLoop {
		t.Errorf("expected LOOP stream kind, got %s", e.StreamKind)
	}
	if !strings.HasPrefix(e.EventID, "evt_") {
		t.Errorf("event ID missing prefix: %s", e.EventID)
	}
	if e.EnvelopeHash != ComputeEnvelopeHash(&e) {
		t.Error("envelope hash does not verify against its own fields")
	}
}

func TestComputeEnvelopeHashDetectsTamper(t *testing.T) {
	actor := ActorID{Kind: ActorSystem, ID: "governor"}
	e, err := NewEvent(NewLoopID(), 3, EventIterationStarted, actor, map[string]int{"sequence": 3})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	original := e.EnvelopeHash

	payload := e.Payload
	e.Payload = []byte(`{"sequence":99}`)
	if ComputeEnvelopeHash(&e) == original {
		t.Error("hash should change when payload is tampered with")
	}
	e.Payload = payload

	// GlobalSeq is assigned after hashing; changing it must not affect the hash.
	e.GlobalSeq = 12345
	if ComputeEnvelopeHash(&e) != original {
		t.Error("hash should not depend on global sequence")
	}
}

func TestTopicForEvent(t *testing.T) {
	cases := map[string]string{
		EventLoopCreated:            SubjectLoopEvents,
		EventLoopClosed:             SubjectLoopEvents,
		EventIterationStarted:       SubjectIterationEvents,
		EventStopTriggered:          SubjectIterationEvents,
		EventCandidateMaterialized:  SubjectCandidateEvents,
		EventRunCompleted:           SubjectRunEvents,
		EventEvidenceBundleRecorded: SubjectRunEvents,
		EventOracleSuiteRegistered:  SubjectOracleEvents,
		EventApprovalRecorded:       SubjectApprovalEvents,
		EventDecisionRecorded:       SubjectDecisionEvents,
		"SomethingNew":              SubjectOtherEvents,
	}
	for eventType, want := range cases {
		if got := TopicForEvent(eventType); got != want {
			t.Errorf("TopicForEvent(%s) = %s, want %s", eventType, got, want)
		}
	}
}

func TestAllEventSubjects(t *testing.T) {
	subjects := AllEventSubjects()
	if len(subjects) != 8 {
		t.Errorf("expected 8 event subjects, got %d", len(subjects))
	}
	for _, s := range subjects {
		if !strings.HasPrefix(s, "sr.events.") {
			t.Errorf("subject outside the events namespace: %s", s)
		}
	}
}
