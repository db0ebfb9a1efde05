package inmemory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	sr "github.com/solver-ralph/sr"
)

// Projections folds events into in-memory read models. The fold mirrors the
// Postgres projection semantics so handler tests and the harness observe the
// same read-side behavior as production.
type Projections struct {
	mu           sync.RWMutex
	checkpoint   int64
	loops        map[string]*sr.LoopProjection
	iterations   map[string]*sr.IterationProjection
	candidates   map[string]*sr.CandidateProjection
	runs         map[string]*sr.RunProjection
	evidence     map[string]*sr.EvidenceProjection
	approvals    map[string][]sr.ApprovalProjection
	decisions    map[string][]sr.DecisionProjection
	stopTriggers map[string][]sr.StopTriggerProjection
	governor     map[string][]sr.GovernorDecisionRecord
}

func NewProjections() *Projections {
	return &Projections{
		loops:        make(map[string]*sr.LoopProjection),
		iterations:   make(map[string]*sr.IterationProjection),
		candidates:   make(map[string]*sr.CandidateProjection),
		runs:         make(map[string]*sr.RunProjection),
		evidence:     make(map[string]*sr.EvidenceProjection),
		approvals:    make(map[string][]sr.ApprovalProjection),
		decisions:    make(map[string][]sr.DecisionProjection),
		stopTriggers: make(map[string][]sr.StopTriggerProjection),
		governor:     make(map[string][]sr.GovernorDecisionRecord),
	}
}

func (p *Projections) Checkpoint(ctx context.Context) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkpoint, nil
}

func (p *Projections) Apply(ctx context.Context, e sr.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fold(e); err != nil {
		return err
	}
	if int64(e.GlobalSeq) > p.checkpoint {
		p.checkpoint = int64(e.GlobalSeq)
	}
	return nil
}

func (p *Projections) fold(e sr.EventEnvelope) error {
	switch e.EventType {
	case sr.EventLoopCreated:
		var payload sr.LoopCreatedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode LoopCreated payload, details: %v", err)
		}
		p.loops[e.StreamID] = &sr.LoopProjection{
			LoopID:        e.StreamID,
			Title:         payload.Title,
			Goal:          payload.Goal,
			State:         sr.LoopCreated,
			Budgets:       payload.Budgets,
			PolicyProfile: payload.PolicyProfile,
			CreatedBy:     sr.ActorID{Kind: e.ActorKind, ID: e.ActorID},
			CreatedAt:     e.OccurredAt,
			UpdatedAt:     e.OccurredAt,
			Version:       int64(e.StreamSeq),
		}

	case sr.EventLoopActivated, sr.EventLoopPaused, sr.EventLoopResumed, sr.EventLoopClosed:
		loop, ok := p.loops[e.StreamID]
		if !ok {
			return nil
		}
		loop.State = map[string]sr.LoopState{
			sr.EventLoopActivated: sr.LoopActive,
			sr.EventLoopPaused:    sr.LoopPaused,
			sr.EventLoopResumed:   sr.LoopActive,
			sr.EventLoopClosed:    sr.LoopClosed,
		}[e.EventType]
		loop.UpdatedAt = e.OccurredAt
		loop.Version = int64(e.StreamSeq)

	case sr.EventIterationStarted:
		var payload sr.IterationStartedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode IterationStarted payload, details: %v", err)
		}
		p.iterations[payload.IterationID] = &sr.IterationProjection{
			IterationID: payload.IterationID,
			LoopID:      payload.LoopID,
			Sequence:    payload.Sequence,
			State:       sr.IterationStarted,
			StartedAt:   e.OccurredAt,
		}

	case sr.EventIterationCompleted:
		var payload sr.IterationCompletedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode IterationCompleted payload, details: %v", err)
		}
		it, ok := p.iterations[payload.IterationID]
		if !ok {
			return nil
		}
		it.State = sr.IterationCompleted
		if payload.Outcome == "FAILED" {
			it.State = sr.IterationFailed
		}
		it.Outcome = payload.Outcome
		completed := e.OccurredAt
		it.CompletedAt = &completed
		if payload.CandidateID != "" {
			it.CandidateID = payload.CandidateID
		}

	case sr.EventStopTriggered:
		var payload sr.StopTriggeredPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode StopTriggered payload, details: %v", err)
		}
		p.stopTriggers[payload.LoopID] = append(p.stopTriggers[payload.LoopID], sr.StopTriggerProjection{
			TriggerID:         payload.TriggerID,
			LoopID:            payload.LoopID,
			Type:              payload.Type,
			Reason:            payload.Reason,
			RecommendedPortal: payload.RecommendedPortal,
			RequiredActions:   payload.RequiredActions,
			AllowRetry:        payload.AllowRetry,
			RaisedAt:          e.OccurredAt,
		})

	case sr.EventCandidateMaterialized:
		var payload sr.CandidateMaterializedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode CandidateMaterialized payload, details: %v", err)
		}
		p.candidates[payload.CandidateID] = &sr.CandidateProjection{
			CandidateID: payload.CandidateID,
			LoopID:      payload.LoopID,
			IterationID: payload.IterationID,
			Description: payload.Description,
			SubmittedBy: sr.ActorID{Kind: e.ActorKind, ID: e.ActorID},
			SubmittedAt: e.OccurredAt,
		}
		if it, ok := p.iterations[payload.IterationID]; ok {
			it.CandidateID = payload.CandidateID
		}

	case sr.EventCandidateVerificationComputed:
		var payload sr.CandidateVerificationComputedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode CandidateVerificationComputed payload, details: %v", err)
		}
		if c, ok := p.candidates[payload.CandidateID]; ok {
			c.Verified = payload.Status == "VERIFIED" || payload.Status == "VERIFIED_WITH_WAIVERS"
			verifiedAt := e.OccurredAt
			c.VerifiedAt = &verifiedAt
		}

	case sr.EventRunStarted:
		var payload sr.RunStartedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode RunStarted payload, details: %v", err)
		}
		started := e.OccurredAt
		p.runs[payload.RunID] = &sr.RunProjection{
			RunID:        payload.RunID,
			SuiteID:      payload.SuiteID,
			SuiteHash:    payload.SuiteHash,
			CandidateID:  payload.CandidateID,
			LoopID:       payload.LoopID,
			State:        sr.RunStarted,
			RequestedBy:  sr.ActorID{Kind: e.ActorKind, ID: e.ActorID},
			RequestedAt:  e.OccurredAt,
			StartedAt:    &started,
			AttemptCount: 1,
		}

	case sr.EventRunCompleted:
		var payload sr.RunCompletedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode RunCompleted payload, details: %v", err)
		}
		r, ok := p.runs[payload.RunID]
		if !ok {
			return nil
		}
		r.State = sr.RunCompleted
		r.Verdict = payload.Verdict
		if payload.BundleHash != "" {
			r.BundleHash = payload.BundleHash
		}
		if payload.EnvDigest != "" {
			r.EnvDigest = payload.EnvDigest
		}
		if payload.AttemptCount > r.AttemptCount {
			r.AttemptCount = payload.AttemptCount
		}
		completed := e.OccurredAt
		r.CompletedAt = &completed

	case sr.EventEvidenceBundleRecorded:
		var payload sr.EvidenceBundleRecordedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode EvidenceBundleRecorded payload, details: %v", err)
		}
		p.evidence[payload.BundleHash] = &sr.EvidenceProjection{
			BundleHash:  payload.BundleHash,
			RunID:       payload.RunID,
			CandidateID: payload.CandidateID,
			Verdict:     payload.Verdict,
			StoredAt:    e.OccurredAt,
			SizeBytes:   payload.SizeBytes,
		}
		if r, ok := p.runs[payload.RunID]; ok && r.BundleHash == "" {
			r.BundleHash = payload.BundleHash
		}

	case sr.EventApprovalRecorded:
		var payload sr.ApprovalRecordedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode ApprovalRecorded payload, details: %v", err)
		}
		p.approvals[payload.LoopID] = append(p.approvals[payload.LoopID], sr.ApprovalProjection{
			ApprovalID:  payload.ApprovalID,
			LoopID:      payload.LoopID,
			CandidateID: payload.CandidateID,
			PortalKind:  payload.PortalKind,
			Decision:    payload.Decision,
			Rationale:   payload.Rationale,
			DecidedBy:   sr.ActorID{Kind: e.ActorKind, ID: e.ActorID},
			DecidedAt:   e.OccurredAt,
		})

	case sr.EventDecisionRecorded:
		var payload sr.DecisionRecordedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode DecisionRecorded payload, details: %v", err)
		}
		p.decisions[payload.LoopID] = append(p.decisions[payload.LoopID], sr.DecisionProjection{
			DecisionID: payload.DecisionID,
			LoopID:     payload.LoopID,
			Kind:       payload.Kind,
			Subject:    payload.Subject,
			Payload:    payload.Payload,
			RecordedBy: sr.ActorID{Kind: e.ActorKind, ID: e.ActorID},
			RecordedAt: e.OccurredAt,
		})
		if payload.Resume {
			triggers := p.stopTriggers[payload.LoopID]
			for i := range triggers {
				if triggers[i].ResolvedAt == nil {
					resolved := e.OccurredAt
					triggers[i].ResolvedAt = &resolved
				}
			}
		}
	}
	return nil
}

// StateHash returns a deterministic digest of the read-model state, used by
// the replay proof to compare rebuilds.
func (p *Projections) StateHash() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := sha256.New()
	writeSorted := func(keys []string, lookup func(string) any) {
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte(k))
			raw, _ := json.Marshal(lookup(k))
			h.Write(raw)
		}
	}

	loopKeys := make([]string, 0, len(p.loops))
	for k := range p.loops {
		loopKeys = append(loopKeys, k)
	}
	writeSorted(loopKeys, func(k string) any { return p.loops[k] })

	iterKeys := make([]string, 0, len(p.iterations))
	for k := range p.iterations {
		iterKeys = append(iterKeys, k)
	}
	writeSorted(iterKeys, func(k string) any { return p.iterations[k] })

	candKeys := make([]string, 0, len(p.candidates))
	for k := range p.candidates {
		candKeys = append(candKeys, k)
	}
	writeSorted(candKeys, func(k string) any { return p.candidates[k] })

	runKeys := make([]string, 0, len(p.runs))
	for k := range p.runs {
		runKeys = append(runKeys, k)
	}
	writeSorted(runKeys, func(k string) any { return p.runs[k] })

	evKeys := make([]string, 0, len(p.evidence))
	for k := range p.evidence {
		evKeys = append(evKeys, k)
	}
	writeSorted(evKeys, func(k string) any { return p.evidence[k] })

	return hex.EncodeToString(h.Sum(nil))
}

// Reset clears all read models, for rebuild-from-scratch replays.
func (p *Projections) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkpoint = 0
	p.loops = make(map[string]*sr.LoopProjection)
	p.iterations = make(map[string]*sr.IterationProjection)
	p.candidates = make(map[string]*sr.CandidateProjection)
	p.runs = make(map[string]*sr.RunProjection)
	p.evidence = make(map[string]*sr.EvidenceProjection)
	p.approvals = make(map[string][]sr.ApprovalProjection)
	p.decisions = make(map[string][]sr.DecisionProjection)
	p.stopTriggers = make(map[string][]sr.StopTriggerProjection)
}
