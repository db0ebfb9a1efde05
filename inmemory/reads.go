package inmemory

import (
	"context"
	"fmt"
	"sort"

	sr "github.com/solver-ralph/sr"
)

// Read side of the in-memory projections, satisfying sr.Projections.

func (p *Projections) GetLoop(ctx context.Context, loopID string) (*sr.LoopProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	loop, ok := p.loops[loopID]
	if !ok {
		return nil, sr.NotFoundError(loopID)
	}
	copied := *loop
	return &copied, nil
}

func (p *Projections) ListLoops(ctx context.Context, filter sr.LoopFilter) ([]sr.LoopProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []sr.LoopProjection
	for _, loop := range p.loops {
		if filter.State != "" && loop.State != filter.State {
			continue
		}
		out = append(out, *loop)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (p *Projections) GetIteration(ctx context.Context, iterationID string) (*sr.IterationProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	it, ok := p.iterations[iterationID]
	if !ok {
		return nil, sr.NotFoundError(iterationID)
	}
	copied := *it
	return &copied, nil
}

func (p *Projections) ListIterations(ctx context.Context, loopID string) ([]sr.IterationProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []sr.IterationProjection
	for _, it := range p.iterations {
		if it.LoopID == loopID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (p *Projections) GetCandidate(ctx context.Context, candidateID string) (*sr.CandidateProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.candidates[candidateID]
	if !ok {
		return nil, sr.NotFoundError(candidateID)
	}
	copied := *c
	return &copied, nil
}

func (p *Projections) ListCandidates(ctx context.Context, loopID string) ([]sr.CandidateProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []sr.CandidateProjection
	for _, c := range p.candidates {
		if c.LoopID == loopID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (p *Projections) GetRun(ctx context.Context, runID string) (*sr.RunProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.runs[runID]
	if !ok {
		return nil, sr.NotFoundError(runID)
	}
	copied := *r
	return &copied, nil
}

func (p *Projections) ListRuns(ctx context.Context, candidateID string) ([]sr.RunProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []sr.RunProjection
	for _, r := range p.runs {
		if r.CandidateID == candidateID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (p *Projections) GetEvidence(ctx context.Context, bundleHash string) (*sr.EvidenceProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ev, ok := p.evidence[bundleHash]
	if !ok {
		return nil, sr.Error{Code: sr.EvidenceNotFound, Err: fmt.Errorf("evidence not found: %s", bundleHash)}
	}
	copied := *ev
	return &copied, nil
}

func (p *Projections) ListApprovals(ctx context.Context, loopID string) ([]sr.ApprovalProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]sr.ApprovalProjection(nil), p.approvals[loopID]...), nil
}

func (p *Projections) ListApprovalsByPortal(ctx context.Context, portalKind string) ([]sr.ApprovalProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []sr.ApprovalProjection
	for _, approvals := range p.approvals {
		for _, a := range approvals {
			if a.PortalKind == portalKind {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}

func (p *Projections) ListDecisions(ctx context.Context, loopID string) ([]sr.DecisionProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]sr.DecisionProjection(nil), p.decisions[loopID]...), nil
}

func (p *Projections) ListStopTriggers(ctx context.Context, loopID string, unresolvedOnly bool) ([]sr.StopTriggerProjection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []sr.StopTriggerProjection
	for _, t := range p.stopTriggers[loopID] {
		if unresolvedOnly && t.ResolvedAt != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// RecordGovernorDecision stores an audited governor decision.
func (p *Projections) RecordGovernorDecision(ctx context.Context, d sr.GovernorDecisionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.governor[d.LoopID] = append(p.governor[d.LoopID], d)
	return nil
}

func (p *Projections) ListGovernorDecisions(ctx context.Context, loopID string, limit int) ([]sr.GovernorDecisionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := append([]sr.GovernorDecisionRecord(nil), p.governor[loopID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.After(out[j].DecidedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
