package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	sr "github.com/solver-ralph/sr"
)

// Read side of the projection store. Queries are plain selects over the proj
// schema; none of them touch es.events.

func (p *ProjectionStore) GetLoop(ctx context.Context, loopID string) (*sr.LoopProjection, error) {
	row := p.conn.Pool.QueryRow(ctx,
		`SELECT loop_id, title, goal, state, budgets, policy_profile,
			created_by_kind, created_by_id, created_at, updated_at, version
		 FROM proj.loops WHERE loop_id = $1`, loopID)
	var l sr.LoopProjection
	var state, kind string
	var budgets, profile []byte
	err := row.Scan(&l.LoopID, &l.Title, &l.Goal, &state, &budgets, &profile,
		&kind, &l.CreatedBy.ID, &l.CreatedAt, &l.UpdatedAt, &l.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sr.NotFoundError(loopID)
	}
	if err != nil {
		return nil, fmt.Errorf("get loop %s, details: %v", loopID, err)
	}
	l.State = sr.LoopState(state)
	l.CreatedBy.Kind = sr.ActorKind(kind)
	if err := json.Unmarshal(budgets, &l.Budgets); err != nil {
		return nil, fmt.Errorf("decode loop budgets, details: %v", err)
	}
	l.PolicyProfile = profile
	return &l, nil
}

func (p *ProjectionStore) ListLoops(ctx context.Context, filter sr.LoopFilter) ([]sr.LoopProjection, error) {
	query := `SELECT loop_id, title, goal, state, budgets, policy_profile,
		created_by_kind, created_by_id, created_at, updated_at, version FROM proj.loops`
	args := []any{}
	if filter.State != "" {
		query += ` WHERE state = $1`
		args = append(args, string(filter.State))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		defaultLimit(filter.Limit), filter.Offset)

	rows, err := p.conn.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list loops, details: %v", err)
	}
	defer rows.Close()

	var out []sr.LoopProjection
	for rows.Next() {
		var l sr.LoopProjection
		var state, kind string
		var budgets, profile []byte
		if err := rows.Scan(&l.LoopID, &l.Title, &l.Goal, &state, &budgets, &profile,
			&kind, &l.CreatedBy.ID, &l.CreatedAt, &l.UpdatedAt, &l.Version); err != nil {
			return nil, fmt.Errorf("scan loop row, details: %v", err)
		}
		l.State = sr.LoopState(state)
		l.CreatedBy.Kind = sr.ActorKind(kind)
		if err := json.Unmarshal(budgets, &l.Budgets); err != nil {
			return nil, fmt.Errorf("decode loop budgets, details: %v", err)
		}
		l.PolicyProfile = profile
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *ProjectionStore) GetIteration(ctx context.Context, iterationID string) (*sr.IterationProjection, error) {
	row := p.conn.Pool.QueryRow(ctx,
		`SELECT iteration_id, loop_id, sequence, state, COALESCE(candidate_id, ''),
			started_at, completed_at, COALESCE(outcome, '')
		 FROM proj.iterations WHERE iteration_id = $1`, iterationID)
	var it sr.IterationProjection
	var state string
	err := row.Scan(&it.IterationID, &it.LoopID, &it.Sequence, &state,
		&it.CandidateID, &it.StartedAt, &it.CompletedAt, &it.Outcome)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sr.NotFoundError(iterationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get iteration %s, details: %v", iterationID, err)
	}
	it.State = sr.IterationState(state)
	return &it, nil
}

func (p *ProjectionStore) ListIterations(ctx context.Context, loopID string) ([]sr.IterationProjection, error) {
	rows, err := p.conn.Pool.Query(ctx,
		`SELECT iteration_id, loop_id, sequence, state, COALESCE(candidate_id, ''),
			started_at, completed_at, COALESCE(outcome, '')
		 FROM proj.iterations WHERE loop_id = $1 ORDER BY sequence`, loopID)
	if err != nil {
		return nil, fmt.Errorf("list iterations of %s, details: %v", loopID, err)
	}
	defer rows.Close()

	var out []sr.IterationProjection
	for rows.Next() {
		var it sr.IterationProjection
		var state string
		if err := rows.Scan(&it.IterationID, &it.LoopID, &it.Sequence, &state,
			&it.CandidateID, &it.StartedAt, &it.CompletedAt, &it.Outcome); err != nil {
			return nil, fmt.Errorf("scan iteration row, details: %v", err)
		}
		it.State = sr.IterationState(state)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *ProjectionStore) GetCandidate(ctx context.Context, candidateID string) (*sr.CandidateProjection, error) {
	row := p.conn.Pool.QueryRow(ctx,
		`SELECT candidate_id, loop_id, iteration_id, COALESCE(description, ''),
			submitted_by_kind, submitted_by_id, submitted_at, verified, verified_at
		 FROM proj.candidates WHERE candidate_id = $1`, candidateID)
	var c sr.CandidateProjection
	var kind string
	err := row.Scan(&c.CandidateID, &c.LoopID, &c.IterationID, &c.Description,
		&kind, &c.SubmittedBy.ID, &c.SubmittedAt, &c.Verified, &c.VerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sr.NotFoundError(candidateID)
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate %s, details: %v", candidateID, err)
	}
	c.SubmittedBy.Kind = sr.ActorKind(kind)
	return &c, nil
}

func (p *ProjectionStore) ListCandidates(ctx context.Context, loopID string) ([]sr.CandidateProjection, error) {
	rows, err := p.conn.Pool.Query(ctx,
		`SELECT candidate_id, loop_id, iteration_id, COALESCE(description, ''),
			submitted_by_kind, submitted_by_id, submitted_at, verified, verified_at
		 FROM proj.candidates WHERE loop_id = $1 ORDER BY submitted_at`, loopID)
	if err != nil {
		return nil, fmt.Errorf("list candidates of %s, details: %v", loopID, err)
	}
	defer rows.Close()

	var out []sr.CandidateProjection
	for rows.Next() {
		var c sr.CandidateProjection
		var kind string
		if err := rows.Scan(&c.CandidateID, &c.LoopID, &c.IterationID, &c.Description,
			&kind, &c.SubmittedBy.ID, &c.SubmittedAt, &c.Verified, &c.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan candidate row, details: %v", err)
		}
		c.SubmittedBy.Kind = sr.ActorKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *ProjectionStore) GetRun(ctx context.Context, runID string) (*sr.RunProjection, error) {
	row := p.conn.Pool.QueryRow(ctx, selectRuns+` WHERE run_id = $1`, runID)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sr.NotFoundError(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s, details: %v", runID, err)
	}
	return r, nil
}

func (p *ProjectionStore) ListRuns(ctx context.Context, candidateID string) ([]sr.RunProjection, error) {
	rows, err := p.conn.Pool.Query(ctx,
		selectRuns+` WHERE candidate_id = $1 ORDER BY requested_at`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("list runs of %s, details: %v", candidateID, err)
	}
	defer rows.Close()

	var out []sr.RunProjection
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row, details: %v", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const selectRuns = `SELECT run_id, suite_id, suite_hash, candidate_id, COALESCE(loop_id, ''),
	state, COALESCE(verdict, ''), COALESCE(bundle_hash, ''), COALESCE(env_digest, ''),
	requested_by_kind, requested_by_id, requested_at, started_at, completed_at, attempt_count
	FROM proj.runs`

func scanRun(row pgx.Row) (*sr.RunProjection, error) {
	var r sr.RunProjection
	var state, kind string
	if err := row.Scan(&r.RunID, &r.SuiteID, &r.SuiteHash, &r.CandidateID, &r.LoopID,
		&state, &r.Verdict, &r.BundleHash, &r.EnvDigest,
		&kind, &r.RequestedBy.ID, &r.RequestedAt, &r.StartedAt, &r.CompletedAt, &r.AttemptCount); err != nil {
		return nil, err
	}
	r.State = sr.RunState(state)
	r.RequestedBy.Kind = sr.ActorKind(kind)
	return &r, nil
}

func (p *ProjectionStore) GetEvidence(ctx context.Context, bundleHash string) (*sr.EvidenceProjection, error) {
	row := p.conn.Pool.QueryRow(ctx,
		`SELECT bundle_hash, run_id, candidate_id, verdict, stored_at, size_bytes
		 FROM proj.evidence WHERE bundle_hash = $1`, bundleHash)
	var ev sr.EvidenceProjection
	err := row.Scan(&ev.BundleHash, &ev.RunID, &ev.CandidateID, &ev.Verdict, &ev.StoredAt, &ev.SizeBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sr.Error{Code: sr.EvidenceNotFound, Err: fmt.Errorf("evidence not found: %s", bundleHash)}
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence %s, details: %v", bundleHash, err)
	}
	return &ev, nil
}

func (p *ProjectionStore) ListApprovals(ctx context.Context, loopID string) ([]sr.ApprovalProjection, error) {
	rows, err := p.conn.Pool.Query(ctx,
		`SELECT approval_id, loop_id, COALESCE(candidate_id, ''), portal_kind, decision,
			COALESCE(rationale, ''), decided_by_kind, decided_by_id, decided_at
		 FROM proj.approvals WHERE loop_id = $1 ORDER BY decided_at`, loopID)
	if err != nil {
		return nil, fmt.Errorf("list approvals of %s, details: %v", loopID, err)
	}
	defer rows.Close()

	var out []sr.ApprovalProjection
	for rows.Next() {
		var a sr.ApprovalProjection
		var kind string
		if err := rows.Scan(&a.ApprovalID, &a.LoopID, &a.CandidateID, &a.PortalKind,
			&a.Decision, &a.Rationale, &kind, &a.DecidedBy.ID, &a.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan approval row, details: %v", err)
		}
		a.DecidedBy.Kind = sr.ActorKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *ProjectionStore) ListApprovalsByPortal(ctx context.Context, portalKind string) ([]sr.ApprovalProjection, error) {
	rows, err := p.conn.Pool.Query(ctx,
		`SELECT approval_id, loop_id, COALESCE(candidate_id, ''), portal_kind, decision,
			COALESCE(rationale, ''), decided_by_kind, decided_by_id, decided_at
		 FROM proj.approvals WHERE portal_kind = $1 ORDER BY decided_at`, portalKind)
	if err != nil {
		return nil, fmt.Errorf("list approvals of portal %s, details: %v", portalKind, err)
	}
	defer rows.Close()

	var out []sr.ApprovalProjection
	for rows.Next() {
		var a sr.ApprovalProjection
		var kind string
		if err := rows.Scan(&a.ApprovalID, &a.LoopID, &a.CandidateID, &a.PortalKind,
			&a.Decision, &a.Rationale, &kind, &a.DecidedBy.ID, &a.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan approval row, details: %v", err)
		}
		a.DecidedBy.Kind = sr.ActorKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *ProjectionStore) ListDecisions(ctx context.Context, loopID string) ([]sr.DecisionProjection, error) {
	rows, err := p.conn.Pool.Query(ctx,
		`SELECT decision_id, loop_id, kind, COALESCE(subject, ''), payload,
			recorded_by_kind, recorded_by_id, recorded_at
		 FROM proj.decisions WHERE loop_id = $1 ORDER BY recorded_at`, loopID)
	if err != nil {
		return nil, fmt.Errorf("list decisions of %s, details: %v", loopID, err)
	}
	defer rows.Close()

	var out []sr.DecisionProjection
	for rows.Next() {
		var d sr.DecisionProjection
		var kind string
		var payload []byte
		if err := rows.Scan(&d.DecisionID, &d.LoopID, &d.Kind, &d.Subject, &payload,
			&kind, &d.RecordedBy.ID, &d.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan decision row, details: %v", err)
		}
		d.Payload = payload
		d.RecordedBy.Kind = sr.ActorKind(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *ProjectionStore) ListStopTriggers(ctx context.Context, loopID string, unresolvedOnly bool) ([]sr.StopTriggerProjection, error) {
	query := `SELECT trigger_id, loop_id, trigger_type, reason, COALESCE(recommended_portal, ''),
		required_actions, allow_retry, raised_at, resolved_at
		FROM proj.stop_triggers WHERE loop_id = $1`
	if unresolvedOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY raised_at`

	rows, err := p.conn.Pool.Query(ctx, query, loopID)
	if err != nil {
		return nil, fmt.Errorf("list stop triggers of %s, details: %v", loopID, err)
	}
	defer rows.Close()

	var out []sr.StopTriggerProjection
	for rows.Next() {
		var t sr.StopTriggerProjection
		var actions []byte
		if err := rows.Scan(&t.TriggerID, &t.LoopID, &t.Type, &t.Reason, &t.RecommendedPortal,
			&actions, &t.AllowRetry, &t.RaisedAt, &t.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan stop trigger row, details: %v", err)
		}
		if len(actions) > 0 {
			if err := json.Unmarshal(actions, &t.RequiredActions); err != nil {
				return nil, fmt.Errorf("decode required actions, details: %v", err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordGovernorDecision persists an audited governor decision. These are not
// events; the governor's decision trail is an operational record.
func (p *ProjectionStore) RecordGovernorDecision(ctx context.Context, d sr.GovernorDecisionRecord) error {
	reasons, _ := json.Marshal(d.Reasons)
	preconditions, _ := json.Marshal(d.Preconditions)
	_, err := p.conn.Pool.Exec(ctx,
		`INSERT INTO proj.governor_decisions
			(decision_id, loop_id, decision, reasons, preconditions, dry_run, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (decision_id) DO NOTHING`,
		d.DecisionID, d.LoopID, d.Decision, reasons, preconditions, d.DryRun, d.DecidedAt)
	if err != nil {
		return fmt.Errorf("record governor decision, details: %v", err)
	}
	return nil
}

func (p *ProjectionStore) ListGovernorDecisions(ctx context.Context, loopID string, limit int) ([]sr.GovernorDecisionRecord, error) {
	rows, err := p.conn.Pool.Query(ctx,
		`SELECT decision_id, loop_id, decision, reasons, preconditions, dry_run, decided_at
		 FROM proj.governor_decisions WHERE loop_id = $1 ORDER BY decided_at DESC LIMIT $2`,
		loopID, defaultLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list governor decisions of %s, details: %v", loopID, err)
	}
	defer rows.Close()

	var out []sr.GovernorDecisionRecord
	for rows.Next() {
		var d sr.GovernorDecisionRecord
		var reasons, preconditions []byte
		if err := rows.Scan(&d.DecisionID, &d.LoopID, &d.Decision, &reasons,
			&preconditions, &d.DryRun, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan governor decision row, details: %v", err)
		}
		if len(reasons) > 0 {
			_ = json.Unmarshal(reasons, &d.Reasons)
		}
		if len(preconditions) > 0 {
			_ = json.Unmarshal(preconditions, &d.Preconditions)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
