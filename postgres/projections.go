package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	sr "github.com/solver-ralph/sr"
)

const checkpointName = "read_models"

// ProjectionStore maintains the proj schema read models and serves reads. All
// rows are derived from es.events; applying the same event twice is a no-op so
// replay is always safe.
type ProjectionStore struct {
	conn *Connection
}

func NewProjectionStore(conn *Connection) *ProjectionStore {
	return &ProjectionStore{conn: conn}
}

// Checkpoint returns the last applied global sequence.
func (p *ProjectionStore) Checkpoint(ctx context.Context) (int64, error) {
	var seq int64
	err := p.conn.Pool.QueryRow(ctx,
		`SELECT global_seq FROM proj.checkpoints WHERE projection = $1`, checkpointName).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint, details: %v", err)
	}
	return seq, nil
}

// Apply folds one event into the read models and advances the checkpoint, all
// in one transaction.
func (p *ProjectionStore) Apply(ctx context.Context, e sr.EventEnvelope) error {
	tx, err := p.conn.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin apply transaction, details: %v", err)
	}
	defer tx.Rollback(ctx)

	if err := applyEvent(ctx, tx, e); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO proj.checkpoints (projection, global_seq) VALUES ($1, $2)
		 ON CONFLICT (projection) DO UPDATE SET global_seq = EXCLUDED.global_seq`,
		checkpointName, e.GlobalSeq); err != nil {
		return fmt.Errorf("advance checkpoint, details: %v", err)
	}
	return tx.Commit(ctx)
}

// ProcessEvents drains the event log from the checkpoint in batches until no
// events remain. Returns the number of events applied.
func (p *ProjectionStore) ProcessEvents(ctx context.Context, store *EventStore, batchSize int) (int, error) {
	applied := 0
	for {
		checkpoint, err := p.Checkpoint(ctx)
		if err != nil {
			return applied, err
		}
		events, err := store.ReplayAll(ctx, uint64(checkpoint), batchSize)
		if err != nil {
			return applied, err
		}
		if len(events) == 0 {
			return applied, nil
		}
		for _, e := range events {
			if err := p.Apply(ctx, e); err != nil {
				return applied, fmt.Errorf("apply event %s, details: %v", e.EventID, err)
			}
			applied++
		}
	}
}

// RebuildAll truncates every read model and reprocesses the full log. The
// replay proof compares state hashes across two rebuilds.
func (p *ProjectionStore) RebuildAll(ctx context.Context, store *EventStore) (int, error) {
	tables := []string{
		"proj.loops", "proj.iterations", "proj.candidates", "proj.runs",
		"proj.evidence", "proj.approvals", "proj.decisions", "proj.stop_triggers",
	}
	for _, table := range tables {
		if _, err := p.conn.Pool.Exec(ctx, `TRUNCATE `+table); err != nil {
			return 0, fmt.Errorf("truncate %s, details: %v", table, err)
		}
	}
	if _, err := p.conn.Pool.Exec(ctx,
		`DELETE FROM proj.checkpoints WHERE projection = $1`, checkpointName); err != nil {
		return 0, fmt.Errorf("reset checkpoint, details: %v", err)
	}
	return p.ProcessEvents(ctx, store, 500)
}

// StateHash computes a deterministic digest of all read-model state: per-table
// ordered row hashes plus the checkpoint. Two rebuilds from the same log must
// produce the same digest.
func (p *ProjectionStore) StateHash(ctx context.Context) (string, error) {
	tables := []struct {
		name    string
		sortKey string
	}{
		{"proj.loops", "loop_id"},
		{"proj.iterations", "iteration_id"},
		{"proj.candidates", "candidate_id"},
		{"proj.runs", "run_id"},
		{"proj.evidence", "bundle_hash"},
		{"proj.approvals", "approval_id"},
		{"proj.decisions", "decision_id"},
		{"proj.stop_triggers", "trigger_id"},
	}
	hasher := sha256.New()
	for _, table := range tables {
		query := fmt.Sprintf(
			`SELECT COUNT(*), COALESCE(md5(string_agg(row_hash, '' ORDER BY sort_key)), 'empty')
			 FROM (SELECT %s::text AS sort_key, md5(t::text) AS row_hash FROM %s t) sub`,
			table.sortKey, table.name)
		var rowCount int64
		var contentHash string
		if err := p.conn.Pool.QueryRow(ctx, query).Scan(&rowCount, &contentHash); err != nil {
			return "", fmt.Errorf("hash %s, details: %v", table.name, err)
		}
		hasher.Write([]byte(table.name))
		hasher.Write(binary.LittleEndian.AppendUint64(nil, uint64(rowCount)))
		hasher.Write([]byte(contentHash))
	}
	checkpoint, err := p.Checkpoint(ctx)
	if err != nil {
		return "", err
	}
	hasher.Write(binary.LittleEndian.AppendUint64(nil, uint64(checkpoint)))
	return "sha256:" + hex.EncodeToString(hasher.Sum(nil)), nil
}

func applyEvent(ctx context.Context, tx pgx.Tx, e sr.EventEnvelope) error {
	switch e.EventType {
	case sr.EventLoopCreated:
		var payload sr.LoopCreatedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode LoopCreated payload, details: %v", err)
		}
		budgets, _ := json.Marshal(payload.Budgets)
		_, err := tx.Exec(ctx,
			`INSERT INTO proj.loops
				(loop_id, title, goal, state, budgets, policy_profile,
				 created_by_kind, created_by_id, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10)
			 ON CONFLICT (loop_id) DO NOTHING`,
			e.StreamID, payload.Title, payload.Goal, string(sr.LoopCreated), budgets,
			[]byte(payload.PolicyProfile), string(e.ActorKind), e.ActorID, e.OccurredAt, e.StreamSeq)
		return err

	case sr.EventLoopActivated, sr.EventLoopPaused, sr.EventLoopResumed, sr.EventLoopClosed:
		state := map[string]sr.LoopState{
			sr.EventLoopActivated: sr.LoopActive,
			sr.EventLoopPaused:    sr.LoopPaused,
			sr.EventLoopResumed:   sr.LoopActive,
			sr.EventLoopClosed:    sr.LoopClosed,
		}[e.EventType]
		_, err := tx.Exec(ctx,
			`UPDATE proj.loops SET state = $1, updated_at = $2, version = $3 WHERE loop_id = $4 AND version < $3`,
			string(state), e.OccurredAt, e.StreamSeq, e.StreamID)
		return err

	case sr.EventIterationStarted:
		var payload sr.IterationStartedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode IterationStarted payload, details: %v", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO proj.iterations (iteration_id, loop_id, sequence, state, started_at)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (iteration_id) DO NOTHING`,
			payload.IterationID, payload.LoopID, payload.Sequence,
			string(sr.IterationStarted), e.OccurredAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE proj.loops SET iteration_count = GREATEST(iteration_count, $1), updated_at = $2 WHERE loop_id = $3`,
			payload.Sequence, e.OccurredAt, payload.LoopID)
		return err

	case sr.EventIterationCompleted:
		var payload sr.IterationCompletedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode IterationCompleted payload, details: %v", err)
		}
		state := sr.IterationCompleted
		if payload.Outcome == "FAILED" {
			state = sr.IterationFailed
		}
		if _, err := tx.Exec(ctx,
			`UPDATE proj.iterations SET state = $1, outcome = $2, completed_at = $3,
				candidate_id = COALESCE(NULLIF($4, ''), candidate_id)
			 WHERE iteration_id = $5`,
			string(state), payload.Outcome, e.OccurredAt, payload.CandidateID, payload.IterationID); err != nil {
			return err
		}
		failures := `0`
		if state == sr.IterationFailed {
			failures = `consecutive_failures + 1`
		}
		_, err := tx.Exec(ctx,
			`UPDATE proj.loops SET consecutive_failures = `+failures+`, updated_at = $1 WHERE loop_id = $2`,
			e.OccurredAt, payload.LoopID)
		return err

	case sr.EventStopTriggered:
		var payload sr.StopTriggeredPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode StopTriggered payload, details: %v", err)
		}
		actions, _ := json.Marshal(payload.RequiredActions)
		_, err := tx.Exec(ctx,
			`INSERT INTO proj.stop_triggers
				(trigger_id, loop_id, trigger_type, reason, recommended_portal,
				 required_actions, allow_retry, raised_at)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
			 ON CONFLICT (trigger_id) DO NOTHING`,
			payload.TriggerID, payload.LoopID, payload.Type, payload.Reason,
			payload.RecommendedPortal, actions, payload.AllowRetry, e.OccurredAt)
		return err

	case sr.EventCandidateMaterialized:
		var payload sr.CandidateMaterializedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode CandidateMaterialized payload, details: %v", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO proj.candidates
				(candidate_id, loop_id, iteration_id, description,
				 submitted_by_kind, submitted_by_id, submitted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (candidate_id) DO NOTHING`,
			payload.CandidateID, payload.LoopID, payload.IterationID, payload.Description,
			string(e.ActorKind), e.ActorID, e.OccurredAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE proj.iterations SET candidate_id = $1 WHERE iteration_id = $2`,
			payload.CandidateID, payload.IterationID)
		return err

	case sr.EventCandidateVerificationComputed:
		var payload sr.CandidateVerificationComputedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode CandidateVerificationComputed payload, details: %v", err)
		}
		verified := payload.Status == "VERIFIED" || payload.Status == "VERIFIED_WITH_WAIVERS"
		_, err := tx.Exec(ctx,
			`UPDATE proj.candidates SET verified = $1, verified_at = $2 WHERE candidate_id = $3`,
			verified, e.OccurredAt, payload.CandidateID)
		return err

	case sr.EventRunStarted:
		var payload sr.RunStartedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode RunStarted payload, details: %v", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO proj.runs
				(run_id, suite_id, suite_hash, candidate_id, loop_id, state,
				 requested_by_kind, requested_by_id, requested_at, started_at, attempt_count)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $9, 1)
			 ON CONFLICT (run_id) DO NOTHING`,
			payload.RunID, payload.SuiteID, payload.SuiteHash, payload.CandidateID, payload.LoopID,
			string(sr.RunStarted), string(e.ActorKind), e.ActorID, e.OccurredAt)
		return err

	case sr.EventRunCompleted:
		var payload sr.RunCompletedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode RunCompleted payload, details: %v", err)
		}
		_, err := tx.Exec(ctx,
			`UPDATE proj.runs SET state = $1, verdict = $2,
				bundle_hash = COALESCE(NULLIF($3, ''), bundle_hash),
				env_digest = COALESCE(NULLIF($4, ''), env_digest),
				attempt_count = GREATEST(attempt_count, $5), completed_at = $6
			 WHERE run_id = $7`,
			string(sr.RunCompleted), payload.Verdict, payload.BundleHash,
			payload.EnvDigest, payload.AttemptCount, e.OccurredAt, payload.RunID)
		return err

	case sr.EventEvidenceBundleRecorded:
		var payload sr.EvidenceBundleRecordedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode EvidenceBundleRecorded payload, details: %v", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO proj.evidence (bundle_hash, run_id, candidate_id, verdict, stored_at, size_bytes)
			 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (bundle_hash) DO NOTHING`,
			payload.BundleHash, payload.RunID, payload.CandidateID, payload.Verdict,
			e.OccurredAt, payload.SizeBytes); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE proj.runs SET bundle_hash = $1 WHERE run_id = $2 AND bundle_hash IS NULL`,
			payload.BundleHash, payload.RunID)
		return err

	case sr.EventApprovalRecorded:
		var payload sr.ApprovalRecordedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode ApprovalRecorded payload, details: %v", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO proj.approvals
				(approval_id, loop_id, candidate_id, portal_kind, decision, rationale,
				 decided_by_kind, decided_by_id, decided_at)
			 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (approval_id) DO NOTHING`,
			payload.ApprovalID, payload.LoopID, payload.CandidateID, payload.PortalKind,
			payload.Decision, payload.Rationale, string(e.ActorKind), e.ActorID, e.OccurredAt)
		return err

	case sr.EventDecisionRecorded:
		var payload sr.DecisionRecordedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("decode DecisionRecorded payload, details: %v", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO proj.decisions
				(decision_id, loop_id, kind, subject, payload,
				 recorded_by_kind, recorded_by_id, recorded_at)
			 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
			 ON CONFLICT (decision_id) DO NOTHING`,
			payload.DecisionID, payload.LoopID, payload.Kind, payload.Subject,
			[]byte(payload.Payload), string(e.ActorKind), e.ActorID, e.OccurredAt); err != nil {
			return err
		}
		if payload.Resume {
			// A resuming decision clears the loop's active stop triggers.
			if _, err := tx.Exec(ctx,
				`UPDATE proj.stop_triggers SET resolved_at = $1 WHERE loop_id = $2 AND resolved_at IS NULL`,
				e.OccurredAt, payload.LoopID); err != nil {
				return err
			}
		}
		return nil
	}

	// Unknown event types replay without projection effect.
	return nil
}
