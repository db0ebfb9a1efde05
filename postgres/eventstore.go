package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	sr "github.com/solver-ralph/sr"
)

// EventStore is the pgx-backed append-only event log. Appends write outbox
// rows in the same transaction so publication can never observe an event the
// log does not hold.
type EventStore struct {
	conn *Connection
}

func NewEventStore(conn *Connection) *EventStore {
	return &EventStore{conn: conn}
}

// Append atomically appends events to a stream. expectedVersion must equal the
// stream's current version; the stream row is locked for the duration of the
// transaction so concurrent appenders serialize.
func (s *EventStore) Append(ctx context.Context, streamID string, expectedVersion uint64, events []sr.EventEnvelope) (uint64, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	tx, err := s.conn.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append transaction, details: %v", err)
	}
	defer tx.Rollback(ctx)

	var currentVersion uint64
	err = tx.QueryRow(ctx,
		`SELECT stream_version FROM es.streams WHERE stream_id = $1 FOR UPDATE`,
		streamID).Scan(&currentVersion)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if expectedVersion != 0 {
			return 0, sr.NotFoundError(streamID)
		}
		kind := sr.InferStreamKind(streamID)
		if _, err := tx.Exec(ctx,
			`INSERT INTO es.streams (stream_id, stream_kind, stream_version) VALUES ($1, $2, 0)`,
			streamID, string(kind)); err != nil {
			return 0, fmt.Errorf("create stream %s, details: %v", streamID, err)
		}
		currentVersion = 0
	case err != nil:
		return 0, fmt.Errorf("lock stream %s, details: %v", streamID, err)
	}

	if currentVersion != expectedVersion {
		return 0, sr.ConflictError(streamID, expectedVersion, currentVersion)
	}

	version := currentVersion
	for _, e := range events {
		version++
		if e.StreamSeq != version {
			return 0, sr.Error{
				Code: sr.InvariantViolation,
				Err:  fmt.Errorf("event stream_seq %d does not follow version %d on %s", e.StreamSeq, version-1, streamID),
			}
		}
		var globalSeq uint64
		err = tx.QueryRow(ctx,
			`INSERT INTO es.events
				(event_id, stream_id, stream_seq, occurred_at, actor_kind, actor_id,
				 event_type, correlation_id, causation_id, supersedes, refs, payload, envelope_hash)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12, $13)
			 RETURNING global_seq`,
			e.EventID, e.StreamID, e.StreamSeq, e.OccurredAt, string(e.ActorKind), e.ActorID,
			e.EventType, e.CorrelationID, e.CausationID, jsonOrNil(e.Supersedes), jsonOrNil(e.Refs),
			[]byte(e.Payload), e.EnvelopeHash).Scan(&globalSeq)
		if err != nil {
			return 0, fmt.Errorf("insert event %s, details: %v", e.EventID, err)
		}

		e.GlobalSeq = globalSeq
		if err := writeOutboxRow(ctx, tx, e); err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE es.streams SET stream_version = $1 WHERE stream_id = $2`,
		version, streamID); err != nil {
		return 0, fmt.Errorf("bump stream version %s, details: %v", streamID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append %s, details: %v", streamID, err)
	}
	return version, nil
}

// ReadStream returns events of one stream in sequence order, starting after fromSeq.
func (s *EventStore) ReadStream(ctx context.Context, streamID string, fromSeq uint64, limit int) ([]sr.EventEnvelope, error) {
	var exists bool
	if err := s.conn.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM es.streams WHERE stream_id = $1)`, streamID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check stream %s, details: %v", streamID, err)
	}
	if !exists {
		return nil, sr.NotFoundError(streamID)
	}

	rows, err := s.conn.Pool.Query(ctx,
		selectEvents+` WHERE stream_id = $1 AND stream_seq > $2 ORDER BY stream_seq LIMIT $3`,
		streamID, fromSeq, nonZeroLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("read stream %s, details: %v", streamID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReplayAll returns events across all streams in global order, starting after
// fromGlobalSeq. This is the replay surface for projections and proofs.
func (s *EventStore) ReplayAll(ctx context.Context, fromGlobalSeq uint64, limit int) ([]sr.EventEnvelope, error) {
	rows, err := s.conn.Pool.Query(ctx,
		selectEvents+` WHERE global_seq > $1 ORDER BY global_seq LIMIT $2`,
		fromGlobalSeq, nonZeroLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("replay events, details: %v", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

const selectEvents = `SELECT global_seq, event_id, stream_id, stream_seq, occurred_at,
	actor_kind, actor_id, event_type, COALESCE(correlation_id, ''), COALESCE(causation_id, ''),
	supersedes, refs, payload, envelope_hash FROM es.events`

func scanEvents(rows pgx.Rows) ([]sr.EventEnvelope, error) {
	var out []sr.EventEnvelope
	for rows.Next() {
		var e sr.EventEnvelope
		var actorKind string
		var supersedes, refs, payload []byte
		if err := rows.Scan(&e.GlobalSeq, &e.EventID, &e.StreamID, &e.StreamSeq, &e.OccurredAt,
			&actorKind, &e.ActorID, &e.EventType, &e.CorrelationID, &e.CausationID,
			&supersedes, &refs, &payload, &e.EnvelopeHash); err != nil {
			return nil, fmt.Errorf("scan event row, details: %v", err)
		}
		e.ActorKind = sr.ActorKind(actorKind)
		e.StreamKind = sr.InferStreamKind(e.StreamID)
		e.Payload = payload
		if len(supersedes) > 0 {
			if err := json.Unmarshal(supersedes, &e.Supersedes); err != nil {
				return nil, fmt.Errorf("decode supersedes of %s, details: %v", e.EventID, err)
			}
		}
		if len(refs) > 0 {
			if err := json.Unmarshal(refs, &e.Refs); err != nil {
				return nil, fmt.Errorf("decode refs of %s, details: %v", e.EventID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func jsonOrNil(v any) []byte {
	switch value := v.(type) {
	case []string:
		if len(value) == 0 {
			return nil
		}
	case []sr.TypedRef:
		if len(value) == 0 {
			return nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func nonZeroLimit(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}
