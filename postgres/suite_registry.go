package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	sr "github.com/solver-ralph/sr"
)

// SuiteRegistry persists oracle suite definitions with pinning. A pinned suite
// refuses re-registration under a different hash.
type SuiteRegistry struct {
	conn *Connection
}

func NewSuiteRegistry(conn *Connection) *SuiteRegistry {
	return &SuiteRegistry{conn: conn}
}

// Register stores or updates a suite definition. Updating a pinned suite with
// a different hash is an invariant violation.
func (r *SuiteRegistry) Register(ctx context.Context, suiteID, suiteHash string, definition json.RawMessage) error {
	existing, err := r.Get(ctx, suiteID)
	if err != nil && sr.CodeOf(err) != sr.StreamNotFound {
		return err
	}
	if existing != nil && existing.Pinned && existing.SuiteHash != suiteHash {
		return sr.Error{
			Code:     sr.InvariantViolation,
			Err:      fmt.Errorf("suite %s is pinned to %s", suiteID, existing.SuiteHash),
			UserData: suiteID,
		}
	}
	_, err = r.conn.Pool.Exec(ctx,
		`INSERT INTO es.oracle_suites (suite_id, suite_hash, definition)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (suite_id) DO UPDATE
		 SET suite_hash = EXCLUDED.suite_hash, definition = EXCLUDED.definition, updated_at = now()`,
		suiteID, suiteHash, []byte(definition))
	if err != nil {
		return fmt.Errorf("register suite %s, details: %v", suiteID, err)
	}
	return nil
}

// Pin freezes the suite at its current hash.
func (r *SuiteRegistry) Pin(ctx context.Context, suiteID string) error {
	tag, err := r.conn.Pool.Exec(ctx,
		`UPDATE es.oracle_suites SET pinned = TRUE, updated_at = now() WHERE suite_id = $1`, suiteID)
	if err != nil {
		return fmt.Errorf("pin suite %s, details: %v", suiteID, err)
	}
	if tag.RowsAffected() == 0 {
		return sr.NotFoundError(suiteID)
	}
	return nil
}

func (r *SuiteRegistry) Get(ctx context.Context, suiteID string) (*sr.SuiteRecord, error) {
	row := r.conn.Pool.QueryRow(ctx,
		`SELECT suite_id, suite_hash, definition, pinned, created_at, updated_at
		 FROM es.oracle_suites WHERE suite_id = $1`, suiteID)
	var s sr.SuiteRecord
	var definition []byte
	err := row.Scan(&s.SuiteID, &s.SuiteHash, &definition, &s.Pinned, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sr.NotFoundError(suiteID)
	}
	if err != nil {
		return nil, fmt.Errorf("get suite %s, details: %v", suiteID, err)
	}
	s.Definition = definition
	return &s, nil
}

func (r *SuiteRegistry) List(ctx context.Context) ([]sr.SuiteRecord, error) {
	rows, err := r.conn.Pool.Query(ctx,
		`SELECT suite_id, suite_hash, definition, pinned, created_at, updated_at
		 FROM es.oracle_suites ORDER BY suite_id`)
	if err != nil {
		return nil, fmt.Errorf("list suites, details: %v", err)
	}
	defer rows.Close()

	var out []sr.SuiteRecord
	for rows.Next() {
		var s sr.SuiteRecord
		var definition []byte
		if err := rows.Scan(&s.SuiteID, &s.SuiteHash, &definition, &s.Pinned, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan suite row, details: %v", err)
		}
		s.Definition = definition
		out = append(out, s)
	}
	return out, rows.Err()
}
