package replay

import (
	"context"

	"github.com/solver-ralph/sr/inmemory"
	"github.com/solver-ralph/sr/postgres"
)

// PostgresTarget rebuilds the proj schema read models.
type PostgresTarget struct {
	store       *postgres.EventStore
	projections *postgres.ProjectionStore
}

func NewPostgresTarget(store *postgres.EventStore, projections *postgres.ProjectionStore) *PostgresTarget {
	return &PostgresTarget{store: store, projections: projections}
}

func (t *PostgresTarget) Rebuild(ctx context.Context) (int, error) {
	return t.projections.RebuildAll(ctx, t.store)
}

func (t *PostgresTarget) StateHash(ctx context.Context) (string, error) {
	return t.projections.StateHash(ctx)
}

// MemoryTarget rebuilds in-memory projections, used by tests and the harness.
type MemoryTarget struct {
	store       *inmemory.EventStore
	projections *inmemory.Projections
}

func NewMemoryTarget(store *inmemory.EventStore, projections *inmemory.Projections) *MemoryTarget {
	return &MemoryTarget{store: store, projections: projections}
}

func (t *MemoryTarget) Rebuild(ctx context.Context) (int, error) {
	t.projections.Reset()
	applied := 0
	var from uint64
	for {
		events, err := t.store.ReplayAll(ctx, from, 500)
		if err != nil {
			return applied, err
		}
		if len(events) == 0 {
			return applied, nil
		}
		for _, e := range events {
			if err := t.projections.Apply(ctx, e); err != nil {
				return applied, err
			}
			applied++
		}
		from = events[len(events)-1].GlobalSeq
	}
}

func (t *MemoryTarget) StateHash(ctx context.Context) (string, error) {
	return t.projections.StateHash(), nil
}
