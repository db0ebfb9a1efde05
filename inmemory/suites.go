package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	sr "github.com/solver-ralph/sr"
)

// SuiteRegistry is an in-memory sr.SuiteRegistry for tests and the harness.
type SuiteRegistry struct {
	mu     sync.RWMutex
	suites map[string]sr.SuiteRecord
}

func NewSuiteRegistry() *SuiteRegistry {
	return &SuiteRegistry{suites: make(map[string]sr.SuiteRecord)}
}

func (r *SuiteRegistry) Register(ctx context.Context, suiteID, suiteHash string, definition json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.suites[suiteID]; ok {
		if existing.Pinned && existing.SuiteHash != suiteHash {
			return sr.Error{
				Code:     sr.InvariantViolation,
				Err:      fmt.Errorf("suite %s is pinned to %s", suiteID, existing.SuiteHash),
				UserData: suiteID,
			}
		}
		existing.SuiteHash = suiteHash
		existing.Definition = append(json.RawMessage(nil), definition...)
		existing.UpdatedAt = now
		r.suites[suiteID] = existing
		return nil
	}
	r.suites[suiteID] = sr.SuiteRecord{
		SuiteID:    suiteID,
		SuiteHash:  suiteHash,
		Definition: append(json.RawMessage(nil), definition...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (r *SuiteRegistry) Pin(ctx context.Context, suiteID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	suite, ok := r.suites[suiteID]
	if !ok {
		return sr.NotFoundError(suiteID)
	}
	suite.Pinned = true
	suite.UpdatedAt = time.Now().UTC()
	r.suites[suiteID] = suite
	return nil
}

func (r *SuiteRegistry) Get(ctx context.Context, suiteID string) (*sr.SuiteRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	suite, ok := r.suites[suiteID]
	if !ok {
		return nil, sr.NotFoundError(suiteID)
	}
	copied := suite
	copied.Definition = append(json.RawMessage(nil), suite.Definition...)
	return &copied, nil
}

func (r *SuiteRegistry) List(ctx context.Context) ([]sr.SuiteRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]sr.SuiteRecord, 0, len(r.suites))
	for _, suite := range r.suites {
		out = append(out, suite)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuiteID < out[j].SuiteID })
	return out, nil
}
