// Package inmemory provides in-process implementations of the storage ports.
// They back unit tests and the e2e harness's in-process mode; production code
// uses the postgres, minio, and natsbus packages.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	sr "github.com/solver-ralph/sr"
)

// EventStore is a mutex-guarded in-memory event log with the same optimistic
// concurrency semantics as the Postgres store.
type EventStore struct {
	mu        sync.RWMutex
	streams   map[string]uint64
	events    []sr.EventEnvelope
	globalSeq uint64

	// AppendHook, when set, observes every appended event. The harness wires
	// the projection fold through it.
	AppendHook func(e sr.EventEnvelope)
}

func NewEventStore() *EventStore {
	return &EventStore{
		streams: make(map[string]uint64),
	}
}

func (s *EventStore) Append(ctx context.Context, streamID string, expectedVersion uint64, events []sr.EventEnvelope) (uint64, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.streams[streamID]
	if !exists && expectedVersion != 0 {
		return 0, sr.NotFoundError(streamID)
	}
	if current != expectedVersion {
		return 0, sr.ConflictError(streamID, expectedVersion, current)
	}

	// Validate the whole batch before touching state; Postgres gets this
	// from its transaction rollback.
	for i, e := range events {
		if want := current + uint64(i) + 1; e.StreamSeq != want {
			return 0, sr.Error{
				Code: sr.InvariantViolation,
				Err:  fmt.Errorf("event stream_seq %d does not follow version %d on %s", e.StreamSeq, want-1, streamID),
			}
		}
	}

	version := current
	appended := make([]sr.EventEnvelope, 0, len(events))
	for _, e := range events {
		version++
		s.globalSeq++
		e.GlobalSeq = s.globalSeq
		s.events = append(s.events, e)
		appended = append(appended, e)
	}
	s.streams[streamID] = version

	if s.AppendHook != nil {
		for _, e := range appended {
			s.AppendHook(e)
		}
	}
	return version, nil
}

func (s *EventStore) ReadStream(ctx context.Context, streamID string, fromSeq uint64, limit int) ([]sr.EventEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.streams[streamID]; !exists {
		return nil, sr.NotFoundError(streamID)
	}
	// Same default page size as the Postgres store, so callers that forget
	// to page see the truncation here too.
	max := limit
	if max <= 0 {
		max = 1000
	}
	var out []sr.EventEnvelope
	for _, e := range s.events {
		if e.StreamID == streamID && e.StreamSeq > fromSeq {
			out = append(out, e)
			if len(out) >= max {
				break
			}
		}
	}
	return out, nil
}

func (s *EventStore) ReplayAll(ctx context.Context, fromGlobalSeq uint64, limit int) ([]sr.EventEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := limit
	if max <= 0 {
		max = 1000
	}
	var out []sr.EventEnvelope
	for _, e := range s.events {
		if e.GlobalSeq > fromGlobalSeq {
			out = append(out, e)
			if len(out) >= max {
				break
			}
		}
	}
	return out, nil
}

// Version returns a stream's current version, or 0 when absent.
func (s *EventStore) Version(streamID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[streamID]
}
