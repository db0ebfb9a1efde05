package rediscache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	sr "github.com/solver-ralph/sr"
)

type mockCache struct {
	mu     sync.Mutex
	lookup map[string][]byte
}

// NewMockClient returns an in-memory cache for tests and the e2e harness.
// Expirations are ignored.
func NewMockClient() sr.Cache {
	return &mockCache{
		lookup: make(map[string][]byte),
	}
}

func (m *mockCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookup[key] = []byte(value)
	return nil
}

func (m *mockCache) Get(ctx context.Context, key string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ba, ok := m.lookup[key]
	return ok, string(ba), nil
}

func (m *mockCache) SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error {
	ba, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookup[key] = ba
	return nil
}

func (m *mockCache) GetStruct(ctx context.Context, key string, target any) (bool, error) {
	m.mu.Lock()
	ba, ok := m.lookup[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(ba, target)
}

func (m *mockCache) Delete(ctx context.Context, keys []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := false
	for _, k := range keys {
		if _, ok := m.lookup[k]; ok {
			delete(m.lookup, k)
			deleted = true
		}
	}
	return deleted, nil
}

func (m *mockCache) Ping(ctx context.Context) error {
	return nil
}
