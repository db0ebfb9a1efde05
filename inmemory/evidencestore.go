package inmemory

import (
	"context"
	"fmt"
	"sync"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/evidence"
)

type storedBundle struct {
	manifest []byte
	blobs    map[string][]byte
}

// EvidenceStore is an in-memory content-addressed bundle store with the same
// immutability semantics as the MinIO store.
type EvidenceStore struct {
	mu      sync.RWMutex
	bundles map[string]storedBundle
}

func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{
		bundles: make(map[string]storedBundle),
	}
}

func (s *EvidenceStore) Store(ctx context.Context, manifest []byte, blobs map[string][]byte) (string, error) {
	contentHash := evidence.ComputeBundleHash(manifest, blobs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bundles[contentHash]; exists {
		return contentHash, nil
	}
	copied := make(map[string][]byte, len(blobs))
	for name, data := range blobs {
		copied[name] = append([]byte(nil), data...)
	}
	s.bundles[contentHash] = storedBundle{
		manifest: append([]byte(nil), manifest...),
		blobs:    copied,
	}
	return contentHash, nil
}

func (s *EvidenceStore) Retrieve(ctx context.Context, contentHash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[contentHash]
	if !ok {
		return nil, sr.Error{Code: sr.EvidenceNotFound, Err: fmt.Errorf("evidence not found: %s", contentHash)}
	}
	return append([]byte(nil), b.manifest...), nil
}

func (s *EvidenceStore) RetrieveBlob(ctx context.Context, contentHash, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[contentHash]
	if !ok {
		return nil, sr.Error{Code: sr.EvidenceNotFound, Err: fmt.Errorf("evidence not found: %s", contentHash)}
	}
	data, ok := b.blobs[name]
	if !ok {
		return nil, sr.Error{Code: sr.EvidenceNotFound, Err: fmt.Errorf("blob %s not found in %s", name, contentHash)}
	}
	return append([]byte(nil), data...), nil
}

func (s *EvidenceStore) Exists(ctx context.Context, contentHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bundles[contentHash]
	return ok, nil
}
