package ledger

import (
	"bytes"
	"context"
	"sync"

	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
)

// MemoryStore is an in-memory, thread-safe Store. It is useful for tests
// and for single-process deployments that do not need records to survive
// a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[fingerprint.Fingerprint]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[fingerprint.Fingerprint]*Record)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, r *Record) (PutOutcome, error) {
	rec, err := prepare(r)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.Fingerprint]; ok {
		if bytes.Equal(existing.Payload, rec.Payload) {
			return AlreadyPresent, nil
		}
		return 0, &ConflictError{Fingerprint: rec.Fingerprint}
	}
	s.records[rec.Fingerprint] = rec
	return Inserted, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, fp fingerprint.Fingerprint) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[fp]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}
