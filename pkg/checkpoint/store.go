// Package checkpoint persists per-entity collection cursors so an
// interrupted run resumes at the next unfetched page instead of
// restarting from page one.
package checkpoint

import (
	"context"
	"sync"

	"github.com/ajitpratap0/comet/pkg/record"
)

// Store is the durable checkpoint contract. Save is synchronous and
// idempotent: re-saving an identical checkpoint is a no-op.
type Store interface {
	Save(ctx context.Context, entity record.EntityType, cp record.Checkpoint) error
	Load(ctx context.Context, entity record.EntityType) (record.Checkpoint, bool, error)
	Close() error
}

// MemoryStore keeps checkpoints in memory. Used in tests and for runs
// that explicitly opt out of resumability.
type MemoryStore struct {
	mu  sync.RWMutex
	cps map[record.EntityType]record.Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cps: make(map[record.EntityType]record.Checkpoint)}
}

// Save stores the checkpoint for an entity type.
func (s *MemoryStore) Save(_ context.Context, entity record.EntityType, cp record.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cps[entity] = cp
	return nil
}

// Load returns the stored checkpoint, with found=false when absent.
func (s *MemoryStore) Load(_ context.Context, entity record.EntityType) (record.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.cps[entity]
	return cp, ok, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
