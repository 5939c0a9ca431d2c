package policy

import (
	"context"
	"sync"

	"github.com/quantumflow/finassist/internal/models"
)

// MemoryChunkStore keeps chunks in process memory. Nothing survives a restart.
type MemoryChunkStore struct {
	mu     sync.RWMutex
	chunks []models.Chunk
}

// NewMemoryChunkStore creates an empty in-memory store
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{}
}

func (s *MemoryChunkStore) Append(ctx context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *MemoryChunkStore) All(ctx context.Context) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Chunk(nil), s.chunks...), nil
}

func (s *MemoryChunkStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *MemoryChunkStore) Close() error {
	return nil
}
