package content

import (
	"context"
	"slices"
	"sync"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
)

type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, key, contentType string, data []byte) (Transaction, error) {
	staged := slices.Clone(data)
	return &stagedTx{
		digest: Digest(staged),
		commit: func(ctx context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.objects[key] = staged
			return nil
		},
		abort: func(ctx context.Context) error { return nil },
	}, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	return slices.Clone(data), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
