package calls

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a simple in-memory append-only store useful for tests.
// It is not intended for production use.

type MemoryStore struct {
	mu   sync.Mutex
	logs []Log

	// CreateErr, when set, is returned by Create to simulate a failing
	// persistence layer.
	CreateErr error
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Create(ctx context.Context, l Log) (Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return Log{}, s.CreateErr
	}
	l.ID = uuid.NewString()
	s.logs = append(s.logs, l)
	return l, nil
}

func (s *MemoryStore) Logs() []Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Log, len(s.logs))
	copy(out, s.logs)
	return out
}
