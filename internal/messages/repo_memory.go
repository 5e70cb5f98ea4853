package messages

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a simple in-memory store useful for tests.
// It is not intended for production use.

type MemoryStore struct {
	mu           sync.Mutex
	msgs         []Message
	participants map[string][]string

	// CreateErr, when set, is returned by Create to simulate a failing
	// persistence layer.
	CreateErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{participants: make(map[string][]string)}
}

func (s *MemoryStore) Create(ctx context.Context, conversationID, senderID, body string, at time.Time) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return Message{}, s.CreateErr
	}
	m := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		SentAt:         at,
	}
	s.msgs = append(s.msgs, m)
	return m, nil
}

func (s *MemoryStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[conversationID]
	if !ok || len(p) == 0 {
		return nil, ErrNotFound
	}
	out := make([]string, len(p))
	copy(out, p)
	return out, nil
}

func (s *MemoryStore) SetParticipants(conversationID string, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[conversationID] = append([]string(nil), userIDs...)
}

func (s *MemoryStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}
