package messages

import (
	"context"
	"sync"
	"time"
)

// Memberships answers "who is in this conversation".
type Memberships interface {
	Participants(ctx context.Context, conversationID string) ([]string, error)
}

// MembershipCache fronts a Memberships source with a TTL cache so the
// per-message delivery path does not hit the store for every frame.
// Membership churn is tolerated up to one TTL of staleness; only
// successful lookups are cached.
type MembershipCache struct {
	next Memberships
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]membershipEntry
}

type membershipEntry struct {
	participants []string
	fetchedAt    time.Time
}

func NewMembershipCache(next Memberships, ttl time.Duration) *MembershipCache {
	return &MembershipCache{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]membershipEntry),
	}
}

func (c *MembershipCache) Participants(ctx context.Context, conversationID string) ([]string, error) {
	c.mu.Lock()
	if e, ok := c.entries[conversationID]; ok && c.now().Sub(e.fetchedAt) < c.ttl {
		out := make([]string, len(e.participants))
		copy(out, e.participants)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	participants, err := c.next.Participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[conversationID] = membershipEntry{participants: participants, fetchedAt: c.now()}
	c.mu.Unlock()

	out := make([]string, len(participants))
	copy(out, participants)
	return out, nil
}

// Invalidate drops the cached entry for a conversation.
func (c *MembershipCache) Invalidate(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
}
