package signaling

import (
	"sync"
	"time"
)

// ActiveCall is the transient state of one call attempt between its
// invite and its terminal event.
type ActiveCall struct {
	PeerID    string
	StartedAt time.Time
}

// CallTracker maps an initiator's subject identifier to the call it has
// in flight. A subject appears as a key at most once; overlapping
// invites from the same initiator are not modeled, the last one wins.
// State is process-local, mirroring the connection registry's scaling
// boundary.
type CallTracker struct {
	mu     sync.Mutex
	active map[string]ActiveCall
}

func NewCallTracker() *CallTracker {
	return &CallTracker{active: make(map[string]ActiveCall)}
}

// Begin records a ringing call keyed by its initiator.
func (t *CallTracker) Begin(initiatorID, peerID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[initiatorID] = ActiveCall{PeerID: peerID, StartedAt: at}
}

// Get returns the in-flight call keyed by userID, if any.
func (t *CallTracker) Get(userID string) (ActiveCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.active[userID]
	return c, ok
}

// Delete removes any entries keyed by the given users. Terminal event
// handlers call this with both participants so no entry survives a
// teardown regardless of which side initiated.
func (t *CallTracker) Delete(userIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range userIDs {
		delete(t.active, id)
	}
}

// Len returns the number of calls currently in flight.
func (t *CallTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
