package registry

import "sync"

// Conn is the handle for one authenticated live connection.
// Implementations must be safe for concurrent use: sends come from any
// connection's handler goroutine, liveness flips come from the heartbeat
// monitor.
type Conn interface {
	// UserID is the verified subject identifier that owns the connection.
	UserID() string

	// Alive reports whether a liveness response arrived since the flag
	// was last cleared.
	Alive() bool

	// SetAlive clears or sets the liveness flag ahead of a probe.
	SetAlive(v bool)

	// Ping sends a transport-level liveness probe.
	Ping() error

	// Send JSON-encodes v and writes it as one frame.
	Send(v any) error

	// Close tears down the underlying transport. Safe to call twice.
	Close() error
}

// Registry is the authoritative answer to "is user X reachable now".
// At most one connection is registered per subject identifier; a new
// connection from the same subject replaces the prior one.
//
// State is process-local. Running multiple relay processes requires
// externalizing this table; that is an explicit scaling boundary, not
// solved here.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func New() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register inserts or replaces the entry for the connection's user.
// A replaced handle is closed so it cannot linger as an orphaned socket.
func (r *Registry) Register(c Conn) {
	userID := c.UserID()

	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = c
	r.mu.Unlock()

	if prev != nil && prev != c {
		_ = prev.Close()
	}
}

// Lookup returns the current handle for userID, if any.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Deregister removes the entry for userID if present; no-op otherwise.
func (r *Registry) Deregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, userID)
}

// Remove deletes the entry for userID only if it still holds c.
// This keeps a disconnect or heartbeat eviction of a stale handle from
// tearing down a replacement connection that registered in between.
func (r *Registry) Remove(userID string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[userID]
	if !ok || cur != c {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Snapshot returns the currently registered handles. The slice is a
// copy; entries may be deregistered concurrently.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live registrations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
