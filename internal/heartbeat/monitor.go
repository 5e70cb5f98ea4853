package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"chat-relay/internal/registry"
)

// Monitor periodically sweeps every registered connection. A connection
// whose liveness flag is still cleared from the previous sweep is closed
// and evicted; otherwise the flag is cleared and a probe is sent. A
// connection that stays silent is therefore reclaimed after at most two
// intervals, and never after less than one.
type Monitor struct {
	reg      *registry.Registry
	interval time.Duration
	log      *slog.Logger
}

func NewMonitor(reg *registry.Registry, interval time.Duration, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{reg: reg, interval: interval, log: log}
}

// Run sweeps until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep performs one liveness pass over the registry.
func (m *Monitor) Sweep() {
	for _, c := range m.reg.Snapshot() {
		if !c.Alive() {
			_ = c.Close()
			if m.reg.Remove(c.UserID(), c) {
				m.log.Info("evicted stale connection", "user_id", c.UserID())
			}
			continue
		}

		c.SetAlive(false)
		if err := c.Ping(); err != nil {
			// Probe could not even be written; the transport is gone.
			_ = c.Close()
			if m.reg.Remove(c.UserID(), c) {
				m.log.Info("evicted unreachable connection", "user_id", c.UserID(), "err", err)
			}
		}
	}
}
