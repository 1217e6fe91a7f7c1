// Package health implements connection-health tracking and recovery for the
// notification hub. It periodically reconciles its view against the
// connection registry, marks connections unhealthy when they go unobserved
// past a threshold, nominates unhealthy connections for recovery attempts,
// and accounts for heartbeat round trips.
package health

import (
	"log/slog"
	"sync"
	"time"
)

// ConnectionHealth tracks the health state of a single client connection.
// Thread-safe: protected by the Monitor's mutex when accessed.
type ConnectionHealth struct {
	ConnectionID        string    `json:"connectionId"`
	UserID              int       `json:"userId"`
	LastSeen            time.Time `json:"lastSeen"`
	Healthy             bool      `json:"isHealthy"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	RecoveryAttempts    int       `json:"recoveryAttempts"`
	LastRecoveryAttempt time.Time `json:"lastRecoveryAttempt"`
	ConnectedAt         time.Time `json:"connectedAt"`
}

// Observation is the minimal view of a live connection the monitor needs per
// sampling pass: its id, owner and connect time.
type Observation struct {
	ConnectionID string
	UserID       int
	ConnectedAt  time.Time
}

// Monitor keeps best-effort health records per connection. It is a cache
// over the registry, not a source of truth: records are created on first
// observation, refreshed on every sampling pass and heartbeat response, and
// discarded once the underlying connection has been gone longer than the
// staleness window.
//
// Thread Safety: all methods are safe for concurrent access.
type Monitor struct {
	mu             sync.RWMutex
	conns          map[string]*ConnectionHealth
	heartbeatSent  map[string]time.Time
	unhealthyAfter time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewMonitor creates a monitor that marks connections unhealthy after they
// have gone unobserved for unhealthyAfter. A nil logger falls back to
// slog.Default().
func NewMonitor(unhealthyAfter time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		conns:          make(map[string]*ConnectionHealth),
		heartbeatSent:  make(map[string]time.Time),
		unhealthyAfter: unhealthyAfter,
		logger:         logger,
		now:            time.Now,
	}
}

// SetClock overrides the monitor's time source. Tests use this to cross the
// multi-minute thresholds without sleeping.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Observe creates or refreshes the record for one connection. The connect
// callback uses it so a connection is tracked from its first moment.
func (m *Monitor) Observe(o Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observeLocked(o)
}

func (m *Monitor) observeLocked(o Observation) {
	now := m.now()
	h, ok := m.conns[o.ConnectionID]
	if !ok {
		m.conns[o.ConnectionID] = &ConnectionHealth{
			ConnectionID: o.ConnectionID,
			UserID:       o.UserID,
			LastSeen:     now,
			Healthy:      true,
			ConnectedAt:  o.ConnectedAt,
		}
		return
	}
	h.LastSeen = now
	h.Healthy = true
}

// Sample is the periodic reconciliation pass. Every connection present in
// the registry is refreshed (and healthy by definition); every tracked
// connection that was not refreshed within the unhealthy threshold is marked
// unhealthy and its consecutive-failure counter incremented.
func (m *Monitor) Sample(current []Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(current))
	for _, o := range current {
		seen[o.ConnectionID] = true
		m.observeLocked(o)
	}

	now := m.now()
	for id, h := range m.conns {
		if seen[id] {
			continue
		}
		if now.Sub(h.LastSeen) > m.unhealthyAfter {
			wasHealthy := h.Healthy
			h.Healthy = false
			h.ConsecutiveFailures++
			if wasHealthy {
				m.logger.Warn("connection marked unhealthy",
					slog.String("connection_id", id),
					slog.Int("user_id", h.UserID),
					slog.Time("last_seen", h.LastSeen),
					slog.Int("consecutive_failures", h.ConsecutiveFailures))
			}
		}
	}
}

// RecoveryCandidates returns copies of the unhealthy connections whose last
// recovery attempt (if any) is older than the cooldown.
func (m *Monitor) RecoveryCandidates(cooldown time.Duration) []ConnectionHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var out []ConnectionHealth
	for _, h := range m.conns {
		if h.Healthy {
			continue
		}
		if !h.LastRecoveryAttempt.IsZero() && now.Sub(h.LastRecoveryAttempt) < cooldown {
			continue
		}
		out = append(out, *h)
	}
	return out
}

// RecordRecoveryAttempt notes that a recovery was attempted for a
// connection, whether or not it delivered anything. Recovery success is a
// weak liveness proxy; only a heartbeat response or registry refresh
// restores health.
func (m *Monitor) RecordRecoveryAttempt(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.conns[connectionID]
	if !ok {
		return
	}
	h.RecoveryAttempts++
	h.LastRecoveryAttempt = m.now()
}

// RecordHeartbeatSent notes the time a heartbeat was pushed to a connection.
func (m *Monitor) RecordHeartbeatSent(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeatSent[connectionID] = m.now()
}

// RecordHeartbeatResponse handles a client's heartbeat reply: the connection
// is immediately healthy again and its consecutive-failure counter resets.
// Replies for untracked connections are ignored.
func (m *Monitor) RecordHeartbeatResponse(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.conns[connectionID]
	if !ok {
		return
	}
	wasUnhealthy := !h.Healthy
	h.Healthy = true
	h.ConsecutiveFailures = 0
	h.LastSeen = m.now()
	if wasUnhealthy {
		m.logger.Info("connection recovered via heartbeat",
			slog.String("connection_id", connectionID),
			slog.Int("user_id", h.UserID))
	}
}

// CleanupStale removes health records for connections that left the registry
// longer than the staleness window ago, and heartbeat-sent records older
// than the window even if the registry still lists the connection. Returns
// how many records were removed.
func (m *Monitor) CleanupStale(currentIDs map[string]bool, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, h := range m.conns {
		if currentIDs[id] {
			continue
		}
		if now.Sub(h.LastSeen) > window {
			delete(m.conns, id)
			delete(m.heartbeatSent, id)
			removed++
		}
	}
	for id, sent := range m.heartbeatSent {
		if now.Sub(sent) > window {
			delete(m.heartbeatSent, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("cleaned up stale health records", slog.Int("removed", removed))
	}
	return removed
}

// Forget drops the record for one connection immediately, bypassing the
// staleness window.
func (m *Monitor) Forget(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connectionID)
	delete(m.heartbeatSent, connectionID)
}

// Health returns a copy of one connection's record.
func (m *Monitor) Health(connectionID string) (ConnectionHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.conns[connectionID]
	if !ok {
		return ConnectionHealth{}, false
	}
	return *h, true
}

// IsHealthy reports whether a tracked connection is currently healthy.
// Untracked connections report false.
func (m *Monitor) IsHealthy(connectionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.conns[connectionID]
	return ok && h.Healthy
}

// AllHealth returns copies of every tracked record.
func (m *Monitor) AllHealth() []ConnectionHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ConnectionHealth, 0, len(m.conns))
	for _, h := range m.conns {
		out = append(out, *h)
	}
	return out
}
