// Package registry tracks the clients currently connected to this process.
// It is the authoritative in-memory view of who is online and carries the
// routing attributes (user, branch, organization, roles) the dispatcher and
// health monitor read. The registry is the sole writer of connection records;
// everything else only reads.
package registry

import (
	"errors"
	"sort"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/look4dennis/stride-notify/internal/notification"
)

// ErrInvalidConnection is returned when a register call is missing the
// connection id or a positive user id.
var ErrInvalidConnection = errors.New("connection requires an id and a positive user id")

// Registry is a concurrent map of live connections keyed by the
// transport-assigned connection id.
//
// Thread Safety:
// All methods are safe for concurrent use from dispatch calls, the health
// monitor, and the transport's connect/disconnect callbacks. Read methods
// return copies so callers can never mutate registry state.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]notification.Connection
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]notification.Connection)}
}

// Register adds or refreshes a connection. Re-registering an existing
// connection id overwrites the previous record, which covers transports that
// re-announce a session after a reconnect.
func (r *Registry) Register(conn notification.Connection) error {
	if conn.ID == "" || conn.UserID <= 0 {
		return ErrInvalidConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
	return nil
}

// Unregister removes a connection. Unknown ids are ignored (idempotent), so
// duplicate disconnect callbacks from the transport are harmless.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connectionID)
}

// All returns a copy of every live connection, in no particular order.
func (r *Registry) All() []notification.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]notification.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// ByUser returns all connections belonging to a user. A user with several
// open sessions (browser tabs, mobile app) has one entry per session.
func (r *Registry) ByUser(userID int) []notification.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []notification.Connection
	for _, c := range r.conns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// ByConnectionID returns a single connection by id.
func (r *Registry) ByConnectionID(connectionID string) (notification.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connectionID]
	return c, ok
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.conns {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// OnlineUserIDs returns the distinct ids of online users, sorted ascending.
func (r *Registry) OnlineUserIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.conns))
	for _, c := range r.conns {
		if !slices.Contains(ids, c.UserID) {
			ids = append(ids, c.UserID)
		}
	}
	sort.Ints(ids)
	return ids
}

// Count returns the number of live connections (not distinct users).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
