// Package transport provides the push-channel implementations the hub can
// run on: an in-process loopback used by tests and single-binary
// deployments, and an AMQP publisher that hands fan-out to a broker edge.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/look4dennis/stride-notify/internal/notification"
	"github.com/look4dennis/stride-notify/internal/registry"
)

// Send is one recorded loopback delivery. ConnectionIDs lists the
// connections that were members of the group at send time, when the loopback
// is bound to a registry.
type Send struct {
	Group         string
	Event         string
	Payload       any
	ConnectionIDs []string
	At            time.Time
}

// Loopback is an in-memory Transport. It resolves group keys against the
// bound registry the way a real push edge would and records every send for
// inspection. An injectable failure hook lets tests simulate broken
// recipients.
type Loopback struct {
	mu       sync.Mutex
	registry *registry.Registry
	sends    []Send

	// FailFunc, when set, is consulted before each send; a non-nil return
	// makes the send fail with that error.
	FailFunc func(group, event string) error
}

// NewLoopback creates a loopback transport. The registry may be nil, in
// which case member resolution is skipped and sends are still recorded.
func NewLoopback(reg *registry.Registry) *Loopback {
	return &Loopback{registry: reg}
}

// SendToGroup records a delivery to every connection matching the group key.
func (l *Loopback) SendToGroup(_ context.Context, group string, event string, payload any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailFunc != nil {
		if err := l.FailFunc(group, event); err != nil {
			return err
		}
	}

	s := Send{Group: group, Event: event, Payload: payload, At: time.Now()}
	if l.registry != nil {
		if target, err := notification.ParseGroupKey(group); err == nil {
			for _, c := range l.registry.All() {
				if target.Matches(c) {
					s.ConnectionIDs = append(s.ConnectionIDs, c.ID)
				}
			}
		}
	}
	l.sends = append(l.sends, s)
	return nil
}

// SendToAll records a broadcast to every live connection.
func (l *Loopback) SendToAll(ctx context.Context, event string, payload any) error {
	return l.SendToGroup(ctx, notification.BroadcastKey, event, payload)
}

// Sends returns a copy of every recorded send in order.
func (l *Loopback) Sends() []Send {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Send(nil), l.sends...)
}

// SendsTo returns the recorded sends routed to one group key.
func (l *Loopback) SendsTo(group string) []Send {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Send
	for _, s := range l.sends {
		if s.Group == group {
			out = append(out, s)
		}
	}
	return out
}

// Reset discards all recorded sends.
func (l *Loopback) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sends = nil
}
