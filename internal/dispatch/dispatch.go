// Package dispatch resolves addressing targets into transport sends. It
// implements the single entry point business event sources use to produce
// notifications: untracked best-effort sends to users, groups, branches,
// organizations, roles or everyone, and confirmation-tracked sends that
// record a delivery status and fall back to the offline queue.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/look4dennis/stride-notify/internal/delivery"
	"github.com/look4dennis/stride-notify/internal/notification"
	"github.com/look4dennis/stride-notify/internal/registry"
)

// Transport is the push-channel primitive the dispatcher depends on. A
// transport must route by the wire group keys (User_{id}, Branch_{id},
// Organization_{id}, Role_{name}) and support a broadcast to every
// connection. Implementations live outside this package.
type Transport interface {
	// SendToGroup delivers an event to every connection in a group.
	SendToGroup(ctx context.Context, group string, event string, payload any) error

	// SendToAll delivers an event to every connection.
	SendToAll(ctx context.Context, event string, payload any) error
}

// DeliveryResult is what a confirmation-tracked send returns to its caller.
// Exactly one of Delivered/Queued is true on success; Err carries the
// transport error when the tracked send failed.
type DeliveryResult struct {
	NotificationID string
	UserID         int
	Delivered      bool
	Queued         bool
	Err            error
}

// Dispatcher routes notifications to connected clients and queues them for
// offline recipients. Untracked sends are best-effort: invalid input and
// transport errors degrade to a logged no-op so one broken recipient never
// aborts delivery to the rest of a group.
type Dispatcher struct {
	transport Transport
	registry  *registry.Registry
	tracker   *delivery.Tracker
	queue     *delivery.Queue
	failed    *delivery.FailedSet
	policy    delivery.Policy
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a dispatcher over the given transport and shared state.
// A nil logger falls back to slog.Default().
func New(t Transport, reg *registry.Registry, tracker *delivery.Tracker, queue *delivery.Queue, failed *delivery.FailedSet, policy delivery.Policy, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		transport: t,
		registry:  reg,
		tracker:   tracker,
		queue:     queue,
		failed:    failed,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the dispatcher's time source for tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// SendToUser pushes a notification to all of one user's connections,
// untracked.
func (d *Dispatcher) SendToUser(ctx context.Context, userID int, p *notification.Payload) {
	if userID <= 0 {
		d.logger.Warn("dispatch skipped: non-positive user id", slog.Int("user_id", userID))
		return
	}
	d.SendToTarget(ctx, notification.UserTarget(userID), p)
}

// SendToGroup pushes a notification to a named group, untracked.
func (d *Dispatcher) SendToGroup(ctx context.Context, groupName string, p *notification.Payload) {
	if groupName == "" {
		d.logger.Warn("dispatch skipped: empty group name")
		return
	}
	d.SendToTarget(ctx, notification.GroupTarget(groupName), p)
}

// SendToBranch pushes a notification to every connection in a branch,
// untracked.
func (d *Dispatcher) SendToBranch(ctx context.Context, branchID int, p *notification.Payload) {
	if branchID <= 0 {
		d.logger.Warn("dispatch skipped: non-positive branch id", slog.Int("branch_id", branchID))
		return
	}
	d.SendToTarget(ctx, notification.BranchTarget(branchID), p)
}

// SendToOrganization pushes a notification to every connection in an
// organization, untracked.
func (d *Dispatcher) SendToOrganization(ctx context.Context, orgID int, p *notification.Payload) {
	if orgID <= 0 {
		d.logger.Warn("dispatch skipped: non-positive organization id", slog.Int("organization_id", orgID))
		return
	}
	d.SendToTarget(ctx, notification.OrganizationTarget(orgID), p)
}

// SendToRole pushes a notification to every connection holding a role,
// untracked.
func (d *Dispatcher) SendToRole(ctx context.Context, role string, p *notification.Payload) {
	if role == "" {
		d.logger.Warn("dispatch skipped: empty role")
		return
	}
	d.SendToTarget(ctx, notification.RoleTarget(role), p)
}

// SendToAll broadcasts a notification to every connection, untracked.
func (d *Dispatcher) SendToAll(ctx context.Context, p *notification.Payload) {
	d.SendToTarget(ctx, notification.AllTarget(), p)
}

// SendToUsers pushes a notification to each listed user, untracked. One
// recipient's failure never affects the others.
func (d *Dispatcher) SendToUsers(ctx context.Context, userIDs []int, p *notification.Payload) {
	for _, id := range userIDs {
		d.SendToUser(ctx, id, p)
	}
}

// SendToGroups pushes a notification to each named group, untracked.
func (d *Dispatcher) SendToGroups(ctx context.Context, groupNames []string, p *notification.Payload) {
	for _, g := range groupNames {
		d.SendToGroup(ctx, g, p)
	}
}

// SendToTarget resolves a tagged target into one transport send. Transport
// errors are logged and swallowed.
func (d *Dispatcher) SendToTarget(ctx context.Context, target notification.Target, p *notification.Payload) {
	if p == nil {
		d.logger.Warn("dispatch skipped: nil payload", slog.String("target", target.GroupKey()))
		return
	}

	env := notification.Wrap(d.prepared(*p), target, d.now())

	var err error
	if target.Kind == notification.TargetAll {
		err = d.transport.SendToAll(ctx, notification.EventNotification, env)
	} else {
		err = d.transport.SendToGroup(ctx, target.GroupKey(), notification.EventNotification, env)
	}
	if err != nil {
		d.logger.Error("untracked send failed",
			slog.String("target", target.GroupKey()),
			slog.String("notification_id", env.ID),
			slog.Any("error", err))
	}
}

// SendWithConfirmation performs a tracked send to a single user. The
// delivery status starts in Delivering; online recipients get a transport
// push and the entry moves to Delivered, offline recipients get an offline
// queue entry and the entry moves to Queued. Transport errors mark the entry
// Failed and come back in the result rather than as a raised error, so bulk
// callers can keep going.
func (d *Dispatcher) SendWithConfirmation(ctx context.Context, userID int, p *notification.Payload) DeliveryResult {
	if p == nil || userID <= 0 {
		d.logger.Warn("tracked dispatch skipped: invalid input", slog.Int("user_id", userID))
		return DeliveryResult{UserID: userID, Err: fmt.Errorf("invalid tracked send: user %d, payload nil=%t", userID, p == nil)}
	}

	prepared := d.prepared(*p)
	d.tracker.Create(prepared.ID, userID)

	if !d.registry.IsOnline(userID) {
		d.queue.Enqueue(userID, prepared)
		d.tracker.MarkQueued(prepared.ID)
		return DeliveryResult{NotificationID: prepared.ID, UserID: userID, Queued: true}
	}

	if err := d.DeliverToUser(ctx, userID, prepared); err != nil {
		d.tracker.MarkFailed(prepared.ID, err.Error())
		now := d.now()
		d.failed.Add(delivery.FailedNotification{
			NotificationID: prepared.ID,
			UserID:         userID,
			Payload:        prepared,
			Error:          err.Error(),
			FailedAt:       now,
			RetryCount:     1,
			NextRetryAt:    now.Add(d.policy.Backoff(1)),
		})
		d.logger.Error("tracked send failed",
			slog.Int("user_id", userID),
			slog.String("notification_id", prepared.ID),
			slog.Any("error", err))
		return DeliveryResult{NotificationID: prepared.ID, UserID: userID, Err: err}
	}

	d.tracker.MarkDelivered(prepared.ID)
	return DeliveryResult{NotificationID: prepared.ID, UserID: userID, Delivered: true}
}

// SendBulkWithConfirmation runs a tracked send per user and collects the
// results. Failures surface in their own result entries only.
func (d *Dispatcher) SendBulkWithConfirmation(ctx context.Context, userIDs []int, p *notification.Payload) []DeliveryResult {
	out := make([]DeliveryResult, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, d.SendWithConfirmation(ctx, id, p))
	}
	return out
}

// DeliverToUser performs the raw transport push of an already-prepared
// payload to one user's group. The hub's drain and retry paths use it to
// re-attempt existing tracked notifications; status bookkeeping stays with
// the caller.
func (d *Dispatcher) DeliverToUser(ctx context.Context, userID int, p notification.Payload) error {
	target := notification.UserTarget(userID)
	env := notification.Wrap(p, target, d.now())
	return d.transport.SendToGroup(ctx, target.GroupKey(), notification.EventNotification, env)
}

// prepared returns a copy of the payload with id and creation time filled in
// when the producer left them empty. The caller's payload is never touched.
func (d *Dispatcher) prepared(p notification.Payload) notification.Payload {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = d.now()
	}
	return p
}
