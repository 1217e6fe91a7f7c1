// Package hub wires the notification delivery core together: the connection
// registry, dispatcher, delivery tracker, offline queue, failed set and
// health monitor, plus the two background schedulers that keep them moving.
// It exposes the dispatch, query, confirmation and maintenance APIs
// collaborators call, and the connect/disconnect/heartbeat callbacks the
// transport feeds.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/look4dennis/stride-notify/internal/delivery"
	"github.com/look4dennis/stride-notify/internal/dispatch"
	"github.com/look4dennis/stride-notify/internal/health"
	"github.com/look4dennis/stride-notify/internal/notification"
	"github.com/look4dennis/stride-notify/internal/registry"
)

// Hub owns the delivery core for one process. Construct it with New, start
// the background schedulers with Run, and stop everything by cancelling
// Run's context. All methods are safe for concurrent use.
type Hub struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	tracker    *delivery.Tracker
	queue      *delivery.Queue
	failed     *delivery.FailedSet
	monitor    *health.Monitor
	transport  dispatch.Transport
	policy     delivery.Policy
	logger     *slog.Logger
	now        func() time.Time
	wg         sync.WaitGroup
}

// New builds a hub and all of its owned components over the given transport.
// A nil logger falls back to slog.Default().
func New(reg *registry.Registry, t dispatch.Transport, policy delivery.Policy, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	tracker := delivery.NewTracker()
	queue := delivery.NewQueue()
	failed := delivery.NewFailedSet()

	return &Hub{
		registry:   reg,
		dispatcher: dispatch.New(t, reg, tracker, queue, failed, policy, logger),
		tracker:    tracker,
		queue:      queue,
		failed:     failed,
		monitor:    health.NewMonitor(policy.UnhealthyAfter, logger),
		transport:  t,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the time source of the hub and every owned component.
// Tests use this to cross backoff and health windows without sleeping.
func (h *Hub) SetClock(now func() time.Time) {
	h.now = now
	h.tracker.SetClock(now)
	h.queue.SetClock(now)
	h.failed.SetClock(now)
	h.monitor.SetClock(now)
	h.dispatcher.SetClock(now)
}

// Dispatcher exposes the dispatch API (SendToUser, SendToBranch,
// SendWithConfirmation, ...).
func (h *Hub) Dispatcher() *dispatch.Dispatcher { return h.dispatcher }

// Monitor exposes the health monitor, mainly for status endpoints.
func (h *Hub) Monitor() *health.Monitor { return h.monitor }

// Connect is the transport's connect callback: it registers the session,
// starts health tracking, announces presence, and immediately flushes any
// notifications queued while the user was offline.
func (h *Hub) Connect(ctx context.Context, conn notification.Connection) error {
	if err := h.registry.Register(conn); err != nil {
		return err
	}
	h.monitor.Observe(health.Observation{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		ConnectedAt:  conn.ConnectedAt,
	})
	h.logger.Info("client connected",
		slog.String("connection_id", conn.ID),
		slog.Int("user_id", conn.UserID),
		slog.Int("branch_id", conn.BranchID))

	h.broadcastPresence(ctx)
	h.ProcessQueuedNotifications(ctx, conn.UserID)
	return nil
}

// Disconnect is the transport's disconnect callback. The health record is
// kept until stale cleanup discards it, so a quick reconnect resumes the
// same history.
func (h *Hub) Disconnect(ctx context.Context, connectionID string) {
	if conn, ok := h.registry.ByConnectionID(connectionID); ok {
		h.logger.Info("client disconnected",
			slog.String("connection_id", connectionID),
			slog.Int("user_id", conn.UserID))
	}
	h.registry.Unregister(connectionID)
	h.broadcastPresence(ctx)
}

// RecordHeartbeatResponse forwards a client's heartbeat reply to the health
// monitor.
func (h *Hub) RecordHeartbeatResponse(connectionID string) {
	h.monitor.RecordHeartbeatResponse(connectionID)
}

// Query API.

// ActiveConnections returns every live connection.
func (h *Hub) ActiveConnections() []notification.Connection { return h.registry.All() }

// UserConnections returns a user's live connections.
func (h *Hub) UserConnections(userID int) []notification.Connection {
	return h.registry.ByUser(userID)
}

// IsUserOnline reports whether the user has at least one live connection.
func (h *Hub) IsUserOnline(userID int) bool { return h.registry.IsOnline(userID) }

// OnlineUsersCount returns the number of distinct online users.
func (h *Hub) OnlineUsersCount() int { return len(h.registry.OnlineUserIDs()) }

// OnlineUserIDs returns the distinct ids of online users, sorted.
func (h *Hub) OnlineUserIDs() []int { return h.registry.OnlineUserIDs() }

// Confirmation API.

// ConfirmDelivery records a client's delivery acknowledgment. Unknown ids
// and mismatched users are silent no-ops.
func (h *Hub) ConfirmDelivery(notificationID string, userID int) {
	h.tracker.ConfirmDelivery(notificationID, userID)
}

// ConfirmRead records a client's read receipt, idempotently.
func (h *Hub) ConfirmRead(notificationID string, userID int) {
	h.tracker.ConfirmRead(notificationID, userID)
}

// DeliveryStatus returns the tracked status for a notification id; unknown
// ids yield a Pending zero record.
func (h *Hub) DeliveryStatus(notificationID string) delivery.Status {
	return h.tracker.Status(notificationID)
}

// UserDeliveryHistory returns a user's tracked deliveries, newest first.
func (h *Hub) UserDeliveryHistory(userID int, limit int) []delivery.Status {
	return h.tracker.UserHistory(userID, limit)
}

// Maintenance API.

// QueuedNotifications returns the entries waiting in a user's offline queue.
func (h *Hub) QueuedNotifications(userID int) []delivery.QueuedNotification {
	return h.queue.Pending(userID)
}

// ClearQueuedNotifications drops everything in a user's offline queue and
// returns how many entries were removed. Their tracked statuses stay at
// Queued.
func (h *Hub) ClearQueuedNotifications(userID int) int {
	return h.queue.Clear(userID)
}

// FailedNotifications returns up to limit entries from the failed set.
func (h *Hub) FailedNotifications(limit int) []delivery.FailedNotification {
	return h.failed.List(limit)
}

// ProcessQueuedNotifications drains one user's offline queue, at most
// DrainBatch entries per call so a deep backlog cannot monopolize a
// scheduler pass. Offline users are skipped entirely. Returns the number of
// entries delivered.
//
// A failed attempt re-enqueues the entry with an incremented retry count and
// an exponential backoff timestamp; past the retry cap the entry moves to
// the failed set instead.
func (h *Hub) ProcessQueuedNotifications(ctx context.Context, userID int) int {
	if userID <= 0 || !h.registry.IsOnline(userID) {
		return 0
	}

	delivered := 0
	for _, entry := range h.queue.TakeDue(userID, h.policy.DrainBatch) {
		err := h.dispatcher.DeliverToUser(ctx, userID, entry.Payload)
		if err == nil {
			h.tracker.MarkDelivered(entry.ID)
			delivered++
			continue
		}

		entry.RetryCount++
		h.tracker.MarkFailed(entry.ID, err.Error())
		if entry.RetryCount >= h.policy.MaxRetries {
			// Queue and failed set are mutually exclusive: the entry was
			// already removed from the queue by TakeDue.
			h.failed.Add(delivery.FailedNotification{
				NotificationID: entry.ID,
				UserID:         userID,
				Payload:        entry.Payload,
				Error:          err.Error(),
				FailedAt:       h.now(),
				RetryCount:     entry.RetryCount,
				NextRetryAt:    h.now().Add(h.policy.Backoff(entry.RetryCount)),
			})
			h.logger.Warn("queued notification moved to failed set",
				slog.String("notification_id", entry.ID),
				slog.Int("user_id", userID),
				slog.Int("retry_count", entry.RetryCount))
			continue
		}

		entry.NextRetryAt = h.now().Add(h.policy.Backoff(entry.RetryCount))
		h.queue.Requeue(entry)
		h.logger.Warn("queued notification flush failed",
			slog.String("notification_id", entry.ID),
			slog.Int("user_id", userID),
			slog.Int("retry_count", entry.RetryCount),
			slog.Time("next_retry_at", entry.NextRetryAt),
			slog.Any("error", err))
	}
	return delivered
}

// RetryFailedNotifications re-attempts due entries in the failed set, at
// most RetryBatch per invocation. Entries still inside their backoff window
// are left untouched and not counted as attempts. Returns the number of
// successful redeliveries.
//
// A due entry whose recipient went offline moves back to the offline queue
// (keeping its retry count); a failed attempt re-enters the set with the
// next backoff window; past the retry cap the entry is dropped for good with
// a terminal log record.
func (h *Hub) RetryFailedNotifications(ctx context.Context) int {
	retried := 0
	for _, f := range h.failed.TakeDue(h.policy.RetryBatch) {
		if !h.registry.IsOnline(f.UserID) {
			h.tracker.MarkQueued(f.NotificationID)
			h.queue.Requeue(delivery.QueuedNotification{
				ID:         f.NotificationID,
				UserID:     f.UserID,
				Payload:    f.Payload,
				QueuedAt:   h.now(),
				Priority:   f.Payload.Priority,
				RetryCount: f.RetryCount,
			})
			continue
		}

		err := h.dispatcher.DeliverToUser(ctx, f.UserID, f.Payload)
		if err == nil {
			h.tracker.MarkDelivered(f.NotificationID)
			retried++
			continue
		}

		f.RetryCount++
		f.Error = err.Error()
		h.tracker.MarkFailed(f.NotificationID, err.Error())
		if f.RetryCount > h.policy.MaxRetries {
			h.logger.Error("notification dropped permanently",
				slog.String("notification_id", f.NotificationID),
				slog.Int("user_id", f.UserID),
				slog.Int("retry_count", f.RetryCount),
				slog.Any("error", err))
			continue
		}
		f.NextRetryAt = h.now().Add(h.policy.Backoff(f.RetryCount))
		h.failed.Add(f)
	}
	return retried
}
