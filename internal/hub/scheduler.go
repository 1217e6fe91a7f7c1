package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/look4dennis/stride-notify/internal/health"
	"github.com/look4dennis/stride-notify/internal/notification"
)

// observationsOf projects registry connections into the minimal view the
// health monitor samples.
func observationsOf(conns []notification.Connection) []health.Observation {
	out := make([]health.Observation, 0, len(conns))
	for _, c := range conns {
		out = append(out, health.Observation{
			ConnectionID: c.ID,
			UserID:       c.UserID,
			ConnectedAt:  c.ConnectedAt,
		})
	}
	return out
}

// Run starts the two background schedulers and blocks until ctx is
// cancelled. At most one in-flight pass per loop completes after
// cancellation. A pass that errors is logged and never terminates its loop.
func (h *Hub) Run(ctx context.Context) {
	h.wg.Add(2)
	go h.processingLoop(ctx)
	go h.healthLoop(ctx)

	h.logger.Info("hub schedulers started",
		slog.Duration("process_interval", h.policy.ProcessInterval),
		slog.Duration("health_interval", h.policy.HealthInterval))

	<-ctx.Done()
	h.wg.Wait()
	h.logger.Info("hub schedulers stopped")
}

// processingLoop drains offline queues for now-online users and retries
// failed notifications on a fixed cadence.
func (h *Hub) processingLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.policy.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.ProcessingPass(ctx)
		}
	}
}

// ProcessingPass runs one iteration of the queue/retry scheduler: flush the
// offline queue of every user with pending entries who is online, then sweep
// the failed set.
func (h *Hub) ProcessingPass(ctx context.Context) {
	flushed := 0
	for _, userID := range h.queue.UsersWithPending() {
		if h.registry.IsOnline(userID) {
			flushed += h.ProcessQueuedNotifications(ctx, userID)
		}
	}
	retried := h.RetryFailedNotifications(ctx)
	if flushed > 0 || retried > 0 {
		h.logger.Info("processing pass complete",
			slog.Int("flushed", flushed),
			slog.Int("retried", retried))
	}
}

// healthLoop samples connection health, drives recovery, cleans up stale
// records and emits heartbeat and presence events on a fixed cadence.
func (h *Hub) healthLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.policy.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.HealthPass(ctx)
		}
	}
}

// HealthPass runs one iteration of the health scheduler: sample, recover,
// cleanup, heartbeat.
func (h *Hub) HealthPass(ctx context.Context) {
	conns := h.registry.All()

	// 1. Health sampling.
	h.monitor.Sample(observationsOf(conns))

	// 2. Recovery: flushing the user's offline queue stands in for waking
	// the connection. The attempt is recorded whether or not it delivered.
	for _, c := range h.monitor.RecoveryCandidates(h.policy.RecoveryCooldown) {
		delivered := h.ProcessQueuedNotifications(ctx, c.UserID)
		h.monitor.RecordRecoveryAttempt(c.ConnectionID)
		h.logger.Info("recovery attempted",
			slog.String("connection_id", c.ConnectionID),
			slog.Int("user_id", c.UserID),
			slog.Int("delivered", delivered))
	}

	// 3. Stale cleanup.
	current := make(map[string]bool, len(conns))
	for _, c := range conns {
		current[c.ID] = true
	}
	h.monitor.CleanupStale(current, h.policy.StalenessWindow)

	// 4. Heartbeat broadcast.
	now := h.now()
	hb := notification.HeartbeatEvent{Timestamp: now, ServerTime: now.UTC().Format(time.RFC3339)}
	if err := h.transport.SendToAll(ctx, notification.EventHeartbeat, hb); err != nil {
		h.logger.Error("heartbeat broadcast failed", slog.Any("error", err))
	} else {
		for _, c := range conns {
			h.monitor.RecordHeartbeatSent(c.ID)
		}
	}
}

// broadcastPresence pushes the current online population to everyone.
// Failures are logged and swallowed; presence is best-effort.
func (h *Hub) broadcastPresence(ctx context.Context) {
	ids := h.registry.OnlineUserIDs()
	ev := notification.PresenceEvent{
		OnlineCount:   len(ids),
		OnlineUserIDs: ids,
		Timestamp:     h.now(),
	}
	if err := h.transport.SendToAll(ctx, notification.EventPresence, ev); err != nil {
		h.logger.Error("presence broadcast failed", slog.Any("error", err))
	}
}
