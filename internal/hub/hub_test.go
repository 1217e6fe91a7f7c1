package hub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/look4dennis/stride-notify/internal/delivery"
	"github.com/look4dennis/stride-notify/internal/notification"
	"github.com/look4dennis/stride-notify/internal/registry"
	"github.com/look4dennis/stride-notify/internal/transport"
)

// newTestHub builds a hub over a loopback transport with default policy and
// an adjustable clock.
func newTestHub(t *testing.T) (*Hub, *transport.Loopback, *registry.Registry, *time.Time) {
	t.Helper()

	reg := registry.New()
	lb := transport.NewLoopback(reg)
	h := New(reg, lb, delivery.DefaultPolicy(), nil)

	current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	h.SetClock(func() time.Time { return current })
	return h, lb, reg, &current
}

func connect(t *testing.T, h *Hub, id string, userID int) {
	t.Helper()
	require.NoError(t, h.Connect(context.Background(), notification.Connection{ID: id, UserID: userID}))
}

// TestOfflineQueueRoundTrip is the offline-user scenario: a tracked send to
// an offline user queues exactly one entry; when the user connects the
// queue flushes and the status reads Delivered.
func TestOfflineQueueRoundTrip(t *testing.T) {
	h, _, _, _ := newTestHub(t)
	ctx := context.Background()

	res := h.Dispatcher().SendWithConfirmation(ctx, 5, &notification.Payload{Title: "while away"})
	require.NoError(t, res.Err)
	assert.False(t, res.Delivered)
	assert.True(t, res.Queued)

	queued := h.QueuedNotifications(5)
	require.Len(t, queued, 1)
	assert.Equal(t, res.NotificationID, queued[0].ID)
	assert.Equal(t, "while away", queued[0].Payload.Title)
	assert.Equal(t, delivery.StateQueued, h.DeliveryStatus(res.NotificationID).State)

	// Coming online flushes the queue.
	connect(t, h, "c5", 5)

	assert.Empty(t, h.QueuedNotifications(5))
	assert.Equal(t, delivery.StateDelivered, h.DeliveryStatus(res.NotificationID).State)
}

// TestFailedRetryRoundTrip is the flaky-transport scenario: a tracked send
// fails, two retry sweeps fail, the third succeeds; the failed set ends
// empty and the user's history shows a Delivered record.
func TestFailedRetryRoundTrip(t *testing.T) {
	h, lb, _, current := newTestHub(t)
	ctx := context.Background()
	connect(t, h, "c7", 7)

	attempts := 0
	lb.FailFunc = func(group, event string) error {
		if event != notification.EventNotification || group != "User_7" {
			return nil
		}
		attempts++
		if attempts < 4 {
			return fmt.Errorf("transport glitch %d", attempts)
		}
		return nil
	}

	res := h.Dispatcher().SendWithConfirmation(ctx, 7, &notification.Payload{Title: "flaky"})
	require.Error(t, res.Err)
	require.Len(t, h.FailedNotifications(0), 1)

	// Sweep 1: due after the 2 minute window, fails again.
	*current = current.Add(3 * time.Minute)
	assert.Equal(t, 0, h.RetryFailedNotifications(ctx))
	require.Len(t, h.FailedNotifications(0), 1)
	assert.Equal(t, 2, h.FailedNotifications(0)[0].RetryCount)

	// Sweep 2: due after 4 minutes, fails again.
	*current = current.Add(5 * time.Minute)
	assert.Equal(t, 0, h.RetryFailedNotifications(ctx))
	require.Len(t, h.FailedNotifications(0), 1)

	// Sweep 3: due after 8 minutes, succeeds.
	*current = current.Add(9 * time.Minute)
	assert.Equal(t, 1, h.RetryFailedNotifications(ctx))
	assert.Empty(t, h.FailedNotifications(0))

	history := h.UserDeliveryHistory(7, 10)
	require.Len(t, history, 1)
	assert.Equal(t, delivery.StateDelivered, history[0].State)
}

// TestRetryNotDueIsNotAnAttempt verifies that a sweep before the backoff
// window leaves the entry untouched — retry count unchanged.
func TestRetryNotDueIsNotAnAttempt(t *testing.T) {
	h, lb, _, current := newTestHub(t)
	ctx := context.Background()
	connect(t, h, "c7", 7)
	lb.FailFunc = func(group, event string) error { return errors.New("down") }

	res := h.Dispatcher().SendWithConfirmation(ctx, 7, &notification.Payload{Title: "x"})
	require.Error(t, res.Err)

	// Backoff window is 2 minutes; sweep after 30 seconds does nothing.
	*current = current.Add(30 * time.Second)
	assert.Equal(t, 0, h.RetryFailedNotifications(ctx))
	entries := h.FailedNotifications(0)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
}

// TestTerminalRetryCap verifies permanent failure: once the retry count
// passes the cap the entry is dropped and never reappears.
func TestTerminalRetryCap(t *testing.T) {
	h, lb, _, current := newTestHub(t)
	ctx := context.Background()
	connect(t, h, "c7", 7)
	lb.FailFunc = func(group, event string) error {
		if event == notification.EventNotification {
			return errors.New("permanently down")
		}
		return nil
	}

	res := h.Dispatcher().SendWithConfirmation(ctx, 7, &notification.Payload{Title: "doomed"})
	require.Error(t, res.Err)

	// Drive sweeps until past the cap. Retry counts go 1 → 5 in the set;
	// the sweep after that drops the entry for good.
	for i := 0; i < 6; i++ {
		*current = current.Add(time.Hour) // far past any backoff window
		h.RetryFailedNotifications(ctx)
	}

	assert.Empty(t, h.FailedNotifications(0))
	assert.Empty(t, h.QueuedNotifications(7))
	assert.Equal(t, delivery.StateFailed, h.DeliveryStatus(res.NotificationID).State)
}

// TestQueueFlushExhaustionMovesToFailedSet verifies the queue-to-failed
// handoff and that a notification id is never in both structures.
func TestQueueFlushExhaustionMovesToFailedSet(t *testing.T) {
	h, lb, _, current := newTestHub(t)
	ctx := context.Background()

	// Queue while offline, then come online behind a broken transport.
	res := h.Dispatcher().SendWithConfirmation(ctx, 5, &notification.Payload{Title: "stuck"})
	require.True(t, res.Queued)
	lb.FailFunc = func(group, event string) error {
		if event == notification.EventNotification {
			return errors.New("still down")
		}
		return nil
	}
	connect(t, h, "c5", 5)

	// Each pass fails the flush; the entry retries with backoff until the
	// cap moves it into the failed set.
	for i := 0; i < 5; i++ {
		*current = current.Add(time.Hour)
		h.ProcessQueuedNotifications(ctx, 5)

		queued := h.QueuedNotifications(5)
		failed := h.FailedNotifications(0)
		inQueue := len(queued) == 1
		inFailed := len(failed) == 1
		assert.False(t, inQueue && inFailed, "notification present in queue and failed set at once")
	}

	assert.Empty(t, h.QueuedNotifications(5))
	failed := h.FailedNotifications(0)
	require.Len(t, failed, 1)
	assert.Equal(t, res.NotificationID, failed[0].NotificationID)
	assert.Equal(t, delivery.StateFailed, h.DeliveryStatus(res.NotificationID).State)
}

// TestRetryForOfflineUserRequeues verifies that a due failed entry whose
// recipient went offline moves back to the offline queue rather than
// burning retry attempts against a dead connection.
func TestRetryForOfflineUserRequeues(t *testing.T) {
	h, lb, _, current := newTestHub(t)
	ctx := context.Background()
	connect(t, h, "c7", 7)
	lb.FailFunc = func(group, event string) error {
		if event == notification.EventNotification {
			return errors.New("down")
		}
		return nil
	}

	res := h.Dispatcher().SendWithConfirmation(ctx, 7, &notification.Payload{Title: "x"})
	require.Error(t, res.Err)

	h.Disconnect(ctx, "c7")
	*current = current.Add(time.Hour)
	assert.Equal(t, 0, h.RetryFailedNotifications(ctx))

	assert.Empty(t, h.FailedNotifications(0))
	queued := h.QueuedNotifications(7)
	require.Len(t, queued, 1)
	assert.Equal(t, res.NotificationID, queued[0].ID)
	assert.Equal(t, delivery.StateQueued, h.DeliveryStatus(res.NotificationID).State)
}

// TestDrainBatchCeiling verifies that one flush processes at most the
// drain batch and leaves the rest queued.
func TestDrainBatchCeiling(t *testing.T) {
	h, _, _, _ := newTestHub(t)
	ctx := context.Background()

	for i := 0; i < 14; i++ {
		res := h.Dispatcher().SendWithConfirmation(ctx, 5, &notification.Payload{Title: fmt.Sprintf("m%d", i)})
		require.True(t, res.Queued)
	}

	// Connect flushes one batch of 10 immediately.
	connect(t, h, "c5", 5)
	assert.Len(t, h.QueuedNotifications(5), 4)

	assert.Equal(t, 4, h.ProcessQueuedNotifications(ctx, 5))
	assert.Empty(t, h.QueuedNotifications(5))
}

// TestConnectionHealthLifecycle is the stale-connection scenario: a
// connection absent from the registry beyond the threshold is reported
// unhealthy, recovery attempts are recorded on the health pass, and a
// heartbeat response restores it immediately.
func TestConnectionHealthLifecycle(t *testing.T) {
	h, _, _, current := newTestHub(t)
	ctx := context.Background()
	connect(t, h, "c5", 5)

	h.HealthPass(ctx)
	health, ok := h.Monitor().Health("c5")
	require.True(t, ok)
	assert.True(t, health.Healthy)

	// The session drops without a clean disconnect.
	h.Disconnect(ctx, "c5")
	*current = current.Add(3 * time.Minute)
	h.HealthPass(ctx)

	health, ok = h.Monitor().Health("c5")
	require.True(t, ok)
	assert.False(t, health.Healthy)
	assert.Equal(t, 1, health.ConsecutiveFailures)
	assert.Equal(t, 1, health.RecoveryAttempts) // recovery ran on the same pass

	h.RecordHeartbeatResponse("c5")
	health, _ = h.Monitor().Health("c5")
	assert.True(t, health.Healthy)
	assert.Equal(t, 0, health.ConsecutiveFailures)
}

// TestHealthPassEmitsHeartbeat verifies the heartbeat broadcast reaches
// the wire on every health pass.
func TestHealthPassEmitsHeartbeat(t *testing.T) {
	h, lb, _, _ := newTestHub(t)
	connect(t, h, "c5", 5)
	lb.Reset()

	h.HealthPass(context.Background())

	var heartbeats int
	for _, s := range lb.Sends() {
		if s.Event == notification.EventHeartbeat {
			heartbeats++
			_, ok := s.Payload.(notification.HeartbeatEvent)
			assert.True(t, ok)
		}
	}
	assert.Equal(t, 1, heartbeats)
}

// TestConnectBroadcastsPresence verifies connect/disconnect emit presence
// updates with the online population.
func TestConnectBroadcastsPresence(t *testing.T) {
	h, lb, _, _ := newTestHub(t)
	ctx := context.Background()

	connect(t, h, "c5", 5)
	connect(t, h, "c6", 6)
	h.Disconnect(ctx, "c6")

	var last notification.PresenceEvent
	var count int
	for _, s := range lb.Sends() {
		if s.Event == notification.EventPresence {
			count++
			last = s.Payload.(notification.PresenceEvent)
		}
	}
	require.Equal(t, 3, count)
	assert.Equal(t, 1, last.OnlineCount)
	assert.Equal(t, []int{5}, last.OnlineUserIDs)
}

// TestQueryAPI covers the connection query surface.
func TestQueryAPI(t *testing.T) {
	h, _, _, _ := newTestHub(t)
	connect(t, h, "tab", 5)
	connect(t, h, "mobile", 5)
	connect(t, h, "other", 2)

	assert.Len(t, h.ActiveConnections(), 3)
	assert.Len(t, h.UserConnections(5), 2)
	assert.True(t, h.IsUserOnline(5))
	assert.False(t, h.IsUserOnline(99))
	assert.Equal(t, 2, h.OnlineUsersCount())
	assert.Equal(t, []int{2, 5}, h.OnlineUserIDs())
}

// TestConfirmationAPI covers confirm/read passthrough including the
// cross-user no-op.
func TestConfirmationAPI(t *testing.T) {
	h, _, _, _ := newTestHub(t)
	ctx := context.Background()
	connect(t, h, "c5", 5)

	res := h.Dispatcher().SendWithConfirmation(ctx, 5, &notification.Payload{Title: "x"})
	require.True(t, res.Delivered)

	h.ConfirmDelivery(res.NotificationID, 9) // wrong user: no-op
	assert.Equal(t, delivery.StateDelivered, h.DeliveryStatus(res.NotificationID).State)

	h.ConfirmDelivery(res.NotificationID, 5)
	h.ConfirmRead(res.NotificationID, 5)
	h.ConfirmRead(res.NotificationID, 5) // idempotent
	assert.Equal(t, delivery.StateRead, h.DeliveryStatus(res.NotificationID).State)
}

// TestRunStopsOnCancel verifies both schedulers honor cancellation
// promptly.
func TestRunStopsOnCancel(t *testing.T) {
	reg := registry.New()
	lb := transport.NewLoopback(reg)
	policy := delivery.DefaultPolicy()
	policy.ProcessInterval = 10 * time.Millisecond
	policy.HealthInterval = 10 * time.Millisecond
	h := New(reg, lb, policy, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond) // let a few passes run
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after cancellation")
	}
}

// TestProcessingPassDrainsOnlineUsersOnly verifies the scheduler skips
// users who are still offline.
func TestProcessingPassDrainsOnlineUsersOnly(t *testing.T) {
	h, _, _, _ := newTestHub(t)
	ctx := context.Background()

	require.True(t, h.Dispatcher().SendWithConfirmation(ctx, 1, &notification.Payload{Title: "a"}).Queued)
	require.True(t, h.Dispatcher().SendWithConfirmation(ctx, 2, &notification.Payload{Title: "b"}).Queued)
	connect(t, h, "c1", 1)
	// Connect already flushed user 1; queue another entry to exercise the
	// scheduler pass itself.
	require.True(t, h.Dispatcher().SendWithConfirmation(ctx, 2, &notification.Payload{Title: "c"}).Queued)

	h.ProcessingPass(ctx)

	assert.Empty(t, h.QueuedNotifications(1))
	assert.Len(t, h.QueuedNotifications(2), 2)
}
