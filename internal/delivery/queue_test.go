package delivery

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/look4dennis/stride-notify/internal/notification"
)

// TestQueueFIFO verifies that entries drain in the order they were
// enqueued.
func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for i := 1; i <= 5; i++ {
		q.Enqueue(1, notification.Payload{ID: fmt.Sprintf("n%d", i)})
	}

	taken := q.TakeDue(1, 10)
	require.Len(t, taken, 5)
	for i, e := range taken {
		assert.Equal(t, fmt.Sprintf("n%d", i+1), e.ID)
	}
	assert.Equal(t, 0, q.Len(1))
}

// TestQueueDrainCeiling verifies that TakeDue stops at the batch ceiling
// and leaves the remainder, in order, for the next pass.
func TestQueueDrainCeiling(t *testing.T) {
	q := NewQueue()
	for i := 1; i <= 15; i++ {
		q.Enqueue(1, notification.Payload{ID: fmt.Sprintf("n%d", i)})
	}

	first := q.TakeDue(1, 10)
	require.Len(t, first, 10)
	assert.Equal(t, "n1", first[0].ID)
	assert.Equal(t, "n10", first[9].ID)

	second := q.TakeDue(1, 10)
	require.Len(t, second, 5)
	assert.Equal(t, "n11", second[0].ID)
}

// TestQueueBackoffEntriesSkipped verifies that a re-enqueued entry inside
// its backoff window is not taken, while due entries behind it still are.
func TestQueueBackoffEntriesSkipped(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	current := base
	q := NewQueue()
	q.SetClock(func() time.Time { return current })

	q.Enqueue(1, notification.Payload{ID: "blocked"})
	taken := q.TakeDue(1, 10)
	require.Len(t, taken, 1)

	// Flush failed: back it goes with a 2 minute backoff.
	entry := taken[0]
	entry.RetryCount = 1
	entry.NextRetryAt = current.Add(2 * time.Minute)
	q.Requeue(entry)
	q.Enqueue(1, notification.Payload{ID: "fresh"})

	taken = q.TakeDue(1, 10)
	require.Len(t, taken, 1)
	assert.Equal(t, "fresh", taken[0].ID)
	assert.Equal(t, 1, q.Len(1))

	// Past the window the blocked entry becomes due again.
	current = current.Add(3 * time.Minute)
	taken = q.TakeDue(1, 10)
	require.Len(t, taken, 1)
	assert.Equal(t, "blocked", taken[0].ID)
	assert.Equal(t, 1, taken[0].RetryCount)
}

// TestQueuePerUserIsolation verifies that queues are independent per user.
func TestQueuePerUserIsolation(t *testing.T) {
	q := NewQueue()
	q.Enqueue(1, notification.Payload{ID: "a"})
	q.Enqueue(2, notification.Payload{ID: "b"})
	q.Enqueue(2, notification.Payload{ID: "c"})

	assert.Equal(t, 1, q.Len(1))
	assert.Equal(t, 2, q.Len(2))
	assert.ElementsMatch(t, []int{1, 2}, q.UsersWithPending())

	assert.Len(t, q.TakeDue(2, 10), 2)
	assert.Equal(t, 1, q.Len(1))
	assert.Equal(t, []int{1}, q.UsersWithPending())
}

// TestQueuePeekAndClear verifies the non-destructive read and the clear
// operation.
func TestQueuePeekAndClear(t *testing.T) {
	q := NewQueue()
	q.Enqueue(1, notification.Payload{ID: "a"})
	q.Enqueue(1, notification.Payload{ID: "b"})

	pending := q.Pending(1)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, 2, q.Len(1)) // peek does not consume

	assert.Equal(t, 2, q.Clear(1))
	assert.Equal(t, 0, q.Len(1))
	assert.Equal(t, 0, q.Clear(1))
}

// TestQueueContains verifies the membership probe used for the
// queue/failed-set exclusivity check.
func TestQueueContains(t *testing.T) {
	q := NewQueue()
	q.Enqueue(1, notification.Payload{ID: "a"})

	assert.True(t, q.Contains("a"))
	assert.False(t, q.Contains("b"))

	q.TakeDue(1, 10)
	assert.False(t, q.Contains("a"))
}
