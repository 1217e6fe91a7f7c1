package delivery

import (
	"sync"
	"time"

	"github.com/look4dennis/stride-notify/internal/notification"
)

// QueuedNotification is one entry waiting in a user's offline queue.
// NextRetryAt is zero for first attempts; failed flush attempts re-enqueue
// the entry with a backoff timestamp.
type QueuedNotification struct {
	ID          string                `json:"id"`
	UserID      int                   `json:"userId"`
	Payload     notification.Payload  `json:"payload"`
	QueuedAt    time.Time             `json:"queuedAt"`
	Priority    notification.Priority `json:"priority"`
	RetryCount  int                   `json:"retryCount"`
	NextRetryAt time.Time             `json:"nextRetryAt"`
}

// Queue holds per-user FIFO queues of notifications that could not be
// delivered immediately. Order is preserved per user for first attempts;
// re-enqueued entries go to the back with their backoff timestamp. There is
// no ordering across users.
//
// Thread Safety: all methods are safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	byUser map[int][]*QueuedNotification
	now    func() time.Time
}

// NewQueue creates an empty offline queue.
func NewQueue() *Queue {
	return &Queue{
		byUser: make(map[int][]*QueuedNotification),
		now:    time.Now,
	}
}

// SetClock overrides the queue's time source for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Enqueue appends a payload to the user's queue and returns the stored
// entry.
func (q *Queue) Enqueue(userID int, p notification.Payload) QueuedNotification {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := &QueuedNotification{
		ID:       p.ID,
		UserID:   userID,
		Payload:  p,
		QueuedAt: q.now(),
		Priority: p.Priority,
	}
	q.byUser[userID] = append(q.byUser[userID], entry)
	return *entry
}

// Requeue puts a flush-failed entry back at the tail of the user's queue.
// The caller has already set the incremented retry count and backoff
// timestamp.
func (q *Queue) Requeue(entry QueuedNotification) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := entry
	q.byUser[entry.UserID] = append(q.byUser[entry.UserID], &e)
}

// TakeDue removes and returns up to max entries from the user's queue whose
// backoff window has passed, preserving FIFO order. Entries still inside a
// backoff window keep their position for a later pass.
func (q *Queue) TakeDue(userID int, max int) []QueuedNotification {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.byUser[userID]
	if len(pending) == 0 || max <= 0 {
		return nil
	}

	now := q.now()
	taken := make([]QueuedNotification, 0, max)
	remaining := pending[:0]
	for _, e := range pending {
		if len(taken) < max && !e.NextRetryAt.After(now) {
			taken = append(taken, *e)
			continue
		}
		remaining = append(remaining, e)
	}

	if len(remaining) == 0 {
		delete(q.byUser, userID)
	} else {
		q.byUser[userID] = remaining
	}
	return taken
}

// Pending returns a copy of the user's queued entries in queue order.
func (q *Queue) Pending(userID int) []QueuedNotification {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.byUser[userID]
	out := make([]QueuedNotification, 0, len(pending))
	for _, e := range pending {
		out = append(out, *e)
	}
	return out
}

// Clear drops every queued entry for a user and returns how many were
// removed.
func (q *Queue) Clear(userID int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.byUser[userID])
	delete(q.byUser, userID)
	return n
}

// Len returns the number of entries queued for a user.
func (q *Queue) Len(userID int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byUser[userID])
}

// UsersWithPending returns the ids of users that currently have queued
// entries, in no particular order.
func (q *Queue) UsersWithPending() []int {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]int, 0, len(q.byUser))
	for uid, pending := range q.byUser {
		if len(pending) > 0 {
			out = append(out, uid)
		}
	}
	return out
}

// Contains reports whether a notification id is present in any user's
// queue. The hub uses this to uphold queue/failed-set exclusivity.
func (q *Queue) Contains(notificationID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, pending := range q.byUser {
		for _, e := range pending {
			if e.ID == notificationID {
				return true
			}
		}
	}
	return false
}
