package delivery

import (
	"sync"
	"time"

	"github.com/look4dennis/stride-notify/internal/notification"
)

// FailedNotification is one entry in the retry working set: a tracked
// delivery that errored, waiting out its backoff window.
type FailedNotification struct {
	NotificationID string               `json:"notificationId"`
	UserID         int                  `json:"userId"`
	Payload        notification.Payload `json:"payload"`
	Error          string               `json:"error"`
	FailedAt       time.Time            `json:"failedAt"`
	RetryCount     int                  `json:"retryCount"`
	NextRetryAt    time.Time            `json:"nextRetryAt"`
}

// FailedSet is the unordered working set of failed notifications. The retry
// sweep takes due entries in insertion order up to a batch ceiling; entries
// whose backoff window has not passed are left untouched and uncounted.
//
// Thread Safety: all methods are safe for concurrent use.
type FailedSet struct {
	mu      sync.Mutex
	entries map[string]*FailedNotification
	order   []string // insertion order of notification ids
	now     func() time.Time
}

// NewFailedSet creates an empty failed set.
func NewFailedSet() *FailedSet {
	return &FailedSet{
		entries: make(map[string]*FailedNotification),
		now:     time.Now,
	}
}

// SetClock overrides the set's time source for tests.
func (f *FailedSet) SetClock(now func() time.Time) {
	f.now = now
}

// Add inserts or replaces the entry for a notification id.
func (f *FailedSet) Add(entry FailedNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.entries[entry.NotificationID]; !exists {
		f.order = append(f.order, entry.NotificationID)
	}
	e := entry
	f.entries[entry.NotificationID] = &e
}

// TakeDue removes and returns up to max entries whose NextRetryAt has
// passed. Not-due entries are skipped in place; putting them back is not an
// attempt and does not touch their retry count.
func (f *FailedSet) TakeDue(max int) []FailedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()

	if max <= 0 {
		return nil
	}

	now := f.now()
	taken := make([]FailedNotification, 0, max)
	remaining := f.order[:0]
	for _, id := range f.order {
		e, ok := f.entries[id]
		if !ok {
			continue
		}
		if len(taken) < max && !e.NextRetryAt.After(now) {
			taken = append(taken, *e)
			delete(f.entries, id)
			continue
		}
		remaining = append(remaining, id)
	}
	f.order = remaining
	return taken
}

// Remove drops the entry for a notification id if present.
func (f *FailedSet) Remove(notificationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, notificationID)
	// The id is lazily dropped from order on the next TakeDue pass.
}

// Contains reports whether a notification id is in the set.
func (f *FailedSet) Contains(notificationID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[notificationID]
	return ok
}

// List returns up to limit entries in insertion order. A non-positive limit
// returns everything.
func (f *FailedSet) List(limit int) []FailedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()

	if limit <= 0 || limit > len(f.entries) {
		limit = len(f.entries)
	}
	out := make([]FailedNotification, 0, limit)
	for _, id := range f.order {
		if len(out) == limit {
			break
		}
		if e, ok := f.entries[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of entries in the set.
func (f *FailedSet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
