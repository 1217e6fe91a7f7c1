package delivery

import (
	"sync"
	"time"
)

// State is the lifecycle state of one tracked delivery.
type State string

const (
	StatePending    State = "pending"
	StateDelivering State = "delivering"
	StateQueued     State = "queued"
	StateFailed     State = "failed"
	StateDelivered  State = "delivered"
	StateConfirmed  State = "confirmed"
	StateRead       State = "read"
)

// stateRank orders states for the monotonic-transition check. Queued and
// Failed share a rank: either can follow the other when a retry changes the
// recipient's disposition, but neither can follow Delivered.
var stateRank = map[State]int{
	StatePending:    0,
	StateDelivering: 1,
	StateQueued:     2,
	StateFailed:     2,
	StateDelivered:  3,
	StateConfirmed:  4,
	StateRead:       5,
}

// Method records how a tracked notification reached (or will reach) the
// recipient.
const (
	MethodPush  = "push"
	MethodQueue = "offline-queue"
)

// Status is the delivery record for one tracked notification. Zero
// timestamps mean the corresponding transition has not happened.
type Status struct {
	NotificationID string    `json:"notificationId"`
	UserID         int       `json:"userId"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"createdAt"`
	DeliveredAt    time.Time `json:"deliveredAt"`
	ConfirmedAt    time.Time `json:"confirmedAt"`
	ReadAt         time.Time `json:"readAt"`
	RetryCount     int       `json:"retryCount"`
	Error          string    `json:"error,omitempty"`
	Method         string    `json:"method,omitempty"`
}

// Tracker records the lifecycle of every tracked delivery, keyed by
// notification id. Entries live for the process lifetime; there is no
// eviction during a tracked session.
//
// Thread Safety: all methods are safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]*Status
	byUser   map[int][]string // notification ids in creation order
	now      func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		statuses: make(map[string]*Status),
		byUser:   make(map[int][]string),
		now:      time.Now,
	}
}

// SetClock overrides the tracker's time source. Tests use this to exercise
// timestamp fields without sleeping.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Create registers a new tracked delivery in state Delivering. Creating an
// id that already exists is ignored; the original record wins.
func (t *Tracker) Create(notificationID string, userID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.statuses[notificationID]; exists {
		return
	}
	t.statuses[notificationID] = &Status{
		NotificationID: notificationID,
		UserID:         userID,
		State:          StateDelivering,
		CreatedAt:      t.now(),
	}
	t.byUser[userID] = append(t.byUser[userID], notificationID)
}

// advance moves a status forward if the transition is monotonic. Equal-rank
// overwrites are allowed (Queued <-> Failed re-dispositions, repeated
// failures updating the error); regressions are silently dropped.
func (t *Tracker) advance(notificationID string, next State, mutate func(*Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.statuses[notificationID]
	if !ok {
		return
	}
	if stateRank[next] < stateRank[s.State] {
		return
	}
	s.State = next
	if mutate != nil {
		mutate(s)
	}
}

// MarkDelivered records a successful transport send.
func (t *Tracker) MarkDelivered(notificationID string) {
	t.advance(notificationID, StateDelivered, func(s *Status) {
		s.DeliveredAt = t.now()
		s.Method = MethodPush
		s.Error = ""
	})
}

// MarkQueued records that the recipient was offline and the notification
// went to the offline queue.
func (t *Tracker) MarkQueued(notificationID string) {
	t.advance(notificationID, StateQueued, func(s *Status) {
		s.Method = MethodQueue
	})
}

// MarkFailed records a transport error and bumps the retry count.
func (t *Tracker) MarkFailed(notificationID string, errMsg string) {
	t.advance(notificationID, StateFailed, func(s *Status) {
		s.Error = errMsg
		s.RetryCount++
	})
}

// ConfirmDelivery records the client's delivery acknowledgment. Unknown ids
// and mismatched user ids are no-ops, never errors, so duplicate or late
// confirmations are harmless and existence is not leaked across users.
func (t *Tracker) ConfirmDelivery(notificationID string, userID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.statuses[notificationID]
	if !ok || s.UserID != userID {
		return
	}
	if s.State != StateDelivered {
		return
	}
	s.State = StateConfirmed
	s.ConfirmedAt = t.now()
}

// ConfirmRead records the client's read receipt. Calling it on an already
// Read notification leaves the state at Read. A read receipt on a Delivered
// entry implies confirmation and fills ConfirmedAt as well.
func (t *Tracker) ConfirmRead(notificationID string, userID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.statuses[notificationID]
	if !ok || s.UserID != userID {
		return
	}
	switch s.State {
	case StateDelivered:
		s.ConfirmedAt = t.now()
	case StateConfirmed:
	default:
		return
	}
	s.State = StateRead
	s.ReadAt = t.now()
}

// Status returns the current record for a notification id. Unknown ids
// yield a zero-value Pending status (no CreatedAt) rather than an error.
func (t *Tracker) Status(notificationID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.statuses[notificationID]
	if !ok {
		return Status{NotificationID: notificationID, State: StatePending}
	}
	return *s
}

// UserHistory returns up to limit tracked deliveries for a user, newest
// first. A non-positive limit returns the full history.
func (t *Tracker) UserHistory(userID int, limit int) []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := t.byUser[userID]
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}

	out := make([]Status, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		if s, ok := t.statuses[ids[i]]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// Len returns the number of tracked notifications.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.statuses)
}
