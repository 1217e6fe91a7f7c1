package delivery

import "time"

// Policy is the single source of truth for delivery tuning. The retry cap is
// deliberately the same for the offline-queue path and the failed set. The
// batch ceilings stay distinct: DrainBatch bounds one user's share of a
// scheduler pass so a deep backlog cannot starve other users, while
// RetryBatch bounds the global retry sweep.
type Policy struct {
	// MaxRetries is the number of delivery attempts allowed for one
	// notification before it is dropped with a terminal log record.
	MaxRetries int

	// DrainBatch is the maximum entries popped from one user's offline
	// queue per flush.
	DrainBatch int

	// RetryBatch is the maximum failed notifications processed per retry
	// sweep.
	RetryBatch int

	// BackoffBase scales the exponential backoff: a notification with n
	// prior retries waits BackoffBase * 2^n before the next attempt.
	BackoffBase time.Duration

	// UnhealthyAfter is how long a connection may go unobserved before the
	// health monitor marks it unhealthy.
	UnhealthyAfter time.Duration

	// RecoveryCooldown is the minimum gap between recovery attempts for
	// one unhealthy connection.
	RecoveryCooldown time.Duration

	// StalenessWindow is how long health and heartbeat records for a
	// vanished connection are kept before cleanup discards them.
	StalenessWindow time.Duration

	// ProcessInterval is the cadence of the queue-drain/retry scheduler.
	ProcessInterval time.Duration

	// HealthInterval is the cadence of the sampling/recovery/heartbeat
	// scheduler.
	HealthInterval time.Duration
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:       5,
		DrainBatch:       10,
		RetryBatch:       50,
		BackoffBase:      time.Minute,
		UnhealthyAfter:   2 * time.Minute,
		RecoveryCooldown: 5 * time.Minute,
		StalenessWindow:  10 * time.Minute,
		ProcessInterval:  time.Minute,
		HealthInterval:   30 * time.Second,
	}
}

// Backoff returns the delay before the next attempt for an entry that has
// already been retried retryCount times: BackoffBase * 2^retryCount.
func (p Policy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// Past the retry cap the shift could overflow; the cap keeps retryCount
	// small, but clamp anyway.
	if retryCount > 30 {
		retryCount = 30
	}
	return p.BackoffBase * time.Duration(1<<uint(retryCount))
}
