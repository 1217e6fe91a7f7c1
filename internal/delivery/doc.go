// Package delivery holds the in-memory bookkeeping for notification
// delivery: the per-notification status state machine (Tracker), the
// per-user FIFO of notifications waiting for an offline recipient (Queue),
// the bounded-retry working set for deliveries that errored (FailedSet), and
// the Policy knobs shared by all three.
//
// # State machine
//
// A tracked notification moves strictly forward:
//
//	Pending → Delivering → {Delivered | Queued | Failed}
//	Delivered → Confirmed → Read
//
// Queued and Failed are re-dispositions, not terminals: a queued entry
// becomes Delivered when a later flush succeeds, and a failed entry becomes
// Delivered when a retry succeeds (or Queued when the recipient has gone
// offline in the meantime). Confirmed and Read never regress.
//
// # Exclusivity
//
// A notification id is never simultaneously present in both the Queue and
// the FailedSet. The hub enforces this by always removing from one structure
// before inserting into the other.
//
// # Concurrency
//
// Every structure in this package is internally synchronized and safe for
// arbitrary concurrent readers and writers; callers never take locks. There
// are no cross-structure transactions — eventual consistency between the
// structures is acceptable and expected.
package delivery
