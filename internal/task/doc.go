// Package task runs notification delivery in the background.
//
// A TaskRunner polls the task store for due work and feeds task IDs through a
// bounded TaskQueue to a WorkerPool. Each worker hands its ID to the
// Deliverer, which claims the task, asks the OutcomeDecider for a result
// (chaos injection or the real channel call), and commits SENT, FAILED with a
// backoff from the RetryPolicy, or DLQ. A monitor returns tasks whose claim
// has gone stale to PENDING, so a crashed worker never strands work.
package task
