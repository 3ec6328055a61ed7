// Package redis implements store.TaskStore on Redis.
//
// Each task is a JSON document under <prefix>:task:<id>. The idempotency key
// maps to the task ID under <prefix>:idem:<key>. Three sorted sets index the
// tasks: updated (by UpdatedAt), due (PENDING and FAILED by NextRetryAt) and
// processing (by ProcessingStartedAt). Scores are Unix microseconds. Writes
// run in WATCH/MULTI transactions, so a concurrent writer aborts the
// transaction and the operation re-reads before deciding again.
package redis
