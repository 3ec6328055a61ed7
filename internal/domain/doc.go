// Package domain holds the notification task entity: its lifecycle statuses,
// the legal transitions between them and the idempotency key that identifies
// a business event. It has no knowledge of storage or transport.
package domain
