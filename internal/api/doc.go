// Package api exposes the notification pipeline over HTTP: event intake,
// the notification listing polled by the operator console, single-task
// reads and DLQ replay.
//
// Handlers translate HTTP to service calls and never touch the task store
// directly. Errors are mapped to status codes in one place
// (MapErrorToStatusCode) and only sanitized messages reach clients.
package api
