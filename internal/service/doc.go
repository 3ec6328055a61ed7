// Package service contains the application use cases of the notification
// pipeline: admitting events, replaying dead-lettered tasks and reading task
// state.
//
// Services depend on the store.TaskStore contract and the events emitter,
// never on a concrete backend, so the HTTP layer and tests can run them over
// the in-memory store while production uses Postgres or Redis.
//
// Error handling:
//   - Validation failures surface as *domain.ValidationError.
//   - Unknown tasks surface as store.ErrTaskNotFound.
//   - Illegal lifecycle moves surface as domain.ErrInvalidTransition.
//   - Everything else is wrapped in a *ServiceError naming the operation.
//
// The API layer maps these to HTTP status codes with errors.Is/errors.As.
package service
