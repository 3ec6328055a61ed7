// Package postgres provides the PostgreSQL implementation of store.TaskStore,
// together with the embedded goose migrations that create its schema and the
// mapping from pgconn error codes to store errors.
package postgres
