// Package store defines the persistence contract for notification tasks.
// The interfaces abstract the underlying storage mechanism from the delivery
// pipeline, so the runner and services stay independent of whether tasks live
// in memory, PostgreSQL or Redis. Concrete implementations live under
// internal/platform; a shared contract suite lives in store/storetest.
package store
