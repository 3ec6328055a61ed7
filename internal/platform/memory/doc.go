// Package memory provides an in-process implementation of store.TaskStore.
// It is the default backend for local runs and the reference the other
// backends are tested against.
package memory
