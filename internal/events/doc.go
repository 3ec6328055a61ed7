// Package events carries task lifecycle notifications out of the delivery
// pipeline.
//
// The pipeline emits a TaskEvent for every committed transition. Handlers
// registered on an EventEmitter (the log handler, the Kafka publisher) receive
// each event without the pipeline knowing who listens. Emission is best
// effort: a failing handler is logged and never rolls back the transition.
package events
