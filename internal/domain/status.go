package domain

// Status is the lifecycle state of a notification task.
type Status string

// Task statuses. PROCESSING is the in-flight hold a worker takes before
// calling the delivery channel; FAILED is a transient failure waiting for its
// backoff to elapse.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusFailed     Status = "FAILED"
	StatusSent       Status = "SENT"
	StatusDLQ        Status = "DLQ"
)

// transitions lists every legal edge of the lifecycle state machine.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusFailed:     {StatusProcessing},
	StatusProcessing: {StatusSent, StatusFailed, StatusDLQ, StatusPending},
	StatusDLQ:        {StatusPending},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusFailed, StatusSent, StatusDLQ:
		return true
	}
	return false
}

// Terminal reports whether no delivery will be attempted for s without an
// operator action.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusDLQ
}

// Dispatchable reports whether a task in s may be claimed by a worker once
// its eligibility time has passed.
func (s Status) Dispatchable() bool {
	return s == StatusPending || s == StatusFailed
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts s into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", NewValidationError("status", "must be one of PENDING, PROCESSING, FAILED, SENT, DLQ", ErrInvalidStatus)
	}
	return st, nil
}
