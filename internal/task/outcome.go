package task

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrChaosInjected is the failure recorded for a forced (chaos) failure.
var ErrChaosInjected = errors.New("CHAOS injected failure")

// OutcomeKind tells a forced failure apart from a real channel result.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeReal OutcomeKind = iota
	OutcomeForcedFailure
)

func (k OutcomeKind) String() string {
	if k == OutcomeForcedFailure {
		return "forced_failure"
	}
	return "real"
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Kind OutcomeKind
	// Err is nil when the attempt succeeded.
	Err error
}

// Failed reports whether the attempt failed.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// OutcomeDecider applies chaos injection. Each call draws independently: with
// probability chaosPercent/100 the attempt is forced to fail without touching
// the channel, otherwise the real attempt runs.
type OutcomeDecider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewOutcomeDecider returns a decider seeded with seed. Tests pass a fixed
// seed for reproducible draws.
func NewOutcomeDecider(seed int64) *OutcomeDecider {
	return &OutcomeDecider{rng: rand.New(rand.NewSource(seed))}
}

// NewRandomOutcomeDecider returns a decider seeded from the wall clock.
func NewRandomOutcomeDecider() *OutcomeDecider {
	return NewOutcomeDecider(time.Now().UnixNano())
}

// Decide returns a forced failure or the result of attempt.
func (d *OutcomeDecider) Decide(ctx context.Context, chaosPercent int, attempt func(context.Context) error) Outcome {
	if chaosPercent > 100 {
		chaosPercent = 100
	}
	if chaosPercent > 0 && d.roll() < chaosPercent {
		return Outcome{Kind: OutcomeForcedFailure, Err: ErrChaosInjected}
	}
	return Outcome{Kind: OutcomeReal, Err: attempt(ctx)}
}

func (d *OutcomeDecider) roll() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Intn(100)
}

// DeliveryError describes a failed attempt. Its message is what the task
// records as last_error.
type DeliveryError struct {
	TaskID uuid.UUID
	Forced bool
	// Timeout is the exceeded deadline when the channel call timed out.
	Timeout time.Duration
	Err     error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Forced:
		return ErrChaosInjected.Error()
	case e.Timeout > 0:
		return fmt.Sprintf("delivery timed out after %s", e.Timeout)
	case e.Err != nil:
		return "send failed: " + e.Err.Error()
	default:
		return "send failed"
	}
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
