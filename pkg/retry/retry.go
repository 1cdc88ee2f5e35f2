// Package retry decides whether and when a failed upstream call is retried.
// It performs no I/O; callers own the loop and the clock.
package retry

import (
	"net/http"
	"time"
)

// Outcome classifies a failed attempt
type Outcome int

const (
	Terminal  Outcome = iota // permanent failure, give up now
	Retryable                // transient failure, back off and try again
)

func (o Outcome) String() string {
	if o == Retryable {
		return "retryable"
	}
	return "terminal"
}

// Action is what the caller should do after a failure
type Action int

const (
	Stop      Action = iota // terminal failure
	Retry                   // wait Delay, then issue another attempt
	Exhausted               // wait Delay, then give up
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Exhausted:
		return "exhausted"
	default:
		return "stop"
	}
}

const (
	DefaultMaxAttempts = 10
	DefaultBaseDelay   = time.Second
)

// Policy holds the backoff parameters
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps a single wait; zero means no cap.
	MaxDelay time.Duration
}

// DefaultPolicy returns ten attempts with a one second base
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Decision is the result of Next
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Attempt reports one scheduled wait to observers
type Attempt struct {
	Index  int // 0-based index of the failed attempt
	Status int // HTTP status of the failure
	Delay  time.Duration
	Err    error
}

// Classify maps an upstream HTTP status to an outcome. Only 429 and 500 are
// retryable.
func Classify(status int) Outcome {
	if status == http.StatusTooManyRequests || status == http.StatusInternalServerError {
		return Retryable
	}
	return Terminal
}

// Next decides what follows the failures-th consecutive failure (1-based).
func (p Policy) Next(failures int, outcome Outcome) Decision {
	if outcome != Retryable {
		return Decision{Action: Stop}
	}

	delay := p.Delay(failures)
	if failures >= p.maxAttempts() {
		return Decision{Action: Exhausted, Delay: delay}
	}

	return Decision{Action: Retry, Delay: delay}
}

// Delay returns base * 2^failures, capped by MaxDelay.
func (p Policy) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}

	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}

	delay := base
	for i := 0; i < failures; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
		// stop doubling before overflow
		if delay > time.Duration(1<<62) {
			break
		}
		delay *= 2
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// TotalDelay sums the waits observed when every attempt fails retryably.
func (p Policy) TotalDelay() time.Duration {
	var total time.Duration
	for i := 1; i <= p.maxAttempts(); i++ {
		total += p.Delay(i)
	}
	return total
}
