package governance

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BreakerState is one of the three states named in the admin observability
// contract (§4.J): closed=0, half_open=1, open=2. The numeric values are
// exactly what the circuit_breaker_state gauge publishes.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Breaker is a consecutive-failure circuit breaker around LLMPort. It
// opens after FailureThreshold consecutive failures, turns half-open once
// Cooldown has elapsed, closes again on a successful half-open call and
// reopens on a failed one. Calls made concurrently while half-open are
// all let through; the probe is not limited to one call.
type Breaker struct {
	mu sync.Mutex

	FailureThreshold int
	Cooldown         time.Duration

	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
}

// NewBreaker builds a Breaker with the given threshold/cooldown.
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{FailureThreshold: failureThreshold, Cooldown: cooldown}
}

// ErrBreakerOpen is returned by Call when the breaker is open and the
// cooldown has not yet elapsed.
var ErrBreakerOpen = fmt.Errorf("circuit breaker is open")

// State reports the current breaker state, transitioning open→half_open
// as a side effect once the cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.Cooldown {
		b.state = StateHalfOpen
	}
}

// Call invokes fn if the breaker permits it, recording the outcome.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) (Response, error)) (Response, error) {
	b.mu.Lock()
	b.maybeHalfOpenLocked()
	if b.state == StateOpen {
		b.mu.Unlock()
		return Response{}, ErrBreakerOpen
	}
	b.mu.Unlock()

	resp, err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.consecutiveFail++
		if b.state == StateHalfOpen || b.consecutiveFail >= b.FailureThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
		return resp, err
	}

	b.consecutiveFail = 0
	b.state = StateClosed
	return resp, nil
}
