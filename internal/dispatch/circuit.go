package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BreakerState is one of the circuit breaker's three states.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultBreakerTimeout   = 60 * time.Second
)

// CircuitBreaker guards one destination URL.
//
// Closed: requests pass; failureThreshold consecutive failures open it.
// Open: requests short-circuit; after timeout the next request probes
// in HalfOpen. HalfOpen: successThreshold consecutive successes close
// it; any failure reopens it and restarts the timer.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	openedAt         time.Time
	failureThreshold int
	successThreshold int
	timeout          time.Duration
}

// NewCircuitBreaker creates a closed breaker with the given thresholds.
// Zero values select the defaults.
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if successThreshold <= 0 {
		successThreshold = DefaultSuccessThreshold
	}
	if timeout <= 0 {
		timeout = DefaultBreakerTimeout
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
	}
}

// Allow reports whether a request may proceed, transitioning
// Open → HalfOpen once the timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.timeout {
			cb.state = StateHalfOpen
			cb.successes = 0
			return true
		}
		return false
	}
	return false
}

// RecordSuccess notes a successful delivery.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// RecordFailure notes a failed delivery.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.successes = 0
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Breakers is the per-URL circuit breaker registry.
type Breakers struct {
	mu               sync.Mutex
	byURL            map[string]*CircuitBreaker
	failureThreshold int
	successThreshold int
	timeout          time.Duration
}

// NewBreakers creates a registry; breakers are created on first use.
func NewBreakers(failureThreshold, successThreshold int, timeout time.Duration) *Breakers {
	return &Breakers{
		byURL:            make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
	}
}

// For returns the breaker for a URL, creating it on first use.
func (b *Breakers) For(url string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.byURL[url]
	if !ok {
		cb = NewCircuitBreaker(b.failureThreshold, b.successThreshold, b.timeout)
		b.byURL[url] = cb
		log.Debug().Str("url", url).Msg("Circuit breaker created")
	}
	return cb
}

// States returns a snapshot of every breaker's state by URL.
func (b *Breakers) States() map[string]BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]BreakerState, len(b.byURL))
	for url, cb := range b.byURL {
		out[url] = cb.State()
	}
	return out
}
