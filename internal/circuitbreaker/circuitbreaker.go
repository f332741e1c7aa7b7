// Package circuitbreaker protects upstream providers from repeated calls
// while they are failing. Each provider client gets its own breaker.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the circuit is open and the cooldown has not elapsed.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker opens after failureThreshold consecutive failures, rejects calls
// for cooldown, then half-opens to probe; successThreshold consecutive probe
// successes close it again.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	probeSuccesses   int
	lastFailure      time.Time
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	provider         string
	onStateChange    func(provider string, from, to State)
}

// Config holds breaker parameters. Zero values take the defaults
// (5 failures, 2 probe successes, 30s cooldown).
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	Provider         string
	OnStateChange    func(provider string, from, to State)
}

// New creates a Breaker for one provider.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooldown:         cfg.Cooldown,
		provider:         cfg.Provider,
		onStateChange:    cfg.OnStateChange,
	}
}

// Do runs fn when the circuit allows it, recording the outcome. When open
// inside the cooldown it returns ErrOpen without calling fn.
func (b *Breaker) Do(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if time.Since(b.lastFailure) < b.cooldown {
		return ErrOpen
	}
	b.transition(StateHalfOpen)
	b.probeSuccesses = 0
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
			b.transition(StateOpen)
			b.failures = 0
		}
		return
	}
	b.failures = 0
	if b.state == StateHalfOpen {
		b.probeSuccesses++
		if b.probeSuccesses >= b.successThreshold {
			b.transition(StateClosed)
		}
	}
}

// transition changes state and fires the callback. Caller holds b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		// Callback runs under the lock; keep it cheap (metrics only).
		b.onStateChange(b.provider, from, to)
	}
}

// State returns the current state. For metrics and health reporting.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
