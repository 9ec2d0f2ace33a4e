// Package circuitbreaker pauses writes to a failing target collaborator.
//
// Each target type (risk register, service desk, audit registry, change
// management) carries its own breaker state: after `threshold` consecutive
// write failures the breaker opens and the engine skips that target's writes
// for the cooldown period, then allows a single probe (half-open).
package circuitbreaker

import (
	"sync"
	"time"
)

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type targetState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*targetState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*targetState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Allow reports whether a write to the target may proceed.
func (cb *CircuitBreaker) Allow(target string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[target]
	if !ok {
		return true
	}

	switch s.state {
	case stateClosed:
		return true
	case stateOpen:
		if cb.clock().Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		// One probe at a time.
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess(target string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[target]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(target string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[target]
	if !ok {
		s = &targetState{}
		cb.states[target] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.clock()
	}
}
