// Package breaker implements a count-based circuit breaker.
//
// The breaker keeps the outcomes of the last N calls in a ring. Once the ring
// is full and the failure rate meets the threshold the breaker opens and
// rejects calls for a fixed wait. The first Allow after the wait moves it to
// half-open, where a limited number of trial calls decide whether it closes
// again or reopens.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's position in its state machine.
type State int

// Breaker states.
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
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition describes one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Config tunes the breaker.
type Config struct {
	// FailureRateThreshold is a percentage in (0, 100].
	FailureRateThreshold float64
	SlidingWindowSize    int
	WaitDurationInOpen   time.Duration
	PermittedInHalfOpen  int
	// OnTransition is invoked after every state change, outside the lock.
	OnTransition func(Transition)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 100 {
		return fmt.Errorf("failure rate threshold must be in (0, 100], got %v", c.FailureRateThreshold)
	}
	if c.SlidingWindowSize < 1 {
		return fmt.Errorf("sliding window size must be >= 1, got %d", c.SlidingWindowSize)
	}
	if c.WaitDurationInOpen <= 0 {
		return fmt.Errorf("wait duration in open state must be positive, got %s", c.WaitDurationInOpen)
	}
	if c.PermittedInHalfOpen < 1 {
		return fmt.Errorf("permitted calls in half-open state must be >= 1, got %d", c.PermittedInHalfOpen)
	}
	return nil
}

// Permit is the ticket handed out by Allow. Its generation ties the outcome to
// the state epoch it was issued in; outcomes from an earlier epoch are ignored.
type Permit struct {
	generation uint64
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	generation uint64
	openedAt   time.Time

	window   []bool
	next     int
	filled   int
	failures int

	halfOpenIssued    int
	halfOpenSucceeded int
}

// New builds a closed breaker.
func New(cfg Config) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate breaker config: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		cfg:    cfg,
		state:  StateClosed,
		window: make([]bool, cfg.SlidingWindowSize),
	}, nil
}

// State returns the current state, applying any due open→half-open move.
func (b *Breaker) State() State {
	b.mu.Lock()
	transitions := b.advanceLocked()
	state := b.state
	b.mu.Unlock()
	b.notify(transitions)
	return state
}

// Allow asks for permission to make one call. It returns ErrCircuitOpen when
// the call must not be attempted.
func (b *Breaker) Allow() (Permit, error) {
	b.mu.Lock()
	transitions := b.advanceLocked()
	permit := Permit{generation: b.generation}
	var err error
	switch b.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenIssued >= b.cfg.PermittedInHalfOpen {
			err = ErrCircuitOpen
		} else {
			b.halfOpenIssued++
		}
	}
	b.mu.Unlock()
	b.notify(transitions)
	return permit, err
}

// Record reports the outcome of a permitted call.
func (b *Breaker) Record(p Permit, success bool) {
	b.mu.Lock()
	if p.generation != b.generation {
		b.mu.Unlock()
		return
	}
	var transitions []Transition
	switch b.state {
	case StateClosed:
		b.recordClosedLocked(success)
		if b.filled == len(b.window) && b.failureRateLocked() >= b.cfg.FailureRateThreshold {
			transitions = append(transitions, b.moveLocked(StateOpen))
		}
	case StateHalfOpen:
		if !success {
			transitions = append(transitions, b.moveLocked(StateOpen))
			break
		}
		b.halfOpenSucceeded++
		if b.halfOpenSucceeded >= b.cfg.PermittedInHalfOpen {
			transitions = append(transitions, b.moveLocked(StateClosed))
		}
	}
	b.mu.Unlock()
	b.notify(transitions)
}

// Release hands back a permit whose call produced no verdict. A half-open
// slot is returned; the sliding window is left untouched.
func (b *Breaker) Release(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.generation != b.generation {
		return
	}
	if b.state == StateHalfOpen && b.halfOpenIssued > 0 {
		b.halfOpenIssued--
	}
}

// Do runs fn if permitted and records its outcome. isFailure decides which
// errors count against the upstream; a nil isFailure counts every error.
// Errors it rejects release the permit instead of counting as a success.
func (b *Breaker) Do(fn func() error, isFailure func(error) bool) error {
	permit, err := b.Allow()
	if err != nil {
		return err
	}
	callErr := fn()
	if callErr != nil && isFailure != nil && !isFailure(callErr) {
		b.Release(permit)
		return callErr
	}
	b.Record(permit, callErr == nil)
	return callErr
}

func (b *Breaker) recordClosedLocked(success bool) {
	failed := !success
	if b.filled == len(b.window) {
		if b.window[b.next] {
			b.failures--
		}
	} else {
		b.filled++
	}
	b.window[b.next] = failed
	if failed {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.window)
}

func (b *Breaker) failureRateLocked() float64 {
	if b.filled == 0 {
		return 0
	}
	return float64(b.failures) * 100 / float64(b.filled)
}

func (b *Breaker) advanceLocked() []Transition {
	if b.state != StateOpen {
		return nil
	}
	if b.cfg.Now().Sub(b.openedAt) < b.cfg.WaitDurationInOpen {
		return nil
	}
	return []Transition{b.moveLocked(StateHalfOpen)}
}

func (b *Breaker) moveLocked(to State) Transition {
	now := b.cfg.Now()
	t := Transition{From: b.state, To: to, At: now}
	b.state = to
	b.generation++
	b.halfOpenIssued = 0
	b.halfOpenSucceeded = 0
	switch to {
	case StateOpen:
		b.openedAt = now
	case StateClosed:
		b.resetWindowLocked()
	}
	return t
}

func (b *Breaker) resetWindowLocked() {
	for i := range b.window {
		b.window[i] = false
	}
	b.next = 0
	b.filled = 0
	b.failures = 0
}

func (b *Breaker) notify(transitions []Transition) {
	if b.cfg.OnTransition == nil {
		return
	}
	for _, t := range transitions {
		b.cfg.OnTransition(t)
	}
}
