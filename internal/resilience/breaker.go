// Package resilience keeps insight backends from being hammered while they
// are failing.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open).
// [Group] tries several backends of the same type in order, each behind its
// own breaker, and [Completer] applies that to language-model completers so
// a lecture keeps producing notes when the primary provider is down.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker rejects
// calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets one probe call through at a time. Enough
	// successful probes close the breaker; any failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted on
// each field.
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 3.
	MaxFailures int

	// Cooldown is how long an open breaker waits before probing. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of consecutive successful probes that closes a
	// half-open breaker. Default: 1.
	Probes int

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker implements the circuit breaker pattern. Calls that fail with
// context.Canceled do not count against the backend: the caller gave up, the
// backend did not fail.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probing   bool
	successes int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults()}
}

// Execute calls fn unless the breaker is open, in which case it returns
// [ErrCircuitOpen] without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is a half-open
// probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.successes = 0
	}
	if b.state == StateHalfOpen {
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	if err != nil {
		if probe || b.state == StateHalfOpen {
			b.open()
			return
		}
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.open()
		}
		return
	}

	if probe {
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.transition(StateClosed)
		}
	}
	b.failures = 0
}

// open trips the breaker. Must be called with b.mu held.
func (b *Breaker) open() {
	b.openedAt = b.cfg.Now()
	b.transition(StateOpen)
}

// transition moves to s and resets counters. Must be called with b.mu held.
func (b *Breaker) transition(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	if s != StateHalfOpen {
		b.successes = 0
	}
	if s == StateClosed {
		b.failures = 0
	}
	level := slog.LevelInfo
	if s == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state change",
		"name", b.cfg.Name, "from", from.String(), "to", s.String(), "failures", b.failures)
}

// State reports the breaker's state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
	b.probing = false
}
