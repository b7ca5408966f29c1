// Package resilience provides fault tolerance patterns
package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// State represents circuit breaker state
type State uint32

const (
	Closed State = iota // Normal operation
	Open                // Failing fast
)

func (s State) String() string {
	return [...]string{"closed", "open"}[s]
}

// Breaker opens after Threshold consecutive failures and stays open for
// min(2^failures seconds, MaxBackoff). It closes on the first check after expiry.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openUntil     time.Time
	onStateChange func(from, to State)
}

// NewBreaker creates a breaker with config
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// WithHook sets state change callback (for metrics/logging)
func (b *Breaker) WithHook(fn func(from, to State)) *Breaker {
	b.onStateChange = fn
	return b
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Allow reports whether a call may proceed and, if not, how long until it may.
func (b *Breaker) Allow() (bool, time.Duration) {
	b.mu.Lock()
	if b.state == Closed {
		b.mu.Unlock()
		return true, 0
	}
	now := b.now()
	if now.Before(b.openUntil) {
		wait := b.openUntil.Sub(now)
		b.mu.Unlock()
		return false, wait
	}
	hook := b.transitionLocked(Closed)
	b.mu.Unlock()
	hook()
	return true, 0
}

// Success records successful call
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// Failure records failed call
func (b *Breaker) Failure() {
	b.mu.Lock()
	b.failures++
	hook := func() {}
	if b.failures >= b.cfg.Threshold {
		b.openUntil = b.now().Add(b.backoff(b.failures))
		hook = b.transitionLocked(Open)
	}
	b.mu.Unlock()
	hook()
}

// State returns current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// OpenUntil returns when an open breaker will admit calls again.
func (b *Breaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openUntil
}

// Reset forces breaker to closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	hook := b.transitionLocked(Closed)
	b.mu.Unlock()
	hook()
}

func (b *Breaker) backoff(failures int) time.Duration {
	if failures >= 30 {
		return b.cfg.MaxBackoff
	}
	d := time.Duration(1<<failures) * time.Second
	if d > b.cfg.MaxBackoff {
		return b.cfg.MaxBackoff
	}
	return d
}

// transitionLocked changes state and returns the side effects to run unlocked.
func (b *Breaker) transitionLocked(to State) func() {
	from := b.state
	b.state = to
	if from == to && to == Closed {
		return func() {}
	}

	failures, until := b.failures, b.openUntil
	hook := b.onStateChange
	return func() {
		switch to {
		case Closed:
			slog.Info("circuit breaker closed")
		case Open:
			slog.Warn("circuit breaker opened", "failures", failures, "until", until)
		}
		if hook != nil && from != to {
			hook(from, to)
		}
	}
}
