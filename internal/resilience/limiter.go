package resilience

import (
	"sync"
	"time"
)

// LimiterStats is a point-in-time view of a limiter.
type LimiterStats struct {
	Name                string    `json:"name"`
	TotalCalls          int       `json:"total_calls"`
	TotalFailures       int       `json:"total_failures"`
	TotalRateLimited    int       `json:"total_rate_limited"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CircuitOpen         bool      `json:"circuit_open"`
	OpenUntil           time.Time `json:"open_until,omitzero"`
	CallsInWindow       int       `json:"calls_in_window"`
	MaxCallsPerMinute   int       `json:"max_calls_per_minute"`
}

// Limiter combines a rolling call window with a consecutive-failure breaker.
// Every external call must be admitted by CanCall and reported with Record.
type Limiter struct {
	cfg     LimiterConfig
	breaker *Breaker
	now     func() time.Time

	mu          sync.Mutex
	calls       []time.Time
	total       int
	failures    int
	rateLimited int
}

// NewLimiter creates a limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	cfg = cfg.withDefaults()
	return &Limiter{
		cfg:     cfg,
		breaker: NewBreaker(cfg.Breaker),
		now:     time.Now,
	}
}

// WithClock replaces the time source for the limiter and its breaker.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	l.breaker.WithClock(now)
	return l
}

// WithHook forwards breaker state changes to fn.
func (l *Limiter) WithHook(fn func(from, to State)) *Limiter {
	l.breaker.WithHook(fn)
	return l
}

// CanCall reports whether a call is admitted now. An admitted call occupies a
// window slot immediately, so concurrent callers cannot overfill the window.
// When refused, wait is the time until admission could next succeed.
func (l *Limiter) CanCall() (bool, time.Duration) {
	if ok, wait := l.breaker.Allow(); !ok {
		l.mu.Lock()
		l.rateLimited++
		l.mu.Unlock()
		return false, wait
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)
	if len(l.calls) >= l.cfg.MaxCallsPerMinute {
		l.rateLimited++
		return false, l.calls[0].Add(l.cfg.Window).Sub(now)
	}
	l.calls = append(l.calls, now)
	l.total++
	return true, 0
}

// Record reports the outcome of an admitted call.
func (l *Limiter) Record(success bool) {
	if success {
		l.breaker.Success()
		return
	}
	l.mu.Lock()
	l.failures++
	l.mu.Unlock()
	l.breaker.Failure()
}

// Stats returns usage counters.
func (l *Limiter) Stats() LimiterStats {
	open := l.breaker.State() == Open && l.now().Before(l.breaker.OpenUntil())
	st := LimiterStats{
		Name:                l.cfg.Name,
		ConsecutiveFailures: l.breaker.Failures(),
		CircuitOpen:         open,
		MaxCallsPerMinute:   l.cfg.MaxCallsPerMinute,
	}
	if open {
		st.OpenUntil = l.breaker.OpenUntil()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	st.TotalCalls = l.total
	st.TotalFailures = l.failures
	st.TotalRateLimited = l.rateLimited
	st.CallsInWindow = len(l.calls)
	return st
}

// pruneLocked drops timestamps that have left the window.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
