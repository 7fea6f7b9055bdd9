package otpauth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultVerifyBurst is the number of verify attempts an email gets up front.
	DefaultVerifyBurst = 5
	// DefaultVerifyRefill is how often one attempt is given back.
	DefaultVerifyRefill = time.Minute
	// DefaultVerifyIdle is how long an untouched limiter is kept around.
	DefaultVerifyIdle = 15 * time.Minute
)

// AttemptLimiter gates verification attempts per email.
type AttemptLimiter interface {
	Allow(email string) bool
	Forget(email string)
	Prune(now time.Time) int
}

// VerifyLimiter is a token bucket per email backed by x/time/rate.
type VerifyLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     Clock
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ AttemptLimiter = (*VerifyLimiter)(nil)

// VerifyLimiterOption customizes a VerifyLimiter.
type VerifyLimiterOption func(*VerifyLimiter)

// WithLimiterClock injects a custom clock (useful for tests).
func WithLimiterClock(clock Clock) VerifyLimiterOption {
	return func(l *VerifyLimiter) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithLimiterIdle sets how long an unused entry survives Prune.
func WithLimiterIdle(idle time.Duration) VerifyLimiterOption {
	return func(l *VerifyLimiter) {
		if idle > 0 {
			l.idle = idle
		}
	}
}

// NewVerifyLimiter allows burst attempts per email, refilling one every
// refill interval. Non positive values fall back to the defaults.
func NewVerifyLimiter(burst int, refill time.Duration, opts ...VerifyLimiterOption) *VerifyLimiter {
	if burst <= 0 {
		burst = DefaultVerifyBurst
	}
	if refill <= 0 {
		refill = DefaultVerifyRefill
	}

	l := &VerifyLimiter{
		limit:   rate.Every(refill),
		burst:   burst,
		idle:    DefaultVerifyIdle,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Allow consumes one attempt for email and reports whether it was available.
func (l *VerifyLimiter) Allow(email string) bool {
	now := l.now()
	email = NormalizeEmail(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[email]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[email] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Forget drops the state kept for email.
func (l *VerifyLimiter) Forget(email string) {
	l.mu.Lock()
	delete(l.entries, NormalizeEmail(email))
	l.mu.Unlock()
}

// Prune removes entries idle for longer than the idle window and returns
// how many were removed.
func (l *VerifyLimiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for email, entry := range l.entries {
		if now.Sub(entry.lastSeen) >= l.idle {
			delete(l.entries, email)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked emails.
func (l *VerifyLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

type unlimited struct{}

func (unlimited) Allow(string) bool   { return true }
func (unlimited) Forget(string)       {}
func (unlimited) Prune(time.Time) int { return 0 }
