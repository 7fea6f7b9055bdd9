package otpauth

import (
	"context"
	"sync"
	"time"
)

// PendingStore keeps registrations waiting for confirmation, keyed by
// normalized email. Put replaces any previous entry for the same email.
type PendingStore interface {
	Put(ctx context.Context, pending PendingRegistration) error
	Get(ctx context.Context, email string) (*PendingRegistration, error)
	Delete(ctx context.Context, email string) error
}

// Sweeper is implemented by stores that need explicit expiry housekeeping.
type Sweeper interface {
	Sweep(now time.Time) int
}

// DefaultPendingGrace keeps expired entries around for a short while so
// late submissions are reported as expired instead of not found.
const DefaultPendingGrace = time.Minute

// MemoryPendingStore is an in-process PendingStore.
type MemoryPendingStore struct {
	mu      sync.RWMutex
	entries map[string]PendingRegistration
	grace   time.Duration
	now     Clock
	logger  Logger
}

var (
	_ PendingStore = (*MemoryPendingStore)(nil)
	_ Sweeper      = (*MemoryPendingStore)(nil)
)

// MemoryPendingStoreOption customizes a MemoryPendingStore.
type MemoryPendingStoreOption func(*MemoryPendingStore)

// WithPendingGrace sets how long entries outlive their OTP expiry.
func WithPendingGrace(grace time.Duration) MemoryPendingStoreOption {
	return func(s *MemoryPendingStore) {
		if grace >= 0 {
			s.grace = grace
		}
	}
}

// WithPendingClock injects a custom clock (useful for tests).
func WithPendingClock(clock Clock) MemoryPendingStoreOption {
	return func(s *MemoryPendingStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithPendingLogger overrides the logger.
func WithPendingLogger(logger Logger) MemoryPendingStoreOption {
	return func(s *MemoryPendingStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewMemoryPendingStore returns an empty store.
func NewMemoryPendingStore(opts ...MemoryPendingStoreOption) *MemoryPendingStore {
	s := &MemoryPendingStore{
		entries: make(map[string]PendingRegistration),
		grace:   DefaultPendingGrace,
		now:     time.Now,
		logger:  defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryPendingStore) Put(ctx context.Context, pending PendingRegistration) error {
	if err := ctx.Err(); err != nil {
		return dependencyError(err, "pending_store", "pending store put cancelled")
	}

	pending.Email = NormalizeEmail(pending.Email)

	s.mu.Lock()
	s.entries[pending.Email] = pending
	s.mu.Unlock()
	return nil
}

func (s *MemoryPendingStore) Get(ctx context.Context, email string) (*PendingRegistration, error) {
	if err := ctx.Err(); err != nil {
		return nil, dependencyError(err, "pending_store", "pending store get cancelled")
	}

	s.mu.RLock()
	entry, ok := s.entries[NormalizeEmail(email)]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrPendingNotFound
	}
	return &entry, nil
}

func (s *MemoryPendingStore) Delete(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return dependencyError(err, "pending_store", "pending store delete cancelled")
	}

	s.mu.Lock()
	delete(s.entries, NormalizeEmail(email))
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryPendingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes entries whose expiry plus grace is not after now and
// returns how many were removed.
func (s *MemoryPendingStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for email, entry := range s.entries {
		if !now.Before(entry.OTPExpiresAt.Add(s.grace)) {
			delete(s.entries, email)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *MemoryPendingStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Debug("pending store swept expired registrations", "removed", n)
			}
		}
	}
}
