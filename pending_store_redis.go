package otpauth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPendingKeyPrefix namespaces pending registrations in Redis.
const DefaultPendingKeyPrefix = "otpauth:pending:"

// RedisPendingStore keeps pending registrations in Redis. Entries carry a
// TTL so expired registrations are evicted by Redis itself.
type RedisPendingStore struct {
	client redis.UniversalClient
	prefix string
	grace  time.Duration
	now    Clock
}

var _ PendingStore = (*RedisPendingStore)(nil)

// RedisPendingStoreOption customizes a RedisPendingStore.
type RedisPendingStoreOption func(*RedisPendingStore)

// WithRedisKeyPrefix overrides the key prefix.
func WithRedisKeyPrefix(prefix string) RedisPendingStoreOption {
	return func(s *RedisPendingStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisGrace sets how long keys outlive their OTP expiry.
func WithRedisGrace(grace time.Duration) RedisPendingStoreOption {
	return func(s *RedisPendingStore) {
		if grace >= 0 {
			s.grace = grace
		}
	}
}

// WithRedisClock injects a custom clock (useful for tests).
func WithRedisClock(clock Clock) RedisPendingStoreOption {
	return func(s *RedisPendingStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewRedisPendingStore constructs a Redis backed pending store.
func NewRedisPendingStore(client redis.UniversalClient, opts ...RedisPendingStoreOption) *RedisPendingStore {
	s := &RedisPendingStore{
		client: client,
		prefix: DefaultPendingKeyPrefix,
		grace:  DefaultPendingGrace,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisPendingStore) key(email string) string {
	return s.prefix + NormalizeEmail(email)
}

func (s *RedisPendingStore) Put(ctx context.Context, pending PendingRegistration) error {
	pending.Email = NormalizeEmail(pending.Email)

	payload, err := json.Marshal(pending)
	if err != nil {
		return internalError(err, "failed to encode pending registration")
	}

	ttl := pending.OTPExpiresAt.Sub(s.now()) + s.grace
	if ttl < time.Second {
		ttl = time.Second
	}

	if err := s.client.Set(ctx, s.key(pending.Email), payload, ttl).Err(); err != nil {
		return dependencyError(err, "pending_store", "failed to persist pending registration")
	}
	return nil
}

func (s *RedisPendingStore) Get(ctx context.Context, email string) (*PendingRegistration, error) {
	raw, err := s.client.Get(ctx, s.key(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingNotFound
		}
		return nil, dependencyError(err, "pending_store", "failed to load pending registration")
	}

	var pending PendingRegistration
	if err := json.Unmarshal(raw, &pending); err != nil {
		return nil, internalError(err, "failed to decode pending registration")
	}
	return &pending, nil
}

func (s *RedisPendingStore) Delete(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, s.key(email)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return dependencyError(err, "pending_store", "failed to delete pending registration")
	}
	return nil
}
