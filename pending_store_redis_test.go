package otpauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	otpauth "github.com/goliatone/go-auth-otp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, opts ...otpauth.RedisPendingStoreOption) (*otpauth.RedisPendingStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return otpauth.NewRedisPendingStore(client, opts...), mr
}

func TestRedisPendingStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store, mr := newRedisStore(t, otpauth.WithRedisClock(func() time.Time { return now }))

	_, err := store.Get(ctx, "ada@example.com")
	assert.True(t, otpauth.HasTextCode(err, otpauth.TextCodePendingNotFound))

	require.NoError(t, store.Put(ctx, newPending("Ada@Example.com", "123456", now.Add(10*time.Minute))))
	assert.True(t, mr.Exists(otpauth.DefaultPendingKeyPrefix+"ada@example.com"))

	got, err := store.Get(ctx, " ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, "123456", got.OTPCode)
	assert.True(t, got.OTPExpiresAt.Equal(now.Add(10*time.Minute)))

	require.NoError(t, store.Put(ctx, newPending("ada@example.com", "654321", now.Add(10*time.Minute))))
	got, err = store.Get(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "654321", got.OTPCode)

	require.NoError(t, store.Delete(ctx, "ada@example.com"))
	require.NoError(t, store.Delete(ctx, "ada@example.com"))

	_, err = store.Get(ctx, "ada@example.com")
	assert.True(t, otpauth.HasTextCode(err, otpauth.TextCodePendingNotFound))
}

func TestRedisPendingStore_TTLEviction(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store, mr := newRedisStore(t,
		otpauth.WithRedisClock(func() time.Time { return now }),
		otpauth.WithRedisGrace(time.Minute),
		otpauth.WithRedisKeyPrefix("test:pending:"),
	)

	require.NoError(t, store.Put(ctx, newPending("ada@example.com", "123456", now.Add(10*time.Minute))))
	assert.Equal(t, 11*time.Minute, mr.TTL("test:pending:ada@example.com"))

	mr.FastForward(10*time.Minute + 30*time.Second)
	_, err := store.Get(ctx, "ada@example.com")
	assert.NoError(t, err, "grace keeps the entry readable")

	mr.FastForward(time.Minute)
	_, err = store.Get(ctx, "ada@example.com")
	assert.True(t, otpauth.HasTextCode(err, otpauth.TextCodePendingNotFound))
}

func TestRedisPendingStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	mr.Close()

	err := store.Put(ctx, newPending("ada@example.com", "123456", time.Now().Add(time.Minute)))
	require.Error(t, err)
	assert.True(t, otpauth.HasTextCode(err, otpauth.TextCodeDependencyFailed))
	assert.True(t, otpauth.IsRetryable(err))

	_, err = store.Get(ctx, "ada@example.com")
	assert.True(t, otpauth.HasTextCode(err, otpauth.TextCodeDependencyFailed))
}
