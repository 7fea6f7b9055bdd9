package activitymap_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	otpauth "github.com/goliatone/go-auth-otp"
	"github.com/goliatone/go-auth-otp/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := otpauth.ActivityEvent{
		EventType: otpauth.ActivityEventRegistrationVerified,
		Actor:     otpauth.ActorRef{ID: "user-100", Type: "user"},
		UserID:    "user-100",
		Email:     "ada@x.com",
		FromState: otpauth.StatePending,
		ToState:   otpauth.StateVerified,
		Metadata: map[string]any{
			"ip": "10.0.0.1",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	assert.Equal(t, "user-100", out.ActorID)
	assert.Equal(t, string(otpauth.ActivityEventRegistrationVerified), out.Verb)
	assert.Equal(t, "identity", out.ObjectType)
	assert.Equal(t, "user-100", out.ObjectID)
	assert.Equal(t, "otpauth", out.Channel)
	assert.True(t, out.OccurredAt.Equal(ts))

	assert.Equal(t, "10.0.0.1", out.Metadata["ip"])
	assert.Equal(t, "user", out.Metadata[activitymap.MetadataKeyActorType])
	assert.Equal(t, "pending", out.Metadata[activitymap.MetadataKeyFromState])
	assert.Equal(t, "verified", out.Metadata[activitymap.MetadataKeyToState])
	assert.Equal(t, "user", out.ActorType())

	assert.Len(t, event.Metadata, 1, "source metadata is not mutated")
}

func TestNormalizeRegistrationUsesEmailAsObject(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	out := activitymap.Normalize(otpauth.ActivityEvent{
		EventType: otpauth.ActivityEventRegistrationRequested,
		Email:     " Ada@X.com ",
	}, activitymap.WithClock(func() time.Time { return fixed }))

	assert.Equal(t, "ada@x.com", out.ObjectID)
	assert.Equal(t, "system", out.ActorID)
	assert.Equal(t, "system", out.ActorType())
	assert.Equal(t, fixed, out.OccurredAt)
	assert.Nil(t, out.Metadata)
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	event := otpauth.ActivityEvent{
		EventType: otpauth.ActivityEventIdentityUpdated,
		Actor:     otpauth.ActorRef{Type: "admin"},
		UserID:    "user-200",
		Metadata: map[string]any{
			"ticket":                         "SEC-204",
			activitymap.MetadataKeyActorType: "existing",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel(" security "),
		activitymap.WithDefaultObjectType("account"),
		activitymap.WithObjectIDResolver(func(e otpauth.ActivityEvent) string {
			v, _ := e.Metadata["ticket"].(string)
			return v
		}),
	)

	assert.Equal(t, "security", out.Channel)
	assert.Equal(t, "account", out.ObjectType)
	assert.Equal(t, "SEC-204", out.ObjectID)
	assert.Equal(t, "existing", out.Metadata[activitymap.MetadataKeyActorType])
	assert.False(t, out.OccurredAt.IsZero())
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  otpauth.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses actor id when present",
			event:  otpauth.ActivityEvent{Actor: otpauth.ActorRef{ID: "actor-1"}, UserID: "user-1"},
			expect: "actor-1",
		},
		{
			name:   "uses user id when actor id missing",
			event:  otpauth.ActivityEvent{UserID: "user-2"},
			expect: "user-2",
		},
		{
			name:   "uses default fallback when actor and user missing",
			event:  otpauth.ActivityEvent{},
			expect: "system",
		},
		{
			name:   "uses configured fallback when actor and user missing",
			event:  otpauth.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("janitor")},
			expect: "janitor",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expect, activitymap.Normalize(tc.event, tc.opts...).ActorID)
		})
	}
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := activitymap.NewMetricsSink(reg)
	require.NoError(t, err)

	ctx := context.Background()
	events := []otpauth.ActivityEvent{
		{EventType: otpauth.ActivityEventLoginFailure, Actor: otpauth.ActorRef{Type: "system"}},
		{EventType: otpauth.ActivityEventLoginFailure, Actor: otpauth.ActorRef{Type: "system"}},
		{EventType: otpauth.ActivityEventLoginSuccess, Actor: otpauth.ActorRef{ID: "admin", Type: "admin"}},
	}
	for _, evt := range events {
		require.NoError(t, sink.Record(ctx, evt))
	}

	failures := sink.Collector().WithLabelValues(string(otpauth.ActivityEventLoginFailure), "system")
	assert.Equal(t, float64(2), testutil.ToFloat64(failures))

	expected := fmt.Sprintf(`
# HELP otpauth_activity_events_total Registration, verification, login and identity events.
# TYPE otpauth_activity_events_total counter
otpauth_activity_events_total{actor_type="admin",verb="%s"} 1
otpauth_activity_events_total{actor_type="system",verb="%s"} 2
`, otpauth.ActivityEventLoginSuccess, otpauth.ActivityEventLoginFailure)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "otpauth_activity_events_total"))

	_, err = activitymap.NewMetricsSink(reg)
	assert.Error(t, err, "registering twice fails")
}

type lineLogger struct {
	mu   sync.Mutex
	msgs []string
	args [][]any
}

func (l *lineLogger) Debug(string, ...any) {}
func (l *lineLogger) Warn(string, ...any)  {}
func (l *lineLogger) Error(string, ...any) {}
func (l *lineLogger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
	l.args = append(l.args, args)
}

func TestLogSink(t *testing.T) {
	logger := &lineLogger{}
	sink := activitymap.NewLogSink(logger, activitymap.WithDefaultChannel("audit"))

	require.NoError(t, sink.Record(context.Background(), otpauth.ActivityEvent{
		EventType: otpauth.ActivityEventIdentityDeleted,
		Actor:     otpauth.ActorRef{ID: "admin", Type: "admin"},
		UserID:    "user-9",
	}))

	require.Equal(t, []string{"activity"}, logger.msgs)
	args := logger.args[0]
	assert.Equal(t, []any{"verb", "identity.deleted", "actor_id", "admin"}, args[:4])
	assert.Contains(t, args, "audit")
	assert.Contains(t, args, "user-9")
}
