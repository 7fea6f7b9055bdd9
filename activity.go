package otpauth

import (
	"context"
	"time"
)

// ActorRef identifies who/what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegistrationRequested    ActivityEventType = "registration.requested"
	ActivityEventRegistrationNotifyFailed ActivityEventType = "registration.notify_failed"
	ActivityEventRegistrationVerified     ActivityEventType = "registration.verified"
	ActivityEventRegistrationVerifyFailed ActivityEventType = "registration.verify_failed"
	ActivityEventLoginSuccess             ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure             ActivityEventType = "auth.login.failure"
	ActivityEventIdentityUpdated          ActivityEventType = "identity.updated"
	ActivityEventIdentityDeleted          ActivityEventType = "identity.deleted"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	Email      string
	FromState  RegistrationState
	ToState    RegistrationState
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink fans events out to every sink. All sinks are called
// and the first error is returned.
type MultiActivitySink []ActivitySink

// Record implements ActivitySink.
func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
