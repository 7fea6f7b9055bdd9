package activitymap

import (
	"context"

	otpauth "github.com/goliatone/go-auth-otp"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink counts activity events by verb and actor type.
type MetricsSink struct {
	events *prometheus.CounterVec
	opts   []Option
}

var _ otpauth.ActivitySink = (*MetricsSink)(nil)

// NewMetricsSink registers otpauth_activity_events_total on reg.
func NewMetricsSink(reg prometheus.Registerer, opts ...Option) (*MetricsSink, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "otpauth",
		Name:      "activity_events_total",
		Help:      "Registration, verification, login and identity events.",
	}, []string{"verb", "actor_type"})

	if err := reg.Register(events); err != nil {
		return nil, err
	}

	return &MetricsSink{events: events, opts: opts}, nil
}

func (s *MetricsSink) Record(_ context.Context, event otpauth.ActivityEvent) error {
	n := Normalize(event, s.opts...)
	s.events.WithLabelValues(n.Verb, n.ActorType()).Inc()
	return nil
}

// Collector exposes the underlying counter, mostly for tests.
func (s *MetricsSink) Collector() *prometheus.CounterVec {
	return s.events
}

// NewLogSink writes every normalized event to logger at info level.
func NewLogSink(logger otpauth.Logger, opts ...Option) otpauth.ActivitySink {
	return otpauth.ActivitySinkFunc(func(_ context.Context, event otpauth.ActivityEvent) error {
		n := Normalize(event, opts...)
		logger.Info("activity",
			"verb", n.Verb,
			"actor_id", n.ActorID,
			"object_type", n.ObjectType,
			"object_id", n.ObjectID,
			"channel", n.Channel,
			"metadata", n.Metadata,
		)
		return nil
	})
}
