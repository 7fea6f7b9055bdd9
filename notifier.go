package otpauth

import (
	"context"
	"time"
)

// OTPMessage is what a Notifier delivers to a registrant.
type OTPMessage struct {
	Email       string
	DisplayName string
	Code        string
	ExpiresAt   time.Time
}

// Notifier delivers verification codes out of band.
type Notifier interface {
	SendOTP(ctx context.Context, msg OTPMessage) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg OTPMessage) error

// SendOTP implements Notifier.
func (f NotifierFunc) SendOTP(ctx context.Context, msg OTPMessage) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// LogNotifier writes codes to the logger. Meant for local development only.
type LogNotifier struct {
	logger Logger
}

// NewLogNotifier returns a notifier that logs instead of sending mail.
func NewLogNotifier(logger Logger) *LogNotifier {
	return &LogNotifier{logger: normalizeLogger(logger)}
}

// SendOTP implements Notifier.
func (n *LogNotifier) SendOTP(ctx context.Context, msg OTPMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info("verification code issued",
		"email", msg.Email,
		"code", msg.Code,
		"expires_at", msg.ExpiresAt.Format(time.RFC3339),
	)
	return nil
}
