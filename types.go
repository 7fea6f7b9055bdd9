package otpauth

import (
	"fmt"
	"strings"
	"time"
)

// Logger is the structured logger used across the package.
// Arguments after the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the options consumed by the Registrar, the TokenService
// and the HTTP layer.
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetTokenTTL() time.Duration
	GetOTPTTL() time.Duration
	GetOTPDigits() int
	GetOperationTimeout() time.Duration
	GetContextKey() string
	GetAuthScheme() string
	GetAdminEmail() string
	GetAdminPassword() string
	GetExposeOTPErrors() bool
}

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] OTPAUTH " + formatLine(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] OTPAUTH " + formatLine(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] OTPAUTH " + formatLine(msg, args...))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] OTPAUTH " + formatLine(msg, args...))
}

func formatLine(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(msg, "\n"))
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	b.WriteString("\n")
	return b.String()
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
