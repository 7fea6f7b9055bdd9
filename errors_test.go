package otpauth_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"

	otpauth "github.com/goliatone/go-auth-otp"
)

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil", err: nil, expected: http.StatusOK},
		{name: "plain error", err: errors.New("boom"), expected: http.StatusInternalServerError},
		{name: "empty password", err: otpauth.ErrNoEmptyString, expected: http.StatusBadRequest},
		{name: "picture type", err: otpauth.ErrProfilePictureType, expected: http.StatusBadRequest},
		{name: "already verified", err: otpauth.ErrEmailAlreadyVerified, expected: http.StatusConflict},
		{name: "already registered", err: otpauth.ErrEmailAlreadyRegistered, expected: http.StatusConflict},
		{name: "identity not found", err: otpauth.ErrIdentityNotFound, expected: http.StatusNotFound},
		{name: "pending not found", err: otpauth.ErrPendingNotFound, expected: http.StatusNotFound},
		{name: "otp expired", err: otpauth.ErrOTPExpired, expected: http.StatusBadRequest},
		{name: "otp mismatch", err: otpauth.ErrOTPMismatch, expected: http.StatusBadRequest},
		{name: "invalid otp", err: otpauth.ErrInvalidOTP, expected: http.StatusBadRequest},
		{name: "too many attempts", err: otpauth.ErrTooManyAttempts, expected: http.StatusTooManyRequests},
		{name: "invalid credentials", err: otpauth.ErrInvalidCredentials, expected: http.StatusUnauthorized},
		{name: "not verified", err: otpauth.ErrNotVerified, expected: http.StatusUnauthorized},
		{name: "token missing", err: otpauth.ErrTokenMissing, expected: http.StatusUnauthorized},
		{name: "token invalid", err: otpauth.ErrTokenInvalid, expected: http.StatusForbidden},
		{name: "token expired", err: otpauth.ErrTokenExpired, expected: http.StatusForbidden},
		{name: "forbidden", err: otpauth.ErrForbidden, expected: http.StatusForbidden},
		{name: "wrapped with fmt", err: fmt.Errorf("verify: %w", otpauth.ErrOTPMismatch), expected: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, otpauth.StatusFromError(tt.err))
		})
	}
}

func TestHasTextCode(t *testing.T) {
	assert.True(t, otpauth.HasTextCode(otpauth.ErrOTPExpired, otpauth.TextCodeOTPExpired))
	assert.True(t, otpauth.HasTextCode(fmt.Errorf("wrapped: %w", otpauth.ErrPendingNotFound), otpauth.TextCodePendingNotFound))
	assert.False(t, otpauth.HasTextCode(otpauth.ErrOTPExpired, otpauth.TextCodeOTPMismatch))
	assert.False(t, otpauth.HasTextCode(errors.New("OTP_EXPIRED"), otpauth.TextCodeOTPExpired))
	assert.False(t, otpauth.HasTextCode(nil, otpauth.TextCodeOTPExpired))
}

func TestIsRetryable(t *testing.T) {
	retryable := goerrors.New("store down", goerrors.CategoryOperation).
		WithMetadata(map[string]any{"retryable": true})

	assert.True(t, otpauth.IsRetryable(retryable))
	assert.True(t, otpauth.IsRetryable(fmt.Errorf("register: %w", retryable)))
	assert.False(t, otpauth.IsRetryable(otpauth.ErrInvalidCredentials))
	assert.False(t, otpauth.IsRetryable(errors.New("boom")))
	assert.False(t, otpauth.IsRetryable(nil))
}

func TestSentinelProperties(t *testing.T) {
	tests := []struct {
		err      *goerrors.Error
		category goerrors.Category
		textCode string
	}{
		{otpauth.ErrNoEmptyString, goerrors.CategoryValidation, otpauth.TextCodeEmptyPassword},
		{otpauth.ErrInputTooLarge, goerrors.CategoryValidation, otpauth.TextCodeInputTooLarge},
		{otpauth.ErrEmailAlreadyVerified, goerrors.CategoryConflict, otpauth.TextCodeEmailAlreadyVerified},
		{otpauth.ErrIdentityNotFound, goerrors.CategoryNotFound, otpauth.TextCodeIdentityNotFound},
		{otpauth.ErrInvalidOTP, goerrors.CategoryValidation, otpauth.TextCodeInvalidOTP},
		{otpauth.ErrTooManyAttempts, goerrors.CategoryRateLimit, otpauth.TextCodeTooManyAttempts},
		{otpauth.ErrInvalidCredentials, goerrors.CategoryAuth, otpauth.TextCodeInvalidCreds},
		{otpauth.ErrForbidden, goerrors.CategoryAuthz, otpauth.TextCodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.textCode, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.textCode, tt.err.TextCode)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}
