package otpauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeEmptyPassword          = "EMPTY_PASSWORD"
	TextCodeInputTooLarge          = "INPUT_TOO_LARGE"
	TextCodeInvalidInput           = "INVALID_INPUT"
	TextCodePictureTooLarge        = "PROFILE_PICTURE_TOO_LARGE"
	TextCodePictureType            = "PROFILE_PICTURE_NOT_IMAGE"
	TextCodeEmailAlreadyVerified   = "EMAIL_ALREADY_VERIFIED"
	TextCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	TextCodeIdentityConflict       = "IDENTITY_CONFLICT"
	TextCodeIdentityNotFound       = "IDENTITY_NOT_FOUND"
	TextCodePendingNotFound        = "PENDING_REGISTRATION_NOT_FOUND"
	TextCodeOTPExpired             = "OTP_EXPIRED"
	TextCodeOTPMismatch            = "OTP_MISMATCH"
	TextCodeInvalidOTP             = "INVALID_OTP"
	TextCodeTooManyAttempts        = "TOO_MANY_ATTEMPTS"
	TextCodeInvalidCreds           = "INVALID_CREDENTIALS"
	TextCodeNotVerified            = "EMAIL_NOT_VERIFIED"
	TextCodeTokenMissing           = "TOKEN_MISSING"
	TextCodeTokenInvalid           = "TOKEN_INVALID"
	TextCodeTokenExpired           = "TOKEN_EXPIRED"
	TextCodeForbidden              = "FORBIDDEN"
	TextCodeNotificationFailed     = "NOTIFICATION_FAILED"
	TextCodeDependencyFailed       = "DEPENDENCY_FAILED"
	TextCodeInternal               = "INTERNAL_ERROR"
)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password can't be an empty string", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrInputTooLarge is returned for passwords above the bcrypt input limit.
var ErrInputTooLarge = goerrors.New("password exceeds 72 bytes", goerrors.CategoryValidation).
	WithTextCode(TextCodeInputTooLarge).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidEncoding is returned for passwords that are not valid UTF-8.
var ErrInvalidEncoding = goerrors.New("password must be valid UTF-8", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

// ErrProfilePictureTooLarge is returned for avatars above MaxProfilePictureBytes.
var ErrProfilePictureTooLarge = goerrors.New("profile picture exceeds 5 MiB", goerrors.CategoryValidation).
	WithTextCode(TextCodePictureTooLarge).
	WithCode(goerrors.CodeBadRequest)

// ErrProfilePictureType is returned when the avatar bytes are not an image.
var ErrProfilePictureType = goerrors.New("profile picture must be an image", goerrors.CategoryValidation).
	WithTextCode(TextCodePictureType).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailAlreadyVerified is returned when a confirmed identity owns the email.
var ErrEmailAlreadyVerified = goerrors.New("email is already registered and verified", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailAlreadyVerified).
	WithCode(goerrors.CodeConflict)

// ErrEmailAlreadyRegistered is returned when an unverified identity owns the email.
var ErrEmailAlreadyRegistered = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailAlreadyRegistered).
	WithCode(goerrors.CodeConflict)

// ErrIdentityConflict is returned by the IdentityStore on email uniqueness violations.
var ErrIdentityConflict = goerrors.New("an identity with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeIdentityConflict).
	WithCode(goerrors.CodeConflict)

// ErrIdentityNotFound is returned for missing identities.
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrPendingNotFound is returned when no registration is pending for an email.
var ErrPendingNotFound = goerrors.New("no pending registration for this email", goerrors.CategoryNotFound).
	WithTextCode(TextCodePendingNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrOTPExpired is returned when the code was submitted after its deadline.
var ErrOTPExpired = goerrors.New("verification code expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeOTPExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrOTPMismatch is returned when the submitted code does not match.
var ErrOTPMismatch = goerrors.New("verification code does not match", goerrors.CategoryValidation).
	WithTextCode(TextCodeOTPMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidOTP is the externally visible form of the OTP failures.
var ErrInvalidOTP = goerrors.New("invalid or expired code", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidOTP).
	WithCode(goerrors.CodeBadRequest)

// ErrTooManyAttempts is returned when an email exceeds the verify attempt budget.
var ErrTooManyAttempts = goerrors.New("too many verification attempts, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(goerrors.CodeTooManyRequests)

// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotVerified is returned when logging into an identity that was never confirmed.
var ErrNotVerified = goerrors.New("email address has not been verified", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotVerified).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMissing is returned when a protected route receives no bearer token.
var ErrTokenMissing = goerrors.New("missing authentication token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMissing).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenInvalid covers tampered and malformed tokens.
var ErrTokenInvalid = goerrors.New("invalid authentication token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeForbidden)

// ErrTokenExpired is returned for well signed tokens past their expiry.
var ErrTokenExpired = goerrors.New("authentication token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeForbidden)

// ErrForbidden is returned when the caller lacks the required role.
var ErrForbidden = goerrors.New("insufficient permissions", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// HasTextCode reports whether err, or any go-errors value it wraps, carries code.
func HasTextCode(err error, code string) bool {
	for err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			return false
		}
		if richErr.TextCode == code {
			return true
		}
		err = errors.Unwrap(richErr)
	}
	return false
}

// StatusFromError maps an error to the HTTP status the transport should use.
func StatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	switch richErr.TextCode {
	case TextCodeNotificationFailed:
		return http.StatusBadGateway
	case TextCodeTokenInvalid, TextCodeTokenExpired, TextCodeForbidden:
		return http.StatusForbidden
	case TextCodeTooManyAttempts:
		return http.StatusTooManyRequests
	}

	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether err was flagged as a transient dependency failure.
func IsRetryable(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return false
	}
	retryable, _ := richErr.Metadata["retryable"].(bool)
	return retryable
}

func dependencyError(err error, dependency, msg string) *goerrors.Error {
	textCode := TextCodeDependencyFailed
	if dependency == "notifier" {
		textCode = TextCodeNotificationFailed
	}
	return goerrors.Wrap(err, goerrors.CategoryOperation, msg).
		WithTextCode(textCode).
		WithMetadata(map[string]any{
			"dependency": dependency,
			"retryable":  true,
			"timeout":    errors.Is(err, context.DeadlineExceeded),
		})
}

func internalError(err error, msg string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(TextCodeInternal).
		WithCode(goerrors.CodeInternal)
}

// classifyStoreError passes classified go-errors values through and turns
// anything else into a dependency failure.
func classifyStoreError(err error, dependency, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		return richErr
	}
	return dependencyError(err, dependency, msg)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed: unique")
}
