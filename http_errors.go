package otpauth

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-auth-otp/middleware/jwtware"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// APIResponse is the JSON envelope for every API response.
type APIResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
	Total   *int      `json:"total,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError is the client visible part of a failure.
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(ctx router.Context, status int, payload APIResponse) error {
	if payload.Status == "" {
		payload.Status = statusSuccess
	}
	return ctx.JSON(status, payload)
}

// WriteError renders err. Internal failures are logged with detail and
// answered with a generic message.
func WriteError(ctx router.Context, logger Logger, err error) error {
	status := StatusFromError(err)
	body := APIError{
		Code:    TextCodeInternal,
		Message: "an internal error occurred",
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && exposesDetail(richErr, status) {
		body.Message = richErr.Message
		switch {
		case richErr.TextCode != "":
			body.Code = richErr.TextCode
		case status == http.StatusBadRequest:
			body.Code = TextCodeInvalidInput
		}
		if len(richErr.ValidationErrors) > 0 {
			body.Fields = make(map[string]string, len(richErr.ValidationErrors))
			for _, fe := range richErr.ValidationErrors {
				body.Fields[fe.Field] = fe.Message
			}
		}
	}

	if status >= http.StatusInternalServerError {
		args := []any{"status", status, "path", ctx.Path(), "error", err}
		if richErr != nil && richErr.Metadata != nil {
			args = append(args, "details", print.MaybePrettyJSON(richErr.Metadata))
		}
		normalizeLogger(logger).Error("request failed", args...)
	}

	return ctx.JSON(status, APIResponse{Status: statusError, Error: &body})
}

func exposesDetail(richErr *goerrors.Error, status int) bool {
	if richErr.Category == goerrors.CategoryInternal {
		return false
	}
	if status < http.StatusInternalServerError {
		return true
	}
	// dependency failures carry our own message, never the cause
	_, isDependency := richErr.Metadata["dependency"]
	return isDependency
}

// collapseOTPError hides which of the OTP checks failed.
func collapseOTPError(err error) error {
	if HasTextCode(err, TextCodeOTPExpired) ||
		HasTextCode(err, TextCodeOTPMismatch) ||
		HasTextCode(err, TextCodePendingNotFound) {
		return ErrInvalidOTP
	}
	return err
}

// BearerErrorHandler maps bearer middleware failures onto the API envelope:
// missing token is 401, anything else 403.
func BearerErrorHandler(logger Logger) router.ErrorHandler {
	return func(ctx router.Context, err error) error {
		switch {
		case errors.Is(err, jwtware.ErrJWTMissingOrMalformed):
			err = ErrTokenMissing
		case errors.Is(err, jwtware.ErrAccessDenied):
			err = ErrForbidden
		case HasTextCode(err, TextCodeTokenExpired):
		default:
			err = ErrTokenInvalid
		}
		return WriteError(ctx, logger, err)
	}
}
