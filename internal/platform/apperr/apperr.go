// Package apperr defines the error kinds surfaced by medrem operations and
// renders them as the {"success": false, "error": ...} response envelope.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Error kinds. Operations wrap one of these with fmt.Errorf("%w: ...") so that
// callers can classify failures with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrExternal   = errors.New("external service failure")
)

// Validation returns an ErrValidation carrying msg as its user-facing message.
func Validation(msg string) error { return &kindError{kind: ErrValidation, msg: msg} }

// NotFound returns an ErrNotFound carrying msg as its user-facing message.
func NotFound(msg string) error { return &kindError{kind: ErrNotFound, msg: msg} }

// Conflict returns an ErrConflict carrying msg as its user-facing message.
func Conflict(msg string) error { return &kindError{kind: ErrConflict, msg: msg} }

// External wraps a provider failure. The cause is kept for logging but the
// user-facing message is msg.
func External(msg string, cause error) error {
	return &kindError{kind: ErrExternal, msg: msg, cause: cause}
}

type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }

// Status maps an error to the HTTP status code used in responses.
func Status(err error) int {
	var he *echo.HTTPError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrExternal):
		return http.StatusBadGateway
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text shown to clients. Internal failures never leak
// their cause.
func Message(err error) string {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if s, ok := he.Message.(string); ok {
			return s
		}
		return http.StatusText(he.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timed out"
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err.Error()
	}
	return "Internal Server Error"
}

// HTTPErrorHandler renders every handler error in the failure envelope.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := Status(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Int("status", status).
				Msg("request failed")
		}

		body := map[string]interface{}{
			"success": false,
			"error":   Message(err),
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
