package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type Code string

const (
	CodeInvalidRequest    Code = "InvalidRequest"
	CodeConfiguration     Code = "ConfigurationError"
	CodeInvalidCredential Code = "InvalidCredential"
	CodeQuotaExceeded     Code = "QuotaExceeded"
	CodeUpstream          Code = "UpstreamError"
	CodeNoImageReturned   Code = "NoImageReturned"
)

// Error is the single failure type returned by the gateway. Message is safe
// to show to users; Details carries provider output when there is any.
type Error struct {
	Code    Code
	Message string
	Details string
	Err     error
}

var (
	ErrInvalidRequest    = &Error{Code: CodeInvalidRequest}
	ErrConfiguration     = &Error{Code: CodeConfiguration}
	ErrInvalidCredential = &Error{Code: CodeInvalidCredential}
	ErrQuotaExceeded     = &Error{Code: CodeQuotaExceeded}
	ErrUpstream          = &Error{Code: CodeUpstream}
	ErrNoImageReturned   = &Error{Code: CodeNoImageReturned}
)

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, gateway.ErrQuotaExceeded).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Status() int {
	switch e.Code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeInvalidCredential:
		return http.StatusUnauthorized
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func invalid(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: msg}
}

type statusCoder interface {
	StatusCode() int
}

func classify(err error) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	code := 0
	var sc statusCoder
	if errors.As(err, &sc) {
		code = sc.StatusCode()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeUpstream, Message: "image provider timed out", Err: err}
	case strings.Contains(lower, "quota") || code == http.StatusTooManyRequests || strings.Contains(msg, "429"):
		return &Error{
			Code:    CodeQuotaExceeded,
			Message: "API quota exceeded: wait a moment and try again, or use a different API key",
			Details: msg,
			Err:     err,
		}
	case strings.Contains(lower, "api key") || code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &Error{
			Code:    CodeInvalidCredential,
			Message: "the Gemini API key was rejected",
			Details: msg,
			Err:     err,
		}
	default:
		return &Error{Code: CodeUpstream, Message: msg, Err: err}
	}
}
