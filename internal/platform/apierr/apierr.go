package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Codes shared across handlers and services. Handlers map these to HTTP via
// Error.Status; workers use them to classify failures without string matching.
const (
	CodeValidation         = "validation_failed"
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeRateLimited        = "rate_limited"
	CodeBudgetExhausted    = "budget_exhausted"
	CodeQueueBusy          = "queue_busy"
	CodeStorageUnavailable = "storage_unavailable"
	CodeQueueUnavailable   = "queue_unavailable"
	CodeProviderFailure    = "provider_failure"
	CodeInternal           = "internal_error"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Validation(err error) *Error {
	return New(http.StatusBadRequest, CodeValidation, err)
}

func Unauthorized(err error) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, err)
}

func Forbidden(err error) *Error {
	return New(http.StatusForbidden, CodeForbidden, err)
}

func NotFound(err error) *Error {
	return New(http.StatusNotFound, CodeNotFound, err)
}

func Conflict(err error) *Error {
	return New(http.StatusConflict, CodeConflict, err)
}

func RateLimited(err error) *Error {
	return New(http.StatusTooManyRequests, CodeRateLimited, err)
}

func BudgetExhausted(err error) *Error {
	return New(http.StatusPaymentRequired, CodeBudgetExhausted, err)
}

func QueueBusy(err error) *Error {
	return New(http.StatusServiceUnavailable, CodeQueueBusy, err)
}

func StorageUnavailable(err error) *Error {
	return New(http.StatusServiceUnavailable, CodeStorageUnavailable, err)
}

func QueueUnavailable(err error) *Error {
	return New(http.StatusServiceUnavailable, CodeQueueUnavailable, err)
}

func ProviderFailure(err error) *Error {
	return New(http.StatusBadGateway, CodeProviderFailure, err)
}

func Internal(err error) *Error {
	return New(http.StatusInternalServerError, CodeInternal, err)
}

// HasCode reports whether err wraps an *Error with the given code.
func HasCode(err error, code string) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
