package respond

import (
	"errors"
	"net/http"

	"github.com/good-yellow-bee/blazetrack/internal/errs"
)

// Error represents an API error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotConfigured    = "NOT_CONFIGURED"
	ErrCodeDeliveryFailed   = "DELIVERY_FAILED"
	ErrCodeUnavailable      = "STORE_UNAVAILABLE"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// Standard errors
var (
	ErrUnauthorized = &Error{
		Code:    ErrCodeUnauthorized,
		Message: "invalid or expired token",
		Status:  http.StatusUnauthorized,
	}

	ErrForbidden = &Error{
		Code:    ErrCodeForbidden,
		Message: "access denied",
		Status:  http.StatusForbidden,
	}

	ErrNotFound = &Error{
		Code:    ErrCodeNotFound,
		Message: "resource not found",
		Status:  http.StatusNotFound,
	}

	ErrInternalServer = &Error{
		Code:    ErrCodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
	}

	ErrRateLimited = &Error{
		Code:    ErrCodeRateLimited,
		Message: "too many requests",
		Status:  http.StatusTooManyRequests,
	}
)

// NewBadRequest creates a bad request error with custom message.
func NewBadRequest(message string) *Error {
	return &Error{
		Code:    ErrCodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error with custom message.
func NewNotFound(message string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: message,
		Status:  http.StatusNotFound,
	}
}

// FromError classifies err. Validation errors are 400, or 404 when they
// name an unknown id; configuration errors are 422; delivery failures are
// 502; store failures are 503. Anything unclassified is a 500.
func FromError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	kind, ok := errs.KindOf(err)
	if !ok {
		return ErrInternalServer
	}
	switch kind {
	case errs.KindValidation:
		if errors.Is(err, errs.ErrNotFound) {
			return NewNotFound(err.Error())
		}
		return &Error{Code: ErrCodeValidationFailed, Message: err.Error(), Status: http.StatusBadRequest}
	case errs.KindConfiguration:
		return &Error{Code: ErrCodeNotConfigured, Message: err.Error(), Status: http.StatusUnprocessableEntity}
	case errs.KindDelivery:
		return &Error{Code: ErrCodeDeliveryFailed, Message: err.Error(), Status: http.StatusBadGateway}
	case errs.KindPersistence:
		return &Error{Code: ErrCodeUnavailable, Message: "store unavailable", Status: http.StatusServiceUnavailable}
	default:
		return ErrInternalServer
	}
}
