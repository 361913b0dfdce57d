package fireflies

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("meeting not found")
	ErrRateLimited = errors.New("rate limited")
	ErrForbidden   = errors.New("forbidden")
	ErrTransient   = errors.New("transient provider failure")
)

// Provider error codes, as reported in GraphQL extensions.code.
const (
	CodeObjectNotFound   = "object_not_found"
	CodeTooManyRequests  = "too_many_requests"
	CodeForbidden        = "forbidden"
	CodeInvalidArguments = "invalid_arguments"
	CodePaidRequired     = "paid_required"
	CodeArgsRequired     = "args_required"
	CodeNetworkError     = "network_error"
)

var errorMessages = map[string]string{
	CodeObjectNotFound:   "The requested meeting transcript was not found",
	CodeTooManyRequests:  "Rate limit exceeded. Please wait before making more requests",
	CodeForbidden:        "Access denied. Check your API key and permissions",
	CodeInvalidArguments: "Invalid request parameters",
	CodePaidRequired:     "This feature requires a paid Fireflies subscription",
	CodeArgsRequired:     "Required parameters are missing",
	CodeNetworkError:     "Could not reach the Fireflies API",
}

// ErrorMessage returns a human-readable explanation for a provider error code.
func ErrorMessage(code string) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	if code == "" {
		return "Unknown Fireflies API error"
	}
	return "Fireflies API error: " + code
}

type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = ErrorMessage(e.Code)
	}
	switch {
	case e.StatusCode > 0 && e.Code != "":
		return fmt.Sprintf("fireflies http %d %s: %s", e.StatusCode, e.Code, msg)
	case e.Code != "":
		return fmt.Sprintf("fireflies %s: %s", e.Code, msg)
	default:
		return fmt.Sprintf("fireflies http %d: %s", e.StatusCode, msg)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeObjectNotFound
	case ErrRateLimited:
		return e.Code == CodeTooManyRequests
	case ErrForbidden:
		return e.Code == CodeForbidden
	case ErrTransient:
		return e.Code == CodeNetworkError
	}
	return false
}

func (e *APIError) retryable() bool {
	return e.Code == CodeTooManyRequests || e.Code == CodeNetworkError
}
