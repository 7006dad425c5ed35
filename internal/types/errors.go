package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidPrice     ErrorCode = "validation_invalid_price"
	ErrCodeValidationInvalidQuantity  ErrorCode = "validation_invalid_quantity"
	ErrCodeValidationInvalidThreshold ErrorCode = "validation_invalid_threshold"
	ErrCodeValidationInvalidEnum      ErrorCode = "validation_invalid_option"
	ErrCodeValidationInvalidTimezone  ErrorCode = "validation_invalid_timezone"
	ErrCodeValidationQuietHours       ErrorCode = "validation_invalid_quiet_hours"
	ErrCodeValidationTimeWindow       ErrorCode = "validation_time_window_invalid"
	ErrCodeValidationMalformedListing ErrorCode = "validation_malformed_listing"
	ErrCodeValidationMalformedPref    ErrorCode = "validation_malformed_preference"

	// Not Found (404)
	ErrCodeNotFoundAlert      ErrorCode = "not_found_alert"
	ErrCodeNotFoundPreference ErrorCode = "not_found_preference"

	// Conflict (409)
	ErrCodeConflictTransition ErrorCode = "conflict_invalid_transition"
	ErrCodeConflictConcurrent ErrorCode = "conflict_concurrent_modification"
	ErrCodeConflictPaused     ErrorCode = "conflict_already_paused"
	ErrCodeConflictActive     ErrorCode = "conflict_already_active"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamQueue       ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamPurchase    ErrorCode = "upstream_purchase_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// Sentinel errors shared across packages. Repositories wrap these in an
// AppError so callers can branch with errors.Is.
var (
	// ErrInvalidTransition is returned when an event is not permitted from the
	// alert's current status.
	ErrInvalidTransition = errors.New("invalid alert transition")

	// ErrVersionConflict signals that an AlertState was modified between load
	// and commit.
	ErrVersionConflict = errors.New("alert state version conflict")

	// ErrStateGone signals that an AlertState or its preference was deleted
	// while a transition was in flight.
	ErrStateGone = errors.New("alert state no longer exists")
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the engine.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// IsSkippable classifies an error raised while evaluating a single listing.
//
// Skippable errors concern one bad input (malformed listing or preference,
// stale or concurrently deleted alert state, invalid transition) and must not
// stop the processing loop. Everything else, notably store failures and
// deadline expiry, is fatal for the listing and is handed back to the queue.
func IsSkippable(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrStateGone) || errors.Is(err, ErrInvalidTransition) {
		return true
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		s := string(appErr.Code)
		switch {
		case strings.HasPrefix(s, "validation_"),
			strings.HasPrefix(s, "not_found_"),
			strings.HasPrefix(s, "conflict_"):
			return true
		}
	}
	return false
}
