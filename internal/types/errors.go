package types

import (
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
	ErrCodeValidationMissingField   ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidField   ErrorCode = "validation_invalid_field"
	ErrCodeValidationDuration       ErrorCode = "validation_duration_out_of_range"
	ErrCodeValidationStartDay       ErrorCode = "validation_start_not_today"
	ErrCodeValidationStartPast      ErrorCode = "validation_start_in_past"
	ErrCodeValidationBillingUnit    ErrorCode = "validation_invalid_billing_unit"
	ErrCodeValidationPaymentStatus  ErrorCode = "validation_invalid_payment_status"
	ErrCodeValidationInvalidPayload ErrorCode = "validation_invalid_payload"

	// Auth (401)
	ErrCodeAuthTokenMissing    ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid    ErrorCode = "auth_token_invalid"
	ErrCodeAuthIdentityMissing ErrorCode = "auth_identity_missing"
	ErrCodeAuthSignature       ErrorCode = "auth_signature_invalid"

	// Permission (403)
	ErrCodePermissionOwner ErrorCode = "permission_not_owner"

	// Not Found (404)
	ErrCodeNotFoundReservation  ErrorCode = "not_found_reservation"
	ErrCodeNotFoundPlaza        ErrorCode = "not_found_plaza"
	ErrCodeNotFoundOccupancy    ErrorCode = "not_found_occupancy"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundTariff       ErrorCode = "not_found_tariff"

	// Conflict (409)
	ErrCodeConflictPlazaUnavailable ErrorCode = "conflict_plaza_unavailable"
	ErrCodeConflictPlazaOccupied    ErrorCode = "conflict_plaza_occupied"
	ErrCodeConflictDuplicateCode    ErrorCode = "conflict_duplicate_code"
	ErrCodeConflictConcurrent       ErrorCode = "conflict_concurrent_modification"

	// Lifecycle state (409)
	ErrCodeStateInvalidTransition ErrorCode = "state_invalid_transition"
	ErrCodeStateTooEarly          ErrorCode = "state_arrival_too_early"
	ErrCodeStateOccupancyClosed   ErrorCode = "state_occupancy_closed"

	// Expiry (410)
	ErrCodeExpiredReservation ErrorCode = "expired_reservation"

	// Configuration (422)
	ErrCodeConfigMissingTemplate ErrorCode = "config_missing_template"
	ErrCodeConfigMissingTariff   ErrorCode = "config_missing_tariff"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamQueue       ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"), strings.HasPrefix(s, "state_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "expired_"):
		return http.StatusGone // 410
	case strings.HasPrefix(s, "config_"):
		return http.StatusUnprocessableEntity // 422
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

// CodeOf returns the ErrorCode carried by err, or "" when err is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
