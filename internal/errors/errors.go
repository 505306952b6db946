// Package errors provides the typed error taxonomy shared by the settlement engine.
//
// Every user-visible failure is a *ServiceError carrying a machine-readable reason
// code, the HTTP status the transport layer should use, and optional details that
// let the caller self-correct (required vs. available balance, limits, cooldowns).
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a ServiceError.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition"
	KindVerification Kind = "verification"
	KindNotFound     Kind = "not_found"
	KindDuplicate    Kind = "duplicate"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal"
)

// Reason codes used across the engine.
const (
	CodeInvalidInput       = "invalid_input"
	CodeAccountNotFound    = "account_not_found"
	CodeUnitNotFound       = "unit_not_found"
	CodePackNotFound       = "unknown_pack_type"
	CodeInsufficientFunds  = "insufficient_funds"
	CodeMaxLevel           = "max_level"
	CodeMaxTier            = "max_tier"
	CodeMaxProgression     = "max_progression_level"
	CodeDailyLimitExceeded = "daily_limit_exceeded"
	CodeCooldownActive     = "cooldown_active"
	CodeClaimTooSoon       = "claim_too_soon"
	CodeNoMotorPower       = "no_motor_power"
	CodeNothingToClaim     = "nothing_to_claim"
	CodeCapacityExceeded   = "capacity_exceeded"
	CodeReferrerSet        = "referrer_already_set"
	CodeDuplicate          = "duplicate"
	CodeRateLimited        = "rate_limit_exceeded"
	CodeInternal           = "internal_error"
)

// ServiceError is the error type returned across service boundaries.
type ServiceError struct {
	Kind       Kind           `json:"-"`
	Code       string         `json:"error"`
	Message    string         `json:"message,omitempty"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetail attaches a debug field and returns the same error for chaining.
func (e *ServiceError) WithDetail(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Retryable reports whether the caller may retry the same request unchanged.
func (e *ServiceError) Retryable() bool {
	return e.Kind == KindInternal || e.Kind == KindRateLimited
}

func newError(kind Kind, status int, code, message string) *ServiceError {
	return &ServiceError{Kind: kind, Code: code, Message: message, HTTPStatus: status}
}

// =============================================================================
// Constructors
// =============================================================================

// Validation reports malformed or missing input.
func Validation(message string) *ServiceError {
	return newError(KindValidation, http.StatusBadRequest, CodeInvalidInput, message)
}

// Precondition reports a caller-actionable state problem (funds, levels, limits).
func Precondition(code, message string) *ServiceError {
	return newError(KindPrecondition, http.StatusBadRequest, code, message)
}

// Limited reports a precondition failure caused by a time- or count-based limit.
func Limited(code, message string) *ServiceError {
	return newError(KindPrecondition, http.StatusTooManyRequests, code, message)
}

// Verification reports an external payment that could not be verified.
func Verification(code, message string) *ServiceError {
	return newError(KindVerification, http.StatusForbidden, code, message)
}

// NotFound reports an unknown account or entity.
func NotFound(code, message string) *ServiceError {
	return newError(KindNotFound, http.StatusNotFound, code, message)
}

// Duplicate reports an idempotent replay or a conflicting immutable write.
func Duplicate(code, message string) *ServiceError {
	if code == "" {
		code = CodeDuplicate
	}
	return newError(KindDuplicate, http.StatusConflict, code, message)
}

// Internal wraps a storage or network failure. The cause is never shown to callers.
func Internal(message string, err error) *ServiceError {
	e := newError(KindInternal, http.StatusInternalServerError, CodeInternal, message)
	e.Err = err
	return e
}

// RateLimitExceeded reports that a client exceeded its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(KindRateLimited, http.StatusTooManyRequests, CodeRateLimited,
		fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window))
}

// =============================================================================
// Helpers
// =============================================================================

// As extracts a *ServiceError from err.
func As(err error) (*ServiceError, bool) {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsKind reports whether err is a ServiceError of the given kind.
func IsKind(err error, kind Kind) bool {
	se, ok := As(err)
	return ok && se.Kind == kind
}

// HasCode reports whether err is a ServiceError with the given reason code.
func HasCode(err error, code string) bool {
	se, ok := As(err)
	return ok && se.Code == code
}
