package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatConsent    ErrorCategory = "consent"    // Legal eligibility failure
	ErrCatCritic     ErrorCategory = "critic"     // Judge invocation failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatRateLimit  ErrorCategory = "rate_limit" // Judge provider rate limited
	ErrCatNetwork    ErrorCategory = "network"    // Network connectivity
	ErrCatState      ErrorCategory = "state"      // Illegal run transition
	ErrCatStore      ErrorCategory = "store"      // Persistence unavailable
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Concurrent modification
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrConsentBlocked creates the hard-gate error for an ineligible request.
// It is terminal: no score can override it.
func ErrConsentBlocked(characterID CharacterID, reason string) *DomainError {
	return &DomainError{
		Category:  ErrCatConsent,
		Code:      CodeConsentBlocked,
		Message:   fmt.Sprintf("consent denied for character %s: %s", characterID, reason),
		Retryable: false,
		Details: map[string]interface{}{
			"character_id": string(characterID),
			"reason":       reason,
		},
	}
}

// ErrCriticTimeout creates a timeout error for one critic invocation.
func ErrCriticTimeout(criticID CriticID) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeCriticTimeout,
		Message:   fmt.Sprintf("critic %s timed out", criticID),
		Retryable: true,
	}
}

// ErrCriticUnavailable creates an error for a critic that cannot be
// invoked (circuit open, provider down).
func ErrCriticUnavailable(criticID CriticID, reason string) *DomainError {
	return &DomainError{
		Category:  ErrCatCritic,
		Code:      CodeCriticUnavailable,
		Message:   fmt.Sprintf("critic %s unavailable: %s", criticID, reason),
		Retryable: false,
	}
}

// ErrNoScorableCritics is returned when every invoked critic failed.
// The run escalates to manual handling rather than passing silently.
func ErrNoScorableCritics(runID RunID) *DomainError {
	return &DomainError{
		Category:  ErrCatCritic,
		Code:      CodeNoScorableCritics,
		Message:   fmt.Sprintf("no critic produced a score for run %s", runID),
		Retryable: false,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      "RATE_LIMITED",
		Message:   message,
		Retryable: true,
	}
}

// ErrNetwork creates a transient network error.
func ErrNetwork(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      "NETWORK",
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates an illegal-transition error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrStoreUnavailable creates an infrastructure error for the run or
// consent store. Retryable with bounded backoff at the call site.
func ErrStoreUnavailable(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatStore,
		Code:      CodeStoreUnavailable,
		Message:   message,
		Retryable: true,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeConsentBlocked    = "CONSENT_BLOCKED"
	CodeCriticTimeout     = "CRITIC_TIMEOUT"
	CodeCriticUnavailable = "CRITIC_UNAVAILABLE"
	CodeNoScorableCritics = "NO_SCORABLE_CRITICS"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeRunNotFound       = "RUN_NOT_FOUND"
	CodeCardNotFound      = "CARD_NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeRunTerminal       = "RUN_TERMINAL"
	CodeRunDeadline       = "RUN_DEADLINE_EXCEEDED"

	// Validation error codes
	CodeEmptyCharacter   = "EMPTY_CHARACTER_ID"
	CodeEmptyContent     = "EMPTY_CONTENT"
	CodeInvalidModality  = "INVALID_MODALITY"
	CodeInvalidScore     = "INVALID_SCORE"
	CodeInvalidRate      = "INVALID_SAMPLING_RATE"
	CodeMissingOverride  = "MISSING_OVERRIDE_REASON"
	CodeInvalidAction    = "INVALID_ACTION"
	CodeMissingTemplate  = "MISSING_TEMPLATE_PLACEHOLDER"
	CodeNoCritics        = "NO_CRITICS"
)

// MaxContentLength bounds the content accepted for evaluation.
const MaxContentLength = 200000
