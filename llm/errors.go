package llm

import (
	"errors"
	"fmt"
)

// ProviderError represents errors raised by a Provider. Transient marks
// faults worth retrying (timeouts, rate limits, 5xx-equivalents); everything
// else is permanent and propagated as is.
type ProviderError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm.%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("llm.%s: %s", e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a provider fault worth retrying
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// Common error codes
const (
	ErrCodeTimeout            = "Timeout"
	ErrCodeRateLimitExceeded  = "RateLimitExceeded"
	ErrCodeConnection         = "ConnectionError"
	ErrCodeServiceUnavailable = "ServiceUnavailable"
	ErrCodeAPIError           = "APIError"
	ErrCodeInvalidRequest     = "InvalidRequest"
	ErrCodeUnauthenticated    = "Unauthenticated"
	ErrCodeNotSupported       = "NotSupported"
)

// NewProviderError creates a new ProviderError
func NewProviderError(op string, status int, code, message string, transient bool, err error) *ProviderError {
	return &ProviderError{
		Op:         op,
		StatusCode: status,
		Code:       code,
		Message:    message,
		Transient:  transient,
		Err:        err,
	}
}
