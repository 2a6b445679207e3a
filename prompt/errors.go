package prompt

import "fmt"

// PromptError represents errors that can occur during prompt assembly
type PromptError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *PromptError) Error() string {
	return fmt.Sprintf("prompt.%s: %s", e.Op, e.Message)
}

func (e *PromptError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeTokenLimitExceeded = "TokenLimitExceeded"
	ErrCodeInvalidMode        = "InvalidMode"
)

// ErrTokenLimitExceeded is raised when the mandatory prompt skeleton alone
// leaves no room for a response. No provider call has been made yet.
func ErrTokenLimitExceeded(op string) error {
	return &PromptError{
		Op:      op,
		Code:    ErrCodeTokenLimitExceeded,
		Message: "your request exceeds the maximum content length",
	}
}

// ErrInvalidMode is raised for an unknown compatibility mode
func ErrInvalidMode(op, mode string) error {
	return &PromptError{
		Op:      op,
		Code:    ErrCodeInvalidMode,
		Message: fmt.Sprintf("unknown compatibility mode %q", mode),
	}
}
