package chat

import (
	"errors"
	"fmt"

	"github.com/Abraxas-365/chatstream/llm"
)

// ChatError represents errors surfaced by the completion pipeline. Status
// carries the HTTP-equivalent classification for the boundary layer; the
// pipeline itself never logs.
type ChatError struct {
	Op      string
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chat.%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("chat.%s: %s", e.Op, e.Message)
}

func (e *ChatError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeNotFound           = "NotFound"
	ErrCodeTokenLimitExceeded = "TokenLimitExceeded"
	ErrCodeValidation         = "Validation"
	ErrCodeUpstream           = "Upstream"
	ErrCodeInternal           = "Internal"
)

// ErrNotFound creates the client-correctable error for a missing record
func ErrNotFound(op, what string) error {
	return &ChatError{
		Op:      op,
		Code:    ErrCodeNotFound,
		Status:  404,
		Message: what + " does not exist",
	}
}

// ErrValidation creates the error for persistence-layer rejection of
// malformed data
func ErrValidation(op, detail string) error {
	return &ChatError{
		Op:      op,
		Code:    ErrCodeValidation,
		Status:  400,
		Message: detail,
	}
}

// upstreamError maps an exhausted or permanent provider fault to the
// application error carrying the upstream status, code and detail. Other
// errors pass through unchanged.
func upstreamError(op string, err error) error {
	var pe *llm.ProviderError
	if !errors.As(err, &pe) {
		return err
	}
	code := pe.Code
	if code == "" {
		code = ErrCodeUpstream
	}
	status := pe.StatusCode
	if status == 0 {
		status = 502
	}
	return &ChatError{
		Op:      op,
		Code:    code,
		Status:  status,
		Message: pe.Message,
		Err:     pe,
	}
}
