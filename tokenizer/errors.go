package tokenizer

import "fmt"

// TokenizerError represents errors that can occur while resolving or using
// a model's token encoding
type TokenizerError struct {
	Op      string
	Model   string
	Code    string
	Message string
	Err     error
}

func (e *TokenizerError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("tokenizer.%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("tokenizer.%s [%s]: %s", e.Op, e.Model, e.Message)
}

func (e *TokenizerError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeModelNotAvailable = "ModelNotAvailable"
	ErrCodeInternal          = "Internal"
)

// ErrModelNotAvailable creates the configuration error for an unknown model id
func ErrModelNotAvailable(op, model string, err error) error {
	return &TokenizerError{
		Op:      op,
		Model:   model,
		Code:    ErrCodeModelNotAvailable,
		Message: "no token encoding known for model",
		Err:     err,
	}
}
