package archive

// ArchiveError represents errors that can occur during transcript archival
type ArchiveError struct {
	Op      string
	Key     string
	Code    string
	Message string
	Err     error
}

func (e *ArchiveError) Error() string {
	if e.Key == "" {
		return "archive." + e.Op + ": " + e.Message
	}
	return "archive." + e.Op + " " + e.Key + ": " + e.Message
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeNotFound = "NotFound"
	ErrCodeInternal = "Internal"
)

// NewArchiveError creates a new ArchiveError
func NewArchiveError(op, key string, err error, code, message string) *ArchiveError {
	return &ArchiveError{
		Op:      op,
		Key:     key,
		Err:     err,
		Code:    code,
		Message: message,
	}
}
