package imagestore

import "fmt"

// ErrorKind enumerates the ways resolving one attachment can fail.
// The resolver's fallthrough logic and metrics branch on the kind.
type ErrorKind string

const (
	ErrDecode        ErrorKind = "decode"
	ErrFetch         ErrorKind = "fetch"
	ErrSourceMissing ErrorKind = "source-missing"
	ErrWrite         ErrorKind = "write"
)

// AttachmentError wraps the underlying cause of a failed attachment
// strategy with its kind.
type AttachmentError struct {
	Kind ErrorKind
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.Kind, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

func attachErr(kind ErrorKind, err error) *AttachmentError {
	return &AttachmentError{Kind: kind, Err: err}
}
