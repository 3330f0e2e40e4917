package cbboard

import (
	"fmt"

	"golang.org/x/xerrors"
)

// ErrNotVerified is returned when attachment submissions are gated on
// identity verification and the requester isn't verified.
var ErrNotVerified = xerrors.New("requester identity is not verified")

// ThreadNotFoundError is returned when a thread doesn't exist, or exists but
// is hidden from a non-admin caller. The two cases are deliberately
// indistinguishable from the outside.
type ThreadNotFoundError struct {
	ID string
}

func (e *ThreadNotFoundError) Error() string {
	return fmt.Sprintf("thread %q not found", e.ID)
}

// PostNotFoundError is returned when a post doesn't exist in the thread it
// was addressed through.
type PostNotFoundError struct {
	ThreadID string
	ID       string
}

func (e *PostNotFoundError) Error() string {
	return fmt.Sprintf("post %q not found in thread %q", e.ID, e.ThreadID)
}

// AttachmentNotFoundError is returned when an attachment request doesn't
// exist.
type AttachmentNotFoundError struct {
	ID string
}

func (e *AttachmentNotFoundError) Error() string {
	return fmt.Sprintf("attachment request %q not found", e.ID)
}

// VerifyRequestNotFoundError is returned when a verification request doesn't
// exist.
type VerifyRequestNotFoundError struct {
	ID string
}

func (e *VerifyRequestNotFoundError) Error() string {
	return fmt.Sprintf("verification request %q not found", e.ID)
}

// ValidationError reports client input that couldn't be accepted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, a ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, a...)}
}
