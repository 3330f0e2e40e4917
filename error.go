package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/corkboard/corkboard/internal/cbboard"
	"github.com/corkboard/corkboard/internal/cbreview"
	"github.com/corkboard/corkboard/internal/cbtoken"
)

// Machine-readable codes carried in the `error` field of every error
// response. Clients should branch on these; messages are for humans and may
// change without notice.
const (
	ErrCodeAlreadyReviewed = "already_reviewed"
	ErrCodeBadRequest      = "bad_request"
	ErrCodeInternalError   = "internal_error"
	ErrCodeNotFound        = "not_found"
	ErrCodeNotVerified     = "not_verified"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeUnauthorized    = "unauthorized"
)

const (
	ErrMessageAlreadyReviewed = "This request has already been reviewed. Review decisions are final."
	ErrMessageBodyInvalid     = "Request body could not be validated."
	ErrMessageBodyUnparseable = "Request body could not be parsed as JSON."
	ErrMessageInternalError   = "An internal error has occurred. Please report this to the server operator."
	ErrMessageNotVerified     = "This board accepts attachments from verified users only. Submit a verification request and wait for an admin to approve it."
	ErrMessagePasswordWrong   = "Admin password is not correct."
	ErrMessageRateLimited     = "This address is posting too frequently. Wait out the cooldown and try again."
	ErrMessageRouteNotFound   = "No such API route."
	ErrMessageTokenInvalid    = "Bearer token could not be verified. Log in again via POST /admin/login for a fresh one."
	ErrMessageTokenMissing    = "Missing bearer token. Log in via POST /admin/login and send the result as `Authorization: Bearer <token>`."
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ServerError struct {
	Code       string
	Message    string
	StatusCode int
}

func NewServerError(statusCode int, message string) *ServerError {
	return &ServerError{Code: errorCode(statusCode), Message: message, StatusCode: statusCode}
}

func (e *ServerError) Error() string {
	return e.Message
}

// errorCode maps a status code to its machine-readable error code. Corkboard
// uses each error status for exactly one kind of failure, so the mapping is
// total.
func errorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusUnauthorized:
		return ErrCodeUnauthorized
	case http.StatusForbidden:
		return ErrCodeNotVerified
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusConflict:
		return ErrCodeAlreadyReviewed
	case http.StatusTooManyRequests:
		return ErrCodeRateLimited
	}
	return ErrCodeInternalError
}

// asServerError translates errors coming out of the board service into the
// status that they should produce on the wire. Errors with no translation are
// internal; the caller is expected to treat a nil return as a 500.
func asServerError(err error) *ServerError {
	var (
		attachmentNotFound    *cbboard.AttachmentNotFoundError
		postNotFound          *cbboard.PostNotFoundError
		serverErr             *ServerError
		threadNotFound        *cbboard.ThreadNotFoundError
		unknownAction         *cbreview.UnknownActionError
		validationErr         *cbboard.ValidationError
		verifyRequestNotFound *cbboard.VerifyRequestNotFoundError
	)

	switch {
	case errors.As(err, &serverErr):
		return serverErr

	case errors.As(err, &validationErr):
		return NewServerError(http.StatusBadRequest, validationErr.Message)
	case errors.As(err, &unknownAction):
		return NewServerError(http.StatusBadRequest, fmt.Sprintf("Unknown review action: %q.", unknownAction.Action))

	case errors.Is(err, cbtoken.ErrBadPassword):
		return NewServerError(http.StatusUnauthorized, ErrMessagePasswordWrong)
	case errors.Is(err, cbtoken.ErrTokenInvalid):
		return NewServerError(http.StatusUnauthorized, ErrMessageTokenInvalid)

	case errors.Is(err, cbboard.ErrNotVerified):
		return NewServerError(http.StatusForbidden, ErrMessageNotVerified)

	case errors.As(err, &threadNotFound):
		return NewServerError(http.StatusNotFound, fmt.Sprintf("Thread not found: %q.", threadNotFound.ID))
	case errors.As(err, &postNotFound):
		return NewServerError(http.StatusNotFound, fmt.Sprintf("Post not found: %q.", postNotFound.ID))
	case errors.As(err, &attachmentNotFound):
		return NewServerError(http.StatusNotFound, fmt.Sprintf("Attachment request not found: %q.", attachmentNotFound.ID))
	case errors.As(err, &verifyRequestNotFound):
		return NewServerError(http.StatusNotFound, fmt.Sprintf("Verification request not found: %q.", verifyRequestNotFound.ID))

	case errors.Is(err, cbreview.ErrAlreadyReviewed):
		return NewServerError(http.StatusConflict, ErrMessageAlreadyReviewed)
	}

	return nil
}
