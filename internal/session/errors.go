package session

import (
	"errors"
	"fmt"
)

const (
	CodeValidation  = "VALIDATION"
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeUnavailable = "UNAVAILABLE"
)

const (
	MsgInvalidImage = "Please select a valid image file."
	MsgInvalidVideo = "Please select a valid video file."
	MsgReadFailed   = "Failed to read file."

	MsgDetailsFailed = "Could not fetch detailed sign information."
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidMedia    = errors.New("invalid media")
	ErrWrongMode       = errors.New("operation not valid in current mode")
	ErrNoFrame         = errors.New("no webcam frame received yet")
	ErrInvalidSign     = errors.New("sign name and meaning are required")
	ErrUnavailable     = errors.New("feature not configured")
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

func notFound(id string) error {
	return newError(CodeNotFound, fmt.Sprintf("session %s not found", id), ErrSessionNotFound)
}

func wrongMode(op string, mode fmt.Stringer) error {
	return newError(CodeConflict, fmt.Sprintf("%s is not available in %s mode", op, mode), ErrWrongMode)
}
