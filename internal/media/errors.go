package media

import (
	"errors"
	"fmt"
)

// Sentinel errors. Match with errors.Is.
var (
	// ErrCapabilityUnavailable means no encoder or format support exists for a track.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	// ErrWriterState means a container operation was attempted out of order.
	ErrWriterState = errors.New("container writer state error")
	// ErrSourceDetached means a producer stopped delivering input mid-session.
	ErrSourceDetached = errors.New("source detached")
	// ErrInterrupted means a blocking wait was cancelled.
	ErrInterrupted = errors.New("interrupted")
	// ErrAlreadyStarted means a track or session was started twice.
	ErrAlreadyStarted = errors.New("already started")
	// ErrNoSession means a control operation needs an active session.
	ErrNoSession = errors.New("no active recording session")
)

// Error codes.
const (
	ErrCodeCapability  = "CAPABILITY_UNAVAILABLE"
	ErrCodeWriterState = "WRITER_STATE"
	ErrCodeSource      = "SOURCE_DETACHED"
	ErrCodeInterrupted = "INTERRUPTED"
	ErrCodeEncoder     = "ENCODER_FAULT"
	ErrCodeConfig      = "CONFIG_ERROR"
)

// Error is a domain error carrying a code, a message and an optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new domain error.
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsFatalToSession reports whether err must terminate the whole session
// rather than only the pipeline that produced it.
func IsFatalToSession(err error) bool {
	return errors.Is(err, ErrWriterState)
}
