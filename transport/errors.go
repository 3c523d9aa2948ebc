package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrLinkClosed is wrapped by LinkError when Send is called on a closed link.
var ErrLinkClosed = errors.New("link closed")

// RejectedError reports that the broker refused a message.
type RejectedError struct {
	Reason string
	Code   int
}

func (e *RejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rejected by broker (%d): %s", e.Code, e.Reason)
	}
	return "rejected by broker: " + e.Reason
}

// Rejected returns a *RejectedError with the given reason.
func Rejected(reason string) error {
	return &RejectedError{Reason: reason}
}

// LinkError reports a failure of the link, its session or its connection.
type LinkError struct {
	Info ErrorInfo
	Err  error
}

func (e *LinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Info, e.Err)
	}
	return e.Info.String()
}

func (e *LinkError) Unwrap() error { return e.Err }

// NewLinkError wraps err as a failure of the given scope.
func NewLinkError(scope Scope, err error) *LinkError {
	reason := "unknown"
	if err != nil {
		reason = err.Error()
	}
	return &LinkError{
		Info: ErrorInfo{Scope: scope, Reason: reason, At: time.Now()},
		Err:  err,
	}
}

// IsRejected reports whether err is a broker refusal.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// IsLinkError reports whether err is a link, session or connection failure.
func IsLinkError(err error) bool {
	var linkErr *LinkError
	return errors.As(err, &linkErr)
}
