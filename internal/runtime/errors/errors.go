package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired     = sterrors.New("linkbridge: configuration is required")
	ErrLoggerRequired     = sterrors.New("linkbridge: logger is required")
	ErrLinkRequired       = sterrors.New("linkbridge: outbound link is required")
	ErrStateRequired      = sterrors.New("linkbridge: link state is required")
	ErrConnectionRequired = sterrors.New("linkbridge: broker connection is required")
	ErrTransportRequired  = sterrors.New("linkbridge: transport name is required")
	ErrAlreadyStarted     = sterrors.New("linkbridge: lifecycle already started")
	ErrShuttingDown       = sterrors.New("linkbridge: lifecycle is shutting down")
	ErrConnectionLost     = sterrors.New("linkbridge: broker connection lost")
	ErrLinkLost           = sterrors.New("linkbridge: outbound link lost")
	ErrUnknownMetric      = sterrors.New("linkbridge: unknown metric family")
)

// ConfigValidationError marks a configuration that failed validation.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("linkbridge: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
