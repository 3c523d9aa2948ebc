package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "linkbridge: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "linkbridge: logger is required"},
		{"ErrLinkRequired", ErrLinkRequired, "linkbridge: outbound link is required"},
		{"ErrStateRequired", ErrStateRequired, "linkbridge: link state is required"},
		{"ErrConnectionRequired", ErrConnectionRequired, "linkbridge: broker connection is required"},
		{"ErrTransportRequired", ErrTransportRequired, "linkbridge: transport name is required"},
		{"ErrAlreadyStarted", ErrAlreadyStarted, "linkbridge: lifecycle already started"},
		{"ErrShuttingDown", ErrShuttingDown, "linkbridge: lifecycle is shutting down"},
		{"ErrConnectionLost", ErrConnectionLost, "linkbridge: broker connection lost"},
		{"ErrLinkLost", ErrLinkLost, "linkbridge: outbound link lost"},
		{"ErrUnknownMetric", ErrUnknownMetric, "linkbridge: unknown metric family"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "linkbridge: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("wraps error correctly", func(t *testing.T) {
		inner := errors.New("bad config")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if cfgErr.Err != inner {
			t.Errorf("wrapped error = %v, want %v", cfgErr.Err, inner)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		inner := errors.New("specific error")
		if !errors.Is(NewConfigValidationError(inner), inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}
