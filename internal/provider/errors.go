package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRecipient      = errors.New("invalid recipient")
	ErrProviderMisconfigured = errors.New("provider misconfigured")
)

// ProviderError classifies provider call failures as transient/permanent.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsRetryable reports whether a send failure may succeed on a later attempt.
// Failures are retryable unless the recipient is invalid, the provider is
// misconfigured, or the provider declared the error permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidRecipient) || errors.Is(err, ErrProviderMisconfigured) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	return true
}

func misconfigured(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProviderMisconfigured, fmt.Sprintf(format, args...))
}
