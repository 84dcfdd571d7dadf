package ghauth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUserNotFound is returned by UpdateUser for an unknown id.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned by CreateUser when the provider id is
	// already bound to a user.
	ErrUserExists = errors.New("user already exists for provider id")
)

// ConfigError lists every missing or invalid setting at once.
type ConfigError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required environment variables: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, strings.Join(e.Invalid, "; "))
	}
	return "config: " + strings.Join(parts, "; ")
}

// RateLimitError signals that the caller should retry after RetryAfter seconds.
type RateLimitError struct {
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %ds", e.RetryAfter)
}

// UpstreamError is a failed call to the identity provider. Status is zero
// when no HTTP response was received.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	msg := "github " + e.Op + " failed"
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + SanitizeError(e.Err)
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ValidationError is a malformed or forged request (callback state, logout CSRF).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}
