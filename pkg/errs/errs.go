// Package errs holds the error taxonomy shared by the research engine and its
// collaborators. Callers match with errors.As / errors.Is.
package errs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCanceled is matched (errors.Is) by every CancellationError.
var ErrCanceled = errors.New("request canceled")

// ConfigurationError reports a missing or invalid credential or model id.
// It is fatal and never retried.
type ConfigurationError struct {
	Provider string // display name, e.g. "OpenAI"
	EnvVar   string // variable the operator can set, if any
	Reason   string // overrides the default message when set
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.EnvVar != "" {
		return fmt.Sprintf("No %s API key configured. Set %s in the server environment or pass apiKey in the request.", e.Provider, e.EnvVar)
	}
	return fmt.Sprintf("No %s API key configured. Pass apiKey in the request.", e.Provider)
}

// TimeoutError reports that an operation or the whole session overran its budget.
type TimeoutError struct {
	Message string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("operation timed out after %s", e.After)
}

// UpstreamError wraps a failure returned by a search or model backend. The
// vendor message is preserved in Err.
type UpstreamError struct {
	Provider string
	Op       string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// CancellationError reports that the caller aborted the request. It is kept
// distinct from UpstreamError.
type CancellationError struct {
	Key string
}

func (e *CancellationError) Error() string {
	if e.Key == "" {
		return ErrCanceled.Error()
	}
	return fmt.Sprintf("request %s canceled", e.Key)
}

func (e *CancellationError) Is(target error) bool { return target == ErrCanceled }

// StageError annotates an error with the engine state it occurred in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsRetryable reports whether the retry policy should try again after err.
// Configuration and cancellation errors are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var cfg *ConfigurationError
	if errors.As(err, &cfg) {
		return false
	}
	return !errors.Is(err, ErrCanceled)
}

// Canceled converts context cancellation into a CancellationError and leaves
// other errors untouched. Deadline expiry is not cancellation.
func Canceled(key string, err error) error {
	if errors.Is(err, ErrCanceled) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &CancellationError{Key: key}
	}
	return err
}
