package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidOption      = errors.New("invalid generation option")
	ErrUnsupportedModel   = errors.New("unsupported provider model")
	ErrIllegalTransition  = errors.New("illegal job state transition")
	ErrJobTerminal        = errors.New("job is in a terminal state")
	ErrLeaseHeld          = errors.New("job lease is held by another worker")
	ErrRateLimited        = errors.New("provider rate limit reached")
	ErrInvalidExecContext = errors.New("invalid database execution context")
)

// UnsupportedModelError is a caller error: the (provider, model) pair is not registered.
type UnsupportedModelError struct {
	Provider string
	Model    string
}

func (e *UnsupportedModelError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("unsupported provider %q", e.Provider)
	}
	return fmt.Sprintf("unsupported model %q for provider %q", e.Model, e.Provider)
}

func (e *UnsupportedModelError) Is(target error) bool { return target == ErrUnsupportedModel }

// SubmissionError is returned by adapters when a provider rejects or cannot accept a submission.
type SubmissionError struct {
	Retryable  bool
	Message    string
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	return providerErrorString("submission", e.Message, e.StatusCode, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError is returned by adapters when a status check could not be completed.
type PollError struct {
	Retryable  bool
	Message    string
	StatusCode int
	Err        error
}

func (e *PollError) Error() string {
	return providerErrorString("poll", e.Message, e.StatusCode, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// TimeoutError marks a job that outlived its maximum lifetime.
type TimeoutError struct {
	Lifetime time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job exceeded maximum lifetime of %s", e.Lifetime)
}

// InvalidProviderResponseError is never retryable: the provider answered with something
// the adapter cannot map (bad payload, missing artifact, adapter crash).
type InvalidProviderResponseError struct {
	Message string
	Err     error
}

func (e *InvalidProviderResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid provider response: %s: %v", e.Message, e.Err)
	}
	return "invalid provider response: " + e.Message
}

func (e *InvalidProviderResponseError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a provider error flagged as retryable.
// Unknown errors are non-retryable; the scheduler types bare adapter errors
// as retryable Submission or Poll errors before asking.
func IsRetryable(err error) bool {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Retryable
	}
	var pe *PollError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// ErrorMessage returns the provider-facing message of err without the wrapping prefix.
func ErrorMessage(err error) string {
	var se *SubmissionError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	var pe *PollError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	var ie *InvalidProviderResponseError
	if errors.As(err, &ie) && ie.Message != "" {
		return ie.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func providerErrorString(op, msg string, status int, err error) string {
	s := op + " failed"
	if status > 0 {
		s += fmt.Sprintf(" (http %d)", status)
	}
	if msg != "" {
		s += ": " + msg
	}
	if err != nil && (msg == "" || msg != err.Error()) {
		s += ": " + err.Error()
	}
	return s
}
