// Package faults defines the error taxonomy shared by collection, processing
// and storage. Every failure that crosses a package boundary is one of these
// types so callers can decide between retry, cooldown, drop and abort.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// TransientNetworkError wraps connectivity and timeout failures. Retried with
// exponential backoff; exhaustion fails the hashtag only.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// AntiBotChallengeError signals a rate-limit page, HTTP 429 or an exhausted
// request window. RetryAfter is zero when the host gave no hint.
type AntiBotChallengeError struct {
	Indicator  string
	RetryAfter time.Duration
}

func (e *AntiBotChallengeError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("anti-bot challenge %q (retry after %s)", e.Indicator, e.RetryAfter)
	}
	return fmt.Sprintf("anti-bot challenge %q", e.Indicator)
}

// AuthenticationFlowError is raised when a login step observes an unexpected
// page state more times than its retry budget allows.
type AuthenticationFlowError struct {
	Stage    string
	Attempts int
	Observed string
}

func (e *AuthenticationFlowError) Error() string {
	return fmt.Sprintf("authentication flow failed at %s after %d attempts (observed: %s)",
		e.Stage, e.Attempts, e.Observed)
}

// DataValidationError marks a malformed or incomplete record. The record is
// dropped; processing continues.
type DataValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *DataValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// StorageWriteError is fatal for the run. Writers guarantee the failed batch
// left nothing behind.
type StorageWriteError struct {
	Sink string
	Op   string
	Err  error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write to %s failed during %s: %v", e.Sink, e.Op, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// Invalid is shorthand for building a DataValidationError.
func Invalid(field, value, reason string) error {
	return &DataValidationError{Field: field, Value: value, Reason: reason}
}

func IsTransient(err error) bool {
	var target *TransientNetworkError
	return errors.As(err, &target)
}

func IsAntiBot(err error) bool {
	var target *AntiBotChallengeError
	return errors.As(err, &target)
}

func IsAuthFlow(err error) bool {
	var target *AuthenticationFlowError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *DataValidationError
	return errors.As(err, &target)
}

func IsStorage(err error) bool {
	var target *StorageWriteError
	return errors.As(err, &target)
}

// RetryAfter extracts the host-provided cooldown hint, if any.
func RetryAfter(err error) time.Duration {
	var target *AntiBotChallengeError
	if errors.As(err, &target) {
		return target.RetryAfter
	}
	return 0
}
