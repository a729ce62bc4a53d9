package core

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrJobNotFound            = errors.New("pipeline: job not found")
	ErrJobNotOwned            = errors.New("pipeline: job not leased by this worker")
	ErrCheckpointOutOfOrder   = errors.New("pipeline: checkpoint would break stage ordering")
	ErrNoExecutor             = errors.New("pipeline: no executor registered for stage")
	ErrComponentNotRegistered = errors.New("pipeline: component not registered")
	ErrPoolClosed             = errors.New("pipeline: component pool closed")
	ErrAcquireTimeout         = errors.New("pipeline: pool acquire timed out")
)

// MaxErrorMessageLength caps error text stored on job rows.
const MaxErrorMessageLength = 2048

// TruncateError clips an error message for storage.
func TruncateError(msg string) string {
	if len(msg) > MaxErrorMessageLength {
		return msg[:MaxErrorMessageLength]
	}
	return msg
}

// FatalError marks a stage failure as terminal: the input is malformed or
// unsupported and retrying cannot help. The job transitions to failed.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps an error to mark it terminal for the job.
func Fatal(err error) error {
	return &FatalError{Err: err}
}

// TransientError marks a stage failure as retryable. The job transitions to
// interrupted and can be resumed without operator action.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps an error to mark it retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// LoadError reports that a component factory failed.
type LoadError struct {
	Component string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Component, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsFatal classifies a stage error. Only an explicit FatalError is terminal;
// timeouts, cancellations and unclassified errors are treated as transient so
// interrupted jobs stay resumable.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsTransient reports whether the error is retryable.
func IsTransient(err error) bool {
	return err != nil && !IsFatal(err)
}
