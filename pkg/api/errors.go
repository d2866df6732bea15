package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a transition references an id or
	// correlation id with no matching instance.
	ErrNotFound = errors.New("instance not found")

	// ErrInvalidTransition is returned when an action is not allowed in the
	// instance's current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrLedgerUnavailable wraps storage and transaction failures.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrTransportFailure wraps failures to send or edit an outward message.
	ErrTransportFailure = errors.New("transport failure")

	// ErrInvalidResult is returned for an unknown outcome code.
	ErrInvalidResult = errors.New("invalid result code")

	// ErrInvalidInstance is returned when a row would violate the instance invariants.
	ErrInvalidInstance = errors.New("invalid instance")

	// ErrDuplicateCorrelation is returned when a correlation id is already
	// used by another instance created on the same day.
	ErrDuplicateCorrelation = errors.New("duplicate correlation id")
)

// TransitionError describes a rejected (state, action) pair.
type TransitionError struct {
	InstanceID int64
	From       State
	Action     Action
}

func (e *TransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "NONE"
	}
	if e.InstanceID == 0 {
		return fmt.Sprintf("cannot %s from %s", e.Action, from)
	}
	return fmt.Sprintf("cannot %s instance %d in state %s", e.Action, e.InstanceID, from)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// As is errors.As, re-exported so callers classifying engine errors need
// only this package.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// OpError attaches an operation name and an error class to an underlying
// error. It matches both Kind and Err under errors.Is.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// TransportError wraps err so it matches ErrTransportFailure. It returns nil
// for a nil err.
func TransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Kind: ErrTransportFailure, Err: err}
}

// LedgerError wraps err so it matches ErrLedgerUnavailable. It returns nil
// for a nil err.
func LedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: "ledger " + op, Kind: ErrLedgerUnavailable, Err: err}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
