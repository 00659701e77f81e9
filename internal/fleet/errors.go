// Package fleet holds the closed enumerations and error taxonomy shared by
// the command, telemetry and maintenance components.
package fleet

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCommand  = errors.New("invalid command")
	ErrNotFound        = errors.New("not found")
	ErrEmptyZone       = errors.New("zone has no poles")
	ErrDuplicateTicket = errors.New("open ticket already exists for pole and zone")
	ErrInvalidStatus   = errors.New("invalid ticket status")
	ErrDispatchFailed  = errors.New("dispatch failed")
	ErrDecodeFailed    = errors.New("telemetry decode failed")
	ErrInvalidInput    = errors.New("invalid input")
)

// DispatchError reports a broker-level publish failure for one pole.
// It matches both ErrDispatchFailed and the underlying transport error.
type DispatchError struct {
	PoleID string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to pole %s failed: %v", e.PoleID, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	return []error{ErrDispatchFailed, e.Err}
}
