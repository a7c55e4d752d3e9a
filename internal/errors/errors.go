// Package errors provides centralized error definitions and handling
// utilities for the loom codebase. It defines the pipeline error taxonomy
// (port faults, retry exhaustion, cancellation, ledger corruption),
// domain error types with context wrapping, and classification helpers.
//
// The taxonomy matters for control flow: verification failures are not
// errors at all (they drive refinement), port faults are fatal for a unit
// without retries, cancellation is reported distinctly from failure, and
// ledger corruption aborts a run at start rather than silently redoing
// completed work.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers can import only this
// package for error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Pipeline sentinel errors.
var (
	// ErrPortFault indicates a generation or verification port was
	// unreachable or returned a malformed response. Fatal for the
	// affected attempt; fatal for the unit when every attempt in a
	// round faults this way.
	ErrPortFault = New("port fault")
	// ErrRetryExhausted indicates all refinement rounds completed
	// without a winning candidate.
	ErrRetryExhausted = New("retry budget exhausted")
	// ErrCancelled indicates operator- or timeout-driven cancellation.
	ErrCancelled = New("run cancelled")
)

// Ledger sentinel errors.
var (
	// ErrLedgerCorrupt indicates a resumed run's persisted state is
	// unreadable or inconsistent. Fatal at run start; never falls back
	// to a fresh run.
	ErrLedgerCorrupt = New("ledger corrupted")
	// ErrRunNotFound indicates no run record exists for the run id.
	ErrRunNotFound = New("run not found")
	// ErrRunLocked indicates the run directory is held by another
	// live process.
	ErrRunLocked = New("run is locked by another process")
	// ErrUnitNotFound indicates no ledger record exists for the unit.
	ErrUnitNotFound = New("unit not found")
)

// General sentinel errors.
var (
	// ErrInvalidInput indicates input or configuration validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrUnknownStrategy indicates a verifier strategy name has no
	// registered factory.
	ErrUnknownStrategy = New("unknown verification strategy")
)

// PortError wraps a failure from a generation or verification port with
// the attempt coordinates it occurred at.
//
// Example:
//
//	err := errors.NewPortError("generator", cause).WithUnit("u1").WithRound(2)
type PortError struct {
	Port   string // "generator" or "verifier"
	UnitID string
	Round  int
	Index  int
	cause  error
}

// NewPortError creates a PortError for the named port.
func NewPortError(port string, cause error) *PortError {
	return &PortError{Port: port, Round: -1, Index: -1, cause: cause}
}

// WithUnit adds the unit id to the error context.
func (e *PortError) WithUnit(id string) *PortError {
	e.UnitID = id
	return e
}

// WithRound adds the round index to the error context.
func (e *PortError) WithRound(round int) *PortError {
	e.Round = round
	return e
}

// WithIndex adds the attempt index to the error context.
func (e *PortError) WithIndex(idx int) *PortError {
	e.Index = idx
	return e
}

// Error returns the formatted error message.
func (e *PortError) Error() string {
	var parts []string
	if e.UnitID != "" {
		parts = append(parts, fmt.Sprintf("unit=%s", e.UnitID))
	}
	if e.Round >= 0 {
		parts = append(parts, fmt.Sprintf("round=%d", e.Round))
	}
	if e.Index >= 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", e.Index))
	}
	prefix := fmt.Sprintf("%s port fault", e.Port)
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Unwrap returns the underlying error.
func (e *PortError) Unwrap() error {
	return e.cause
}

// Is reports whether this error matches the target. All PortErrors match
// ErrPortFault and each other.
func (e *PortError) Is(target error) bool {
	if target == ErrPortFault {
		return true
	}
	if _, ok := target.(*PortError); ok {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// LedgerError wraps a failure from the run ledger with the run and
// operation it occurred in.
type LedgerError struct {
	RunID string
	Op    string
	cause error
}

// NewLedgerError creates a LedgerError for the given operation.
func NewLedgerError(op string, cause error) *LedgerError {
	return &LedgerError{Op: op, cause: cause}
}

// WithRun adds the run id to the error context.
func (e *LedgerError) WithRun(id string) *LedgerError {
	e.RunID = id
	return e
}

// Error returns the formatted error message.
func (e *LedgerError) Error() string {
	prefix := "ledger error"
	if e.RunID != "" {
		prefix = fmt.Sprintf("ledger error [run=%s]", e.RunID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Op, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Op)
}

// Unwrap returns the underlying error.
func (e *LedgerError) Unwrap() error {
	return e.cause
}

// IsPortFault reports whether the error is a port fault (as opposed to a
// verification failure, which is never represented as an error).
func IsPortFault(err error) bool {
	return err != nil && Is(err, ErrPortFault)
}

// IsCancelled reports whether the error represents cancellation, either
// via ErrCancelled or a context cancellation/deadline.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrCancelled) ||
		Is(err, context.Canceled) ||
		Is(err, context.DeadlineExceeded)
}

// IsLedgerCorrupt reports whether the error indicates unusable persisted
// run state.
func IsLedgerCorrupt(err error) bool {
	return err != nil && Is(err, ErrLedgerCorrupt)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
