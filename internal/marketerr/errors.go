// Package marketerr defines the typed error kinds shared across the
// trading engine, resolver, and store, generalizing the teacher's
// exported-sentinel-error style (lmsr.ErrInvalidLiquidity) into a
// machine-readable Kind the HTTP layer can map to a status code.
package marketerr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindNotFound           Kind = "NotFound"
	KindMarketNotOpen      Kind = "MarketNotOpen"
	KindAlreadyResolved    Kind = "AlreadyResolved"
	KindInsufficientFunds  Kind = "InsufficientFunds"
	KindInsufficientShares Kind = "InsufficientShares"
	KindDegenerateTrade    Kind = "DegenerateTrade"
	KindFetchFailed        Kind = "FetchFailed"
	KindPathMissing        Kind = "PathMissing"
	KindUnknownOperator    Kind = "UnknownOperator"
	KindInternal           Kind = "InternalError"
)

// Error is the error type raised by every core component. Kind is
// stable for callers to switch on; Err (when present) is the wrapped
// cause for logging.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind wrapping a lower-level
// cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal for
// errors that were never tagged.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindInternal
}

// Is reports whether err (or any error it wraps) is a marketerr.Error
// of the given kind.
func Is(err error, kind Kind) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == kind
	}
	return false
}
