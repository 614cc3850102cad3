// Package xerrors implements the abstract error taxonomy of §7: a small
// set of Kinds, each carrying whether the worker's retry policy should
// re-attempt the run that produced it.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one row of the §7 taxonomy table.
type Kind string

const (
	SourceConnectionFailed        Kind = "SourceConnectionFailed"
	SourceStreamDoesNotExist      Kind = "SourceStreamDoesNotExist"
	SourceStreamInvalidSchema     Kind = "SourceStreamInvalidSchema"
	StreamMissingField            Kind = "StreamMissingField"
	DestinationConnectionFailed   Kind = "DestinationConnectionFailed"
	DestinationStreamInvalidSchema Kind = "DestinationStreamInvalidSchema"
	IntegrityCheckFailed          Kind = "IntegrityCheckFailed"
	RunGapDetected                Kind = "RunGapDetected"
	UnknownKind                   Kind = "Unknown"
)

// retriable mirrors the "Disposition" column of §7.
var retriable = map[Kind]bool{
	SourceConnectionFailed:         true,
	SourceStreamDoesNotExist:       false,
	SourceStreamInvalidSchema:      false,
	StreamMissingField:             false,
	DestinationConnectionFailed:    true,
	DestinationStreamInvalidSchema: false,
	IntegrityCheckFailed:           false,
	RunGapDetected:                 false,
	UnknownKind:                    true,
}

// Error is a taxonomy-tagged error. Every error the core surfaces to the
// control plane is, by the time it reaches the Transfer command's top
// level, one of these.
type Error struct {
	Kind  Kind
	Cause string
	err   error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Cause, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.err }

// Retriable reports whether the worker's retry policy should re-attempt
// the run after this error.
func (e *Error) Retriable() bool { return retriable[e.Kind] }

// New constructs a taxonomy error with no wrapped cause.
func New(kind Kind, cause string) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Wrap converts a low-level error into a taxonomy error at a component
// boundary, per §7 "Propagation".
func Wrap(kind Kind, cause string, err error) *Error {
	return &Error{Kind: kind, Cause: cause, err: err}
}

// As reports whether err (or any error it wraps) is an *Error, and
// returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the taxonomy Kind of err, defaulting to UnknownKind when
// err is not a tagged *Error — the "Unknown / uncaught" row of §7.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return UnknownKind
}

// IsRetriable reports whether err should be retried by the worker's
// bounded-retry policy.
func IsRetriable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retriable()
	}
	return retriable[UnknownKind]
}
