// Package errors re-exports github.com/cockroachdb/errors so the rest of
// fleetd gets stack traces, wrapping, and hint/detail annotations from a
// single import instead of reaching for the standard library errors package
// in some places and cockroachdb/errors in others.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

var (
	Is = crdb.Is
	As = crdb.As
)

// Kind is a stable, wire-safe error classification. Unlike the wrapped
// error chain above (which carries stack traces and is never sent to a
// peer), Kind is what the Message Router maps to a wire Error code.
type Kind int

const (
	KindInternal Kind = iota
	KindBadEnvelope
	KindUnknownMessage
	KindUnauthenticated
	KindForbidden
	KindTokenInvalid
	KindTokenConsumed
	KindNotConnected
	KindQueueOverflow
	KindTimeout
)

type kindedError struct {
	kind Kind
	err  error
}

func (e *kindedError) Error() string { return e.err.Error() }
func (e *kindedError) Unwrap() error { return e.err }

// WithKind tags err with a wire-classifiable Kind, preserving the wrapped
// chain for logs while giving the router a cheap way to pick a wire code.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, err: err}
}

// KindOf extracts the Kind attached by WithKind, defaulting to KindInternal
// when the error was never classified (a programmer error, not a protocol
// one, and the router treats it that way).
func KindOf(err error) Kind {
	var ke *kindedError
	if As(err, &ke) {
		return ke.kind
	}
	return KindInternal
}
