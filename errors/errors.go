// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package errors implements the error type used throughout the
// coredump upload engine. Errors carry an interpretable kind drawn
// from a closed set of upload failure conditions, together with a
// severity that tells whether a subsequent boot may reasonably
// re-attempt the upload. Errors can be chained, attributing one
// error to another. The design follows the error packages of the
// Upspin and Reflow projects.
package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Separator defines the separation string inserted between
// chained errors in error messages.
var Separator = ":\n\t"

// Kind defines the type of error. Kinds are semantically meaningful
// and may be interpreted by the receiver of an error, e.g., to
// decide whether the on-flash image was retired or preserved.
type Kind int

const (
	// Other indicates an unknown error.
	Other Kind = iota
	// Invalid indicates that the caller supplied invalid parameters,
	// such as a missing write callback or a malformed descriptor.
	Invalid
	// NoImage indicates that no coredump image is present.
	NoImage
	// Platform indicates an underlying image-locate or flash-read
	// failure reported by the platform.
	Platform
	// OOM indicates that a session buffer could not be allocated.
	OOM
	// StartFailed indicates that the host's start callback refused
	// the session.
	StartFailed
	// WriteFailed indicates that the host's write callback failed.
	WriteFailed
	// EndFailed indicates that the host's end callback failed after
	// an otherwise successful stream.
	EndFailed
	// Canceled indicates a cooperative cancellation, either through
	// the progress callback or through context cancellation.
	Canceled
	// EncodeFailed indicates that the Base64 chunk transform failed.
	EncodeFailed
	// EraseFailed indicates that the image was delivered but the
	// on-flash commit did not happen.
	EraseFailed

	maxKind
)

var kinds = map[Kind]string{
	Other:        "unknown error",
	Invalid:      "invalid argument",
	NoImage:      "no coredump image",
	Platform:     "platform error",
	OOM:          "out of memory",
	StartFailed:  "start callback failed",
	WriteFailed:  "write callback failed",
	EndFailed:    "end callback failed",
	Canceled:     "upload was canceled",
	EncodeFailed: "chunk encoding failed",
	EraseFailed:  "image erase failed",
}

// kindStdErrs maps some Kinds to the standard library's equivalent.
var kindStdErrs = map[Kind]error{
	Invalid:  os.ErrInvalid,
	NoImage:  os.ErrNotExist,
	Canceled: context.Canceled,
}

// String returns a human-readable explanation of the error kind k.
func (k Kind) String() string {
	return kinds[k]
}

// Severity defines an Error's severity. An Error's severity tells
// whether the failing upload may be re-attempted on a later boot.
type Severity int

const (
	// Retriable indicates that the image was preserved and a later
	// boot can safely re-attempt the upload.
	Retriable Severity = -2
	// Temporary indicates that the underlying error condition is
	// likely temporary; re-attempting may succeed.
	Temporary Severity = -1
	// Unknown indicates the error's severity is unknown. This is the
	// default severity level.
	Unknown Severity = 0
	// Fatal indicates that the underlying error condition is
	// unrecoverable; re-attempting is unlikely to help.
	Fatal Severity = 1
)

var severities = map[Severity]string{
	Retriable: "retriable",
	Temporary: "temporary",
	Unknown:   "unknown",
	Fatal:     "fatal",
}

// String returns a human-readable explanation of the error severity s.
func (s Severity) String() string {
	return severities[s]
}

// Error is the standard error type, carrying a kind (error code),
// message (error message), and potentially an underlying error.
// Errors should be constructed by errors.E, which interprets
// arguments according to a set of rules.
type Error struct {
	// Kind is the error's type.
	Kind Kind
	// Severity is an optional severity.
	Severity Severity
	// Message is an optional error message associated with this error.
	Message string
	// Err is the error that caused this error, if any.
	// Errors can form chains through Err: the full chain is printed
	// by Error().
	Err error
}

// E constructs a new error from the provided arguments. It is meant
// as a convenient way to construct, annotate, and wrap errors.
//
// Arguments are interpreted according to their types:
//
//   - Kind: sets the Error's kind
//   - Severity: sets the Error's severity
//   - string: sets the Error's message; multiple strings are
//     separated by a single space
//   - *Error: copies the error and sets the error's cause
//   - error: sets the Error's cause
//
// If an unrecognized argument type is encountered, an error with
// kind Invalid is returned.
//
// If a kind is not provided but an underlying error is, E attempts
// to interpret the underlying error: context cancellation becomes
// Canceled, and an underlying *Error's kind is inherited.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("errors.E called with no arguments")
	}
	var (
		e     = new(Error)
		parts []string
	)
	for _, arg := range args {
		switch v := arg.(type) {
		case Kind:
			e.Kind = v
		case Severity:
			e.Severity = v
		case string:
			parts = append(parts, v)
		case *Error:
			d := *v
			if len(args) == 1 {
				// Nothing to add; hand back the copy.
				return &d
			}
			e.Err = &d
		case error:
			e.Err = v
		default:
			return &Error{
				Kind:    Invalid,
				Message: fmt.Sprintf("errors.E: unsupported argument %T (%v)", arg, arg),
			}
		}
	}
	e.Message = strings.Join(parts, " ")
	switch cause := e.Err.(type) {
	case nil:
	case *Error:
		// Lift the cause's kind and severity into this error when it
		// sets none of its own, so that discrimination sees the
		// innermost meaningful values without printing them twice.
		if e.Kind == Other || e.Kind == cause.Kind {
			e.Kind, cause.Kind = cause.Kind, Other
		}
		if e.Severity == Unknown || e.Severity == cause.Severity {
			e.Severity, cause.Severity = cause.Severity, Unknown
		}
	default:
		if e.Kind == Other {
			e.Kind = classify(cause)
		}
	}
	return e
}

// classify maps well-known standard errors onto kinds. It visits
// kinds in numeric order so the mapping is deterministic.
func classify(err error) Kind {
	for kind := Other + 1; kind < maxKind; kind++ {
		if std, ok := kindStdErrs[kind]; ok && errors.Is(err, std) {
			return kind
		}
	}
	return Other
}

// Recover recovers any error into an *Error. If the passed-in error
// is already an *Error, it is simply returned; otherwise it is
// wrapped in one.
func Recover(err error) *Error {
	switch e := err.(type) {
	case nil:
		return nil
	case *Error:
		return e
	}
	return E(err).(*Error)
}

// Error returns a human readable string describing this error and
// its whole cause chain. Chained *Errors are joined by Separator;
// a foreign cause terminates the chain on the same line.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	for err := e; ; {
		if b.Len() > 0 {
			b.WriteString(Separator)
		}
		seg := b.Len()
		if err.Message != "" {
			b.WriteString(err.Message)
		}
		if err.Kind != Other {
			if b.Len() > seg {
				b.WriteString(": ")
			}
			b.WriteString(err.Kind.String())
		}
		if err.Severity != Unknown {
			fmt.Fprintf(&b, " (%s)", err.Severity)
		}
		switch cause := err.Err.(type) {
		case nil:
			return b.String()
		case *Error:
			err = cause
		default:
			if b.Len() > seg {
				b.WriteString(": ")
			}
			b.WriteString(cause.Error())
			return b.String()
		}
	}
}

// Temporary tells whether this error is temporary.
func (e *Error) Temporary() bool {
	return e.Severity <= Temporary
}

// Unwrap returns e's cause, if any, or nil. It lets the standard
// library's errors.Unwrap work with *Error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is tells whether e.Kind is equivalent to err. This implements
// interoperability with the standard library's errors.Is: for
// example, errors.Is(e, context.Canceled) works if e's kind is
// Canceled. Users should still prefer this package's Is for their
// own tests because type checking disallows accidentally swapped
// arguments.
func (e *Error) Is(target error) bool {
	std, ok := kindStdErrs[e.Kind]
	return ok && target == std
}

// Is tells whether an error has a specified kind, except for the
// indeterminate kind Other. In the case an error has kind Other, the
// chain is traversed until a non-Other error is encountered.
func Is(kind Kind, err error) bool {
	if kind == Other || err == nil {
		return false
	}
	e, ok := err.(*Error)
	if !ok {
		return classify(err) == kind
	}
	for e != nil {
		if e.Kind != Other {
			return e.Kind == kind
		}
		e, _ = e.Err.(*Error)
	}
	return false
}

// IsTemporary tells whether the provided error is likely temporary.
func IsTemporary(err error) bool {
	if e := Recover(err); e != nil {
		return e.Temporary()
	}
	return false
}

// Match tells whether every nonempty field in want matches the
// corresponding field in got, walking down chained errors in
// lockstep. Match is designed to aid in testing errors.
func Match(want, got error) bool {
	w, g := Recover(want), Recover(got)
	for w != nil && g != nil {
		if w.Kind != Other && w.Kind != g.Kind {
			return false
		}
		if w.Severity != Unknown && w.Severity != g.Severity {
			return false
		}
		if w.Message != "" && w.Message != g.Message {
			return false
		}
		if w.Err == nil {
			return true
		}
		if g.Err == nil {
			return false
		}
		we, wok := w.Err.(*Error)
		ge, gok := g.Err.(*Error)
		if !wok {
			return w.Err.Error() == g.Err.Error()
		}
		if !gok {
			return false
		}
		w, g = we, ge
	}
	return true
}

// Visit calls the given function for every error object in the chain,
// including itself. The walk stops at the first error that is not an
// *Error.
func Visit(err error, callback func(err error)) {
	for {
		callback(err)
		e, ok := err.(*Error)
		if !ok || e.Err == nil {
			return
		}
		err = e.Err
	}
}

// New is synonymous with errors.New, and is provided here so that
// users need only import one errors package.
func New(msg string) error {
	return errors.New(msg)
}
