// Package analyzerr defines the error taxonomy shared by every stage of
// the analysis pipeline, from container parsing through report emission.
package analyzerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the fixed failure modes an analysis can raise.
type Kind int

const (
	// UnknownFormat means no supported container format verified.
	UnknownFormat Kind = iota
	// AmbiguousFormat means more than one container format verified.
	AmbiguousFormat
	// MalformedHeader means a structural field was out of range.
	MalformedHeader
	// TruncatedFile means a read attempted past end of file.
	TruncatedFile
	// DanglingReference means a string/section/segment index was out of range.
	DanglingReference
	// DecodeFailure means the instruction decoder could not decode a byte
	// sequence. Unlike every other Kind this one is non-fatal: callers log
	// it and continue with an opaque placeholder instruction.
	DecodeFailure
	// UnimplementedFormat means the container format is recognized but this
	// implementation does not enumerate its functions/symbols.
	UnimplementedFormat
)

var kindDesc = map[Kind]string{
	UnknownFormat:       "unknown container format",
	AmbiguousFormat:     "ambiguous container format",
	MalformedHeader:     "malformed header",
	TruncatedFile:       "truncated file",
	DanglingReference:   "dangling reference",
	DecodeFailure:       "instruction decode failure",
	UnimplementedFormat: "unimplemented format",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindDesc[k]; ok {
		return s
	}
	return "unknown error kind"
}

// Error is the single error type raised by every package in this module.
// It carries a fixed Kind plus a free-form message and an optional
// wrapped cause, and supports errors.Is/errors.As via Unwrap and Is.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New creates an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind wrapping an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind, so callers
// can write errors.Is(err, analyzerr.New(analyzerr.TruncatedFile, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// IsKind reports whether err is an *analyzerr.Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
