// Package cmn holds the fabric-wide error taxonomy and the global config
// owner, mirroring aistore's cmn package (cmn.GCO, cmn error wrapping).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error taxonomy of §7: every failure the core returns
// carries exactly one of these kinds so that callers can branch on policy
// (retry-safe, roll back, etc.) without string-matching messages.
type Kind int

const (
	KindInvalidParam Kind = iota
	KindNotInitialized
	KindMallocFailed
	KindAlreadyExists
	KindNotExist
	KindTimeout
	KindTransportError
	KindDriverError
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParam:
		return "invalid-param"
	case KindNotInitialized:
		return "not-initialized"
	case KindMallocFailed:
		return "malloc-failed"
	case KindAlreadyExists:
		return "already-exists"
	case KindNotExist:
		return "not-exist"
	case KindTimeout:
		return "timeout"
	case KindTransportError:
		return "transport-error"
	case KindDriverError:
		return "driver-error"
	case KindNotSupported:
		return "not-supported"
	default:
		return "unknown"
	}
}

// Error is the fabric's typed error: a Kind plus a wrapped cause.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "MemSegment.Import"
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Is supports errors.Is(err, &cmn.Error{Kind: cmn.KindX}) via a
// sentinel-free kind comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewErr builds a new *Error, wrapping cause (if any) with github.com/pkg/errors
// so the original stack trace survives through layered returns.
func NewErr(kind Kind, op string, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Op: op, err: cause}
}

func NewErrf(kind Kind, op, format string, args ...any) *Error {
	return NewErr(kind, op, fmt.Errorf(format, args...))
}

// KindOf extracts the Kind from err if it is (or wraps) a *cmn.Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err's Kind equals kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Sentinel constructors used pervasively at call sites (cmn.ErrInvalidParam(...), etc).
func ErrInvalidParam(op string, cause error) *Error   { return NewErr(KindInvalidParam, op, cause) }
func ErrNotInitialized(op string) *Error              { return NewErr(KindNotInitialized, op, nil) }
func ErrMallocFailed(op string, cause error) *Error   { return NewErr(KindMallocFailed, op, cause) }
func ErrAlreadyExists(op string, cause error) *Error  { return NewErr(KindAlreadyExists, op, cause) }
func ErrNotExist(op string, cause error) *Error       { return NewErr(KindNotExist, op, cause) }
func ErrTimeout(op string, cause error) *Error        { return NewErr(KindTimeout, op, cause) }
func ErrTransport(op string, cause error) *Error      { return NewErr(KindTransportError, op, cause) }
func ErrDriver(op string, cause error) *Error         { return NewErr(KindDriverError, op, cause) }
func ErrNotSupported(op string, cause error) *Error   { return NewErr(KindNotSupported, op, cause) }

// FmtErrUnmarshal mirrors aistore's cmn.FmtErrUnmarshal-style reusable
// message template for decode-failure call sites.
const FmtErrUnmarshal = "%s: failed to unmarshal %s (%q): %v"
