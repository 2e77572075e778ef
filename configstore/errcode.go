// Package configstore is the fabric's rank-bootstrap and rendezvous KV: a
// small CRUD+lock interface backing EntryManager's auto-ranking barrier and
// any process that needs to publish/discover peer descriptors out of band
// from the data-plane transports.
package configstore

import "github.com/ascend/memfabric-hybrid/cmn"

// ErrorCode mirrors the original's StoreErrorCode enum, carried into Go as
// a typed error via cmn.Error rather than an int16 return (§9 supplemented
// features: "a StoreErrorCode-equivalent typed error").
type ErrorCode int

const (
	CodeSuccess ErrorCode = iota
	CodeError
	CodeInvalidMessage
	CodeInvalidKey
	CodeNotExist
	CodeRestore
	CodeTimeout
	CodeIOError
)

func (c ErrorCode) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeError:
		return "error"
	case CodeInvalidMessage:
		return "invalid-message"
	case CodeInvalidKey:
		return "invalid-key"
	case CodeNotExist:
		return "not-exist"
	case CodeRestore:
		return "restore"
	case CodeTimeout:
		return "timeout"
	case CodeIOError:
		return "io-error"
	default:
		return "unknown"
	}
}

// kindOf maps a store-local ErrorCode onto the fabric-wide cmn.Kind so that
// backend errors compose with the rest of the error taxonomy (§7).
func kindOf(c ErrorCode) cmn.Kind {
	switch c {
	case CodeInvalidMessage, CodeInvalidKey:
		return cmn.KindInvalidParam
	case CodeNotExist:
		return cmn.KindNotExist
	case CodeTimeout:
		return cmn.KindTimeout
	case CodeIOError:
		return cmn.KindDriverError
	default:
		return cmn.KindDriverError
	}
}

// newErr builds a *cmn.Error tagged with the store's ErrorCode, recoverable
// via CodeOf for callers that still branch on the original code.
func newErr(op string, code ErrorCode, cause error) error {
	if code == CodeSuccess {
		return nil
	}
	return cmn.NewErr(kindOf(code), op, &storeError{code: code, cause: cause})
}

type storeError struct {
	code  ErrorCode
	cause error
}

func (e *storeError) Error() string {
	if e.cause == nil {
		return e.code.String()
	}
	return e.code.String() + ": " + e.cause.Error()
}

func (e *storeError) Unwrap() error { return e.cause }

// CodeOf extracts the ErrorCode carried by err, if any, defaulting to
// CodeError for any other non-nil error and CodeSuccess for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeSuccess
	}
	if se, ok := unwrapStoreError(err); ok {
		return se.code
	}
	return CodeError
}

func unwrapStoreError(err error) (*storeError, bool) {
	for err != nil {
		if se, ok := err.(*storeError); ok {
			return se, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
