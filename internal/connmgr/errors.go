package connmgr

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the taxonomy from spec.md §7. Kinds are plain string
// values carried in the single *Error type, not error values themselves, so
// callers branch on them with IsKind(err, KindX) rather than errors.Is.
type ErrorKind string

const (
	KindInvalidEndpoint        ErrorKind = "InvalidEndpoint"
	KindEndpointAlreadyInConfig ErrorKind = "EndpointAlreadyInConfig"
	KindEndpointNotFound       ErrorKind = "EndpointNotFound"
	KindNotInitialized         ErrorKind = "NotInitialized"
	KindConnectFailed          ErrorKind = "ConnectFailed"
	KindAllEndpointsFailed     ErrorKind = "AllEndpointsFailed"
	KindConfigStoreError       ErrorKind = "ConfigStoreError"
	KindDisconnectFailed       ErrorKind = "DisconnectFailed"
)

// Error is the connection manager's single error type, modeled on the
// teacher pack's AppError (2lar-b2 pkg/errors) but trimmed to the fields
// spec.md §7 actually needs: a kind, the endpoint it happened to (if any),
// and the wrapped cause.
type Error struct {
	Kind     ErrorKind
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	if e.Endpoint != "" {
		if e.Err != nil {
			return fmt.Sprintf("connmgr: %s: %q: %v", e.Kind, e.Endpoint, e.Err)
		}
		return fmt.Sprintf("connmgr: %s: %q", e.Kind, e.Endpoint)
	}
	if e.Err != nil {
		return fmt.Sprintf("connmgr: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("connmgr: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// newErr builds an *Error, wrapping cause if non-nil.
func newErr(kind ErrorKind, endpoint string, cause error) *Error {
	return &Error{Kind: kind, Endpoint: endpoint, Err: cause}
}

// IsKind reports whether err (or something it wraps) is a connmgr *Error
// of the given kind. It is the idiomatic way to branch on the taxonomy in
// spec.md §7: `if connmgr.IsKind(err, connmgr.KindEndpointNotFound) { ... }`.
func IsKind(err error, kind ErrorKind) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}
