package aviation

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the engine can surface. No raw
// transport errors leak past the provider adapter boundary; callers
// branch on the kind, not on concrete wrapped types.
type ErrorKind int

const (
	// KindInvalidInput covers caller mistakes: bad airport codes,
	// oversized query windows. Raised before any network access.
	KindInvalidInput ErrorKind = iota + 1

	// KindMissingCredentials means a required credential key is absent
	// or empty for the selected provider.
	KindMissingCredentials

	// KindInvalidCredentialsFormat means the credential blob is present
	// but structurally unusable.
	KindInvalidCredentialsFormat

	// KindAuthenticationFailed covers token endpoint failures and
	// 401/403 responses from data endpoints.
	KindAuthenticationFailed

	// KindRateLimited corresponds to an HTTP 429 from the provider.
	KindRateLimited

	// KindNetwork covers transport failures and unexpected statuses.
	KindNetwork

	// KindParse is reserved for payloads that are not valid JSON at
	// all. A merely unfamiliar shape is "no data", not a parse error.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindMissingCredentials:
		return "missing_credentials"
	case KindInvalidCredentialsFormat:
		return "invalid_credentials_format"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is the typed error returned across the engine boundary.
type Error struct {
	// Kind classifies the failure
	Kind ErrorKind

	// Provider is the adapter identifier that produced the error
	Provider string

	// Op is the operation that failed (e.g., "fetch aircraft")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the wrapped cause, if any
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed engine error.
func NewError(kind ErrorKind, provider, op, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Message: message}
}

// WrapError builds a typed engine error around a cause.
func WrapError(kind ErrorKind, provider, op string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from err, or 0 when err is not an
// engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
