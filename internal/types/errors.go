package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of engine failures. Kinds are surfaced as
// typed results across the public boundary, never as panics.
type ErrorKind string

const (
	ErrInvalidRequest    ErrorKind = "INVALID_REQUEST"
	ErrNoQuotes          ErrorKind = "NO_QUOTES_AVAILABLE"
	ErrTokenNotSupported ErrorKind = "TOKEN_NOT_SUPPORTED"
	ErrAmountTooSmall    ErrorKind = "AMOUNT_TOO_SMALL"
	ErrAmountTooLarge    ErrorKind = "AMOUNT_TOO_LARGE"
	ErrRateLimited       ErrorKind = "RATE_LIMIT_EXCEEDED"
	ErrTimeout           ErrorKind = "TIMEOUT"
	ErrNetwork           ErrorKind = "NETWORK_ERROR"
	ErrAPI               ErrorKind = "API_ERROR"
	ErrQuoteExpired      ErrorKind = "QUOTE_EXPIRED"
	ErrSecurityBlocked   ErrorKind = "SECURITY_BLOCKED"
)

// QuoteError carries a kind, the protocol it originated from (empty for
// request-level failures) and the wrapped cause.
type QuoteError struct {
	Kind     ErrorKind
	Protocol ProtocolID
	Message  string
	Cause    error
}

func (e *QuoteError) Error() string {
	switch {
	case e.Protocol != "" && e.Cause != nil:
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Protocol, e.Message, e.Cause)
	case e.Protocol != "":
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Protocol, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *QuoteError) Unwrap() error { return e.Cause }

// NewError builds a QuoteError without a protocol attribution.
func NewError(kind ErrorKind, format string, args ...any) *QuoteError {
	return &QuoteError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ProtocolError builds a QuoteError attributed to one adapter.
func ProtocolError(kind ErrorKind, p ProtocolID, msg string, cause error) *QuoteError {
	return &QuoteError{Kind: kind, Protocol: p, Message: msg, Cause: cause}
}

// KindOf extracts the error kind; errors that carry no QuoteError in their
// chain map to ErrAPI.
func KindOf(err error) ErrorKind {
	var qe *QuoteError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ErrAPI
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var qe *QuoteError
	return errors.As(err, &qe) && qe.Kind == kind
}
