// Package stats defines the closed error taxonomy and lightweight counters
// shared across the engine.
package stats

import "fmt"

// Kind is a closed taxonomy of error classes the core can produce.
type Kind string

const (
	KindInvalidPlacement      Kind = "INVALID_PLACEMENT"
	KindRiskLimitExceeded     Kind = "RISK_LIMIT_EXCEEDED"
	KindNotFound              Kind = "NOT_FOUND"
	KindInvalidState          Kind = "INVALID_STATE"
	KindSlippageProtection    Kind = "SLIPPAGE_PROTECTION"
	KindInsufficientLiquidity Kind = "INSUFFICIENT_LIQUIDITY"
	KindExpired               Kind = "EXPIRED"
	KindTimeout               Kind = "TIMEOUT"
	KindVenueUnavailable      Kind = "VENUE_UNAVAILABLE"
	KindVenueRejected         Kind = "VENUE_REJECTED"
	KindNumericOverflow       Kind = "NUMERIC_OVERFLOW"
	KindConfigInvalid         Kind = "CONFIG_INVALID"
)

// CoreError is the single error type the core returns; callers switch on Kind
// rather than on Go error types.
type CoreError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// New constructs a CoreError with no wrapped cause.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap constructs a CoreError carrying an underlying cause.
func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *CoreError of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*CoreError)
	return ok && ce.Kind == kind
}

// Retriable reports whether the engine should retry an operation that
// failed with this error. Only timeouts and venue outages are retriable;
// deterministic rejections are not.
func Retriable(err error) bool {
	ce, ok := err.(*CoreError)
	if !ok {
		return false
	}
	switch ce.Kind {
	case KindTimeout, KindVenueUnavailable:
		return true
	default:
		return false
	}
}
