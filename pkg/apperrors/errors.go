// Package apperrors defines the stable-coded error taxonomy shared across
// the clearing engine, settlement coordinator, and wallet custody.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy purposes (spec §7).
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindValidation     Kind = "validation"
	KindResource       Kind = "resource"
	KindBusinessLogic  Kind = "business_logic"
	KindChain          Kind = "chain"
	KindStorage        Kind = "storage"
	KindExternal       Kind = "external"
	KindRateLimit      Kind = "rate_limit"
	KindInternal       Kind = "internal"
)

// Sub-kind tags, attached to Error.Sub for kinds that have them in spec §7.
const (
	SubNotFound      = "not_found"
	SubAlreadyExists = "already_exists"
	SubConflict      = "conflict"
	SubGone          = "gone"

	SubInsufficientBalance = "insufficient_balance"
	SubOrderNotMatched     = "order_not_matched"
	SubTradingNotAllowed   = "trading_not_allowed"
	SubEpochNotActive      = "epoch_not_active"
	SubInvalidMatch        = "invalid_match"

	SubConnectionFailed  = "connection_failed"
	SubTransactionFailed = "transaction_failed"
	SubTimeout           = "timeout"
	SubInvalidSignature  = "invalid_signature"
	SubProgramError      = "program_error"

	SubQueryFailed         = "query_failed"
	SubConstraintViolation = "constraint_violation"

	SubUnavailable = "unavailable"
)

// Error is the single error type returned by every public operation in
// this module. Code is a stable numeric identifier safe to expose to
// callers; Kind and Sub classify the failure for handler-layer mapping to
// HTTP status codes (owned by the excluded handler layer, not here).
type Error struct {
	Code       int
	Kind       Kind
	Sub        string
	Message    string
	Field      string // set for field-tagged Validation errors
	RetryAfter int    // seconds; set for RateLimit errors
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%d %s] %s: %v", e.Code, e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("[%d %s] %s", e.Code, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a bare Error with no wrapped cause.
func New(code int, kind Kind, sub, message string) *Error {
	return &Error{Code: code, Kind: kind, Sub: sub, Message: message}
}

// Wrap attaches a cause to a newly built Error, for Storage/Chain
// propagation into BusinessLogic or Internal per spec §7.
func Wrap(code int, kind Kind, sub, message string, cause error) *Error {
	return &Error{Code: code, Kind: kind, Sub: sub, Message: message, cause: cause}
}

// WithField tags a Validation error with the offending field name.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithRetryAfter tags a RateLimit error with the retry-after seconds.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// As reports whether err (or any error in its chain) is an *Error, and if
// so returns it. Convenience wrapper over errors.As for callers that don't
// want to declare the local variable themselves.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Well-known sentinel errors used as Unwrap targets where a single
// canonical cause is more useful than a fresh message each time.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotFound             = errors.New("not found")
)

// Numeric code ranges, one block per Kind, so a code alone identifies the
// Kind without needing to also serialize Kind in constrained wire formats.
const (
	codeAuthenticationBase = 1000
	codeAuthorizationBase  = 2000
	codeValidationBase     = 3000
	codeResourceBase       = 4000
	codeBusinessLogicBase  = 5000
	codeChainBase          = 6000
	codeStorageBase        = 7000
	codeExternalBase       = 8000
	codeRateLimitBase      = 9000
	codeInternalBase       = 9900
)

func Authentication(message string) *Error {
	return New(codeAuthenticationBase, KindAuthentication, "", message)
}

func Authorization(message string) *Error {
	return New(codeAuthorizationBase, KindAuthorization, "", message)
}

func Validation(message, field string) *Error {
	return New(codeValidationBase, KindValidation, "", message).WithField(field)
}

func NotFound(resource, message string) *Error {
	return New(codeResourceBase+1, KindResource, SubNotFound, fmt.Sprintf("%s: %s", resource, message))
}

func AlreadyExists(resource, message string) *Error {
	return New(codeResourceBase+2, KindResource, SubAlreadyExists, fmt.Sprintf("%s: %s", resource, message))
}

func Conflict(message string) *Error {
	return New(codeResourceBase+3, KindResource, SubConflict, message)
}

func InsufficientBalance(message string) *Error {
	return New(codeBusinessLogicBase+1, KindBusinessLogic, SubInsufficientBalance, message)
}

func OrderNotMatched(message string) *Error {
	return New(codeBusinessLogicBase+2, KindBusinessLogic, SubOrderNotMatched, message)
}

func TradingNotAllowed(message string) *Error {
	return New(codeBusinessLogicBase+3, KindBusinessLogic, SubTradingNotAllowed, message)
}

func EpochNotActive(message string) *Error {
	return New(codeBusinessLogicBase+4, KindBusinessLogic, SubEpochNotActive, message)
}

func InvalidMatch(message string) *Error {
	return New(codeBusinessLogicBase+5, KindBusinessLogic, SubInvalidMatch, message)
}

func UnknownCorridor(from, to string) *Error {
	return New(codeBusinessLogicBase+6, KindBusinessLogic, SubInvalidMatch,
		fmt.Sprintf("no active zone rate for corridor %s -> %s", from, to))
}

func ChainError(sub, message string, cause error) *Error {
	return Wrap(codeChainBase, KindChain, sub, message, cause)
}

func StorageError(sub, message string, cause error) *Error {
	return Wrap(codeStorageBase, KindStorage, sub, message, cause)
}

func ExternalError(sub, message string, cause error) *Error {
	return Wrap(codeExternalBase, KindExternal, sub, message, cause)
}

func RateLimit(message string, retryAfterSeconds int) *Error {
	return New(codeRateLimitBase, KindRateLimit, "", message).WithRetryAfter(retryAfterSeconds)
}

func Internal(message string, cause error) *Error {
	return Wrap(codeInternalBase, KindInternal, "", message, cause)
}
