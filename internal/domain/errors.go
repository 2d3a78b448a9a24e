package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Transaction errors (TXN_*)
	ErrorCodeTxnNotFound ErrorCode = "TXN_NOT_FOUND"
	ErrorCodeTxnNotOwner ErrorCode = "TXN_NOT_OWNER"

	// Verification errors (VERIFY_*)
	ErrorCodeVerifyFailed      ErrorCode = "VERIFY_FAILED"
	ErrorCodeVerifyNoReference ErrorCode = "VERIFY_NO_REFERENCE"

	// Settlement errors (SETTLEMENT_*)
	ErrorCodeSettlementFailed ErrorCode = "SETTLEMENT_FAILED"

	// Checkout errors (CHECKOUT_*)
	ErrorCodeCheckoutFailed      ErrorCode = "CHECKOUT_FAILED"
	ErrorCodeCurrencyUnsupported ErrorCode = "CURRENCY_UNSUPPORTED"

	// Input errors (INPUT_*)
	ErrorCodeBadPayload ErrorCode = "INPUT_BAD_PAYLOAD"

	// Internal errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// Structured error instances. Errors that carry per-call details are built
// with NewDomainError at the call site instead; WithDetail mutates the
// receiver, so shared instances must stay detail-free.
var (
	ErrTxnNotFound = NewDomainError(ErrorCodeTxnNotFound, "no transaction found")
	ErrTxnNotOwner = NewDomainError(ErrorCodeTxnNotOwner, "not your transaction")
)

// ErrAlreadySettled is returned by the store when a conditional settlement
// write finds payment_id already set. Callers treat it as "skip settlement",
// never as a failure.
var ErrAlreadySettled = errors.New("transaction already settled")
