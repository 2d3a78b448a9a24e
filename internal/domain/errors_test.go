package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDomainError_ErrorFormat(t *testing.T) {
	err := NewDomainError(ErrorCodeTxnNotFound, "no transaction found")
	if !strings.Contains(err.Error(), "TXN_NOT_FOUND") {
		t.Errorf("error message %q does not contain the code", err.Error())
	}
	if !strings.Contains(err.Error(), "no transaction found") {
		t.Errorf("error message %q does not contain the message", err.Error())
	}
}

func TestDomainError_WrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := WrapError(ErrorCodeDatabaseError, "transaction lookup failed", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped error does not unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("error message %q does not include the cause", err.Error())
	}
}

func TestIsDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", ErrTxnNotFound, ErrorCodeTxnNotFound, true},
		{"different code", ErrTxnNotFound, ErrorCodeTxnNotOwner, false},
		{"wrapped domain error", fmt.Errorf("handler: %w", ErrTxnNotOwner), ErrorCodeTxnNotOwner, true},
		{"plain error", errors.New("boom"), ErrorCodeTxnNotFound, false},
		{"nil error", nil, ErrorCodeTxnNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDomainError(tt.err, tt.code); got != tt.want {
				t.Errorf("IsDomainError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	if code := GetErrorCode(NewDomainError(ErrorCodeCurrencyUnsupported, "currency not supported by gateway")); code != ErrorCodeCurrencyUnsupported {
		t.Errorf("GetErrorCode() = %q, want %q", code, ErrorCodeCurrencyUnsupported)
	}
	if code := GetErrorCode(errors.New("boom")); code != "" {
		t.Errorf("GetErrorCode() = %q, want empty", code)
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorCodeCurrencyUnsupported, "currency not supported by gateway").
		WithDetail("currency", "EUR")

	if err.Details["currency"] != "EUR" {
		t.Errorf("detail not recorded: %v", err.Details)
	}
}

func TestErrAlreadySettledIsNotADomainError(t *testing.T) {
	// Callers branch on errors.Is for the settle-once gate, never on a code
	if IsDomainError(ErrAlreadySettled, ErrorCodeSettlementFailed) {
		t.Error("ErrAlreadySettled must not carry a domain error code")
	}
	if !errors.Is(fmt.Errorf("mark paid: %w", ErrAlreadySettled), ErrAlreadySettled) {
		t.Error("ErrAlreadySettled must survive wrapping")
	}
}
