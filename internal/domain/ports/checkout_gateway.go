package ports

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// InitiateRequest carries everything Pesepay needs to create and initiate a
// hosted-checkout transaction.
type InitiateRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	MerchantRef string
	ReturnURL   string // browser comes back here
	ResultURL   string // Pesepay POSTs the webhook here
}

// CheckoutResult is the outcome of create+initiate. Success=false carries a
// human-readable Message instead of a Go error: transport and API failures at
// the gateway boundary are data, not exceptions.
type CheckoutResult struct {
	Success      bool
	RedirectURL  string // Pesepay hosted checkout page
	ProcessorRef string // reference number assigned by Pesepay
	PollURL      string
	Raw          json.RawMessage // raw response body, persisted for audit
	Message      string
}

// VerifyResult is the outcome of a status check (by reference or poll URL).
type VerifyResult struct {
	Success bool
	Paid    bool
	Raw     json.RawMessage
	Message string
}

// CheckoutGateway wraps the Pesepay payments-engine API. Implementations are
// pure adapters: no state, no raised errors — any failure is folded into the
// returned result.
type CheckoutGateway interface {
	CreateAndInitiate(ctx context.Context, req InitiateRequest) CheckoutResult
	CheckByReference(ctx context.Context, processorRef string) VerifyResult
	PollByURL(ctx context.Context, pollURL string) VerifyResult
}
