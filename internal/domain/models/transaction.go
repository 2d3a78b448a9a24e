package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus represents the local reconciliation state of a checkout
// attempt. Status only moves forward: initiated -> pending -> paid, with
// failed reachable from initiated/pending. Paid is terminal once settlement
// is recorded.
type TransactionStatus string

const (
	StatusInitiated TransactionStatus = "initiated" // record created, payer redirected to Pesepay
	StatusPending   TransactionStatus = "pending"   // awaiting a final status from Pesepay
	StatusPaid      TransactionStatus = "paid"      // payment confirmed; terminal once settled
	StatusFailed    TransactionStatus = "failed"    // declined/errored; may still resolve later
)

// Transaction is one row per checkout attempt against Pesepay.
type Transaction struct {
	ID           string // local uuid
	UserID       int64
	Component    string // what is being purchased; opaque to this service
	PaymentArea  string
	ItemID       int64
	MerchantRef  string // generated locally, unique, immutable
	ProcessorRef string // assigned by Pesepay once initiation succeeds
	PollURL      string
	Amount       decimal.Decimal
	Currency     string
	Description  string
	Status       TransactionStatus
	RawResponse  []byte // last raw payload seen from Pesepay, for audit
	PaymentID    *int64 // host ledger payment id; set at most once, gates settlement
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanTransitionTo reports whether a write moving the transaction to next is a
// legal status transition, matching the conditional writes the store enforces.
// Same-state writes are always allowed (webhook retries replay the same
// notification), and a failed transaction may still become pending or paid:
// the gateway side can resolve after a failed verification attempt. A paid
// record is terminal only once settled; paid without a payment id may revert
// to pending, which is how a failed settlement stays recoverable.
func (t *Transaction) CanTransitionTo(next TransactionStatus) bool {
	if t.Status == next {
		return true
	}
	if t.Status == StatusPaid && t.IsSettled() {
		return false
	}
	return next == StatusPending || next == StatusPaid || next == StatusFailed
}

// IsSettled reports whether settlement has already been recorded for this
// transaction. PaymentID presence is the sole idempotency marker.
func (t *Transaction) IsSettled() bool {
	return t.PaymentID != nil
}

// HasVerificationData reports whether the record carries enough to re-verify
// status with Pesepay. Absence of both reference and poll URL is a hard
// verification failure.
func (t *Transaction) HasVerificationData() bool {
	return t.ProcessorRef != "" || t.PollURL != ""
}
