package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// Payable describes what the host application expects to be paid for an item.
type Payable struct {
	AccountID int64
	Amount    decimal.Decimal
	Currency  string
}

// SavePaymentRequest records a confirmed payment in the host ledger.
type SavePaymentRequest struct {
	AccountID   int64
	Component   string
	PaymentArea string
	ItemID      int64
	UserID      int64
	Amount      decimal.Decimal
	Currency    string
	GatewayID   string // "pesepay"
}

// SettlementService is the host application's payment subsystem: it owns the
// ledger and order delivery. Settlement = SavePayment + DeliverOrder; this
// service invokes both at most once per transaction, gated on PaymentID.
type SettlementService interface {
	// GetPayable resolves the cost and receiving account for an item
	GetPayable(ctx context.Context, component, paymentArea string, itemID int64) (*Payable, error)

	// SavePayment writes a ledger entry and returns the host payment id
	SavePayment(ctx context.Context, req SavePaymentRequest) (int64, error)

	// DeliverOrder releases the purchased item to the buyer
	DeliverOrder(ctx context.Context, component, paymentArea string, itemID, paymentID, userID int64) error

	// SuccessURL is where the payer lands after a successful payment
	SuccessURL(ctx context.Context, component, paymentArea string, itemID int64) (string, error)
}
