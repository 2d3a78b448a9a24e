package ports

import (
	"context"

	"github.com/openlms/pesepay-gateway/internal/domain/models"
)

// TransactionRepository defines the interface for transaction persistence.
// Pass a nil DBTX to run against the pool; pass an open pgx.Tx to participate
// in a transaction (the settlement path does this to hold a row lock across
// the collaborator calls).
type TransactionRepository interface {
	// Create persists a new transaction record
	Create(ctx context.Context, tx DBTX, transaction *models.Transaction) error

	// GetByMerchantRef retrieves a transaction by its locally generated
	// merchant reference. Returns domain.ErrTxnNotFound when absent.
	GetByMerchantRef(ctx context.Context, db DBTX, merchantRef string) (*models.Transaction, error)

	// GetByProcessorRef retrieves a transaction by the Pesepay reference number
	GetByProcessorRef(ctx context.Context, db DBTX, processorRef string) (*models.Transaction, error)

	// LockForSettlement re-reads a transaction with a row lock (FOR UPDATE).
	// Must be called with an open transaction.
	LockForSettlement(ctx context.Context, tx DBTX, id string) (*models.Transaction, error)

	// UpdateReconciliation records what a verification or webhook notification
	// saw: mapped status, processor reference (if newly learned) and the raw
	// payload. The write never regresses a paid record; stale statuses are
	// silently kept out by the store.
	UpdateReconciliation(ctx context.Context, tx DBTX, id string, status models.TransactionStatus, processorRef string, rawResponse []byte) error

	// MarkPaid sets status=paid and payment_id in one conditional write that
	// only succeeds while payment_id is still null. Returns
	// domain.ErrAlreadySettled when a concurrent writer won the race.
	MarkPaid(ctx context.Context, tx DBTX, id string, paymentID int64) error
}
