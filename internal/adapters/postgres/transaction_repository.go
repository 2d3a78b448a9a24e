package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/openlms/pesepay-gateway/internal/domain"
	"github.com/openlms/pesepay-gateway/internal/domain/models"
	"github.com/openlms/pesepay-gateway/internal/domain/ports"
)

const transactionColumns = `id, user_id, component, payment_area, item_id, merchant_ref,
	processor_ref, poll_url, amount, currency, description, status, raw_response,
	payment_id, created_at, updated_at`

// TransactionRepository implements ports.TransactionRepository against the
// pesepay_transactions table.
type TransactionRepository struct {
	db ports.DBPort
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db ports.DBPort) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) executor(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Create persists a new transaction record
func (r *TransactionRepository) Create(ctx context.Context, tx ports.DBTX, t *models.Transaction) error {
	txID, err := uuid.Parse(t.ID)
	if err != nil {
		return fmt.Errorf("invalid transaction ID: %w", err)
	}

	var amount pgtype.Numeric
	if err := amount.Scan(t.Amount.String()); err != nil {
		return fmt.Errorf("convert amount: %w", err)
	}

	raw := t.RawResponse
	if raw == nil {
		raw = []byte("{}")
	}

	_, err = r.executor(tx).Exec(ctx, `
		INSERT INTO pesepay_transactions (
			id, user_id, component, payment_area, item_id, merchant_ref,
			processor_ref, poll_url, amount, currency, description, status,
			raw_response, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())`,
		txID, t.UserID, t.Component, t.PaymentArea, t.ItemID, t.MerchantRef,
		nullText(t.ProcessorRef), nullText(t.PollURL), amount, t.Currency,
		t.Description, string(t.Status), raw,
	)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	return nil
}

// GetByMerchantRef retrieves a transaction by merchant reference
func (r *TransactionRepository) GetByMerchantRef(ctx context.Context, db ports.DBTX, merchantRef string) (*models.Transaction, error) {
	row := r.executor(db).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM pesepay_transactions WHERE merchant_ref = $1`,
		merchantRef,
	)
	return r.scanTransaction(row)
}

// GetByProcessorRef retrieves a transaction by the Pesepay reference number
func (r *TransactionRepository) GetByProcessorRef(ctx context.Context, db ports.DBTX, processorRef string) (*models.Transaction, error) {
	row := r.executor(db).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM pesepay_transactions WHERE processor_ref = $1`,
		processorRef,
	)
	return r.scanTransaction(row)
}

// LockForSettlement re-reads a transaction under FOR UPDATE. The caller must
// hold an open transaction; the lock serializes concurrent settlement
// attempts for the same record.
func (r *TransactionRepository) LockForSettlement(ctx context.Context, tx ports.DBTX, id string) (*models.Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("lock for settlement requires an open transaction")
	}
	row := tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM pesepay_transactions WHERE id = $1 FOR UPDATE`,
		id,
	)
	return r.scanTransaction(row)
}

// UpdateReconciliation records what a verification or notification saw.
// The CASE guard keeps settled records terminal at the storage layer: once a
// record is paid and payment_id is set, a stale pending/failed status is
// ignored while raw_response and updated_at are still written for audit. A
// paid record without payment_id may still be reverted to pending, which is
// how a failed settlement stays recoverable.
func (r *TransactionRepository) UpdateReconciliation(ctx context.Context, tx ports.DBTX, id string, status models.TransactionStatus, processorRef string, rawResponse []byte) error {
	raw := rawResponse
	if raw == nil {
		raw = []byte("{}")
	}

	tag, err := r.executor(tx).Exec(ctx, `
		UPDATE pesepay_transactions
		SET status = CASE WHEN status = 'paid' AND payment_id IS NOT NULL THEN status ELSE $2 END,
		    processor_ref = COALESCE(processor_ref, $3),
		    raw_response = $4,
		    updated_at = now()
		WHERE id = $1`,
		id, string(status), nullText(processorRef), raw,
	)
	if err != nil {
		return fmt.Errorf("update reconciliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTxnNotFound
	}

	return nil
}

// MarkPaid sets status=paid and payment_id in one conditional write. The
// payment_id IS NULL predicate is the settle-once gate: a losing concurrent
// writer gets domain.ErrAlreadySettled and must skip settlement.
func (r *TransactionRepository) MarkPaid(ctx context.Context, tx ports.DBTX, id string, paymentID int64) error {
	tag, err := r.executor(tx).Exec(ctx, `
		UPDATE pesepay_transactions
		SET status = 'paid', payment_id = $2, updated_at = now()
		WHERE id = $1 AND payment_id IS NULL`,
		id, paymentID,
	)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "lost the race" from "no such row"
		var exists bool
		if scanErr := r.executor(tx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pesepay_transactions WHERE id = $1)`, id,
		).Scan(&exists); scanErr != nil {
			return fmt.Errorf("mark paid existence check: %w", scanErr)
		}
		if exists {
			return domain.ErrAlreadySettled
		}
		return domain.ErrTxnNotFound
	}

	return nil
}

func (r *TransactionRepository) scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		id           uuid.UUID
		t            models.Transaction
		processorRef pgtype.Text
		pollURL      pgtype.Text
		amount       pgtype.Numeric
		status       string
		paymentID    pgtype.Int8
	)

	err := row.Scan(
		&id, &t.UserID, &t.Component, &t.PaymentArea, &t.ItemID, &t.MerchantRef,
		&processorRef, &pollURL, &amount, &t.Currency, &t.Description, &status,
		&t.RawResponse, &paymentID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTxnNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	dec, err := pgNumericToDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}

	t.ID = id.String()
	t.ProcessorRef = processorRef.String
	t.PollURL = pollURL.String
	t.Amount = dec
	t.Status = models.TransactionStatus(status)
	if paymentID.Valid {
		pid := paymentID.Int64
		t.PaymentID = &pid
	}

	return &t, nil
}
