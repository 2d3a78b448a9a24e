package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/openlms/pesepay-gateway/internal/domain"
	"github.com/openlms/pesepay-gateway/internal/domain/models"
	"github.com/openlms/pesepay-gateway/internal/domain/ports"
	"github.com/openlms/pesepay-gateway/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the service-level settings shared by all three flows.
type Config struct {
	// PublicBaseURL is this service's externally reachable base URL; the
	// return and result callback URLs are built from it.
	PublicBaseURL string

	// GatewayID is recorded against ledger entries ("pesepay").
	GatewayID string

	// SupportedCurrencies is the gateway's currency whitelist.
	SupportedCurrencies []string

	// SurchargePercent is added to the payable amount before rounding.
	SurchargePercent decimal.Decimal
}

// Service implements the checkout, return-reconciliation and
// webhook-reconciliation flows over the injected collaborators. It has no
// state of its own; every invariant lives in the store.
type Service struct {
	db         ports.DBPort
	repo       ports.TransactionRepository
	gateway    ports.CheckoutGateway
	settlement ports.SettlementService
	logger     *zap.Logger
	config     Config
}

// NewService creates a new payment service with dependency injection
func NewService(
	db ports.DBPort,
	repo ports.TransactionRepository,
	gateway ports.CheckoutGateway,
	settlement ports.SettlementService,
	logger *zap.Logger,
	config Config,
) *Service {
	if config.GatewayID == "" {
		config.GatewayID = "pesepay"
	}
	return &Service{
		db:         db,
		repo:       repo,
		gateway:    gateway,
		settlement: settlement,
		logger:     logger,
		config:     config,
	}
}

// CheckoutRequest describes one checkout attempt by an authenticated user.
type CheckoutRequest struct {
	UserID      int64
	Component   string
	PaymentArea string
	ItemID      int64
	Description string
	MerchantRef string // optional; generated when absent
}

// CheckoutRedirect is the successful outcome: send the payer here.
type CheckoutRedirect struct {
	RedirectURL string
	MerchantRef string
}

// InitiateCheckout resolves the payable, creates+initiates the transaction at
// Pesepay and persists the local record. A record is persisted even when
// initiation fails (status=failed, message in raw_response) so every attempt
// leaves an audit trail.
func (s *Service) InitiateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutRedirect, error) {
	payable, err := s.settlement.GetPayable(ctx, req.Component, req.PaymentArea, req.ItemID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeCheckoutFailed, "failed to resolve payable", err)
	}

	currency := strings.ToUpper(payable.Currency)
	if !s.currencySupported(currency) {
		return nil, domain.NewDomainError(domain.ErrorCodeCurrencyUnsupported, "currency not supported by gateway").
			WithDetail("currency", currency)
	}

	cost := roundedCost(payable.Amount, s.config.SurchargePercent)

	merchantRef := req.MerchantRef
	if merchantRef == "" {
		merchantRef = generateMerchantRef(req.UserID)
	}

	result := s.gateway.CreateAndInitiate(ctx, ports.InitiateRequest{
		Amount:      cost,
		Currency:    currency,
		Description: req.Description,
		MerchantRef: merchantRef,
		ReturnURL:   s.callbackURL("/payments/return", merchantRef),
		ResultURL:   s.callbackURL("/payments/webhook", merchantRef),
	})

	record := &models.Transaction{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Component:    req.Component,
		PaymentArea:  req.PaymentArea,
		ItemID:       req.ItemID,
		MerchantRef:  merchantRef,
		ProcessorRef: result.ProcessorRef,
		PollURL:      result.PollURL,
		Amount:       cost,
		Currency:     currency,
		Description:  req.Description,
		Status:       models.StatusInitiated,
		RawResponse:  result.Raw,
	}
	if !result.Success {
		record.Status = models.StatusFailed
		record.RawResponse = errorJSON(result.Message)
	}

	if err := s.repo.Create(ctx, nil, record); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "failed to persist transaction", err)
	}

	if !result.Success {
		observability.CheckoutsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("Checkout initiation failed",
			zap.String("merchant_ref", merchantRef),
			zap.Int64("user_id", req.UserID),
			zap.String("message", result.Message),
		)
		return nil, domain.NewDomainError(domain.ErrorCodeCheckoutFailed, result.Message)
	}

	observability.CheckoutsTotal.WithLabelValues("initiated").Inc()
	s.logger.Info("Checkout initiated",
		zap.String("transaction_id", record.ID),
		zap.String("merchant_ref", merchantRef),
		zap.String("processor_ref", result.ProcessorRef),
		zap.Int64("user_id", req.UserID),
		zap.String("amount", cost.String()),
		zap.String("currency", currency),
	)

	return &CheckoutRedirect{
		RedirectURL: result.RedirectURL,
		MerchantRef: merchantRef,
	}, nil
}

// ReturnOutcome tells the handler where to send the payer's browser.
type ReturnOutcome struct {
	Status      models.TransactionStatus
	RedirectURL string // success destination; set only when Status is paid
}

// ReconcileReturn handles the payer's browser coming back from Pesepay:
// re-verify status with the processor, update the record and settle when paid.
// Ownership is checked before anything else; a mismatched caller never touches
// the record.
func (s *Service) ReconcileReturn(ctx context.Context, callerID int64, merchantRef, processorRef string) (*ReturnOutcome, error) {
	record, err := s.lookup(ctx, merchantRef, processorRef)
	if err != nil {
		return nil, err
	}

	if record.UserID != callerID {
		// Someone is replaying another user's return URL.
		s.logger.Warn("Return URL ownership mismatch",
			zap.String("transaction_id", record.ID),
			zap.Int64("owner_id", record.UserID),
			zap.Int64("caller_id", callerID),
		)
		return nil, domain.ErrTxnNotOwner
	}

	// Already reconciled and settled earlier (usually by the webhook): no
	// verification call, no second settlement.
	if record.Status == models.StatusPaid {
		return &ReturnOutcome{
			Status:      models.StatusPaid,
			RedirectURL: s.successURL(ctx, record),
		}, nil
	}

	refToCheck := processorRef
	if refToCheck == "" {
		refToCheck = record.ProcessorRef
	}

	var verify ports.VerifyResult
	switch {
	case refToCheck != "":
		verify = s.gateway.CheckByReference(ctx, refToCheck)
	case record.PollURL != "":
		verify = s.gateway.PollByURL(ctx, record.PollURL)
	default:
		if err := s.repo.UpdateReconciliation(ctx, nil, record.ID, models.StatusPending, "", errorJSON("no_reference_or_pollurl_on_return")); err != nil {
			s.logger.Error("Failed to record missing verification data", zap.String("transaction_id", record.ID), zap.Error(err))
		}
		return nil, domain.NewDomainError(domain.ErrorCodeVerifyNoReference, "cannot verify transaction: no reference or poll url").
			WithDetail("transaction_id", record.ID)
	}

	if !verify.Success {
		// Not fatal: the webhook may still complete reconciliation later.
		if err := s.repo.UpdateReconciliation(ctx, nil, record.ID, models.StatusPending, refToCheck, errorJSON(verify.Message)); err != nil {
			s.logger.Error("Failed to record verification failure", zap.String("transaction_id", record.ID), zap.Error(err))
		}
		return nil, domain.NewDomainError(domain.ErrorCodeVerifyFailed, verify.Message)
	}

	status := models.StatusPending
	if verify.Paid {
		status = models.StatusPaid
	}
	if err := s.repo.UpdateReconciliation(ctx, nil, record.ID, status, refToCheck, verify.Raw); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "failed to update transaction", err)
	}

	if !verify.Paid {
		return &ReturnOutcome{Status: models.StatusPending}, nil
	}

	if _, _, err := s.settleOnce(ctx, record.ID); err != nil {
		// Leave the record recoverable: back to pending, settlement error in
		// raw_response, paymentId untouched.
		if revertErr := s.repo.UpdateReconciliation(ctx, nil, record.ID, models.StatusPending, "", errorJSON(err.Error())); revertErr != nil {
			s.logger.Error("Failed to revert status after settlement failure", zap.String("transaction_id", record.ID), zap.Error(revertErr))
		}
		return nil, domain.WrapError(domain.ErrorCodeSettlementFailed, "payment could not be saved", err)
	}

	s.logger.Info("Payment reconciled on return",
		zap.String("transaction_id", record.ID),
		zap.String("merchant_ref", record.MerchantRef),
		zap.String("processor_ref", refToCheck),
	)

	return &ReturnOutcome{
		Status:      models.StatusPaid,
		RedirectURL: s.successURL(ctx, record),
	}, nil
}

// Notification is a webhook payload after alias normalization: exactly one
// canonical field per logical value, no casing variants.
type Notification struct {
	MerchantRef       string
	ProcessorRef      string
	TransactionStatus string
	Raw               []byte
}

// WebhookOutcome reports what the notification did to the record.
type WebhookOutcome struct {
	Status  models.TransactionStatus
	Settled bool // true when this notification triggered settlement
}

// ProcessWebhook applies a server-to-server status notification: map the
// processor's vocabulary to local status, record what was seen, and settle
// exactly once when the mapped status is paid.
func (s *Service) ProcessWebhook(ctx context.Context, n Notification) (*WebhookOutcome, error) {
	record, err := s.lookup(ctx, n.MerchantRef, n.ProcessorRef)
	if err != nil {
		return nil, err
	}

	status, known := MapProcessorStatus(n.TransactionStatus)
	if !known {
		s.logger.Warn("Unknown transaction status in webhook, defaulting to pending",
			zap.String("transaction_id", record.ID),
			zap.String("transaction_status", n.TransactionStatus),
		)
	}
	observability.WebhooksTotal.WithLabelValues(string(status)).Inc()

	// The webhook always records what it saw, whatever the mapped status.
	if err := s.repo.UpdateReconciliation(ctx, nil, record.ID, status, n.ProcessorRef, n.Raw); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "failed to update transaction", err)
	}

	if status != models.StatusPaid {
		return &WebhookOutcome{Status: status}, nil
	}

	paymentID, already, err := s.settleOnce(ctx, record.ID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeSettlementFailed, "failed to save or deliver payment", err)
	}
	if already {
		s.logger.Info("Webhook: payment already processed",
			zap.String("transaction_id", record.ID),
			zap.Int64("payment_id", paymentID),
		)
		return &WebhookOutcome{Status: status}, nil
	}

	s.logger.Info("Webhook: payment processed",
		zap.String("transaction_id", record.ID),
		zap.String("merchant_ref", record.MerchantRef),
		zap.Int64("payment_id", paymentID),
	)

	return &WebhookOutcome{Status: status, Settled: true}, nil
}

// settleOnce records the payment in the host ledger and delivers the order,
// at most once per transaction. The row lock plus the conditional MarkPaid
// write are what make the return/webhook race safe: the loser observes
// payment_id set and skips without error.
func (s *Service) settleOnce(ctx context.Context, txnID string) (paymentID int64, already bool, err error) {
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		record, err := s.repo.LockForSettlement(ctx, tx, txnID)
		if err != nil {
			return err
		}
		if record.IsSettled() {
			already = true
			paymentID = *record.PaymentID
			return nil
		}

		payable, err := s.settlement.GetPayable(ctx, record.Component, record.PaymentArea, record.ItemID)
		if err != nil {
			return fmt.Errorf("resolve payable: %w", err)
		}

		pid, err := s.settlement.SavePayment(ctx, ports.SavePaymentRequest{
			AccountID:   payable.AccountID,
			Component:   record.Component,
			PaymentArea: record.PaymentArea,
			ItemID:      record.ItemID,
			UserID:      record.UserID,
			Amount:      record.Amount,
			Currency:    record.Currency,
			GatewayID:   s.config.GatewayID,
		})
		if err != nil {
			return fmt.Errorf("save payment: %w", err)
		}

		if err := s.settlement.DeliverOrder(ctx, record.Component, record.PaymentArea, record.ItemID, pid, record.UserID); err != nil {
			return fmt.Errorf("deliver order: %w", err)
		}

		if err := s.repo.MarkPaid(ctx, tx, txnID, pid); err != nil {
			if errors.Is(err, domain.ErrAlreadySettled) {
				already = true
				return nil
			}
			return err
		}
		paymentID = pid
		return nil
	})
	if err != nil {
		observability.SettlementFailuresTotal.Inc()
		return 0, false, err
	}
	if !already {
		observability.SettlementsTotal.Inc()
	}
	return paymentID, already, nil
}

// lookup finds the record by merchant reference first, falling back to the
// processor reference.
func (s *Service) lookup(ctx context.Context, merchantRef, processorRef string) (*models.Transaction, error) {
	if merchantRef != "" {
		record, err := s.repo.GetByMerchantRef(ctx, nil, merchantRef)
		if err == nil {
			return record, nil
		}
		if !domain.IsDomainError(err, domain.ErrorCodeTxnNotFound) {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "transaction lookup failed", err)
		}
	}
	if processorRef != "" {
		record, err := s.repo.GetByProcessorRef(ctx, nil, processorRef)
		if err == nil {
			return record, nil
		}
		if !domain.IsDomainError(err, domain.ErrorCodeTxnNotFound) {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "transaction lookup failed", err)
		}
	}
	return nil, domain.ErrTxnNotFound
}

func (s *Service) successURL(ctx context.Context, record *models.Transaction) string {
	dest, err := s.settlement.SuccessURL(ctx, record.Component, record.PaymentArea, record.ItemID)
	if err != nil || dest == "" {
		s.logger.Warn("Falling back to root success destination",
			zap.String("transaction_id", record.ID),
			zap.Error(err),
		)
		return "/"
	}
	return dest
}

func (s *Service) callbackURL(path, merchantRef string) string {
	return s.config.PublicBaseURL + path + "?merchantref=" + url.QueryEscape(merchantRef)
}

func (s *Service) currencySupported(currency string) bool {
	for _, c := range s.config.SupportedCurrencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

// generateMerchantRef builds a globally unique merchant reference. A uuid
// suffix keeps concurrent checkouts by the same user from colliding, which a
// second-resolution timestamp cannot guarantee.
func generateMerchantRef(userID int64) string {
	return fmt.Sprintf("pp_%d_%s", userID, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// roundedCost applies the gateway surcharge and rounds to the gateway's
// two-decimal representation.
func roundedCost(amount, surchargePercent decimal.Decimal) decimal.Decimal {
	if surchargePercent.IsZero() {
		return amount.Round(2)
	}
	factor := decimal.NewFromInt(1).Add(surchargePercent.Div(decimal.NewFromInt(100)))
	return amount.Mul(factor).Round(2)
}

func errorJSON(message string) []byte {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return []byte(`{"error":"unknown"}`)
	}
	return payload
}
