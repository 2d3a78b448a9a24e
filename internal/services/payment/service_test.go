package payment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openlms/pesepay-gateway/internal/domain"
	"github.com/openlms/pesepay-gateway/internal/domain/models"
	"github.com/openlms/pesepay-gateway/internal/domain/ports"
	"github.com/openlms/pesepay-gateway/internal/services/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockDBPort mocks the database port
type MockDBPort struct {
	mock.Mock
}

func (m *MockDBPort) GetDB() *pgxpool.Pool {
	return nil
}

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	// Execute the function with a nil transaction for testing
	return fn(ctx, nil)
}

// MockTransactionRepository mocks the transaction repository
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, tx ports.DBTX, transaction *models.Transaction) error {
	args := m.Called(ctx, tx, transaction)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByMerchantRef(ctx context.Context, db ports.DBTX, merchantRef string) (*models.Transaction, error) {
	args := m.Called(ctx, db, merchantRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetByProcessorRef(ctx context.Context, db ports.DBTX, processorRef string) (*models.Transaction, error) {
	args := m.Called(ctx, db, processorRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) LockForSettlement(ctx context.Context, tx ports.DBTX, id string) (*models.Transaction, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) UpdateReconciliation(ctx context.Context, tx ports.DBTX, id string, status models.TransactionStatus, processorRef string, rawResponse []byte) error {
	args := m.Called(ctx, tx, id, status, processorRef, rawResponse)
	return args.Error(0)
}

func (m *MockTransactionRepository) MarkPaid(ctx context.Context, tx ports.DBTX, id string, paymentID int64) error {
	args := m.Called(ctx, tx, id, paymentID)
	return args.Error(0)
}

// MockCheckoutGateway mocks the Pesepay gateway client
type MockCheckoutGateway struct {
	mock.Mock
}

func (m *MockCheckoutGateway) CreateAndInitiate(ctx context.Context, req ports.InitiateRequest) ports.CheckoutResult {
	args := m.Called(ctx, req)
	return args.Get(0).(ports.CheckoutResult)
}

func (m *MockCheckoutGateway) CheckByReference(ctx context.Context, processorRef string) ports.VerifyResult {
	args := m.Called(ctx, processorRef)
	return args.Get(0).(ports.VerifyResult)
}

func (m *MockCheckoutGateway) PollByURL(ctx context.Context, pollURL string) ports.VerifyResult {
	args := m.Called(ctx, pollURL)
	return args.Get(0).(ports.VerifyResult)
}

// MockSettlementService mocks the host LMS payment API
type MockSettlementService struct {
	mock.Mock
}

func (m *MockSettlementService) GetPayable(ctx context.Context, component, paymentArea string, itemID int64) (*ports.Payable, error) {
	args := m.Called(ctx, component, paymentArea, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Payable), args.Error(1)
}

func (m *MockSettlementService) SavePayment(ctx context.Context, req ports.SavePaymentRequest) (int64, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSettlementService) DeliverOrder(ctx context.Context, component, paymentArea string, itemID, paymentID, userID int64) error {
	args := m.Called(ctx, component, paymentArea, itemID, paymentID, userID)
	return args.Error(0)
}

func (m *MockSettlementService) SuccessURL(ctx context.Context, component, paymentArea string, itemID int64) (string, error) {
	args := m.Called(ctx, component, paymentArea, itemID)
	return args.String(0), args.Error(1)
}

func newTestService(db *MockDBPort, repo *MockTransactionRepository, gateway *MockCheckoutGateway, settlement *MockSettlementService) *payment.Service {
	return payment.NewService(db, repo, gateway, settlement, zap.NewNop(), payment.Config{
		PublicBaseURL:       "https://pay.example.org",
		GatewayID:           "pesepay",
		SupportedCurrencies: []string{"USD", "ZIG"},
		SurchargePercent:    decimal.Zero,
	})
}

func unsettledTransaction(userID int64) *models.Transaction {
	return &models.Transaction{
		ID:           uuid.New().String(),
		UserID:       userID,
		Component:    "enrol_fee",
		PaymentArea:  "fee",
		ItemID:       42,
		MerchantRef:  "pp_2_abc123",
		ProcessorRef: "PSP-1001",
		PollURL:      "https://api.pesepay.com/poll/PSP-1001",
		Amount:       decimal.RequireFromString("20.50"),
		Currency:     "USD",
		Status:       models.StatusPending,
	}
}

// Checkout

func TestService_InitiateCheckout_Success(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	mockSettlement.On("GetPayable", ctx, "enrol_fee", "fee", int64(42)).
		Return(&ports.Payable{AccountID: 7, Amount: decimal.RequireFromString("20.50"), Currency: "USD"}, nil)

	mockGateway.On("CreateAndInitiate", ctx, mock.MatchedBy(func(req ports.InitiateRequest) bool {
		return req.Currency == "USD" &&
			req.Amount.Equal(decimal.RequireFromString("20.50")) &&
			req.ReturnURL == "https://pay.example.org/payments/return?merchantref="+req.MerchantRef &&
			req.ResultURL == "https://pay.example.org/payments/webhook?merchantref="+req.MerchantRef
	})).Return(ports.CheckoutResult{
		Success:      true,
		RedirectURL:  "https://pay.pesepay.com/checkout/xyz",
		ProcessorRef: "PSP-1001",
		PollURL:      "https://api.pesepay.com/poll/PSP-1001",
		Raw:          []byte(`{"transactionStatus":"INITIATED"}`),
	})

	var created *models.Transaction
	mockRepo.On("Create", ctx, nil, mock.AnythingOfType("*models.Transaction")).
		Run(func(args mock.Arguments) {
			created = args.Get(2).(*models.Transaction)
		}).
		Return(nil)

	redirect, err := service.InitiateCheckout(ctx, payment.CheckoutRequest{
		UserID:      2,
		Component:   "enrol_fee",
		PaymentArea: "fee",
		ItemID:      42,
		Description: "Course fee",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://pay.pesepay.com/checkout/xyz", redirect.RedirectURL)

	require.NotNil(t, created)
	assert.Equal(t, models.StatusInitiated, created.Status)
	assert.Equal(t, "PSP-1001", created.ProcessorRef)
	assert.Contains(t, created.MerchantRef, "pp_2_")
	assert.Equal(t, redirect.MerchantRef, created.MerchantRef)

	mockRepo.AssertExpectations(t)
	mockGateway.AssertExpectations(t)
}

func TestService_InitiateCheckout_AppliesSurcharge(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := payment.NewService(mockDB, mockRepo, mockGateway, mockSettlement, zap.NewNop(), payment.Config{
		PublicBaseURL:       "https://pay.example.org",
		SupportedCurrencies: []string{"USD"},
		SurchargePercent:    decimal.RequireFromString("2"),
	})
	ctx := context.Background()

	mockSettlement.On("GetPayable", ctx, "enrol_fee", "fee", int64(42)).
		Return(&ports.Payable{AccountID: 7, Amount: decimal.RequireFromString("19.99"), Currency: "USD"}, nil)

	// 19.99 * 1.02 = 20.3898, rounded to 20.39
	mockGateway.On("CreateAndInitiate", ctx, mock.MatchedBy(func(req ports.InitiateRequest) bool {
		return req.Amount.Equal(decimal.RequireFromString("20.39"))
	})).Return(ports.CheckoutResult{Success: true, RedirectURL: "https://pay.pesepay.com/x", ProcessorRef: "P1"})

	mockRepo.On("Create", ctx, nil, mock.AnythingOfType("*models.Transaction")).Return(nil)

	_, err := service.InitiateCheckout(ctx, payment.CheckoutRequest{
		UserID: 2, Component: "enrol_fee", PaymentArea: "fee", ItemID: 42,
	})

	require.NoError(t, err)
	mockGateway.AssertExpectations(t)
}

func TestService_InitiateCheckout_UnsupportedCurrency(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	mockSettlement.On("GetPayable", ctx, "enrol_fee", "fee", int64(42)).
		Return(&ports.Payable{AccountID: 7, Amount: decimal.RequireFromString("10.00"), Currency: "EUR"}, nil)

	_, err := service.InitiateCheckout(ctx, payment.CheckoutRequest{
		UserID: 2, Component: "enrol_fee", PaymentArea: "fee", ItemID: 42,
	})

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeCurrencyUnsupported, domain.GetErrorCode(err))

	mockGateway.AssertNotCalled(t, "CreateAndInitiate")
	mockRepo.AssertNotCalled(t, "Create")
}

func TestService_InitiateCheckout_GatewayFailurePersistsRecord(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	mockSettlement.On("GetPayable", ctx, "enrol_fee", "fee", int64(42)).
		Return(&ports.Payable{AccountID: 7, Amount: decimal.RequireFromString("20.50"), Currency: "USD"}, nil)

	mockGateway.On("CreateAndInitiate", ctx, mock.AnythingOfType("ports.InitiateRequest")).
		Return(ports.CheckoutResult{Success: false, Message: "integration key rejected"})

	var created *models.Transaction
	mockRepo.On("Create", ctx, nil, mock.AnythingOfType("*models.Transaction")).
		Run(func(args mock.Arguments) {
			created = args.Get(2).(*models.Transaction)
		}).
		Return(nil)

	_, err := service.InitiateCheckout(ctx, payment.CheckoutRequest{
		UserID: 2, Component: "enrol_fee", PaymentArea: "fee", ItemID: 42,
	})

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeCheckoutFailed, domain.GetErrorCode(err))

	// The failed attempt still leaves an audit record
	require.NotNil(t, created)
	assert.Equal(t, models.StatusFailed, created.Status)
	assert.Contains(t, string(created.RawResponse), "integration key rejected")
}

// Return reconciliation

func TestService_ReconcileReturn_OwnershipMismatch(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)

	_, err := service.ReconcileReturn(ctx, 99, txn.MerchantRef, "")

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeTxnNotOwner, domain.GetErrorCode(err))

	// A foreign caller must not trigger verification or writes
	mockGateway.AssertNotCalled(t, "CheckByReference")
	mockRepo.AssertNotCalled(t, "UpdateReconciliation")
}

func TestService_ReconcileReturn_AlreadyPaidShortCircuits(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	paymentID := int64(555)
	txn := unsettledTransaction(2)
	txn.Status = models.StatusPaid
	txn.PaymentID = &paymentID

	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockSettlement.On("SuccessURL", ctx, "enrol_fee", "fee", int64(42)).
		Return("https://lms.example.org/course/42", nil)

	outcome, err := service.ReconcileReturn(ctx, 2, txn.MerchantRef, "")

	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, outcome.Status)
	assert.Equal(t, "https://lms.example.org/course/42", outcome.RedirectURL)

	// No second verification, no second settlement
	mockGateway.AssertNotCalled(t, "CheckByReference")
	mockGateway.AssertNotCalled(t, "PollByURL")
	mockSettlement.AssertNotCalled(t, "SavePayment")
}

func TestService_ReconcileReturn_NoReferenceNoPollURL(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	txn.ProcessorRef = ""
	txn.PollURL = ""

	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPending, "", mock.Anything).
		Return(nil)

	_, err := service.ReconcileReturn(ctx, 2, txn.MerchantRef, "")

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeVerifyNoReference, domain.GetErrorCode(err))
	mockRepo.AssertExpectations(t)
}

func TestService_ReconcileReturn_FallsBackToPollURL(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	txn.ProcessorRef = ""

	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockGateway.On("PollByURL", ctx, txn.PollURL).
		Return(ports.VerifyResult{Success: true, Paid: false, Raw: []byte(`{"transactionStatus":"PENDING"}`)})
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPending, "", mock.Anything).
		Return(nil)

	outcome, err := service.ReconcileReturn(ctx, 2, txn.MerchantRef, "")

	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, outcome.Status)
	mockGateway.AssertExpectations(t)
}

func TestService_ReconcileReturn_VerificationFailure(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockGateway.On("CheckByReference", ctx, "PSP-1001").
		Return(ports.VerifyResult{Success: false, Message: "gateway timeout"})
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPending, "PSP-1001", mock.Anything).
		Return(nil)

	_, err := service.ReconcileReturn(ctx, 2, txn.MerchantRef, "")

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeVerifyFailed, domain.GetErrorCode(err))
	mockSettlement.AssertNotCalled(t, "SavePayment")
}

func TestService_ReconcileReturn_PaidSettlesOnce(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockGateway.On("CheckByReference", ctx, "PSP-1001").
		Return(ports.VerifyResult{Success: true, Paid: true, Raw: []byte(`{"transactionStatus":"SUCCESS"}`)})
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPaid, "PSP-1001", mock.Anything).
		Return(nil)

	mockRepo.On("LockForSettlement", ctx, mock.Anything, txn.ID).Return(txn, nil)
	mockSettlement.On("GetPayable", ctx, "enrol_fee", "fee", int64(42)).
		Return(&ports.Payable{AccountID: 7, Amount: decimal.RequireFromString("20.50"), Currency: "USD"}, nil)
	mockSettlement.On("SavePayment", ctx, mock.MatchedBy(func(req ports.SavePaymentRequest) bool {
		return req.AccountID == 7 && req.UserID == 2 && req.GatewayID == "pesepay"
	})).Return(int64(555), nil)
	mockSettlement.On("DeliverOrder", ctx, "enrol_fee", "fee", int64(42), int64(555), int64(2)).
		Return(nil)
	mockRepo.On("MarkPaid", ctx, mock.Anything, txn.ID, int64(555)).Return(nil)

	mockSettlement.On("SuccessURL", ctx, "enrol_fee", "fee", int64(42)).
		Return("https://lms.example.org/course/42", nil)

	outcome, err := service.ReconcileReturn(ctx, 2, txn.MerchantRef, "")

	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, outcome.Status)
	assert.Equal(t, "https://lms.example.org/course/42", outcome.RedirectURL)

	mockRepo.AssertExpectations(t)
	mockSettlement.AssertExpectations(t)
}

func TestService_ReconcileReturn_SettlementFailureRevertsToPending(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockGateway.On("CheckByReference", ctx, "PSP-1001").
		Return(ports.VerifyResult{Success: true, Paid: true, Raw: []byte(`{"transactionStatus":"SUCCESS"}`)})
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPaid, "PSP-1001", mock.Anything).
		Return(nil)

	mockRepo.On("LockForSettlement", ctx, mock.Anything, txn.ID).Return(txn, nil)
	mockSettlement.On("GetPayable", ctx, "enrol_fee", "fee", int64(42)).
		Return(&ports.Payable{AccountID: 7, Amount: decimal.RequireFromString("20.50"), Currency: "USD"}, nil)
	mockSettlement.On("SavePayment", ctx, mock.Anything).Return(int64(555), nil)
	mockSettlement.On("DeliverOrder", ctx, "enrol_fee", "fee", int64(42), int64(555), int64(2)).
		Return(errors.New("order delivery unavailable"))

	// The record goes back to pending so a later webhook can retry
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPending, "", mock.Anything).
		Return(nil)

	_, err := service.ReconcileReturn(ctx, 2, txn.MerchantRef, "")

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeSettlementFailed, domain.GetErrorCode(err))

	mockRepo.AssertNotCalled(t, "MarkPaid")
	mockRepo.AssertExpectations(t)
}

// Webhook reconciliation

func TestService_ProcessWebhook_UnknownStatusDefaultsToPending(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPending, "PSP-1001", mock.Anything).
		Return(nil)

	outcome, err := service.ProcessWebhook(ctx, payment.Notification{
		MerchantRef:       txn.MerchantRef,
		ProcessorRef:      "PSP-1001",
		TransactionStatus: "SOMETHING_NEW",
		Raw:               []byte(`{"transactionStatus":"SOMETHING_NEW"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, outcome.Status)
	assert.False(t, outcome.Settled)
	mockSettlement.AssertNotCalled(t, "SavePayment")
}

func TestService_ProcessWebhook_FailedStatusDoesNotSettle(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusFailed, "PSP-1001", mock.Anything).
		Return(nil)

	outcome, err := service.ProcessWebhook(ctx, payment.Notification{
		MerchantRef:       txn.MerchantRef,
		ProcessorRef:      "PSP-1001",
		TransactionStatus: "INSUFFICIENT_FUNDS",
		Raw:               []byte(`{"transactionStatus":"INSUFFICIENT_FUNDS"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, outcome.Status)
	assert.False(t, outcome.Settled)
	mockSettlement.AssertNotCalled(t, "SavePayment")
}

func TestService_ProcessWebhook_SuccessSettles(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPaid, "PSP-1001", mock.Anything).
		Return(nil)

	mockRepo.On("LockForSettlement", ctx, mock.Anything, txn.ID).Return(txn, nil)
	mockSettlement.On("GetPayable", ctx, "enrol_fee", "fee", int64(42)).
		Return(&ports.Payable{AccountID: 7, Amount: decimal.RequireFromString("20.50"), Currency: "USD"}, nil)
	mockSettlement.On("SavePayment", ctx, mock.Anything).Return(int64(777), nil)
	mockSettlement.On("DeliverOrder", ctx, "enrol_fee", "fee", int64(42), int64(777), int64(2)).
		Return(nil)
	mockRepo.On("MarkPaid", ctx, mock.Anything, txn.ID, int64(777)).Return(nil)

	outcome, err := service.ProcessWebhook(ctx, payment.Notification{
		MerchantRef:       txn.MerchantRef,
		ProcessorRef:      "PSP-1001",
		TransactionStatus: "SUCCESS",
		Raw:               []byte(`{"transactionStatus":"SUCCESS"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, outcome.Status)
	assert.True(t, outcome.Settled)

	mockRepo.AssertExpectations(t)
	mockSettlement.AssertExpectations(t)
}

func TestService_ProcessWebhook_AlreadySettledSkips(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	paymentID := int64(555)
	txn := unsettledTransaction(2)
	settled := *txn
	settled.Status = models.StatusPaid
	settled.PaymentID = &paymentID

	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPaid, "PSP-1001", mock.Anything).
		Return(nil)
	// Under the row lock the record turns out to be settled already
	mockRepo.On("LockForSettlement", ctx, mock.Anything, txn.ID).Return(&settled, nil)

	outcome, err := service.ProcessWebhook(ctx, payment.Notification{
		MerchantRef:       txn.MerchantRef,
		ProcessorRef:      "PSP-1001",
		TransactionStatus: "SUCCESS",
		Raw:               []byte(`{"transactionStatus":"SUCCESS"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, outcome.Status)
	assert.False(t, outcome.Settled)

	mockSettlement.AssertNotCalled(t, "SavePayment")
	mockSettlement.AssertNotCalled(t, "DeliverOrder")
}

func TestService_ProcessWebhook_MarkPaidRaceLoserSkips(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPaid, "PSP-1001", mock.Anything).
		Return(nil)

	mockRepo.On("LockForSettlement", ctx, mock.Anything, txn.ID).Return(txn, nil)
	mockSettlement.On("GetPayable", ctx, "enrol_fee", "fee", int64(42)).
		Return(&ports.Payable{AccountID: 7, Amount: decimal.RequireFromString("20.50"), Currency: "USD"}, nil)
	mockSettlement.On("SavePayment", ctx, mock.Anything).Return(int64(777), nil)
	mockSettlement.On("DeliverOrder", ctx, "enrol_fee", "fee", int64(42), int64(777), int64(2)).
		Return(nil)
	mockRepo.On("MarkPaid", ctx, mock.Anything, txn.ID, int64(777)).
		Return(domain.ErrAlreadySettled)

	outcome, err := service.ProcessWebhook(ctx, payment.Notification{
		MerchantRef:       txn.MerchantRef,
		ProcessorRef:      "PSP-1001",
		TransactionStatus: "SUCCESS",
		Raw:               []byte(`{"transactionStatus":"SUCCESS"}`),
	})

	// Losing the conditional write is not an error
	require.NoError(t, err)
	assert.False(t, outcome.Settled)
}

func TestService_ProcessWebhook_UnknownTransaction(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	mockRepo.On("GetByMerchantRef", ctx, nil, "pp_9_none").Return(nil, domain.ErrTxnNotFound)
	mockRepo.On("GetByProcessorRef", ctx, nil, "PSP-404").Return(nil, domain.ErrTxnNotFound)

	_, err := service.ProcessWebhook(ctx, payment.Notification{
		MerchantRef:       "pp_9_none",
		ProcessorRef:      "PSP-404",
		TransactionStatus: "SUCCESS",
	})

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeTxnNotFound, domain.GetErrorCode(err))
}

func TestService_ProcessWebhook_LookupFallsBackToProcessorRef(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	mockRepo.On("GetByMerchantRef", ctx, nil, "stale-ref").Return(nil, domain.ErrTxnNotFound)
	mockRepo.On("GetByProcessorRef", ctx, nil, "PSP-1001").Return(txn, nil)
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPending, "PSP-1001", mock.Anything).
		Return(nil)

	outcome, err := service.ProcessWebhook(ctx, payment.Notification{
		MerchantRef:       "stale-ref",
		ProcessorRef:      "PSP-1001",
		TransactionStatus: "PENDING",
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, outcome.Status)
	mockRepo.AssertExpectations(t)
}

func TestService_ProcessWebhook_SettlementFailure(t *testing.T) {
	mockDB := new(MockDBPort)
	mockRepo := new(MockTransactionRepository)
	mockGateway := new(MockCheckoutGateway)
	mockSettlement := new(MockSettlementService)

	service := newTestService(mockDB, mockRepo, mockGateway, mockSettlement)
	ctx := context.Background()

	txn := unsettledTransaction(2)
	mockRepo.On("GetByMerchantRef", ctx, nil, txn.MerchantRef).Return(txn, nil)
	mockRepo.On("UpdateReconciliation", ctx, nil, txn.ID, models.StatusPaid, "PSP-1001", mock.Anything).
		Return(nil)

	mockRepo.On("LockForSettlement", ctx, mock.Anything, txn.ID).Return(txn, nil)
	mockSettlement.On("GetPayable", ctx, "enrol_fee", "fee", int64(42)).
		Return(nil, errors.New("LMS unreachable"))

	_, err := service.ProcessWebhook(ctx, payment.Notification{
		MerchantRef:       txn.MerchantRef,
		ProcessorRef:      "PSP-1001",
		TransactionStatus: "SUCCESS",
	})

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeSettlementFailed, domain.GetErrorCode(err))
	mockRepo.AssertNotCalled(t, "MarkPaid")
}
