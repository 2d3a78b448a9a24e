package checkout_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openlms/pesepay-gateway/internal/auth"
	"github.com/openlms/pesepay-gateway/internal/domain"
	"github.com/openlms/pesepay-gateway/internal/handlers/checkout"
	"github.com/openlms/pesepay-gateway/internal/services/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func TestCheckoutHandler_RedirectsToHostedPage(t *testing.T) {
	mockService := new(MockPaymentService)
	handler := checkout.NewCheckoutHandler(mockService, zap.NewNop())

	mockService.On("InitiateCheckout", mock.Anything, payment.CheckoutRequest{
		UserID:      2,
		Component:   "enrol_fee",
		PaymentArea: "fee",
		ItemID:      42,
		Description: "Course fee",
	}).Return(&payment.CheckoutRedirect{
		RedirectURL: "https://pay.pesepay.com/checkout/xyz",
		MerchantRef: "pp_2_abc",
	}, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/payments/checkout?component=enrol_fee&paymentarea=fee&itemid=42&description=Course+fee", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), 2))
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "https://pay.pesepay.com/checkout/xyz", rec.Header().Get("Location"))
	mockService.AssertExpectations(t)
}

func TestCheckoutHandler_MissingParameters(t *testing.T) {
	mockService := new(MockPaymentService)
	handler := checkout.NewCheckoutHandler(mockService, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/payments/checkout?component=enrol_fee", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), 2))
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	mockService.AssertNotCalled(t, "InitiateCheckout")
}

func TestCheckoutHandler_NonNumericItemID(t *testing.T) {
	mockService := new(MockPaymentService)
	handler := checkout.NewCheckoutHandler(mockService, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet,
		"/payments/checkout?component=enrol_fee&paymentarea=fee&itemid=abc", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), 2))
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutHandler_UnsupportedCurrency(t *testing.T) {
	mockService := new(MockPaymentService)
	handler := checkout.NewCheckoutHandler(mockService, zap.NewNop())

	mockService.On("InitiateCheckout", mock.Anything, mock.Anything).
		Return(nil, domain.NewDomainError(domain.ErrorCodeCurrencyUnsupported, "currency not supported by gateway"))

	req := httptest.NewRequest(http.MethodGet,
		"/payments/checkout?component=enrol_fee&paymentarea=fee&itemid=42", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), 2))
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutHandler_GatewayFailure(t *testing.T) {
	mockService := new(MockPaymentService)
	handler := checkout.NewCheckoutHandler(mockService, zap.NewNop())

	mockService.On("InitiateCheckout", mock.Anything, mock.Anything).
		Return(nil, domain.NewDomainError(domain.ErrorCodeCheckoutFailed, "integration key rejected"))

	req := httptest.NewRequest(http.MethodGet,
		"/payments/checkout?component=enrol_fee&paymentarea=fee&itemid=42", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), 2))
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCheckoutHandler_Unauthenticated(t *testing.T) {
	mockService := new(MockPaymentService)
	handler := checkout.NewCheckoutHandler(mockService, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet,
		"/payments/checkout?component=enrol_fee&paymentarea=fee&itemid=42", nil)
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	mockService.AssertNotCalled(t, "InitiateCheckout")
}
