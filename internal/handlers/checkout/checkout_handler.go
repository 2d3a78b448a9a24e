package checkout

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/openlms/pesepay-gateway/internal/auth"
	"github.com/openlms/pesepay-gateway/internal/domain"
	"github.com/openlms/pesepay-gateway/internal/services/payment"
	"go.uber.org/zap"
)

// PaymentService defines the payment operations the HTTP layer needs
type PaymentService interface {
	InitiateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutRedirect, error)
	ReconcileReturn(ctx context.Context, callerID int64, merchantRef, processorRef string) (*payment.ReturnOutcome, error)
	ProcessWebhook(ctx context.Context, n payment.Notification) (*payment.WebhookOutcome, error)
}

// CheckoutHandler starts a payment: it resolves what the user is paying for,
// creates the transaction at Pesepay and sends the browser to the hosted
// payment page.
type CheckoutHandler struct {
	service PaymentService
	logger  *zap.Logger
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(service PaymentService, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: service,
		logger:  logger,
	}
}

// Handle processes a checkout request
// Endpoint: GET|POST /payments/checkout?component=enrol_fee&paymentarea=fee&itemid=42&description=Course+fee
func (h *CheckoutHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "malformed form data", http.StatusBadRequest)
			return
		}
	}

	component := requestValue(r, "component")
	paymentArea := requestValue(r, "paymentarea")
	itemIDRaw := requestValue(r, "itemid")
	description := requestValue(r, "description")

	if component == "" || paymentArea == "" || itemIDRaw == "" {
		http.Error(w, "component, paymentarea and itemid are required", http.StatusBadRequest)
		return
	}

	itemID, err := strconv.ParseInt(itemIDRaw, 10, 64)
	if err != nil {
		http.Error(w, "itemid must be an integer", http.StatusBadRequest)
		return
	}

	redirect, err := h.service.InitiateCheckout(r.Context(), payment.CheckoutRequest{
		UserID:      userID,
		Component:   component,
		PaymentArea: paymentArea,
		ItemID:      itemID,
		Description: description,
	})
	if err != nil {
		h.logger.Error("Checkout failed",
			zap.Int64("user_id", userID),
			zap.String("component", component),
			zap.String("payment_area", paymentArea),
			zap.Int64("item_id", itemID),
			zap.Error(err),
		)
		http.Error(w, publicMessage(err), statusForError(err))
		return
	}

	http.Redirect(w, r, redirect.RedirectURL, http.StatusSeeOther)
}

func requestValue(r *http.Request, key string) string {
	if r.Method == http.MethodPost {
		if v := r.PostFormValue(key); v != "" {
			return v
		}
	}
	return r.URL.Query().Get(key)
}

// statusForError maps domain error codes to HTTP status codes
func statusForError(err error) int {
	switch domain.GetErrorCode(err) {
	case domain.ErrorCodeTxnNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeTxnNotOwner:
		return http.StatusForbidden
	case domain.ErrorCodeBadPayload, domain.ErrorCodeCurrencyUnsupported, domain.ErrorCodeVerifyNoReference:
		return http.StatusBadRequest
	case domain.ErrorCodeCheckoutFailed, domain.ErrorCodeVerifyFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the caller-safe message for an error, hiding
// internals behind a generic line.
func publicMessage(err error) string {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case domain.ErrorCodeInternalError, domain.ErrorCodeDatabaseError:
			return "internal error"
		default:
			return domainErr.Message
		}
	}
	return "internal error"
}
