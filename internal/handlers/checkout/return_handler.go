package checkout

import (
	"net/http"
	"net/url"

	"github.com/openlms/pesepay-gateway/internal/auth"
	"github.com/openlms/pesepay-gateway/internal/domain"
	"github.com/openlms/pesepay-gateway/internal/domain/models"
	"go.uber.org/zap"
)

// ReturnHandler handles the payer's browser coming back from Pesepay's
// hosted payment page. It re-verifies the transaction and sends the browser
// to a success, pending or error destination.
type ReturnHandler struct {
	service PaymentService
	logger  *zap.Logger

	// pendingURL and errorURL are host LMS pages; merchantref is appended so
	// the page can show the right transaction.
	pendingURL string
	errorURL   string
}

// NewReturnHandler creates a new return handler
func NewReturnHandler(service PaymentService, logger *zap.Logger, pendingURL, errorURL string) *ReturnHandler {
	return &ReturnHandler{
		service:    service,
		logger:     logger,
		pendingURL: pendingURL,
		errorURL:   errorURL,
	}
}

// Handle processes the return redirect
// Endpoint: GET /payments/return?merchantref=pp_2_abc&referenceNumber=PSP123
func (h *ReturnHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query()
	merchantRef := firstQueryValue(query, "merchantref", "merchantReference", "merchantreference")
	processorRef := firstQueryValue(query, "referenceNumber", "referencenumber", "reference")

	if merchantRef == "" && processorRef == "" {
		http.Error(w, "merchantref or referenceNumber is required", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.ReconcileReturn(r.Context(), userID, merchantRef, processorRef)
	if err != nil {
		code := domain.GetErrorCode(err)
		h.logger.Warn("Return reconciliation did not complete",
			zap.Int64("user_id", userID),
			zap.String("merchant_ref", merchantRef),
			zap.String("error_code", string(code)),
			zap.Error(err),
		)

		switch code {
		case domain.ErrorCodeTxnNotFound, domain.ErrorCodeTxnNotOwner,
			domain.ErrorCodeVerifyFailed, domain.ErrorCodeVerifyNoReference, domain.ErrorCodeSettlementFailed:
			// Every user-visible failure lands on the error page. Existence and
			// ownership details never leak to the browser; a foreign or unknown
			// reference looks the same as any other failed return.
			http.Redirect(w, r, h.destination(h.errorURL, merchantRef), http.StatusSeeOther)
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	switch outcome.Status {
	case models.StatusPaid:
		http.Redirect(w, r, outcome.RedirectURL, http.StatusSeeOther)
	case models.StatusPending:
		http.Redirect(w, r, h.destination(h.pendingURL, merchantRef), http.StatusSeeOther)
	default:
		http.Redirect(w, r, h.destination(h.errorURL, merchantRef), http.StatusSeeOther)
	}
}

func (h *ReturnHandler) destination(base, merchantRef string) string {
	if base == "" {
		return "/"
	}
	if merchantRef == "" {
		return base
	}
	sep := "?"
	if u, err := url.Parse(base); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return base + sep + "merchantref=" + url.QueryEscape(merchantRef)
}

func firstQueryValue(query url.Values, keys ...string) string {
	for _, key := range keys {
		if v := query.Get(key); v != "" {
			return v
		}
	}
	return ""
}
