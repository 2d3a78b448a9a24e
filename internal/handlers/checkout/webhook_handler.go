package checkout

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/openlms/pesepay-gateway/internal/domain"
	"github.com/openlms/pesepay-gateway/internal/services/payment"
	"go.uber.org/zap"
)

// maxWebhookBodySize caps notification payloads; Pesepay's envelopes are a
// few hundred bytes.
const maxWebhookBodySize = 1 << 20

// WebhookHandler handles server-to-server result notifications from Pesepay.
// It is the authoritative reconciliation path: the payer's browser may never
// come back, the webhook still settles the payment.
type WebhookHandler struct {
	service PaymentService
	logger  *zap.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service PaymentService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		logger:  logger,
	}
}

// Handle processes a result notification
// Endpoint: POST /payments/webhook
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		h.logger.Warn("Webhook received empty body",
			zap.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, "empty notification body", http.StatusBadRequest)
		return
	}

	notification, err := parseNotification(body)
	if err != nil {
		h.logger.Warn("Webhook received malformed payload",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		http.Error(w, "malformed notification payload", http.StatusBadRequest)
		return
	}

	// The query-string merchantref from the result URL is a fallback for
	// payloads that omit the reference fields.
	if notification.MerchantRef == "" {
		notification.MerchantRef = r.URL.Query().Get("merchantref")
	}

	outcome, err := h.service.ProcessWebhook(r.Context(), *notification)
	if err != nil {
		code := domain.GetErrorCode(err)
		switch code {
		case domain.ErrorCodeTxnNotFound:
			h.logger.Warn("Webhook for unknown transaction",
				zap.String("merchant_ref", notification.MerchantRef),
				zap.String("processor_ref", notification.ProcessorRef),
			)
			http.Error(w, "transaction not found", http.StatusNotFound)
		default:
			// 500 makes Pesepay retry the notification; the settle-once gate
			// makes the retry safe.
			h.logger.Error("Webhook processing failed",
				zap.String("merchant_ref", notification.MerchantRef),
				zap.String("error_code", string(code)),
				zap.Error(err),
			)
			http.Error(w, "notification processing failed", http.StatusInternalServerError)
		}
		return
	}

	h.logger.Debug("Webhook acknowledged",
		zap.String("merchant_ref", notification.MerchantRef),
		zap.String("status", string(outcome.Status)),
		zap.Bool("settled", outcome.Settled),
	)

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// parseNotification decodes a notification body and folds Pesepay's field
// aliases into one canonical shape. Observed payloads vary in casing between
// API versions.
func parseNotification(body []byte) (*payment.Notification, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	return &payment.Notification{
		MerchantRef:       stringField(fields, "merchantReference", "merchantreference", "merchantRef"),
		ProcessorRef:      stringField(fields, "referenceNumber", "referencenumber", "reference"),
		TransactionStatus: stringField(fields, "transactionStatus", "transactionstatus"),
		Raw:               body,
	}, nil
}

func stringField(fields map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
