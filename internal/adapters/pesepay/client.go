package pesepay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openlms/pesepay-gateway/internal/domain/ports"
	"go.uber.org/zap"
)

const (
	initiatePath     = "/api/payments-engine/v1/payments/initiate"
	checkPaymentPath = "/api/payments-engine/v1/payments/check-payment"

	// statusPaid is the only processor status that means money arrived.
	statusPaid = "SUCCESS"
)

// Config contains the Pesepay API credentials and endpoint.
type Config struct {
	BaseURL        string // e.g. https://api.pesepay.com
	IntegrationKey string // merchant integration key, sent on every request
	Timeout        time.Duration
}

// Client wraps the Pesepay payments-engine API. It is a pure adapter: no
// state, and no raised errors — every transport or API failure is folded into
// the returned result so callers reconcile on data, not exceptions.
type Client struct {
	config     Config
	httpClient ports.HTTPClient
	logger     *zap.Logger
}

// NewClient creates a new Pesepay API client with dependency injection
func NewClient(config Config, httpClient ports.HTTPClient, logger *zap.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// initiatePayload is the request body for create+initiate.
type initiatePayload struct {
	AmountDetails struct {
		Amount       string `json:"amount"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"amountDetails"`
	ReasonForPayment  string `json:"reasonForPayment"`
	MerchantReference string `json:"merchantReference"`
	ReturnURL         string `json:"returnUrl"`
	ResultURL         string `json:"resultUrl"`
}

// transactionEnvelope is the subset of the Pesepay response this service
// cares about; the full body is kept verbatim in Raw for audit.
type transactionEnvelope struct {
	RedirectURL       string `json:"redirectUrl"`
	ReferenceNumber   string `json:"referenceNumber"`
	PollURL           string `json:"pollUrl"`
	TransactionStatus string `json:"transactionStatus"`
	Message           string `json:"message"`
}

// CreateAndInitiate creates a transaction at Pesepay and initiates the hosted
// checkout. On success the result carries the redirect URL the payer must be
// sent to, plus the reference number and poll URL for later verification.
func (c *Client) CreateAndInitiate(ctx context.Context, req ports.InitiateRequest) ports.CheckoutResult {
	payload := initiatePayload{
		ReasonForPayment:  req.Description,
		MerchantReference: req.MerchantRef,
		ReturnURL:         req.ReturnURL,
		ResultURL:         req.ResultURL,
	}
	payload.AmountDetails.Amount = req.Amount.StringFixed(2)
	payload.AmountDetails.CurrencyCode = strings.ToUpper(req.Currency)

	body, err := json.Marshal(payload)
	if err != nil {
		return ports.CheckoutResult{Success: false, Message: fmt.Sprintf("failed to create transaction: %v", err)}
	}

	raw, envelope, err := c.post(ctx, c.config.BaseURL+initiatePath, body)
	if err != nil {
		c.logger.Warn("Pesepay initiate call failed",
			zap.String("merchant_ref", req.MerchantRef),
			zap.Error(err),
		)
		return ports.CheckoutResult{Success: false, Message: fmt.Sprintf("failed to initiate transaction: %v", err)}
	}

	if envelope.RedirectURL == "" {
		message := envelope.Message
		if message == "" {
			message = "unknown error from Pesepay"
		}
		return ports.CheckoutResult{Success: false, Raw: raw, Message: message}
	}

	return ports.CheckoutResult{
		Success:      true,
		RedirectURL:  envelope.RedirectURL,
		ProcessorRef: envelope.ReferenceNumber,
		PollURL:      envelope.PollURL,
		Raw:          raw,
	}
}

// CheckByReference checks payment status using the Pesepay reference number.
func (c *Client) CheckByReference(ctx context.Context, processorRef string) ports.VerifyResult {
	endpoint := fmt.Sprintf("%s%s?referenceNumber=%s",
		c.config.BaseURL, checkPaymentPath, url.QueryEscape(processorRef))
	return c.verify(ctx, endpoint, "reference", processorRef)
}

// PollByURL checks payment status using the poll URL returned at initiation.
func (c *Client) PollByURL(ctx context.Context, pollURL string) ports.VerifyResult {
	return c.verify(ctx, pollURL, "poll_url", pollURL)
}

func (c *Client) verify(ctx context.Context, endpoint, refKind, refValue string) ports.VerifyResult {
	raw, envelope, err := c.get(ctx, endpoint)
	if err != nil {
		c.logger.Warn("Pesepay status check failed",
			zap.String(refKind, refValue),
			zap.Error(err),
		)
		return ports.VerifyResult{Success: false, Message: fmt.Sprintf("error while checking payment: %v", err)}
	}

	if envelope.TransactionStatus == "" {
		message := envelope.Message
		if message == "" {
			message = "unknown error from Pesepay"
		}
		return ports.VerifyResult{Success: false, Raw: raw, Message: message}
	}

	return ports.VerifyResult{
		Success: true,
		Paid:    strings.EqualFold(envelope.TransactionStatus, statusPaid),
		Raw:     raw,
	}
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (json.RawMessage, *transactionEnvelope, error) {
	return c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
}

func (c *Client) get(ctx context.Context, endpoint string) (json.RawMessage, *transactionEnvelope, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) (json.RawMessage, *transactionEnvelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.config.IntegrationKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	var envelope transactionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := envelope.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, nil, fmt.Errorf("pesepay returned %d: %s", resp.StatusCode, message)
	}

	return raw, &envelope, nil
}
