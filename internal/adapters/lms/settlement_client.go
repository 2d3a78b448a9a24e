package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/openlms/pesepay-gateway/internal/domain/ports"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config contains the host application's payment API endpoint and credentials.
type Config struct {
	BaseURL  string // e.g. https://lms.example.org/api/payment
	APIToken string // service-to-service token
	Timeout  time.Duration
}

// SettlementClient implements ports.SettlementService against the host
// application's payment API. The host owns the ledger and order delivery;
// this client is the narrow interface to it.
type SettlementClient struct {
	config     Config
	httpClient ports.HTTPClient
	logger     *zap.Logger
}

// NewSettlementClient creates a new host application payment API client
func NewSettlementClient(config Config, httpClient ports.HTTPClient, logger *zap.Logger) *SettlementClient {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &SettlementClient{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetPayable resolves the cost and receiving account for an item
func (c *SettlementClient) GetPayable(ctx context.Context, component, paymentArea string, itemID int64) (*ports.Payable, error) {
	query := url.Values{}
	query.Set("component", component)
	query.Set("paymentarea", paymentArea)
	query.Set("itemid", strconv.FormatInt(itemID, 10))

	var out struct {
		AccountID int64  `json:"accountid"`
		Amount    string `json:"amount"`
		Currency  string `json:"currency"`
	}
	if err := c.call(ctx, http.MethodGet, "/payable?"+query.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("get payable: %w", err)
	}

	amount, err := decimal.NewFromString(out.Amount)
	if err != nil {
		return nil, fmt.Errorf("get payable: invalid amount %q: %w", out.Amount, err)
	}

	return &ports.Payable{
		AccountID: out.AccountID,
		Amount:    amount,
		Currency:  out.Currency,
	}, nil
}

// SavePayment writes a ledger entry and returns the host payment id
func (c *SettlementClient) SavePayment(ctx context.Context, req ports.SavePaymentRequest) (int64, error) {
	body := map[string]interface{}{
		"accountid":   req.AccountID,
		"component":   req.Component,
		"paymentarea": req.PaymentArea,
		"itemid":      req.ItemID,
		"userid":      req.UserID,
		"amount":      req.Amount.String(),
		"currency":    req.Currency,
		"gateway":     req.GatewayID,
	}

	var out struct {
		PaymentID int64 `json:"paymentid"`
	}
	if err := c.call(ctx, http.MethodPost, "/payments", body, &out); err != nil {
		return 0, fmt.Errorf("save payment: %w", err)
	}
	if out.PaymentID == 0 {
		return 0, fmt.Errorf("save payment: host returned no payment id")
	}

	return out.PaymentID, nil
}

// DeliverOrder releases the purchased item to the buyer
func (c *SettlementClient) DeliverOrder(ctx context.Context, component, paymentArea string, itemID, paymentID, userID int64) error {
	body := map[string]interface{}{
		"component":   component,
		"paymentarea": paymentArea,
		"itemid":      itemID,
		"paymentid":   paymentID,
		"userid":      userID,
	}
	if err := c.call(ctx, http.MethodPost, "/deliver", body, nil); err != nil {
		return fmt.Errorf("deliver order: %w", err)
	}
	return nil
}

// SuccessURL is where the payer lands after a successful payment
func (c *SettlementClient) SuccessURL(ctx context.Context, component, paymentArea string, itemID int64) (string, error) {
	query := url.Values{}
	query.Set("component", component)
	query.Set("paymentarea", paymentArea)
	query.Set("itemid", strconv.FormatInt(itemID, 10))

	var out struct {
		URL string `json:"url"`
	}
	if err := c.call(ctx, http.MethodGet, "/success-url?"+query.Encode(), nil, &out); err != nil {
		return "", fmt.Errorf("success url: %w", err)
	}
	return out.URL, nil
}

func (c *SettlementClient) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Host payment API call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("host payment API returned %d: %s", resp.StatusCode, string(payload))
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
