package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ridenow/ridenow-gobackend/internal/metrics"
	"github.com/ridenow/ridenow-gobackend/internal/models"
)

const maxGatewayBody = 1 << 20

// PaystackClient talks to the Paystack transaction API.
type PaystackClient struct {
	apiKey        string
	initializeURL string
	verifyURL     string
	client        *http.Client
}

func NewPaystackClient(apiKey, initializeURL, verifyURL string, timeout time.Duration) *PaystackClient {
	return &PaystackClient{
		apiKey:        apiKey,
		initializeURL: initializeURL,
		verifyURL:     verifyURL,
		client:        &http.Client{Timeout: timeout},
	}
}

type paystackInitializePayload struct {
	Email    string `json:"email"`
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

// VerifyResult is the verify response plus what settlement needs from it.
type VerifyResult struct {
	models.VerifyResponse
	PaidAt *time.Time
	Raw    json.RawMessage
}

// Initialize starts a transaction. It is never retried.
func (c *PaystackClient) Initialize(ctx context.Context, email, amount, currency string) (*models.InitializeResponse, error) {
	if c.apiKey == "" {
		return nil, newError(KindConfiguration, nil, "PAYSTACK_API_KEY not set")
	}

	reqBody, err := json.Marshal(paystackInitializePayload{Email: email, Amount: amount, Currency: currency})
	if err != nil {
		return nil, newError(KindValidation, err, "failed to marshal initialize request")
	}
	log.Printf("Paystack initialize request: email=%s, amount=%s, currency=%s", maskEmail(email), amount, currency)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.initializeURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, newError(KindConfiguration, err, "failed to create initialize request")
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, "initialize")
	if err != nil {
		return nil, err
	}

	var res models.InitializeResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, newError(KindGatewayResponseInvalid, err, "failed to decode initialize response")
	}
	if !res.Status || res.Data.Reference == "" {
		return nil, newError(KindGatewayResponseInvalid, nil, "initialize rejected: status=%t, message=%q", res.Status, res.Message)
	}
	return &res, nil
}

// Verify fetches the current state of a transaction.
func (c *PaystackClient) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	if c.apiKey == "" {
		return nil, newError(KindConfiguration, nil, "PAYSTACK_API_KEY not set")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.verifyURL+url.PathEscape(reference), nil)
	if err != nil {
		return nil, newError(KindConfiguration, err, "failed to create verify request")
	}

	body, err := c.do(req, "verify")
	if err != nil {
		return nil, err
	}

	var res struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Status          string `json:"status"`
			Amount          int64  `json:"amount"`
			Reference       string `json:"reference"`
			GatewayResponse string `json:"gateway_response"`
			PaidAt          string `json:"paid_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, newError(KindGatewayResponseInvalid, err, "failed to decode verify response")
	}
	if !res.Status {
		return nil, newError(KindGatewayResponseInvalid, nil, "verify rejected: message=%q", res.Message)
	}

	out := &VerifyResult{
		VerifyResponse: models.VerifyResponse{
			Status:  res.Status,
			Message: res.Message,
			Data: models.VerifyData{
				Status:          res.Data.Status,
				Amount:          res.Data.Amount,
				Reference:       res.Data.Reference,
				GatewayResponse: res.Data.GatewayResponse,
			},
		},
		PaidAt: parseGatewayTime(res.Data.PaidAt),
		Raw:    json.RawMessage(body),
	}
	if out.Data.Reference == "" {
		out.Data.Reference = reference
	}
	return out, nil
}

func (c *PaystackClient) do(req *http.Request, op string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "unavailable").Inc()
		log.Printf("Paystack %s request failed: %v", op, err)
		return nil, newError(KindGatewayUnavailable, err, "paystack %s request failed", op)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "unavailable").Inc()
		return nil, newError(KindGatewayUnavailable, err, "failed to read paystack %s response", op)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.GatewayRequests.WithLabelValues(op, "invalid").Inc()
		log.Printf("Paystack %s failed with status %d: %s", op, resp.StatusCode, string(body))
		return nil, newError(KindGatewayResponseInvalid, nil, "paystack %s returned status %d", op, resp.StatusCode)
	}

	metrics.GatewayRequests.WithLabelValues(op, "ok").Inc()
	return body, nil
}

// parseGatewayTime accepts the timestamp formats Paystack uses and returns nil
// for anything else.
func parseGatewayTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

func maskEmail(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return "****"
	}
	if len(parts[0]) > 3 {
		return parts[0][:3] + "****@" + parts[1]
	}
	return "****@" + parts[1]
}
