package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bookshop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sentinel errors for the callback and initiation paths.
var (
	ErrSignatureMismatch = errors.New("callback signature mismatch")
	ErrMalformedCallback = errors.New("malformed callback payload")
)

// PaymentStatus is the gateway's settlement disposition as this service
// interprets it. Anything not confirmed success or failure is pending and
// must not move an order.
type PaymentStatus string

const (
	StatusSuccess PaymentStatus = "SUCCESS"
	StatusFailure PaymentStatus = "FAILURE"
	StatusPending PaymentStatus = "PENDING"
)

// Config holds gateway credentials and endpoints.
type Config struct {
	BaseURL       string
	MerchantID    string
	ClientID      string
	ClientSecret  string
	ClientVersion string
	SaltKey       string
	SaltIndex     int
	RedirectURL   string
	ExpireAfter   int // hosted session expiry, seconds
}

// Client talks to the hosted-checkout payment gateway. The access token is
// cached per process and refreshed on demand.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a gateway client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: util.GetLogger(),
	}
}

// InitiationResult is returned by InitiatePayment.
type InitiationResult struct {
	TransactionID string
	RedirectURL   string
}

// InitiatePayment starts a hosted-checkout session for the given order amount.
// The returned transaction id must be persisted against the order id by the
// caller before the shopper is redirected.
func (c *Client) InitiatePayment(ctx context.Context, orderID, userID string, amount int64) (*InitiationResult, error) {
	token, err := c.fetchAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain gateway token: %w", err)
	}

	transactionID := fmt.Sprintf("MTID-%s", uuid.New().String()[:8])

	payload := map[string]interface{}{
		"merchantOrderId": transactionID,
		"amount":          amount * 100, // smallest currency unit
		"expireAfter":     c.cfg.ExpireAfter,
		"metaInfo": map[string]string{
			"udf1": orderID,
			"udf2": userID,
		},
		"paymentFlow": map[string]interface{}{
			"type":    "PG_CHECKOUT",
			"message": "Payment for book order",
			"merchantUrls": map[string]string{
				"redirectUrl": fmt.Sprintf("%s?orderId=%s", c.cfg.RedirectURL, orderID),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/checkout/v2/pay", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "O-Bearer "+token)

	start := time.Now()
	resp, err := c.http.Do(req)
	util.GatewayRequestLatency.WithLabelValues("pay").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("gateway pay request failed: %w", err)
	}
	defer resp.Body.Close()

	var payResp struct {
		State       string `json:"state"`
		RedirectURL string `json:"redirectUrl"`
		Message     string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payResp); err != nil {
		return nil, fmt.Errorf("failed to decode pay response: %w", err)
	}

	if payResp.State != "PENDING" || payResp.RedirectURL == "" {
		c.logger.Error("Gateway rejected payment initiation",
			zap.String("order_id", orderID),
			zap.String("state", payResp.State),
			zap.String("message", payResp.Message))
		return nil, fmt.Errorf("gateway rejected initiation: %s", payResp.State)
	}

	c.logger.Info("Payment initiated",
		zap.String("order_id", orderID),
		zap.String("transaction_id", transactionID))

	return &InitiationResult{
		TransactionID: transactionID,
		RedirectURL:   payResp.RedirectURL,
	}, nil
}

// CheckStatus re-queries the gateway's status endpoint for a transaction. The
// callback body is never trusted on its own; only this endpoint's answer
// authorizes a transition.
func (c *Client) CheckStatus(ctx context.Context, transactionID string) (PaymentStatus, json.RawMessage, error) {
	token, err := c.fetchAccessToken(ctx)
	if err != nil {
		return StatusPending, nil, fmt.Errorf("failed to obtain gateway token: %w", err)
	}

	path := fmt.Sprintf("/pg/v1/status/%s/%s", c.cfg.MerchantID, transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return StatusPending, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", c.signPayload(path))
	req.Header.Set("X-MERCHANT-ID", c.cfg.MerchantID)
	req.Header.Set("Authorization", "O-Bearer "+token)

	start := time.Now()
	resp, err := c.http.Do(req)
	util.GatewayRequestLatency.WithLabelValues("status").Observe(time.Since(start).Seconds())
	if err != nil {
		return StatusPending, nil, fmt.Errorf("gateway status request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusPending, nil, err
	}

	var statusResp struct {
		Success bool            `json:"success"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &statusResp); err != nil {
		return StatusPending, nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	if !statusResp.Success {
		c.logger.Warn("Gateway status check unsuccessful",
			zap.String("transaction_id", transactionID),
			zap.String("message", statusResp.Message))
		return StatusPending, statusResp.Data, nil
	}

	switch statusResp.Code {
	case "PAYMENT_SUCCESS":
		return StatusSuccess, statusResp.Data, nil
	case "PAYMENT_ERROR", "PAYMENT_DECLINED", "TIMED_OUT":
		return StatusFailure, statusResp.Data, nil
	default:
		// PAYMENT_PENDING and anything unrecognized: do nothing yet.
		return StatusPending, statusResp.Data, nil
	}
}

// ParseCallback verifies the signed callback and extracts the gateway
// transaction id. A signature mismatch returns ErrSignatureMismatch and the
// caller must reject the delivery with no state change.
func (c *Client) ParseCallback(rawBody []byte, signatureHeader string) (string, error) {
	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil || envelope.Response == "" {
		return "", ErrMalformedCallback
	}

	expected := c.signPayload(envelope.Response)
	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		util.CallbackSignatureFailures.Inc()
		c.logger.Error("Callback signature mismatch",
			zap.String("received", signatureHeader))
		return "", ErrSignatureMismatch
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Response)
	if err != nil {
		return "", ErrMalformedCallback
	}

	var body struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
	}
	if err := json.Unmarshal(decoded, &body); err != nil || body.MerchantTransactionID == "" {
		return "", ErrMalformedCallback
	}

	return body.MerchantTransactionID, nil
}

// signPayload computes the keyed checksum the gateway attaches to callbacks
// and expects on status requests: SHA256(payload + saltKey) + "###" + saltIndex.
func (c *Client) signPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload + c.cfg.SaltKey))
	return fmt.Sprintf("%s###%d", hex.EncodeToString(sum[:]), c.cfg.SaltIndex)
}

// fetchAccessToken returns a cached token or fetches a fresh one.
func (c *Client) fetchAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{
		"client_id":      {c.cfg.ClientID},
		"client_version": {c.cfg.ClientVersion},
		"client_secret":  {c.cfg.ClientSecret},
		"grant_type":     {"client_credentials"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Message     string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token: %s", tokenResp.Message)
	}

	c.accessToken = tokenResp.AccessToken
	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 300
	}
	// Refresh a little early so in-flight requests don't race expiry.
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn-30) * time.Second)

	c.logger.Info("Gateway access token refreshed")
	return c.accessToken, nil
}
