package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ticketwatch/internal/types"
)

// PurchaseClientConfig holds the configuration for a PurchaseExecutionClient.
type PurchaseClientConfig struct {
	BaseURL string
	APIKey  types.SecretString
	Timeout time.Duration
}

// PurchaseExecutionClient hands purchase intents to the external execution
// service over HTTP. The service owns checkout; this client only submits.
type PurchaseExecutionClient struct {
	base    *BaseClient
	baseURL string
	apiKey  types.SecretString
}

// NewPurchaseExecutionClient creates a client with its own circuit breaker.
func NewPurchaseExecutionClient(cfg PurchaseClientConfig, opts ...BaseClientOption) *PurchaseExecutionClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := NewBaseClient(
		&http.Client{Timeout: timeout},
		"purchase-execution",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"TicketWatch/1.0",
		opts...,
	)
	return &PurchaseExecutionClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

// Submit POSTs the intent to /v1/intents. The intent ID is sent as the
// Idempotency-Key so a redriven intent is accepted at most once. A 409 from
// the executor means it already holds the intent and counts as success.
func (c *PurchaseExecutionClient) Submit(ctx context.Context, msg types.PurchaseIntentMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to serialize purchase intent", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/intents", bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build purchase request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.IntentID)
	if key := c.apiKey.Unmask(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusConflict:
		return nil
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamPurchase,
			fmt.Sprintf("purchase executor rejected intent with %d", resp.StatusCode), nil,
			map[string]any{"intent_id": msg.IntentID, "body": string(detail)})
	}
}
