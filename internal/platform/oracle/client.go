// Package oracle fetches the fiat spot price used to denominate wei amounts
// in USD on the read path.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/castmarket/fidmarket/internal/domain"
)

// Client is an HTTP client for a Coinbase-style spot price endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates an oracle Client. endpoint is the full spot-price URL,
// e.g. "https://api.coinbase.com/v2/prices/ETH-USD/spot".
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SpotPrice returns the current ETH/USD price as an exact decimal.
// Transport and non-2xx failures wrap domain.ErrUpstream so non-critical
// callers can degrade to a zero price.
func (c *Client) SpotPrice(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: %w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: %w: read response: %v", domain.ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("oracle: %w: HTTP %d: %s", domain.ErrUpstream, resp.StatusCode, string(body))
	}

	var payload struct {
		Data struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("oracle: decode response: %w", err)
	}

	price, err := decimal.NewFromString(payload.Data.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: parse amount %q: %w", payload.Data.Amount, err)
	}
	return price, nil
}
