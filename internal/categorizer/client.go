package categorizer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ClientConfig configures the live metadata client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Chain   string
	Timeout time.Duration
}

// DefaultClientConfig returns production settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "https://public-api.birdeye.so",
		Chain:   "solana",
		Timeout: 10 * time.Second,
	}
}

// Client fetches token metadata over HTTP. Implements MetadataProvider.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates a live metadata client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultClientConfig().BaseURL
	}
	if cfg.Chain == "" {
		cfg.Chain = "solana"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type overviewResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Name       string `json:"name"`
		Symbol     string `json:"symbol"`
		Extensions struct {
			Description string `json:"description"`
		} `json:"extensions"`
	} `json:"data"`
}

// TokenMetadata implements MetadataProvider.
func (c *Client) TokenMetadata(ctx context.Context, mint string) (Metadata, error) {
	q := url.Values{}
	q.Set("address", mint)

	endpoint := c.cfg.BaseURL + "/defi/token_overview?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("categorizer: build request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.cfg.APIKey)
	req.Header.Set("x-chain", c.cfg.Chain)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("categorizer: token_overview: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Metadata{}, fmt.Errorf("categorizer: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("categorizer: token_overview: status %d", resp.StatusCode)
	}

	var parsed overviewResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Metadata{}, fmt.Errorf("categorizer: decode response: %w", err)
	}
	if !parsed.Success {
		return Metadata{}, fmt.Errorf("categorizer: token_overview: upstream reported failure")
	}

	return Metadata{
		Name:        parsed.Data.Name,
		Symbol:      parsed.Data.Symbol,
		Description: parsed.Data.Extensions.Description,
	}, nil
}
