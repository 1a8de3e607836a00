package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultPageSize = 100

// ClientConfig configures the live history client.
type ClientConfig struct {
	BaseURL  string
	APIKey   string
	Chain    string
	Timeout  time.Duration
	PageSize int
}

// DefaultClientConfig returns production settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:  "https://public-api.birdeye.so",
		Chain:    "solana",
		Timeout:  15 * time.Second,
		PageSize: defaultPageSize,
	}
}

// Client fetches wallet transaction history over HTTP.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates a live history client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultClientConfig().BaseURL
	}
	if cfg.Chain == "" {
		cfg.Chain = "solana"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PageSize <= 0 || cfg.PageSize > defaultPageSize {
		cfg.PageSize = defaultPageSize
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type txListResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Solana []txItem `json:"solana"`
	} `json:"data"`
}

type txItem struct {
	TxHash        string          `json:"txHash"`
	BlockTime     string          `json:"blockTime"`
	Status        bool            `json:"status"`
	BalanceChange []balanceChange `json:"balanceChange"`
}

type balanceChange struct {
	Address  string      `json:"address"`
	Symbol   string      `json:"symbol"`
	Amount   json.Number `json:"amount"`
	Decimals int         `json:"decimals"`
}

// List implements Service. The upstream endpoint returns the most recent
// transactions; filtering to the since cursor happens client-side.
func (c *Client) List(ctx context.Context, wallet string, since time.Time) ([]TxRecord, error) {
	q := url.Values{}
	q.Set("wallet", wallet)
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))

	endpoint := c.cfg.BaseURL + "/v1/wallet/tx_list?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("history: build request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.cfg.APIKey)
	req.Header.Set("x-chain", c.cfg.Chain)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: tx_list %s: %w", shorten(wallet), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("history: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: tx_list %s: status %d", shorten(wallet), resp.StatusCode)
	}

	var parsed txListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("history: decode response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("history: tx_list %s: upstream reported failure", shorten(wallet))
	}

	var out []TxRecord
	for _, item := range parsed.Data.Solana {
		if !item.Status {
			continue
		}
		bt, err := time.Parse(time.RFC3339, item.BlockTime)
		if err != nil {
			log.Warn().Err(err).Str("tx", item.TxHash).Msg("history: unparseable block time, skipping")
			continue
		}
		if bt.Before(since) {
			continue
		}
		rec := TxRecord{Signature: item.TxHash, BlockTime: bt}
		for _, bc := range item.BalanceChange {
			amt, _ := bc.Amount.Float64()
			rec.BalanceChanges = append(rec.BalanceChanges, BalanceChange{
				Address:  bc.Address,
				Symbol:   bc.Symbol,
				Amount:   amt,
				Decimals: bc.Decimals,
			})
		}
		out = append(out, rec)
	}
	return out, nil
}

func shorten(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:8]
}
