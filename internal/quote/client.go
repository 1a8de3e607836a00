package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/solana"
)

const (
	defaultQuoteURL = "https://quote-api.jup.ag/v6/quote"
	defaultSwapURL  = "https://quote-api.jup.ag/v6/swap"

	maxRetries   = 2
	retryBackoff = 500 * time.Millisecond
)

// ClientConfig configures the live aggregator client.
type ClientConfig struct {
	QuoteURL string
	SwapURL  string
	Timeout  time.Duration
}

// Client is the live Jupiter V6 client. Implements Service.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client

	quoteCount   atomic.Int64
	swapCount    atomic.Int64
	errorCount   atomic.Int64
	avgLatencyMs atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool
}

// NewClient creates a live quote client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.QuoteURL == "" {
		cfg.QuoteURL = defaultQuoteURL
	}
	if cfg.SwapURL == "" {
		cfg.SwapURL = defaultSwapURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	RoutePlan      []struct {
		Percent int `json:"percent"`
	} `json:"routePlan"`
}

// GetQuote fetches the best route. An empty route plan maps to ErrNoRoute.
func (c *Client) GetQuote(ctx context.Context, params Request) (*Quote, error) {
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("quote: circuit breaker open")
	}

	start := time.Now()

	queryURL, err := url.Parse(c.cfg.QuoteURL)
	if err != nil {
		return nil, fmt.Errorf("quote: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", string(params.InputMint))
	q.Set("outputMint", string(params.OutputMint))
	q.Set("amount", params.AmountRaw.StringFixed(0))
	q.Set("slippageBps", fmt.Sprintf("%d", params.SlippageBps))
	q.Set("onlyDirectRoutes", "false")
	queryURL.RawQuery = q.Encode()

	var body []byte
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("quote: create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("quote: http error: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("quote: read response: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if resp.StatusCode == 429 {
			lastErr = fmt.Errorf("quote: rate limited (429)")
			c.errorCount.Add(1)
			continue
		}
		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("quote: HTTP %d: %s (mint=%s)", resp.StatusCode, string(body), params.OutputMint)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		c.resetErrors()
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("quote: failed after %d attempts: %w", maxRetries+1, lastErr)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("quote: parse response: %w", err)
	}
	if len(parsed.RoutePlan) == 0 || parsed.OutAmount == "" || parsed.OutAmount == "0" {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, params.InputMint, params.OutputMint)
	}

	inAmount, err := decimal.NewFromString(parsed.InAmount)
	if err != nil {
		return nil, fmt.Errorf("quote: parse inAmount %q: %w", parsed.InAmount, err)
	}
	outAmount, err := decimal.NewFromString(parsed.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("quote: parse outAmount %q: %w", parsed.OutAmount, err)
	}

	latency := time.Since(start).Milliseconds()
	c.quoteCount.Add(1)
	c.avgLatencyMs.Store(latency)

	log.Debug().
		Str("in", shorten(parsed.InputMint)).
		Str("out", shorten(parsed.OutputMint)).
		Str("in_amount", parsed.InAmount).
		Str("out_amount", parsed.OutAmount).
		Str("price_impact", parsed.PriceImpactPct).
		Int64("latency_ms", latency).
		Msg("quote: received")

	return &Quote{
		InputMint:      solana.Pubkey(parsed.InputMint),
		OutputMint:     solana.Pubkey(parsed.OutputMint),
		InAmountRaw:    inAmount,
		OutAmountRaw:   outAmount,
		PriceImpactPct: parsed.PriceImpactPct,
		Raw:            json.RawMessage(body),
	}, nil
}

type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSOL              bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts             bool            `json:"useSharedAccounts"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
	AsLegacyTransaction           bool            `json:"asLegacyTransaction"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// BuildSwapTx builds an unsigned swap transaction from a quote.
func (c *Client) BuildSwapTx(ctx context.Context, q *Quote, user solana.Pubkey, priorityFee uint64) (*SwapTx, error) {
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("quote: circuit breaker open")
	}

	body, err := json.Marshal(swapRequest{
		QuoteResponse:                 q.Raw,
		UserPublicKey:                 string(user),
		WrapAndUnwrapSOL:              true,
		UseSharedAccounts:             true,
		ComputeUnitPriceMicroLamports: priorityFee,
		AsLegacyTransaction:           false,
		DynamicComputeUnitLimit:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("quote: marshal swap request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.SwapURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("quote: create swap request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("quote: swap http error: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("quote: read swap response: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("quote: swap HTTP %d: %s", resp.StatusCode, string(respBody))
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		var parsed swapResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("quote: parse swap response: %w", err)
		}
		if parsed.SwapTransaction == "" {
			return nil, fmt.Errorf("quote: swap response missing transaction")
		}

		c.resetErrors()
		c.swapCount.Add(1)
		return &SwapTx{
			TxBase64:             parsed.SwapTransaction,
			LastValidBlockHeight: parsed.LastValidBlockHeight,
		}, nil
	}

	return nil, fmt.Errorf("quote: swap build failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (c *Client) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count >= 5 {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("quote: circuit breaker open")
			go func() {
				time.Sleep(30 * time.Second)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Msg("quote: circuit breaker reset")
			}()
		}
	}
}

func (c *Client) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// Stats is a snapshot of client counters.
type Stats struct {
	QuoteCount   int64 `json:"quote_count"`
	SwapCount    int64 `json:"swap_count"`
	ErrorCount   int64 `json:"error_count"`
	AvgLatencyMs int64 `json:"avg_latency_ms"`
	CircuitOpen  bool  `json:"circuit_open"`
}

func (c *Client) Stats() Stats {
	return Stats{
		QuoteCount:   c.quoteCount.Load(),
		SwapCount:    c.swapCount.Load(),
		ErrorCount:   c.errorCount.Load(),
		AvgLatencyMs: c.avgLatencyMs.Load(),
		CircuitOpen:  c.circuitOpen.Load(),
	}
}

func shorten(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:8]
}
