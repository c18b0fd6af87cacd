// Package jupiter adapts the Jupiter aggregator HTTP APIs to the domain
// PriceFeed and SwapExecutor ports. Signing and broadcasting are delegated
// to an external signer service; this process never holds key material.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avelov/sellbot/internal/domain"
)

// rateLimitKey buckets all Jupiter calls under one shared budget.
const rateLimitKey = "jupiter"

// Config holds the endpoints and limits for the Jupiter client.
type Config struct {
	PriceURL  string // price API root, e.g. https://lite-api.jup.ag/price/v2
	QuoteURL  string // quote/swap API root, e.g. https://lite-api.jup.ag/swap/v1
	SignerURL string // external signer service root
	// RequestsPerSecond caps calls against the shared rate limiter. Zero
	// disables throttling.
	RequestsPerSecond int
}

// Client implements domain.PriceFeed and domain.SwapExecutor.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter
}

// New creates a Jupiter client. limiter may be nil, in which case requests
// are not throttled.
func New(cfg Config, limiter domain.RateLimiter) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
	}
}

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil || c.cfg.RequestsPerSecond <= 0 {
		return nil
	}
	for {
		allowed, err := c.limiter.Allow(ctx, rateLimitKey, c.cfg.RequestsPerSecond, time.Second)
		if err != nil {
			// A broken limiter should not take trading down with it.
			return nil
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

type priceResponse struct {
	Data map[string]struct {
		ID    string `json:"id"`
		Price string `json:"price"`
	} `json:"data"`
}

// GetPrice returns the USD price for a single mint. It returns
// domain.ErrNotFound when the feed has no quote for the mint.
func (c *Client) GetPrice(ctx context.Context, mint string) (float64, error) {
	prices, err := c.GetPrices(ctx, []string{mint})
	if err != nil {
		return 0, err
	}
	price, ok := prices[mint]
	if !ok {
		return 0, fmt.Errorf("jupiter: price for %s: %w", mint, domain.ErrNotFound)
	}
	return price, nil
}

// GetPrices returns USD prices for the given mints in one call. Mints the
// feed has no quote for are omitted from the result map.
func (c *Client) GetPrices(ctx context.Context, mints []string) (map[string]float64, error) {
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(mints, ","))

	body, err := c.doGet(ctx, c.cfg.PriceURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("jupiter: get prices: %v: %w", err, domain.ErrExternal)
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: decode prices: %v: %w", err, domain.ErrExternal)
	}

	result := make(map[string]float64, len(resp.Data))
	for mint, entry := range resp.Data {
		price, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil {
			continue
		}
		result[mint] = price
	}
	return result, nil
}

type quoteResponse struct {
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
}

// Quote fetches an executable route for swapping amount of inputMint into
// outputMint. The raw quote payload rides along in the returned SwapQuote so
// submission replays exactly what was quoted.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (domain.SwapQuote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(toRawUnits(amount), 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))

	body, err := c.doGet(ctx, c.cfg.QuoteURL+"/quote?"+params.Encode())
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: quote %s->%s: %v: %w", inputMint, outputMint, err, domain.ErrExternal)
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: decode quote: %v: %w", err, domain.ErrExternal)
	}

	inRaw, _ := strconv.ParseFloat(resp.InAmount, 64)
	outRaw, _ := strconv.ParseFloat(resp.OutAmount, 64)
	quote := domain.SwapQuote{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		InAmount:    fromRawUnits(inRaw),
		OutAmount:   fromRawUnits(outRaw),
		SlippageBps: slippageBps,
		Route:       body,
	}
	if quote.OutAmount > 0 {
		quote.Price = quote.InAmount / quote.OutAmount
	}
	return quote, nil
}

type swapRequest struct {
	QuoteResponse json.RawMessage `json:"quoteResponse"`
	UserPublicKey string          `json:"userPublicKey"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// BuildUnsigned prepares the serialized, unsigned swap transaction for the
// owner. Used by the approval flow, where a human co-signs out of band.
func (c *Client) BuildUnsigned(ctx context.Context, quote domain.SwapQuote, ownerKey string) ([]byte, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse: quote.Route,
		UserPublicKey: ownerKey,
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: encode swap request: %w", err)
	}

	body, err := c.doPost(ctx, c.cfg.QuoteURL+"/swap", payload)
	if err != nil {
		return nil, fmt.Errorf("jupiter: build swap: %v: %w", err, domain.ErrExternal)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: decode swap: %v: %w", err, domain.ErrExternal)
	}
	if resp.SwapTransaction == "" {
		return nil, fmt.Errorf("jupiter: empty swap transaction: %w", domain.ErrExternal)
	}
	return []byte(resp.SwapTransaction), nil
}

type signRequest struct {
	Transaction string `json:"transaction"`
	WalletKey   string `json:"wallet_key"`
}

type signResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error"`
}

// BuildAndSubmit builds the swap transaction, hands it to the external
// signer service for signing and broadcast, and returns the transaction
// signature. A non-empty signature must be treated as possibly-broadcast
// even when an error accompanies it.
func (c *Client) BuildAndSubmit(ctx context.Context, quote domain.SwapQuote, signerKey string) (string, error) {
	unsigned, err := c.BuildUnsigned(ctx, quote, signerKey)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(signRequest{
		Transaction: string(unsigned),
		WalletKey:   signerKey,
	})
	if err != nil {
		return "", fmt.Errorf("jupiter: encode sign request: %w", err)
	}

	body, err := c.doPost(ctx, c.cfg.SignerURL+"/sign-and-send", payload)
	if err != nil {
		return "", fmt.Errorf("jupiter: sign and send: %v: %w", err, domain.ErrExternal)
	}

	var resp signResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("jupiter: decode signer response: %v: %w", err, domain.ErrExternal)
	}
	if resp.Error != "" {
		return resp.Signature, fmt.Errorf("jupiter: signer: %s: %w", resp.Error, domain.ErrExternal)
	}
	if resp.Signature == "" {
		return "", fmt.Errorf("jupiter: signer returned no signature: %w", domain.ErrExternal)
	}
	return resp.Signature, nil
}

func (c *Client) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

func (c *Client) doPost(ctx context.Context, rawURL string, payload []byte) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Every amount crosses this boundary scaled by a fixed 1e9, SOL's native
// decimals. Token amounts therefore circulate as raw units over 1e9 rather
// than the mint's own decimals: they enter as quote outputs and the scale
// cancels exactly when they come back in on a sell quote. Operator-supplied
// sell amounts must use the same scale as Position.TokenAmount.
const rawUnitDecimals = 1e9

func toRawUnits(amount float64) uint64 {
	if amount <= 0 {
		return 0
	}
	return uint64(amount * rawUnitDecimals)
}

func fromRawUnits(raw float64) float64 {
	return raw / rawUnitDecimals
}

var (
	_ domain.PriceFeed    = (*Client)(nil)
	_ domain.SwapExecutor = (*Client)(nil)
)
