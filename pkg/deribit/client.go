// Package deribit fetches option chains and index prices from the Deribit
// public API.
package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/phenomenon0/polymarket-options-edge/pkg/options"
)

const (
	// DefaultBaseURL is the Deribit production API base URL
	DefaultBaseURL = "https://www.deribit.com"

	// Public endpoints allow ~20 rps per IP; stay well below.
	defaultRateLimit = 5.0
	defaultBurst     = 5
)

// Client is a Deribit public API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets custom rate limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a new Deribit client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BookSummary is one entry of get_book_summary_by_currency.
type BookSummary struct {
	InstrumentName  string   `json:"instrument_name"`
	MarkIV          *float64 `json:"mark_iv"`
	BidPrice        *float64 `json:"bid_price"`
	AskPrice        *float64 `json:"ask_price"`
	MarkPrice       *float64 `json:"mark_price"`
	UnderlyingPrice *float64 `json:"underlying_price"`
	OpenInterest    float64  `json:"open_interest"`
}

// Quote converts the summary to an option quote. A missing mark IV becomes 0.
func (b BookSummary) Quote() options.Quote {
	q := options.Quote{
		InstrumentName: b.InstrumentName,
		Bid:            b.BidPrice,
		Ask:            b.AskPrice,
	}
	if b.MarkIV != nil {
		q.IV = *b.MarkIV
	}
	return q
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// GetBookSummaries fetches the option book summaries for a currency.
func (c *Client) GetBookSummaries(ctx context.Context, currency string) ([]BookSummary, error) {
	params := url.Values{}
	params.Set("currency", strings.ToUpper(currency))
	params.Set("kind", "option")

	var summaries []BookSummary
	if err := c.get(ctx, "/api/v2/public/get_book_summary_by_currency", params, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetOptionChain fetches every listed option of a currency as quotes.
func (c *Client) GetOptionChain(ctx context.Context, currency string) ([]options.Quote, error) {
	summaries, err := c.GetBookSummaries(ctx, currency)
	if err != nil {
		return nil, err
	}

	chain := make([]options.Quote, 0, len(summaries))
	for _, s := range summaries {
		chain = append(chain, s.Quote())
	}
	return chain, nil
}

// GetIndexPrice fetches an index price, e.g. "btc_usd".
func (c *Client) GetIndexPrice(ctx context.Context, indexName string) (float64, error) {
	params := url.Values{}
	params.Set("index_name", strings.ToLower(indexName))

	var result struct {
		IndexPrice float64 `json:"index_price"`
	}
	if err := c.get(ctx, "/api/v2/public/get_index_price", params, &result); err != nil {
		return 0, err
	}
	if result.IndexPrice <= 0 {
		return 0, fmt.Errorf("index %s: non-positive price %v", indexName, result.IndexPrice)
	}
	return result.IndexPrice, nil
}

// IndexName returns the USD index for a currency ("BTC" -> "btc_usd").
func IndexName(currency string) string {
	return strings.ToLower(currency) + "_usd"
}

// get performs a GET request with rate limiting and unwraps the JSON-RPC envelope.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("api error %d: %s", resp.StatusCode, string(body))
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Error != nil {
		return fmt.Errorf("api error %d: %s", env.Error.Code, env.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
