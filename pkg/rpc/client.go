package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/uhyunpark/perpgate/pkg/util"
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrUnavailable    = errors.New("read node unavailable")
)

// StatusError is a non-retryable HTTP error from the read node
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d: %s", e.Path, e.Status, e.Body)
}

// Client reads market and account state from the rollup read node.
// GETs are idempotent, so transport errors and 5xx are retried with
// exponential backoff; 4xx are final.
type Client struct {
	baseURL string

	HTTPClient    *http.Client
	MaxRetries    int
	RetryInterval time.Duration
	Logger        *zap.SugaredLogger
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
		MaxRetries:    3,
		RetryInterval: 200 * time.Millisecond,
		Logger:        zap.NewNop().Sugar(),
	}
}

// BaseURL returns the read node endpoint
func (c *Client) BaseURL() string { return c.baseURL }

// ListMarkets returns all markets
func (c *Client) ListMarkets(ctx context.Context) ([]MarketInfo, error) {
	var out []MarketInfo
	if err := c.get(ctx, "/markets", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	return out, nil
}

// GetMarket finds a market by UUID
func (c *Client) GetMarket(ctx context.Context, marketID string) (*MarketInfo, error) {
	markets, err := c.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	for i := range markets {
		if markets[i].UUID == marketID {
			return &markets[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
}

func (c *Client) GetOrderbook(ctx context.Context, marketID string) (*Orderbook, error) {
	var out Orderbook
	if err := c.getMarketScoped(ctx, marketID, "orderbook", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetDepth(ctx context.Context, marketID string) (*Depth, error) {
	var out Depth
	if err := c.getMarketScoped(ctx, marketID, "depth", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetTrades(ctx context.Context, marketID string) ([]Trade, error) {
	var out []Trade
	if err := c.getMarketScoped(ctx, marketID, "trades", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetFunding(ctx context.Context, marketID string) ([]FundingEvent, error) {
	var out []FundingEvent
	if err := c.getMarketScoped(ctx, marketID, "funding", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAccount returns the account summary; an unknown account yields an empty summary
func (c *Client) GetAccount(ctx context.Context, owner string) (*AccountSummary, error) {
	var out AccountSummary
	err := c.get(ctx, "/accounts/"+url.PathEscape(owner), nil, &out)
	if isClientError(err) {
		return &AccountSummary{Owner: owner}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	return &out, nil
}

// GetBalances returns token balances; an unknown owner yields no balances
func (c *Client) GetBalances(ctx context.Context, owner string) (Balances, error) {
	out := Balances{}
	err := c.get(ctx, "/balances/"+url.PathEscape(owner), nil, &out)
	if isClientError(err) {
		return Balances{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}
	return out, nil
}

// GetPositions returns positions, filtered by owner when non-empty
func (c *Client) GetPositions(ctx context.Context, owner string) ([]Position, error) {
	var params url.Values
	if owner != "" {
		params = url.Values{"owner": {owner}}
	}
	var out []Position
	if err := c.get(ctx, "/positions", params, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	return out, nil
}

// GetUserOrders returns open orders of an owner
func (c *Client) GetUserOrders(ctx context.Context, owner string) ([]OpenOrder, error) {
	var out []OpenOrder
	if err := c.get(ctx, "/orders/user/"+url.PathEscape(owner), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}
	return out, nil
}

func (c *Client) GetStatus(ctx context.Context) (*NodeStatus, error) {
	var out NodeStatus
	if err := c.get(ctx, "/status", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch status: %w", err)
	}
	return &out, nil
}

func (c *Client) getMarketScoped(ctx context.Context, marketID, resource string, out any) error {
	err := c.get(ctx, "/markets/"+url.PathEscape(marketID)+"/"+resource, nil, out)
	if isClientError(err) {
		return fmt.Errorf("%w: %s: %w", ErrMarketNotFound, marketID, err)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", resource, err)
	}
	return nil
}

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status >= 400 && se.Status < 500
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return struct{}{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		switch {
		case resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("%w: GET %s: HTTP %d", ErrUnavailable, path, resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return struct{}{}, backoff.Permanent(&StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))})
		}

		if err := json.Unmarshal(body, out); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to decode %s: %w", path, err))
		}
		return struct{}{}, nil
	}

	tries := uint(1)
	if c.MaxRetries > 0 {
		tries += uint(c.MaxRetries)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			util.OrNop(c.Logger).Debugw("read_retry", "path", path, "err", err, "next", next)
		}),
	)
	return err
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.RetryInterval > 0 {
		b.InitialInterval = c.RetryInterval
	}
	return b
}
