package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketsJSON = `[
  {"uuid":"m-1","base_mint":"So11111111111111111111111111111111111111112","quote_mint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","name":"SOL-PERP","created_at":1,"kind":"perp","base_decimals":9,"quote_decimals":6},
  {"uuid":"m-2","base_mint":"b","quote_mint":"q","name":"BTC-PERP","created_at":2}
]`

func newTestClient(t *testing.T, h http.Handler) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)
	c.RetryInterval = time.Millisecond
	return c
}

func TestListAndGetMarket(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		w.Write([]byte(marketsJSON))
	}))

	markets, err := c.ListMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, uint8(9), markets[0].BaseDecimals)
	assert.Equal(t, uint8(0), markets[1].BaseDecimals)

	m, err := c.GetMarket(context.Background(), "m-2")
	require.NoError(t, err)
	assert.Equal(t, "BTC-PERP", m.Name)

	_, err = c.GetMarket(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMarketNotFound)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"block_height":7,"applied_batches":3}`))
	}))

	st, err := c.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), st.BlockHeight)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	c.MaxRetries = 2

	_, err := c.GetStatus(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.GetOrderbook(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMarketNotFound)
	assert.Equal(t, int32(1), calls.Load())

	var se *StatusError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
}

func TestUnknownAccountIsEmpty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	acct, err := c.GetAccount(context.Background(), "owner1")
	require.NoError(t, err)
	assert.Equal(t, "owner1", acct.Owner)
	assert.True(t, acct.USDCCollateral.IsZero())

	bal, err := c.GetBalances(context.Background(), "owner1")
	require.NoError(t, err)
	assert.Empty(t, bal)
}

func TestAccountDecodesDecimals(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/owner1", r.URL.Path)
		w.Write([]byte(`{"owner":"owner1","usdc_collateral":1000.25,"equity_snapshot":990.5}`))
	}))

	acct, err := c.GetAccount(context.Background(), "owner1")
	require.NoError(t, err)
	assert.Equal(t, "1000.25", acct.USDCCollateral.String())
	require.NotNil(t, acct.EquitySnapshot)
	assert.Equal(t, "990.5", acct.EquitySnapshot.String())
	assert.Nil(t, acct.FreeCollateralSnapshot)
}

func TestPositionsOwnerFilter(t *testing.T) {
	var query string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(`[{"owner":"o","market_id":"m-1","base_position":"1.5","average_entry_price":"180","mark_price":"185","realized_pnl":"0","unrealized_pnl":"7.5"}]`))
	}))

	pos, err := c.GetPositions(context.Background(), "o")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, "owner=o", query)
	assert.Equal(t, "7.5", pos[0].UnrealizedPnL)

	_, err = c.GetPositions(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, query)
}

func TestMarketScopedReads(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/m-1/orderbook":
			w.Write([]byte(`{"buys":[{"order_id":1,"owner":"o","price":185500000,"quantity":1000000000,"side":"Buy","expiry":0}],"sells":[]}`))
		case "/markets/m-1/depth":
			w.Write([]byte(`{"lastUpdateId":4,"bids":[["185.5","1"]],"asks":[]}`))
		case "/markets/m-1/trades":
			w.Write([]byte(`[{"buyer_owner":"a","seller_owner":"b","price":1,"quantity":2,"timestamp":3,"base_mint":"x","quote_mint":"y"}]`))
		case "/markets/m-1/funding":
			w.Write([]byte(`[{"market_id":"m-1","timestamp":1,"interval_seconds":3600,"mark_price":1,"index_price":1,"premium_rate_bps":-2,"funding_rate_bps":1,"total_payment":"0"}]`))
		case "/orders/user/o":
			w.Write([]byte(`[{"order_id":9,"market_id":"m-1","owner":"o","side":"Sell","price":1,"quantity":1,"expiry":0}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	ob, err := c.GetOrderbook(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(185_500_000), ob.Buys[0].Price)

	depth, err := c.GetDepth(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), depth.LastUpdateID)
	assert.Equal(t, [2]string{"185.5", "1"}, depth.Bids[0])

	trades, err := c.GetTrades(ctx, "m-1")
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	funding, err := c.GetFunding(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(-2), funding[0].PremiumRateBps)

	orders, err := c.GetUserOrders(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), orders[0].OrderID)
}
