package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/perpgate/pkg/crypto"
	"github.com/uhyunpark/perpgate/pkg/market"
	"github.com/uhyunpark/perpgate/pkg/sequencer"
	"github.com/uhyunpark/perpgate/pkg/transaction"
	"github.com/uhyunpark/perpgate/pkg/util"
)

const testMarket = "SOL-PERP"

type submitted struct {
	TxID    string `json:"tx_id"`
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

// fakeNode serves both the read node and the sequencer
type fakeNode struct {
	t *testing.T

	mu      sync.Mutex
	sent    []submitted
	replies []func(w http.ResponseWriter, r *http.Request)
	tick    uint64
}

func (n *fakeNode) reply(fns ...func(w http.ResponseWriter, r *http.Request)) {
	n.mu.Lock()
	n.replies = append(n.replies, fns...)
	n.mu.Unlock()
}

func (n *fakeNode) submissions() []submitted {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]submitted(nil), n.sent...)
}

func (n *fakeNode) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /markets", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"uuid":"SOL-PERP","name":"SOL/USDC","kind":"perp",
			"base_mint":"` + market.SOLMint + `","quote_mint":"` + market.USDCMint + `",
			"base_decimals":9,"quote_decimals":6}]`))
	})
	mux.HandleFunc("GET /markets/SOL-PERP/orderbook", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"buys":[{"order_id":1,"owner":"o","price":185500000,"quantity":1500000000,"side":"buy"}],
			"sells":[{"order_id":2,"owner":"o","price":186000000,"quantity":250000000,"side":"sell"}]}`))
	})
	mux.HandleFunc("GET /markets/{id}/orderbook", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "market not found", http.StatusNotFound)
	})
	mux.HandleFunc("GET /positions", func(w http.ResponseWriter, r *http.Request) {
		if owner := r.URL.Query().Get("owner"); owner != "" {
			w.Write([]byte(`[{"owner":"` + owner + `","market_id":"SOL-PERP","base_position":"1.5"}]`))
			return
		}
		w.Write([]byte(`[{"owner":"a","market_id":"SOL-PERP","base_position":"1"},
			{"owner":"b","market_id":"SOL-PERP","base_position":"-1"}]`))
	})
	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		n.tick++
		tick := n.tick
		n.mu.Unlock()
		json.NewEncoder(w).Encode(sequencer.Status{CurrentTick: tick})
	})
	mux.HandleFunc("POST /v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var s submitted
		assert.NoError(n.t, json.Unmarshal(body, &s))
		assert.Equal(n.t, s.TxID, r.Header.Get(sequencer.IdempotencyHeader))

		n.mu.Lock()
		n.sent = append(n.sent, s)
		var fn func(w http.ResponseWriter, r *http.Request)
		if len(n.replies) > 0 {
			fn, n.replies = n.replies[0], n.replies[1:]
		}
		n.mu.Unlock()

		if fn == nil {
			fn = ack(7)
		}
		fn(w, r)
	})
	return mux
}

func ack(orderID uint64) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sequencer.Ack{OrderID: orderID, SequenceNumber: 100, ExpectedTick: 5, TxHash: "0xabc"})
	}
}

func status(code int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		w.Write([]byte(body))
	}
}

func newTestClient(t *testing.T, cfg Config, opts Options) (*Client, *fakeNode) {
	t.Helper()
	node := &fakeNode{t: t}
	srv := httptest.NewServer(node.handler())
	t.Cleanup(srv.Close)

	kp, err := crypto.Generate()
	require.NoError(t, err)

	cfg.ContinuumEndpoint = srv.URL
	cfg.RPCEndpoint = srv.URL
	c, err := Dial(context.Background(), cfg, kp, opts)
	require.NoError(t, err)
	return c, node
}

func solOrder(price, qty string, leverage uint64) PerpOrder {
	return PerpOrder{
		Side:     transaction.Buy,
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString(qty),
		Leverage: leverage,
	}
}

func decodeOrder(t *testing.T, s submitted) *transaction.OrderIntent {
	t.Helper()
	payload, err := hexutil.Decode(s.Payload)
	require.NoError(t, err)
	o, err := transaction.DecodeOrder(payload)
	require.NoError(t, err)
	return o
}

func TestDialLoadsMarkets(t *testing.T) {
	c, _ := newTestClient(t, Config{}, Options{})

	m, err := c.Market(context.Background(), testMarket)
	require.NoError(t, err)
	assert.Equal(t, int32(9), m.Base.Exponent)
	assert.Equal(t, int32(6), m.Quote.Exponent)
	assert.Equal(t, "SOL/USDC", m.String())
}

func TestPlaceOrderConvertsToWireUnits(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})

	res, err := c.PlaceOrder(context.Background(), testMarket, solOrder("185.50", "1.0", 10))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.OrderID)
	assert.Equal(t, uint64(100), res.SequenceNumber)
	assert.Equal(t, uint64(5), res.ExpectedTick)
	assert.Equal(t, "0xabc", res.TxHash)
	assert.NotEmpty(t, res.CorrelationID)

	sent := node.submissions()
	require.Len(t, sent, 1)
	assert.Equal(t, res.CorrelationID, sent[0].TxID)
	assert.Equal(t, "order", sent[0].Kind)

	o := decodeOrder(t, sent[0])
	assert.Equal(t, uint64(185_500_000), o.Price)
	assert.Equal(t, uint64(1_000_000_000), o.Quantity)
	assert.Equal(t, uint64(18_550_000), o.MarginAmount)
	assert.Equal(t, uint64(10), o.Leverage)
	assert.Equal(t, testMarket, o.MarketID)
	assert.Equal(t, c.keypair.Public(), o.Owner)
	assert.Zero(t, o.Expiry)
}

func TestPlaceOrderExplicitMarginAndExpiry(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c, node := newTestClient(t, Config{OrderTTL: time.Hour}, Options{Clock: util.NewManualClock(start)})

	order := solOrder("100", "2", 5)
	margin := decimal.RequireFromString("50.25")
	order.MarginAmount = &margin
	order.MarginMode = transaction.Isolated

	_, err := c.PlaceOrder(context.Background(), testMarket, order)
	require.NoError(t, err)

	o := decodeOrder(t, node.submissions()[0])
	assert.Equal(t, uint64(50_250_000), o.MarginAmount)
	assert.Equal(t, uint64(start.Add(time.Hour).Unix()), o.Expiry)
	assert.Equal(t, transaction.Isolated, o.MarginMode)
}

func TestPlaceOrderInputValidation(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})

	reduceOnlyOpen := solOrder("185.5", "1", 10)
	reduceOnlyOpen.ReduceOnly = true

	tests := []struct {
		name     string
		marketID string
		order    PerpOrder
		want     error
	}{
		{"leverage zero", testMarket, solOrder("185.5", "1", 0), transaction.ErrLeverageOutOfRange},
		{"leverage too high", testMarket, solOrder("185.5", "1", 101), transaction.ErrLeverageOutOfRange},
		{"price precision", testMarket, solOrder("185.5000001", "1", 10), nil},
		{"quantity precision", testMarket, solOrder("185.5", "0.0000000001", 10), nil},
		{"negative price", testMarket, solOrder("-1", "1", 10), nil},
		{"zero quantity", testMarket, solOrder("185.5", "0", 10), transaction.ErrInvalidQuantity},
		{"reduce only open", testMarket, reduceOnlyOpen, transaction.ErrReduceOnlyOpen},
		{"unknown market", "BTC-PERP", solOrder("185.5", "1", 10), market.ErrUnknownMarket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.PlaceOrder(context.Background(), tt.marketID, tt.order)
			require.Error(t, err)
			assert.Equal(t, InputValidation, KindOf(err), err.Error())
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
	assert.Empty(t, node.submissions(), "nothing may be sent for invalid input")
}

func TestPlaceOrderValidatesBeforeMarketLookup(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	kp, err := crypto.Generate()
	require.NoError(t, err)
	c, err := New(Config{RPCEndpoint: down.URL, ContinuumEndpoint: down.URL}, kp, Options{})
	require.NoError(t, err)

	for _, lev := range []uint64{0, 101} {
		_, err := c.PlaceOrder(context.Background(), "BTC-PERP", solOrder("185.5", "1", lev))
		assert.Equal(t, InputValidation, KindOf(err), err.Error())
		assert.ErrorIs(t, err, transaction.ErrLeverageOutOfRange)
	}

	_, err = c.PlaceOrder(context.Background(), "BTC-PERP", solOrder("0", "1", 10))
	assert.Equal(t, InputValidation, KindOf(err))
	assert.ErrorIs(t, err, transaction.ErrInvalidPrice)

	// a valid order still needs the market, and the read node is down
	_, err = c.PlaceOrder(context.Background(), "BTC-PERP", solOrder("185.5", "1", 10))
	assert.Equal(t, TransportFailure, KindOf(err))
}

func TestPlaceOrderRejectsPreEpochExpiry(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})

	order := solOrder("185.5", "1", 10)
	order.Expiry = time.Unix(-1, 0)

	_, err := c.PlaceOrder(context.Background(), testMarket, order)
	assert.Equal(t, InputValidation, KindOf(err))
	assert.ErrorIs(t, err, transaction.ErrInvalidExpiry)
	assert.Empty(t, node.submissions())
}

func TestPlaceOrderLeverageBounds(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})

	for _, lev := range []uint64{1, 100} {
		_, err := c.PlaceOrder(context.Background(), testMarket, solOrder("185.5", "1", lev))
		require.NoError(t, err)
	}
	assert.Len(t, node.submissions(), 2)
}

func TestPlaceOrderRejected(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})
	node.reply(status(http.StatusUnprocessableEntity, `{"code":"INSUFFICIENT_MARGIN","message":"need more"}`))

	_, err := c.PlaceOrder(context.Background(), testMarket, solOrder("185.5", "1", 10))
	require.Error(t, err)
	assert.Equal(t, SequencerRejection, KindOf(err))

	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, sequencer.CodeInsufficientMargin, ge.Code)
	assert.Equal(t, "place_order", ge.Op)
	assert.False(t, ge.Temporary())
}

func TestPlaceOrderTimeoutIsTransportFailure(t *testing.T) {
	c, node := newTestClient(t, Config{SubmitTimeout: 50 * time.Millisecond}, Options{})
	node.reply(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	_, err := c.PlaceOrder(context.Background(), testMarket, solOrder("185.5", "1", 10))
	require.Error(t, err)
	assert.Equal(t, TransportFailure, KindOf(err))
	assert.ErrorIs(t, err, sequencer.ErrTransportFailed)

	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.True(t, ge.Temporary())

	unresolved, err := c.UnresolvedSubmissions()
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, sequencer.TransportFailed, unresolved[0].State)
	assert.Equal(t, "185.5", unresolved[0].Labels["price"])
}

func TestPlaceOrderNeverResent(t *testing.T) {
	c, node := newTestClient(t, Config{CancelRetries: 3}, Options{})
	node.reply(status(http.StatusServiceUnavailable, ""))

	_, err := c.PlaceOrder(context.Background(), testMarket, solOrder("185.5", "1", 10))
	assert.Equal(t, TransportFailure, KindOf(err))
	assert.Len(t, node.submissions(), 1)
}

func TestPlaceOrderMissingTxHash(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})
	node.reply(status(http.StatusOK, `{"order_id":1,"sequence_number":2,"expected_tick":3}`))

	_, err := c.PlaceOrder(context.Background(), testMarket, solOrder("185.5", "1", 10))
	assert.Equal(t, TransportFailure, KindOf(err))
	assert.ErrorIs(t, err, sequencer.ErrProtocolViolation)
}

func TestPlaceOrderCanceledContext(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.PlaceOrder(ctx, testMarket, solOrder("185.5", "1", 10))
	assert.Equal(t, Canceled, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, node.submissions())
}

func TestPrepareOrderSendsNothing(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})

	msg, err := c.PrepareOrder(context.Background(), testMarket, solOrder("185.5", "1", 10))
	require.NoError(t, err)
	assert.True(t, msg.Verify())
	assert.Equal(t, transaction.KindOrder, msg.Kind)
	assert.Empty(t, node.submissions())

	recent, err := c.RecentSubmissions(10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestNewPerpOrderFromFloats(t *testing.T) {
	o, err := NewPerpOrderFromFloats(transaction.Sell, 185.5, 0.1, 3)
	require.NoError(t, err)
	assert.Equal(t, "185.5", o.Price.String())
	assert.Equal(t, "0.1", o.Quantity.String())
	assert.Equal(t, transaction.Sell, o.Side)

	_, err = NewPerpOrderFromFloats(transaction.Buy, 1, nan(), 3)
	assert.Equal(t, InputValidation, KindOf(err))
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}

func TestCancelOrderNotFound(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})
	node.reply(status(http.StatusNotFound, `{"code":"NOT_FOUND","message":"order 77 not found"}`))

	_, err := c.CancelOrder(context.Background(), testMarket, 77)
	require.Error(t, err)
	assert.Equal(t, SequencerRejection, KindOf(err))
	assert.True(t, IsOrderGone(err))

	sent := node.submissions()
	require.Len(t, sent, 1)
	assert.Equal(t, "cancel", sent[0].Kind)

	payload, err := hexutil.Decode(sent[0].Payload)
	require.NoError(t, err)
	cancel, err := transaction.DecodeCancel(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), cancel.OrderID)
}

func TestCancelOrderResendsAfterTransportFailure(t *testing.T) {
	c, node := newTestClient(t, Config{CancelRetries: 2}, Options{})
	node.reply(status(http.StatusBadGateway, ""), ack(0))

	res, err := c.CancelOrder(context.Background(), testMarket, 77)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, uint64(77), res.OrderID)

	sent := node.submissions()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].TxID, sent[1].TxID)
	assert.Equal(t, sent[0].Payload, sent[1].Payload, "a resend carries the same signed bytes")

	rec, err := c.Submission(res.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, sequencer.Acknowledged, rec.State)
	assert.Equal(t, 2, rec.Attempts)
}

func TestCancelOrderDeadlineAfterSendIsTransportFailure(t *testing.T) {
	c, node := newTestClient(t, Config{CancelRetries: 3}, Options{})
	node.reply(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := c.CancelOrder(ctx, testMarket, 77)
	require.Error(t, err)
	assert.Equal(t, TransportFailure, KindOf(err), err.Error())
	assert.ErrorIs(t, err, sequencer.ErrTransportFailed)
	assert.Len(t, node.submissions(), 1)

	unresolved, err := c.UnresolvedSubmissions()
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "77", unresolved[0].Labels["order_id"])
}

func TestCancelOrderResendStopsOnRejection(t *testing.T) {
	c, node := newTestClient(t, Config{CancelRetries: 5}, Options{})
	node.reply(status(http.StatusBadGateway, ""), status(http.StatusNotFound, `{"code":"ALREADY_CANCELLED"}`))

	_, err := c.CancelOrder(context.Background(), testMarket, 77)
	assert.Equal(t, SequencerRejection, KindOf(err))
	assert.True(t, IsOrderGone(err))
	assert.Len(t, node.submissions(), 2)
}

func TestCancelOrderWithoutRetries(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})
	node.reply(status(http.StatusBadGateway, ""))

	_, err := c.CancelOrder(context.Background(), testMarket, 77)
	assert.Equal(t, TransportFailure, KindOf(err))
	assert.Len(t, node.submissions(), 1)
}

func TestCancelBestEffortSwallowsErrors(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})
	node.reply(status(http.StatusNotFound, `{"code":"NOT_FOUND"}`))

	c.CancelBestEffort(context.Background(), testMarket, 77)
	assert.Len(t, node.submissions(), 1)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	c, node := newTestClient(t, Config{}, Options{})
	node.reply(ack(7), status(http.StatusNotFound, `{"code":"NOT_FOUND"}`))

	var events []Event
	c.Subscribe(func(ev Event) { events = append(events, ev) })

	res, err := c.PlaceOrder(context.Background(), testMarket, solOrder("185.5", "1", 10))
	require.NoError(t, err)
	_, err = c.CancelOrder(context.Background(), testMarket, 7)
	require.Error(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, res.CorrelationID, events[0].CorrelationID)
	assert.Equal(t, sequencer.Acknowledged, events[0].State)
	assert.Equal(t, uint64(7), events[0].OrderID)
	assert.Equal(t, testMarket, events[0].MarketID)
	assert.Equal(t, "order", events[0].Kind)

	assert.Equal(t, sequencer.Rejected, events[1].State)
	assert.Equal(t, "NOT_FOUND", events[1].Code)
	assert.Equal(t, "cancel", events[1].Kind)
}

func TestOrderbookInHumanUnits(t *testing.T) {
	c, _ := newTestClient(t, Config{}, Options{})

	book, err := c.Orderbook(context.Background(), testMarket)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, "185.5", book.Bids[0].Price.String())
	assert.Equal(t, "1.5", book.Bids[0].Quantity.String())
	assert.Equal(t, "186", book.Asks[0].Price.String())
	assert.Equal(t, "0.25", book.Asks[0].Quantity.String())

	_, err = c.Orderbook(context.Background(), "BTC-PERP")
	assert.Equal(t, InputValidation, KindOf(err))
}

func TestPositionsScopedToOwner(t *testing.T) {
	c, _ := newTestClient(t, Config{}, Options{})

	mine, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, c.Owner(), mine[0].Owner)

	all, err := c.AllPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[1].Owner)
}

func TestWaitForTick(t *testing.T) {
	c, _ := newTestClient(t, Config{}, Options{Clock: util.NewManualClock(time.Unix(0, 0))})

	st, err := c.WaitForTick(context.Background(), 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.CurrentTick)
}

func TestSubmissionNotFound(t *testing.T) {
	c, _ := newTestClient(t, Config{}, Options{})

	_, err := c.Submission("missing")
	assert.Equal(t, InputValidation, KindOf(err))
	assert.True(t, errors.Is(err, sequencer.ErrNotFound))
}

func TestNewRequiresKeypairAndEndpoints(t *testing.T) {
	kp, err := crypto.Generate()
	require.NoError(t, err)

	_, err = New(Config{RPCEndpoint: "http://x"}, nil, Options{})
	assert.Equal(t, InputValidation, KindOf(err))
	_, err = New(Config{ContinuumEndpoint: "http://x"}, kp, Options{})
	assert.Equal(t, InputValidation, KindOf(err))
	_, err = New(Config{RPCEndpoint: "http://x"}, kp, Options{})
	assert.Equal(t, InputValidation, KindOf(err))

	c, err := New(Config{RPCEndpoint: "http://x", ContinuumEndpoint: "http://y"}, kp, Options{})
	require.NoError(t, err)
	assert.Equal(t, kp.PublicString(), c.Owner())
}
