package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/perpgate/pkg/market"
	"github.com/uhyunpark/perpgate/pkg/rpc"
	"github.com/uhyunpark/perpgate/pkg/sequencer"
)

// BookLevel is a resting order in human units
type BookLevel struct {
	OrderID  uint64          `json:"order_id"`
	Owner    string          `json:"owner"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Expiry   uint64          `json:"expiry,omitempty"`
}

// Book is an order book snapshot with prices in quote and quantities in base units
type Book struct {
	MarketID string      `json:"market_id"`
	Bids     []BookLevel `json:"bids"`
	Asks     []BookLevel `json:"asks"`
}

// Markets lists the registered markets, loading them on first use
func (c *Client) Markets(ctx context.Context) ([]*market.Market, error) {
	if c.registry.Count() == 0 {
		if err := c.RefreshMarkets(ctx); err != nil {
			return nil, err
		}
	}
	return c.registry.List(), nil
}

func (c *Client) Market(ctx context.Context, marketID string) (*market.Market, error) {
	m, err := c.lookupMarket(ctx, marketID)
	return m, wrap("market", err)
}

func (c *Client) Orderbook(ctx context.Context, marketID string) (*Book, error) {
	const op = "orderbook"

	m, err := c.lookupMarket(ctx, marketID)
	if err != nil {
		return nil, wrap(op, err)
	}
	ob, err := c.reads.GetOrderbook(ctx, m.ID)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &Book{
		MarketID: m.ID,
		Bids:     levels(m, ob.Buys),
		Asks:     levels(m, ob.Sells),
	}, nil
}

func levels(m *market.Market, entries []rpc.OrderbookEntry) []BookLevel {
	out := make([]BookLevel, 0, len(entries))
	for _, e := range entries {
		out = append(out, BookLevel{
			OrderID:  e.OrderID,
			Owner:    e.Owner,
			Price:    m.Price(e.Price),
			Quantity: m.Quantity(e.Quantity),
			Expiry:   e.Expiry,
		})
	}
	return out
}

func (c *Client) Depth(ctx context.Context, marketID string) (*rpc.Depth, error) {
	d, err := c.reads.GetDepth(ctx, marketID)
	return d, wrap("depth", err)
}

func (c *Client) Trades(ctx context.Context, marketID string) ([]rpc.Trade, error) {
	t, err := c.reads.GetTrades(ctx, marketID)
	return t, wrap("trades", err)
}

func (c *Client) Funding(ctx context.Context, marketID string) ([]rpc.FundingEvent, error) {
	f, err := c.reads.GetFunding(ctx, marketID)
	return f, wrap("funding", err)
}

// Positions returns this owner's positions
func (c *Client) Positions(ctx context.Context) ([]rpc.Position, error) {
	p, err := c.reads.GetPositions(ctx, c.Owner())
	return p, wrap("positions", err)
}

// AllPositions returns positions of every owner
func (c *Client) AllPositions(ctx context.Context) ([]rpc.Position, error) {
	p, err := c.reads.GetPositions(ctx, "")
	return p, wrap("all_positions", err)
}

// OpenOrders returns this owner's resting orders
func (c *Client) OpenOrders(ctx context.Context) ([]rpc.OpenOrder, error) {
	o, err := c.reads.GetUserOrders(ctx, c.Owner())
	return o, wrap("open_orders", err)
}

func (c *Client) Account(ctx context.Context) (*rpc.AccountSummary, error) {
	a, err := c.reads.GetAccount(ctx, c.Owner())
	return a, wrap("account", err)
}

func (c *Client) Balances(ctx context.Context) (rpc.Balances, error) {
	b, err := c.reads.GetBalances(ctx, c.Owner())
	return b, wrap("balances", err)
}

func (c *Client) NodeStatus(ctx context.Context) (*rpc.NodeStatus, error) {
	s, err := c.reads.GetStatus(ctx)
	return s, wrap("node_status", err)
}

func (c *Client) SequencerStatus(ctx context.Context) (*sequencer.Status, error) {
	s, err := c.engine.Status(ctx)
	return s, wrap("sequencer_status", err)
}

// WaitForTick polls the sequencer until its tick reaches tick.
// ExpectedTick is a hint: reaching it does not mean the order is on the book.
func (c *Client) WaitForTick(ctx context.Context, tick uint64, poll time.Duration) (*sequencer.Status, error) {
	const op = "wait_for_tick"
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	for {
		st, err := c.engine.Status(ctx)
		if err != nil {
			return nil, wrap(op, err)
		}
		if st.CurrentTick >= tick {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, wrap(op, ctx.Err())
		case <-c.clock.After(poll):
		}
	}
}

// Submission looks up a journaled submission by correlation id
func (c *Client) Submission(correlationID string) (*sequencer.Record, error) {
	rec, err := c.journal.Lookup(correlationID)
	return rec, wrap("submission", err)
}

// UnresolvedSubmissions returns submissions whose outcome is unknown.
// Reconcile each against OpenOrders before placing anything equivalent.
func (c *Client) UnresolvedSubmissions() ([]*sequencer.Record, error) {
	recs, err := c.journal.Unresolved()
	return recs, wrap("unresolved_submissions", err)
}

type recentJournal interface {
	Recent(limit int) ([]*sequencer.Record, error)
}

// RecentSubmissions returns the newest journaled submissions, if the journal keeps an index
func (c *Client) RecentSubmissions(limit int) ([]*sequencer.Record, error) {
	j, ok := c.journal.(recentJournal)
	if !ok {
		return nil, nil
	}
	recs, err := j.Recent(limit)
	return recs, wrap("recent_submissions", err)
}
