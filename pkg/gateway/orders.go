package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/perpgate/pkg/crypto"
	"github.com/uhyunpark/perpgate/pkg/market"
	"github.com/uhyunpark/perpgate/pkg/sequencer"
	"github.com/uhyunpark/perpgate/pkg/transaction"
	"github.com/uhyunpark/perpgate/pkg/units"
)

// PerpOrder is an order in human units
type PerpOrder struct {
	Side           transaction.Side
	Price          decimal.Decimal // quote asset per base asset
	Quantity       decimal.Decimal // base asset
	Leverage       uint64
	PositionEffect transaction.PositionEffect
	MarginMode     transaction.MarginMode
	ReduceOnly     bool

	// MarginAmount in quote asset; nil derives price*quantity/leverage
	MarginAmount *decimal.Decimal
	// Expiry overrides the configured order TTL when non-zero
	Expiry time.Time
}

// Validate checks what can be checked without market metadata
func (o PerpOrder) Validate() error {
	switch {
	case o.Side > transaction.Sell:
		return invalidOrder(transaction.ErrInvalidEnum, "side %d", o.Side)
	case o.PositionEffect > transaction.Close:
		return invalidOrder(transaction.ErrInvalidEnum, "position effect %d", o.PositionEffect)
	case o.MarginMode > transaction.Isolated:
		return invalidOrder(transaction.ErrInvalidEnum, "margin mode %d", o.MarginMode)
	case !o.Price.IsPositive():
		return invalidOrder(transaction.ErrInvalidPrice, "got %s", o.Price)
	case !o.Quantity.IsPositive():
		return invalidOrder(transaction.ErrInvalidQuantity, "got %s", o.Quantity)
	case o.Leverage < transaction.MinLeverage || o.Leverage > transaction.MaxLeverage:
		return invalidOrder(transaction.ErrLeverageOutOfRange, "%d not in [%d, %d]", o.Leverage, transaction.MinLeverage, transaction.MaxLeverage)
	case o.ReduceOnly && o.PositionEffect != transaction.Close:
		return invalidOrder(transaction.ErrReduceOnlyOpen, "position effect %s", o.PositionEffect)
	case !o.Expiry.IsZero() && o.Expiry.Unix() < 0:
		return invalidOrder(transaction.ErrInvalidExpiry, "%s", o.Expiry.UTC().Format(time.RFC3339))
	}
	return nil
}

func invalidOrder(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", transaction.ErrInvalidIntent, sentinel, fmt.Sprintf(format, args...))
}

// NewPerpOrderFromFloats builds a PerpOrder from float inputs.
// Each float is converted to its shortest decimal exactly once, here.
func NewPerpOrderFromFloats(side transaction.Side, price, quantity float64, leverage uint64) (PerpOrder, error) {
	p, err := units.FromFloat(price)
	if err != nil {
		return PerpOrder{}, wrap("new_order", fmt.Errorf("price: %w", err))
	}
	q, err := units.FromFloat(quantity)
	if err != nil {
		return PerpOrder{}, wrap("new_order", fmt.Errorf("quantity: %w", err))
	}
	return PerpOrder{Side: side, Price: p, Quantity: q, Leverage: leverage}, nil
}

// OrderResult is the sequencer's acknowledgement of an order
type OrderResult struct {
	OrderID        uint64
	SequenceNumber uint64
	ExpectedTick   uint64 // scheduling hint, not a guarantee
	TxHash         string
	CorrelationID  string
	Digest         string // client-side payload hash
}

// CancelResult is the sequencer's acknowledgement of a cancel
type CancelResult struct {
	OrderID        uint64
	SequenceNumber uint64
	ExpectedTick   uint64
	TxHash         string
	CorrelationID  string
	Attempts       int
}

// PlaceOrder converts, signs and submits an order once.
// On TransportFailure the order may or may not be live; it is never resent.
func (c *Client) PlaceOrder(ctx context.Context, marketID string, order PerpOrder) (*OrderResult, error) {
	const op = "place_order"

	msg, labels, err := c.prepare(ctx, marketID, order)
	if err != nil {
		return nil, wrap(op, err)
	}

	sub, err := c.engine.Submit(ctx, msg, sequencer.WithLabels(labels))
	c.publish(sub, labels)
	if err != nil {
		c.log.Warnw("order_failed", "market_id", marketID, "correlation_id", correlationID(sub), "err", err)
		return nil, wrap(op, err)
	}

	c.log.Infow("order_placed",
		"market_id", marketID,
		"side", order.Side,
		"price", labels["price"],
		"quantity", labels["quantity"],
		"leverage", order.Leverage,
		"order_id", sub.Ack.OrderID,
		"correlation_id", sub.CorrelationID,
	)
	return &OrderResult{
		OrderID:        sub.Ack.OrderID,
		SequenceNumber: sub.Ack.SequenceNumber,
		ExpectedTick:   sub.Ack.ExpectedTick,
		TxHash:         sub.Ack.TxHash,
		CorrelationID:  sub.CorrelationID,
		Digest:         msg.Digest().Hex(),
	}, nil
}

// PrepareOrder builds and signs an order without sending it.
// Dropping the returned message has no effect anywhere.
func (c *Client) PrepareOrder(ctx context.Context, marketID string, order PerpOrder) (*transaction.SignedMessage, error) {
	msg, _, err := c.prepare(ctx, marketID, order)
	if err != nil {
		return nil, wrap("prepare_order", err)
	}
	return msg, nil
}

func (c *Client) prepare(ctx context.Context, marketID string, order PerpOrder) (*transaction.SignedMessage, map[string]string, error) {
	// local checks never wait on the read node
	if err := order.Validate(); err != nil {
		return nil, nil, err
	}
	m, err := c.lookupMarket(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}

	price, err := m.PriceUnits(order.Price)
	if err != nil {
		return nil, nil, fmt.Errorf("price: %w", err)
	}
	qty, err := m.QuantityUnits(order.Quantity)
	if err != nil {
		return nil, nil, fmt.Errorf("quantity: %w", err)
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", transaction.ErrEncodingInvariant, err)
	}

	intent := &transaction.OrderIntent{
		Nonce:          nonce,
		Owner:          c.keypair.Public(),
		MarketID:       m.ID,
		Side:           order.Side,
		Price:          price,
		Quantity:       qty,
		Expiry:         c.expiry(order.Expiry),
		Leverage:       order.Leverage,
		PositionEffect: order.PositionEffect,
		MarginMode:     order.MarginMode,
		ReduceOnly:     order.ReduceOnly,
	}
	// leverage must be in range before it divides anything
	if err := intent.Validate(); err != nil {
		return nil, nil, err
	}

	if intent.MarginAmount, err = c.margin(m, order, price, qty); err != nil {
		return nil, nil, err
	}

	msg, err := transaction.Sign(intent, c.keypair)
	if err != nil {
		return nil, nil, err
	}

	labels := map[string]string{
		"market_id":     m.ID,
		"market":        m.String(),
		"side":          order.Side.String(),
		"price":         m.Price(price).String(),
		"quantity":      m.Quantity(qty).String(),
		"leverage":      strconv.FormatUint(order.Leverage, 10),
		"margin_amount": m.Price(intent.MarginAmount).String(),
	}
	return msg, labels, nil
}

func (c *Client) margin(m *market.Market, order PerpOrder, price, qty uint64) (uint64, error) {
	if order.MarginAmount != nil {
		u, err := m.Quote.ToUnits(*order.MarginAmount)
		if err != nil {
			return 0, fmt.Errorf("margin amount: %w", err)
		}
		return u, nil
	}
	return m.MarginUnits(price, qty, order.Leverage)
}

func (c *Client) expiry(override time.Time) uint64 {
	if !override.IsZero() {
		return uint64(override.Unix())
	}
	if c.cfg.OrderTTL <= 0 {
		return 0
	}
	return uint64(c.clock.Now().Add(c.cfg.OrderTTL).Unix())
}

// CancelOrder cancels a resting order.
// After a TransportFailure the same signed cancel is resent up to
// Config.CancelRetries times; a cancel that already landed comes back as
// SequencerRejection with an order-gone code (see IsOrderGone).
func (c *Client) CancelOrder(ctx context.Context, marketID string, orderID uint64) (*CancelResult, error) {
	const op = "cancel_order"

	m, err := c.lookupMarket(ctx, marketID)
	if err != nil {
		return nil, wrap(op, err)
	}
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, wrap(op, fmt.Errorf("%w: %w", transaction.ErrEncodingInvariant, err))
	}

	msg, err := transaction.Sign(&transaction.CancelIntent{
		Nonce:    nonce,
		Owner:    c.keypair.Public(),
		MarketID: m.ID,
		OrderID:  orderID,
	}, c.keypair)
	if err != nil {
		return nil, wrap(op, err)
	}

	labels := map[string]string{
		"market_id": m.ID,
		"market":    m.String(),
		"order_id":  strconv.FormatUint(orderID, 10),
	}
	sub, err := c.engine.Submit(ctx, msg, sequencer.WithLabels(labels))
	if errors.Is(err, sequencer.ErrTransportFailed) && c.cfg.CancelRetries > 0 {
		err = c.resendCancel(ctx, sub)
	}
	c.publish(sub, labels)
	if err != nil {
		c.log.Warnw("cancel_failed", "market_id", m.ID, "order_id", orderID, "correlation_id", correlationID(sub), "err", err)
		return nil, wrap(op, err)
	}

	c.log.Infow("order_cancelled", "market_id", m.ID, "order_id", orderID, "correlation_id", sub.CorrelationID, "attempts", sub.Attempts)
	return &CancelResult{
		OrderID:        orderID,
		SequenceNumber: sub.Ack.SequenceNumber,
		ExpectedTick:   sub.Ack.ExpectedTick,
		TxHash:         sub.Ack.TxHash,
		CorrelationID:  sub.CorrelationID,
		Attempts:       sub.Attempts,
	}, nil
}

func (c *Client) resendCancel(ctx context.Context, sub *sequencer.Submission) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.engine.Resubmit(ctx, sub)
		if err == nil || errors.Is(err, sequencer.ErrTransportFailed) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.CancelRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Debugw("cancel_resend", "correlation_id", sub.CorrelationID, "err", err, "next", next)
		}),
	)
	// the cancel was sent at least once; a context ending now leaves it unknown
	if err != nil && ctx.Err() != nil && sub.State == sequencer.TransportFailed && sub.Err != nil {
		return sub.Err
	}
	return err
}

// CancelBestEffort cancels and drops any error after logging it.
// Use it for cleanup paths where a failed cancel must not abort the caller.
func (c *Client) CancelBestEffort(ctx context.Context, marketID string, orderID uint64) {
	if _, err := c.CancelOrder(ctx, marketID, orderID); err != nil {
		c.log.Warnw("cancel_best_effort_failed",
			"market_id", marketID,
			"order_id", orderID,
			"kind", KindOf(err),
			"order_gone", IsOrderGone(err),
			"err", err,
		)
	}
}

func correlationID(sub *sequencer.Submission) string {
	if sub == nil {
		return ""
	}
	return sub.CorrelationID
}
