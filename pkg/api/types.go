package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/perpgate/pkg/gateway"
)

// PlaceOrderRequest carries human units as decimal strings ("185.50")
type PlaceOrderRequest struct {
	MarketID       string `json:"market_id" validate:"required,max=255"`
	Side           string `json:"side" validate:"required,oneof=buy sell BUY SELL"`
	Price          string `json:"price" validate:"required,numeric"`
	Quantity       string `json:"quantity" validate:"required,numeric"`
	Leverage       uint64 `json:"leverage" validate:"required"`
	PositionEffect string `json:"position_effect,omitempty" validate:"omitempty,oneof=open close"`
	MarginMode     string `json:"margin_mode,omitempty" validate:"omitempty,oneof=cross isolated"`
	ReduceOnly     bool   `json:"reduce_only,omitempty"`
	MarginAmount   string `json:"margin_amount,omitempty" validate:"omitempty,numeric"`
	ExpiresAt      int64  `json:"expires_at,omitempty" validate:"gte=0"` // unix seconds
}

type CancelOrderRequest struct {
	MarketID string `json:"market_id" validate:"required,max=255"`
	OrderID  uint64 `json:"order_id" validate:"required"`
}

type OrderResponse struct {
	OrderID        uint64 `json:"order_id"`
	SequenceNumber uint64 `json:"sequence_number"`
	ExpectedTick   uint64 `json:"expected_tick"`
	TxHash         string `json:"tx_hash"`
	CorrelationID  string `json:"correlation_id"`
	Digest         string `json:"digest,omitempty"`
	Attempts       int    `json:"attempts,omitempty"`
}

// MarketInfo is a market with its asset scales
type MarketInfo struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Kind          string          `json:"kind,omitempty"`
	BaseSymbol    string          `json:"base_symbol,omitempty"`
	BaseMint      string          `json:"base_mint"`
	BaseDecimals  int32           `json:"base_decimals"`
	QuoteSymbol   string          `json:"quote_symbol,omitempty"`
	QuoteMint     string          `json:"quote_mint"`
	QuoteDecimals int32           `json:"quote_decimals"`
	TickSize      decimal.Decimal `json:"tick_size"`
	LotSize       decimal.Decimal `json:"lot_size"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// WebSocket messages

type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// SubmissionUpdate is pushed on the submissions channel
type SubmissionUpdate struct {
	Type string        `json:"type"`
	Data gateway.Event `json:"data"`
}

const SubmissionsChannel = "submissions"
