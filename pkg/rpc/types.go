package rpc

import "github.com/shopspring/decimal"

// MarketInfo is a market as listed by the read node
type MarketInfo struct {
	UUID          string           `json:"uuid"`
	BaseMint      string           `json:"base_mint"`
	QuoteMint     string           `json:"quote_mint"`
	Name          string           `json:"name"`
	CreatedAt     uint64           `json:"created_at"`
	Kind          string           `json:"kind"`
	BaseDecimals  uint8            `json:"base_decimals"`
	QuoteDecimals uint8            `json:"quote_decimals"`
	BaseLotSize   uint64           `json:"base_lot_size"`
	QuoteLotSize  uint64           `json:"quote_lot_size"`
	PriceDecimals *uint8           `json:"price_decimals,omitempty"`
	OpenInterest  *decimal.Decimal `json:"open_interest,omitempty"`
}

// OrderbookEntry is a resting order; price and quantity are in wire units
type OrderbookEntry struct {
	OrderID  uint64 `json:"order_id"`
	Owner    string `json:"owner"`
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
	Side     string `json:"side"`
	Expiry   uint64 `json:"expiry"`
}

type Orderbook struct {
	Buys  []OrderbookEntry `json:"buys"`
	Sells []OrderbookEntry `json:"sells"`
}

// Depth is aggregated [price, quantity] levels as strings
type Depth struct {
	LastUpdateID uint64      `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

type Trade struct {
	BuyerOwner  string `json:"buyer_owner"`
	SellerOwner string `json:"seller_owner"`
	Price       uint64 `json:"price"`
	Quantity    uint64 `json:"quantity"`
	Timestamp   uint64 `json:"timestamp"`
	BaseMint    string `json:"base_mint"`
	QuoteMint   string `json:"quote_mint"`
}

type FundingEvent struct {
	MarketID        string `json:"market_id"`
	Timestamp       uint64 `json:"timestamp"`
	IntervalSeconds uint64 `json:"interval_seconds"`
	MarkPrice       uint64 `json:"mark_price"`
	IndexPrice      uint64 `json:"index_price"`
	PremiumRateBps  int64  `json:"premium_rate_bps"`
	FundingRateBps  int64  `json:"funding_rate_bps"`
	TotalPayment    string `json:"total_payment"`
}

type Position struct {
	Owner             string  `json:"owner"`
	MarketID          string  `json:"market_id"`
	MarketName        *string `json:"market_name,omitempty"`
	BasePosition      string  `json:"base_position"`
	AverageEntryPrice string  `json:"average_entry_price"`
	MarkPrice         string  `json:"mark_price"`
	RealizedPnL       string  `json:"realized_pnl"`
	UnrealizedPnL     string  `json:"unrealized_pnl"`
	CumulativeFunding *string `json:"cumulative_funding,omitempty"`
}

type OpenOrder struct {
	OrderID    uint64  `json:"order_id"`
	MarketID   string  `json:"market_id"`
	MarketName *string `json:"market_name,omitempty"`
	Owner      string  `json:"owner"`
	Side       string  `json:"side"`
	Price      uint64  `json:"price"`
	Quantity   uint64  `json:"quantity"`
	Expiry     uint64  `json:"expiry"`
	Timestamp  *uint64 `json:"timestamp,omitempty"`
}

// AccountSummary holds collateral and margin snapshots in human units
type AccountSummary struct {
	Owner                       string           `json:"owner,omitempty"`
	USDCCollateral              decimal.Decimal  `json:"usdc_collateral"`
	EquitySnapshot              *decimal.Decimal `json:"equity_snapshot,omitempty"`
	RealizedPnLSnapshot         *decimal.Decimal `json:"realized_pnl_snapshot,omitempty"`
	UnrealizedPnLSnapshot       *decimal.Decimal `json:"unrealized_pnl_snapshot,omitempty"`
	InitialMarginSnapshot       *decimal.Decimal `json:"initial_margin_snapshot,omitempty"`
	MaintenanceMarginSnapshot   *decimal.Decimal `json:"maintenance_margin_snapshot,omitempty"`
	FreeCollateralSnapshot      *decimal.Decimal `json:"free_collateral_snapshot,omitempty"`
	AvailableWithdrawalSnapshot *decimal.Decimal `json:"available_withdrawal_snapshot,omitempty"`
}

type TokenBalance struct {
	Available string `json:"available"`
	Reserved  string `json:"reserved"`
}

// Balances maps token mint to balance
type Balances map[string]TokenBalance

type NodeStatus struct {
	BlockHeight    uint64 `json:"block_height"`
	AppliedBatches uint64 `json:"applied_batches"`
}
