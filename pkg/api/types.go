package api

import (
	"github.com/uhyunpark/ledgerdex/pkg/events"
)

// API response types for REST endpoints and WebSocket messages
// Amounts and prices are decimal strings; they are 256-bit on the engine side.

// ==============================
// REST Response Types
// ==============================

// AssetInfo is a registered asset
type AssetInfo struct {
	Ticker     string `json:"ticker"`
	Ref        string `json:"ref"`        // external token contract
	Held       string `json:"held"`       // amount in exchange custody
	Settlement bool   `json:"settlement"` // quote currency, not tradable
}

// OrderInfo is a resting limit order
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	Side      string `json:"side"` // "buy" or "sell"
	Ticker    string `json:"ticker"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Filled    string `json:"filled"`
	Remaining string `json:"remaining"`
	CreatedAt int64  `json:"createdAt"` // Unix milliseconds
}

// PriceLevel aggregates one price of a book side
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrdersResponse is one side of a book plus its aggregated levels
type OrdersResponse struct {
	Ticker string       `json:"ticker"`
	Side   string       `json:"side"`
	Orders []OrderInfo  `json:"orders"` // match order
	Levels []PriceLevel `json:"levels"`
}

// BalanceInfo is a trader's custody balance of one ticker
type BalanceInfo struct {
	Address string `json:"address"`
	Ticker  string `json:"ticker"`
	Balance string `json:"balance"`
}

// AccountBalances lists every non-zero custody balance of a trader
type AccountBalances struct {
	Address  string        `json:"address"`
	Balances []BalanceInfo `json:"balances"`
}

// StateInfo identifies the exchange state for reproducibility checks
type StateInfo struct {
	Hash       string `json:"hash"`
	LastOrder  uint64 `json:"lastOrderId"`
	LastTrade  uint64 `json:"lastTradeId"`
	Settlement string `json:"settlement"`
	Admin      string `json:"admin"`
	Assets     int    `json:"assets"`
}

// ==============================
// Write Responses
// ==============================

// SubmitResponse acknowledges an accepted signed request
type SubmitResponse struct {
	Status    string `json:"status"` // "accepted"
	RequestID string `json:"requestId"`
}

// LimitOrderResponse carries the id of the new resting order
type LimitOrderResponse struct {
	SubmitResponse
	OrderID uint64 `json:"orderId"`
}

// MarketOrderResponse lists the trades a market order executed, possibly none
type MarketOrderResponse struct {
	SubmitResponse
	Trades []events.Trade `json:"trades"`
	Filled string         `json:"filled"`
}

// FaucetRequest mints builtin tokens on a devnet
type FaucetRequest struct {
	Ticker  string `json:"ticker"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"`    // "trade" or "order"
	Channel string      `json:"channel"` // e.g. "trades:REP"
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades:REP", "orders:REP"]
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}
