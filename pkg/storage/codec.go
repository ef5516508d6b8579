package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/matching"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
)

// Records are the JSON shapes written to Pebble
// Amounts are decimal strings and tickers are full 32-byte hex.

type assetRecord struct {
	Ticker string         `json:"ticker"`
	Ref    common.Address `json:"ref"`
}

type orderRecord struct {
	ID        uint64         `json:"id"`
	Trader    common.Address `json:"trader"`
	Side      uint8          `json:"side"`
	Ticker    string         `json:"ticker"`
	Price     string         `json:"price"`
	Amount    string         `json:"amount"`
	Filled    string         `json:"filled"`
	CreatedAt int64          `json:"createdAt"`
}

type tradeRecord struct {
	ID        uint64         `json:"id"`
	OrderID   uint64         `json:"orderId"`
	Ticker    string         `json:"ticker"`
	Maker     common.Address `json:"maker"`
	Taker     common.Address `json:"taker"`
	TakerSide uint8          `json:"takerSide"`
	Amount    string         `json:"amount"`
	Price     string         `json:"price"`
	Timestamp int64          `json:"timestamp"`
}

func toAssetRecord(a asset.Asset) assetRecord {
	return assetRecord{Ticker: a.Ticker.Hex(), Ref: a.Ref}
}

func (r assetRecord) asset() (asset.Asset, error) {
	t, err := asset.TickerFromHex(r.Ticker)
	if err != nil {
		return asset.Asset{}, err
	}
	return asset.Asset{Ticker: t, Ref: r.Ref}, nil
}

func toOrderRecord(o *orderbook.Order) orderRecord {
	return orderRecord{
		ID:        o.ID,
		Trader:    o.Trader,
		Side:      uint8(o.Side),
		Ticker:    o.Ticker.Hex(),
		Price:     o.Price.Dec(),
		Amount:    o.Amount.Dec(),
		Filled:    o.Filled.Dec(),
		CreatedAt: o.CreatedAt,
	}
}

func (r orderRecord) order() (orderbook.Order, error) {
	t, err := asset.TickerFromHex(r.Ticker)
	if err != nil {
		return orderbook.Order{}, err
	}
	o := orderbook.Order{
		ID:        r.ID,
		Trader:    r.Trader,
		Side:      orderbook.Side(r.Side),
		Ticker:    t,
		CreatedAt: r.CreatedAt,
	}
	if o.Price, err = decodeAmount(r.Price); err != nil {
		return orderbook.Order{}, fmt.Errorf("order %d price: %w", r.ID, err)
	}
	if o.Amount, err = decodeAmount(r.Amount); err != nil {
		return orderbook.Order{}, fmt.Errorf("order %d amount: %w", r.ID, err)
	}
	if o.Filled, err = decodeAmount(r.Filled); err != nil {
		return orderbook.Order{}, fmt.Errorf("order %d filled: %w", r.ID, err)
	}
	return o, nil
}

func toTradeRecord(tr matching.Trade) tradeRecord {
	return tradeRecord{
		ID:        tr.ID,
		OrderID:   tr.OrderID,
		Ticker:    tr.Ticker.Hex(),
		Maker:     tr.Maker,
		Taker:     tr.Taker,
		TakerSide: uint8(tr.TakerSide),
		Amount:    tr.Amount.Dec(),
		Price:     tr.Price.Dec(),
		Timestamp: tr.Timestamp,
	}
}

func (r tradeRecord) trade() (matching.Trade, error) {
	t, err := asset.TickerFromHex(r.Ticker)
	if err != nil {
		return matching.Trade{}, err
	}
	tr := matching.Trade{
		ID:        r.ID,
		OrderID:   r.OrderID,
		Ticker:    t,
		Maker:     r.Maker,
		Taker:     r.Taker,
		TakerSide: orderbook.Side(r.TakerSide),
		Timestamp: r.Timestamp,
	}
	if tr.Amount, err = decodeAmount(r.Amount); err != nil {
		return matching.Trade{}, fmt.Errorf("trade %d amount: %w", r.ID, err)
	}
	if tr.Price, err = decodeAmount(r.Price); err != nil {
		return matching.Trade{}, fmt.Errorf("trade %d price: %w", r.ID, err)
	}
	return tr, nil
}

func decodeAmount(s string) (*uint256.Int, error) {
	return uint256.FromDecimal(s)
}
