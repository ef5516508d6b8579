package events

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/matching"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
)

// Publisher fans committed exchange activity out to subscribers
// Publishing happens after the operation committed; errors never roll it back.
type Publisher interface {
	PublishTrade(ctx context.Context, tr matching.Trade) error
	PublishOrder(ctx context.Context, o orderbook.Order) error
}

// Trade is the wire form of a trade
type Trade struct {
	ID        uint64         `json:"id"`
	OrderID   uint64         `json:"orderId"`
	Ticker    string         `json:"ticker"`
	Maker     common.Address `json:"maker"`
	Taker     common.Address `json:"taker"`
	TakerSide string         `json:"takerSide"`
	Amount    string         `json:"amount"`
	Price     string         `json:"price"`
	Timestamp int64          `json:"timestamp"`
}

// Order is the wire form of a resting order
type Order struct {
	ID        uint64         `json:"id"`
	Trader    common.Address `json:"trader"`
	Side      string         `json:"side"`
	Ticker    string         `json:"ticker"`
	Price     string         `json:"price"`
	Amount    string         `json:"amount"`
	Filled    string         `json:"filled"`
	CreatedAt int64          `json:"createdAt"`
}

func NewTrade(tr matching.Trade) Trade {
	return Trade{
		ID:        tr.ID,
		OrderID:   tr.OrderID,
		Ticker:    tr.Ticker.String(),
		Maker:     tr.Maker,
		Taker:     tr.Taker,
		TakerSide: tr.TakerSide.String(),
		Amount:    tr.Amount.Dec(),
		Price:     tr.Price.Dec(),
		Timestamp: tr.Timestamp,
	}
}

func NewOrder(o orderbook.Order) Order {
	return Order{
		ID:        o.ID,
		Trader:    o.Trader,
		Side:      o.Side.String(),
		Ticker:    o.Ticker.String(),
		Price:     o.Price.Dec(),
		Amount:    o.Amount.Dec(),
		Filled:    o.Filled.Dec(),
		CreatedAt: o.CreatedAt,
	}
}

type nop struct{}

// Nop discards everything
func Nop() Publisher { return nop{} }

func (nop) PublishTrade(context.Context, matching.Trade) error  { return nil }
func (nop) PublishOrder(context.Context, orderbook.Order) error { return nil }

// Multi publishes to every publisher and joins their errors
type Multi []Publisher

func (m Multi) PublishTrade(ctx context.Context, tr matching.Trade) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishTrade(ctx, tr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) PublishOrder(ctx context.Context, o orderbook.Order) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishOrder(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
