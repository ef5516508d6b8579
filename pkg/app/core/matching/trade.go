package matching

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
)

// Trade is a committed fill
type Trade struct {
	ID        uint64
	OrderID   uint64 // resting (maker) order
	Ticker    asset.Ticker
	Maker     common.Address
	Taker     common.Address
	TakerSide orderbook.Side
	Amount    *uint256.Int
	Price     *uint256.Int
	Timestamp int64 // unix millis
}

// Trade stamps f with a trade id
func (f Fill) Trade(id uint64, ticker asset.Ticker, takerSide orderbook.Side, ts int64) Trade {
	return Trade{
		ID:        id,
		OrderID:   f.MakerID,
		Ticker:    ticker,
		Maker:     f.Maker,
		Taker:     f.Taker,
		TakerSide: takerSide,
		Amount:    f.Amount.Clone(),
		Price:     f.Price.Clone(),
		Timestamp: ts,
	}
}
