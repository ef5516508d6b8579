package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
)

type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side a taker on s matches against
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts "buy" or "sell" in any case
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: %q", core.ErrInvalidSide, s)
	}
}

// Order is a resting limit order
// Price is in settlement units per base unit; Amount and Filled are base units
type Order struct {
	ID        uint64
	Trader    common.Address
	Side      Side
	Ticker    asset.Ticker
	Price     *uint256.Int
	Amount    *uint256.Int
	Filled    *uint256.Int
	CreatedAt int64 // unix millis
}

// Remaining is the unfilled part of the order
func (o *Order) Remaining() *uint256.Int {
	return new(uint256.Int).Sub(o.Amount, o.Filled)
}

func (o *Order) IsFilled() bool {
	return o.Filled.Cmp(o.Amount) >= 0
}

// Clone returns a deep copy safe to hand to readers
func (o *Order) Clone() Order {
	return Order{
		ID:        o.ID,
		Trader:    o.Trader,
		Side:      o.Side,
		Ticker:    o.Ticker,
		Price:     o.Price.Clone(),
		Amount:    o.Amount.Clone(),
		Filled:    o.Filled.Clone(),
		CreatedAt: o.CreatedAt,
	}
}
