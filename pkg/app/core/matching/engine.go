package matching

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/custody"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
)

// Taker is an incoming market order. It never rests and has no id.
type Taker struct {
	Trader common.Address
	Ticker asset.Ticker
	Side   orderbook.Side
	Amount *uint256.Int
}

// Fill is one match between the taker and a resting order
type Fill struct {
	MakerID uint64
	Maker   common.Address
	Taker   common.Address
	Price   *uint256.Int // maker's price
	Amount  *uint256.Int
}

// Cost is Price*Amount in settlement units
func (f Fill) Cost() *uint256.Int {
	return new(uint256.Int).Mul(f.Price, f.Amount)
}

// Engine matches market orders against a book
// Matching only stages balance moves; the book is left untouched until the
// caller commits the fills with Book.ApplyFill.
type Engine struct {
	settlement asset.Ticker
}

func New(settlement asset.Ticker) *Engine {
	return &Engine{settlement: settlement}
}

// Match walks the opposite side of book from its front and fills taker
// Whatever the book cannot absorb is dropped. On error cs must be discarded.
func (e *Engine) Match(taker Taker, book *orderbook.Book, cs *custody.Changeset) ([]Fill, error) {
	if book.Ticker() != taker.Ticker {
		return nil, fmt.Errorf("taker for %s matched against %s book", taker.Ticker, book.Ticker())
	}
	if !taker.Side.Valid() {
		return nil, fmt.Errorf("%w: %d", core.ErrInvalidSide, taker.Side)
	}
	if taker.Amount == nil || taker.Amount.IsZero() {
		return nil, core.ErrInvalidAmount
	}

	var (
		fills     []Fill
		err       error
		remaining = taker.Amount.Clone()
	)
	book.Scan(taker.Side.Opposite(), func(maker *orderbook.Order) bool {
		traded := maker.Remaining()
		if remaining.Lt(traded) {
			traded = remaining.Clone()
		}
		if traded.IsZero() {
			return true
		}

		cost, overflow := new(uint256.Int).MulOverflow(traded, maker.Price)
		if overflow {
			err = fmt.Errorf("fill %s@%s against order %d: %w", traded.Dec(), maker.Price.Dec(), maker.ID, core.ErrAmountOverflow)
			return false
		}
		if err = e.settle(taker, maker, traded, cost, cs); err != nil {
			return false
		}

		fills = append(fills, Fill{
			MakerID: maker.ID,
			Maker:   maker.Trader,
			Taker:   taker.Trader,
			Price:   maker.Price.Clone(),
			Amount:  traded,
		})
		remaining.Sub(remaining, traded)
		return !remaining.IsZero()
	})
	if err != nil {
		return nil, err
	}
	return fills, nil
}

// settle stages the four balance moves of one fill
func (e *Engine) settle(taker Taker, maker *orderbook.Order, traded, cost *uint256.Int, cs *custody.Changeset) error {
	buyer, seller := taker.Trader, maker.Trader
	if taker.Side == orderbook.Sell {
		buyer, seller = maker.Trader, taker.Trader
	}

	if have := cs.Balance(buyer, e.settlement); have.Lt(cost) {
		if taker.Side == orderbook.Buy {
			return fmt.Errorf("market buy %s needs %s %s, have %s: %w",
				taker.Ticker, cost.Dec(), e.settlement, have.Dec(), core.ErrInsufficientSettlementBalance)
		}
		return fmt.Errorf("maker order %d needs %s %s, have %s: %w",
			maker.ID, cost.Dec(), e.settlement, have.Dec(), core.ErrInsufficientSettlementBalance)
	}
	if have := cs.Balance(seller, taker.Ticker); have.Lt(traded) {
		if taker.Side == orderbook.Sell {
			return fmt.Errorf("market sell %s %s, have %s: %w",
				traded.Dec(), taker.Ticker, have.Dec(), core.ErrInsufficientTokenBalance)
		}
		return fmt.Errorf("maker order %d needs %s %s, have %s: %w",
			maker.ID, traded.Dec(), taker.Ticker, have.Dec(), core.ErrInsufficientTokenBalance)
	}

	if err := cs.Transfer(buyer, seller, e.settlement, cost); err != nil {
		return err
	}
	return cs.Transfer(seller, buyer, taker.Ticker, traded)
}
