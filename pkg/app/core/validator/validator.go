package validator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/custody"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
)

// Validator runs the pre-trade checks shared by limit and market orders
type Validator struct {
	registry *asset.Registry
	ledger   *custody.Ledger
	books    *orderbook.Books
}

func New(registry *asset.Registry, ledger *custody.Ledger, books *orderbook.Books) *Validator {
	return &Validator{registry: registry, ledger: ledger, books: books}
}

// CheckTicker requires a registered, non-settlement ticker
func (v *Validator) CheckTicker(ticker asset.Ticker) error {
	if !v.registry.Exists(ticker) {
		return fmt.Errorf("%s: %w", ticker, core.ErrUnknownTicker)
	}
	if v.registry.IsSettlement(ticker) {
		return fmt.Errorf("%s: %w", ticker, core.ErrCannotTradeSettlementAsset)
	}
	return nil
}

// CheckLimit validates a new resting order
// A BUY must be covered together with the trader's other resting bids on ticker
func (v *Validator) CheckLimit(trader common.Address, ticker asset.Ticker, side orderbook.Side, amount, price *uint256.Int) error {
	if err := v.checkShape(ticker, side, amount); err != nil {
		return err
	}
	if price == nil || price.IsZero() {
		return core.ErrInvalidPrice
	}
	if side == orderbook.Sell {
		return v.checkTokenBalance(trader, ticker, amount)
	}

	required, ok := v.requiredSettlement(trader, ticker, amount, price)
	if !ok {
		return fmt.Errorf("limit buy %s %s@%s: exposure overflows: %w",
			ticker, amount.Dec(), price.Dec(), core.ErrInsufficientSettlementBalance)
	}
	have := v.ledger.BalanceOf(trader, v.registry.Settlement())
	if have.Lt(required) {
		return fmt.Errorf("limit buy %s needs %s %s, have %s: %w",
			ticker, required.Dec(), v.registry.Settlement(), have.Dec(), core.ErrInsufficientSettlementBalance)
	}
	return nil
}

// CheckMarket validates a market order before matching
// Settlement for a BUY is checked fill by fill during matching
func (v *Validator) CheckMarket(trader common.Address, ticker asset.Ticker, side orderbook.Side, amount *uint256.Int) error {
	if err := v.checkShape(ticker, side, amount); err != nil {
		return err
	}
	if side == orderbook.Sell {
		return v.checkTokenBalance(trader, ticker, amount)
	}
	return nil
}

func (v *Validator) checkShape(ticker asset.Ticker, side orderbook.Side, amount *uint256.Int) error {
	if err := v.CheckTicker(ticker); err != nil {
		return err
	}
	if !side.Valid() {
		return fmt.Errorf("%w: %d", core.ErrInvalidSide, side)
	}
	if amount == nil || amount.IsZero() {
		return core.ErrInvalidAmount
	}
	return nil
}

func (v *Validator) checkTokenBalance(trader common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	have := v.ledger.BalanceOf(trader, ticker)
	if have.Lt(amount) {
		return fmt.Errorf("sell %s %s, have %s: %w", amount.Dec(), ticker, have.Dec(), core.ErrInsufficientTokenBalance)
	}
	return nil
}

// requiredSettlement is the trader's resting bid exposure on ticker plus price*amount
func (v *Validator) requiredSettlement(trader common.Address, ticker asset.Ticker, amount, price *uint256.Int) (*uint256.Int, bool) {
	cost, overflow := new(uint256.Int).MulOverflow(price, amount)
	if overflow {
		return nil, false
	}

	book, ok := v.books.Lookup(ticker)
	if !ok {
		return cost, true
	}
	exposure, ok := book.Exposure(trader)
	if !ok {
		return nil, false
	}
	if _, overflow = cost.AddOverflow(cost, exposure); overflow {
		return nil, false
	}
	return cost, true
}
