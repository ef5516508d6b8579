package validator

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/custody"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/token"
)

var (
	admin   = common.HexToAddress("0xAD00000000000000000000000000000000000000")
	trader1 = common.HexToAddress("0x1100000000000000000000000000000000000000")

	DAI = asset.MustTicker("DAI")
	REP = asset.MustTicker("REP")
	ZRX = asset.MustTicker("ZRX")
)

func newTestValidator(t *testing.T) (*Validator, *custody.Ledger, *orderbook.Books) {
	t.Helper()

	reg := asset.NewRegistry(admin, DAI)
	for i, tk := range []asset.Ticker{DAI, REP} {
		ref := common.BigToAddress(common.Big1)
		ref[0] = byte(i + 1)
		if _, err := reg.RegisterAsset(admin, tk, ref); err != nil {
			t.Fatalf("register %s: %v", tk, err)
		}
	}

	ledger := custody.NewLedger(reg, token.NewDirectory(), zap.NewNop().Sugar())
	books := orderbook.NewBooks()
	return New(reg, ledger, books), ledger, books
}

func TestCheckTicker(t *testing.T) {
	v, _, _ := newTestValidator(t)

	tests := []struct {
		name   string
		ticker asset.Ticker
		want   error
	}{
		{"tradable", REP, nil},
		{"unknown", ZRX, core.ErrUnknownTicker},
		{"settlement", DAI, core.ErrCannotTradeSettlementAsset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.CheckTicker(tt.ticker)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckLimitSell(t *testing.T) {
	v, ledger, _ := newTestValidator(t)
	ledger.Restore(trader1, REP, uint256.NewInt(99))

	err := v.CheckLimit(trader1, REP, orderbook.Sell, uint256.NewInt(100), uint256.NewInt(10))
	if !errors.Is(err, core.ErrInsufficientTokenBalance) {
		t.Errorf("err = %v, want ErrInsufficientTokenBalance", err)
	}
	if err := v.CheckLimit(trader1, REP, orderbook.Sell, uint256.NewInt(99), uint256.NewInt(10)); err != nil {
		t.Errorf("covered sell rejected: %v", err)
	}
}

func TestCheckLimitBuyAggregatesRestingBids(t *testing.T) {
	v, ledger, books := newTestValidator(t)
	ledger.Restore(trader1, DAI, uint256.NewInt(200))

	if err := v.CheckLimit(trader1, REP, orderbook.Buy, uint256.NewInt(10), uint256.NewInt(11)); err != nil {
		t.Fatalf("first buy rejected: %v", err)
	}
	if err := books.Book(REP).Insert(&orderbook.Order{
		ID: 1, Trader: trader1, Side: orderbook.Buy, Ticker: REP,
		Price: uint256.NewInt(11), Amount: uint256.NewInt(10), Filled: new(uint256.Int),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// 110 resting + 90 new == 200 exactly
	if err := v.CheckLimit(trader1, REP, orderbook.Buy, uint256.NewInt(10), uint256.NewInt(9)); err != nil {
		t.Errorf("buy at the limit rejected: %v", err)
	}
	// 110 resting + 100 new > 200
	err := v.CheckLimit(trader1, REP, orderbook.Buy, uint256.NewInt(10), uint256.NewInt(10))
	if !errors.Is(err, core.ErrInsufficientSettlementBalance) {
		t.Errorf("err = %v, want ErrInsufficientSettlementBalance", err)
	}
}

func TestCheckLimitBuyOverflow(t *testing.T) {
	v, ledger, _ := newTestValidator(t)
	ledger.Restore(trader1, DAI, uint256.NewInt(1000))

	huge := new(uint256.Int).SetAllOne()
	err := v.CheckLimit(trader1, REP, orderbook.Buy, huge, uint256.NewInt(2))
	if !errors.Is(err, core.ErrInsufficientSettlementBalance) {
		t.Errorf("err = %v, want ErrInsufficientSettlementBalance", err)
	}
}

func TestCheckLimitInputs(t *testing.T) {
	v, _, _ := newTestValidator(t)

	if err := v.CheckLimit(trader1, REP, orderbook.Buy, uint256.NewInt(0), uint256.NewInt(1)); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("zero amount err = %v", err)
	}
	if err := v.CheckLimit(trader1, REP, orderbook.Buy, uint256.NewInt(1), uint256.NewInt(0)); !errors.Is(err, core.ErrInvalidPrice) {
		t.Errorf("zero price err = %v", err)
	}
	if err := v.CheckLimit(trader1, REP, orderbook.Side(7), uint256.NewInt(1), uint256.NewInt(1)); !errors.Is(err, core.ErrInvalidSide) {
		t.Errorf("bad side err = %v", err)
	}
}

func TestCheckMarket(t *testing.T) {
	v, ledger, _ := newTestValidator(t)

	// No settlement check up front for a market buy
	if err := v.CheckMarket(trader1, REP, orderbook.Buy, uint256.NewInt(100)); err != nil {
		t.Errorf("market buy rejected: %v", err)
	}

	err := v.CheckMarket(trader1, REP, orderbook.Sell, uint256.NewInt(100))
	if !errors.Is(err, core.ErrInsufficientTokenBalance) {
		t.Errorf("err = %v, want ErrInsufficientTokenBalance", err)
	}

	ledger.Restore(trader1, REP, uint256.NewInt(100))
	if err := v.CheckMarket(trader1, REP, orderbook.Sell, uint256.NewInt(100)); err != nil {
		t.Errorf("covered market sell rejected: %v", err)
	}

	if err := v.CheckMarket(trader1, DAI, orderbook.Buy, uint256.NewInt(1)); !errors.Is(err, core.ErrCannotTradeSettlementAsset) {
		t.Errorf("settlement err = %v", err)
	}
}
