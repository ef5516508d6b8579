package dex

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"pgregory.net/rapid"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
)

// Any sequence of operations conserves every asset: escrowed balances sum to
// the custody total, which matches what custody actually holds externally, and
// external holdings plus custody equal the minted supply. A failed operation
// leaves the state hash unchanged.
func TestProperty_Conservation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		x := newTestExchange(t)
		ctx := context.Background()
		tickers := []asset.Ticker{DAI, REP, BAT}
		tradable := []asset.Ticker{REP, BAT}
		traders := []common.Address{trader1, trader2}
		sides := []orderbook.Side{orderbook.Buy, orderbook.Sell}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			trader := rapid.SampledFrom(traders).Draw(rt, "trader")
			amount := wei(rapid.Uint64Range(1, 300).Draw(rt, "amount"))
			before := x.StateHash()

			var err error
			switch op := rapid.IntRange(0, 3).Draw(rt, "op"); op {
			case 0:
				err = x.Deposit(ctx, trader, rapid.SampledFrom(tickers).Draw(rt, "ticker"), amount)
			case 1:
				err = x.Withdraw(ctx, trader, rapid.SampledFrom(tickers).Draw(rt, "ticker"), amount)
			case 2:
				price := uint256.NewInt(rapid.Uint64Range(1, 20).Draw(rt, "price"))
				_, err = x.CreateLimitOrder(context.Background(), trader, rapid.SampledFrom(tradable).Draw(rt, "ticker"), amount, price,
					rapid.SampledFrom(sides).Draw(rt, "side"))
			case 3:
				_, err = x.CreateMarketOrder(context.Background(), trader, rapid.SampledFrom(tradable).Draw(rt, "ticker"), amount,
					rapid.SampledFrom(sides).Draw(rt, "side"))
			}
			if err != nil && x.StateHash() != before {
				rt.Fatalf("step %d failed with %v but changed state", i, err)
			}

			checkConservation(rt, x, tickers, traders)
			checkBooks(rt, x, tradable)
		}
	})
}

func checkConservation(rt *rapid.T, x *testExchange, tickers []asset.Ticker, traders []common.Address) {
	supply := wei(uint64(1000 * len(traders)))
	for _, tk := range tickers {
		held := x.Held(tk)
		total := x.ledger.Total(tk)
		if !held.Eq(total) {
			rt.Fatalf("%s: held %s != sum of balances %s", tk, held.Dec(), total.Dec())
		}

		tok := x.devnet.Builtin(refs[tk])
		if custodied := tok.Balance(custodyAddr); !custodied.Eq(held) {
			rt.Fatalf("%s: custody holds %s externally, ledger says %s", tk, custodied.Dec(), held.Dec())
		}

		outside := new(uint256.Int)
		for _, tr := range traders {
			outside.Add(outside, tok.Balance(tr))
		}
		if sum := new(uint256.Int).Add(outside, held); !sum.Eq(supply) {
			rt.Fatalf("%s: external %s + custody %s != supply %s", tk, outside.Dec(), held.Dec(), supply.Dec())
		}
	}
}

func checkBooks(rt *rapid.T, x *testExchange, tickers []asset.Ticker) {
	for _, tk := range tickers {
		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			orders := x.GetOrders(tk, side)
			for i, o := range orders {
				if o.Filled.Cmp(o.Amount) >= 0 {
					rt.Fatalf("order %d rests with filled %s of %s", o.ID, o.Filled.Dec(), o.Amount.Dec())
				}
				if i == 0 {
					continue
				}
				prev := orders[i-1]
				c := prev.Price.Cmp(o.Price)
				if side == orderbook.Buy {
					c = -c
				}
				if c > 0 || (c == 0 && prev.ID > o.ID) {
					rt.Fatalf("%s %s side out of order at %d", tk, side, i)
				}
			}
		}
	}
}
