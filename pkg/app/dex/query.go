package dex

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/matching"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
)

// GetOrders returns copies of one side of ticker's book in match order
func (a *App) GetOrders(ticker asset.Ticker, side orderbook.Side) []orderbook.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.books.Orders(ticker, side)
}

// Levels returns one side of ticker's book aggregated by price
func (a *App) Levels(ticker asset.Ticker, side orderbook.Side) []orderbook.PriceLevel {
	a.mu.Lock()
	defer a.mu.Unlock()
	book, ok := a.books.Lookup(ticker)
	if !ok {
		return nil
	}
	return book.Levels(side)
}

func (a *App) BalanceOf(trader common.Address, ticker asset.Ticker) *uint256.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.BalanceOf(trader, ticker)
}

func (a *App) Balances(trader common.Address) map[asset.Ticker]*uint256.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Balances(trader)
}

// Held is the amount of ticker in exchange custody
func (a *App) Held(ticker asset.Ticker) *uint256.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Held(ticker)
}

func (a *App) ListAssets() []asset.Asset {
	return a.registry.List()
}

func (a *App) Asset(ticker asset.Ticker) (asset.Asset, error) {
	return a.registry.Asset(ticker)
}

func (a *App) Settlement() asset.Ticker { return a.registry.Settlement() }

func (a *App) Admin() common.Address { return a.registry.Admin() }

// RecentTrades returns up to limit trades of ticker, newest first
func (a *App) RecentTrades(ticker asset.Ticker, limit int) []matching.Trade {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.recent[ticker]
	if limit <= 0 || limit > len(kept) {
		limit = len(kept)
	}
	out := make([]matching.Trade, 0, limit)
	for i := len(kept) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, kept[i])
	}
	return out
}

// Sequences returns the last issued order and trade ids
func (a *App) Sequences() (order, trade uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orderSeq.Current(), a.tradeSeq.Current()
}

// StateHash is a Keccak-256 digest of the full exchange state
//
// Components, in order:
//  1. Assets sorted by ticker: ticker, ref, custody total
//  2. Balances sorted by trader then ticker: trader, ticker, balance
//  3. Books for each asset: bids then asks in match order, each order as
//     id, trader, price, amount, filled
//  4. Order and trade sequence heads
//
// Timestamps are left out so identical operation sequences hash identically.
func (a *App) StateHash() common.Hash {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	writeAmount := func(v *uint256.Int) {
		b := v.Bytes32()
		h.Write(b[:])
	}

	assets := a.registry.List()
	for _, as := range assets {
		h.Write(as.Ticker[:])
		h.Write(as.Ref[:])
		writeAmount(a.ledger.Held(as.Ticker))
	}

	for _, e := range a.ledger.Entries() {
		h.Write(e.Trader[:])
		h.Write(e.Ticker[:])
		writeAmount(e.Balance)
	}

	for _, as := range assets {
		book, ok := a.books.Lookup(as.Ticker)
		if !ok {
			continue
		}
		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			book.Scan(side, func(o *orderbook.Order) bool {
				writeUint(o.ID)
				h.Write(o.Trader[:])
				writeAmount(o.Price)
				writeAmount(o.Amount)
				writeAmount(o.Filled)
				return true
			})
		}
	}

	writeUint(a.orderSeq.Current())
	writeUint(a.tradeSeq.Current())

	var out common.Hash
	h.Sum(out[:0])
	return out
}
