package orderbook

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tidwall/btree"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
)

// PriceLevel aggregates resting quantity at one price
type PriceLevel struct {
	Price *uint256.Int
	Qty   *uint256.Int
}

// Book holds the resting orders of one ticker
// Bids sort by price descending, asks by price ascending; equal prices keep
// id (creation) order. Book is not synchronized, callers serialize access.
type Book struct {
	ticker asset.Ticker
	bids   *btree.BTreeG[*Order]
	asks   *btree.BTreeG[*Order]

	index    map[uint64]*Order                    // id -> order
	byTrader map[common.Address]map[uint64]*Order // trader -> id -> order
}

func bidLess(a, b *Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	return a.ID < b.ID
}

func askLess(a, b *Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

// NewBook creates an empty book for ticker
func NewBook(ticker asset.Ticker) *Book {
	return &Book{
		ticker:   ticker,
		bids:     btree.NewBTreeG(bidLess),
		asks:     btree.NewBTreeG(askLess),
		index:    make(map[uint64]*Order),
		byTrader: make(map[common.Address]map[uint64]*Order),
	}
}

func (b *Book) Ticker() asset.Ticker { return b.ticker }

func (b *Book) side(s Side) *btree.BTreeG[*Order] {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order at its price-time position
func (b *Book) Insert(o *Order) error {
	if o.Ticker != b.ticker {
		return fmt.Errorf("order %d for %s inserted into %s book", o.ID, o.Ticker, b.ticker)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("order %d has invalid side %d", o.ID, o.Side)
	}
	if _, exists := b.index[o.ID]; exists {
		return fmt.Errorf("order %d already in book", o.ID)
	}
	if o.Filled == nil {
		o.Filled = new(uint256.Int)
	}

	b.side(o.Side).Set(o)
	b.index[o.ID] = o

	mine, ok := b.byTrader[o.Trader]
	if !ok {
		mine = make(map[uint64]*Order)
		b.byTrader[o.Trader] = mine
	}
	mine[o.ID] = o
	return nil
}

// Front returns the best order on a side
func (b *Book) Front(s Side) (*Order, bool) {
	return b.side(s).Min()
}

// Scan walks a side from the front until fn returns false
// fn must not mutate the book
func (b *Book) Scan(s Side, fn func(o *Order) bool) {
	b.side(s).Scan(fn)
}

// Orders returns copies of a side's orders in book order
func (b *Book) Orders(s Side) []Order {
	out := make([]Order, 0, b.side(s).Len())
	b.side(s).Scan(func(o *Order) bool {
		out = append(out, o.Clone())
		return true
	})
	return out
}

// Levels aggregates a side into price levels in book order
func (b *Book) Levels(s Side) []PriceLevel {
	var levels []PriceLevel
	b.side(s).Scan(func(o *Order) bool {
		rem := o.Remaining()
		if n := len(levels); n > 0 && levels[n-1].Price.Eq(o.Price) {
			levels[n-1].Qty.Add(levels[n-1].Qty, rem)
			return true
		}
		levels = append(levels, PriceLevel{Price: o.Price.Clone(), Qty: rem})
		return true
	})
	return levels
}

func (b *Book) Get(id uint64) (*Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

func (b *Book) Len(s Side) int {
	return b.side(s).Len()
}

// ApplyFill records qty matched against a resting order
// The order leaves the book once fully filled. Returns whether it left.
func (b *Book) ApplyFill(id uint64, qty *uint256.Int) (bool, error) {
	o, ok := b.index[id]
	if !ok {
		return false, fmt.Errorf("fill for unknown order %d", id)
	}
	if o.Remaining().Lt(qty) {
		return false, fmt.Errorf("fill of %s exceeds remaining %s on order %d", qty.Dec(), o.Remaining().Dec(), id)
	}

	o.Filled = new(uint256.Int).Add(o.Filled, qty)
	if o.IsFilled() {
		b.remove(o)
		return true, nil
	}
	return false, nil
}

func (b *Book) remove(o *Order) {
	b.side(o.Side).Delete(o)
	delete(b.index, o.ID)
	if mine, ok := b.byTrader[o.Trader]; ok {
		delete(mine, o.ID)
		if len(mine) == 0 {
			delete(b.byTrader, o.Trader)
		}
	}
}

// TraderOrders returns copies of trader's resting orders ordered by id
func (b *Book) TraderOrders(trader common.Address) []Order {
	mine := b.byTrader[trader]
	out := make([]Order, 0, len(mine))
	for _, o := range mine {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Exposure is the settlement amount trader's resting bids would consume:
// the sum of price*(amount-filled). ok is false on 256-bit overflow.
func (b *Book) Exposure(trader common.Address) (sum *uint256.Int, ok bool) {
	sum = new(uint256.Int)
	for _, o := range b.byTrader[trader] {
		if o.Side != Buy {
			continue
		}
		cost, overflow := new(uint256.Int).MulOverflow(o.Price, o.Remaining())
		if overflow {
			return nil, false
		}
		if _, overflow = sum.AddOverflow(sum, cost); overflow {
			return nil, false
		}
	}
	return sum, true
}

// Books holds one Book per ticker
type Books struct {
	mu    sync.RWMutex
	books map[asset.Ticker]*Book
}

func NewBooks() *Books {
	return &Books{books: make(map[asset.Ticker]*Book)}
}

// Book returns the book for ticker, creating it on first use
func (bs *Books) Book(ticker asset.Ticker) *Book {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if b, ok := bs.books[ticker]; ok {
		return b
	}
	b := NewBook(ticker)
	bs.books[ticker] = b
	return b
}

func (bs *Books) Lookup(ticker asset.Ticker) (*Book, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	b, ok := bs.books[ticker]
	return b, ok
}

// Orders is a snapshot of one side, empty for tickers without a book
func (bs *Books) Orders(ticker asset.Ticker, s Side) []Order {
	b, ok := bs.Lookup(ticker)
	if !ok {
		return []Order{}
	}
	return b.Orders(s)
}

// Tickers lists tickers that have a book, sorted
func (bs *Books) Tickers() []asset.Ticker {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	out := make([]asset.Ticker, 0, len(bs.books))
	for t := range bs.books {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}
