package dex

import (
	"fmt"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/matching"
	"github.com/uhyunpark/ledgerdex/pkg/storage"
)

// restore rebuilds in-memory state from the store
func (a *App) restore() error {
	assets, err := a.store.LoadAssets()
	if err != nil {
		return err
	}
	for _, as := range assets {
		a.registry.Restore(as)
	}

	balances, err := a.store.LoadBalances()
	if err != nil {
		return err
	}
	for _, e := range balances {
		a.ledger.Restore(e.Trader, e.Ticker, e.Balance)
	}

	held, err := a.store.LoadHeld()
	if err != nil {
		return err
	}
	for _, h := range held {
		a.ledger.RestoreHeld(h.Ticker, h.Amount)
	}

	orders, err := a.store.LoadOrders()
	if err != nil {
		return err
	}
	for i := range orders {
		o := orders[i]
		if err := a.books.Book(o.Ticker).Insert(&o); err != nil {
			return fmt.Errorf("restore order %d: %w", o.ID, err)
		}
	}

	orderHead, err := a.store.LoadSequence(storage.SeqOrder)
	if err != nil {
		return err
	}
	tradeHead, err := a.store.LoadSequence(storage.SeqTrade)
	if err != nil {
		return err
	}
	a.orderSeq.Reset(orderHead)
	a.tradeSeq.Reset(tradeHead)

	trades := 0
	for _, as := range assets {
		newestFirst, err := a.store.LoadRecentTrades(as.Ticker, maxRecentTrades)
		if err != nil {
			return err
		}
		kept := make([]matching.Trade, 0, len(newestFirst))
		for i := len(newestFirst) - 1; i >= 0; i-- {
			kept = append(kept, newestFirst[i])
		}
		if len(kept) > 0 {
			a.recent[as.Ticker] = kept
		}
		trades += len(kept)
	}

	a.logger.Infow("state_restored",
		"assets", len(assets),
		"balances", len(balances),
		"orders", len(orders),
		"trades", trades,
		"order_seq", orderHead,
		"trade_seq", tradeHead,
	)
	return nil
}
