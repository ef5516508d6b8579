package custody

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
)

type balanceKey struct {
	trader common.Address
	ticker asset.Ticker
}

// Changeset stages balance moves on top of a ledger
// Nothing is visible to ledger readers until Commit or Apply.
// Keys are kept in first-touch order so persistence is deterministic.
type Changeset struct {
	ledger   *Ledger
	staged   map[balanceKey]*uint256.Int
	keys     []balanceKey
	held     map[asset.Ticker]*uint256.Int
	heldKeys []asset.Ticker
}

// Stage starts an empty changeset over the ledger's current state
func (l *Ledger) Stage() *Changeset {
	return &Changeset{
		ledger: l,
		staged: make(map[balanceKey]*uint256.Int),
		held:   make(map[asset.Ticker]*uint256.Int),
	}
}

// Balance returns the staged balance, falling back to the ledger
func (cs *Changeset) Balance(trader common.Address, ticker asset.Ticker) *uint256.Int {
	return cs.current(balanceKey{trader, ticker}).Clone()
}

// Credit adds amount to trader's staged balance
func (cs *Changeset) Credit(trader common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	k := balanceKey{trader, ticker}
	next, overflow := new(uint256.Int).AddOverflow(cs.current(k), amount)
	if overflow {
		return fmt.Errorf("credit %s %s: %w", trader.Hex(), ticker, core.ErrAmountOverflow)
	}
	cs.set(k, next)
	return nil
}

// Debit removes amount from trader's staged balance
// Fails with core.ErrInsufficientBalance instead of going negative
func (cs *Changeset) Debit(trader common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	k := balanceKey{trader, ticker}
	next, underflow := new(uint256.Int).SubOverflow(cs.current(k), amount)
	if underflow {
		return fmt.Errorf("debit %s %s from %s: %w", amount.Dec(), ticker, trader.Hex(), core.ErrInsufficientBalance)
	}
	cs.set(k, next)
	return nil
}

// Transfer moves amount between two traders
func (cs *Changeset) Transfer(from, to common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	if err := cs.Debit(from, ticker, amount); err != nil {
		return err
	}
	return cs.Credit(to, ticker, amount)
}

// Entries lists staged balances in first-touch order
func (cs *Changeset) Entries() []Entry {
	out := make([]Entry, 0, len(cs.keys))
	for _, k := range cs.keys {
		out = append(out, Entry{Trader: k.trader, Ticker: k.ticker, Balance: cs.staged[k].Clone()})
	}
	return out
}

// HeldEntries lists staged custody totals
func (cs *Changeset) HeldEntries() []HeldEntry {
	out := make([]HeldEntry, 0, len(cs.heldKeys))
	for _, t := range cs.heldKeys {
		out = append(out, HeldEntry{Ticker: t, Amount: cs.held[t].Clone()})
	}
	return out
}

func (cs *Changeset) Empty() bool {
	return len(cs.keys) == 0 && len(cs.heldKeys) == 0
}

func (cs *Changeset) addHeld(ticker asset.Ticker, amount *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(cs.currentHeld(ticker), amount)
	if overflow {
		return fmt.Errorf("custody total %s: %w", ticker, core.ErrAmountOverflow)
	}
	cs.setHeld(ticker, next)
	return nil
}

func (cs *Changeset) subHeld(ticker asset.Ticker, amount *uint256.Int) error {
	next, underflow := new(uint256.Int).SubOverflow(cs.currentHeld(ticker), amount)
	if underflow {
		// Balances never exceed the custody total, so this means the ledger is corrupt
		return fmt.Errorf("custody total %s below %s: %w", ticker, amount.Dec(), core.ErrInsufficientBalance)
	}
	cs.setHeld(ticker, next)
	return nil
}

func (cs *Changeset) current(k balanceKey) *uint256.Int {
	if v, ok := cs.staged[k]; ok {
		return v
	}
	cs.ledger.mu.RLock()
	defer cs.ledger.mu.RUnlock()
	return cs.ledger.balanceLocked(k.trader, k.ticker).Clone()
}

func (cs *Changeset) set(k balanceKey, v *uint256.Int) {
	if _, ok := cs.staged[k]; !ok {
		cs.keys = append(cs.keys, k)
	}
	cs.staged[k] = v
}

func (cs *Changeset) currentHeld(ticker asset.Ticker) *uint256.Int {
	if v, ok := cs.held[ticker]; ok {
		return v
	}
	return cs.ledger.Held(ticker)
}

func (cs *Changeset) setHeld(ticker asset.Ticker, v *uint256.Int) {
	if _, ok := cs.held[ticker]; !ok {
		cs.heldKeys = append(cs.heldKeys, ticker)
	}
	cs.held[ticker] = v
}
