package custody

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/token"
)

// transferTimeout bounds how long a deposit or withdrawal waits on the token
const transferTimeout = 2 * time.Minute

// Sink persists a changeset before the ledger publishes it in memory
// ctx is the caller's context and carries request-scoped values to the store.
type Sink func(ctx context.Context, cs *Changeset) error

// Entry is one trader balance
type Entry struct {
	Trader  common.Address
	Ticker  asset.Ticker
	Balance *uint256.Int
}

// HeldEntry is the total amount of one asset in external custody
type HeldEntry struct {
	Ticker asset.Ticker
	Amount *uint256.Int
}

// Ledger holds traders' escrowed balances per ticker
// It is the only component that talks to external tokens.
//
// Reads are safe from any goroutine. Mutations (Deposit, Withdraw, Commit,
// Apply) must be serialized by the caller; dex.App does this with its own lock.
type Ledger struct {
	mu       sync.RWMutex
	registry *asset.Registry
	tokens   token.Resolver
	balances map[common.Address]map[asset.Ticker]*uint256.Int
	held     map[asset.Ticker]*uint256.Int
	sink     Sink
	logger   *zap.SugaredLogger
}

// NewLedger creates an empty in-memory ledger
func NewLedger(registry *asset.Registry, tokens token.Resolver, logger *zap.SugaredLogger) *Ledger {
	return &Ledger{
		registry: registry,
		tokens:   tokens,
		balances: make(map[common.Address]map[asset.Ticker]*uint256.Int),
		held:     make(map[asset.Ticker]*uint256.Int),
		logger:   logger,
	}
}

// SetSink installs the persistence hook used by Commit
func (l *Ledger) SetSink(s Sink) {
	l.sink = s
}

// Deposit pulls amount of ticker from trader into custody and credits it
// The balance only changes after the external transfer succeeded. A pull whose
// outcome is unknown credits nothing and returns ErrTransferPending.
func (l *Ledger) Deposit(ctx context.Context, trader common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	tok, err := l.tokenFor(ticker)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return core.ErrInvalidAmount
	}

	cs := l.Stage()
	if err := cs.Credit(trader, ticker, amount); err != nil {
		return err
	}
	if err := cs.addHeld(ticker, amount); err != nil {
		return err
	}

	tctx, cancel := transferContext(ctx)
	defer cancel()
	if err := tok.Pull(tctx, trader, amount); err != nil {
		if errors.Is(err, core.ErrTransferRefused) {
			return fmt.Errorf("deposit %s %s from %s: %w", amount.Dec(), ticker, trader.Hex(), err)
		}
		l.logger.Errorw("deposit_transfer_unknown",
			"trader", trader.Hex(), "ticker", ticker.String(), "amount", amount.Dec(), "err", err)
		return fmt.Errorf("deposit %s %s from %s: %w: %w", amount.Dec(), ticker, trader.Hex(), core.ErrTransferPending, err)
	}

	if err := l.Commit(ctx, cs); err != nil {
		// Custody received the tokens but the credit could not be recorded;
		// hand them back so nothing is stranded.
		if perr := tok.Push(tctx, trader, amount); perr != nil {
			l.logger.Errorw("deposit_refund_failed",
				"trader", trader.Hex(), "ticker", ticker.String(), "amount", amount.Dec(), "err", perr)
		}
		return fmt.Errorf("deposit %s %s: %w", amount.Dec(), ticker, err)
	}
	return nil
}

// Withdraw debits trader's balance and then transfers amount back out
// Only a refused transfer reverses the debit. When the outcome is unknown the
// debit stands and ErrTransferPending is returned.
func (l *Ledger) Withdraw(ctx context.Context, trader common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	tok, err := l.tokenFor(ticker)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return core.ErrInvalidAmount
	}

	cs := l.Stage()
	if err := cs.Debit(trader, ticker, amount); err != nil {
		return err
	}
	if err := cs.subHeld(ticker, amount); err != nil {
		return err
	}
	if err := l.Commit(ctx, cs); err != nil {
		return fmt.Errorf("withdraw %s %s: %w", amount.Dec(), ticker, err)
	}

	tctx, cancel := transferContext(ctx)
	defer cancel()
	if err := tok.Push(tctx, trader, amount); err != nil {
		if !errors.Is(err, core.ErrTransferRefused) {
			l.logger.Errorw("withdraw_transfer_unknown",
				"trader", trader.Hex(), "ticker", ticker.String(), "amount", amount.Dec(), "err", err)
			return fmt.Errorf("withdraw %s %s to %s: %w: %w", amount.Dec(), ticker, trader.Hex(), core.ErrTransferPending, err)
		}
		if cerr := l.recredit(ctx, trader, ticker, amount); cerr != nil {
			l.logger.Errorw("withdraw_revert_failed",
				"trader", trader.Hex(), "ticker", ticker.String(), "amount", amount.Dec(), "err", cerr)
		}
		return fmt.Errorf("withdraw %s %s to %s: %w", amount.Dec(), ticker, trader.Hex(), err)
	}
	return nil
}

// transferContext keeps the caller's values but not its cancellation: once a
// transfer is sent its outcome has to be waited for even if the caller left
func transferContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), transferTimeout)
}

// recredit undoes a committed withdrawal debit
func (l *Ledger) recredit(ctx context.Context, trader common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	undo := l.Stage()
	if err := undo.Credit(trader, ticker, amount); err != nil {
		return err
	}
	if err := undo.addHeld(ticker, amount); err != nil {
		return err
	}
	return l.Commit(ctx, undo)
}

func (l *Ledger) tokenFor(ticker asset.Ticker) (token.Token, error) {
	a, err := l.registry.Asset(ticker)
	if err != nil {
		return nil, err
	}
	tok, err := l.tokens.Resolve(a.Ref)
	if err != nil {
		return nil, fmt.Errorf("token for %s: %w", ticker, err)
	}
	return tok, nil
}

// BalanceOf returns a copy of trader's balance, zero if never touched
func (l *Ledger) BalanceOf(trader common.Address, ticker asset.Ticker) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(trader, ticker).Clone()
}

// Balances returns copies of every nonzero balance of trader
func (l *Ledger) Balances(trader common.Address) map[asset.Ticker]*uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[asset.Ticker]*uint256.Int, len(l.balances[trader]))
	for t, bal := range l.balances[trader] {
		out[t] = bal.Clone()
	}
	return out
}

// Held is the amount of ticker the exchange holds in external custody
func (l *Ledger) Held(ticker asset.Ticker) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if h, ok := l.held[ticker]; ok {
		return h.Clone()
	}
	return new(uint256.Int)
}

// Total sums every trader's balance of ticker
// It equals Held(ticker) whenever the ledger is consistent
func (l *Ledger) Total(ticker asset.Ticker) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sum := new(uint256.Int)
	for _, byTicker := range l.balances {
		if bal, ok := byTicker[ticker]; ok {
			sum.Add(sum, bal)
		}
	}
	return sum
}

// Entries returns all nonzero balances ordered by trader, then ticker
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for trader, byTicker := range l.balances {
		for t, bal := range byTicker {
			out = append(out, Entry{Trader: trader, Ticker: t, Balance: bal.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Trader[:], out[j].Trader[:]); c != 0 {
			return c < 0
		}
		return out[i].Ticker.Compare(out[j].Ticker) < 0
	})
	return out
}

// HeldEntries returns custody totals ordered by ticker
func (l *Ledger) HeldEntries() []HeldEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]HeldEntry, 0, len(l.held))
	for t, h := range l.held {
		out = append(out, HeldEntry{Ticker: t, Amount: h.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ticker.Compare(out[j].Ticker) < 0
	})
	return out
}

// Restore loads a persisted balance without going through a changeset
func (l *Ledger) Restore(trader common.Address, ticker asset.Ticker, balance *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLocked(trader, ticker, balance)
}

// RestoreHeld loads a persisted custody total
func (l *Ledger) RestoreHeld(ticker asset.Ticker, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setHeldLocked(ticker, amount)
}

// Commit persists cs through the sink and then applies it
// When the sink fails nothing is applied
func (l *Ledger) Commit(ctx context.Context, cs *Changeset) error {
	if l.sink != nil {
		if err := l.sink(ctx, cs); err != nil {
			return err
		}
	}
	l.Apply(cs)
	return nil
}

// Apply publishes cs in memory without persisting it
func (l *Ledger) Apply(cs *Changeset) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, k := range cs.keys {
		l.setLocked(k.trader, k.ticker, cs.staged[k])
	}
	for _, t := range cs.heldKeys {
		l.setHeldLocked(t, cs.held[t])
	}
}

func (l *Ledger) balanceLocked(trader common.Address, ticker asset.Ticker) *uint256.Int {
	if byTicker, ok := l.balances[trader]; ok {
		if bal, ok := byTicker[ticker]; ok {
			return bal
		}
	}
	return new(uint256.Int)
}

func (l *Ledger) setLocked(trader common.Address, ticker asset.Ticker, v *uint256.Int) {
	if v.IsZero() {
		if byTicker, ok := l.balances[trader]; ok {
			delete(byTicker, ticker)
			if len(byTicker) == 0 {
				delete(l.balances, trader)
			}
		}
		return
	}
	byTicker, ok := l.balances[trader]
	if !ok {
		byTicker = make(map[asset.Ticker]*uint256.Int)
		l.balances[trader] = byTicker
	}
	byTicker[ticker] = v.Clone()
}

func (l *Ledger) setHeldLocked(ticker asset.Ticker, v *uint256.Int) {
	if v.IsZero() {
		delete(l.held, ticker)
		return
	}
	l.held[ticker] = v.Clone()
}
