package dex

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/custody"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/matching"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/sequence"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/token"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/validator"
	"github.com/uhyunpark/ledgerdex/pkg/events"
	"github.com/uhyunpark/ledgerdex/pkg/storage"
	"github.com/uhyunpark/ledgerdex/pkg/util"
)

// maxRecentTrades bounds the per-ticker trade history kept in memory
const maxRecentTrades = 500

type Config struct {
	Admin      common.Address
	Settlement asset.Ticker
	Tokens     token.Resolver

	// Optional collaborators
	Store     *storage.Store // nil keeps state in memory only
	Journal   storage.Journal
	Publisher events.Publisher
	Clock     util.Clock
	Logger    *zap.SugaredLogger
}

// App is the exchange state machine
// Every operation runs under one lock and either commits ledger, book,
// sequences and storage together or changes nothing.
type App struct {
	mu sync.Mutex

	registry  *asset.Registry
	ledger    *custody.Ledger
	books     *orderbook.Books
	validator *validator.Validator
	engine    *matching.Engine
	orderSeq  *sequence.Sequencer
	tradeSeq  *sequence.Sequencer
	recent    map[asset.Ticker][]matching.Trade

	store     *storage.Store
	journal   storage.Journal
	publisher events.Publisher
	clock     util.Clock
	logger    *zap.SugaredLogger
}

// New builds an App and restores any state found in cfg.Store
func New(cfg Config) (*App, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("dex: token resolver required")
	}
	if cfg.Settlement.IsZero() {
		return nil, fmt.Errorf("dex: settlement ticker required")
	}
	if cfg.Journal == nil {
		cfg.Journal = storage.NewNopJournal()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	registry := asset.NewRegistry(cfg.Admin, cfg.Settlement)
	ledger := custody.NewLedger(registry, cfg.Tokens, cfg.Logger)
	books := orderbook.NewBooks()

	a := &App{
		registry:  registry,
		ledger:    ledger,
		books:     books,
		validator: validator.New(registry, ledger, books),
		engine:    matching.New(cfg.Settlement),
		orderSeq:  sequence.New(0),
		tradeSeq:  sequence.New(0),
		recent:    make(map[asset.Ticker][]matching.Trade),
		store:     cfg.Store,
		journal:   cfg.Journal,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
	ledger.SetSink(func(ctx context.Context, cs *custody.Changeset) error {
		return a.persist(ctx, func(bw *storage.BatchWrite) error {
			return bw.SaveChangeset(cs)
		})
	})

	if cfg.Store != nil {
		if err := a.restore(); err != nil {
			return nil, fmt.Errorf("restore state: %w", err)
		}
	}
	return a, nil
}

// SetPublisher replaces the event publisher
// Used by the node to attach the websocket hub after the API is built.
func (a *App) SetPublisher(p events.Publisher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.publisher = p
}

// persist writes one operation's batch, plus the request nonce carried by ctx.
// It is a no-op without a store.
func (a *App) persist(ctx context.Context, fn func(bw *storage.BatchWrite) error) error {
	if a.store == nil {
		return nil
	}
	bw := a.store.NewBatch()
	defer bw.Close()

	if err := fn(bw); err != nil {
		return fmt.Errorf("stage batch: %w", err)
	}
	if n, ok := nonceFrom(ctx); ok {
		if err := bw.SaveNonce(n.trader, n.value); err != nil {
			return fmt.Errorf("stage nonce: %w", err)
		}
	}
	if err := bw.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func noWrites(*storage.BatchWrite) error { return nil }

func (a *App) record(op string, data any) {
	if err := a.journal.Append(op, data); err != nil {
		a.logger.Warnw("journal_append_failed", "op", op, "err", err)
	}
}

// RegisterAsset adds a tradable (or the settlement) asset; caller must be the admin
func (a *App) RegisterAsset(ctx context.Context, caller common.Address, ticker asset.Ticker, ref common.Address) (asset.Asset, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.registry.CanRegister(caller, ticker); err != nil {
		return asset.Asset{}, err
	}
	next := asset.Asset{Ticker: ticker, Ref: ref}
	if err := a.persist(ctx, func(bw *storage.BatchWrite) error { return bw.SaveAsset(next) }); err != nil {
		return asset.Asset{}, err
	}
	registered, err := a.registry.RegisterAsset(caller, ticker, ref)
	if err != nil {
		return asset.Asset{}, err
	}

	a.record("register_asset", map[string]string{"ticker": ticker.String(), "ref": ref.Hex()})
	a.logger.Infow("asset_registered", "ticker", ticker.String(), "ref", ref.Hex(),
		"settlement", a.registry.IsSettlement(ticker))
	return registered, nil
}

// Deposit moves amount of ticker from the trader's external account into escrow
func (a *App) Deposit(ctx context.Context, trader common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ledger.Deposit(ctx, trader, ticker, amount); err != nil {
		a.logger.Debugw("deposit_rejected", "trader", trader.Hex(), "ticker", ticker.String(), "err", err)
		return err
	}

	a.record("deposit", map[string]string{"trader": trader.Hex(), "ticker": ticker.String(), "amount": amount.Dec()})
	a.logger.Infow("deposit", "trader", trader.Hex(), "ticker", ticker.String(), "amount", amount.Dec())
	return nil
}

// Withdraw returns amount of ticker from escrow to the trader's external account
func (a *App) Withdraw(ctx context.Context, trader common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ledger.Withdraw(ctx, trader, ticker, amount); err != nil {
		a.logger.Debugw("withdraw_rejected", "trader", trader.Hex(), "ticker", ticker.String(), "err", err)
		return err
	}

	a.record("withdraw", map[string]string{"trader": trader.Hex(), "ticker": ticker.String(), "amount": amount.Dec()})
	a.logger.Infow("withdraw", "trader", trader.Hex(), "ticker", ticker.String(), "amount", amount.Dec())
	return nil
}

// CreateLimitOrder validates and rests a new order without matching it
func (a *App) CreateLimitOrder(ctx context.Context, trader common.Address, ticker asset.Ticker, amount, price *uint256.Int, side orderbook.Side) (uint64, error) {
	a.mu.Lock()
	o, err := a.createLimitOrderLocked(ctx, trader, ticker, amount, price, side)
	publisher := a.publisher
	a.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if err := publisher.PublishOrder(context.WithoutCancel(ctx), o); err != nil {
		a.logger.Warnw("publish_order_failed", "id", o.ID, "err", err)
	}
	return o.ID, nil
}

func (a *App) createLimitOrderLocked(ctx context.Context, trader common.Address, ticker asset.Ticker, amount, price *uint256.Int, side orderbook.Side) (orderbook.Order, error) {
	if err := a.validator.CheckLimit(trader, ticker, side, amount, price); err != nil {
		a.logger.Debugw("limit_order_rejected", "trader", trader.Hex(), "ticker", ticker.String(), "side", side.String(), "err", err)
		return orderbook.Order{}, err
	}

	o := &orderbook.Order{
		ID:        a.orderSeq.Peek(),
		Trader:    trader,
		Side:      side,
		Ticker:    ticker,
		Price:     price.Clone(),
		Amount:    amount.Clone(),
		Filled:    new(uint256.Int),
		CreatedAt: a.clock.Now().UnixMilli(),
	}
	err := a.persist(ctx, func(bw *storage.BatchWrite) error {
		if err := bw.SaveOrder(o); err != nil {
			return err
		}
		return bw.SaveSequence(storage.SeqOrder, o.ID)
	})
	if err != nil {
		return orderbook.Order{}, err
	}

	a.orderSeq.Next()
	if err := a.books.Book(ticker).Insert(o); err != nil {
		return orderbook.Order{}, err
	}

	snapshot := o.Clone()
	a.record("limit_order", events.NewOrder(snapshot))
	a.logger.Infow("limit_order_created", "id", o.ID, "trader", trader.Hex(), "ticker", ticker.String(),
		"side", side.String(), "amount", amount.Dec(), "price", price.Dec())
	return snapshot, nil
}

// CreateMarketOrder fills amount against the opposite side of the book
// The unfilled remainder is dropped. Returns the trades executed, possibly none.
func (a *App) CreateMarketOrder(ctx context.Context, trader common.Address, ticker asset.Ticker, amount *uint256.Int, side orderbook.Side) ([]matching.Trade, error) {
	a.mu.Lock()
	trades, err := a.createMarketOrderLocked(ctx, trader, ticker, amount, side)
	publisher := a.publisher
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, tr := range trades {
		if err := publisher.PublishTrade(context.WithoutCancel(ctx), tr); err != nil {
			a.logger.Warnw("publish_trade_failed", "id", tr.ID, "err", err)
		}
	}
	return trades, nil
}

func (a *App) createMarketOrderLocked(ctx context.Context, trader common.Address, ticker asset.Ticker, amount *uint256.Int, side orderbook.Side) ([]matching.Trade, error) {
	if err := a.validator.CheckMarket(trader, ticker, side, amount); err != nil {
		a.logger.Debugw("market_order_rejected", "trader", trader.Hex(), "ticker", ticker.String(), "side", side.String(), "err", err)
		return nil, err
	}

	book, ok := a.books.Lookup(ticker)
	if !ok {
		if err := a.persist(ctx, noWrites); err != nil {
			return nil, err
		}
		a.logger.Infow("market_order_unfilled", "trader", trader.Hex(), "ticker", ticker.String(), "amount", amount.Dec())
		return []matching.Trade{}, nil
	}

	cs := a.ledger.Stage()
	fills, err := a.engine.Match(matching.Taker{Trader: trader, Ticker: ticker, Side: side, Amount: amount}, book, cs)
	if err != nil {
		a.logger.Debugw("market_order_rejected", "trader", trader.Hex(), "ticker", ticker.String(), "side", side.String(), "err", err)
		return nil, err
	}

	now := a.clock.Now().UnixMilli()
	base := a.tradeSeq.Peek()
	trades := make([]matching.Trade, len(fills))
	for i, f := range fills {
		trades[i] = f.Trade(base+uint64(i), ticker, side, now)
	}

	err = a.persist(ctx, func(bw *storage.BatchWrite) error {
		if err := bw.SaveChangeset(cs); err != nil {
			return err
		}
		for i, f := range fills {
			maker, ok := book.Get(f.MakerID)
			if !ok {
				return fmt.Errorf("maker order %d vanished", f.MakerID)
			}
			after := maker.Clone()
			after.Filled.Add(after.Filled, f.Amount)
			if after.IsFilled() {
				if err := bw.DeleteOrder(ticker, after.Side, after.ID); err != nil {
					return err
				}
			} else if err := bw.SaveOrder(&after); err != nil {
				return err
			}
			if err := bw.SaveTrade(trades[i]); err != nil {
				return err
			}
		}
		if len(trades) > 0 {
			return bw.SaveSequence(storage.SeqTrade, trades[len(trades)-1].ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.ledger.Apply(cs)
	for _, f := range fills {
		if _, err := book.ApplyFill(f.MakerID, f.Amount); err != nil {
			// Persisted state is already ahead of memory here; only a restart recovers
			a.logger.Errorw("apply_fill_failed", "maker_id", f.MakerID, "err", err)
		}
	}
	if len(trades) > 0 {
		a.tradeSeq.Reset(trades[len(trades)-1].ID)
		a.remember(ticker, trades)
	}

	a.record("market_order", map[string]any{
		"trader": trader.Hex(), "ticker": ticker.String(), "side": side.String(),
		"amount": amount.Dec(), "fills": len(fills),
	})
	a.logger.Infow("market_order_executed", "trader", trader.Hex(), "ticker", ticker.String(),
		"side", side.String(), "amount", amount.Dec(), "fills", len(fills))
	return trades, nil
}

func (a *App) remember(ticker asset.Ticker, trades []matching.Trade) {
	kept := append(a.recent[ticker], trades...)
	if n := len(kept); n > maxRecentTrades {
		kept = append([]matching.Trade(nil), kept[n-maxRecentTrades:]...)
	}
	a.recent[ticker] = kept
}

// Close releases the store and journal handed to New
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.journal.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			a.logger.Warnw("journal_close_failed", "err", err)
		}
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
