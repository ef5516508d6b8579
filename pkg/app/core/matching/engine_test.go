package matching

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/custody"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/token"
)

var (
	admin = common.HexToAddress("0xAD00000000000000000000000000000000000000")
	alice = common.HexToAddress("0xA11CE00000000000000000000000000000000000")
	bob   = common.HexToAddress("0xB0B0000000000000000000000000000000000000")
	carol = common.HexToAddress("0xCA20100000000000000000000000000000000000")

	DAI = asset.MustTicker("DAI")
	REP = asset.MustTicker("REP")
)

type fixture struct {
	ledger *custody.Ledger
	book   *orderbook.Book
	engine *Engine
	nextID uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := asset.NewRegistry(admin, DAI)
	_, err := reg.RegisterAsset(admin, DAI, common.HexToAddress("0x01"))
	require.NoError(t, err)
	_, err = reg.RegisterAsset(admin, REP, common.HexToAddress("0x02"))
	require.NoError(t, err)

	return &fixture{
		ledger: custody.NewLedger(reg, token.NewDirectory(), zap.NewNop().Sugar()),
		book:   orderbook.NewBook(REP),
		engine: New(DAI),
	}
}

func (f *fixture) rest(t *testing.T, trader common.Address, side orderbook.Side, amount, price uint64) uint64 {
	t.Helper()
	f.nextID++
	require.NoError(t, f.book.Insert(&orderbook.Order{
		ID:     f.nextID,
		Trader: trader,
		Side:   side,
		Ticker: REP,
		Price:  uint256.NewInt(price),
		Amount: uint256.NewInt(amount),
	}))
	return f.nextID
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestMatchPartialFillAgainstBid(t *testing.T) {
	f := newFixture(t)
	f.ledger.Restore(alice, DAI, u(100))
	f.ledger.Restore(bob, REP, u(5))
	id := f.rest(t, alice, orderbook.Buy, 10, 10)

	cs := f.ledger.Stage()
	fills, err := f.engine.Match(Taker{Trader: bob, Ticker: REP, Side: orderbook.Sell, Amount: u(5)}, f.book, cs)
	require.NoError(t, err)
	require.Len(t, fills, 1)

	assert.Equal(t, id, fills[0].MakerID)
	assert.Equal(t, alice, fills[0].Maker)
	assert.Equal(t, bob, fills[0].Taker)
	assert.Equal(t, u(5), fills[0].Amount)
	assert.Equal(t, u(10), fills[0].Price)
	assert.Equal(t, u(50), fills[0].Cost())

	assert.Equal(t, u(50), cs.Balance(alice, DAI))
	assert.Equal(t, u(5), cs.Balance(alice, REP))
	assert.Equal(t, u(50), cs.Balance(bob, DAI))
	assert.True(t, cs.Balance(bob, REP).IsZero())

	// Matching leaves both the book and the ledger alone
	o, ok := f.book.Get(id)
	require.True(t, ok)
	assert.True(t, o.Filled.IsZero())
	assert.Equal(t, u(100), f.ledger.BalanceOf(alice, DAI))
}

func TestMatchWalksPriceTimeOrder(t *testing.T) {
	f := newFixture(t)
	f.ledger.Restore(alice, REP, u(30))
	f.ledger.Restore(carol, REP, u(10))
	f.ledger.Restore(bob, DAI, u(1000))

	first := f.rest(t, alice, orderbook.Sell, 10, 12)
	second := f.rest(t, alice, orderbook.Sell, 10, 11)
	third := f.rest(t, carol, orderbook.Sell, 10, 11)
	f.rest(t, alice, orderbook.Sell, 10, 13)

	cs := f.ledger.Stage()
	fills, err := f.engine.Match(Taker{Trader: bob, Ticker: REP, Side: orderbook.Buy, Amount: u(25)}, f.book, cs)
	require.NoError(t, err)
	require.Len(t, fills, 3)

	assert.Equal(t, []uint64{second, third, first}, []uint64{fills[0].MakerID, fills[1].MakerID, fills[2].MakerID})
	assert.Equal(t, u(5), fills[2].Amount)

	// 10*11 + 10*11 + 5*12
	assert.Equal(t, u(1000-280), cs.Balance(bob, DAI))
	assert.Equal(t, u(25), cs.Balance(bob, REP))
	assert.Equal(t, u(170), cs.Balance(alice, DAI))
	assert.Equal(t, u(110), cs.Balance(carol, DAI))
}

func TestMatchDropsUnfilledRemainder(t *testing.T) {
	f := newFixture(t)
	f.ledger.Restore(alice, DAI, u(100))
	f.ledger.Restore(bob, REP, u(50))
	f.rest(t, alice, orderbook.Buy, 5, 10)

	cs := f.ledger.Stage()
	fills, err := f.engine.Match(Taker{Trader: bob, Ticker: REP, Side: orderbook.Sell, Amount: u(50)}, f.book, cs)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, u(5), fills[0].Amount)
	assert.Equal(t, u(45), cs.Balance(bob, REP))
}

func TestMatchEmptyBook(t *testing.T) {
	f := newFixture(t)
	f.ledger.Restore(bob, DAI, u(100))

	cs := f.ledger.Stage()
	fills, err := f.engine.Match(Taker{Trader: bob, Ticker: REP, Side: orderbook.Buy, Amount: u(10)}, f.book, cs)
	require.NoError(t, err)
	assert.Empty(t, fills)
	assert.True(t, cs.Empty())
}

func TestMatchTakerSettlementShortfall(t *testing.T) {
	f := newFixture(t)
	f.ledger.Restore(alice, REP, u(20))
	f.ledger.Restore(bob, DAI, u(150))
	f.rest(t, alice, orderbook.Sell, 10, 10)
	f.rest(t, alice, orderbook.Sell, 10, 10)

	// First fill costs 100, the second would need another 100
	fills, err := f.engine.Match(Taker{Trader: bob, Ticker: REP, Side: orderbook.Buy, Amount: u(20)}, f.book, f.ledger.Stage())
	assert.ErrorIs(t, err, core.ErrInsufficientSettlementBalance)
	assert.Nil(t, fills)
	assert.Equal(t, u(150), f.ledger.BalanceOf(bob, DAI))
}

func TestMatchMakerShortfall(t *testing.T) {
	t.Run("resting sell without tokens", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Restore(bob, DAI, u(1000))
		f.rest(t, alice, orderbook.Sell, 10, 10)

		_, err := f.engine.Match(Taker{Trader: bob, Ticker: REP, Side: orderbook.Buy, Amount: u(10)}, f.book, f.ledger.Stage())
		require.ErrorIs(t, err, core.ErrInsufficientTokenBalance)
		assert.Contains(t, err.Error(), "maker order 1")
	})

	t.Run("resting buy without settlement", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Restore(bob, REP, u(10))
		f.rest(t, alice, orderbook.Buy, 10, 10)

		_, err := f.engine.Match(Taker{Trader: bob, Ticker: REP, Side: orderbook.Sell, Amount: u(10)}, f.book, f.ledger.Stage())
		require.ErrorIs(t, err, core.ErrInsufficientSettlementBalance)
		assert.Contains(t, err.Error(), "maker order 1")
	})
}

func TestMatchSelfTrade(t *testing.T) {
	f := newFixture(t)
	f.ledger.Restore(alice, DAI, u(100))
	f.ledger.Restore(alice, REP, u(10))
	f.rest(t, alice, orderbook.Buy, 10, 10)

	cs := f.ledger.Stage()
	fills, err := f.engine.Match(Taker{Trader: alice, Ticker: REP, Side: orderbook.Sell, Amount: u(10)}, f.book, cs)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, u(100), cs.Balance(alice, DAI))
	assert.Equal(t, u(10), cs.Balance(alice, REP))
}

func TestMatchRejectsBadTaker(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Match(Taker{Trader: bob, Ticker: REP, Side: orderbook.Buy, Amount: u(0)}, f.book, f.ledger.Stage())
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = f.engine.Match(Taker{Trader: bob, Ticker: REP, Side: orderbook.Side(9), Amount: u(1)}, f.book, f.ledger.Stage())
	assert.ErrorIs(t, err, core.ErrInvalidSide)

	_, err = f.engine.Match(Taker{Trader: bob, Ticker: DAI, Side: orderbook.Buy, Amount: u(1)}, f.book, f.ledger.Stage())
	assert.Error(t, err)
}

func TestFillTrade(t *testing.T) {
	fill := Fill{MakerID: 7, Maker: alice, Taker: bob, Price: u(3), Amount: u(4)}
	tr := fill.Trade(2, REP, orderbook.Sell, 1700000000000)

	assert.Equal(t, uint64(2), tr.ID)
	assert.Equal(t, uint64(7), tr.OrderID)
	assert.Equal(t, REP, tr.Ticker)
	assert.Equal(t, orderbook.Sell, tr.TakerSide)
	assert.Equal(t, u(4), tr.Amount)
	assert.Equal(t, int64(1700000000000), tr.Timestamp)
}
