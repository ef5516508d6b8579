package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/token"
)

var (
	admin   = common.HexToAddress("0xAD00000000000000000000000000000000000000")
	custody = common.HexToAddress("0xC0000000000000000000000000000000000000DE")
	alice   = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob     = common.HexToAddress("0xBB00000000000000000000000000000000000000")

	daiRef = common.HexToAddress("0x0000000000000000000000000000000000000D41")

	DAI = asset.MustTicker("DAI")
	REP = asset.MustTicker("REP")
)

// failingToken refuses every push so withdraw reversal can be observed
type failingToken struct{ token.Token }

func (failingToken) Push(context.Context, common.Address, *uint256.Int) error {
	return core.ErrTransferRefused
}

// lostToken performs every transfer but then reports a failure that says
// nothing about the outcome, like a receipt wait cut short
type lostToken struct{ token.Token }

func (t lostToken) Pull(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if err := t.Token.Pull(ctx, from, amount); err != nil {
		return err
	}
	return context.Canceled
}

func (t lostToken) Push(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := t.Token.Push(ctx, to, amount); err != nil {
		return err
	}
	return context.Canceled
}

// strictToken fails transfers attempted on a done context
type strictToken struct{ token.Token }

func (t strictToken) Pull(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.Token.Pull(ctx, from, amount)
}

func (t strictToken) Push(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.Token.Push(ctx, to, amount)
}

func newTestLedger(t *testing.T) (*Ledger, *token.Builtin, *token.Directory) {
	t.Helper()

	reg := asset.NewRegistry(admin, DAI)
	if _, err := reg.RegisterAsset(admin, DAI, daiRef); err != nil {
		t.Fatalf("register DAI: %v", err)
	}

	dai := token.NewBuiltin("DAI")
	for _, trader := range []common.Address{alice, bob} {
		if err := dai.Faucet(trader, uint256.NewInt(1000)); err != nil {
			t.Fatalf("faucet: %v", err)
		}
		dai.Approve(trader, custody, uint256.NewInt(1000))
	}

	dir := token.NewDirectory()
	dir.Add(daiRef, dai.Custodian(custody))

	return NewLedger(reg, dir, zap.NewNop().Sugar()), dai, dir
}

func TestDeposit(t *testing.T) {
	l, dai, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.Deposit(ctx, alice, DAI, uint256.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if got := l.BalanceOf(alice, DAI); got.Uint64() != 1000 {
		t.Errorf("balance = %s, want 1000", got.Dec())
	}
	if got := dai.Balance(alice); !got.IsZero() {
		t.Errorf("external balance = %s, want 0", got.Dec())
	}
	if got := l.Held(DAI); got.Uint64() != 1000 {
		t.Errorf("held = %s, want 1000", got.Dec())
	}
}

func TestDepositErrors(t *testing.T) {
	l, dai, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.Deposit(ctx, alice, REP, uint256.NewInt(10)); !errors.Is(err, core.ErrUnknownTicker) {
		t.Errorf("unknown ticker err = %v, want ErrUnknownTicker", err)
	}
	if err := l.Deposit(ctx, alice, DAI, uint256.NewInt(0)); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("zero amount err = %v, want ErrInvalidAmount", err)
	}

	// More than approved: the pull is refused and nothing is credited
	if err := l.Deposit(ctx, alice, DAI, uint256.NewInt(1001)); !errors.Is(err, core.ErrTransferRefused) {
		t.Errorf("refused pull err = %v, want ErrTransferRefused", err)
	}
	if got := l.BalanceOf(alice, DAI); !got.IsZero() {
		t.Errorf("balance after refused pull = %s, want 0", got.Dec())
	}
	if got := dai.Balance(alice); got.Uint64() != 1000 {
		t.Errorf("external balance = %s, want 1000", got.Dec())
	}
}

func TestWithdraw(t *testing.T) {
	l, dai, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.Deposit(ctx, alice, DAI, uint256.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Withdraw(ctx, alice, DAI, uint256.NewInt(100)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if got := l.BalanceOf(alice, DAI); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got.Dec())
	}
	if got := dai.Balance(alice); got.Uint64() != 1000 {
		t.Errorf("external balance = %s, want 1000", got.Dec())
	}
	if got := l.Held(DAI); !got.IsZero() {
		t.Errorf("held = %s, want 0", got.Dec())
	}
}

func TestWithdrawErrors(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.Deposit(ctx, alice, DAI, uint256.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := l.Withdraw(ctx, alice, REP, uint256.NewInt(10)); !errors.Is(err, core.ErrUnknownTicker) {
		t.Errorf("unknown ticker err = %v, want ErrUnknownTicker", err)
	}
	if err := l.Withdraw(ctx, alice, DAI, uint256.NewInt(200)); !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("over-withdraw err = %v, want ErrInsufficientBalance", err)
	}
	if got := l.BalanceOf(alice, DAI); got.Uint64() != 100 {
		t.Errorf("balance after failed withdraw = %s, want 100", got.Dec())
	}
}

func TestWithdrawRevertsWhenPushRefused(t *testing.T) {
	l, dai, dir := newTestLedger(t)
	ctx := context.Background()

	if err := l.Deposit(ctx, alice, DAI, uint256.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	dir.Add(daiRef, failingToken{dai.Custodian(custody)})

	if err := l.Withdraw(ctx, alice, DAI, uint256.NewInt(60)); !errors.Is(err, core.ErrTransferRefused) {
		t.Fatalf("err = %v, want ErrTransferRefused", err)
	}
	if got := l.BalanceOf(alice, DAI); got.Uint64() != 100 {
		t.Errorf("balance = %s, want 100 after revert", got.Dec())
	}
	if got := l.Held(DAI); got.Uint64() != 100 {
		t.Errorf("held = %s, want 100 after revert", got.Dec())
	}
}

func TestWithdrawKeepsDebitWhenOutcomeUnknown(t *testing.T) {
	l, dai, dir := newTestLedger(t)
	ctx := context.Background()

	if err := l.Deposit(ctx, alice, DAI, uint256.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	dir.Add(daiRef, lostToken{dai.Custodian(custody)})

	err := l.Withdraw(ctx, alice, DAI, uint256.NewInt(100))
	if !errors.Is(err, core.ErrTransferPending) {
		t.Fatalf("err = %v, want ErrTransferPending", err)
	}
	if errors.Is(err, core.ErrTransferRefused) {
		t.Errorf("unknown outcome reported as refused: %v", err)
	}
	if got := l.BalanceOf(alice, DAI); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got.Dec())
	}
	if got := dai.Balance(alice); got.Uint64() != 1000 {
		t.Errorf("external balance = %s, want 1000", got.Dec())
	}
	// Escrow still matches what custody really holds
	if held, wallet := l.Held(DAI), dai.Balance(custody); !held.Eq(wallet) {
		t.Errorf("held = %s, custody wallet = %s", held.Dec(), wallet.Dec())
	}
	if total, held := l.Total(DAI), l.Held(DAI); !total.Eq(held) {
		t.Errorf("total = %s, held = %s", total.Dec(), held.Dec())
	}
}

func TestDepositCreditsNothingWhenOutcomeUnknown(t *testing.T) {
	l, dai, dir := newTestLedger(t)
	ctx := context.Background()
	dir.Add(daiRef, lostToken{dai.Custodian(custody)})

	if err := l.Deposit(ctx, alice, DAI, uint256.NewInt(100)); !errors.Is(err, core.ErrTransferPending) {
		t.Fatalf("err = %v, want ErrTransferPending", err)
	}
	if got := l.BalanceOf(alice, DAI); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got.Dec())
	}
	if got := l.Held(DAI); !got.IsZero() {
		t.Errorf("held = %s, want 0", got.Dec())
	}
}

func TestTransfersOutliveCallerCancellation(t *testing.T) {
	l, dai, dir := newTestLedger(t)
	dir.Add(daiRef, strictToken{dai.Custodian(custody)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Deposit(ctx, alice, DAI, uint256.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Withdraw(ctx, alice, DAI, uint256.NewInt(40)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := l.BalanceOf(alice, DAI); got.Uint64() != 60 {
		t.Errorf("balance = %s, want 60", got.Dec())
	}
	if got := dai.Balance(custody); got.Uint64() != 60 {
		t.Errorf("custody wallet = %s, want 60", got.Dec())
	}
}

func TestSinkFailureLeavesLedgerUntouched(t *testing.T) {
	l, dai, _ := newTestLedger(t)
	ctx := context.Background()
	l.SetSink(func(context.Context, *Changeset) error { return errors.New("disk full") })

	if err := l.Deposit(ctx, alice, DAI, uint256.NewInt(100)); err == nil {
		t.Fatalf("expected deposit to fail")
	}
	if got := l.BalanceOf(alice, DAI); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got.Dec())
	}
	// The pulled tokens were handed back
	if got := dai.Balance(alice); got.Uint64() != 1000 {
		t.Errorf("external balance = %s, want 1000", got.Dec())
	}
}

func TestChangesetStaging(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	if err := l.Deposit(ctx, alice, DAI, uint256.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	cs := l.Stage()
	if err := cs.Transfer(alice, bob, DAI, uint256.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := cs.Transfer(alice, bob, DAI, uint256.NewInt(61)); !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("overdraft err = %v, want ErrInsufficientBalance", err)
	}

	// Staged only
	if got := l.BalanceOf(bob, DAI); !got.IsZero() {
		t.Errorf("bob visible balance = %s before apply, want 0", got.Dec())
	}
	if got := cs.Balance(bob, DAI); got.Uint64() != 40 {
		t.Errorf("bob staged balance = %s, want 40", got.Dec())
	}

	entries := cs.Entries()
	if len(entries) != 2 || entries[0].Trader != alice || entries[1].Trader != bob {
		t.Errorf("entries not in first-touch order: %+v", entries)
	}

	l.Apply(cs)
	if got := l.BalanceOf(alice, DAI); got.Uint64() != 60 {
		t.Errorf("alice = %s, want 60", got.Dec())
	}
	if got := l.BalanceOf(bob, DAI); got.Uint64() != 40 {
		t.Errorf("bob = %s, want 40", got.Dec())
	}
	if l.Total(DAI).Cmp(l.Held(DAI)) != 0 {
		t.Errorf("total %s != held %s", l.Total(DAI).Dec(), l.Held(DAI).Dec())
	}
}
