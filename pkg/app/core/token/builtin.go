package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
)

// Builtin is an in-memory ERC20-style token used on devnets and in tests
// It keeps balances and allowances the way an ERC20 contract would
type Builtin struct {
	mu         sync.Mutex
	symbol     string
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int // owner -> spender -> amount
}

// NewBuiltin creates an empty token
func NewBuiltin(symbol string) *Builtin {
	return &Builtin{
		symbol:     symbol,
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (b *Builtin) Symbol() string { return b.symbol }

// Faucet mints amount to an address
func (b *Builtin) Faucet(to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(b.supply, amount)
	if overflow {
		return fmt.Errorf("%s faucet: %w", b.symbol, core.ErrAmountOverflow)
	}
	b.supply = supply
	b.balances[to] = new(uint256.Int).Add(b.balanceLocked(to), amount)
	return nil
}

// Approve lets spender move up to amount of owner's tokens
func (b *Builtin) Approve(owner, spender common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.allowances[owner] == nil {
		b.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	b.allowances[owner][spender] = amount.Clone()
}

func (b *Builtin) Allowance(owner, spender common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowanceLocked(owner, spender).Clone()
}

// TotalSupply returns everything ever minted
func (b *Builtin) TotalSupply() *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.supply.Clone()
}

// Balance returns owner's token balance
func (b *Builtin) Balance(owner common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balanceLocked(owner).Clone()
}

// Transfer moves amount from one holder to another
func (b *Builtin) Transfer(from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transferLocked(from, to, amount)
}

// TransferFrom moves amount on owner's behalf, consuming spender's allowance
func (b *Builtin) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	allowed := b.allowanceLocked(from, spender)
	if allowed.Lt(amount) {
		return fmt.Errorf("%s transferFrom %s: allowance %s < %s: %w",
			b.symbol, from.Hex(), allowed.Dec(), amount.Dec(), core.ErrTransferRefused)
	}
	if err := b.transferLocked(from, to, amount); err != nil {
		return err
	}
	b.allowances[from][spender] = new(uint256.Int).Sub(allowed, amount)
	return nil
}

func (b *Builtin) transferLocked(from, to common.Address, amount *uint256.Int) error {
	have := b.balanceLocked(from)
	if have.Lt(amount) {
		return fmt.Errorf("%s transfer from %s: balance %s < %s: %w",
			b.symbol, from.Hex(), have.Dec(), amount.Dec(), core.ErrTransferRefused)
	}
	b.balances[from] = new(uint256.Int).Sub(have, amount)
	b.balances[to] = new(uint256.Int).Add(b.balanceLocked(to), amount)
	return nil
}

func (b *Builtin) balanceLocked(owner common.Address) *uint256.Int {
	if bal, ok := b.balances[owner]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (b *Builtin) allowanceLocked(owner, spender common.Address) *uint256.Int {
	if m, ok := b.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return new(uint256.Int)
}

// Custodian adapts the token to the Token interface with custody as the
// exchange's own holder address
func (b *Builtin) Custodian(custody common.Address) Token {
	return &builtinCustody{token: b, custody: custody}
}

type builtinCustody struct {
	token   *Builtin
	custody common.Address
}

func (c *builtinCustody) Pull(_ context.Context, from common.Address, amount *uint256.Int) error {
	return c.token.TransferFrom(c.custody, from, c.custody, amount)
}

func (c *builtinCustody) Push(_ context.Context, to common.Address, amount *uint256.Int) error {
	return c.token.Transfer(c.custody, to, amount)
}

func (c *builtinCustody) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	return c.token.Balance(owner), nil
}
