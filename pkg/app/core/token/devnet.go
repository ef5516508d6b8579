package token

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Devnet resolves any asset ref to a Builtin token, creating it on first use
// It stands in for a chain so newly registered assets are depositable at once.
type Devnet struct {
	mu      sync.Mutex
	custody common.Address
	tokens  map[common.Address]*Builtin
}

func NewDevnet(custody common.Address) *Devnet {
	return &Devnet{custody: custody, tokens: make(map[common.Address]*Builtin)}
}

func (d *Devnet) Custody() common.Address { return d.custody }

// Builtin returns the token behind ref
func (d *Devnet) Builtin(ref common.Address) *Builtin {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.tokens[ref]
	if !ok {
		b = NewBuiltin(ref.Hex())
		d.tokens[ref] = b
	}
	return b
}

func (d *Devnet) Resolve(ref common.Address) (Token, error) {
	return d.Builtin(ref).Custodian(d.custody), nil
}

// Mint credits amount to `to` and raises its allowance for custody by the same
// amount, so the trader can deposit it straight away
func (d *Devnet) Mint(ref, to common.Address, amount *uint256.Int) error {
	b := d.Builtin(ref)
	if err := b.Faucet(to, amount); err != nil {
		return err
	}
	allowance, overflow := new(uint256.Int).AddOverflow(b.Allowance(to, d.custody), amount)
	if overflow {
		allowance.SetAllOne()
	}
	b.Approve(to, d.custody, allowance)
	return nil
}

var _ Resolver = (*Devnet)(nil)
