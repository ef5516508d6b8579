package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token moves units of one external asset in and out of exchange custody
// Implementations return an error wrapping core.ErrTransferRefused when the
// asset contract rejects a transfer
type Token interface {
	// Pull transfers amount from a trader into custody (transferFrom)
	Pull(ctx context.Context, from common.Address, amount *uint256.Int) error
	// Push transfers amount out of custody to a trader (transfer)
	Push(ctx context.Context, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
}

// Resolver finds the Token behind an asset's contract address
type Resolver interface {
	Resolve(ref common.Address) (Token, error)
}

// Directory is a static Resolver
type Directory struct {
	mu     sync.RWMutex
	tokens map[common.Address]Token
}

func NewDirectory() *Directory {
	return &Directory{tokens: make(map[common.Address]Token)}
}

// Add binds ref to t, replacing any previous binding
func (d *Directory) Add(ref common.Address, t Token) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[ref] = t
}

func (d *Directory) Resolve(ref common.Address) (Token, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.tokens[ref]
	if !ok {
		return nil, fmt.Errorf("no token bound to %s", ref.Hex())
	}
	return t, nil
}
