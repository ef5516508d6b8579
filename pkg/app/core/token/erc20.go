package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
)

// erc20ABI is the subset of the ERC20 interface custody needs
const erc20ABI = `[
{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var parsedERC20ABI = mustParseABI(erc20ABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("erc20 abi: %v", err))
	}
	return parsed
}

// Backend is what an ERC20 handle needs from an Ethereum client
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// ERC20 is a Token backed by an on-chain ERC20 contract
// Transfers are signed by the custody key and wait until mined. A transfer the
// node rejects or that reverts wraps core.ErrTransferRefused; a failed wait for
// the receipt does not, since the transfer may still be mined.
type ERC20 struct {
	address  common.Address
	backend  Backend
	contract *bind.BoundContract
	auth     *bind.TransactOpts
}

// NewERC20 binds the contract at address
func NewERC20(address common.Address, backend Backend, auth *bind.TransactOpts) *ERC20 {
	return &ERC20{
		address:  address,
		backend:  backend,
		contract: bind.NewBoundContract(address, parsedERC20ABI, backend, backend, backend),
		auth:     auth,
	}
}

func (e *ERC20) Pull(ctx context.Context, from common.Address, amount *uint256.Int) error {
	return e.transact(ctx, "transferFrom", from, e.auth.From, amount.ToBig())
}

func (e *ERC20) Push(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return e.transact(ctx, "transfer", to, amount.ToBig())
}

func (e *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("balanceOf %s on %s: %w", owner.Hex(), e.address.Hex(), err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("balanceOf on %s: unexpected output length %d", e.address.Hex(), len(out))
	}

	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf on %s: unexpected output type %T", e.address.Hex(), out[0])
	}
	v, overflow := uint256.FromBig(bal)
	if overflow {
		return nil, core.ErrAmountOverflow
	}
	return v, nil
}

func (e *ERC20) transact(ctx context.Context, method string, args ...interface{}) error {
	opts := *e.auth
	opts.Context = ctx

	tx, err := e.contract.Transact(&opts, method, args...)
	if err != nil {
		return fmt.Errorf("%s on %s: %v: %w", method, e.address.Hex(), err, core.ErrTransferRefused)
	}

	receipt, err := bind.WaitMined(ctx, e.backend, tx)
	if err != nil {
		return fmt.Errorf("wait for %s (%s): %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s on %s reverted in tx %s: %w", method, e.address.Hex(), tx.Hash().Hex(), core.ErrTransferRefused)
	}
	return nil
}

// Dialer resolves asset refs to ERC20 handles over a single RPC connection
type Dialer struct {
	backend Backend
	auth    *bind.TransactOpts
	close   func()

	mu     sync.Mutex
	tokens map[common.Address]*ERC20
}

// NewDialer connects to rpcURL and signs with the hex-encoded custody key
func NewDialer(ctx context.Context, rpcURL, custodyKeyHex string, chainID *big.Int) (*Dialer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(custodyKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid custody key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("custody transactor: %w", err)
	}
	return newDialer(client, auth, client.Close), nil
}

func newDialer(backend Backend, auth *bind.TransactOpts, closeFn func()) *Dialer {
	return &Dialer{
		backend: backend,
		auth:    auth,
		close:   closeFn,
		tokens:  make(map[common.Address]*ERC20),
	}
}

// Custody is the address holding escrowed tokens on chain
func (d *Dialer) Custody() common.Address {
	return d.auth.From
}

func (d *Dialer) Resolve(ref common.Address) (Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.tokens[ref]; ok {
		return t, nil
	}
	t := NewERC20(ref, d.backend, d.auth)
	d.tokens[ref] = t
	return t, nil
}

func (d *Dialer) Close() {
	if d.close != nil {
		d.close()
	}
}
