package transaction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrStaleNonce = errors.New("nonce already used")

// NonceStore reads the last nonce persisted for a trader
// Writing it is the guarded operation's job: the nonce goes into the same
// batch as the state change it authorizes (see dex.WithNonce).
type NonceStore interface {
	LoadNonce(addr common.Address) (uint64, bool, error)
}

// NonceTracker enforces strictly increasing nonces per trader
// A nonce is consumed exactly when the guarded operation persisted it, so a
// request rejected before any state changed can be resubmitted unchanged.
type NonceTracker struct {
	mu    sync.Mutex
	store NonceStore // nil keeps nonces in memory
	last  map[common.Address]uint64
}

func NewNonceTracker(store NonceStore) *NonceTracker {
	return &NonceTracker{store: store, last: make(map[common.Address]uint64)}
}

// Use runs fn if nonce is fresh for addr and records it when fn succeeds
func (t *NonceTracker) Use(addr common.Address, nonce uint64, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, seen, err := t.lastLocked(addr)
	if err != nil {
		return err
	}
	if seen && nonce <= last {
		return fmt.Errorf("%w: %d, last %d", ErrStaleNonce, nonce, last)
	}

	if err := fn(); err != nil {
		// fn may have committed part of its work, nonce included, before
		// failing. The store decides on the next lookup.
		if t.store != nil {
			delete(t.last, addr)
		}
		return err
	}

	t.last[addr] = nonce
	return nil
}

// Last returns the last accepted nonce for addr
func (t *NonceTracker) Last(addr common.Address) (uint64, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLocked(addr)
}

func (t *NonceTracker) lastLocked(addr common.Address) (uint64, bool, error) {
	if n, ok := t.last[addr]; ok {
		return n, true, nil
	}
	if t.store == nil {
		return 0, false, nil
	}
	n, ok, err := t.store.LoadNonce(addr)
	if err != nil {
		return 0, false, fmt.Errorf("load nonce: %w", err)
	}
	if ok {
		t.last[addr] = n
	}
	return n, ok, nil
}
