package asset

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
)

// Asset binds a ticker to the external contract holding its units
type Asset struct {
	Ticker Ticker         `json:"ticker"`
	Ref    common.Address `json:"ref"`
}

// Registry maps tickers to assets in a thread-safe manner
// Registration is gated by the admin identity given at construction
type Registry struct {
	mu         sync.RWMutex
	admin      common.Address
	settlement Ticker
	assets     map[Ticker]Asset
}

// NewRegistry creates an empty registry
// settlement names the quote currency; it becomes depositable once registered
func NewRegistry(admin common.Address, settlement Ticker) *Registry {
	return &Registry{
		admin:      admin,
		settlement: settlement,
		assets:     make(map[Ticker]Asset),
	}
}

// RegisterAsset adds a new asset on behalf of caller
func (r *Registry) RegisterAsset(caller common.Address, ticker Ticker, ref common.Address) (Asset, error) {
	if caller != r.admin {
		return Asset{}, fmt.Errorf("register %s by %s: %w", ticker, caller.Hex(), core.ErrUnauthorized)
	}
	if ticker.IsZero() {
		return Asset{}, core.ErrInvalidTicker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[ticker]; exists {
		return Asset{}, fmt.Errorf("%s: %w", ticker, core.ErrDuplicateTicker)
	}

	a := Asset{Ticker: ticker, Ref: ref}
	r.assets[ticker] = a
	return a, nil
}

// CanRegister runs the RegisterAsset checks without registering anything
func (r *Registry) CanRegister(caller common.Address, ticker Ticker) error {
	if caller != r.admin {
		return fmt.Errorf("register %s by %s: %w", ticker, caller.Hex(), core.ErrUnauthorized)
	}
	if ticker.IsZero() {
		return core.ErrInvalidTicker
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.assets[ticker]; exists {
		return fmt.Errorf("%s: %w", ticker, core.ErrDuplicateTicker)
	}
	return nil
}

// Restore inserts a previously persisted asset without authorization
func (r *Registry) Restore(a Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[a.Ticker] = a
}

func (r *Registry) Exists(ticker Ticker) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.assets[ticker]
	return ok
}

func (r *Registry) IsSettlement(ticker Ticker) bool {
	return ticker == r.settlement
}

func (r *Registry) Settlement() Ticker {
	return r.settlement
}

func (r *Registry) Admin() common.Address {
	return r.admin
}

// Asset looks up a registered asset
func (r *Registry) Asset(ticker Ticker) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assets[ticker]
	if !ok {
		return Asset{}, fmt.Errorf("%s: %w", ticker, core.ErrUnknownTicker)
	}
	return a, nil
}

// List returns all assets sorted by ticker
func (r *Registry) List() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ticker.Compare(out[j].Ticker) < 0
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}
