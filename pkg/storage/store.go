package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/custody"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/matching"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
)

// Store provides Pebble-based persistence for exchange state
// Writes go through BatchWrite so one operation lands atomically;
// dex.App serializes them.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at the given path
func Open(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// get returns nil, nil for missing keys
func (s *Store) get(key []byte) ([]byte, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// scan calls fn for every key under prefix in key order
func (s *Store) scan(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator on %q: %w", prefix, err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			iter.Close()
			return err
		}
	}
	return iter.Close()
}

// LoadAssets returns every registered asset ordered by ticker
func (s *Store) LoadAssets() ([]asset.Asset, error) {
	var out []asset.Asset
	err := s.scan([]byte(prefixAsset), func(_, v []byte) error {
		var rec assetRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal asset: %w", err)
		}
		a, err := rec.asset()
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// LoadBalances returns every nonzero trader balance
func (s *Store) LoadBalances() ([]custody.Entry, error) {
	var out []custody.Entry
	err := s.scan([]byte(prefixBalance), func(k, v []byte) error {
		trader, ticker, err := parseBalanceKey(k)
		if err != nil {
			return err
		}
		bal, err := decodeAmount(string(v))
		if err != nil {
			return fmt.Errorf("balance %s %s: %w", trader.Hex(), ticker, err)
		}
		out = append(out, custody.Entry{Trader: trader, Ticker: ticker, Balance: bal})
		return nil
	})
	return out, err
}

// LoadHeld returns the custody total of every asset
func (s *Store) LoadHeld() ([]custody.HeldEntry, error) {
	var out []custody.HeldEntry
	err := s.scan([]byte(prefixHeld), func(k, v []byte) error {
		ticker, err := parseHeldKey(k)
		if err != nil {
			return err
		}
		amt, err := decodeAmount(string(v))
		if err != nil {
			return fmt.Errorf("held %s: %w", ticker, err)
		}
		out = append(out, custody.HeldEntry{Ticker: ticker, Amount: amt})
		return nil
	})
	return out, err
}

// LoadOrders returns every resting order grouped by ticker and side, in id order
func (s *Store) LoadOrders() ([]orderbook.Order, error) {
	var out []orderbook.Order
	err := s.scan([]byte(prefixOrder), func(_, v []byte) error {
		var rec orderRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		o, err := rec.order()
		if err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

// LoadRecentTrades returns up to limit trades of ticker, newest first
func (s *Store) LoadRecentTrades(ticker asset.Ticker, limit int) ([]matching.Trade, error) {
	prefix := tradePrefix(ticker)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	trades := []matching.Trade{}
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var rec tradeRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade: %w", err)
		}
		tr, err := rec.trade()
		if err != nil {
			return nil, err
		}
		trades = append(trades, tr)
	}
	return trades, nil
}

// LoadSequence returns the last value issued by the named sequencer, 0 if none
func (s *Store) LoadSequence(name string) (uint64, error) {
	data, err := s.get(seqKey(name))
	if err != nil || data == nil {
		return 0, err
	}
	v, err := parseUint(data)
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", name, err)
	}
	return v, nil
}

// LoadNonce returns the last nonce accepted from addr
func (s *Store) LoadNonce(addr common.Address) (uint64, bool, error) {
	data, err := s.get(nonceKey(addr))
	if err != nil || data == nil {
		return 0, false, err
	}
	v, err := parseUint(data)
	if err != nil {
		return 0, false, fmt.Errorf("nonce %s: %w", addr.Hex(), err)
	}
	return v, true, nil
}
