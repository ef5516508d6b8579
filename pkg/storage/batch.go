package storage

import (
	"encoding/json"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/custody"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/matching"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
)

// BatchWrite collects the writes of one operation and commits them atomically
type BatchWrite struct {
	batch *pebble.Batch
}

// NewBatch creates a new batch writer
func (s *Store) NewBatch() *BatchWrite {
	return &BatchWrite{batch: s.db.NewBatch()}
}

func (bw *BatchWrite) SaveAsset(a asset.Asset) error {
	data, err := json.Marshal(toAssetRecord(a))
	if err != nil {
		return err
	}
	return bw.batch.Set(assetKey(a.Ticker), data, nil)
}

// SaveBalance writes a balance; zero balances are deleted
func (bw *BatchWrite) SaveBalance(trader common.Address, ticker asset.Ticker, bal *uint256.Int) error {
	if bal.IsZero() {
		return bw.batch.Delete(balanceKey(trader, ticker), nil)
	}
	return bw.batch.Set(balanceKey(trader, ticker), []byte(bal.Dec()), nil)
}

func (bw *BatchWrite) SaveHeld(ticker asset.Ticker, amount *uint256.Int) error {
	if amount.IsZero() {
		return bw.batch.Delete(heldKey(ticker), nil)
	}
	return bw.batch.Set(heldKey(ticker), []byte(amount.Dec()), nil)
}

// SaveChangeset writes every balance and custody total staged in cs
func (bw *BatchWrite) SaveChangeset(cs *custody.Changeset) error {
	for _, e := range cs.Entries() {
		if err := bw.SaveBalance(e.Trader, e.Ticker, e.Balance); err != nil {
			return err
		}
	}
	for _, h := range cs.HeldEntries() {
		if err := bw.SaveHeld(h.Ticker, h.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (bw *BatchWrite) SaveOrder(o *orderbook.Order) error {
	data, err := json.Marshal(toOrderRecord(o))
	if err != nil {
		return err
	}
	return bw.batch.Set(orderKey(o.Ticker, o.Side, o.ID), data, nil)
}

func (bw *BatchWrite) DeleteOrder(ticker asset.Ticker, side orderbook.Side, id uint64) error {
	return bw.batch.Delete(orderKey(ticker, side, id), nil)
}

func (bw *BatchWrite) SaveTrade(tr matching.Trade) error {
	data, err := json.Marshal(toTradeRecord(tr))
	if err != nil {
		return err
	}
	return bw.batch.Set(tradeKey(tr.Ticker, tr.ID), data, nil)
}

// SaveSequence records the last value issued by the named sequencer
func (bw *BatchWrite) SaveSequence(name string, v uint64) error {
	return bw.batch.Set(seqKey(name), formatUint(v), nil)
}

// SaveNonce records the last signed-request nonce accepted from addr
func (bw *BatchWrite) SaveNonce(addr common.Address, nonce uint64) error {
	return bw.batch.Set(nonceKey(addr), formatUint(nonce), nil)
}

// Commit writes the batch to Pebble atomically
func (bw *BatchWrite) Commit() error {
	return bw.batch.Commit(pebble.Sync)
}

// Close releases the batch; uncommitted writes are discarded
func (bw *BatchWrite) Close() error {
	return bw.batch.Close()
}
