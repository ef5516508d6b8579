package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/asset"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
)

// Key schema for Pebble storage
//
//   asset:<ticker-hex>                  → asset record (JSON)
//   bal:<address>:<ticker-hex>          → balance (decimal)
//   held:<ticker-hex>                   → custody total (decimal)
//   ord:<ticker-hex>:<side>:<id>        → resting order (JSON)
//   trade:<ticker-hex>:<id>             → trade (JSON)
//   seq:<name>                          → last issued sequence value
//   nonce:<address>                     → last accepted request nonce
//
// Ids are zero-padded to 20 digits so keys sort numerically.

const (
	prefixAsset   = "asset:"
	prefixBalance = "bal:"
	prefixHeld    = "held:"
	prefixOrder   = "ord:"
	prefixTrade   = "trade:"
	prefixSeq     = "seq:"
	prefixNonce   = "nonce:"
)

// Sequence names
const (
	SeqOrder = "order"
	SeqTrade = "trade"
)

func assetKey(t asset.Ticker) []byte {
	return []byte(prefixAsset + t.Hex())
}

// Format: "bal:{address}:{ticker-hex}"
func balanceKey(trader common.Address, t asset.Ticker) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, trader.Hex(), t.Hex()))
}

func parseBalanceKey(k []byte) (common.Address, asset.Ticker, error) {
	rest := strings.TrimPrefix(string(k), prefixBalance)
	addr, tickerHex, ok := strings.Cut(rest, ":")
	if !ok || !common.IsHexAddress(addr) {
		return common.Address{}, asset.Ticker{}, fmt.Errorf("malformed balance key %q", k)
	}
	t, err := asset.TickerFromHex(tickerHex)
	if err != nil {
		return common.Address{}, asset.Ticker{}, fmt.Errorf("balance key %q: %w", k, err)
	}
	return common.HexToAddress(addr), t, nil
}

func heldKey(t asset.Ticker) []byte {
	return []byte(prefixHeld + t.Hex())
}

func parseHeldKey(k []byte) (asset.Ticker, error) {
	return asset.TickerFromHex(strings.TrimPrefix(string(k), prefixHeld))
}

// Format: "ord:{ticker-hex}:{side}:{id}"
func orderKey(t asset.Ticker, side orderbook.Side, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d:%020d", prefixOrder, t.Hex(), uint8(side), id))
}

// Format: "trade:{ticker-hex}:{id}"
func tradeKey(t asset.Ticker, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, t.Hex(), id))
}

func tradePrefix(t asset.Ticker) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, t.Hex()))
}

func seqKey(name string) []byte {
	return []byte(prefixSeq + name)
}

func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func formatUint(v uint64) []byte {
	return []byte(strconv.FormatUint(v, 10))
}

func parseUint(b []byte) (uint64, error) {
	return strconv.ParseUint(string(b), 10, 64)
}
