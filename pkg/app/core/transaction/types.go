package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ledgerdex/pkg/crypto"
)

// RequestType names the exchange operation a signed request invokes
type RequestType string

const (
	TypeRegisterAsset RequestType = "register_asset"
	TypeDeposit       RequestType = "deposit"
	TypeWithdraw      RequestType = "withdraw"
	TypeLimitOrder    RequestType = "limit_order"
	TypeMarketOrder   RequestType = "market_order"
)

// SignedRequest is the envelope clients POST to the API
type SignedRequest struct {
	Type      RequestType `json:"type"`
	Request   Request     `json:"request"`
	Signature string      `json:"signature"` // hex, 65 bytes
}

// Request carries the signed fields; numbers are decimal strings
type Request struct {
	Ticker   string `json:"ticker"`
	Amount   string `json:"amount,omitempty"`
	Price    string `json:"price,omitempty"`
	Side     string `json:"side,omitempty"` // "buy" or "sell"
	AssetRef string `json:"assetRef,omitempty"`
	Nonce    string `json:"nonce"`
	Trader   string `json:"trader"`
}

// Parse decodes and validates a signed request
func Parse(data []byte) (*SignedRequest, error) {
	var req SignedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &req, nil
}

func (r *SignedRequest) Serialize() ([]byte, error) {
	return json.Marshal(r)
}

// Validate checks the fields each request type requires
func (r *SignedRequest) Validate() error {
	if r.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	if r.Request.Ticker == "" {
		return fmt.Errorf("missing ticker")
	}
	if !common.IsHexAddress(r.Request.Trader) {
		return fmt.Errorf("invalid trader address %q", r.Request.Trader)
	}
	if r.Request.Nonce == "" {
		return fmt.Errorf("missing nonce")
	}

	switch r.Type {
	case TypeRegisterAsset:
		if !common.IsHexAddress(r.Request.AssetRef) {
			return fmt.Errorf("invalid asset ref %q", r.Request.AssetRef)
		}
	case TypeDeposit, TypeWithdraw:
		if r.Request.Amount == "" {
			return fmt.Errorf("missing amount")
		}
	case TypeLimitOrder:
		if r.Request.Amount == "" || r.Request.Price == "" {
			return fmt.Errorf("limit order requires amount and price")
		}
		if _, err := sideCode(r.Request.Side); err != nil {
			return err
		}
	case TypeMarketOrder:
		if r.Request.Amount == "" {
			return fmt.Errorf("missing amount")
		}
		if _, err := sideCode(r.Request.Side); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown request type: %q", r.Type)
	}
	return nil
}

// ToEIP712 converts the request to its typed-data form
func (r *SignedRequest) ToEIP712() (*crypto.RequestEIP712, error) {
	amount, err := parseBig("amount", r.Request.Amount)
	if err != nil {
		return nil, err
	}
	price, err := parseBig("price", r.Request.Price)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", r.Request.Nonce)
	if err != nil {
		return nil, err
	}

	var side uint8
	if r.Request.Side != "" {
		if side, err = sideCode(r.Request.Side); err != nil {
			return nil, err
		}
	}

	out := &crypto.RequestEIP712{
		Kind:   string(r.Type),
		Ticker: r.Request.Ticker,
		Amount: amount,
		Price:  price,
		Side:   side,
		Nonce:  nonce,
		Trader: common.HexToAddress(r.Request.Trader),
	}
	if r.Request.AssetRef != "" {
		out.AssetRef = common.HexToAddress(r.Request.AssetRef)
	}
	return out, nil
}

// NonceValue returns the nonce as a uint64
func (r *SignedRequest) NonceValue() (uint64, error) {
	n, ok := new(big.Int).SetString(r.Request.Nonce, 10)
	if !ok || n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("invalid nonce: %q", r.Request.Nonce)
	}
	return n.Uint64(), nil
}

// sideCode matches orderbook.Side: buy=0, sell=1
func sideCode(s string) (uint8, error) {
	switch s {
	case "buy", "BUY":
		return 0, nil
	case "sell", "SELL":
		return 1, nil
	default:
		return 0, fmt.Errorf("invalid side: %q", s)
	}
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

// Example envelope:
//
//   {
//     "type": "limit_order",
//     "request": {
//       "ticker": "REP",
//       "amount": "10000000000000000000",
//       "price": "10",
//       "side": "buy",
//       "nonce": "1",
//       "trader": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
//     },
//     "signature": "0x..."
//   }
