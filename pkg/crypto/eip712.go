package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator for signed exchange requests
// It keeps signatures from replaying across chains or deployments
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // zero for off-chain signing
}

// DefaultDomain returns the LedgerDEX domain for chainID
func DefaultDomain(chainID int64) EIP712Domain {
	return EIP712Domain{
		Name:              "LedgerDEX",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: common.Address{},
	}
}

// RequestEIP712 is the typed data a trader (or the admin) signs
// Fields a kind does not use are zero: a deposit has no price or side, a
// registration has an asset ref but no amount.
type RequestEIP712 struct {
	Kind     string
	Ticker   string
	Amount   *big.Int
	Price    *big.Int
	Side     uint8
	AssetRef common.Address
	Nonce    *big.Int
	Trader   common.Address
}

var requestTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Request": []apitypes.Type{
		{Name: "kind", Type: "string"},
		{Name: "ticker", Type: "string"},
		{Name: "amount", Type: "uint256"},
		{Name: "price", Type: "uint256"},
		{Name: "side", Type: "uint8"},
		{Name: "assetRef", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "trader", Type: "address"},
	},
}

// EIP712Signer hashes, signs and recovers requests under one domain
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(req *RequestEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       requestTypes,
		PrimaryType: "Request",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":     req.Kind,
			"ticker":   req.Ticker,
			"amount":   bigOrZero(req.Amount).String(),
			"price":    bigOrZero(req.Price).String(),
			"side":     fmt.Sprintf("%d", req.Side),
			"assetRef": req.AssetRef.Hex(),
			"nonce":    bigOrZero(req.Nonce).String(),
			"trader":   req.Trader.Hex(),
		},
	}
}

// HashRequest returns the EIP-712 digest of req
// keccak256("\x19\x01" || domainSeparator || hashStruct(req))
func (e *EIP712Signer) HashRequest(req *RequestEIP712) ([]byte, error) {
	typedData := e.typedData(req)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) SignRequest(signer *Signer, req *RequestEIP712) ([]byte, error) {
	hash, err := e.HashRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash request: %w", err)
	}
	return signer.Sign(hash)
}

// RecoverRequestSigner returns the address that signed req
func (e *EIP712Signer) RecoverRequestSigner(req *RequestEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashRequest(req)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash request: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// RequestToJSON renders req as eth_signTypedData_v4 input for wallets
func (e *EIP712Signer) RequestToJSON(req *RequestEIP712) (string, error) {
	out, err := json.MarshalIndent(e.typedData(req), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
