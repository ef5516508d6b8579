package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ledgerdex/pkg/crypto"
)

var ErrBadSignature = errors.New("signature does not match trader")

// Verifier checks that a request was signed by the trader it names
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify returns the trader once the signature checks out
func (v *Verifier) Verify(req *SignedRequest) (common.Address, error) {
	typed, err := req.ToEIP712()
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid request format: %w", err)
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	signer, err := v.eip712Signer.RecoverRequestSigner(typed, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != typed.Trader {
		return common.Address{}, fmt.Errorf("%w: recovered %s, trader %s", ErrBadSignature, signer.Hex(), typed.Trader.Hex())
	}
	return signer, nil
}

// Sign fills in req.Signature; used by clients and tests
func (v *Verifier) Sign(signer *crypto.Signer, req *SignedRequest) error {
	typed, err := req.ToEIP712()
	if err != nil {
		return err
	}
	sig, err := v.eip712Signer.SignRequest(signer, typed)
	if err != nil {
		return err
	}
	req.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}
