package transaction

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ledgerdex/pkg/crypto"
)

func newSignedLimit(t *testing.T, v *Verifier, signer *crypto.Signer) *SignedRequest {
	t.Helper()
	req := &SignedRequest{
		Type: TypeLimitOrder,
		Request: Request{
			Ticker: "REP",
			Amount: "10000000000000000000",
			Price:  "10",
			Side:   "buy",
			Nonce:  "1",
			Trader: signer.Address().Hex(),
		},
	}
	if err := v.Sign(signer, req); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return req
}

func TestVerifySignedRequest(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	v := NewVerifier(crypto.DefaultDomain(1337))
	req := newSignedLimit(t, v, signer)

	data, err := req.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	trader, err := v.Verify(parsed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if trader != signer.Address() {
		t.Errorf("trader = %s, want %s", trader.Hex(), signer.Address().Hex())
	}
}

func TestVerifyRejectsImpersonation(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	victim, _ := crypto.GenerateKey()
	v := NewVerifier(crypto.DefaultDomain(1337))

	req := newSignedLimit(t, v, signer)
	req.Request.Trader = victim.Address().Hex()

	if _, err := v.Verify(req); !errors.Is(err, ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	v := NewVerifier(crypto.DefaultDomain(1337))

	req := newSignedLimit(t, v, signer)
	req.Request.Price = "1"
	if _, err := v.Verify(req); !errors.Is(err, ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}

	req = newSignedLimit(t, v, signer)
	req.Signature = "0x1234"
	if _, err := v.Verify(req); err == nil {
		t.Error("short signature accepted")
	}
}

func TestValidate(t *testing.T) {
	trader := common.HexToAddress("0x01").Hex()
	ref := common.HexToAddress("0x02").Hex()

	tests := []struct {
		name    string
		req     SignedRequest
		wantErr bool
	}{
		{"deposit", SignedRequest{Type: TypeDeposit, Signature: "0x1", Request: Request{Ticker: "DAI", Amount: "1", Nonce: "1", Trader: trader}}, false},
		{"deposit without amount", SignedRequest{Type: TypeDeposit, Signature: "0x1", Request: Request{Ticker: "DAI", Nonce: "1", Trader: trader}}, true},
		{"register", SignedRequest{Type: TypeRegisterAsset, Signature: "0x1", Request: Request{Ticker: "MKR", AssetRef: ref, Nonce: "1", Trader: trader}}, false},
		{"register without ref", SignedRequest{Type: TypeRegisterAsset, Signature: "0x1", Request: Request{Ticker: "MKR", Nonce: "1", Trader: trader}}, true},
		{"limit without price", SignedRequest{Type: TypeLimitOrder, Signature: "0x1", Request: Request{Ticker: "REP", Amount: "1", Side: "buy", Nonce: "1", Trader: trader}}, true},
		{"market bad side", SignedRequest{Type: TypeMarketOrder, Signature: "0x1", Request: Request{Ticker: "REP", Amount: "1", Side: "hold", Nonce: "1", Trader: trader}}, true},
		{"unsigned", SignedRequest{Type: TypeWithdraw, Request: Request{Ticker: "DAI", Amount: "1", Nonce: "1", Trader: trader}}, true},
		{"bad trader", SignedRequest{Type: TypeWithdraw, Signature: "0x1", Request: Request{Ticker: "DAI", Amount: "1", Nonce: "1", Trader: "alice"}}, true},
		{"unknown type", SignedRequest{Type: "cancel", Signature: "0x1", Request: Request{Ticker: "DAI", Nonce: "1", Trader: trader}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type memNonces map[common.Address]uint64

func (m memNonces) LoadNonce(addr common.Address) (uint64, bool, error) {
	n, ok := m[addr]
	return n, ok, nil
}

func TestNonceTracker(t *testing.T) {
	addr := common.HexToAddress("0x01")
	store := memNonces{addr: 4}
	tracker := NewNonceTracker(store)
	// persist stands in for an operation that writes the nonce with its batch
	persist := func(n uint64) func() error {
		return func() error { store[addr] = n; return nil }
	}

	if err := tracker.Use(addr, 4, persist(4)); !errors.Is(err, ErrStaleNonce) {
		t.Errorf("replayed persisted nonce: err = %v", err)
	}
	if err := tracker.Use(addr, 5, persist(5)); err != nil {
		t.Fatalf("fresh nonce: %v", err)
	}
	if last, ok, _ := tracker.Last(addr); !ok || last != 5 {
		t.Errorf("last = %d, %v, want 5", last, ok)
	}

	// An operation rejected before writing anything does not burn the nonce
	boom := errors.New("boom")
	if err := tracker.Use(addr, 6, func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if err := tracker.Use(addr, 6, persist(6)); err != nil {
		t.Errorf("retry after failure: %v", err)
	}

	// Gaps are fine, going back is not
	if err := tracker.Use(addr, 100, persist(100)); err != nil {
		t.Errorf("gap: %v", err)
	}
	if err := tracker.Use(addr, 99, persist(99)); !errors.Is(err, ErrStaleNonce) {
		t.Errorf("lower nonce err = %v", err)
	}

	// First nonce from a new trader may be zero
	fresh := common.HexToAddress("0x02")
	if err := tracker.Use(fresh, 0, func() error { return nil }); err != nil {
		t.Errorf("zero nonce for new trader: %v", err)
	}
}

func TestNonceTrackerFollowsStoreAfterPartialFailure(t *testing.T) {
	addr := common.HexToAddress("0x01")
	store := memNonces{}
	tracker := NewNonceTracker(store)

	// The operation committed its first batch, nonce included, then failed
	pending := errors.New("transfer outcome unknown")
	err := tracker.Use(addr, 1, func() error {
		store[addr] = 1
		return pending
	})
	if !errors.Is(err, pending) {
		t.Fatalf("err = %v, want pending", err)
	}
	if err := tracker.Use(addr, 1, func() error { return nil }); !errors.Is(err, ErrStaleNonce) {
		t.Errorf("nonce persisted by a failed operation was reusable: err = %v", err)
	}
}

func TestNonceTrackerInMemory(t *testing.T) {
	addr := common.HexToAddress("0x01")
	tracker := NewNonceTracker(nil)
	ok := func() error { return nil }

	if err := tracker.Use(addr, 1, ok); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Use(addr, 1, ok); !errors.Is(err, ErrStaleNonce) {
		t.Errorf("replay err = %v", err)
	}
	if err := tracker.Use(addr, 2, func() error { return errors.New("boom") }); err == nil {
		t.Fatal("expected failure")
	}
	if err := tracker.Use(addr, 2, ok); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestNonceValue(t *testing.T) {
	r := SignedRequest{Request: Request{Nonce: "42"}}
	if n, err := r.NonceValue(); err != nil || n != 42 {
		t.Errorf("got %d, %v", n, err)
	}
	r.Request.Nonce = "-1"
	if _, err := r.NonceValue(); err == nil {
		t.Error("negative nonce accepted")
	}
}
