package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/transaction"
	"github.com/uhyunpark/ledgerdex/pkg/crypto"
)

// endpoints maps request types to the API route that accepts them
var endpoints = map[transaction.RequestType]string{
	transaction.TypeRegisterAsset: "/api/v1/assets",
	transaction.TypeDeposit:       "/api/v1/deposits",
	transaction.TypeWithdraw:      "/api/v1/withdrawals",
	transaction.TypeLimitOrder:    "/api/v1/orders/limit",
	transaction.TypeMarketOrder:   "/api/v1/orders/market",
}

func main() {
	var (
		key     = flag.String("key", "", "hex private key (a new one is generated if empty)")
		typ     = flag.String("type", string(transaction.TypeLimitOrder), "register_asset|deposit|withdraw|limit_order|market_order")
		ticker  = flag.String("ticker", "REP", "asset ticker")
		amount  = flag.String("amount", "10", "amount in base units")
		price   = flag.String("price", "", "limit price in settlement units")
		side    = flag.String("side", "buy", "buy or sell (orders only)")
		ref     = flag.String("ref", "", "asset contract address (register_asset only)")
		nonce   = flag.String("nonce", "1", "request nonce, strictly increasing per trader")
		chainID = flag.Int64("chain-id", 1337, "EIP-712 domain chain id")
		apiURL  = flag.String("api", "http://localhost:8080", "API base URL for the curl hint")
	)
	flag.Parse()

	// Step 1: Generate or load key
	signer, err := loadSigner(*key)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	if *key == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println()

	// Step 2: Build request
	reqType := transaction.RequestType(*typ)
	req := &transaction.SignedRequest{
		Type: reqType,
		Request: transaction.Request{
			Ticker: *ticker,
			Nonce:  *nonce,
			Trader: signer.Address().Hex(),
		},
	}
	switch reqType {
	case transaction.TypeRegisterAsset:
		req.Request.AssetRef = *ref
	case transaction.TypeDeposit, transaction.TypeWithdraw:
		req.Request.Amount = *amount
	case transaction.TypeLimitOrder:
		req.Request.Amount, req.Request.Price, req.Request.Side = *amount, *price, *side
		if *price == "" {
			req.Request.Price = "10"
		}
	case transaction.TypeMarketOrder:
		req.Request.Amount, req.Request.Side = *amount, *side
	default:
		fmt.Printf("Error: unknown request type %q\n", *typ)
		os.Exit(1)
	}

	// Step 3: Sign with EIP-712
	verifier := transaction.NewVerifier(crypto.DefaultDomain(*chainID))
	if err := verifier.Sign(signer, req); err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	if err := req.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	reqJSON, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Signed Request (JSON):")
	fmt.Println(string(reqJSON))
	fmt.Println()

	// Step 4: Verify signature
	recovered, err := verifier.Verify(req)
	if err != nil {
		fmt.Printf("✗ Signature INVALID: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())

	// Step 5: Show how to submit to API
	compact, _ := json.Marshal(req)
	fmt.Println("To submit:")
	fmt.Printf("  curl -X POST %s%s -H 'Content-Type: application/json' -d '%s'\n", *apiURL, endpoints[reqType], compact)
}

func loadSigner(hexKey string) (*crypto.Signer, error) {
	if hexKey == "" {
		fmt.Println("Generating new keypair...")
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(hexKey)
}
