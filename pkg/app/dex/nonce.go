package dex

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type nonceCtxKey struct{}

type requestNonce struct {
	trader common.Address
	value  uint64
}

// WithNonce attaches a signed request's nonce to ctx
// Every batch an operation writes under ctx also records the nonce, so once
// the operation's effects are durable the request cannot be replayed, even
// across a restart. Operations that succeed without changing state still
// write the nonce on its own.
func WithNonce(ctx context.Context, trader common.Address, nonce uint64) context.Context {
	return context.WithValue(ctx, nonceCtxKey{}, requestNonce{trader: trader, value: nonce})
}

func nonceFrom(ctx context.Context) (requestNonce, bool) {
	n, ok := ctx.Value(nonceCtxKey{}).(requestNonce)
	return n, ok
}
