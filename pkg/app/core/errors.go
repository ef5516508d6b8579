package core

import "errors"

// Engine errors. Every one of them aborts the operation that returned it
// without touching ledger, book or storage state.
var (
	ErrUnauthorized                  = errors.New("unauthorized")
	ErrDuplicateTicker               = errors.New("ticker already registered")
	ErrUnknownTicker                 = errors.New("this token does not exist")
	ErrCannotTradeSettlementAsset    = errors.New("can not trade settlement asset")
	ErrInsufficientTokenBalance      = errors.New("token balance too low")
	ErrInsufficientSettlementBalance = errors.New("settlement balance too low")
	ErrInsufficientBalance           = errors.New("balance too low")

	ErrInvalidTicker   = errors.New("invalid ticker")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrInvalidSide     = errors.New("invalid side")
	ErrAmountOverflow  = errors.New("amount overflows 256 bits")
	ErrTransferRefused = errors.New("external transfer refused")

	// ErrTransferPending means a transfer was handed to the token but its
	// outcome was never observed. Ledger effects already committed are kept.
	ErrTransferPending = errors.New("external transfer outcome unknown")
)
