package asset

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/uhyunpark/ledgerdex/pkg/app/core"
)

// TickerLength is the fixed width of a ticker, matching a bytes32 symbol
const TickerLength = 32

// Ticker is a fixed-width asset symbol
// Shorter symbols are right-padded with zero bytes
type Ticker [TickerLength]byte

// ParseTicker converts a symbol like "DAI" into a Ticker
func ParseTicker(s string) (Ticker, error) {
	var t Ticker
	if len(s) == 0 || len(s) > TickerLength {
		return t, fmt.Errorf("%w: %q", core.ErrInvalidTicker, s)
	}
	copy(t[:], s)
	return t, nil
}

// MustTicker is ParseTicker for constants and tests
func MustTicker(s string) Ticker {
	t, err := ParseTicker(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TickerFromHex decodes the 64-char hex form used in storage keys
func TickerFromHex(s string) (Ticker, error) {
	var t Ticker
	b, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("%w: %v", core.ErrInvalidTicker, err)
	}
	if len(b) != TickerLength {
		return t, fmt.Errorf("%w: hex length %d", core.ErrInvalidTicker, len(b))
	}
	copy(t[:], b)
	return t, nil
}

// String returns the symbol without zero padding
func (t Ticker) String() string {
	return string(bytes.TrimRight(t[:], "\x00"))
}

// Hex returns the full 32-byte value as lowercase hex
func (t Ticker) Hex() string {
	return hex.EncodeToString(t[:])
}

func (t Ticker) IsZero() bool {
	return t == Ticker{}
}

// Compare orders tickers bytewise
func (t Ticker) Compare(o Ticker) int {
	return bytes.Compare(t[:], o[:])
}

func (t Ticker) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Ticker) UnmarshalText(b []byte) error {
	parsed, err := ParseTicker(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
