// Package helpers provides small utilities shared by the CLI and the swap core.
package helpers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrAmountOverflow = errors.New("amount overflows int64")
)

// FormatAmount renders a value in base units (satoshis) as a decimal coin
// amount with trailing zeros trimmed, e.g. FormatAmount(150000000, 8) is "1.5".
func FormatAmount(value int64, decimals uint8) string {
	return decimal.New(value, -int32(decimals)).String()
}

// ParseAmount converts a decimal coin amount into base units. Amounts that
// do not land on a whole base unit are rejected rather than rounded; a swap
// value must be exact. Signs and exponents are not accepted.
func ParseAmount(s string, decimals uint8) (int64, error) {
	s = strings.TrimSpace(s)
	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if (wholeStr == "" && fracStr == "") || !isDigits(wholeStr) || !isDigits(fracStr) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if wholeStr == "" {
		wholeStr = "0"
	}
	if fracStr == "" {
		fracStr = "0"
	}

	d, err := decimal.NewFromString(wholeStr + "." + fracStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	units := d.Shift(int32(decimals))
	if !units.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, decimals)
	}
	n := units.BigInt()
	if !n.IsInt64() {
		return 0, fmt.Errorf("%w: %q", ErrAmountOverflow, s)
	}
	return n.Int64(), nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
