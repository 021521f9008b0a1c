package engine

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

var amountPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ParseAmount converts a decimal-string amount into a non-negative
// arbitrary-precision integer counted in the asset's smallest unit,
// per spec §4.3:
//
//  1. reject a fractional tail longer than precision,
//  2. right-pad the fractional tail with zeros to exactly precision
//     digits,
//  3. concatenate integer and padded-fraction parts and parse as a
//     big.Int.
func ParseAmount(amount string, precision int) (*big.Int, error) {
	if !amountPattern.MatchString(amount) {
		return nil, fmt.Errorf("%w: %q is not a valid decimal amount", ErrInvalidAmount, amount)
	}

	intPart, fracPart, _ := strings.Cut(amount, ".")
	if len(fracPart) > precision {
		return nil, fmt.Errorf("%w: fractional part %q longer than asset precision %d", ErrPrecisionExceeded, fracPart, precision)
	}
	fracPart += strings.Repeat("0", precision-len(fracPart))

	combined := intPart + fracPart
	value, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("%w: could not parse %q as an integer", ErrInvalidAmount, combined)
	}
	return value, nil
}

// FormatBalance renders a smallest-unit integer as its decimal string
// form for storage (balances are stored as the plain smallest-unit
// integer, not rescaled by precision — precision only matters when
// parsing a human-supplied amount).
func FormatBalance(v *big.Int) string {
	return v.String()
}

// ParseBalance parses a stored balance amount (a plain non-negative
// integer string) back into a big.Int.
func ParseBalance(amount string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: stored balance %q is not an integer", ErrInvalidAmount, amount)
	}
	return value, nil
}
