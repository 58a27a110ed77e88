// pkg/types/amount.go
package types

import (
	"fmt"
	"math/big"
)

// Zero returns a fresh zero amount.
func Zero() *big.Int {
	return new(big.Int)
}

// Scale converts a whole-unit amount into base units: amount * 10^decimals.
func Scale(amount *big.Int, decimals uint8) *big.Int {
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Int).Mul(amount, factor)
}

// IsPositive reports whether amount is non-nil and greater than zero.
func IsPositive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// ParseAmount parses a base-10 integer amount.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}
