package archive

import (
	"math/big"
	"strings"
)

// FormatDecimal renders unscaled * 10^-scale without loss, e.g. (12345, 2)
// -> "123.45" and (-5, 3) -> "-0.005".
func FormatDecimal(unscaled *big.Int, scale int32) string {
	if scale <= 0 {
		mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-scale)), nil)
		return new(big.Int).Mul(unscaled, mul).String()
	}
	digits := new(big.Int).Abs(unscaled).String()
	if pad := int(scale) + 1 - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	cut := len(digits) - int(scale)
	out := digits[:cut] + "." + digits[cut:]
	if unscaled.Sign() < 0 {
		out = "-" + out
	}
	return out
}
